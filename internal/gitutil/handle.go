package gitutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/sevigo/ci-script/internal/core"
)

// ErrOutsideRoot is returned for paths that resolve outside the checkout.
var ErrOutsideRoot = errors.New("path leads outside repository root")

// PullRequestCreator is the forge operation a handle needs.
type PullRequestCreator interface {
	CreatePullRequest(ctx context.Context, owner, repo string, spec core.PullRequestSpec) (*core.PullRequest, error)
}

// HandleOptions carries what a handle needs beyond the checkout itself.
type HandleOptions struct {
	Token     string
	Committer core.Committer
	Forge     PullRequestCreator
	Logger    *slog.Logger
}

// Handle implements core.RepoHandle over a go-git checkout.
type Handle struct {
	root   string
	fs     billy.Filesystem
	repo   *git.Repository
	coords core.RepoRef
	opts   HandleOptions
	differ *Client
}

var _ core.RepoHandle = (*Handle)(nil)

// OpenHandle opens the checkout at root.
func OpenHandle(root string, coords core.RepoRef, opts HandleOptions) (*Handle, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	repo, err := git.PlainOpen(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", abs, err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Committer.Name == "" {
		opts.Committer.Name = "ci-script"
	}
	if opts.Committer.Email == "" {
		opts.Committer.Email = "ci-script@localhost"
	}
	return &Handle{root: abs, fs: osfs.New(abs), repo: repo, coords: coords, opts: opts, differ: NewClient(opts.Logger)}, nil
}

func (h *Handle) Root() string { return h.root }

func (h *Handle) Coordinates() core.RepoRef { return h.coords }

// CurrentBranch returns the checked out branch, or "" when HEAD is detached.
func (h *Handle) CurrentBranch() (string, error) {
	head, err := h.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

func (h *Handle) Branch(name string) error {
	refName := plumbing.NewBranchReferenceName(name)
	if err := refName.Validate(); err != nil {
		return fmt.Errorf("invalid branch name %q: %w", name, err)
	}
	_, err := h.repo.Reference(refName, false)
	exists := err == nil

	wt, err := h.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: refName, Create: !exists, Keep: true}); err != nil {
		return fmt.Errorf("failed to switch to branch %s: %w", name, err)
	}
	return nil
}

// resolve maps a script supplied path onto the checkout, refusing anything
// that escapes the root or touches the git directory.
func (h *Handle) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(path))
	first := strings.SplitN(strings.TrimPrefix(clean, string(filepath.Separator)), string(filepath.Separator), 2)[0]
	if first == ".git" {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	if strings.Contains(filepath.ToSlash(path), "../") || path == ".." {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	full, err := securejoin.SecureJoin(h.root, path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrOutsideRoot, path, err)
	}
	return full, nil
}

func (h *Handle) Read(path string) ([]byte, error) {
	full, err := h.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func (h *Handle) Write(path string, data []byte) error {
	full, err := h.resolve(path)
	if err != nil {
		return err
	}
	if full == h.root {
		return fmt.Errorf("cannot write to repository root")
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", path, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil { //nolint:gosec // repository files are world readable
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ListFiles walks dir (the whole checkout when empty) and returns every entry
// except the git directory, in lexical order.
func (h *Handle) ListFiles(dir string) ([]core.FileEntry, error) {
	base := "."
	if dir != "" && dir != "." {
		full, err := h.resolve(dir)
		if err != nil {
			return nil, err
		}
		if base, err = filepath.Rel(h.root, full); err != nil {
			return nil, err
		}
	}

	entries := []core.FileEntry{}
	err := util.Walk(h.fs, base, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == base {
			return nil
		}
		if info.IsDir() && p == ".git" {
			return filepath.SkipDir
		}
		entries = append(entries, core.FileEntry{
			Path:      filepath.ToSlash(p),
			IsFile:    info.Mode().IsRegular(),
			IsDir:     info.IsDir(),
			IsSymlink: info.Mode()&os.ModeSymlink != 0,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	return entries, nil
}

// Stage adds path to the index. "." stages every change including removals.
func (h *Handle) Stage(path string) error {
	wt, err := h.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	if path == "." || path == "" {
		if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
			return fmt.Errorf("failed to stage all changes: %w", err)
		}
		return nil
	}
	if _, err := h.resolve(path); err != nil {
		return err
	}
	if _, err := wt.Add(filepath.ToSlash(filepath.Clean(path))); err != nil {
		return fmt.Errorf("failed to stage %s: %w", path, err)
	}
	return nil
}

func (h *Handle) Status() (*core.ChangeSet, error) {
	wt, err := h.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to compute status: %w", err)
	}

	set := &core.ChangeSet{Changed: []string{}, Added: []string{}, Removed: []string{}}
	for path, fs := range status {
		switch {
		case fs.Staging == git.Untracked || fs.Worktree == git.Untracked || fs.Staging == git.Added:
			set.Added = append(set.Added, path)
		case fs.Staging == git.Deleted || fs.Worktree == git.Deleted:
			set.Removed = append(set.Removed, path)
		case fs.Staging != git.Unmodified || fs.Worktree != git.Unmodified:
			set.Changed = append(set.Changed, path)
		}
	}
	sort.Strings(set.Changed)
	sort.Strings(set.Added)
	sort.Strings(set.Removed)
	return set, nil
}

// Diff compares two revisions of the checkout.
func (h *Handle) Diff(from, to string) (*core.ChangeSet, error) {
	return h.differ.Diff(h.repo, from, to)
}

func (h *Handle) Commit(message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("commit message must not be empty")
	}
	wt, err := h.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}
	sig := &object.Signature{Name: h.opts.Committer.Name, Email: h.opts.Committer.Email, When: time.Now()}
	hash, err := wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return hash.String(), nil
}

// Push publishes localBranch to remoteBranch on origin. An empty remoteBranch
// pushes to the branch of the same name.
func (h *Handle) Push(ctx context.Context, localBranch, remoteBranch string) error {
	if localBranch == "" {
		return fmt.Errorf("local branch is required")
	}
	if remoteBranch == "" {
		remoteBranch = localBranch
	}
	spec := config.RefSpec(fmt.Sprintf("%s:%s",
		plumbing.NewBranchReferenceName(localBranch), plumbing.NewBranchReferenceName(remoteBranch)))
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid push refspec %s: %w", spec, err)
	}

	h.opts.Logger.InfoContext(ctx, "pushing branch", "local", localBranch, "remote", remoteBranch)
	err := h.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{spec},
		Auth:       Auth(h.opts.Token),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to push %s to %s: %w", localBranch, remoteBranch, err)
	}
	return nil
}

func (h *Handle) CreatePullRequest(ctx context.Context, spec core.PullRequestSpec) (*core.PullRequest, error) {
	if h.opts.Forge == nil {
		return nil, fmt.Errorf("no forge client available for %s", h.coords.FullName())
	}
	if spec.Title == "" || spec.Head == "" || spec.Base == "" {
		return nil, fmt.Errorf("pull request needs title, head and base")
	}
	return h.opts.Forge.CreatePullRequest(ctx, h.coords.Owner, h.coords.Name, spec)
}
