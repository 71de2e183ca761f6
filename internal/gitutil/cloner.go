// Package gitutil provides a client for working with Git repositories and the
// repository handle scripts operate on.
package gitutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/sevigo/ci-script/internal/core"
)

const (
	maxRetries = 3
	baseDelay  = 2 * time.Second
)

// Client handles interacting with Git repositories.
type Client struct {
	Logger *slog.Logger
	// RetryDelay overrides the first backoff step. Zero means baseDelay.
	RetryDelay time.Duration
}

// NewClient returns a new Client instance.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{Logger: logger}
}

// Auth returns the HTTP credentials for token, or nil for anonymous and local access.
func Auth(token string) transport.AuthMethod {
	if token == "" {
		return nil
	}
	return &http.BasicAuth{Username: "x-access-token", Password: token}
}

// Open opens a Git repository at a given path.
func (c *Client) Open(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", path, err)
	}
	return repo, nil
}

// Clone clones repoURL into path. repoURL may be a local path.
func (c *Client) Clone(ctx context.Context, repoURL, path, token string) (*git.Repository, error) {
	c.Logger.InfoContext(ctx, "cloning repository", "url", repoURL, "path", path)

	var repo *git.Repository
	err := c.retry(ctx, "clone", func() error {
		var cloneErr error
		repo, cloneErr = git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
			URL:  repoURL,
			Auth: Auth(token),
		})
		if cloneErr != nil && errors.Is(cloneErr, git.ErrRepositoryAlreadyExists) {
			return &permanentError{cloneErr}
		}
		return cloneErr
	})
	if err != nil {
		return nil, fmt.Errorf("git clone failed: %w", err)
	}
	return repo, nil
}

// Fetch fetches refSpecs from the 'origin' remote.
func (c *Client) Fetch(ctx context.Context, repo *git.Repository, token string, refSpecs ...string) error {
	c.Logger.InfoContext(ctx, "fetching from origin", "refspecs", refSpecs)

	specs := make([]config.RefSpec, 0, len(refSpecs))
	for _, s := range refSpecs {
		specs = append(specs, config.RefSpec(s))
	}

	err := c.retry(ctx, "fetch", func() error {
		fetchErr := repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: "origin",
			RefSpecs:   specs,
			Auth:       Auth(token),
			Force:      true,
		})
		if errors.Is(fetchErr, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return fetchErr
	})
	if err != nil {
		return fmt.Errorf("git fetch failed: %w", err)
	}
	return nil
}

// Checkout moves the worktree to ref. Branch names become local branches
// tracking origin, pull request refs are fetched and checked out detached,
// and anything else is resolved as a revision.
func (c *Client) Checkout(ctx context.Context, repo *git.Repository, ref, token string) error {
	if ref == "" {
		return nil
	}
	c.Logger.InfoContext(ctx, "checking out ref", "ref", ref)

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}

	if strings.HasPrefix(ref, "refs/pull/") {
		if err := c.Fetch(ctx, repo, token, fmt.Sprintf("+%s:%s", ref, ref)); err != nil {
			return err
		}
		target, err := repo.Reference(plumbing.ReferenceName(ref), true)
		if err != nil {
			return fmt.Errorf("fetched ref %s is missing: %w", ref, err)
		}
		return checkout(wt, &git.CheckoutOptions{Hash: target.Hash(), Force: true}, ref)
	}

	branch := strings.TrimPrefix(ref, "refs/heads/")
	if head, err := repo.Head(); err == nil && head.Name() == plumbing.NewBranchReferenceName(branch) {
		return nil
	}
	if local, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true); err == nil {
		return checkout(wt, &git.CheckoutOptions{Branch: local.Name(), Force: true}, ref)
	}
	if remote, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true); err == nil {
		return checkout(wt, &git.CheckoutOptions{
			Branch: plumbing.NewBranchReferenceName(branch),
			Hash:   remote.Hash(),
			Create: true,
			Force:  true,
		}, ref)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return fmt.Errorf("cannot resolve ref %s: %w", ref, err)
	}
	return checkout(wt, &git.CheckoutOptions{Hash: *hash, Force: true}, ref)
}

func checkout(wt *git.Worktree, opts *git.CheckoutOptions, ref string) error {
	if err := wt.Checkout(opts); err != nil {
		return fmt.Errorf("git checkout %s failed: %w", ref, err)
	}
	return nil
}

// Diff calculates the difference between two revisions in an open repository.
func (c *Client) Diff(repo *git.Repository, from, to string) (*core.ChangeSet, error) {
	oldTree, err := treeAt(repo, from)
	if err != nil {
		return nil, err
	}
	newTree, err := treeAt(repo, to)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTree(oldTree, newTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees between %s and %s: %w", from, to, err)
	}

	set := &core.ChangeSet{Changed: []string{}, Added: []string{}, Removed: []string{}}
	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			c.Logger.Error("failed to get action for change, skipping", "error", err)
			continue
		}

		switch action {
		case merkletrie.Insert:
			set.Added = append(set.Added, change.To.Name)
		case merkletrie.Modify:
			set.Changed = append(set.Changed, change.To.Name)
		case merkletrie.Delete:
			set.Removed = append(set.Removed, change.From.Name)
		}
	}
	return set, nil
}

func treeAt(repo *git.Repository, rev string) (*object.Tree, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve revision %s: %w", rev, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit object for %s: %w", rev, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree for %s: %w", rev, err)
	}
	return tree, nil
}

// permanentError stops retry early.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// retry runs fn with exponential backoff for transient errors (e.g. 500 Internal Server Error).
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	delay := c.RetryDelay
	if delay <= 0 {
		delay = baseDelay
	}

	var err error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			wait := delay * time.Duration(1<<(i-1))
			c.Logger.WarnContext(ctx, "git "+op+" failed, retrying",
				"attempt", i,
				"max_retries", maxRetries,
				"delay", wait,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) || errors.Is(err, transport.ErrAuthenticationRequired) ||
			errors.Is(err, transport.ErrRepositoryNotFound) || errors.Is(err, transport.ErrAuthorizationFailed) {
			return err
		}
	}
	return err
}
