package gitutil

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/ci-script/internal/core"
)

var testSig = &object.Signature{Name: "test", Email: "test@example.com", When: time.Unix(1700000000, 0)}

// initOrigin creates a repository on main with README.md and src/main.go.
func initOrigin(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.go"), []byte("package main\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.AddWithOptions(&git.AddOptions{All: true}))
	_, err = wt.Commit("initial", &git.CommitOptions{Author: testSig, Committer: testSig})
	require.NoError(t, err)
	return dir, repo
}

func cloneHandle(t *testing.T, origin string, opts HandleOptions) *Handle {
	t.Helper()
	dst := filepath.Join(t.TempDir(), "checkout")
	c := NewClient(slog.Default())
	_, err := c.Clone(context.Background(), origin, dst, "")
	require.NoError(t, err)

	h, err := OpenHandle(dst, core.RepoRef{Owner: "org", Name: "repo", Ref: "main"}, opts)
	require.NoError(t, err)
	return h
}

func TestHandleReadWriteStatus(t *testing.T) {
	origin, _ := initOrigin(t)
	h := cloneHandle(t, origin, HandleOptions{})

	data, err := h.Read("README.md")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	require.NoError(t, h.Write("README.md", []byte("changed\n")))
	require.NoError(t, h.Write("docs/new.md", []byte("new\n")))
	require.NoError(t, os.Remove(filepath.Join(h.Root(), "src", "main.go")))

	status, err := h.Status()
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, status.Changed)
	assert.Equal(t, []string{"docs/new.md"}, status.Added)
	assert.Equal(t, []string{"src/main.go"}, status.Removed)
}

func TestHandleRejectsEscapingPaths(t *testing.T) {
	origin, _ := initOrigin(t)
	h := cloneHandle(t, origin, HandleOptions{})

	for _, p := range []string{"../outside.txt", "a/../../outside.txt", ".git/config", "./.git/HEAD"} {
		t.Run(p, func(t *testing.T) {
			_, err := h.Read(p)
			assert.ErrorIs(t, err, ErrOutsideRoot)
			assert.ErrorIs(t, h.Write(p, []byte("x")), ErrOutsideRoot)
		})
	}
	_, err := os.Stat(filepath.Join(filepath.Dir(h.Root()), "outside.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestHandleListFiles(t *testing.T) {
	origin, _ := initOrigin(t)
	h := cloneHandle(t, origin, HandleOptions{})

	all, err := h.ListFiles("")
	require.NoError(t, err)
	assert.Equal(t, []core.FileEntry{
		{Path: "README.md", IsFile: true},
		{Path: "src", IsDir: true},
		{Path: "src/main.go", IsFile: true},
	}, all)

	sub, err := h.ListFiles("src")
	require.NoError(t, err)
	assert.Equal(t, []core.FileEntry{{Path: "src/main.go", IsFile: true}}, sub)
}

func TestHandleBranchCommitPush(t *testing.T) {
	origin, originRepo := initOrigin(t)
	h := cloneHandle(t, origin, HandleOptions{Committer: core.Committer{Name: "bot", Email: "bot@example.com"}})
	ctx := context.Background()

	branch, err := h.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	require.NoError(t, h.Write("README.md", []byte("formatted\n")))
	require.NoError(t, h.Branch("fmt-fixes"))
	branch, err = h.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "fmt-fixes", branch)

	// the edit survives the branch switch
	status, err := h.Status()
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, status.Changed)

	require.NoError(t, h.Stage("README.md"))
	hash, err := h.Commit("apply formatting")
	require.NoError(t, err)
	assert.Len(t, hash, 40)

	status, err = h.Status()
	require.NoError(t, err)
	assert.Empty(t, status.Changed)

	diff, err := h.Diff("main", hash)
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, diff.Changed)

	require.NoError(t, h.Push(ctx, "fmt-fixes", ""))
	ref, err := originRepo.Reference(plumbing.NewBranchReferenceName("fmt-fixes"), true)
	require.NoError(t, err)
	assert.Equal(t, hash, ref.Hash().String())

	commit, err := originRepo.CommitObject(ref.Hash())
	require.NoError(t, err)
	assert.Equal(t, "bot", commit.Author.Name)

	// pushing again is a no-op
	require.NoError(t, h.Push(ctx, "fmt-fixes", "fmt-fixes"))
}

func TestHandleCommitRequiresMessage(t *testing.T) {
	origin, _ := initOrigin(t)
	h := cloneHandle(t, origin, HandleOptions{})
	_, err := h.Commit("  ")
	assert.Error(t, err)
}

type fakeForge struct {
	owner, repo string
	spec        core.PullRequestSpec
}

func (f *fakeForge) CreatePullRequest(_ context.Context, owner, repo string, spec core.PullRequestSpec) (*core.PullRequest, error) {
	f.owner, f.repo, f.spec = owner, repo, spec
	return &core.PullRequest{Number: 12, URL: "https://github.com/org/repo/pull/12"}, nil
}

func TestHandleCreatePullRequest(t *testing.T) {
	origin, _ := initOrigin(t)
	spec := core.PullRequestSpec{Title: "fmt", Head: "fmt-fixes", Base: "main"}

	t.Run("without forge", func(t *testing.T) {
		h := cloneHandle(t, origin, HandleOptions{})
		_, err := h.CreatePullRequest(context.Background(), spec)
		assert.Error(t, err)
	})

	t.Run("with forge", func(t *testing.T) {
		forge := &fakeForge{}
		h := cloneHandle(t, origin, HandleOptions{Forge: forge})
		pr, err := h.CreatePullRequest(context.Background(), spec)
		require.NoError(t, err)
		assert.Equal(t, 12, pr.Number)
		assert.Equal(t, "org", forge.owner)
		assert.Equal(t, "repo", forge.repo)
		assert.Equal(t, spec, forge.spec)
	})

	t.Run("missing base", func(t *testing.T) {
		h := cloneHandle(t, origin, HandleOptions{Forge: &fakeForge{}})
		_, err := h.CreatePullRequest(context.Background(), core.PullRequestSpec{Title: "x", Head: "y"})
		assert.Error(t, err)
	})
}
