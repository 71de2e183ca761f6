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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// commitOn adds a commit changing README.md on a new branch of origin and
// returns its hash, leaving origin on main.
func commitOn(t *testing.T, repo *git.Repository, dir, branch, content string) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(branch), Create: true}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte(content), 0o644))
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	hash, err := wt.Commit("change on "+branch, &git.CommitOptions{Author: testSig, Committer: testSig})
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Branch: plumbing.Main}))
	return hash
}

func TestCheckoutRemoteBranch(t *testing.T) {
	origin, originRepo := initOrigin(t)
	commitOn(t, originRepo, origin, "dev", "dev\n")

	c := NewClient(slog.Default())
	dst := filepath.Join(t.TempDir(), "repo")
	repo, err := c.Clone(context.Background(), origin, dst, "")
	require.NoError(t, err)

	require.NoError(t, c.Checkout(context.Background(), repo, "dev", ""))
	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, plumbing.NewBranchReferenceName("dev"), head.Name())

	data, err := os.ReadFile(filepath.Join(dst, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "dev\n", string(data))

	// back to an existing local branch
	require.NoError(t, c.Checkout(context.Background(), repo, "refs/heads/main", ""))
	data, err = os.ReadFile(filepath.Join(dst, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestCheckoutPullRequestRef(t *testing.T) {
	origin, originRepo := initOrigin(t)
	hash := commitOn(t, originRepo, origin, "contributor", "from a fork\n")
	require.NoError(t, originRepo.Storer.SetReference(
		plumbing.NewHashReference(plumbing.ReferenceName("refs/pull/3/head"), hash)))

	c := NewClient(slog.Default())
	dst := filepath.Join(t.TempDir(), "repo")
	repo, err := c.Clone(context.Background(), origin, dst, "")
	require.NoError(t, err)

	require.NoError(t, c.Checkout(context.Background(), repo, "refs/pull/3/head", ""))
	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, hash, head.Hash())
	assert.False(t, head.Name().IsBranch())
}

func TestCheckoutUnknownRef(t *testing.T) {
	origin, _ := initOrigin(t)
	c := NewClient(slog.Default())
	repo, err := c.Clone(context.Background(), origin, filepath.Join(t.TempDir(), "repo"), "")
	require.NoError(t, err)

	assert.Error(t, c.Checkout(context.Background(), repo, "no-such-branch", ""))
}

func TestCloneMissingSource(t *testing.T) {
	c := &Client{Logger: slog.Default(), RetryDelay: time.Millisecond}
	_, err := c.Clone(context.Background(), filepath.Join(t.TempDir(), "missing"), filepath.Join(t.TempDir(), "dst"), "")
	assert.Error(t, err)
}

func TestRetryStopsOnCancel(t *testing.T) {
	c := &Client{Logger: slog.Default(), RetryDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := c.retry(ctx, "test", func() error {
		calls++
		cancel()
		return assert.AnError
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestAuth(t *testing.T) {
	assert.Nil(t, Auth(""))
	assert.NotNil(t, Auth("tok"))
}
