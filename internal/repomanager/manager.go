// Package repomanager materializes the checkouts a job executes against.
// Every job gets its own directory so concurrent jobs on the same repository
// never share a working tree.
package repomanager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/internal/gitutil"
)

const cloneTimeout = 5 * time.Minute

var unsafeDirChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Manager prepares per-job workspaces.
type Manager interface {
	Prepare(ctx context.Context, jobID string, repo core.RepoRef, token string) (*Workspace, error)
	// Attach wraps an existing checkout at dir without copying it. Only the
	// scratch directory for script clones is removed on Close.
	Attach(jobID, dir string, repo core.RepoRef, token string) (*Workspace, error)
}

// Option customizes a manager.
type Option func(*manager)

// WithCloneURL overrides how "owner/name" coordinates given to git.clone are
// turned into a clone URL.
func WithCloneURL(fn func(owner, name string) string) Option {
	return func(m *manager) { m.cloneURL = fn }
}

type manager struct {
	workDir   string
	gitClient *gitutil.Client
	logger    *slog.Logger
	cloneURL  func(owner, name string) string

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates a Manager rooted at workDir.
func New(workDir string, gitClient *gitutil.Client, logger *slog.Logger, opts ...Option) Manager {
	m := &manager{
		workDir:   workDir,
		gitClient: gitClient,
		logger:    logger,
		cloneURL:  gitutil.GitHubCloneURL,
		active:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Prepare clones repo into a fresh directory for jobID and checks out its ref.
// The returned workspace must be closed to remove the directory.
func (m *manager) Prepare(ctx context.Context, jobID string, repo core.RepoRef, token string) (*Workspace, error) {
	source := repo.CloneURL
	if repo.LocalPath != "" {
		source = repo.LocalPath
	}
	if source == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, repo.FullName())
	}

	ws, err := m.newWorkspace(jobID, repo, token)
	if err != nil {
		return nil, err
	}
	ws.Dir = filepath.Join(ws.base, "repo")

	cloneCtx, cancel := context.WithTimeout(ctx, cloneTimeout)
	defer cancel()

	gitRepo, err := m.gitClient.Clone(cloneCtx, source, ws.Dir, token)
	if err != nil {
		ws.Close()
		return nil, err
	}
	if err := m.gitClient.Checkout(cloneCtx, gitRepo, repo.Ref, token); err != nil {
		ws.Close()
		return nil, err
	}
	m.logger.Info("workspace prepared", "job_id", jobID, "repo", repo.FullName(), "ref", repo.Ref, "path", ws.Dir)
	return ws, nil
}

func (m *manager) Attach(jobID, dir string, repo core.RepoRef, token string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if _, err := m.gitClient.Open(abs); err != nil {
		return nil, err
	}
	ws, err := m.newWorkspace(jobID, repo, token)
	if err != nil {
		return nil, err
	}
	ws.Dir = abs
	return ws, nil
}

// newWorkspace claims the directory for jobID. A directory no live workspace
// owns is left over from an attempt whose worker died, so it is removed before
// the job runs again.
func (m *manager) newWorkspace(jobID string, repo core.RepoRef, token string) (*Workspace, error) {
	base := filepath.Join(m.workDir, unsafeDirChars.ReplaceAllString(
		fmt.Sprintf("%s_%s_%s", repo.Owner, repo.Name, jobID), "_"))

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[base]; ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceInUse, base)
	}
	if _, err := os.Stat(base); err == nil {
		m.logger.Warn("removing leftover workspace", "job_id", jobID, "path", base)
		if err := os.RemoveAll(base); err != nil {
			return nil, fmt.Errorf("failed to remove leftover workspace: %w", err)
		}
	}
	if err := os.MkdirAll(base, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}
	m.active[base] = struct{}{}
	return &Workspace{
		Repo:     repo,
		Token:    token,
		base:     base,
		m:        m,
		clones:   make(map[string]core.RepoHandle),
		cloneMux: &sync.Mutex{},
	}, nil
}

func (m *manager) release(base string) {
	m.cleanupDir(base)
	m.mu.Lock()
	delete(m.active, base)
	m.mu.Unlock()
}

func (m *manager) cleanupDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		m.logger.Warn("failed to clean up workspace directory", "path", path, "error", err)
	}
}
