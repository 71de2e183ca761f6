package repomanager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/internal/gitutil"
)

// Workspace is one job's directory: the triggering repository's checkout at
// Dir plus any repositories the script clones itself.
type Workspace struct {
	Dir   string
	Repo  core.RepoRef
	Token string

	base     string
	m        *manager
	clones   map[string]core.RepoHandle
	cloneMux *sync.Mutex
}

// Open returns a handle over the workspace checkout.
func (w *Workspace) Open(opts gitutil.HandleOptions) (core.RepoHandle, error) {
	if opts.Token == "" {
		opts.Token = w.Token
	}
	return gitutil.OpenHandle(w.Dir, w.Repo, opts)
}

// Cloner returns the git.clone implementation for this workspace. Clones land
// under the workspace and are reused for the same repository.
func (w *Workspace) Cloner(opts gitutil.HandleOptions) core.Cloner {
	if opts.Token == "" {
		opts.Token = w.Token
	}
	return &cloner{ws: w, opts: opts}
}

// Close removes the workspace directory. An attached checkout is left in place.
func (w *Workspace) Close() {
	w.m.release(w.base)
}

type cloner struct {
	ws   *Workspace
	opts gitutil.HandleOptions
}

func (c *cloner) Clone(ctx context.Context, fullName, ref string) (core.RepoHandle, error) {
	owner, name, err := gitutil.ParseRepoFullName(fullName)
	if err != nil {
		return nil, err
	}

	c.ws.cloneMux.Lock()
	defer c.ws.cloneMux.Unlock()

	key := owner + "/" + name
	if h, ok := c.ws.clones[key]; ok {
		if ref != "" {
			if err := c.checkout(ctx, h.Root(), ref); err != nil {
				return nil, err
			}
		}
		return h, nil
	}

	coords := core.RepoRef{Owner: owner, Name: name, Ref: ref, CloneURL: c.ws.m.cloneURL(owner, name)}
	path := filepath.Join(c.ws.base, "clones", gitutil.SafeDirName(owner, name))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create clone directory: %w", err)
	}

	gitRepo, err := c.ws.m.gitClient.Clone(ctx, coords.CloneURL, path, c.opts.Token)
	if err != nil {
		c.ws.m.cleanupDir(path)
		return nil, err
	}
	if err := c.ws.m.gitClient.Checkout(ctx, gitRepo, ref, c.opts.Token); err != nil {
		c.ws.m.cleanupDir(path)
		return nil, err
	}

	h, err := gitutil.OpenHandle(path, coords, c.opts)
	if err != nil {
		return nil, err
	}
	c.ws.clones[key] = h
	return h, nil
}

func (c *cloner) checkout(ctx context.Context, path, ref string) error {
	gitRepo, err := c.ws.m.gitClient.Open(path)
	if err != nil {
		return err
	}
	return c.ws.m.gitClient.Checkout(ctx, gitRepo, ref, c.opts.Token)
}
