package core

import "context"

// FileEntry is one entry of a repository listing. Path is relative to the
// repository root and always uses forward slashes.
type FileEntry struct {
	Path      string `json:"path"`
	IsFile    bool   `json:"isFile"`
	IsDir     bool   `json:"isDir"`
	IsSymlink bool   `json:"isSymlink"`
}

// ChangeSet is the working tree state relative to HEAD.
type ChangeSet struct {
	Changed []string `json:"changed"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// PullRequestSpec describes a pull request to open.
type PullRequestSpec struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
}

// PullRequest identifies an opened pull request.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// RepoHandle is the capability surface a script gets over one checkout.
// A handle belongs to a single execution and is never shared.
type RepoHandle interface {
	Root() string
	Coordinates() RepoRef
	CurrentBranch() (string, error)
	// Branch switches to name, creating it from HEAD when missing.
	// Uncommitted changes are carried over.
	Branch(name string) error
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	ListFiles(dir string) ([]FileEntry, error)
	Stage(path string) error
	// Status is computed from the working tree on every call.
	Status() (*ChangeSet, error)
	// Diff compares the trees of two committed revisions.
	Diff(from, to string) (*ChangeSet, error)
	Commit(message string) (string, error)
	Push(ctx context.Context, localBranch, remoteBranch string) error
	CreatePullRequest(ctx context.Context, spec PullRequestSpec) (*PullRequest, error)
}

// Cloner materializes additional repositories during one execution.
type Cloner interface {
	Clone(ctx context.Context, fullName, ref string) (RepoHandle, error)
}

// Issue is the issue or pull request conversation a job was triggered from.
type Issue interface {
	Number() int
	Comment(ctx context.Context, body string) error
}
