// Package github provides functionality for interacting with the GitHub API.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v73/github"
	"golang.org/x/oauth2"

	"github.com/sevigo/ci-script/internal/core"
)

// Client defines the forge operations the router, the worker and scripts need.
//
//go:generate mockgen -destination=../../mocks/mock_github_client.go -package=mocks . Client,ClientFactory
type Client interface {
	CreateComment(ctx context.Context, owner, repo string, number int, body string) error
	CreatePullRequest(ctx context.Context, owner, repo string, spec core.PullRequestSpec) (*core.PullRequest, error)
	// FileExists reports whether path exists at ref. A 404 is not an error.
	FileExists(ctx context.Context, owner, repo, path, ref string) (bool, error)
	GetRepository(ctx context.Context, owner, repo string) (*github.Repository, error)
}

type gitHubClient struct {
	client *github.Client
	logger *slog.Logger
}

// NewGitHubClient wraps the official go-github client to provide a focused,
// testable interface for application-specific GitHub operations.
func NewGitHubClient(client *github.Client, logger *slog.Logger) Client {
	return &gitHubClient{client: client, logger: logger}
}

// NewPATClient creates a new GitHub client authenticated with a Personal Access Token (PAT).
// This is useful for CLI tools or local development where an App installation is not available.
func NewPATClient(ctx context.Context, token string, logger *slog.Logger) Client {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)
	return &gitHubClient{client: github.NewClient(tc), logger: logger}
}

// CreateComment creates a new comment on an issue or pull request.
func (g *gitHubClient) CreateComment(ctx context.Context, owner, repo string, number int, body string) error {
	comment := &github.IssueComment{Body: &body}
	_, _, err := g.client.Issues.CreateComment(ctx, owner, repo, number, comment)
	if err != nil {
		g.logger.Error("failed to create comment", "owner", owner, "repo", repo, "issue", number, "error", err)
	}
	return err
}

// CreatePullRequest opens a pull request from spec.Head into spec.Base.
func (g *gitHubClient) CreatePullRequest(ctx context.Context, owner, repo string, spec core.PullRequestSpec) (*core.PullRequest, error) {
	pr, _, err := g.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.Ptr(spec.Title),
		Body:  github.Ptr(spec.Body),
		Head:  github.Ptr(spec.Head),
		Base:  github.Ptr(spec.Base),
	})
	if err != nil {
		g.logger.Error("failed to create pull request", "owner", owner, "repo", repo, "head", spec.Head, "base", spec.Base, "error", err)
		return nil, err
	}
	return &core.PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

// FileExists looks path up through the contents API.
func (g *gitHubClient) FileExists(ctx context.Context, owner, repo, path, ref string) (bool, error) {
	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}
	file, _, resp, err := g.client.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return false, nil
		}
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up %s in %s/%s: %w", path, owner, repo, err)
	}
	return file != nil && file.GetType() == "file", nil
}

// GetRepository retrieves repository metadata such as the default branch.
func (g *gitHubClient) GetRepository(ctx context.Context, owner, repo string) (*github.Repository, error) {
	r, _, err := g.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		g.logger.Error("failed to get repository", "owner", owner, "repo", repo, "error", err)
		return nil, err
	}
	return r, nil
}

// issue binds a Client to one issue or pull request conversation.
type issue struct {
	client Client
	owner  string
	repo   string
	number int
}

// NewIssue returns the core.Issue for number in owner/repo.
func NewIssue(client Client, owner, repo string, number int) core.Issue {
	return &issue{client: client, owner: owner, repo: repo, number: number}
}

func (i *issue) Number() int { return i.number }

func (i *issue) Comment(ctx context.Context, body string) error {
	return i.client.CreateComment(ctx, i.owner, i.repo, i.number, body)
}
