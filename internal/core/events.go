package core

import (
	"fmt"
	"strings"

	"github.com/google/go-github/v73/github"
)

// RepoRef holds the coordinates of a repository. LocalPath is set instead
// of CloneURL when the repository lives on the worker's filesystem.
type RepoRef struct {
	Owner     string `json:"owner"`
	Name      string `json:"name"`
	Ref       string `json:"ref,omitempty"`
	CloneURL  string `json:"clone_url,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
}

// FullName returns "owner/name".
func (r RepoRef) FullName() string {
	return r.Owner + "/" + r.Name
}

// Trigger is the context a Job was created from.
type Trigger struct {
	Repo           RepoRef `json:"repo"`
	Actor          string  `json:"actor"`
	IssueNumber    int     `json:"issue_number,omitempty"`
	CommentID      int64   `json:"comment_id,omitempty"`
	InstallationID int64   `json:"installation_id,omitempty"`
}

// TriggerEvent is an authenticated inbound trigger, before it is routed.
type TriggerEvent struct {
	Trigger
	Message     string
	Association string
}

// PullRequestRef is the ref a pull request's head is published under.
func PullRequestRef(number int) string {
	return fmt.Sprintf("refs/pull/%d/head", number)
}

// EventFromIssueComment transforms a raw GitHub IssueCommentEvent into a
// TriggerEvent. It acts as an anti-corruption layer: only newly created
// comments with complete repository and author data get through. Whether the
// comment is a command is decided by the router.
func EventFromIssueComment(event *github.IssueCommentEvent) (*TriggerEvent, error) {
	if event.GetAction() != "created" {
		return nil, fmt.Errorf("comment action %q is not handled", event.GetAction())
	}

	repo := event.GetRepo()
	if repo == nil || repo.GetOwner() == nil || repo.GetOwner().GetLogin() == "" || repo.GetName() == "" {
		return nil, fmt.Errorf("repository or owner information is missing from the event")
	}

	if event.GetComment().GetUser() == nil || event.GetComment().GetUser().GetLogin() == "" {
		return nil, fmt.Errorf("commenter information is missing from the event")
	}

	number := event.GetIssue().GetNumber()
	if number <= 0 {
		return nil, fmt.Errorf("invalid issue number: %d", number)
	}

	ref := repo.GetDefaultBranch()
	if event.GetIssue().IsPullRequest() {
		ref = PullRequestRef(number)
	}

	return &TriggerEvent{
		Trigger: Trigger{
			Repo: RepoRef{
				Owner:    repo.GetOwner().GetLogin(),
				Name:     repo.GetName(),
				Ref:      ref,
				CloneURL: repo.GetCloneURL(),
			},
			Actor:          event.GetComment().GetUser().GetLogin(),
			IssueNumber:    number,
			CommentID:      event.GetComment().GetID(),
			InstallationID: event.GetInstallation().GetID(),
		},
		Message:     strings.TrimSpace(event.GetComment().GetBody()),
		Association: strings.ToUpper(event.GetComment().GetAuthorAssociation()),
	}, nil
}
