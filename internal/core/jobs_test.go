package core

import (
	"testing"
	"time"

	"github.com/google/go-github/v73/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckLease(t *testing.T) {
	expiry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	leased := &Job{ID: "j1", State: JobLeased, WorkerID: "w1", LeaseEpoch: 2, LeaseExpiresAt: expiry}

	tests := []struct {
		name    string
		job     *Job
		lease   Lease
		wantErr error
	}{
		{
			name:  "current lease",
			job:   leased,
			lease: Lease{JobID: "j1", WorkerID: "w1", Epoch: 2},
		},
		{
			name:  "expired but not reaped is still honoured",
			job:   leased,
			lease: Lease{JobID: "j1", WorkerID: "w1", Epoch: 2, ExpiresAt: expiry.Add(-time.Hour)},
		},
		{
			name:    "older epoch",
			job:     leased,
			lease:   Lease{JobID: "j1", WorkerID: "w1", Epoch: 1},
			wantErr: ErrStaleAcknowledgment,
		},
		{
			name:    "other worker",
			job:     leased,
			lease:   Lease{JobID: "j1", WorkerID: "w2", Epoch: 2},
			wantErr: ErrStaleAcknowledgment,
		},
		{
			name:    "requeued after expiry",
			job:     &Job{ID: "j1", State: JobQueued, LeaseEpoch: 2},
			lease:   Lease{JobID: "j1", WorkerID: "w1", Epoch: 2},
			wantErr: ErrStaleAcknowledgment,
		},
		{
			name:    "never leased",
			job:     &Job{ID: "j1", State: JobQueued},
			lease:   Lease{JobID: "j1", WorkerID: "w1", Epoch: 1},
			wantErr: ErrLeaseNotFound,
		},
		{
			name:    "future epoch",
			job:     leased,
			lease:   Lease{JobID: "j1", WorkerID: "w1", Epoch: 3},
			wantErr: ErrLeaseNotFound,
		},
		{
			name:    "terminal",
			job:     &Job{ID: "j1", State: JobCompleted, LeaseEpoch: 2, WorkerID: "w1"},
			lease:   Lease{JobID: "j1", WorkerID: "w1", Epoch: 2},
			wantErr: ErrJobTerminal,
		},
		{
			name:    "missing job",
			lease:   Lease{JobID: "j1", WorkerID: "w1", Epoch: 2},
			wantErr: ErrJobNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckLease(tt.job, tt.lease)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestResultValidate(t *testing.T) {
	assert.ErrorIs(t, Result{}.Validate(), ErrInvalidResult)
	assert.ErrorIs(t, Result{Outcome: &Outcome{}, Failure: &FailureReason{}}.Validate(), ErrInvalidResult)
	assert.NoError(t, Result{Outcome: &Outcome{}}.Validate())
	assert.NoError(t, Result{Failure: &FailureReason{Kind: FailureTimeout}}.Validate())
}

func TestJobCloneIsDeep(t *testing.T) {
	job := &Job{ID: "j1", Args: []string{"a"}, Outcome: &Outcome{Value: "v", Effects: []Effect{{Op: "write", Target: "x"}}}}
	c := job.Clone()
	c.Args[0] = "b"
	c.Outcome.Effects[0].Target = "y"

	assert.Equal(t, "a", job.Args[0])
	assert.Equal(t, "x", job.Outcome.Effects[0].Target)
}

func TestFailureReasonError(t *testing.T) {
	tests := []struct {
		name   string
		reason FailureReason
		want   string
	}{
		{"script with position", FailureReason{Kind: FailureScript, Message: "x is not defined", Position: &Position{File: "fmt.js", Line: 2, Column: 1}}, "script error at fmt.js:2:1: x is not defined"},
		{"operation", FailureReason{Kind: FailureOperation, Op: "push", Message: "rejected"}, "operation push failed: rejected"},
		{"timeout", FailureReason{Kind: FailureTimeout, Message: "deadline of 1s exceeded"}, "timeout: deadline of 1s exceeded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.reason.Error())
		})
	}
}

func TestEventFromIssueComment(t *testing.T) {
	base := func() *github.IssueCommentEvent {
		return &github.IssueCommentEvent{
			Action: github.Ptr("created"),
			Repo: &github.Repository{
				Name:          github.Ptr("repo"),
				Owner:         &github.User{Login: github.Ptr("org")},
				CloneURL:      github.Ptr("https://github.com/org/repo.git"),
				DefaultBranch: github.Ptr("main"),
			},
			Issue: &github.Issue{Number: github.Ptr(7)},
			Comment: &github.IssueComment{
				ID:                github.Ptr(int64(99)),
				Body:              github.Ptr("  /benchbot fmt \n"),
				AuthorAssociation: github.Ptr("member"),
				User:              &github.User{Login: github.Ptr("alice")},
			},
			Installation: &github.Installation{ID: github.Ptr(int64(5))},
		}
	}

	t.Run("issue comment targets default branch", func(t *testing.T) {
		ev, err := EventFromIssueComment(base())
		require.NoError(t, err)
		assert.Equal(t, "main", ev.Repo.Ref)
		assert.Equal(t, "org/repo", ev.Repo.FullName())
		assert.Equal(t, "/benchbot fmt", ev.Message)
		assert.Equal(t, "MEMBER", ev.Association)
		assert.Equal(t, int64(5), ev.InstallationID)
		assert.Equal(t, int64(99), ev.CommentID)
	})

	t.Run("pull request comment targets head ref", func(t *testing.T) {
		e := base()
		e.Issue.PullRequestLinks = &github.PullRequestLinks{URL: github.Ptr("https://api.github.com/repos/org/repo/pulls/7")}
		ev, err := EventFromIssueComment(e)
		require.NoError(t, err)
		assert.Equal(t, "refs/pull/7/head", ev.Repo.Ref)
	})

	t.Run("edited comment is ignored", func(t *testing.T) {
		e := base()
		e.Action = github.Ptr("edited")
		_, err := EventFromIssueComment(e)
		assert.Error(t, err)
	})

	t.Run("missing user is rejected", func(t *testing.T) {
		e := base()
		e.Comment.User = nil
		_, err := EventFromIssueComment(e)
		assert.Error(t, err)
	})
}
