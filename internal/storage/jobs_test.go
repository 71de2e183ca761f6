package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/ci-script/internal/clock"
	"github.com/sevigo/ci-script/internal/config"
	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/internal/db"
	"github.com/sevigo/ci-script/internal/queue/queuetest"
)

func newSQLiteQueue(t *testing.T, clk clock.Clock) core.JobQueue {
	t.Helper()
	conn, cleanup, err := db.NewDatabase(&config.DBConfig{
		Driver: db.SQLite,
		Path:   filepath.Join(t.TempDir(), "jobs.db"),
	})
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return NewJobQueue(conn, clk, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSQLQueueContract(t *testing.T) {
	queuetest.Run(t, func(t *testing.T, clk *clock.FakeClock) core.JobQueue {
		return newSQLiteQueue(t, clk)
	})
}

func TestSQLQueuePersistsResult(t *testing.T) {
	ctx := context.Background()
	q := newSQLiteQueue(t, clock.Fake(queuetest.Epoch))

	id, err := q.Enqueue(ctx, &core.Job{
		ScriptPath: ".github/benchbot/fmt.js",
		Trigger: core.Trigger{
			Repo:        core.RepoRef{Owner: "org", Name: "repo", Ref: "refs/pull/3/head"},
			IssueNumber: 3,
		},
	})
	require.NoError(t, err)

	job, err := q.Lease(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Empty(t, job.Args)
	assert.Equal(t, 3, job.Trigger.IssueNumber)

	failure := &core.FailureReason{
		Kind:     core.FailureScript,
		Message:  "boom",
		Position: &core.Position{File: "fmt.js", Line: 4, Column: 2},
		Effects:  []core.Effect{{Op: "write", Target: "hello.md"}},
	}
	require.NoError(t, q.Acknowledge(ctx, job.Lease(), core.Result{Failure: failure}))

	stored, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.JobFailed, stored.State)
	assert.Equal(t, failure, stored.Failure)
	assert.Nil(t, stored.Outcome)
	assert.WithinDuration(t, queuetest.Epoch, stored.FinishedAt, 0)
}
