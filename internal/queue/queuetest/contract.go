// Package queuetest holds the behavioural tests every core.JobQueue
// implementation must pass.
package queuetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/ci-script/internal/clock"
	"github.com/sevigo/ci-script/internal/core"
)

// Factory builds a fresh, empty queue driven by clk.
type Factory func(t *testing.T, clk *clock.FakeClock) core.JobQueue

// Epoch is the fixed start time of every fake clock handed to a Factory.
var Epoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newJob(script string) *core.Job {
	return &core.Job{
		ScriptPath: script,
		Args:       []string{"--check"},
		Trigger: core.Trigger{
			Repo:  core.RepoRef{Owner: "org", Name: "repo", Ref: "main"},
			Actor: "alice",
		},
	}
}

// Run executes the contract against the queues produced by factory.
func Run(t *testing.T, factory Factory) {
	ctx := context.Background()
	const lease = time.Minute

	t.Run("empty queue leases nothing", func(t *testing.T) {
		q := factory(t, clock.Fake(Epoch))
		job, err := q.Lease(ctx, "w1", lease)
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("lease is FIFO", func(t *testing.T) {
		clk := clock.Fake(Epoch)
		q := factory(t, clk)
		first, err := q.Enqueue(ctx, newJob(".github/bot/a.js"))
		require.NoError(t, err)
		clk.Advance(time.Second)
		second, err := q.Enqueue(ctx, newJob(".github/bot/b.js"))
		require.NoError(t, err)

		j1, err := q.Lease(ctx, "w1", lease)
		require.NoError(t, err)
		require.NotNil(t, j1)
		j2, err := q.Lease(ctx, "w2", lease)
		require.NoError(t, err)
		require.NotNil(t, j2)

		assert.Equal(t, first, j1.ID)
		assert.Equal(t, second, j2.ID)
		assert.Equal(t, []string{"--check"}, j1.Args)
		assert.Equal(t, "org/repo", j1.Trigger.Repo.FullName())
		assert.Equal(t, core.JobLeased, j1.State)
		assert.Equal(t, int64(1), j1.LeaseEpoch)
		assert.WithinDuration(t, Epoch.Add(time.Second+lease), j1.LeaseExpiresAt, 0)
	})

	t.Run("concurrent leases never share a job", func(t *testing.T) {
		q := factory(t, clock.Fake(Epoch))
		_, err := q.Enqueue(ctx, newJob(".github/bot/a.js"))
		require.NoError(t, err)

		const workers = 8
		var wg sync.WaitGroup
		results := make(chan *core.Job, workers)
		for i := range workers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				job, err := q.Lease(ctx, "worker-"+string(rune('a'+i)), lease)
				assert.NoError(t, err)
				results <- job
			}(i)
		}
		wg.Wait()
		close(results)

		got := 0
		for job := range results {
			if job != nil {
				got++
			}
		}
		assert.Equal(t, 1, got)
	})

	t.Run("expired lease is requeued and reassigned", func(t *testing.T) {
		clk := clock.Fake(Epoch)
		q := factory(t, clk)
		id, err := q.Enqueue(ctx, newJob(".github/bot/a.js"))
		require.NoError(t, err)

		first, err := q.Lease(ctx, "w1", lease)
		require.NoError(t, err)
		require.NotNil(t, first)

		none, err := q.Lease(ctx, "w2", lease)
		require.NoError(t, err)
		assert.Nil(t, none, "job must not be handed out while leased")

		clk.Advance(lease + time.Second)
		second, err := q.Lease(ctx, "w2", lease)
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, id, second.ID)
		assert.Equal(t, int64(2), second.LeaseEpoch)

		err = q.Acknowledge(ctx, first.Lease(), core.Result{Outcome: &core.Outcome{Value: "stale"}})
		assert.ErrorIs(t, err, core.ErrStaleAcknowledgment)

		current, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, core.JobLeased, current.State)
		assert.Equal(t, "w2", current.WorkerID)

		require.NoError(t, q.Acknowledge(ctx, second.Lease(), core.Result{Outcome: &core.Outcome{Value: "done"}}))
		done, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, core.JobCompleted, done.State)
		require.NotNil(t, done.Outcome)
		assert.Equal(t, "done", done.Outcome.Value)
	})

	t.Run("reap requeues expired leases", func(t *testing.T) {
		clk := clock.Fake(Epoch)
		q := factory(t, clk)
		id, err := q.Enqueue(ctx, newJob(".github/bot/a.js"))
		require.NoError(t, err)
		leased, err := q.Lease(ctx, "w1", lease)
		require.NoError(t, err)
		require.NotNil(t, leased)

		n, err := q.Reap(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		clk.Advance(2 * lease)
		n, err = q.Reap(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		job, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, core.JobQueued, job.State)
		assert.Empty(t, job.WorkerID)

		err = q.Acknowledge(ctx, leased.Lease(), core.Result{Outcome: &core.Outcome{}})
		assert.ErrorIs(t, err, core.ErrStaleAcknowledgment)
	})

	t.Run("expired lease is honoured until reaped", func(t *testing.T) {
		clk := clock.Fake(Epoch)
		q := factory(t, clk)
		_, err := q.Enqueue(ctx, newJob(".github/bot/a.js"))
		require.NoError(t, err)
		leased, err := q.Lease(ctx, "w1", lease)
		require.NoError(t, err)
		require.NotNil(t, leased)

		clk.Advance(2 * lease)
		failure := &core.FailureReason{Kind: core.FailureTimeout, Message: "deadline exceeded"}
		require.NoError(t, q.Acknowledge(ctx, leased.Lease(), core.Result{Failure: failure}))

		job, err := q.Get(ctx, leased.ID)
		require.NoError(t, err)
		assert.Equal(t, core.JobFailed, job.State)
		require.NotNil(t, job.Failure)
		assert.Equal(t, core.FailureTimeout, job.Failure.Kind)
	})

	t.Run("terminal and unknown jobs reject acknowledgment", func(t *testing.T) {
		q := factory(t, clock.Fake(Epoch))
		_, err := q.Enqueue(ctx, newJob(".github/bot/a.js"))
		require.NoError(t, err)
		leased, err := q.Lease(ctx, "w1", lease)
		require.NoError(t, err)
		require.NotNil(t, leased)
		require.NoError(t, q.Acknowledge(ctx, leased.Lease(), core.Result{Outcome: &core.Outcome{}}))

		err = q.Acknowledge(ctx, leased.Lease(), core.Result{Outcome: &core.Outcome{}})
		assert.ErrorIs(t, err, core.ErrJobTerminal)

		err = q.Acknowledge(ctx, core.Lease{JobID: "missing", WorkerID: "w1", Epoch: 1}, core.Result{Outcome: &core.Outcome{}})
		assert.ErrorIs(t, err, core.ErrJobNotFound)

		_, err = q.Get(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrJobNotFound)
	})

	t.Run("acknowledgment needs exactly one result", func(t *testing.T) {
		q := factory(t, clock.Fake(Epoch))
		_, err := q.Enqueue(ctx, newJob(".github/bot/a.js"))
		require.NoError(t, err)
		leased, err := q.Lease(ctx, "w1", lease)
		require.NoError(t, err)
		require.NotNil(t, leased)

		err = q.Acknowledge(ctx, leased.Lease(), core.Result{})
		assert.ErrorIs(t, err, core.ErrInvalidResult)
	})

	t.Run("queued job has no lease to acknowledge", func(t *testing.T) {
		q := factory(t, clock.Fake(Epoch))
		id, err := q.Enqueue(ctx, newJob(".github/bot/a.js"))
		require.NoError(t, err)

		err = q.Acknowledge(ctx, core.Lease{JobID: id, WorkerID: "w1", Epoch: 1}, core.Result{Outcome: &core.Outcome{}})
		assert.ErrorIs(t, err, core.ErrLeaseNotFound)
	})

	t.Run("renew extends a held lease only", func(t *testing.T) {
		clk := clock.Fake(Epoch)
		q := factory(t, clk)
		_, err := q.Enqueue(ctx, newJob(".github/bot/a.js"))
		require.NoError(t, err)
		leased, err := q.Lease(ctx, "w1", lease)
		require.NoError(t, err)
		require.NotNil(t, leased)

		clk.Advance(lease / 2)
		renewed, err := q.Renew(ctx, leased.Lease(), lease)
		require.NoError(t, err)
		assert.Equal(t, leased.LeaseEpoch, renewed.Epoch)
		assert.WithinDuration(t, Epoch.Add(lease/2+lease), renewed.ExpiresAt, 0)

		clk.Advance(lease - time.Second)
		stolen, err := q.Lease(ctx, "w2", lease)
		require.NoError(t, err)
		assert.Nil(t, stolen, "renewed lease must still be held")

		clk.Advance(time.Minute)
		stolen, err = q.Lease(ctx, "w2", lease)
		require.NoError(t, err)
		require.NotNil(t, stolen)

		_, err = q.Renew(ctx, leased.Lease(), lease)
		assert.ErrorIs(t, err, core.ErrStaleAcknowledgment)
	})

	t.Run("list filters by state", func(t *testing.T) {
		clk := clock.Fake(Epoch)
		q := factory(t, clk)
		for _, s := range []string{"a", "b", "c"} {
			_, err := q.Enqueue(ctx, newJob(".github/bot/"+s+".js"))
			require.NoError(t, err)
			clk.Advance(time.Second)
		}
		leased, err := q.Lease(ctx, "w1", lease)
		require.NoError(t, err)
		require.NotNil(t, leased)

		all, err := q.List(ctx, core.JobFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)
		assert.Equal(t, ".github/bot/c.js", all[0].ScriptPath, "newest first")

		queued, err := q.List(ctx, core.JobFilter{State: core.JobQueued})
		require.NoError(t, err)
		assert.Len(t, queued, 2)

		limited, err := q.List(ctx, core.JobFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}
