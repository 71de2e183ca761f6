// Package queue provides the in-memory job queue and the background reaper
// shared by every queue backend.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sevigo/ci-script/internal/clock"
	"github.com/sevigo/ci-script/internal/core"
)

// memoryQueue implements core.JobQueue in process memory. All transitions
// happen under one mutex, which gives lease exclusivity for free.
type memoryQueue struct {
	mu      sync.Mutex
	jobs    map[string]*core.Job
	pending []string // non-terminal job ids in enqueue order
	clock   clock.Clock
	logger  *slog.Logger
}

// NewMemory creates an empty in-memory queue.
func NewMemory(clk clock.Clock, logger *slog.Logger) core.JobQueue {
	if clk == nil {
		clk = clock.Real()
	}
	return &memoryQueue{
		jobs:   make(map[string]*core.Job),
		clock:  clk,
		logger: logger,
	}
}

// NewJobID returns a fresh opaque job id.
func NewJobID() string {
	return uuid.NewString()
}

func (q *memoryQueue) Enqueue(_ context.Context, job *core.Job) (string, error) {
	if job == nil || job.ScriptPath == "" {
		return "", fmt.Errorf("job must reference a script")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	stored := job.Clone()
	if stored.ID == "" {
		stored.ID = NewJobID()
	}
	if _, exists := q.jobs[stored.ID]; exists {
		return "", fmt.Errorf("job %s already exists", stored.ID)
	}
	stored.State = core.JobQueued
	stored.WorkerID = ""
	stored.LeaseEpoch = 0
	stored.LeaseExpiresAt = time.Time{}
	stored.Outcome = nil
	stored.Failure = nil
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = q.clock.Now()
	}

	q.jobs[stored.ID] = stored
	q.pending = append(q.pending, stored.ID)
	q.logger.Info("job enqueued", "job_id", stored.ID, "script", stored.ScriptPath, "repo", stored.Trigger.Repo.FullName())
	return stored.ID, nil
}

func (q *memoryQueue) Lease(_ context.Context, workerID string, d time.Duration) (*core.Job, error) {
	if workerID == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	if d <= 0 {
		return nil, fmt.Errorf("lease duration must be positive, got %s", d)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	q.reapLocked(now)

	for _, id := range q.pending {
		job := q.jobs[id]
		if job.State != core.JobQueued {
			continue
		}
		job.State = core.JobLeased
		job.WorkerID = workerID
		job.LeaseEpoch++
		job.LeaseExpiresAt = now.Add(d)
		q.logger.Debug("job leased", "job_id", id, "worker_id", workerID, "epoch", job.LeaseEpoch)
		return job.Clone(), nil
	}
	return nil, nil
}

func (q *memoryQueue) Acknowledge(_ context.Context, lease core.Lease, result core.Result) error {
	if err := result.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.jobs[lease.JobID]
	if err := core.CheckLease(job, lease); err != nil {
		return fmt.Errorf("acknowledge %s: %w", lease.JobID, err)
	}

	if result.Outcome != nil {
		job.State = core.JobCompleted
		job.Outcome = result.Outcome
	} else {
		job.State = core.JobFailed
		job.Failure = result.Failure
	}
	job.FinishedAt = q.clock.Now()
	job.LeaseExpiresAt = time.Time{}
	q.removePendingLocked(job.ID)
	return nil
}

func (q *memoryQueue) Renew(_ context.Context, lease core.Lease, d time.Duration) (*core.Lease, error) {
	if d <= 0 {
		return nil, fmt.Errorf("lease duration must be positive, got %s", d)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.jobs[lease.JobID]
	if err := core.CheckLease(job, lease); err != nil {
		return nil, fmt.Errorf("renew %s: %w", lease.JobID, err)
	}
	job.LeaseExpiresAt = q.clock.Now().Add(d)
	renewed := job.Lease()
	return &renewed, nil
}

func (q *memoryQueue) Reap(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.reapLocked(q.clock.Now()), nil
}

func (q *memoryQueue) reapLocked(now time.Time) int {
	n := 0
	for _, id := range q.pending {
		job := q.jobs[id]
		if job.State != core.JobLeased || now.Before(job.LeaseExpiresAt) {
			continue
		}
		q.logger.Warn("lease expired, requeueing job", "job_id", id, "worker_id", job.WorkerID, "epoch", job.LeaseEpoch)
		job.State = core.JobQueued
		job.WorkerID = ""
		job.LeaseExpiresAt = time.Time{}
		n++
	}
	return n
}

func (q *memoryQueue) removePendingLocked(id string) {
	for i, pid := range q.pending {
		if pid == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *memoryQueue) Get(_ context.Context, id string) (*core.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, core.ErrJobNotFound)
	}
	return job.Clone(), nil
}

func (q *memoryQueue) List(_ context.Context, filter core.JobFilter) ([]*core.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*core.Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		if filter.State != "" && job.State != filter.State {
			continue
		}
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
