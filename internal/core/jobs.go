// Package core defines the essential interfaces and data structures that form the
// backbone of the application. These components are designed to be abstract,
// allowing for flexible and decoupled implementations of the application's logic.
package core

import (
	"context"
	"errors"
	"time"
)

// Protocol errors returned by every JobQueue implementation.
var (
	ErrJobNotFound         = errors.New("job not found")
	ErrJobTerminal         = errors.New("job is already in a terminal state")
	ErrLeaseNotFound       = errors.New("lease not found")
	ErrStaleAcknowledgment = errors.New("stale acknowledgment: lease expired or was reassigned")
	ErrInvalidResult       = errors.New("result must carry exactly one of outcome or failure")
)

// JobState is the lifecycle state of a Job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobLeased    JobState = "leased"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is one queued script execution request.
//
// ScriptPath, Args and Trigger never change after creation. The remaining
// fields describe execution state and are owned by the JobQueue.
type Job struct {
	ID         string    `json:"id"`
	ScriptPath string    `json:"script_path"`
	Args       []string  `json:"args"`
	Trigger    Trigger   `json:"trigger"`
	CreatedAt  time.Time `json:"created_at"`

	State          JobState       `json:"state"`
	WorkerID       string         `json:"worker_id,omitempty"`
	LeaseEpoch     int64          `json:"lease_epoch,omitempty"`
	LeaseExpiresAt time.Time      `json:"lease_expires_at,omitempty"`
	Outcome        *Outcome       `json:"outcome,omitempty"`
	Failure        *FailureReason `json:"failure,omitempty"`
	FinishedAt     time.Time      `json:"finished_at,omitempty"`
}

// Lease returns the lease currently recorded on the job.
func (j *Job) Lease() Lease {
	return Lease{
		JobID:     j.ID,
		WorkerID:  j.WorkerID,
		Epoch:     j.LeaseEpoch,
		ExpiresAt: j.LeaseExpiresAt,
	}
}

// Clone returns a deep copy so callers never share mutable state with a queue.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Args = append([]string(nil), j.Args...)
	if j.Outcome != nil {
		o := *j.Outcome
		o.Effects = append([]Effect(nil), j.Outcome.Effects...)
		c.Outcome = &o
	}
	if j.Failure != nil {
		f := *j.Failure
		f.Effects = append([]Effect(nil), j.Failure.Effects...)
		c.Failure = &f
	}
	return &c
}

// Lease identifies one time-bounded reservation of a Job by a worker.
// The epoch increases every time the job is leased, so a lease can never
// be confused with a later reservation held by the same worker.
type Lease struct {
	JobID     string    `json:"job_id"`
	WorkerID  string    `json:"worker_id"`
	Epoch     int64     `json:"epoch"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Result is what a worker reports when acknowledging a lease.
type Result struct {
	Outcome *Outcome       `json:"outcome,omitempty"`
	Failure *FailureReason `json:"failure,omitempty"`
}

// Validate checks that exactly one side of the result is set.
func (r Result) Validate() error {
	if (r.Outcome == nil) == (r.Failure == nil) {
		return ErrInvalidResult
	}
	return nil
}

// CheckLease decides whether lease is the one currently held on job.
// Expiry alone does not invalidate a lease; it stays valid until the job
// is requeued by a reap.
func CheckLease(job *Job, lease Lease) error {
	if job == nil {
		return ErrJobNotFound
	}
	if job.State.Terminal() {
		return ErrJobTerminal
	}
	if lease.Epoch <= 0 || lease.Epoch > job.LeaseEpoch {
		return ErrLeaseNotFound
	}
	if job.State == JobLeased && job.WorkerID == lease.WorkerID && job.LeaseEpoch == lease.Epoch {
		return nil
	}
	return ErrStaleAcknowledgment
}

// JobFilter narrows List results.
type JobFilter struct {
	State JobState
	Limit int
}

// WorkQueue is the part of the queue a worker needs.
type WorkQueue interface {
	// Lease reserves the oldest queued job for workerID. It returns a nil job
	// when nothing is queued; callers poll again later.
	Lease(ctx context.Context, workerID string, d time.Duration) (*Job, error)
	// Acknowledge records the terminal result of a leased job.
	Acknowledge(ctx context.Context, lease Lease, result Result) error
	// Renew extends a lease that is still held.
	Renew(ctx context.Context, lease Lease, d time.Duration) (*Lease, error)
}

// JobQueue mediates between trigger producers and workers.
type JobQueue interface {
	WorkQueue
	Enqueue(ctx context.Context, job *Job) (string, error)
	// Reap requeues every leased job whose lease has expired and returns
	// how many were requeued.
	Reap(ctx context.Context) (int, error)
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, filter JobFilter) ([]*Job, error)
}

// JobRunner executes a single leased job and produces its result.
type JobRunner interface {
	Run(ctx context.Context, job *Job) Result
}
