// Package storage implements the durable job queue on top of SQL.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sevigo/ci-script/internal/clock"
	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/internal/db"
	"github.com/sevigo/ci-script/internal/queue"
)

const jobColumns = `seq, id, script_path, args, trigger_ctx, state, worker_id, lease_epoch,
	lease_expires_at, outcome, failure, created_at, finished_at`

// jobRow mirrors the jobs table. Times are unix nanoseconds, zero meaning unset.
type jobRow struct {
	Seq            int64  `db:"seq"`
	ID             string `db:"id"`
	ScriptPath     string `db:"script_path"`
	Args           string `db:"args"`
	Trigger        string `db:"trigger_ctx"`
	State          string `db:"state"`
	WorkerID       string `db:"worker_id"`
	LeaseEpoch     int64  `db:"lease_epoch"`
	LeaseExpiresAt int64  `db:"lease_expires_at"`
	Outcome        string `db:"outcome"`
	Failure        string `db:"failure"`
	CreatedAt      int64  `db:"created_at"`
	FinishedAt     int64  `db:"finished_at"`
}

type sqlQueue struct {
	db      *sqlx.DB
	dialect string
	clock   clock.Clock
	logger  *slog.Logger
}

// NewJobQueue returns a core.JobQueue persisted in conn. Lease exclusivity
// comes from row locking on Postgres and from the single connection on SQLite.
func NewJobQueue(conn *db.DB, clk clock.Clock, logger *slog.Logger) core.JobQueue {
	if clk == nil {
		clk = clock.Real()
	}
	return &sqlQueue{db: conn.DB, dialect: conn.Dialect, clock: clk, logger: logger}
}

func (q *sqlQueue) Enqueue(ctx context.Context, job *core.Job) (string, error) {
	if job == nil || job.ScriptPath == "" {
		return "", fmt.Errorf("job must reference a script")
	}
	id := job.ID
	if id == "" {
		id = queue.NewJobID()
	}
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = q.clock.Now()
	}

	args, err := json.Marshal(nonNil(job.Args))
	if err != nil {
		return "", fmt.Errorf("failed to encode args: %w", err)
	}
	trigger, err := json.Marshal(job.Trigger)
	if err != nil {
		return "", fmt.Errorf("failed to encode trigger: %w", err)
	}

	query := q.db.Rebind(`INSERT INTO jobs (id, script_path, args, trigger_ctx, state, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := q.db.ExecContext(ctx, query, id, job.ScriptPath, string(args), string(trigger), string(core.JobQueued), toNanos(createdAt)); err != nil {
		return "", fmt.Errorf("failed to insert job: %w", err)
	}
	q.logger.Info("job enqueued", "job_id", id, "script", job.ScriptPath, "repo", job.Trigger.Repo.FullName())
	return id, nil
}

func (q *sqlQueue) Lease(ctx context.Context, workerID string, d time.Duration) (*core.Job, error) {
	if workerID == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	if d <= 0 {
		return nil, fmt.Errorf("lease duration must be positive, got %s", d)
	}

	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin lease transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := q.clock.Now()
	if _, err := q.reap(ctx, tx, now); err != nil {
		return nil, err
	}

	selectQuery := `SELECT id FROM jobs WHERE state = ? ORDER BY seq LIMIT 1`
	if q.dialect == db.Postgres {
		selectQuery += ` FOR UPDATE SKIP LOCKED`
	}
	var id string
	err = tx.GetContext(ctx, &id, tx.Rebind(selectQuery), string(core.JobQueued))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select queued job: %w", err)
	}

	update := tx.Rebind(`UPDATE jobs SET state = ?, worker_id = ?, lease_epoch = lease_epoch + 1, lease_expires_at = ?
		WHERE id = ? AND state = ?`)
	res, err := tx.ExecContext(ctx, update, string(core.JobLeased), workerID, toNanos(now.Add(d)), id, string(core.JobQueued))
	if err != nil {
		return nil, fmt.Errorf("failed to lease job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, tx.Commit()
	}

	var row jobRow
	if err := tx.GetContext(ctx, &row, tx.Rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id); err != nil {
		return nil, fmt.Errorf("failed to load leased job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lease: %w", err)
	}

	q.logger.Debug("job leased", "job_id", id, "worker_id", workerID, "epoch", row.LeaseEpoch)
	return row.toJob()
}

func (q *sqlQueue) Acknowledge(ctx context.Context, lease core.Lease, result core.Result) error {
	if err := result.Validate(); err != nil {
		return err
	}

	state := core.JobCompleted
	var outcome, failure []byte
	var err error
	if result.Outcome != nil {
		outcome, err = json.Marshal(result.Outcome)
	} else {
		state = core.JobFailed
		failure, err = json.Marshal(result.Failure)
	}
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	query := q.db.Rebind(`UPDATE jobs SET state = ?, outcome = ?, failure = ?, finished_at = ?, lease_expires_at = 0
		WHERE id = ? AND state = ? AND worker_id = ? AND lease_epoch = ?`)
	res, err := q.db.ExecContext(ctx, query, string(state), string(outcome), string(failure), toNanos(q.clock.Now()),
		lease.JobID, string(core.JobLeased), lease.WorkerID, lease.Epoch)
	if err != nil {
		return fmt.Errorf("failed to acknowledge job %s: %w", lease.JobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("acknowledge %s: %w", lease.JobID, q.explainLease(ctx, lease))
	}
	return nil
}

func (q *sqlQueue) Renew(ctx context.Context, lease core.Lease, d time.Duration) (*core.Lease, error) {
	if d <= 0 {
		return nil, fmt.Errorf("lease duration must be positive, got %s", d)
	}
	expires := q.clock.Now().Add(d)

	query := q.db.Rebind(`UPDATE jobs SET lease_expires_at = ? WHERE id = ? AND state = ? AND worker_id = ? AND lease_epoch = ?`)
	res, err := q.db.ExecContext(ctx, query, toNanos(expires), lease.JobID, string(core.JobLeased), lease.WorkerID, lease.Epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to renew lease on job %s: %w", lease.JobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("renew %s: %w", lease.JobID, q.explainLease(ctx, lease))
	}
	renewed := lease
	renewed.ExpiresAt = fromNanos(toNanos(expires))
	return &renewed, nil
}

// explainLease turns a failed conditional update into the matching protocol error.
func (q *sqlQueue) explainLease(ctx context.Context, lease core.Lease) error {
	job, err := q.Get(ctx, lease.JobID)
	if errors.Is(err, core.ErrJobNotFound) {
		return core.ErrJobNotFound
	}
	if err != nil {
		return err
	}
	if err := core.CheckLease(job, lease); err != nil {
		return err
	}
	// The lease changed between the update and the read.
	return core.ErrStaleAcknowledgment
}

func (q *sqlQueue) Reap(ctx context.Context) (int, error) {
	return q.reap(ctx, q.db, q.clock.Now())
}

func (q *sqlQueue) reap(ctx context.Context, exec sqlx.ExtContext, now time.Time) (int, error) {
	query := exec.Rebind(`UPDATE jobs SET state = ?, worker_id = '', lease_expires_at = 0 WHERE state = ? AND lease_expires_at <= ?`)
	res, err := exec.ExecContext(ctx, query, string(core.JobQueued), string(core.JobLeased), toNanos(now))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue expired leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count requeued jobs: %w", err)
	}
	if n > 0 {
		q.logger.Warn("lease expired, requeued jobs", "count", n)
	}
	return int(n), nil
}

func (q *sqlQueue) Get(ctx context.Context, id string) (*core.Job, error) {
	var row jobRow
	err := q.db.GetContext(ctx, &row, q.db.Rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get %s: %w", id, core.ErrJobNotFound)
		}
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return row.toJob()
}

func (q *sqlQueue) List(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if filter.State != "" {
		query += ` WHERE state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY seq DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []jobRow
	if err := q.db.SelectContext(ctx, &rows, q.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	out := make([]*core.Job, 0, len(rows))
	for _, r := range rows {
		job, err := r.toJob()
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func (r jobRow) toJob() (*core.Job, error) {
	job := &core.Job{
		ID:             r.ID,
		ScriptPath:     r.ScriptPath,
		State:          core.JobState(r.State),
		WorkerID:       r.WorkerID,
		LeaseEpoch:     r.LeaseEpoch,
		LeaseExpiresAt: fromNanos(r.LeaseExpiresAt),
		CreatedAt:      fromNanos(r.CreatedAt),
		FinishedAt:     fromNanos(r.FinishedAt),
	}
	if err := json.Unmarshal([]byte(r.Args), &job.Args); err != nil {
		return nil, fmt.Errorf("job %s has corrupt args: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Trigger), &job.Trigger); err != nil {
		return nil, fmt.Errorf("job %s has corrupt trigger: %w", r.ID, err)
	}
	if r.Outcome != "" {
		job.Outcome = &core.Outcome{}
		if err := json.Unmarshal([]byte(r.Outcome), job.Outcome); err != nil {
			return nil, fmt.Errorf("job %s has corrupt outcome: %w", r.ID, err)
		}
	}
	if r.Failure != "" {
		job.Failure = &core.FailureReason{}
		if err := json.Unmarshal([]byte(r.Failure), job.Failure); err != nil {
			return nil, fmt.Errorf("job %s has corrupt failure: %w", r.ID, err)
		}
	}
	return job, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
