// Package jobs runs queued script jobs: a pool of workers leases jobs,
// executes them and acknowledges the result.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sevigo/ci-script/internal/core"
)

const ackTimeout = 30 * time.Second

// PoolConfig controls how a pool polls and leases.
type PoolConfig struct {
	// WorkerID prefixes the id of every worker goroutine.
	WorkerID      string
	Workers       int
	LeaseDuration time.Duration
	PollInterval  time.Duration
}

// Pool runs Workers goroutines, each leasing one job at a time.
type Pool struct {
	queue  core.WorkQueue
	runner core.JobRunner
	cfg    PoolConfig
	logger *slog.Logger
}

// NewPool creates a worker pool. If Workers is 0 or negative, it defaults to 1.
func NewPool(queue core.WorkQueue, runner core.JobRunner, cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 15 * time.Minute
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker"
	}
	return &Pool{queue: queue, runner: runner, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled. Jobs already running are finished and
// acknowledged before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range p.cfg.Workers {
		id := fmt.Sprintf("%s-%d", p.cfg.WorkerID, i)
		g.Go(func() error {
			p.loop(gctx, id)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	p.logger.Info("starting worker", "worker_id", workerID)
	defer p.logger.Info("worker stopped", "worker_id", workerID)

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.queue.Lease(ctx, workerID, p.cfg.LeaseDuration)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("failed to lease job", "worker_id", workerID, "error", err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}
		p.process(ctx, workerID, job)
	}
}

// process runs one leased job. The script is not cancelled when the pool
// shuts down; the lease is renewed until it finishes.
func (p *Pool) process(ctx context.Context, workerID string, job *core.Job) {
	lease := job.Lease()
	logger := p.logger.With("job_id", job.ID, "worker_id", workerID, "epoch", lease.Epoch)
	logger.Info("job leased", "script", job.ScriptPath, "repo", job.Trigger.Repo.FullName())

	runCtx := context.WithoutCancel(ctx)
	stopRenew := p.keepAlive(runCtx, lease, logger)

	start := time.Now()
	result := p.runner.Run(runCtx, job)
	stopRenew()

	if err := result.Validate(); err != nil {
		logger.Error("runner returned an invalid result", "error", err)
		result = failed(core.NewOperationFailure("runner", err))
	}

	ackCtx, cancel := context.WithTimeout(runCtx, ackTimeout)
	defer cancel()
	err := p.queue.Acknowledge(ackCtx, lease, result)
	switch {
	case errors.Is(err, core.ErrStaleAcknowledgment), errors.Is(err, core.ErrLeaseNotFound):
		logger.Error("acknowledgment rejected, lease was lost", "error", err)
	case err != nil:
		logger.Error("failed to acknowledge job", "error", err)
	case result.Failure != nil:
		logger.Warn("job failed", "duration", time.Since(start), "reason", result.Failure.Error())
	default:
		logger.Info("job completed", "duration", time.Since(start), "effects", len(result.Outcome.Effects))
	}
}

// keepAlive renews lease every third of its duration until the returned
// function is called. Renewal stops for good once the lease is lost.
func (p *Pool) keepAlive(ctx context.Context, lease core.Lease, logger *slog.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.cfg.LeaseDuration / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				renewed, err := p.queue.Renew(ctx, lease, p.cfg.LeaseDuration)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Warn("failed to renew lease", "error", err)
					if errors.Is(err, core.ErrStaleAcknowledgment) || errors.Is(err, core.ErrLeaseNotFound) || errors.Is(err, core.ErrJobTerminal) {
						return
					}
					continue
				}
				logger.Debug("lease renewed", "expires_at", renewed.ExpiresAt)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
