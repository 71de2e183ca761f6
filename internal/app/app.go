// Package app initializes and orchestrates the main components of ci-script.
// It runs the HTTP server, the lease reaper and, when configured, a pool of
// embedded workers against the same queue.
package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sevigo/ci-script/internal/config"
	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/internal/jobs"
	"github.com/sevigo/ci-script/internal/queue"
	"github.com/sevigo/ci-script/internal/server"
)

// App holds the main application components.
type App struct {
	cfg    *config.Config
	server *server.Server
	queue  core.JobQueue
	pool   *jobs.Pool
	logger *slog.Logger
}

// NewApp assembles the application. pool may be nil when all workers are remote.
func NewApp(cfg *config.Config, q core.JobQueue, srv *server.Server, pool *jobs.Pool, logger *slog.Logger) *App {
	return &App{cfg: cfg, server: srv, queue: q, pool: pool, logger: logger}
}

// Run serves until ctx is cancelled, then shuts everything down. Jobs that
// embedded workers are running are finished and acknowledged first.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting ci-script",
		"server_port", a.cfg.Server.Port,
		"queue_backend", a.cfg.Queue.Backend,
		"embedded_workers", a.pool != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := a.server.Stop(); err != nil {
			a.logger.Error("error during HTTP server shutdown", "error", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		return queue.RunReaper(gctx, a.queue, a.cfg.Queue.ReapInterval, a.logger)
	})
	if a.pool != nil {
		g.Go(func() error {
			return a.pool.Run(gctx)
		})
	}

	err := g.Wait()
	if err != nil {
		a.logger.Error("ci-script stopped with errors", "error", err)
		return err
	}
	a.logger.Info("ci-script stopped successfully")
	return nil
}
