package wire

import (
	"io"
	"log/slog"

	"github.com/google/wire"

	"github.com/sevigo/ci-script/internal/app"
	"github.com/sevigo/ci-script/internal/clock"
	"github.com/sevigo/ci-script/internal/config"
	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/internal/db"
	"github.com/sevigo/ci-script/internal/engine"
	"github.com/sevigo/ci-script/internal/github"
	"github.com/sevigo/ci-script/internal/gitutil"
	"github.com/sevigo/ci-script/internal/jobs"
	"github.com/sevigo/ci-script/internal/logger"
	"github.com/sevigo/ci-script/internal/queue"
	"github.com/sevigo/ci-script/internal/reactor"
	"github.com/sevigo/ci-script/internal/repomanager"
	"github.com/sevigo/ci-script/internal/server"
	"github.com/sevigo/ci-script/internal/server/handler"
	"github.com/sevigo/ci-script/internal/storage"
)

var AppSet = wire.NewSet(
	app.NewApp,
	server.NewServer,
	engine.New,
	gitutil.NewClient,
	jobs.NewScriptJob,
	provideConfig,
	provideLoggerConfig,
	provideLogWriter,
	provideSlogLogger,
	provideClock,
	provideQueue,
	provideClientFactory,
	provideRouter,
	provideTriggerHandler,
	provideRepoManager,
	provideScriptConfig,
	providePool,
)

func provideConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateServer(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLoggerConfig(cfg *config.Config) logger.Config {
	return cfg.Logging
}

// provideLogWriter returns the configured log output and its closer.
func provideLogWriter(cfg logger.Config) (io.Writer, func()) {
	return logger.Writer(cfg)
}

func provideSlogLogger(loggerConfig logger.Config, writer io.Writer) *slog.Logger {
	return logger.NewLogger(loggerConfig, writer)
}

func provideClock() clock.Clock {
	return clock.Real()
}

// provideQueue picks the queue backend. The sql backend keeps jobs across
// restarts; the memory backend loses them.
func provideQueue(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (core.JobQueue, func(), error) {
	if cfg.Queue.Backend != "sql" {
		return queue.NewMemory(clk, logger), func() {}, nil
	}
	conn, cleanup, err := db.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewJobQueue(conn, clk, logger), cleanup, nil
}

func provideClientFactory(cfg *config.Config, logger *slog.Logger) github.ClientFactory {
	return github.NewClientFactory(&cfg.GitHub, logger)
}

func provideRouter(cfg *config.Config, q core.JobQueue, forges github.ClientFactory, logger *slog.Logger) *reactor.Router {
	return reactor.New(cfg.Trigger, q, forges, logger)
}

func provideTriggerHandler(r *reactor.Router) handler.TriggerHandler {
	return r
}

func provideRepoManager(cfg *config.Config, gitClient *gitutil.Client, logger *slog.Logger) repomanager.Manager {
	return repomanager.New(cfg.Worker.WorkDir, gitClient, logger)
}

func provideScriptConfig(cfg *config.Config) config.ScriptConfig {
	return cfg.Script
}

// providePool returns nil when MAX_WORKERS is 0 and every worker is remote.
func providePool(cfg *config.Config, q core.JobQueue, runner core.JobRunner, logger *slog.Logger) *jobs.Pool {
	if cfg.Worker.MaxWorkers <= 0 {
		return nil
	}
	return jobs.NewPool(q, runner, PoolConfig(cfg), logger)
}

// PoolConfig derives the worker pool settings from the process configuration.
func PoolConfig(cfg *config.Config) jobs.PoolConfig {
	return jobs.PoolConfig{
		WorkerID:      cfg.Worker.ID,
		Workers:       cfg.Worker.MaxWorkers,
		LeaseDuration: cfg.Queue.LeaseDuration,
		PollInterval:  cfg.Queue.PollInterval,
	}
}
