package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sevigo/ci-script/internal/engine"
	"github.com/sevigo/ci-script/internal/github"
	"github.com/sevigo/ci-script/internal/gitutil"
	"github.com/sevigo/ci-script/internal/jobs"
	"github.com/sevigo/ci-script/internal/queueclient"
	"github.com/sevigo/ci-script/internal/repomanager"
	"github.com/sevigo/ci-script/internal/wire"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Lease and run jobs from a ci-script server",
	Long: `Run a worker pool that leases jobs from the queue of a ci-script server,
executes them and reports the results back. Stop it with Ctrl-C; jobs that are
already running finish first.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() { //nolint:gochecknoinits // Cobra command registration
	workerCmd.Flags().IntP("workers", "w", 0, "Number of jobs to run concurrently")
	workerCmd.Flags().String("worker-id", "", "Identifier reported to the queue")
	bindFlags(workerCmd, map[string]string{
		"MAX_WORKERS": "workers",
		"WORKER_ID":   "worker-id",
	})
	rootCmd.AddCommand(workerCmd)
}

func runWorker(_ *cobra.Command, _ []string) error {
	cfg, log, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()
	if cfg.Queue.URL == "" {
		return errors.New("a queue URL is required (--queue-url or CIS_QUEUE_URL)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	q := queueclient.New(cfg.Queue.URL, cfg.Queue.Token)
	runner := jobs.NewScriptJob(
		cfg.Script,
		repomanager.New(cfg.Worker.WorkDir, gitutil.NewClient(log), log),
		github.NewClientFactory(&cfg.GitHub, log),
		engine.New(log),
		log,
	)
	poolCfg := wire.PoolConfig(cfg)
	if poolCfg.Workers <= 0 {
		poolCfg.Workers = 1
	}

	log.Info("starting remote worker", "queue", cfg.Queue.URL, "workers", poolCfg.Workers, "worker_id", poolCfg.WorkerID)
	return jobs.NewPool(q, runner, poolCfg, log).Run(ctx)
}
