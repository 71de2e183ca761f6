package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/sevigo/ci-script/internal/core"
)

// RunReaper calls Reap on q every interval until ctx is done.
func RunReaper(ctx context.Context, q core.JobQueue, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("starting lease reaper", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			logger.Info("lease reaper stopped")
			return nil
		case <-ticker.C:
			n, err := q.Reap(ctx)
			if err != nil {
				logger.Error("failed to reap expired leases", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("requeued jobs with expired leases", "count", n)
			}
		}
	}
}
