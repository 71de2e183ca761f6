// Package logger builds the process-wide slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogFile is where output goes when Output is "file".
const LogFile = "ci-script.log"

// Config holds the logger configuration.
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ParseLevel maps a level name to a slog.Level. Unknown names fall back to info.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(name)))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Writer resolves the configured output. The returned closer is a no-op for
// the standard streams.
func Writer(cfg Config) (io.Writer, func()) {
	switch cfg.Output {
	case "stderr":
		return os.Stderr, func() {}
	case "file":
		file, err := os.OpenFile(LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			return os.Stdout, func() {}
		}
		return file, func() { _ = file.Close() }
	default:
		return os.Stdout, func() {}
	}
}

// NewLogger initializes a new slog logger based on the provided configuration.
// A nil output is resolved with Writer.
func NewLogger(cfg Config, output io.Writer) *slog.Logger {
	if output == nil {
		output, _ = Writer(cfg)
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler)
}

// ForJob returns a child logger carrying the attributes every job log line needs.
func ForJob(l *slog.Logger, jobID, repo, workerID string) *slog.Logger {
	return l.With("job_id", jobID, "repo", repo, "worker_id", workerID)
}
