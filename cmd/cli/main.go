package main

import (
	"errors"
	"log/slog"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		if !errors.Is(err, errScriptFailed) {
			slog.Error("ci-script failed", "error", err)
		}
		os.Exit(1)
	}
}
