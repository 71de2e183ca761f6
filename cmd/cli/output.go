package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/sevigo/ci-script/internal/core"
)

// Color definitions
var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	dimColor     = color.New(color.FgHiBlack)
	boldColor    = color.New(color.Bold)
)

func printResult(w io.Writer, result core.Result, elapsed time.Duration) {
	separator := strings.Repeat("─", 60)
	fmt.Fprintln(w)
	titleColor.Fprintln(w, separator)

	var effects []core.Effect
	if result.Failure != nil {
		f := result.Failure
		errorColor.Fprintf(w, "✗ %s\n", kindLabel(f.Kind))
		fmt.Fprintf(w, "  %s\n", f.Message)
		if f.Op != "" {
			dimColor.Fprintf(w, "  operation: %s\n", f.Op)
		}
		if f.Position != nil {
			dimColor.Fprintf(w, "  at: %s\n", f.Position)
		}
		effects = f.Effects
	} else {
		successColor.Fprintln(w, "✓ completed")
		if result.Outcome.Value != "" {
			fmt.Fprintf(w, "  %s\n", result.Outcome.Value)
		}
		effects = result.Outcome.Effects
	}

	if len(effects) > 0 {
		fmt.Fprintln(w)
		boldColor.Fprintln(w, "Effects:")
		for _, e := range effects {
			fmt.Fprintf(w, "  • %s\n", e)
		}
		if result.Failure != nil {
			warnColor.Fprintln(w, "  these changes were not rolled back")
		}
	}
	dimColor.Fprintf(w, "\n⏱  %s\n", elapsed.Round(time.Millisecond))
}

func kindLabel(kind core.FailureKind) string {
	switch kind {
	case core.FailureScript:
		return "script error"
	case core.FailureOperation:
		return "operation failed"
	case core.FailureTimeout:
		return "timed out"
	case core.FailureCancelled:
		return "cancelled"
	default:
		return string(kind)
	}
}

func stateColor(state core.JobState) *color.Color {
	switch state {
	case core.JobCompleted:
		return successColor
	case core.JobFailed:
		return errorColor
	case core.JobLeased:
		return warnColor
	default:
		return dimColor
	}
}
