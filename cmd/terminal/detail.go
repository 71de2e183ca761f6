package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/sevigo/ci-script/internal/core"
)

// jobMarkdown describes a job as markdown for the detail pane.
func jobMarkdown(job *core.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Job %s\n\n", job.ID)
	b.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| State | **%s** |\n", job.State)
	fmt.Fprintf(&b, "| Script | `%s` |\n", job.ScriptPath)
	if len(job.Args) > 0 {
		fmt.Fprintf(&b, "| Args | `%s` |\n", strings.Join(job.Args, " "))
	}
	repo := job.Trigger.Repo
	if repo.Ref != "" {
		fmt.Fprintf(&b, "| Repository | %s @ `%s` |\n", repo.FullName(), repo.Ref)
	} else {
		fmt.Fprintf(&b, "| Repository | %s |\n", repo.FullName())
	}
	if job.Trigger.Actor != "" {
		fmt.Fprintf(&b, "| Actor | %s |\n", job.Trigger.Actor)
	}
	if job.Trigger.IssueNumber > 0 {
		fmt.Fprintf(&b, "| Issue | #%d |\n", job.Trigger.IssueNumber)
	}
	fmt.Fprintf(&b, "| Created | %s |\n", job.CreatedAt.Local().Format(time.DateTime))
	if job.WorkerID != "" {
		fmt.Fprintf(&b, "| Worker | %s (epoch %d) |\n", job.WorkerID, job.LeaseEpoch)
	}
	if job.State == core.JobLeased && !job.LeaseExpiresAt.IsZero() {
		fmt.Fprintf(&b, "| Lease expires | %s |\n", job.LeaseExpiresAt.Local().Format(time.DateTime))
	}
	if !job.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "| Finished | %s (%s) |\n",
			job.FinishedAt.Local().Format(time.DateTime),
			job.FinishedAt.Sub(job.CreatedAt).Round(time.Millisecond))
	}

	var effects []core.Effect
	switch {
	case job.Outcome != nil:
		b.WriteString("\n## Outcome\n\n")
		if job.Outcome.Value != "" {
			fmt.Fprintf(&b, "```\n%s\n```\n", job.Outcome.Value)
		}
		effects = job.Outcome.Effects
	case job.Failure != nil:
		f := job.Failure
		fmt.Fprintf(&b, "\n## Failure: %s\n\n", f.Kind)
		fmt.Fprintf(&b, "```\n%s\n```\n", f.Message)
		if f.Op != "" {
			fmt.Fprintf(&b, "\nOperation: `%s`\n", f.Op)
		}
		if f.Position != nil {
			fmt.Fprintf(&b, "\nAt: `%s`\n", f.Position)
		}
		effects = f.Effects
	}

	if len(effects) > 0 {
		b.WriteString("\n## Effects\n\n")
		for _, e := range effects {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		if job.Failure != nil {
			b.WriteString("\n*These changes were not rolled back.*\n")
		}
	}
	return b.String()
}

// renderMarkdown renders md for a terminal of the given width, falling back
// to the raw text when rendering fails.
func renderMarkdown(md string, width int) string {
	if width < 20 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
