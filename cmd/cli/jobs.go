package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/internal/queueclient"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [id]",
	Short: "List queued and finished jobs, or show one job",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJobs,
}

func init() { //nolint:gochecknoinits // Cobra command registration
	jobsCmd.Flags().StringP("state", "s", "", "Only list jobs in this state (queued, leased, completed, failed)")
	jobsCmd.Flags().IntP("limit", "n", 20, "Maximum number of jobs to list")
	jobsCmd.Flags().Bool("json", false, "Print raw JSON")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfg, _, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client := queueclient.New(cfg.Queue.URL, cfg.Queue.Token)
	asJSON, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		job, err := client.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd, job)
		}
		printJob(cmd, job)
		return nil
	}

	state, _ := cmd.Flags().GetString("state")
	limit, _ := cmd.Flags().GetInt("limit")
	list, err := client.List(ctx, core.JobFilter{State: core.JobState(state), Limit: limit})
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd, list)
	}
	if len(list) == 0 {
		dimColor.Fprintln(out, "no jobs")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tREPO\tSCRIPT\tCREATED")
	for _, job := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			job.ID,
			stateColor(job.State).Sprint(job.State),
			job.Trigger.Repo.FullName(),
			job.ScriptPath,
			job.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func printJob(cmd *cobra.Command, job *core.Job) {
	out := cmd.OutOrStdout()
	titleColor.Fprintf(out, "Job %s\n", job.ID)
	fmt.Fprintf(out, "  State:   %s\n", stateColor(job.State).Sprint(job.State))
	fmt.Fprintf(out, "  Script:  %s %v\n", job.ScriptPath, job.Args)
	fmt.Fprintf(out, "  Repo:    %s @ %s\n", job.Trigger.Repo.FullName(), job.Trigger.Repo.Ref)
	if job.Trigger.Actor != "" {
		fmt.Fprintf(out, "  Actor:   %s\n", job.Trigger.Actor)
	}
	if job.WorkerID != "" {
		fmt.Fprintf(out, "  Worker:  %s (epoch %d)\n", job.WorkerID, job.LeaseEpoch)
	}
	switch {
	case job.Outcome != nil:
		printResult(out, core.Result{Outcome: job.Outcome}, job.FinishedAt.Sub(job.CreatedAt))
	case job.Failure != nil:
		printResult(out, core.Result{Failure: job.Failure}, job.FinishedAt.Sub(job.CreatedAt))
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
