package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/internal/github"
	"github.com/sevigo/ci-script/internal/gitutil"
	"github.com/sevigo/ci-script/internal/queueclient"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <owner/repo> <script> [args...]",
	Short: "Queue a script run without a webhook",
	Long: `Queue a script run on a ci-script server, bypassing comment triggers.

Examples:
  ci-script enqueue org/service .github/bench/compare.js main
  ci-script enqueue --ref refs/pull/12/head --issue 12 org/service .github/fmt/all.js`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEnqueue,
}

func init() { //nolint:gochecknoinits // Cobra command registration
	flags := enqueueCmd.Flags()
	flags.SetInterspersed(false)
	flags.String("ref", "", "Branch or ref to check out (default branch when empty)")
	flags.Int("issue", 0, "Issue or pull request to report to")
	flags.String("clone-url", "", "Clone URL (defaults to the GitHub URL of the repository)")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cfg, log, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	owner, name, err := gitutil.ParseRepoFullName(args[0])
	if err != nil {
		return err
	}
	ref, _ := cmd.Flags().GetString("ref")
	issue, _ := cmd.Flags().GetInt("issue")
	cloneURL, _ := cmd.Flags().GetString("clone-url")
	if cloneURL == "" {
		cloneURL = gitutil.GitHubCloneURL(owner, name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if ref == "" {
		ref = defaultBranch(ctx, github.NewClientFactory(&cfg.GitHub, log), owner, name, log)
	}

	id, err := queueclient.New(cfg.Queue.URL, cfg.Queue.Token).Enqueue(ctx, &core.Job{
		ScriptPath: args[1],
		Args:       args[2:],
		Trigger: core.Trigger{
			Repo:        core.RepoRef{Owner: owner, Name: name, Ref: ref, CloneURL: cloneURL},
			Actor:       "cli",
			IssueNumber: issue,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	successColor.Fprintf(cmd.OutOrStdout(), "✓ job %s queued\n", id)
	return nil
}

// defaultBranch asks the forge for the repository's default branch. It returns
// "" when the forge cannot be reached, leaving the worker on the clone's HEAD.
func defaultBranch(ctx context.Context, forges github.ClientFactory, owner, name string, log *slog.Logger) string {
	client, _, err := forges.ForRepository(ctx, owner, name)
	if err != nil {
		log.Warn("cannot resolve default branch", "repo", owner+"/"+name, "error", err)
		return ""
	}
	repo, err := client.GetRepository(ctx, owner, name)
	if err != nil {
		log.Warn("cannot resolve default branch", "repo", owner+"/"+name, "error", err)
		return ""
	}
	return repo.GetDefaultBranch()
}
