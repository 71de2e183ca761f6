package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/internal/engine"
	"github.com/sevigo/ci-script/internal/github"
	"github.com/sevigo/ci-script/internal/gitutil"
	"github.com/sevigo/ci-script/internal/jobs"
	"github.com/sevigo/ci-script/internal/repomanager"
)

var errScriptFailed = errors.New("script failed")

var runCmd = &cobra.Command{
	Use:   "run <script> [args...]",
	Short: "Run a script directly against a local checkout",
	Long: `Run a script directly against a local checkout, without a queue.

The script path is relative to the repository root. Everything after it is
passed to the script as ARGS. This is meant for CI pipeline steps.

Examples:
  ci-script run .github/bench/compare.js main
  ci-script run --repo ../service --owner org --name service .github/fmt/all.js`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScript,
}

func init() { //nolint:gochecknoinits // Cobra command registration
	flags := runCmd.Flags()
	flags.SetInterspersed(false)
	flags.String("repo", "./", "Path to the repository checkout")
	flags.String("clone-dir", "", "Directory scripts clone other repositories into")
	flags.String("owner", "", "Owner of the upstream GitHub repository")
	flags.String("name", "", "Name of the upstream GitHub repository")
	flags.Duration("timeout", 0, "Script deadline")

	bindFlags(runCmd, map[string]string{
		"REPO_PATH":      "repo",
		"WORK_DIR":       "clone-dir",
		"GITHUB_OWNER":   "owner",
		"GITHUB_NAME":    "name",
		"SCRIPT_TIMEOUT": "timeout",
	})
	rootCmd.AddCommand(runCmd)
}

func runScript(cmd *cobra.Command, args []string) error {
	cfg, log, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repoDir, err := filepath.Abs(viper.GetString("REPO_PATH"))
	if err != nil {
		return fmt.Errorf("invalid repository path: %w", err)
	}
	coords := core.RepoRef{Owner: cfg.GitHub.Owner, Name: cfg.GitHub.Name, LocalPath: repoDir}
	if coords.Owner == "" {
		coords.Owner = "local"
	}
	if coords.Name == "" {
		coords.Name = filepath.Base(repoDir)
	}

	var forge github.Client
	var token string
	if cfg.GitHub.Owner != "" && cfg.GitHub.Name != "" {
		forge, token, err = github.NewClientFactory(&cfg.GitHub, log).ForRepository(ctx, coords.Owner, coords.Name)
		if err != nil {
			log.Warn("running without forge access", "repo", coords.FullName(), "error", err)
			forge = nil
		}
	}

	manager := repomanager.New(cfg.Worker.WorkDir, gitutil.NewClient(log), log)
	ws, err := manager.Attach("run-"+uuid.NewString(), repoDir, coords, token)
	if err != nil {
		return err
	}
	defer ws.Close()

	out := cmd.OutOrStdout()
	titleColor.Fprintln(out, "▶ ci-script run")
	dimColor.Fprintf(out, "   Script: %s\n   Repository: %s (%s)\n", args[0], repoDir, coords.FullName())

	start := time.Now()
	result := jobs.Execute(ctx, engine.New(log), cfg.Script, jobs.Invocation{
		Workspace:  ws,
		ScriptPath: args[0],
		Args:       args[1:],
		Forge:      forge,
		Logger:     log,
	})
	printResult(out, result, time.Since(start))

	if result.Failure != nil {
		return fmt.Errorf("%w: %s", errScriptFailed, result.Failure.Error())
	}
	return nil
}
