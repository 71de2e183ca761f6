package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/sevigo/ci-script/internal/config"
	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/internal/engine"
	"github.com/sevigo/ci-script/internal/github"
	"github.com/sevigo/ci-script/internal/gitutil"
	"github.com/sevigo/ci-script/internal/logger"
	"github.com/sevigo/ci-script/internal/repomanager"
)

// ScriptJob executes one job: it prepares a private checkout, loads the
// script from it and runs the script in the engine.
type ScriptJob struct {
	scriptCfg config.ScriptConfig
	repos     repomanager.Manager
	forges    github.ClientFactory
	engine    *engine.Engine
	logger    *slog.Logger
}

// NewScriptJob creates the runner used by the worker pool.
func NewScriptJob(scriptCfg config.ScriptConfig, repos repomanager.Manager, forges github.ClientFactory, eng *engine.Engine, logger *slog.Logger) core.JobRunner {
	return &ScriptJob{scriptCfg: scriptCfg, repos: repos, forges: forges, engine: eng, logger: logger}
}

// Run never returns an error; every failure becomes a FailureReason, and is
// reported on the triggering issue when there is one.
func (j *ScriptJob) Run(ctx context.Context, job *core.Job) core.Result {
	trig := job.Trigger
	log := logger.ForJob(j.logger, job.ID, trig.Repo.FullName(), job.WorkerID)

	client, token, err := j.forge(ctx, trig)
	if err != nil {
		if trig.Repo.LocalPath == "" {
			log.Error("failed to create forge client", "error", err)
			return failed(core.NewOperationFailure("forge", err))
		}
		log.Warn("running without forge access", "error", err)
		client = nil
	}

	result := j.execute(ctx, job, client, token, log)
	if result.Failure != nil && client != nil && trig.IssueNumber > 0 {
		body := fmt.Sprintf("Error running job: %s", result.Failure.Error())
		if err := client.CreateComment(ctx, trig.Repo.Owner, trig.Repo.Name, trig.IssueNumber, body); err != nil {
			log.Error("failed to report job failure", "error", err)
		}
	}
	return result
}

// forge authenticates for the job's repository. Jobs queued by hand carry no
// installation id, so the installation is looked up from the repository.
func (j *ScriptJob) forge(ctx context.Context, trig core.Trigger) (github.Client, string, error) {
	if trig.InstallationID != 0 {
		return j.forges.ForInstallation(ctx, trig.InstallationID)
	}
	return j.forges.ForRepository(ctx, trig.Repo.Owner, trig.Repo.Name)
}

func (j *ScriptJob) execute(ctx context.Context, job *core.Job, client github.Client, token string, log *slog.Logger) core.Result {
	trig := job.Trigger

	ws, err := j.repos.Prepare(ctx, job.ID, trig.Repo, token)
	if err != nil {
		log.Error("failed to prepare workspace", "error", err)
		return failed(core.NewOperationFailure("clone", err))
	}
	defer ws.Close()

	return Execute(ctx, j.engine, j.scriptCfg, Invocation{
		Workspace:   ws,
		ScriptPath:  job.ScriptPath,
		Args:        job.Args,
		Forge:       client,
		IssueNumber: trig.IssueNumber,
		Logger:      log,
	})
}

// Invocation is one script execution against a prepared workspace.
type Invocation struct {
	Workspace  *repomanager.Workspace
	ScriptPath string
	Args       []string
	// Forge and IssueNumber are optional. Without a forge scripts cannot
	// open pull requests and ISSUE is null.
	Forge       github.Client
	IssueNumber int
	Logger      *slog.Logger
}

// Execute loads the script and the repository configuration from the
// workspace checkout and runs the script in eng.
func Execute(ctx context.Context, eng *engine.Engine, scriptCfg config.ScriptConfig, inv Invocation) core.Result {
	ws := inv.Workspace
	log := inv.Logger

	source, err := ReadScript(ws.Dir, inv.ScriptPath)
	if err != nil {
		return failed(core.NewOperationFailure("read", err))
	}

	repoCfg, err := config.LoadRepoConfig(ws.Dir)
	if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
		log.Warn("ignoring invalid repository config", "file", config.RepoConfigFile, "error", err)
		repoCfg = core.DefaultRepoConfig()
	}
	settings := scriptCfg.Effective(repoCfg)

	opts := gitutil.HandleOptions{Token: ws.Token, Committer: settings.Committer, Logger: log}
	if inv.Forge != nil {
		opts.Forge = inv.Forge
	}
	handle, err := ws.Open(opts)
	if err != nil {
		return failed(core.NewOperationFailure("open", err))
	}

	ec := &engine.ExecutionContext{
		Repo:          handle,
		Args:          inv.Args,
		Cloner:        ws.Cloner(opts),
		Timeout:       settings.Timeout,
		MaxOperations: settings.MaxOperations,
		Tools:         settings.Tools,
		Env:           settings.Env,
		Logger:        log,
	}
	if inv.Forge != nil && inv.IssueNumber > 0 {
		ec.Issue = github.NewIssue(inv.Forge, ws.Repo.Owner, ws.Repo.Name, inv.IssueNumber)
	}
	return eng.Execute(ctx, inv.ScriptPath, source, ec)
}

// ReadScript reads scriptPath relative to root. The path cannot leave root.
func ReadScript(root, scriptPath string) (string, error) {
	full, err := securejoin.SecureJoin(root, scriptPath)
	if err != nil {
		return "", fmt.Errorf("invalid script path %s: %w", scriptPath, err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read script %s: %w", scriptPath, err)
	}
	return string(data), nil
}

func failed(reason *core.FailureReason) core.Result {
	return core.Result{Failure: reason}
}
