package reactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"

	"github.com/sevigo/ci-script/internal/config"
	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/internal/github"
)

// ErrScriptNotFound means the command resolved to a path that does not exist
// in the triggering repository. No job was enqueued.
var ErrScriptNotFound = errors.New("script not found")

// Enqueuer is the part of the job queue the router needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *core.Job) (string, error)
}

// Router resolves commands to scripts by convention:
// <root>/<keyword>/<script><ext> inside the triggering repository.
type Router struct {
	cfg    config.TriggerConfig
	queue  Enqueuer
	forges github.ClientFactory
	logger *slog.Logger
}

func New(cfg config.TriggerConfig, queue Enqueuer, forges github.ClientFactory, logger *slog.Logger) *Router {
	return &Router{cfg: cfg, queue: queue, forges: forges, logger: logger}
}

// ScriptPath returns where the script for keyword/name lives.
func (r *Router) ScriptPath(keyword, name string) string {
	return path.Join(r.cfg.Root, keyword, name+r.cfg.ScriptExt)
}

// HandleTrigger enqueues a job for ev and returns its id. An empty id with a
// nil error means the message was ignored. A command whose script is missing
// is answered with a comment and returns ErrScriptNotFound.
func (r *Router) HandleTrigger(ctx context.Context, ev *core.TriggerEvent) (string, error) {
	cmd, ok := ParseCommand(r.cfg.CommandPrefix, ev.Message)
	if !ok {
		return "", nil
	}
	logger := r.logger.With("repo", ev.Repo.FullName(), "actor", ev.Actor, "keyword", cmd.Keyword)

	if len(r.cfg.AllowedAssociations) > 0 && !slices.Contains(r.cfg.AllowedAssociations, ev.Association) {
		logger.Info("ignoring command from actor outside allowed associations", "association", ev.Association)
		return "", nil
	}
	if len(r.cfg.AllowedKeywords) > 0 && !slices.Contains(r.cfg.AllowedKeywords, cmd.Keyword) {
		logger.Debug("ignoring command with unknown keyword")
		return "", nil
	}
	name := cmd.ScriptName()
	if !validName(name) {
		logger.Debug("ignoring command without a usable script name", "name", name)
		return "", nil
	}

	scriptPath := r.ScriptPath(cmd.Keyword, name)
	client, _, err := r.forges.ForInstallation(ctx, ev.InstallationID)
	if err != nil {
		return "", fmt.Errorf("failed to create forge client: %w", err)
	}

	exists, err := client.FileExists(ctx, ev.Repo.Owner, ev.Repo.Name, scriptPath, ev.Repo.Ref)
	if err != nil {
		return "", fmt.Errorf("failed to look up %s: %w", scriptPath, err)
	}
	if !exists {
		logger.Info("script not found", "path", scriptPath, "ref", ev.Repo.Ref)
		if ev.IssueNumber > 0 {
			body := fmt.Sprintf("Script `%s` for command `%s` was not found.", scriptPath, cmd.String(r.cfg.CommandPrefix))
			if err := client.CreateComment(ctx, ev.Repo.Owner, ev.Repo.Name, ev.IssueNumber, body); err != nil {
				logger.Error("failed to report missing script", "error", err)
			}
		}
		return "", fmt.Errorf("%w: %s", ErrScriptNotFound, scriptPath)
	}

	job := &core.Job{
		ScriptPath: scriptPath,
		Args:       cmd.ScriptArgs(),
		Trigger:    ev.Trigger,
	}
	id, err := r.queue.Enqueue(ctx, job)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	logger.Info("job enqueued from trigger", "job_id", id, "script", scriptPath, "args", job.Args)
	return id, nil
}
