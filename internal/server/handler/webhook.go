// Package handler provides the HTTP handlers of the ci-script server.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v73/github"

	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/internal/reactor"
)

// TriggerHandler turns an authenticated trigger into a job.
type TriggerHandler interface {
	HandleTrigger(ctx context.Context, ev *core.TriggerEvent) (string, error)
}

// WebhookHandler processes incoming webhooks from GitHub.
type WebhookHandler struct {
	secret string
	router TriggerHandler
	logger *slog.Logger
}

// NewWebhookHandler creates a webhook handler validating payloads with secret.
func NewWebhookHandler(secret string, router TriggerHandler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret: secret,
		router: router,
		logger: logger,
	}
}

// Handle processes GitHub webhook requests.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := github.ValidatePayload(r, []byte(h.secret))
	if err != nil {
		h.logger.Error("invalid webhook payload signature", "error", err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		h.logger.Error("could not parse webhook", "error", err)
		http.Error(w, "Could not parse webhook", http.StatusBadRequest)
		return
	}

	switch e := event.(type) {
	case *github.IssueCommentEvent:
		h.handleIssueComment(r.Context(), w, e)
	default:
		h.logger.Debug("ignoring unhandled webhook event type", "type", github.WebHookType(r))
		_, _ = fmt.Fprint(w, "Event type not handled")
	}
}

func (h *WebhookHandler) handleIssueComment(ctx context.Context, w http.ResponseWriter, event *github.IssueCommentEvent) {
	trigger, err := core.EventFromIssueComment(event)
	if err != nil {
		h.logger.Debug("ignoring issue comment", "reason", err.Error(), "repo", event.GetRepo().GetFullName())
		_, _ = fmt.Fprint(w, "Comment ignored")
		return
	}

	id, err := h.router.HandleTrigger(ctx, trigger)
	switch {
	case errors.Is(err, reactor.ErrScriptNotFound):
		_, _ = fmt.Fprint(w, "Script not found")
		return
	case err != nil:
		h.logger.Error("failed to route trigger", "error", err, "repo", trigger.Repo.FullName())
		http.Error(w, "Failed to enqueue job", http.StatusInternalServerError)
		return
	case id == "":
		_, _ = fmt.Fprint(w, "Comment ignored")
		return
	}

	h.logger.Info("job accepted", "job_id", id, "repo", trigger.Repo.FullName(), "issue", trigger.IssueNumber)
	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintf(w, "Job %s accepted", id)
}
