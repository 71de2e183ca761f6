package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sevigo/ci-script/internal/core"
)

const maxBodyBytes = 1 << 20

// LeaseRequest asks for the next queued job.
type LeaseRequest struct {
	WorkerID     string `json:"worker_id"`
	LeaseSeconds int    `json:"lease_seconds"`
}

// LeaseResponse carries a leased job and the lease that must be presented
// to acknowledge it.
type LeaseResponse struct {
	Job   *core.Job  `json:"job"`
	Lease core.Lease `json:"lease"`
}

// AckRequest reports the result of a leased job.
type AckRequest struct {
	WorkerID string              `json:"worker_id"`
	Epoch    int64               `json:"epoch"`
	Outcome  *core.Outcome       `json:"outcome,omitempty"`
	Failure  *core.FailureReason `json:"failure,omitempty"`
}

// RenewRequest extends a lease.
type RenewRequest struct {
	WorkerID     string `json:"worker_id"`
	Epoch        int64  `json:"epoch"`
	LeaseSeconds int    `json:"lease_seconds"`
}

// EnqueueRequest creates a job without a webhook.
type EnqueueRequest struct {
	ScriptPath string       `json:"script_path"`
	Args       []string     `json:"args"`
	Trigger    core.Trigger `json:"trigger"`
}

// EnqueueResponse returns the id of a new job.
type EnqueueResponse struct {
	ID string `json:"id"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// QueueHandler exposes a JobQueue to remote workers.
type QueueHandler struct {
	queue        core.JobQueue
	defaultLease time.Duration
	logger       *slog.Logger
}

func NewQueueHandler(queue core.JobQueue, defaultLease time.Duration, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{queue: queue, defaultLease: defaultLease, logger: logger}
}

// Lease answers 200 with a job, or 204 when nothing is queued.
func (h *QueueHandler) Lease(w http.ResponseWriter, r *http.Request) {
	var req LeaseRequest
	if !decode(w, r, &req) {
		return
	}
	if req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "worker_id is required")
		return
	}

	job, err := h.queue.Lease(r.Context(), req.WorkerID, h.duration(req.LeaseSeconds))
	if err != nil {
		h.fail(w, "lease", err)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, LeaseResponse{Job: job, Lease: job.Lease()})
}

func (h *QueueHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var req AckRequest
	if !decode(w, r, &req) {
		return
	}
	lease := core.Lease{JobID: chi.URLParam(r, "id"), WorkerID: req.WorkerID, Epoch: req.Epoch}
	result := core.Result{Outcome: req.Outcome, Failure: req.Failure}

	if err := h.queue.Acknowledge(r.Context(), lease, result); err != nil {
		h.fail(w, "acknowledge", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *QueueHandler) Renew(w http.ResponseWriter, r *http.Request) {
	var req RenewRequest
	if !decode(w, r, &req) {
		return
	}
	lease := core.Lease{JobID: chi.URLParam(r, "id"), WorkerID: req.WorkerID, Epoch: req.Epoch}

	renewed, err := h.queue.Renew(r.Context(), lease, h.duration(req.LeaseSeconds))
	if err != nil {
		h.fail(w, "renew", err)
		return
	}
	writeJSON(w, http.StatusOK, renewed)
}

func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ScriptPath == "" {
		writeError(w, http.StatusBadRequest, "script_path is required")
		return
	}
	if req.Args == nil {
		req.Args = []string{}
	}

	id, err := h.queue.Enqueue(r.Context(), &core.Job{ScriptPath: req.ScriptPath, Args: req.Args, Trigger: req.Trigger})
	if err != nil {
		h.fail(w, "enqueue", err)
		return
	}
	writeJSON(w, http.StatusCreated, EnqueueResponse{ID: id})
}

// List returns jobs newest first, optionally filtered by ?state= and ?limit=.
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := core.JobFilter{State: core.JobState(r.URL.Query().Get("state"))}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	jobs, err := h.queue.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	if jobs == nil {
		jobs = []*core.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *QueueHandler) duration(seconds int) time.Duration {
	if seconds <= 0 {
		return h.defaultLease
	}
	return time.Duration(seconds) * time.Second
}

// fail maps queue protocol errors to status codes.
func (h *QueueHandler) fail(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("queue operation failed", "op", op, "error", err)
	} else {
		h.logger.Warn("queue request rejected", "op", op, "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

// StatusFor returns the HTTP status a queue error is reported with.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrLeaseNotFound), errors.Is(err, core.ErrStaleAcknowledgment), errors.Is(err, core.ErrJobTerminal):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidResult):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
