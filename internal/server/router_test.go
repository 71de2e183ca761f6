package server

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sevigo/ci-script/internal/clock"
	"github.com/sevigo/ci-script/internal/config"
	"github.com/sevigo/ci-script/internal/queue"
)

func testRouter(token string) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Queue: config.QueueConfig{Token: token, LeaseDuration: time.Minute}}
	return NewRouter(cfg, queue.NewMemory(clock.Real(), logger), nil, logger)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter("").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestQueueRoutesRequireToken(t *testing.T) {
	r := testRouter("tok")
	lease := func(auth string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/queue/lease", bytes.NewBufferString(`{"worker_id":"w"}`))
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, lease(""))
	assert.Equal(t, http.StatusUnauthorized, lease("Bearer nope"))
	assert.Equal(t, http.StatusUnauthorized, lease("tok"))
	assert.Equal(t, http.StatusNoContent, lease("Bearer tok"))
}

func TestQueueRoutesOpenWithoutToken(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter("").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/queue/jobs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestWebhookRouteNeedsRouter(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter("").ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/webhook/github", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
