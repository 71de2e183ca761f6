package queueclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/ci-script/internal/clock"
	"github.com/sevigo/ci-script/internal/config"
	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/internal/queue"
	"github.com/sevigo/ci-script/internal/queue/queuetest"
	"github.com/sevigo/ci-script/internal/server"
)

// remoteQueue drives a server-side queue through the HTTP client. Reap is
// not part of the wire surface and goes to the backing queue directly.
type remoteQueue struct {
	*Client
	backing core.JobQueue
}

func (r remoteQueue) Reap(ctx context.Context) (int, error) {
	return r.backing.Reap(ctx)
}

func newRemote(t *testing.T, clk clock.Clock, token string) (remoteQueue, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backing := queue.NewMemory(clk, logger)
	cfg := &config.Config{Queue: config.QueueConfig{Token: token, LeaseDuration: time.Minute}}
	srv := httptest.NewServer(server.NewRouter(cfg, backing, nil, logger))
	t.Cleanup(srv.Close)
	return remoteQueue{Client: New(srv.URL, token), backing: backing}, srv.URL
}

func TestClientQueueContract(t *testing.T) {
	queuetest.Run(t, func(t *testing.T, clk *clock.FakeClock) core.JobQueue {
		q, _ := newRemote(t, clk, "secret")
		return q
	})
}

func TestClientWrongToken(t *testing.T) {
	_, url := newRemote(t, clock.Real(), "secret")
	c := New(url, "nope")

	_, err := c.Lease(context.Background(), "w1", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestClientUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := New(srv.URL, "").Lease(context.Background(), "w1", time.Minute)
	assert.Error(t, err)
}

func TestClientPlainNotFoundIsNotJobNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	_, err := New(srv.URL, "").Get(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrJobNotFound)
}

func TestSecondsRoundsUp(t *testing.T) {
	assert.Equal(t, 1, seconds(10*time.Millisecond))
	assert.Equal(t, 90, seconds(90*time.Second))
	assert.Equal(t, 0, seconds(0))
}
