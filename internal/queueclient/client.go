// Package queueclient talks to the queue HTTP surface of a ci-script server,
// so workers on other machines can lease and acknowledge jobs.
package queueclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/internal/server/handler"
)

// Client implements core.WorkQueue over HTTP. Protocol errors reported by the
// server are mapped back onto the core sentinels.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the server at baseURL, e.g. "http://queue:8080".
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1/queue",
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

var _ core.WorkQueue = (*Client)(nil)

func (c *Client) Lease(ctx context.Context, workerID string, d time.Duration) (*core.Job, error) {
	var resp handler.LeaseResponse
	status, err := c.do(ctx, http.MethodPost, "/lease", handler.LeaseRequest{
		WorkerID:     workerID,
		LeaseSeconds: seconds(d),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("lease: %w", err)
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	// the lease in the response is authoritative for the epoch
	resp.Job.WorkerID = resp.Lease.WorkerID
	resp.Job.LeaseEpoch = resp.Lease.Epoch
	resp.Job.LeaseExpiresAt = resp.Lease.ExpiresAt
	return resp.Job, nil
}

func (c *Client) Acknowledge(ctx context.Context, lease core.Lease, result core.Result) error {
	if err := result.Validate(); err != nil {
		return err
	}
	_, err := c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(lease.JobID)+"/ack", handler.AckRequest{
		WorkerID: lease.WorkerID,
		Epoch:    lease.Epoch,
		Outcome:  result.Outcome,
		Failure:  result.Failure,
	}, nil)
	if err != nil {
		return fmt.Errorf("acknowledge %s: %w", lease.JobID, err)
	}
	return nil
}

func (c *Client) Renew(ctx context.Context, lease core.Lease, d time.Duration) (*core.Lease, error) {
	var renewed core.Lease
	_, err := c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(lease.JobID)+"/renew", handler.RenewRequest{
		WorkerID:     lease.WorkerID,
		Epoch:        lease.Epoch,
		LeaseSeconds: seconds(d),
	}, &renewed)
	if err != nil {
		return nil, fmt.Errorf("renew %s: %w", lease.JobID, err)
	}
	return &renewed, nil
}

// Enqueue creates a job directly, bypassing trigger routing.
func (c *Client) Enqueue(ctx context.Context, job *core.Job) (string, error) {
	var resp handler.EnqueueResponse
	_, err := c.do(ctx, http.MethodPost, "/jobs", handler.EnqueueRequest{
		ScriptPath: job.ScriptPath,
		Args:       job.Args,
		Trigger:    job.Trigger,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return resp.ID, nil
}

func (c *Client) Get(ctx context.Context, id string) (*core.Job, error) {
	var job core.Job
	if _, err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return &job, nil
}

func (c *Client) List(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	q := url.Values{}
	if filter.State != "" {
		q.Set("state", string(filter.State))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var jobs []*core.Job
	if _, err := c.do(ctx, http.MethodGet, path, nil, &jobs); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return jobs, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resp.StatusCode, statusError(resp)
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// statusError rebuilds the sentinel a server-side error was derived from.
func statusError(resp *http.Response) error {
	var body handler.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusNotFound:
		if strings.Contains(body.Error, core.ErrJobNotFound.Error()) {
			sentinel = core.ErrJobNotFound
		}
	case http.StatusConflict:
		sentinel = conflict(body.Error)
	case http.StatusBadRequest:
		if strings.Contains(body.Error, core.ErrInvalidResult.Error()) {
			sentinel = core.ErrInvalidResult
		}
	}
	if sentinel == nil {
		return fmt.Errorf("server returned %s: %s", resp.Status, body.Error)
	}
	return fmt.Errorf("%w (server: %s)", sentinel, body.Error)
}

func conflict(msg string) error {
	for _, err := range []error{core.ErrJobTerminal, core.ErrLeaseNotFound, core.ErrStaleAcknowledgment} {
		if strings.Contains(msg, err.Error()) {
			return err
		}
	}
	return errors.New(msg)
}

func seconds(d time.Duration) int {
	s := int(d / time.Second)
	if s < 1 && d > 0 {
		return 1
	}
	return s
}
