// Package client is a small HTTP client for the mixbench dispatch server API.
// It speaks the wire types of pkg/api and turns error responses into ApiError
// values whose exit codes match the ones local store access would produce, so
// mixbenchctl behaves the same whichever way it is pointed at a queue.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
	"github.com/mixbenchproject/mixbench/pkg/api"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	baseUrl string
	client  *http.Client
}

func New(serverUrl string) *Client {
	return &Client{
		baseUrl: strings.TrimSuffix(serverUrl, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// SubmitOptions mirror the query parameters of the benchmark submission
// endpoint.
type SubmitOptions struct {
	Queue   string
	DryRun  bool
	TestRun bool
}

// Submit uploads a benchmark spec file body, YAML or JSON, exactly as the
// operator wrote it. Generation and enqueueing happen server side.
func (c *Client) Submit(ctx context.Context, spec []byte, opts SubmitOptions) (*api.SubmitResponse, error) {
	query := url.Values{}
	if opts.Queue != "" {
		query.Set("queue", opts.Queue)
	}
	if opts.DryRun {
		query.Set("dryRun", "true")
	}
	if opts.TestRun {
		query.Set("testRun", "true")
	}
	response := &api.SubmitResponse{}
	if err := c.do(ctx, http.MethodPost, "/api/v1/benchmarks", query, "application/yaml", spec, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *Client) Tick(ctx context.Context, queue string) (*api.TickResponse, error) {
	response := &api.TickResponse{}
	path := fmt.Sprintf("/api/v1/queues/%s/tick", url.PathEscape(queue))
	if err := c.do(ctx, http.MethodPost, path, nil, "", nil, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *Client) SetRunning(ctx context.Context, queue string, running bool) (*api.QueueStatus, error) {
	body, err := json.Marshal(&api.SetRunningRequest{Running: running})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	response := &api.QueueStatus{}
	path := fmt.Sprintf("/api/v1/queues/%s/running", url.PathEscape(queue))
	if err := c.do(ctx, http.MethodPut, path, nil, "application/json", body, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *Client) Status(ctx context.Context, queue string) (*api.QueueStatus, error) {
	response := &api.QueueStatus{}
	path := fmt.Sprintf("/api/v1/queues/%s", url.PathEscape(queue))
	if err := c.do(ctx, http.MethodGet, path, nil, "", nil, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, contentType string, body []byte, out interface{}) error {
	target := c.baseUrl + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "calling %s", path)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "reading response from %s", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.WithStack(newApiError(resp.StatusCode, payload))
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return errors.Wrapf(err, "parsing response from %s", path)
		}
	}
	return nil
}

// ApiError is returned for non-2xx responses. The concrete taxonomy type does
// not survive the wire, so the status code stands in for it when mapping to
// exit codes.
type ApiError struct {
	StatusCode int
	Message    string
	Hint       string
}

func newApiError(status int, payload []byte) *ApiError {
	parsed := &api.ErrorResponse{}
	message := strings.TrimSpace(string(payload))
	if err := json.Unmarshal(payload, parsed); err == nil && parsed.Error != "" {
		message = parsed.Error
	}
	return &ApiError{
		StatusCode: status,
		Message:    message,
		Hint:       parsed.Remediation,
	}
}

func (err *ApiError) Error() string {
	if err.Message != "" {
		return err.Message
	}
	return fmt.Sprintf("dispatch server returned status %d", err.StatusCode)
}

// Remediation returns the server's hint, so OperatorSummary renders remote
// failures the same way as local ones.
func (err *ApiError) Remediation() string {
	if err.Hint != "" {
		return err.Hint
	}
	return "check the dispatch server logs"
}

func (err *ApiError) ExitCode() int {
	switch err.StatusCode {
	case http.StatusBadRequest:
		return mixerrors.ExitInvalidConfig
	case http.StatusConflict:
		return mixerrors.ExitQueueBusy
	case http.StatusBadGateway:
		return mixerrors.ExitLauncherFailed
	default:
		return mixerrors.ExitUnknown
	}
}
