// Package dispatch implements the HTTP client that hands work to the
// external agent system. The client is stateless; its only job is to
// POST a dispatch payload and interpret the synchronous acknowledgement.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/contentops/promoflow/pkg/api"
)

// DefaultTimeout bounds every outbound dispatch call. The agent does the
// real work asynchronously, so anything beyond acknowledging the request
// within this window is treated as a failure.
const DefaultTimeout = 10 * time.Second

const (
	workflowPath     = "/api/workflow/start"
	regenerationPath = "/api/workflow/regenerate"
)

// Error describes a failed dispatch attempt. StatusCode is zero when the
// call never produced an HTTP response (timeout, transport failure).
type Error struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("agent dispatch to %s failed: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("agent dispatch to %s failed: %v", e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPClient is an api.Dispatcher that talks to the agent system over
// HTTP. Success is an acknowledgement with status 200 or 202; everything
// else, including timeouts, is an *Error.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ api.Dispatcher = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient for the agent system at baseURL.
// apiKey, if non-empty, is sent as a bearer token.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
}

// NewHTTPClientWithTimeout creates an HTTPClient with a non-default
// acknowledgement timeout. Used by tests; production keeps
// DefaultTimeout.
func NewHTTPClientWithTimeout(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	c := NewHTTPClient(baseURL, apiKey)
	c.client.Timeout = timeout
	return c
}

func (c *HTTPClient) TriggerWorkflow(ctx context.Context, req api.DispatchRequest) error {
	return c.post(ctx, workflowPath, req)
}

func (c *HTTPClient) TriggerRegeneration(ctx context.Context, req api.DispatchRequest) error {
	return c.post(ctx, regenerationPath, req)
}

func (c *HTTPClient) post(ctx context.Context, path string, payload api.DispatchRequest) error {
	endpoint := c.baseURL + path

	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Endpoint: endpoint, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &Error{Endpoint: endpoint, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return &Error{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		return nil
	default:
		return &Error{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}
}
