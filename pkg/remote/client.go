// Package remote provides the single-call HTTP client used to reach the layout
// server: one request, one timeout, one typed error. It never retries.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Envelope is the response body shared by every layout server endpoint.
type Envelope struct {
	Success         bool            `json:"success"`
	Message         string          `json:"message,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	ExecutionOutput map[string]any  `json:"execution_output,omitempty"`
	ConfigUpdated   map[string]any  `json:"config_updated,omitempty"`
	FilePath        string          `json:"file_path,omitempty"`
}

// Failure returns a *BusinessError when the envelope reports success:false.
func (e *Envelope) Failure(endpoint string) error {
	if e == nil {
		return &BusinessError{Endpoint: endpoint, Message: "empty response"}
	}

	if e.Success {
		return nil
	}

	return &BusinessError{Endpoint: endpoint, Message: e.Message}
}

// Request describes one outbound call.
type Request struct {
	Endpoint string
	Method   string
	Body     any
	Timeout  time.Duration
}

// Client calls endpoints relative to a base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the layout server at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		headers: map[string]string{
			"Accept":        "application/json",
			"Cache-Control": "no-cache",
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With("module", "remote_client")

	return c
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Call performs the request and decodes the envelope. The business success
// flag is left for the caller to interpret.
func (c *Client) Call(ctx context.Context, req Request) (*Envelope, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := c.buildRequest(callCtx, req)
	if err != nil {
		return nil, &RemoteCallError{Endpoint: req.Endpoint, Cause: CauseRequest, Err: err}
	}

	started := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, &RemoteCallError{Endpoint: req.Endpoint, Cause: CauseTimeout, Err: err}
		}

		return nil, &RemoteCallError{Endpoint: req.Endpoint, Cause: CauseTransport, Err: err}
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	envelope, err := c.processResponse(callCtx, req, resp)

	c.logger.DebugContext(ctx, "Remote call finished",
		"endpoint", req.Endpoint,
		"method", httpReq.Method,
		"status", resp.StatusCode,
		"duration", time.Since(started),
	)

	return envelope, err
}

func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader

	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}

		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+req.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range c.headers {
		httpReq.Header.Set(key, value)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	return httpReq, nil
}

func (c *Client) processResponse(ctx context.Context, req Request, resp *http.Response) (*Envelope, error) {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		cause := CauseTransport
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			cause = CauseTimeout
		}

		return nil, &RemoteCallError{Endpoint: req.Endpoint, Status: resp.StatusCode, Cause: cause, Err: err}
	}

	var envelope Envelope

	decodeErr := json.Unmarshal(bodyBytes, &envelope)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		callErr := &RemoteCallError{
			Endpoint: req.Endpoint,
			Status:   resp.StatusCode,
			Cause:    CauseStatus,
			Err:      fmt.Errorf("unexpected status %s", resp.Status),
		}
		if decodeErr == nil {
			callErr.Message = envelope.Message
		}

		return nil, callErr
	}

	if decodeErr != nil {
		c.logger.WarnContext(ctx, "Failed to decode response body", "endpoint", req.Endpoint, "error", decodeErr)

		return nil, &RemoteCallError{Endpoint: req.Endpoint, Status: resp.StatusCode, Cause: CauseDecode, Err: decodeErr}
	}

	return &envelope, nil
}
