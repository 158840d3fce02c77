// Package backend is the HTTP client for the browser-automation backend.
//
// The backend owns the actual browser: it interprets natural-language
// commands, drives the page, and publishes its visual state both as a
// websocket frame stream and as a static "latest screenshot" resource.
// This package only speaks the published contract; it knows nothing
// about how commands are interpreted.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	perrors "github.com/periscope-dev/periscope/pkg/errors"
	"github.com/periscope-dev/periscope/pkg/logging"
)

const (
	executePath    = "/execute/"
	debugURLPath   = "/debug-url/"
	screenshotPath = "/screenshots/browser_screenshot_latest.png"
	streamPath     = "/ws/browser"

	maxErrorBodyBytes = 64 << 10
)

// ExecuteResponse is the backend's reply to a command submission.
type ExecuteResponse struct {
	Command  string `json:"command"`
	Response string `json:"response"`
}

// errorBody is the optional failure payload shape.
type errorBody struct {
	Detail string `json:"detail"`
}

type debugURLResponse struct {
	DebugURL string `json:"debug_url"`
}

// Client calls the backend REST endpoints.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a backend client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, perrors.New(perrors.ErrCodeInvalidInput, "backend base URL must be absolute").
			WithContext("base_url", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Execute submits a natural-language command and returns the backend's
// textual result. The command text is sent verbatim.
func (c *Client) Execute(ctx context.Context, command string) (*ExecuteResponse, error) {
	body, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return nil, perrors.Wrap(err, perrors.ErrCodeInternal, "failed to encode command")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(executePath), bytes.NewReader(body))
	if err != nil {
		return nil, perrors.Wrap(err, perrors.ErrCodeBackendRequest, "failed to build execute request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error(logging.CategoryNetwork, "execute_failed", "execute request failed",
			map[string]any{"error": err.Error()})
		return nil, perrors.Wrap(err, perrors.ErrCodeBackendRequest, "execute request failed").
			WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(resp, "execute")
	}

	var out ExecuteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, perrors.Wrap(err, perrors.ErrCodeBackendDecode, "failed to decode execute response")
	}
	return &out, nil
}

// DebugURL fetches the backend's remote-debugging URL. Callers invoke
// this once at startup; a failure degrades silently to an empty value.
func (c *Client) DebugURL(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(debugURLPath), nil)
	if err != nil {
		return "", perrors.Wrap(err, perrors.ErrCodeBackendRequest, "failed to build debug-url request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", perrors.Wrap(err, perrors.ErrCodeBackendRequest, "debug-url request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.statusError(resp, "debug-url")
	}

	var out debugURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", perrors.Wrap(err, perrors.ErrCodeBackendDecode, "failed to decode debug-url response")
	}
	return out.DebugURL, nil
}

// ScreenshotURL builds a reference to the backend's latest screenshot
// with a fresh uniqueness token so image surfaces never serve a cached
// copy. The screenshot is produced asynchronously by the backend; the
// reference points at whatever is latest at fetch time.
func (c *Client) ScreenshotURL() string {
	u := *c.baseURL
	u.Path = screenshotPath
	q := url.Values{}
	q.Set("t", NewFrameToken())
	u.RawQuery = q.Encode()
	return u.String()
}

// StreamURL returns the websocket endpoint for the visual frame stream,
// derived from the backend base URL.
func (c *Client) StreamURL() string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = streamPath
	u.RawQuery = ""
	return u.String()
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = path
	return u.String()
}

// statusError turns a non-2xx response into a structured error,
// preferring the backend's own detail message when it provides one.
func (c *Client) statusError(resp *http.Response, op string) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	e := perrors.New(perrors.ErrCodeBackendStatus, fmt.Sprintf("%s returned status %d", op, resp.StatusCode)).
		WithContext("status", resp.StatusCode).
		WithRetryable(resp.StatusCode >= 500)

	var eb errorBody
	if json.Unmarshal(data, &eb) == nil && eb.Detail != "" {
		e = e.WithUserMessage(eb.Detail)
	} else {
		e = e.WithUserMessage(fmt.Sprintf("request failed with status %d", resp.StatusCode))
	}

	c.logger.Warn(logging.CategoryNetwork, "backend_status", e.UserFacing(),
		map[string]any{"op": op, "status": resp.StatusCode})
	return e
}
