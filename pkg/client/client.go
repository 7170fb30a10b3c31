package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to the control API of a running `sidekick run`.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8089/api",
		Timeout: 15 * time.Second,
	}
}

// New creates a new sidekick API client
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the supervisor is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Supervisor unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	isReachable := resp.StatusCode != http.StatusNotFound
	c.logger.Debug("Supervisor reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

// Status returns the supervisor state.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/status", &st)
	return st, err
}

// Logs returns the last tail captured lines; tail <= 0 returns all.
func (c *Client) Logs(ctx context.Context, tail int) ([]LogEntry, error) {
	var entries []LogEntry
	err := c.doJSON(ctx, http.MethodGet, c.logsURL(tail, false), &entries)
	return entries, err
}

// LogText returns the captured lines formatted as "[STDOUT] line".
func (c *Client) LogText(ctx context.Context, tail int) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, c.logsURL(tail, true))
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.handleErrorResponse(resp); err != nil {
		return "", err
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read logs: %w", err)
	}
	return string(b), nil
}

// Server-side /ensure wait: default when none is given, and the cap the
// server applies.
const (
	DefaultEnsureWait = 8 * time.Second
	MaxEnsureWait     = 13 * time.Second
	ensureSlack       = 2 * time.Second
)

// Ensure waits until the sidecar is ready. wait <= 0 uses the server default;
// the server caps it at MaxEnsureWait. The request timeout is raised so the
// server's answer always arrives.
func (c *Client) Ensure(ctx context.Context, wait time.Duration) error {
	u := c.baseURL + "/ensure"
	if wait > 0 {
		u += "?wait=" + url.QueryEscape(wait.String())
	} else {
		wait = DefaultEnsureWait
	}
	hc := *c.client
	if need := min(wait, MaxEnsureWait) + ensureSlack; hc.Timeout > 0 && hc.Timeout < need {
		hc.Timeout = need
	}
	return c.doJSONWith(ctx, &hc, http.MethodPost, u, nil)
}

// Kill terminates the owned sidecar and reports whether one was running.
func (c *Client) Kill(ctx context.Context) (bool, error) {
	var kr killResponse
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/kill", &kr)
	return kr.Killed, err
}

// InstallCLI installs the CLI and returns the install path.
func (c *Client) InstallCLI(ctx context.Context) (string, error) {
	var ir installResponse
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/install-cli", &ir)
	return ir.Path, err
}

// SyncCLI refreshes an outdated CLI and returns which branch ran.
func (c *Client) SyncCLI(ctx context.Context) (string, error) {
	var sr syncResponse
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/sync-cli", &sr)
	return sr.Result, err
}

func (c *Client) logsURL(tail int, text bool) string {
	q := url.Values{}
	if tail > 0 {
		q.Set("tail", strconv.Itoa(tail))
	}
	if text {
		q.Set("format", "text")
	}
	u := c.baseURL + "/logs"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, url string) (*http.Response, error) {
	return c.doWith(ctx, c.client, method, url)
}

func (c *Client) doWith(ctx context.Context, hc *http.Client, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

// doJSON performs a request and decodes a 200 body into out when non-nil.
func (c *Client) doJSON(ctx context.Context, method, url string, out any) error {
	return c.doJSONWith(ctx, c.client, method, url, out)
}

func (c *Client) doJSONWith(ctx context.Context, hc *http.Client, method, url string, out any) error {
	resp, err := c.doWith(ctx, hc, method, url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Message: errorResp.Error}
}

// APIError is a non-200 reply carrying the server's message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return e.Message }
