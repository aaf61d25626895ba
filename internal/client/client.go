package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	httpapi "github.com/GriffinCanCode/ptyd/internal/api/http"
	"github.com/GriffinCanCode/ptyd/internal/providers/terminal"
	"github.com/GriffinCanCode/ptyd/internal/shared/types"
)

// DefaultBaseURL is where ptyd listens unless configured otherwise.
const DefaultBaseURL = "http://127.0.0.1:8080"

// Config configures a Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	Retries   int
	MinWait   time.Duration
	MaxWait   time.Duration
	UserAgent string
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		Timeout:   30 * time.Second,
		Retries:   3,
		MinWait:   200 * time.Millisecond,
		MaxWait:   2 * time.Second,
		UserAgent: "ptyd-client/1.0",
	}
}

// Client talks to a ptyd server over REST and websockets.
type Client struct {
	rest *resty.Client
	base string
}

type noRetryKey struct{}

// New creates a client. Reads and every mutating request are sent once;
// only side-effect free lookups are retried.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MinWait <= 0 {
		cfg.MinWait = def.MinWait
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	rest := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.MinWait).
		SetRetryMaxWaitTime(cfg.MaxWait).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json").
		SetTransport(retryClient.HTTPClient.Transport).
		AddRetryCondition(retryable)

	return &Client{rest: rest, base: strings.TrimRight(cfg.BaseURL, "/")}
}

// retryable applies retryablehttp's policy to GETs not marked as consuming.
func retryable(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	ctx := r.Request.Context()
	if ctx.Value(noRetryKey{}) != nil {
		return false
	}
	retry, _ := retryablehttp.DefaultRetryPolicy(ctx, r.RawResponse, err)
	return retry
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.base
}

// APIError is a failed request. It matches the terminal error kinds with
// errors.Is, so callers can test for terminal.ErrSessionNotFound and
// friends across the wire.
type APIError struct {
	Status      int
	Code        string
	Message     string
	ExitCode    *int
	Signal      string
	Reason      string
	FinalOutput string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ptyd: %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("ptyd: %s (%s)", e.Message, e.Code)
}

var codeKinds = map[string][]error{
	"session_not_found":       {terminal.ErrSessionNotFound},
	"session_timeout":         {terminal.ErrSessionTimeout, terminal.ErrSessionTerminated},
	"session_terminated":      {terminal.ErrSessionTerminated},
	"invalid_key":             {terminal.ErrInvalidKey},
	"invalid_config":          {terminal.ErrInvalidConfig},
	"invalid_command":         {terminal.ErrInvalidCommand},
	"resource_limit_exceeded": {terminal.ErrResourceLimit},
	"permission_denied":       {terminal.ErrPermissionDenied},
	"pty_error":               {terminal.ErrPTY},
	"io_error":                {terminal.ErrIO},
}

// Is reports whether the server-side error kind matches target.
func (e *APIError) Is(target error) bool {
	for _, kind := range codeKinds[e.Code] {
		if kind == target {
			return true
		}
	}
	return false
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.rest.R().SetContext(ctx).SetError(&httpapi.ErrorResponse{})
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("ptyd request failed: %w", err)
	}
	if !resp.IsError() {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode()}
	if body, ok := resp.Error().(*httpapi.ErrorResponse); ok && body.Code != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
		apiErr.ExitCode = body.ExitCode
		apiErr.Signal = body.Signal
		apiErr.Reason = body.Reason
		apiErr.FinalOutput = body.FinalOutput
	} else {
		apiErr.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode()), " ", "_"))
		apiErr.Message = strings.TrimSpace(resp.String())
	}
	return apiErr
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := check(c.request(ctx).SetResult(&out).Get("/health"))
	return out, err
}

// Keys lists the key names the server accepts.
func (c *Client) Keys(ctx context.Context) ([]string, error) {
	var out struct {
		Keys []string `json:"keys"`
	}
	err := check(c.request(ctx).SetResult(&out).Get("/keys"))
	return out.Keys, err
}

// ListSessions returns every live session.
func (c *Client) ListSessions(ctx context.Context) ([]terminal.SessionInfo, error) {
	var out struct {
		Sessions []terminal.SessionInfo `json:"sessions"`
	}
	err := check(c.request(ctx).SetResult(&out).Get("/sessions"))
	return out.Sessions, err
}

// CreateSession starts a session, or returns the one already live under
// req.ID. An empty ID lets the server pick one.
func (c *Client) CreateSession(ctx context.Context, req types.CreateSessionRequest) (terminal.SessionInfo, error) {
	var out terminal.SessionInfo
	err := check(c.request(ctx).SetBody(req).SetResult(&out).Post("/sessions"))
	return out, err
}

// GetSession returns one session's metadata.
func (c *Client) GetSession(ctx context.Context, id string) (terminal.SessionInfo, error) {
	var out terminal.SessionInfo
	err := check(c.request(ctx).SetPathParam("id", id).SetResult(&out).Get("/sessions/{id}"))
	return out, err
}

// Kill terminates a session. It reports whether one was registered.
func (c *Client) Kill(ctx context.Context, id string) (bool, error) {
	var out struct {
		Removed bool `json:"removed"`
	}
	err := check(c.request(ctx).SetPathParam("id", id).SetResult(&out).Delete("/sessions/{id}"))
	return out.Removed, err
}

// Write types text into a session, starting it with the server's default
// command if it does not exist.
func (c *Client) Write(ctx context.Context, id, text string) error {
	return check(c.request(ctx).
		SetPathParam("id", id).
		SetBody(types.WriteRequest{Text: text}).
		Post("/sessions/{id}/write"))
}

// SendKey sends a named key such as "enter" or "ctrl_c".
func (c *Client) SendKey(ctx context.Context, id, key string) error {
	return check(c.request(ctx).
		SetPathParam("id", id).
		SetBody(types.KeyRequest{Key: key}).
		Post("/sessions/{id}/keys"))
}

// Read consumes output accumulated since the last read. A zero timeout
// returns immediately; a non-positive maxBytes uses the server default.
func (c *Client) Read(ctx context.Context, id string, timeout time.Duration, maxBytes int) (terminal.ReadResult, error) {
	req := c.request(context.WithValue(ctx, noRetryKey{}, true)).
		SetPathParam("id", id).
		SetQueryParam("timeout_ms", strconv.FormatInt(timeout.Milliseconds(), 10))
	if maxBytes > 0 {
		req.SetQueryParam("max_bytes", strconv.Itoa(maxBytes))
	}

	var out terminal.ReadResult
	err := check(req.SetResult(&out).Get("/sessions/{id}/read"))
	return out, err
}

// Resize changes a session's terminal size.
func (c *Client) Resize(ctx context.Context, id string, rows, cols int) error {
	return check(c.request(ctx).
		SetPathParam("id", id).
		SetBody(types.ResizeRequest{Rows: rows, Cols: cols}).
		Post("/sessions/{id}/resize"))
}

// ErrNoResult is returned by Execute when the server answered without a
// result body.
var ErrNoResult = errors.New("ptyd: empty service result")

// Execute runs a service tool such as "terminal.read".
func (c *Client) Execute(ctx context.Context, toolID string, params map[string]interface{}) (*types.Result, error) {
	var out types.Result
	resp, err := c.request(context.WithValue(ctx, noRetryKey{}, true)).
		SetBody(types.ExecuteRequest{ToolID: toolID, Params: params}).
		SetResult(&out).
		Post("/services/execute")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	if len(resp.Body()) == 0 {
		return nil, ErrNoResult
	}
	return &out, nil
}
