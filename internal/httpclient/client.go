// Package httpclient is the single pipeline every backend call goes through:
// base URL, bearer injection, timeouts, 401 handling and uniform errors.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/starford/paperlens/internal/apperr"
)

const (
	DefaultTimeout = 10 * time.Second
	maxBodyBytes   = 16 << 20
)

// TokenSource yields the current bearer token; "" means unauthenticated.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a plain function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// UnauthorizedHandler runs once for every 401 response, before the error
// reaches the caller.
type UnauthorizedHandler func(ctx context.Context)

// Config holds the transport settings.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Request describes one backend call. Path is relative to the base URL.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	JSON    any
	Form    url.Values
	Timeout time.Duration
}

// Client performs backend calls.
type Client struct {
	base           *url.URL
	http           *http.Client
	tokens         TokenSource
	timeout        time.Duration
	userAgent      string
	onUnauthorized UnauthorizedHandler
	logger         *slog.Logger
	metrics        *Metrics
}

// Option configures optional Client parameters.
type Option func(*Client)

// WithUnauthorizedHandler sets the side effect run on every 401.
func WithUnauthorizedHandler(h UnauthorizedHandler) Option {
	return func(c *Client) { c.onUnauthorized = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHTTPClient replaces the underlying http.Client. Its Timeout should be
// zero; per-call deadlines come from the request context.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for cfg.BaseURL.
func New(cfg Config, tokens TokenSource, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("httpclient: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("httpclient: base url must be absolute: %q", cfg.BaseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("httpclient: cookie jar: %w", err)
	}
	if tokens == nil {
		tokens = TokenFunc(func() string { return "" })
	}
	c := &Client{
		base:      base,
		http:      &http.Client{Jar: jar},
		tokens:    tokens,
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		logger:    slog.Default(),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.userAgent == "" {
		c.userAgent = "paperlens"
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string { return c.base.String() }

// Do sends req and decodes a 2xx JSON body into out (when out is non-nil
// and the body is non-empty). Non-2xx responses return *apperr.APIError;
// transport failures return *apperr.NetworkError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := c.newRequest(callCtx, req)
	if err != nil {
		return err
	}
	reqID := httpReq.Header.Get("X-Request-Id")
	start := time.Now()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.observe(req.Method, req.Path, 0, time.Since(start))
		if errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("httpclient: %s %s: %w", req.Method, req.Path, ctx.Err())
		}
		netErr := &apperr.NetworkError{Err: err, Timeout: isTimeout(err)}
		c.logger.Warn("backend unreachable",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.String("request_id", reqID),
			slog.Bool("timeout", netErr.Timeout),
			slog.String("error", err.Error()))
		return netErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	elapsed := time.Since(start)
	c.metrics.observe(req.Method, req.Path, resp.StatusCode, elapsed)
	if err != nil {
		return &apperr.NetworkError{Err: err, Timeout: isTimeout(err)}
	}
	c.logger.Debug("backend request",
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", elapsed),
		slog.String("request_id", reqID))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apperr.APIError{Status: resp.StatusCode, Message: errorMessage(body, resp.StatusCode)}
		if resp.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
			c.onUnauthorized(ctx)
		}
		if resp.StatusCode >= 500 {
			c.logger.Warn("backend error",
				slog.String("path", req.Path),
				slog.Int("status", resp.StatusCode),
				slog.String("request_id", reqID))
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("httpclient: decode %s %s: %w", req.Method, req.Path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	// Callers escape path segments themselves.
	u, err := url.Parse(c.base.String() + "/" + strings.TrimLeft(req.Path, "/"))
	if err != nil {
		return nil, fmt.Errorf("httpclient: build url: %w", err)
	}
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("httpclient: encode body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: build request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("X-Request-Id", uuid.NewString())
	if tok := c.tokens.Token(); tok != "" {
		httpReq.Header.Set("Authorization", "Bearer "+tok)
	}
	return httpReq, nil
}

// errorMessage picks the backend's own message: "message", then "error"
// (string or {"message"}), then a generic text carrying the status.
func errorMessage(body []byte, status int) string {
	var payload struct {
		Message json.RawMessage `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if s := rawString(payload.Message); s != "" {
			return s
		}
		if s := rawString(payload.Error); s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return apperr.FallbackMessage(status)
}

func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func statusLabel(code int) string {
	if code == 0 {
		return "network_error"
	}
	return strconv.Itoa(code)
}
