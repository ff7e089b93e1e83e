package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"edugen/internal/logger"

	"github.com/google/uuid"
)

// Config is the explicit, per-instance backend configuration. Nothing in
// this module reads the backend location from globals.
type Config struct {
	BaseURL    string
	Timeout    time.Duration // default deadline for JSON calls
	HTTPClient *http.Client
}

// Client issues requests against the lesson backend. It is safe for
// concurrent use.
type Client struct {
	baseURL *url.URL
	timeout time.Duration
	http    *http.Client
	log     *logger.Logger
}

const defaultTimeout = 30 * time.Second

// maxErrorBody bounds how much of a failed response is kept for display.
const maxErrorBody = 4 << 10

func New(cfg Config, log *logger.Logger) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url must be absolute: %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{baseURL: u, timeout: cfg.Timeout, http: hc, log: log.With("component", "backend")}, nil
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// URL resolves an API path ("/api/v1/chat") against the backend root.
func (c *Client) URL(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// PostJSON sends in as a JSON body to path and decodes a 2xx response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.doJSON(ctx, http.MethodPost, c.URL(path, nil), bytes.NewReader(body), out)
}

// GetJSON fetches path with query parameters and decodes a 2xx response into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, c.URL(path, query), nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, target string, body io.Reader, out interface{}) error {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newStatusError(req, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, req.URL.Path, err)
	}
	return nil
}

// Put writes raw bytes to an absolute URL, such as a presigned upload
// location. The body is streamed; size may be -1 when unknown. The caller's
// context is the only deadline applied here.
func (c *Client) Put(ctx context.Context, target, contentType string, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if size >= 0 {
		req.ContentLength = size
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newStatusError(req, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	reqID := uuid.NewString()
	req.Header.Set("X-Request-Id", reqID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error repeats the full URL, query included, and presigned
		// query strings carry signatures.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		c.log.Warn("backend request failed",
			"method", req.Method, "path", req.URL.Path, "request_id", reqID,
			"elapsed", time.Since(start), "error", err)
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	c.log.Debug("backend request",
		"method", req.Method, "path", req.URL.Path, "request_id", reqID,
		"status", resp.StatusCode, "elapsed", time.Since(start))
	return resp, nil
}

// withDeadline applies the client default unless the caller already set a
// deadline.
func (c *Client) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
