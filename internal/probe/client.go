package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Content types used against RESTCONF.
const (
	ContentTypeJSON = "application/yang-data+json"
	ContentTypeXML  = "application/yang-data+xml"
)

const defaultTimeout = 30 * time.Second

// Config addresses the RESTCONF root.
type Config struct {
	// BaseURL is the RESTCONF root, e.g. http://127.0.0.1:8181/rests.
	BaseURL string

	Username string
	Password string

	// Timeout bounds a single request. Zero selects 30s.
	Timeout time.Duration
}

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client issues RESTCONF requests. It is safe for concurrent use.
type Client struct {
	base     *url.URL
	username string
	password string
	http     *http.Client
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient validates cfg and returns a Client. A nil logger discards logs.
func NewClient(logger *slog.Logger, cfg Config, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: base URL %q", ErrInvalidConfig, cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		base:     base,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.With(slog.String("component", "probe")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL joins a path to the RESTCONF root. The path is used verbatim, so
// percent-encoded list keys such as pcc:%2F%2F10.0.0.1 survive.
func (c *Client) URL(path string) string {
	return c.base.String() + strings.TrimLeft(path, "/")
}

// Do sends a request and reads the whole response. When want is non-empty
// a status outside it yields a *StatusError along with the response.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, contentType string, want ...int) (*Response, error) {
	target := c.URL(path)
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, target, err)
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	req.Header.Set("Accept", ContentTypeJSON+", application/json")
	if body != nil {
		if contentType == "" {
			contentType = ContentTypeJSON
		}
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, target, err)
	}
	out := &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}

	c.logger.Debug("restconf request",
		slog.String("method", method),
		slog.String("url", target),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(data)),
		slog.Duration("elapsed", time.Since(start)),
	)
	if !expected(resp.StatusCode, want) {
		return out, &StatusError{Method: method, URL: target, Status: resp.StatusCode, Want: want, Body: string(data)}
	}
	return out, nil
}

// Get issues a GET. With no want codes any status is accepted.
func (c *Client) Get(ctx context.Context, path string, want ...int) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, "", want...)
}

// Post issues a POST with a JSON or XML body.
func (c *Client) Post(ctx context.Context, path string, body []byte, contentType string, want ...int) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, contentType, want...)
}

// Put issues a PUT with a JSON or XML body.
func (c *Client) Put(ctx context.Context, path string, body []byte, contentType string, want ...int) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body, contentType, want...)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, want ...int) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, "", want...)
}
