package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxResponseBytes = 1 << 20
	maxErrorBody     = 4096
	defaultTimeout   = 30 * time.Second
)

// Option customises an HTTP-backed dispatcher.
type Option func(*client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.http = hc
	}
}

// client holds what Hosted and Local have in common.
type client struct {
	name    string
	http    *http.Client
	timeout time.Duration
	headers map[string]string
}

func newClient(name string, timeout time.Duration, opts []Option) client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := client{name: name, http: &http.Client{}, timeout: timeout, headers: map[string]string{}}
	for _, opt := range opts {
		opt(&c)
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c
}

// post issues a JSON POST and returns the open response on 2xx. Any other
// outcome is a Transport error. The caller owns resp.Body.
func (c *client) post(ctx context.Context, url string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, transportErr(c.name, 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportErr(c.name, 0, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, transportErr(c.name, resp.StatusCode,
			fmt.Errorf("unexpected status from %s: %s", url, strings.TrimSpace(string(buf))))
	}
	return resp, nil
}

// postJSON posts payload and decodes a 2xx JSON body into out.
func (c *client) postJSON(ctx context.Context, url string, payload, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, url, payload)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportErr(c.name, resp.StatusCode, fmt.Errorf("read response body: %w", err))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return shapeErr(c.name, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// openStream posts payload and wraps the response body in a Stream. The
// deadline covers the whole stream and is released by Stream.Close.
func (c *client) openStream(ctx context.Context, url string, payload any, decode decodeFunc) (*Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	resp, err := c.post(ctx, url, payload)
	if err != nil {
		cancel()
		return nil, err
	}
	return newStream(c.name, resp.Body, decode, cancel), nil
}

func joinURL(base, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if strings.HasSuffix(base, path) {
		return base
	}
	return base + path
}
