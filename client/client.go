// Package client talks to a lyricghostd daemon over HTTP. A Client can be
// handed to session.New as its completer.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	lyricghost "github.com/drunkenbot/lyricghost"
)

const (
	// DefaultServer is the daemon address used when none is given.
	DefaultServer  = "http://localhost:8001"
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

// Client calls POST /api/complete.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// New returns a client for the daemon at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultServer
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete requests a continuation of req.PartialLyric. Error replies are
// mapped back to the lyricghost sentinels; transport failures wrap
// lyricghost.ErrOracleUnavailable.
func (c *Client) Complete(ctx context.Context, req *lyricghost.Request) (*lyricghost.Completion, error) {
	if req == nil {
		return nil, lyricghost.ErrInvalidInput
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/complete", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if id := lyricghost.SessionIDFrom(ctx); id != "" {
		httpReq.Header.Set(lyricghost.SessionHeader, id)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", lyricghost.ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", lyricghost.ErrOracleUnavailable, err)
	}
	slog.Debug("complete response", "status", resp.StatusCode, "body", string(data))

	if resp.StatusCode != http.StatusOK {
		var e lyricghost.ErrorResponse
		if err := json.Unmarshal(data, &e); err != nil || (e.Error == "" && e.Code == "") {
			return nil, fmt.Errorf("%w: HTTP %d", lyricghost.ErrOracleUnavailable, resp.StatusCode)
		}
		return nil, lyricghost.ErrorFromCode(e.Code, e.Error)
	}

	var out lyricghost.Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", lyricghost.ErrOracleUnavailable, err)
	}
	return &lyricghost.Completion{Text: out.Completion}, nil
}

// Health checks GET /health and returns the reported service version.
func (c *Client) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", lyricghost.ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: health HTTP %d", lyricghost.ErrOracleUnavailable, resp.StatusCode)
	}
	var h lyricghost.Health
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&h); err != nil {
		return "", fmt.Errorf("%w: decode health: %w", lyricghost.ErrOracleUnavailable, err)
	}
	return h.Version, nil
}
