// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the non-streaming HTTP path to the OrchestratAI
// backend: a retrying request client plus the schema-validated chat
// endpoint built on top of it.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/orchestratai-tui/internal/apierr"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// maxAttempts bounds total tries per request: one initial plus two retries.
	maxAttempts = 3

	// baseDelay seeds the exponential backoff: 1s, 2s, 4s.
	baseDelay = 1 * time.Second

	// defaultTimeout applies when the caller passes no per-request timeout.
	defaultTimeout = 30 * time.Second

	// maxResponseSize caps response bodies to avoid unbounded reads.
	maxResponseSize = 10 * 1024 * 1024 // 10MB
)

// =============================================================================
// CLIENT
// =============================================================================

// Client issues HTTP requests with a per-request deadline, bounded
// exponential backoff, and client-side rate limiting. Failures come back
// classified (see apierr); only transport failures and timeouts are
// retried.
type Client struct {
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter
	timeout   time.Duration
	baseDelay time.Duration
	log       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the default per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient substitutes the underlying HTTP client (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit sets the client-side request rate (requests/second with
// the given burst).
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewClient creates a request client for the given base URL.
func NewClient(baseURL string, log *zap.Logger, opts ...Option) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{},
		limiter:   rate.NewLimiter(rate.Limit(10), 5),
		timeout:   defaultTimeout,
		baseDelay: baseDelay,
		log:       log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured base URL (no trailing slash).
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// REQUEST EXECUTION
// =============================================================================

// Do sends one request and returns the response body. It retries up to
// maxAttempts times with exponential backoff, but only for failures that
// classify as retryable; remote rejections return immediately. A zero
// timeout uses the client default.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * (1 << (attempt - 1))
			c.log.Debug("retrying request",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, classifyTransport(ctx.Err())
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, classifyTransport(err)
		}

		data, err := c.doOnce(ctx, method, path, body, timeout)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !apierr.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// doOnce performs a single attempt with its own deadline.
func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, timeout time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, apierr.Network(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	data, err := readResponse(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	c.log.Debug("request complete",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierr.Remote(resp.StatusCode, string(data))
	}
	return data, nil
}

// readResponse reads a body with the size cap applied.
func readResponse(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, nil
}

// classifyTransport maps a raw transport error to the taxonomy: deadline
// and timeout errors become KindTimeout, everything else KindNetwork.
func classifyTransport(err error) *apierr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.Timeout(err)
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return apierr.Timeout(err)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return apierr.Timeout(err)
	}
	return apierr.Network(err)
}
