package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	errs "job-tracker-go/internal/errors"
	"job-tracker-go/pkg/httpclient"
)

const (
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries = 3
	// RetryDelay is the fixed pause between attempts.
	RetryDelay = 1000 * time.Millisecond

	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 10
	maxBodyBytes     = 10 << 20
)

// Default messages surfaced to the user when a call fails.
const (
	ErrConnectMessage   = "Failed to connect to backend. Please try again in a few moments."
	ErrMalformedMessage = "Invalid JSON response from backend"
)

// Client talks to the job backend. Every endpoint method returns an envelope
// and never a Go error; failures are described by the envelope's Error and
// Failure fields.
type Client struct {
	baseURL    string
	http       *httpclient.HttpClient
	limiter    *rate.Limiter
	retryDelay time.Duration
	metrics    *ClientMetrics
	logger     *zap.Logger
}

// ClientMetrics tracks request outcomes per endpoint
type ClientMetrics struct {
	Endpoints map[string]EndpointMetrics
	mu        sync.RWMutex
}

// EndpointMetrics tracks one endpoint
type EndpointMetrics struct {
	Calls       int64
	Attempts    int64
	Retries     int64
	Failures    int64
	Malformed   int64
	LastLatency time.Duration
	LastCalled  time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = httpclient.Wrap(hc)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRateLimit caps outgoing attempts per second. Zero or less disables the limit.
func WithRateLimit(rps int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}
}

// WithRetryDelay overrides RetryDelay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// NewClient creates a client for the backend rooted at baseURL, e.g. "http://127.0.0.1:8080".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       httpclient.NewHttpClient(defaultTimeout),
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultRateLimit),
		retryDelay: RetryDelay,
		metrics:    &ClientMetrics{Endpoints: make(map[string]EndpointMetrics)},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("upstream")
	return c
}

// BaseURL returns the backend root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// request describes one logical call. body is invoked once per attempt so
// retries never reuse a drained reader.
type request struct {
	endpoint string
	method   string
	path     string
	query    url.Values
	body     func() (io.Reader, string, error)
}

// execute runs r with at most 1+MaxRetries attempts. Transport failures and
// non-2xx statuses are retried after a fixed delay; any other failure ends the
// call at once. The 2xx body is returned as-is for the caller to decode.
func (c *Client) execute(ctx context.Context, r request) ([]byte, *errs.DomainError) {
	start := time.Now()
	c.record(r.endpoint, func(m *EndpointMetrics) { m.Calls++ })

	var lastErr *errs.DomainError
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Info("Retrying request",
				zap.String("endpoint", r.endpoint),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", MaxRetries+1),
				zap.Duration("delay", c.retryDelay))
			c.record(r.endpoint, func(m *EndpointMetrics) { m.Retries++ })

			timer := time.NewTimer(c.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, c.fail(r.endpoint, start, errs.Transport("request cancelled", ctx.Err()))
			case <-timer.C:
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.fail(r.endpoint, start, errs.Transport("request cancelled", err))
		}

		c.record(r.endpoint, func(m *EndpointMetrics) { m.Attempts++ })
		body, derr := c.attempt(ctx, r)
		if derr == nil {
			c.record(r.endpoint, func(m *EndpointMetrics) {
				m.LastLatency = time.Since(start)
				m.LastCalled = time.Now()
			})
			return body, nil
		}
		lastErr = derr

		c.logger.Warn("Attempt failed",
			zap.String("endpoint", r.endpoint),
			zap.Int("attempt", attempt+1),
			zap.Error(derr))

		if !errs.Retryable(derr) {
			return nil, c.fail(r.endpoint, start, derr)
		}
		if ctx.Err() != nil {
			return nil, c.fail(r.endpoint, start, errs.Transport("request cancelled", ctx.Err()))
		}
	}

	return nil, c.fail(r.endpoint, start, lastErr)
}

func (c *Client) attempt(ctx context.Context, r request) ([]byte, *errs.DomainError) {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	if r.body != nil {
		var err error
		body, contentType, err = r.body()
		if err != nil {
			return nil, errs.InvalidInput("failed to build request body", err)
		}
	}

	req, err := http.NewRequest(r.method, u, body)
	if err != nil {
		return nil, errs.InvalidInput("failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, errs.Transport("request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errs.Transport("failed to read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errs.UpstreamStatus(resp.StatusCode,
			fmt.Sprintf("%s %s returned %d: %s", r.method, r.path, resp.StatusCode, snippet(data)))
	}
	return data, nil
}

func (c *Client) fail(endpoint string, start time.Time, err *errs.DomainError) *errs.DomainError {
	c.record(endpoint, func(m *EndpointMetrics) {
		m.Failures++
		m.LastLatency = time.Since(start)
		m.LastCalled = time.Now()
	})
	c.logger.Error("Request failed", zap.String("endpoint", endpoint), zap.Error(err))
	return err
}

// malformed records and returns a decode failure. These are never retried.
func (c *Client) malformed(endpoint string, err error) *errs.DomainError {
	c.record(endpoint, func(m *EndpointMetrics) { m.Malformed++ })
	c.logger.Warn("Malformed response", zap.String("endpoint", endpoint), zap.Error(err))
	return errs.Malformed(ErrMalformedMessage, err)
}

func (c *Client) record(endpoint string, fn func(*EndpointMetrics)) {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()

	m := c.metrics.Endpoints[endpoint]
	fn(&m)
	c.metrics.Endpoints[endpoint] = m
}

// Metrics returns a copy of the per-endpoint counters.
func (c *Client) Metrics() map[string]EndpointMetrics {
	c.metrics.mu.RLock()
	defer c.metrics.mu.RUnlock()

	out := make(map[string]EndpointMetrics, len(c.metrics.Endpoints))
	for k, v := range c.metrics.Endpoints {
		out[k] = v
	}
	return out
}

func snippet(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}
	return string(b)
}
