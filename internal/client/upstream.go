// Package client provides the upstream HTTP client with retry support.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chat-gateway-go/internal/config"
	"chat-gateway-go/internal/metrics"
	"chat-gateway-go/internal/model"
)

// bodySnippetLen bounds the diagnostic body excerpt carried by RetryExhaustedError.
const bodySnippetLen = 1000

// RetryExhaustedError is returned when every attempt of a retried upstream
// request failed with a retriable condition or a network error.
type RetryExhaustedError struct {
	Attempts    int
	StatusCode  int // 0 when the last attempt failed before a response arrived
	ContentType string
	BodySnippet string
	Err         error // last network-level error, if any
}

func (e *RetryExhaustedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream retry exhausted after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("upstream retry exhausted after %d attempts: status=%d content_type=%q body=%q",
		e.Attempts, e.StatusCode, e.ContentType, e.BodySnippet)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// UpstreamClient sends requests to the upstream chat service.
type UpstreamClient struct {
	httpClient     *http.Client
	logger         *slog.Logger
	metrics        *metrics.Metrics
	maxAttempts    int
	baseDelay      time.Duration
	attemptTimeout time.Duration

	// sleep performs the backoff delay; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		// No client-wide timeout: streamed responses may legitimately stay
		// open far longer than any single buffered attempt. Buffered requests
		// are bounded per attempt in FetchWithRetry; streams are bounded by
		// the caller's context.
		httpClient: &http.Client{
			Transport: transport,
		},
		logger:         logger.With("component", "upstream_client"),
		metrics:        m,
		maxAttempts:    cfg.Retry.MaxAttempts,
		baseDelay:      time.Duration(cfg.Retry.BaseDelayMillis) * time.Millisecond,
		attemptTimeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		sleep:          sleepContext,
	}
}

// FetchWithRetry issues the request, buffering the response body, and retries
// retriable failures with exponential backoff.
//
// A response is retriable when its status is exactly 500 or its Content-Type
// contains text/html: both indicate a transient edge failure rather than a
// structured application error. Statuses 501–599 with non-HTML bodies are
// deliberately not retried. Network errors and per-attempt timeouts are
// treated like retriable responses.
//
// Every non-retriable response is returned as a successful Outcome regardless
// of status class; callers interpret status codes themselves.
func (c *UpstreamClient) FetchWithRetry(ctx context.Context, method, url string, header http.Header, body []byte) (*model.Outcome, error) {
	var (
		lastOutcome *model.Outcome
		lastErr     error
	)

	for i := 0; i < c.maxAttempts; i++ {
		outcome, err := c.attempt(ctx, method, url, header, body)
		switch {
		case err != nil:
			lastOutcome, lastErr = nil, err
			c.logger.Warn("upstream attempt failed",
				"attempt", i+1,
				"max_attempts", c.maxAttempts,
				"err", err,
			)
		case retriable(outcome):
			lastOutcome, lastErr = outcome, nil
			c.logger.Warn("retriable upstream response",
				"attempt", i+1,
				"max_attempts", c.maxAttempts,
				"status", outcome.StatusCode,
				"content_type", outcome.ContentType(),
			)
		default:
			return outcome, nil
		}

		if c.metrics != nil {
			c.metrics.UpstreamRetries.Inc()
		}

		if i < c.maxAttempts-1 {
			// Exponential backoff: baseDelay * 2^i.
			if err := c.sleep(ctx, c.baseDelay<<i); err != nil {
				return nil, fmt.Errorf("retry backoff: %w", err)
			}
		}
	}

	rex := &RetryExhaustedError{Attempts: c.maxAttempts, Err: lastErr}
	if lastOutcome != nil {
		rex.StatusCode = lastOutcome.StatusCode
		rex.ContentType = lastOutcome.ContentType()
		rex.BodySnippet = lastOutcome.BodySnippet(bodySnippetLen)
	}
	return nil, rex
}

// attempt issues one request with the per-attempt timeout and buffers the body.
func (c *UpstreamClient) attempt(ctx context.Context, method, url string, header http.Header, body []byte) (*model.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if header != nil {
		req.Header = header.Clone()
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	method = metrics.NormalizeMethod(method)
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	buffered, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	return &model.Outcome{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       buffered,
	}, nil
}

// retriable reports whether the outcome looks like a transient edge failure.
func retriable(o *model.Outcome) bool {
	if o.StatusCode == http.StatusInternalServerError {
		return true
	}
	return strings.Contains(strings.ToLower(o.ContentType()), "text/html")
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request) (*model.UpstreamResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream executes a request and returns the response body as a stream,
// without retry: re-issuing a generation request mid-stream would double-emit
// content the client already received. The caller is responsible for closing
// the returned body. The provided context controls the lifetime of the
// upstream request: when the context is canceled (e.g. client disconnects),
// the upstream request is also canceled.
func (c *UpstreamClient) DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	return c.Do(req)
}

// sleepContext sleeps for d, aborting early if ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
