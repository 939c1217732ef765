// Package httpretry wraps an HTTP client with bounded retries,
// exponential backoff and jitter for calls to rate-limited external
// APIs. A Retry-After header on a 429 response overrides the computed
// backoff delay.
package httpretry

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/enersight/ga4-monitor/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests. Both
// *http.Client and *RetryClient satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient retries transient failures with exponential backoff.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Option customizes a RetryClient.
type Option func(*RetryClient)

// WithBaseDelay overrides the first backoff delay (default 1s).
func WithBaseDelay(d time.Duration) Option {
	return func(rc *RetryClient) { rc.baseDelay = d }
}

// WithMaxDelay caps the backoff delay (default 30s).
func WithMaxDelay(d time.Duration) Option {
	return func(rc *RetryClient) { rc.maxDelay = d }
}

// New wraps client with retry logic. A nil client gets a default
// http.Client with a 30s timeout. maxRetries counts attempts after the
// initial request; values <= 0 fall back to 3.
func New(client HTTPDoer, maxRetries int, opts ...Option) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	rc := &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  1 * time.Second,
		maxDelay:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Do executes the request, retrying on retryable status codes
// (429, 500, 502, 503, 504) and transient network errors. Client errors
// (400, 401, 403, 404) and context cancellation are never retried. On
// the final attempt the response is returned as-is so the caller can
// inspect status and body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			if attempt == rc.maxRetries {
				return nil, lastErr
			}
			if !rc.sleep(req, rc.delay(attempt), attempt) {
				return nil, lastErr
			}
			if err := resetBody(req); err != nil {
				return nil, err
			}
			continue
		}

		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if attempt == rc.maxRetries {
			return resp, nil
		}

		delay := rc.delay(attempt)
		if d, ok := retryAfter(resp); ok {
			delay = d
		}

		// Drain for connection reuse before retrying.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)

		if !rc.sleep(req, delay, attempt) {
			return nil, lastErr
		}
		if err := resetBody(req); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// resetBody rewinds the request body before a re-attempt. The previous
// attempt consumed it, so without this a retried POST sends nothing.
func resetBody(req *http.Request) error {
	if req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("httpretry: reset request body: %w", err)
	}
	req.Body = body
	return nil
}

// sleep waits for delay or until the request context ends. Returns
// false when the context ended first.
func (rc *RetryClient) sleep(req *http.Request, delay time.Duration, attempt int) bool {
	logger.Debug("httpretry backoff",
		"attempt", attempt+1,
		"max", rc.maxRetries,
		"host", req.URL.Host,
		"delay", delay.String())

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-req.Context().Done():
		return false
	}
}

// delay computes exponential backoff with +/-25% jitter.
func (rc *RetryClient) delay(attempt int) time.Duration {
	d := rc.baseDelay << uint(attempt)
	if d > rc.maxDelay {
		d = rc.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2+1)) - d/4
	if d+jitter <= 0 {
		return d
	}
	return d + jitter
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter reads a Retry-After header expressed in seconds.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
