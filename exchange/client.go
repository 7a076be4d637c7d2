package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"tradecore/logger"
)

// DefaultTimeout is the fixed per-request timeout every adapter call
// carries.
const DefaultTimeout = 30 * time.Second

// SignFunc is the authentication hook a concrete adapter supplies. It is
// invoked before every authenticated call with the fully built request and
// the canonical pieces exchanges sign over.
type SignFunc func(req *http.Request, method, path string, query url.Values, body []byte) error

// ErrorParser lets an adapter refine a non-2xx response into an
// exchange-specific typed error. Returning nil falls back to the generic
// status-code classification.
type ErrorParser func(status int, body []byte) error

// Client is the exchange-agnostic HTTP plumbing shared by every adapter:
// timeout, local rate-limit admission, outbound smoothing, and failure
// classification into the typed error taxonomy. Adapters compose a Client
// rather than inheriting from a base type.
type Client struct {
	exchange   string
	baseURL    string
	http       *http.Client
	limiter    *WindowLimiter
	smoother   *rate.Limiter
	parseError ErrorParser
	log        *logger.Log
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = timeout }
}

// WithTransport installs a custom transport, e.g. a tuned connection pool.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) { c.http.Transport = rt }
}

// WithLimiter installs the local fixed-window budget checked before
// dispatch.
func WithLimiter(l *WindowLimiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

// WithSmoother installs an outbound request smoother. Unlike the window
// limiter it delays rather than rejects, spreading bursts across the second.
func WithSmoother(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps > 0 && burst > 0 {
			c.smoother = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithErrorParser installs the exchange-specific error refinement hook.
func WithErrorParser(p ErrorParser) ClientOption {
	return func(c *Client) { c.parseError = p }
}

// NewClient creates the shared HTTP client for one exchange.
func NewClient(exchange, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		exchange: exchange,
		baseURL:  baseURL,
		http:     &http.Client{Timeout: DefaultTimeout},
		log:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured endpoint root.
func (c *Client) BaseURL() string { return c.baseURL }

// SetBaseURL repoints the client, used by tests against httptest servers.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// Do issues one request. group selects the rate-limit bucket; sign may be
// nil for public endpoints. The response body is returned for 2xx statuses;
// everything else is converted into a typed error.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body []byte, sign SignFunc, group string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Allow(c.exchange, group); err != nil {
			return nil, err
		}
	}
	if c.smoother != nil {
		if err := c.smoother.Wait(ctx); err != nil {
			return nil, NewNetworkError(c.exchange, "request canceled while smoothing", err)
		}
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, NewValidationError("failed to build %s %s request: %v", method, path, err)
	}

	if sign != nil {
		if err := sign(req, method, path, query, body); err != nil {
			return nil, NewAuthenticationError(c.exchange, fmt.Sprintf("request signing failed: %v", err))
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, NewNetworkError(c.exchange, fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewNetworkError(c.exchange, "failed to read response body", err)
	}

	logger.LogPerformanceEntry(c.log.WithComponent(c.exchange+"_adapter"), c.exchange+"_adapter", "api_request", time.Since(start), logger.Fields{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	})

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}
	return nil, c.classify(resp, respBody)
}

// classify converts a non-2xx response into the typed taxonomy, preferring
// the adapter's own error parser when it recognizes the payload.
func (c *Client) classify(resp *http.Response, body []byte) error {
	if c.parseError != nil {
		if err := c.parseError(resp.StatusCode, body); err != nil {
			return err
		}
	}

	snippet := string(body)
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewAuthenticationError(c.exchange, snippet)
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewRateLimitError(c.exchange, snippet, retryAfterHeader(resp))
	case resp.StatusCode == http.StatusNotFound:
		return NewOrderNotFoundError(c.exchange, snippet)
	case resp.StatusCode >= 500:
		return NewNetworkError(c.exchange, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, snippet), nil)
	default:
		return NewExchangeError(c.exchange, strconv.Itoa(resp.StatusCode), snippet)
	}
}

func retryAfterHeader(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}

// Retry runs fn up to attempts times with linear backoff, retrying only
// rate-limit and network errors. Rate-limit errors wait at least their
// retry-after hint. The last error is returned when all attempts fail.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == attempts {
			return lastErr
		}

		delay := time.Duration(attempt) * baseDelay
		if hint := RetryAfterOf(lastErr); hint > delay {
			delay = hint
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}
	return lastErr
}
