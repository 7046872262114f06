package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// UserAgent is sent on all outbound provider calls.
	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:83.0) Gecko/20100101 Firefox/83.0"

	defaultSpacing = 200 * time.Millisecond
	requestTimeout = 30 * time.Second
	probeTimeout   = 10 * time.Second
	maxRetries     = 3
	backoffInitial = time.Second
)

// Client is the per-provider outbound HTTP pool: it spaces requests, retries
// retryable statuses with exponential backoff, and rotates through an ordered
// endpoint list on transport failure.
type Client struct {
	name    string
	httpc   *http.Client // request-scoped calls, hard 30s timeout
	streamc *http.Client // streaming calls, bounded by context only
	limiter *rate.Limiter

	mu        sync.RWMutex
	endpoints []string
	current   int
}

func NewClient(name string, endpoints []string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		name:      name,
		httpc:     &http.Client{Transport: transport, Timeout: requestTimeout},
		streamc:   &http.Client{Transport: transport},
		limiter:   rate.NewLimiter(rate.Every(defaultSpacing), 1),
		endpoints: endpoints,
	}
}

// Endpoint returns the currently active base URL, or "" when the client has
// no endpoint list (absolute-URL usage only).
func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.endpoints) == 0 {
		return ""
	}
	return c.endpoints[c.current]
}

// rotate advances to the next fallback endpoint.
func (c *Client) rotate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.endpoints) > 0 {
		c.current = (c.current + 1) % len(c.endpoints)
		slog.Info("Rotated provider endpoint", "provider", c.name, "endpoint", c.endpoints[c.current])
	}
}

// WithEndpoints runs action against the active endpoint, advancing through
// the rotation list until one succeeds. Exhaustion returns the last error.
func (c *Client) WithEndpoints(ctx context.Context, action func(baseURL string) error) error {
	attempts := len(c.endpoints)
	if attempts == 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Wrap(KindCancelled, c.name, err)
		}

		err := action(c.Endpoint())
		if err == nil {
			return nil
		}
		lastErr = err

		// Client-side classifications are not endpoint problems.
		switch KindOf(err) {
		case KindNotFound, KindUnauthenticated, KindUnauthorized, KindCancelled:
			return err
		}

		slog.Warn("Provider endpoint failed", "provider", c.name, "endpoint", c.Endpoint(), "error", err, "attempt", attempt+1)
		if attempt < attempts-1 {
			c.rotate()
		}
	}
	return lastErr
}

// GetJSON performs a rate-limited GET and decodes the JSON body. 429 and 503
// responses are retried with exponential backoff before being surfaced.
func (c *Client) GetJSON(ctx context.Context, url string, out any, header http.Header) error {
	resp, err := c.doRetry(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, url, nil, header)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Errf(KindTransient, c.name, "decoding %s: %w", url, err)
	}
	return nil
}

// PostJSON performs a rate-limited POST with a JSON body. POSTs are not
// idempotent and are never retried.
func (c *Client) PostJSON(ctx context.Context, url string, body []byte, out any, header http.Header) error {
	req, err := c.newRequest(ctx, http.MethodPost, url, body, header)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(c.httpc, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Errf(KindTransient, c.name, "decoding %s: %w", url, err)
	}
	return nil
}

// GetBody performs a rate-limited GET and returns the raw body bytes.
func (c *Client) GetBody(ctx context.Context, url string, header http.Header) ([]byte, error) {
	resp, err := c.doRetry(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, url, nil, header)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Errf(KindTransient, c.name, "reading %s: %w", url, err)
	}
	return data, nil
}

// Stream opens a GET with headers-read completion semantics: it returns as
// soon as response headers arrive and the caller owns the body. The request
// is paced by the limiter but never retried (the body is not replayable).
func (c *Client) Stream(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url, nil, header)
	if err != nil {
		return nil, err
	}
	return c.do(c.streamc, req)
}

// Probe issues a short-deadline GET used by availability checks.
func (c *Client) Probe(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(c.httpc, req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, body []byte, header http.Header) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, Errf(KindTransient, c.name, "building request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}
	return req, nil
}

// doRetry runs an idempotent request, retrying 429/503 with exponential
// backoff (1s, 2s, 4s) up to maxRetries attempts.
func (c *Client) doRetry(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	backoff := backoffInitial

	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := build()
		if err != nil {
			return nil, err
		}

		resp, err := c.do(c.httpc, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		kind := KindOf(err)
		if kind != KindRateLimited && kind != KindTransient {
			return nil, err
		}
		if !isRetryable(err) {
			return nil, err
		}

		if attempt < maxRetries-1 {
			slog.Debug("Retrying provider request", "provider", c.name, "backoff", backoff, "error", err)
			select {
			case <-ctx.Done():
				return nil, Wrap(KindCancelled, c.name, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, lastErr
}

// retryableError marks a status-classified error as backoff-retryable.
type retryableError struct{ error }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// do executes one attempt, pacing it through the limiter and classifying the
// outcome.
func (c *Client) do(client *http.Client, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, Wrap(KindCancelled, c.name, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, Wrap(KindCancelled, c.name, err)
		}
		return nil, Errf(KindTransient, c.name, "request %s: %w", req.URL, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	resp.Body.Close()
	status := fmt.Errorf("HTTP %d from %s", resp.StatusCode, req.URL)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return nil, Wrap(KindUnauthenticated, c.name, status)
	case http.StatusForbidden:
		return nil, Wrap(KindUnauthorized, c.name, status)
	case http.StatusNotFound:
		return nil, Wrap(KindNotFound, c.name, status)
	case http.StatusTooManyRequests:
		return nil, Wrap(KindRateLimited, c.name, &retryableError{status})
	case http.StatusServiceUnavailable:
		return nil, Wrap(KindTransient, c.name, &retryableError{status})
	default:
		return nil, Wrap(KindTransient, c.name, status)
	}
}
