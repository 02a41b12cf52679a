// Package fetch performs the outbound HTTP GETs used for the schema catalog
// and schema documents. Redirects are followed manually up to a fixed bound,
// concurrent requests for the same URL share one round trip, and every round
// trip is bounded by a timeout.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"tomlkit-schema-service/internal/observability/logging"
	"tomlkit-schema-service/internal/observability/metrics"
)

// MaxRedirects is the number of redirects followed before giving up.
const MaxRedirects = 5

// DefaultTimeout bounds a single fetch including all redirect hops.
const DefaultTimeout = 5 * time.Second

// DefaultUserAgent identifies the service to catalog and schema hosts.
const DefaultUserAgent = "tomlkit-schema-service/1.0 (+schema resolver)"

// maxBodyBytes caps the size of a fetched document.
const maxBodyBytes = 16 << 20

var (
	// ErrNetwork wraps transport-level failures (DNS, connect, reset, timeout).
	ErrNetwork = errors.New("network error")
	// ErrTooManyRedirects is returned when a redirect chain exceeds MaxRedirects.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrBodyTooLarge is returned when a response body exceeds the size cap.
	ErrBodyTooLarge = errors.New("response body too large")
)

// StatusError is returned for a terminal non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// Fetcher is the subset of Client used by the catalog and the resolver.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// Config holds fetch client configuration.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Transport overrides the HTTP transport; nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// Client fetches documents over HTTP.
type Client struct {
	http      *http.Client
	userAgent string
	timeout   time.Duration
	group     singleflight.Group
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// New creates a fetch client.
func New(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		http: &http.Client{
			Transport: cfg.Transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		metrics:   metrics.DefaultMetrics,
		log:       logging.WithComponent("fetch"),
	}
}

// Get returns the body of rawURL. Concurrent calls for the same URL share a
// single request; the returned slice is shared between those callers and must
// not be modified.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	ch := c.group.DoChan(rawURL, func() (any, error) {
		// The shared request outlives any single waiter's cancellation.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.get(fctx, rawURL)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s: %w: %w", rawURL, ErrNetwork, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	start := time.Now()
	body, err := c.follow(ctx, rawURL)
	result := "ok"
	switch {
	case errors.Is(err, ErrTooManyRedirects):
		result = "too_many_redirects"
	case errors.Is(err, ErrNetwork):
		result = "network_error"
	case err != nil:
		result = "status_error"
	}
	c.metrics.RecordFetch(result, time.Since(start).Seconds())
	return body, err
}

func (c *Client) follow(ctx context.Context, rawURL string) ([]byte, error) {
	current, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w: %w", rawURL, ErrNetwork, err)
	}

	for hop := 0; ; hop++ {
		resp, err := c.do(ctx, current)
		if err != nil {
			return nil, err
		}

		if isRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			drain(resp)
			if location == "" {
				return nil, &StatusError{URL: current.String(), StatusCode: resp.StatusCode}
			}
			if hop >= MaxRedirects {
				return nil, fmt.Errorf("fetch %s: %w (limit %d)", rawURL, ErrTooManyRedirects, MaxRedirects)
			}
			next, err := current.Parse(location)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: bad redirect location %q: %w", current, location, err)
			}
			c.log.Debug().
				Str("from", current.String()).
				Str("to", next.String()).
				Int("hop", hop+1).
				Msg("Following redirect")
			c.metrics.RecordRedirect()
			current = next
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			drain(resp)
			return nil, &StatusError{URL: current.String(), StatusCode: resp.StatusCode}
		}

		return readBody(resp, current.String())
	}
}

func (c *Client) do(ctx context.Context, u *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w: %w", u, ErrNetwork, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w: %w", u, ErrNetwork, err)
	}
	return resp, nil
}

func readBody(resp *http.Response, u string) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: reading body: %w: %w", u, ErrNetwork, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("fetch %s: %w", u, ErrBodyTooLarge)
	}
	return body, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func isRedirect(code int) bool {
	return code >= 300 && code <= 399
}
