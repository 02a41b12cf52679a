// Package catalog loads the global schema catalog: an ordered list of schema
// URLs and the file-name glob patterns each one applies to.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"tomlkit-schema-service/internal/fetch"
	"tomlkit-schema-service/internal/observability/logging"
	"tomlkit-schema-service/internal/observability/metrics"
)

// DefaultURL is the SchemaStore catalog.
const DefaultURL = "https://www.schemastore.org/api/json/catalog.json"

// DefaultRetryCooldown is the minimum interval between failed load attempts.
const DefaultRetryCooldown = 30 * time.Second

var (
	// ErrUnavailable is returned when no catalog could be obtained.
	ErrUnavailable = errors.New("schema catalog unavailable")
	// ErrParse is returned when the catalog body is not valid catalog JSON.
	ErrParse = errors.New("malformed schema catalog")
	// ErrCoolingDown is returned when a retry is attempted too soon after a
	// failed load. A waiter giving up on its own context is not a failure.
	ErrCoolingDown = errors.New("catalog retry cooling down")
)

// Entry associates a schema URL with the file patterns it applies to.
type Entry struct {
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	URL         string   `json:"url" yaml:"url"`
	FileMatch   []string `json:"fileMatch" yaml:"fileMatch"`
}

// Catalog is an ordered list of entries. Earlier entries take precedence.
type Catalog struct {
	Schemas []Entry `json:"schemas"`
}

// Parse decodes a catalog document. Entries without a URL or without any
// file pattern can never be selected and are dropped.
func Parse(body []byte) (*Catalog, error) {
	var raw Catalog
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if raw.Schemas == nil {
		return nil, fmt.Errorf("%w: missing \"schemas\" array", ErrParse)
	}

	cat := &Catalog{Schemas: make([]Entry, 0, len(raw.Schemas))}
	for _, e := range raw.Schemas {
		if e.URL == "" || len(e.FileMatch) == 0 {
			continue
		}
		cat.Schemas = append(cat.Schemas, e)
	}
	return cat, nil
}

// Config holds catalog client configuration.
type Config struct {
	URL string
	// RetryCooldown gates load attempts after a failure. Zero retries on every call.
	RetryCooldown time.Duration
	// Timeout bounds one shared load. Zero uses fetch.DefaultTimeout.
	Timeout time.Duration
}

// Client fetches and memoizes the catalog for the lifetime of the client.
// A failed load is never memoized.
type Client struct {
	url     string
	timeout time.Duration
	fetcher fetch.Fetcher
	current atomic.Pointer[Catalog]
	group   singleflight.Group
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New creates a catalog client that loads through fetcher.
func New(cfg Config, fetcher fetch.Fetcher) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = fetch.DefaultTimeout
	}
	c := &Client{
		url:     cfg.URL,
		timeout: cfg.Timeout,
		fetcher: fetcher,
		metrics: metrics.DefaultMetrics,
		log:     logging.WithComponent("catalog"),
	}
	if cfg.RetryCooldown > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.RetryCooldown), 1)
	}
	return c
}

// Get returns the memoized catalog, loading it on first demand. Concurrent
// first callers share one load; a caller whose ctx ends stops waiting but
// the load carries on for the others.
func (c *Client) Get(ctx context.Context) (*Catalog, error) {
	if cat := c.current.Load(); cat != nil {
		return cat, nil
	}

	ch := c.group.DoChan("catalog", func() (any, error) {
		if cat := c.current.Load(); cat != nil {
			return cat, nil
		}
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.load(lctx)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Catalog), nil
	}
}

// Loaded reports whether a catalog is memoized.
func (c *Client) Loaded() bool {
	return c.current.Load() != nil
}

// Reset drops the memoized catalog so the next Get reloads it. A pending
// failure cooldown still applies.
func (c *Client) Reset() {
	c.current.Store(nil)
	c.log.Info().Str("url", c.url).Msg("Schema catalog reset")
}

// coolingDown reports whether a failed load happened within the cooldown.
func (c *Client) coolingDown() bool {
	return c.limiter != nil && c.limiter.Tokens() < 1
}

// failed starts the cooldown. The limiter holds a single token, which only
// failures spend.
func (c *Client) failed() {
	if c.limiter != nil {
		c.limiter.Allow()
	}
}

func (c *Client) load(ctx context.Context) (*Catalog, error) {
	if c.coolingDown() {
		c.metrics.RecordCatalogLoad("cooling_down")
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, ErrCoolingDown)
	}

	body, err := c.fetcher.Get(ctx, c.url)
	if err != nil {
		c.failed()
		c.metrics.RecordCatalogLoad("fetch_error")
		c.log.Warn().Err(err).Str("url", c.url).Msg("Failed to fetch schema catalog")
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	cat, err := Parse(body)
	if err != nil {
		c.failed()
		c.metrics.RecordCatalogLoad("parse_error")
		c.log.Warn().Err(err).Str("url", c.url).Msg("Failed to parse schema catalog")
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	c.current.Store(cat)
	c.metrics.RecordCatalogLoad("ok")
	c.log.Info().
		Str("url", c.url).
		Int("entries", len(cat.Schemas)).
		Msg("Schema catalog loaded")
	return cat, nil
}
