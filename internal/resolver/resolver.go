// Package resolver turns a file path into the JSON Schema text that applies
// to it, composing the catalog, the matcher, the disk cache and the fetcher.
// Every failure is absorbed here: callers only observe presence or absence.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"tomlkit-schema-service/internal/cache"
	"tomlkit-schema-service/internal/catalog"
	"tomlkit-schema-service/internal/fetch"
	"tomlkit-schema-service/internal/matcher"
	"tomlkit-schema-service/internal/observability/logging"
	"tomlkit-schema-service/internal/observability/metrics"
)

// Origin records where resolved schema content came from.
type Origin string

const (
	OriginNone    Origin = "none"
	OriginCache   Origin = "cache"
	OriginNetwork Origin = "network"
	OriginStale   Origin = "stale"
)

// ErrInvalidSchema is reported when a downloaded schema body is not JSON.
var ErrInvalidSchema = errors.New("downloaded schema is not valid JSON")

// Schema is a resolved schema document.
type Schema struct {
	URL     string
	Content []byte
	Origin  Origin
}

// CatalogSource provides the schema catalog.
type CatalogSource interface {
	Get(ctx context.Context) (*catalog.Catalog, error)
}

// Store is the subset of the disk cache the resolver needs.
type Store interface {
	Load(url string) (*cache.Entry, error)
	Put(ctx context.Context, url string, content []byte) error
}

// Resolver resolves schemas for files. It is safe for concurrent use.
type Resolver struct {
	catalog      CatalogSource
	store        Store
	fetcher      fetch.Fetcher
	associations []catalog.Entry
	timeout      time.Duration
	downloads    singleflight.Group
	metrics      *metrics.Metrics
	log          zerolog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAssociations adds user-defined entries that are matched before the
// catalog. They apply even when the catalog cannot be loaded.
func WithAssociations(entries []catalog.Entry) Option {
	return func(r *Resolver) {
		r.associations = append(r.associations, entries...)
	}
}

// WithDownloadTimeout bounds one shared schema download.
func WithDownloadTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New creates a resolver.
func New(src CatalogSource, store Store, fetcher fetch.Fetcher, opts ...Option) *Resolver {
	r := &Resolver{
		catalog: src,
		store:   store,
		fetcher: fetcher,
		timeout: fetch.DefaultTimeout,
		metrics: metrics.DefaultMetrics,
		log:     logging.WithComponent("resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the schema for the file at path, or false when there is
// none: no catalog, no matching entry, or no content obtainable.
func (r *Resolver) Resolve(ctx context.Context, path string) (Schema, bool) {
	url, _, ok := r.match(ctx, path)
	if !ok {
		r.metrics.RecordResolution(string(OriginNone))
		return Schema{}, false
	}
	s, ok := r.Fetch(ctx, url)
	if !ok {
		r.metrics.RecordResolution(string(OriginNone))
		return Schema{}, false
	}
	r.metrics.RecordResolution(string(s.Origin))
	return s, true
}

// Fetch returns the content of the schema at url: fresh cache content
// without network access, otherwise a new download, otherwise stale cache
// content.
func (r *Resolver) Fetch(ctx context.Context, url string) (Schema, bool) {
	log := logging.WithSchema(url)

	entry, err := r.store.Load(url)
	switch {
	case err == nil && entry.Fresh:
		return Schema{URL: url, Content: entry.Content, Origin: OriginCache}, true
	case err != nil && !errors.Is(err, cache.ErrMiss):
		log.Warn().Err(err).Msg("Schema cache unreadable, treating as miss")
		entry = nil
	case err != nil:
		entry = nil
	}

	content, err := r.download(ctx, url)
	if err == nil {
		return Schema{URL: url, Content: content, Origin: OriginNetwork}, true
	}

	if entry != nil {
		r.metrics.RecordStaleFallback()
		log.Info().
			Err(err).
			Time("fetchedAt", entry.FetchedAt).
			Msg("Schema refresh failed, serving stale cached copy")
		return Schema{URL: url, Content: entry.Content, Origin: OriginStale}, true
	}

	log.Warn().Err(err).Msg("Schema unavailable")
	return Schema{}, false
}

// download fetches and stores a schema. Concurrent downloads of one URL share
// a single fetch and a single cache write, which run to completion even when
// the caller that started them stops waiting.
func (r *Resolver) download(ctx context.Context, url string) ([]byte, error) {
	ch := r.downloads.DoChan(url, func() (any, error) {
		shared := context.WithoutCancel(ctx)
		fctx, cancel := context.WithTimeout(shared, r.timeout)
		body, err := r.fetcher.Get(fctx, url)
		cancel()
		if err == nil && !json.Valid(body) {
			err = ErrInvalidSchema
		}
		r.metrics.RecordSchemaDownload(err)
		if err != nil {
			return nil, err
		}

		if err := r.store.Put(shared, url, body); err != nil {
			r.log.Warn().Err(err).Str("schemaUrl", url).Msg("Failed to cache schema")
		}
		return body, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// match selects the schema URL for path and reports which list it came from.
func (r *Resolver) match(ctx context.Context, path string) (string, string, bool) {
	if url, ok := matcher.MatchURL(r.associations, path); ok {
		return url, "association", true
	}

	cat, err := r.catalog.Get(ctx)
	if err != nil {
		ev := r.log.Warn()
		if errors.Is(err, catalog.ErrCoolingDown) {
			ev = r.log.Debug()
		}
		ev.Err(err).Str("file", path).Msg("No catalog, skipping schema resolution")
		return "", "", false
	}

	if url, ok := matcher.MatchURL(cat.Schemas, path); ok {
		return url, "catalog", true
	}
	return "", "", false
}

// LookupReport describes how a file resolved. It backs the interactive
// "look up schema" affordance.
type LookupReport struct {
	File          string `json:"file"`
	Matched       bool   `json:"matched"`
	MatchedBy     string `json:"matchedBy,omitempty"`
	URL           string `json:"url,omitempty"`
	Available     bool   `json:"available"`
	Origin        Origin `json:"origin"`
	ContentLength int    `json:"contentLength"`
}

// Lookup resolves path and reports the outcome without failing.
func (r *Resolver) Lookup(ctx context.Context, path string) LookupReport {
	report := LookupReport{File: filepath.ToSlash(path), Origin: OriginNone}

	url, by, ok := r.match(ctx, path)
	if !ok {
		return report
	}
	report.Matched = true
	report.MatchedBy = by
	report.URL = url

	s, ok := r.Fetch(ctx, url)
	if !ok {
		return report
	}
	report.Available = true
	report.Origin = s.Origin
	report.ContentLength = len(s.Content)
	return report
}

// String renders the report as a single human-readable line.
func (l LookupReport) String() string {
	switch {
	case !l.Matched:
		return fmt.Sprintf("no schema matches %s", l.File)
	case !l.Available:
		return fmt.Sprintf("%s matches %s but the schema could not be obtained", l.File, l.URL)
	default:
		return fmt.Sprintf("%s matches %s (%d bytes, from %s)", l.File, l.URL, l.ContentLength, l.Origin)
	}
}
