// Package cache stores downloaded schema documents on disk, one file per
// schema URL, and judges freshness by file modification time.
package cache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"tomlkit-schema-service/internal/observability/logging"
	"tomlkit-schema-service/internal/observability/metrics"
)

// FreshnessWindow is the maximum age at which a cached schema is served
// without attempting a refresh.
const FreshnessWindow = 24 * time.Hour

const (
	fileExt     = ".json"
	tempExt     = ".tmp"
	lockName    = ".lock"
	lockRetry   = 10 * time.Millisecond
	lockTimeout = 5 * time.Second
)

var (
	// ErrMiss is returned by Load when no entry exists for a URL.
	ErrMiss = errors.New("cache miss")
	// ErrIO wraps filesystem failures. Callers treat it as a miss.
	ErrIO = errors.New("cache i/o error")
)

// Entry is a cached schema document.
type Entry struct {
	URL       string
	Path      string
	Content   []byte
	FetchedAt time.Time
	Fresh     bool
}

// Info describes a cache file without its content.
type Info struct {
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	FetchedAt time.Time `json:"fetchedAt"`
	Fresh     bool      `json:"fresh"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for freshness decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is safe for concurrent use, including by several processes sharing
// the same root: writes go to a temporary file that is renamed into place
// while holding an advisory lock on the directory.
type Cache struct {
	root    string
	now     func() time.Time
	mu      sync.Mutex
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New creates a cache rooted at dir. The directory is created on first write.
func New(dir string, opts ...Option) *Cache {
	c := &Cache{
		root:    dir,
		now:     time.Now,
		metrics: metrics.DefaultMetrics,
		log:     logging.WithComponent("cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultDir returns the per-user cache directory for schemas.
func DefaultDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "tomlkit", "schemas")
}

// Key encodes a URL as a file-name-safe key. The encoding is reversible, so
// distinct URLs never share a key.
func Key(url string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(url))
}

// KeyURL decodes a key produced by Key.
func KeyURL(key string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("decoding cache key %q: %w", key, err)
	}
	return string(b), nil
}

// Root returns the cache directory.
func (c *Cache) Root() string {
	return c.root
}

// Path returns the file that holds the entry for url.
func (c *Cache) Path(url string) string {
	return filepath.Join(c.root, Key(url)+fileExt)
}

// Get returns the cached content for url only when it is fresh.
func (c *Cache) Get(url string) ([]byte, bool) {
	e, err := c.Load(url)
	if err != nil || !e.Fresh {
		return nil, false
	}
	return e.Content, true
}

// Load returns the entry for url regardless of age. It returns ErrMiss when
// there is no entry and wraps ErrIO on filesystem failures.
func (c *Cache) Load(url string) (*Entry, error) {
	path := c.Path(url)

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		c.metrics.RecordCacheLookup("miss")
		return nil, ErrMiss
	}
	if err != nil {
		c.metrics.RecordCacheLookup("error")
		return nil, fmt.Errorf("%w: opening %s: %w", ErrIO, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		c.metrics.RecordCacheLookup("error")
		return nil, fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}
	content, err := io.ReadAll(f)
	if err != nil {
		c.metrics.RecordCacheLookup("error")
		return nil, fmt.Errorf("%w: reading %s: %w", ErrIO, path, err)
	}

	fetchedAt := info.ModTime()
	fresh := c.now().Sub(fetchedAt) < FreshnessWindow
	if fresh {
		c.metrics.RecordCacheLookup("fresh")
	} else {
		c.metrics.RecordCacheLookup("stale")
	}

	return &Entry{
		URL:       url,
		Path:      path,
		Content:   content,
		FetchedAt: fetchedAt,
		Fresh:     fresh,
	}, nil
}

// Put stores content for url, replacing any previous entry atomically.
func (c *Cache) Put(ctx context.Context, url string, content []byte) error {
	err := c.put(ctx, url, content)
	c.metrics.RecordCacheWrite(err)
	return err
}

func (c *Cache) put(ctx context.Context, url string, content []byte) error {
	unlock, err := c.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	key := Key(url)
	tmp, err := os.CreateTemp(c.root, key+".*"+tempExt)
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", ErrIO, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing %s: %w", ErrIO, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: syncing %s: %w", ErrIO, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %w", ErrIO, tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("%w: chmod %s: %w", ErrIO, tmpName, err)
	}

	final := filepath.Join(c.root, key+fileExt)
	if err := os.Rename(tmpName, final); err != nil {
		return fmt.Errorf("%w: renaming into %s: %w", ErrIO, final, err)
	}
	committed = true

	c.log.Debug().
		Str("url", url).
		Str("path", final).
		Int("bytes", len(content)).
		Msg("Schema cached")
	return nil
}

// Sweep removes entries whose modification time is older than maxAge, along
// with temporary files abandoned by crashed writers. It returns the number of
// files removed.
func (c *Cache) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	if _, err := os.Stat(c.root); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	unlock, err := c.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	entries, err := os.ReadDir(c.root)
	if err != nil {
		return 0, fmt.Errorf("%w: listing %s: %w", ErrIO, c.root, err)
	}

	now := c.now()
	removed := 0
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || name == lockName {
			continue
		}
		limit := maxAge
		switch {
		case strings.HasSuffix(name, tempExt):
			limit = FreshnessWindow
		case strings.HasSuffix(name, fileExt):
		default:
			continue
		}

		info, err := de.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= limit {
			continue
		}
		if err := os.Remove(filepath.Join(c.root, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.log.Warn().Err(err).Str("file", name).Msg("Failed to evict cache file")
			continue
		}
		removed++
	}

	c.metrics.RecordEvicted(removed)
	if removed > 0 {
		c.log.Info().Int("removed", removed).Dur("maxAge", maxAge).Msg("Cache sweep completed")
	}
	return removed, nil
}

// List describes every cached entry.
func (c *Cache) List() ([]Info, error) {
	entries, err := os.ReadDir(c.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %w", ErrIO, c.root, err)
	}

	now := c.now()
	var out []Info
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		url, err := KeyURL(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			URL:       url,
			Size:      info.Size(),
			FetchedAt: info.ModTime(),
			Fresh:     now.Sub(info.ModTime()) < FreshnessWindow,
		})
	}
	return out, nil
}

// lock serializes writers in this process and, through an advisory file
// lock, across processes sharing the directory.
func (c *Cache) lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %w", ErrIO, c.root, err)
	}

	c.mu.Lock()
	fl := flock.New(filepath.Join(c.root, lockName))

	lctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	ok, err := fl.TryLockContext(lctx, lockRetry)
	if err != nil || !ok {
		c.mu.Unlock()
		if err == nil {
			err = errors.New("lock not acquired")
		}
		return nil, fmt.Errorf("%w: locking %s: %w", ErrIO, c.root, err)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			c.log.Warn().Err(err).Msg("Failed to release cache lock")
		}
		c.mu.Unlock()
	}, nil
}
