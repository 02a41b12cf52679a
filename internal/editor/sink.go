package editor

import (
	"context"
	"errors"
	"sync"

	"tomlkit-schema-service/internal/models"
)

// Publication is the complete diagnostic set for one document. Publishing
// replaces whatever was published before for the same URI; an empty set
// clears the document.
type Publication struct {
	URI         string              `json:"uri"`
	Version     int32               `json:"version"`
	Sequence    uint64              `json:"sequence"`
	Diagnostics []models.Diagnostic `json:"diagnostics"`
}

// Sink receives publications keyed by URI.
type Sink interface {
	Publish(ctx context.Context, p Publication) error
}

// Sinks publishes to every sink in order and joins their errors.
type Sinks []Sink

// Publish implements Sink.
func (s Sinks) Publish(ctx context.Context, p Publication) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Publish(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const watchBuffer = 64

// Collection holds the current diagnostic set of every document and lets
// readers watch for replacements.
type Collection struct {
	mu       sync.RWMutex
	current  map[string]Publication
	watchers map[chan Publication]struct{}
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{
		current:  make(map[string]Publication),
		watchers: make(map[chan Publication]struct{}),
	}
}

// Publish implements Sink.
func (c *Collection) Publish(_ context.Context, p Publication) error {
	c.mu.Lock()
	if len(p.Diagnostics) == 0 {
		delete(c.current, p.URI)
	} else {
		c.current[p.URI] = p
	}
	c.mu.Unlock()

	// Watch closes channels under the write lock, so sends hold the read lock.
	c.mu.RLock()
	defer c.mu.RUnlock()
	for ch := range c.watchers {
		select {
		case ch <- p:
		default:
			// Slow watcher; it can re-read the collection.
		}
	}
	return nil
}

// Get returns the diagnostics currently published for uri.
func (c *Collection) Get(uri string) []models.Diagnostic {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current[uri].Diagnostics
}

// Publication returns the last non-empty publication for uri.
func (c *Collection) Publication(uri string) (Publication, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.current[uri]
	return p, ok
}

// Len returns the number of documents with diagnostics.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.current)
}

// Watch streams every publication until ctx ends. The channel is closed when
// the watch stops.
func (c *Collection) Watch(ctx context.Context) <-chan Publication {
	ch := make(chan Publication, watchBuffer)
	c.mu.Lock()
	c.watchers[ch] = struct{}{}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.watchers, ch)
		close(ch)
		c.mu.Unlock()
	}()
	return ch
}
