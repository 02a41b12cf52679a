package document

import (
	"sync"
	"sync/atomic"
)

// Sequencer hands out monotonically increasing sequence numbers and remembers
// the latest one issued for each document.
type Sequencer struct {
	counter atomic.Uint64
	mu      sync.RWMutex
	latest  map[string]uint64
}

// NewSequencer creates an empty sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{latest: make(map[string]uint64)}
}

// Next issues a new sequence number for uri, superseding earlier ones.
func (s *Sequencer) Next(uri string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.counter.Add(1)
	s.latest[uri] = n
	return n
}

// IsLatest reports whether seq is the newest number issued for uri.
func (s *Sequencer) IsLatest(uri string, seq uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.latest[uri]
	return ok && n == seq
}

// Latest returns the newest number issued for uri.
func (s *Sequencer) Latest(uri string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.latest[uri]
	return n, ok
}

// Release drops uri only if seq is still its newest number, so a trigger
// that arrived in the meantime keeps its place.
func (s *Sequencer) Release(uri string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.latest[uri]; !ok || n != seq {
		return false
	}
	delete(s.latest, uri)
	return true
}
