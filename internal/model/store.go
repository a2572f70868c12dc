package model

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable set of weights. Nothing may mutate Model after
// it has been published.
type Snapshot struct {
	Model       LanguageModel
	Source      string // e.g. artifact path or checkpoint handle
	Version     uint64
	PublishedAt time.Time
}

// Store holds the current weights. Readers bind one Snapshot per call and
// keep using it even if a newer one is published meanwhile.
type Store struct {
	mu      sync.Mutex // serializes Publish
	current atomic.Pointer[Snapshot]
	version uint64
}

// NewStore returns a store with m published as version 1.
func NewStore(m LanguageModel, source string) *Store {
	s := &Store{}
	s.Publish(m, source)
	return s
}

// Current returns the latest published snapshot, or nil if none.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Publish makes m the current snapshot. The caller gives up the right to
// mutate m.
func (s *Store) Publish(m LanguageModel, source string) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	snap := &Snapshot{
		Model:       m,
		Source:      source,
		Version:     s.version,
		PublishedAt: time.Now(),
	}
	s.current.Store(snap)
	return snap
}
