package cache

import (
	"sync"
	"time"

	"listing-inspector/internal/utils"
)

// MemoryStore keeps entries in a process-local map behind one mutex.
// A restart is equivalent to ClearAll.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ttl     time.Duration
	now     Clock
	hits    int64
	misses  int64
	metrics instruments
}

// NewMemoryStore creates an empty store; ttl <= 0 selects DefaultTTL
func NewMemoryStore(ttl time.Duration, opts ...Option) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	o := buildOptions(opts)
	return &MemoryStore{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     o.now,
		metrics: newInstruments("memory"),
	}
}

// Get returns a copy of the live entry for id, evicting it if expired
func (s *MemoryStore) Get(id string) (*Entry, bool) {
	key := Fingerprint(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.misses++
		s.metrics.add(s.metrics.misses, 1)
		return nil, false
	}
	if !e.Live(s.now()) {
		delete(s.entries, key)
		s.misses++
		s.metrics.add(s.metrics.evictions, 1)
		s.metrics.add(s.metrics.misses, 1)
		utils.Debugf("🗑️  Cache entry expired: %s", key)
		return nil, false
	}

	s.hits++
	s.metrics.add(s.metrics.hits, 1)
	out := *e
	out.Value = cloneBytes(e.Value)
	return &out, true
}

// Set stores value under the default TTL
func (s *MemoryStore) Set(id string, value []byte) bool {
	return s.SetWithTTL(id, value, s.ttl)
}

// SetWithTTL overwrites any entry for id with a fresh createdAt.
// A ttl of zero stores an entry that is already expired.
func (s *MemoryStore) SetWithTTL(id string, value []byte, ttl time.Duration) bool {
	if ttl < 0 {
		ttl = 0
	}
	key := Fingerprint(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &Entry{
		Key:       key,
		Value:     cloneBytes(value),
		CreatedAt: s.now(),
		TTL:       ttl,
	}
	s.metrics.add(s.metrics.sets, 1)
	return true
}

// Delete removes the entry for id and reports whether one existed
func (s *MemoryStore) Delete(id string) bool {
	key := Fingerprint(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	return true
}

// ClearAll drops every entry
func (s *MemoryStore) ClearAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*Entry)
	return true
}

// Stats sweeps expired entries, then reports the remaining count
func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	swept := 0
	for key, e := range s.entries {
		if !e.Live(now) {
			delete(s.entries, key)
			swept++
		}
	}
	s.metrics.add(s.metrics.evictions, swept)

	return Stats{
		Backend:           "memory",
		Entries:           len(s.entries),
		Swept:             swept,
		Hits:              s.hits,
		Misses:            s.misses,
		DefaultTTLSeconds: int64(s.ttl / time.Second),
	}
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
