// Package statecache is the shared keyed store the UI renders from.
//
// Two writers feed it: the bootstrap preloader (seeding) and the live
// event path (authoritative). Entries are last-write-wins, with one
// asymmetry: a seed never overwrites a live write, while a live write
// always overwrites a seed. Identical writes are suppressed by content
// hash so re-applying the same snapshot is a no-op.
package statecache

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

type entry struct {
	value  json.RawMessage
	hash   uint64
	seeded bool
}

// Store is a keyed last-write-wins cache with seeded-key tracking.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty store
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Seed writes a bootstrap snapshot value. It never overwrites a value
// written by the live path, so an event that raced ahead of the snapshot
// keeps winning. Returns true if the entry changed.
func (s *Store) Seed(key string, value json.RawMessage) bool {
	h := xxhash.Sum64(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entries[key]; ok {
		if !cur.seeded {
			return false
		}
		if cur.hash == h {
			return false
		}
	}
	s.entries[key] = &entry{value: cloneRaw(value), hash: h, seeded: true}
	return true
}

// Set writes a live value. Live writes always win over seeds; an identical
// live re-write is suppressed. Returns true if the entry changed.
func (s *Store) Set(key string, value json.RawMessage) bool {
	h := xxhash.Sum64(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entries[key]; ok && !cur.seeded && cur.hash == h {
		return false
	}
	s.entries[key] = &entry{value: cloneRaw(value), hash: h}
	return true
}

// Get returns a copy of the value for key
func (s *Store) Get(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return cloneRaw(cur.value), true
}

// Delete removes key from the store
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len returns the number of cached entries
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns all cached keys, sorted
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SeededKeys returns the keys currently holding preloaded values, sorted
func (s *Store) SeededKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k, e := range s.entries {
		if e.seeded {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Invalidate runs the post-connect invalidation pass: every entry that was
// not seeded by the preloader is dropped so the caller re-requests it over
// the socket. Seeded entries are kept but downgraded to live, so the next
// pass (a later reconnect) invalidates them too. Returns the dropped keys,
// sorted.
func (s *Store) Invalidate() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped []string
	for k, e := range s.entries {
		if e.seeded {
			e.seeded = false
			continue
		}
		delete(s.entries, k)
		dropped = append(dropped, k)
	}
	sort.Strings(dropped)
	return dropped
}

func cloneRaw(value json.RawMessage) json.RawMessage {
	if value == nil {
		return nil
	}
	out := make(json.RawMessage, len(value))
	copy(out, value)
	return out
}
