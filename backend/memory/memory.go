// Package memory provides the volatile in-process cache backend. Entries
// live in a map guarded by a mutex; capacity is enforced on every write by
// evicting the entry closest to expiry.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mediakit/metacache/backend"
)

// DefaultMaxSize is the entry cap applied when max_size is not configured.
const DefaultMaxSize = 1000

// Schema describes the options accepted by the memory backend.
var Schema = backend.Schema{
	"table":    {Type: backend.TypeIdentifier, Default: "metacache"},
	"max_size": {Type: backend.TypePositiveInt, Default: DefaultMaxSize},
}

func init() {
	backend.Register(backend.KindMemory, func(ctx context.Context, opts backend.Options) (backend.Backend, error) {
		return New(opts)
	})
}

type entry struct {
	value  any
	expiry time.Time
}

// Store is the map-backed cache backend. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]entry
}

// New constructs a memory backend from opts, validated against Schema.
func New(opts backend.Options) (*Store, error) {
	validated, err := Schema.Validate(opts)
	if err != nil {
		return nil, err
	}
	return &Store{
		maxSize: validated.Int("max_size"),
		entries: make(map[string]entry),
	}, nil
}

// Put stores value under key with expiry now+ttl. When the store is at
// capacity and key is not already present, the entry with the smallest
// expiry is evicted first. Replacing an existing key never evicts.
func (s *Store) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	expiry := time.Now().Add(ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxSize {
		s.evictOne()
	}
	s.entries[key] = entry{value: value, expiry: expiry}
	return nil
}

// evictOne removes the entry with the smallest expiry, breaking ties by the
// smallest key so eviction order is deterministic.
func (s *Store) evictOne() {
	var victim string
	var victimExpiry time.Time
	found := false
	for k, e := range s.entries {
		if !found || e.expiry.Before(victimExpiry) || (e.expiry.Equal(victimExpiry) && k < victim) {
			victim, victimExpiry, found = k, e.expiry, true
		}
	}
	if found {
		delete(s.entries, victim)
	}
}

// Get returns the live value under key. An expired entry is removed and
// reported absent.
func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiry.After(time.Now()) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Delete removes key. Absent keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]entry)
	return nil
}

// Cleanup removes every expired entry in one pass.
func (s *Store) Cleanup(ctx context.Context) error {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if !e.expiry.After(now) {
			delete(s.entries, k)
		}
	}
	return nil
}

// Close is a no-op; the memory backend holds no external resources.
func (s *Store) Close() error { return nil }

// Len reports the number of stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
