package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/mediakit/metacache/backend"
)

// registryObject is the name of the key→expiry index object, stored under
// the backend's prefix next to the value objects.
const registryObject = ".registry.json"

func (s *Store) registryKey() string {
	return path.Join(s.prefix, registryObject)
}

// loadRegistry reads the persisted registry into memory. A missing registry
// object (or missing bucket) means a fresh cache and loads as empty; any
// other failure reports the store unavailable.
func (s *Store) loadRegistry(ctx context.Context) error {
	raw, err := s.store.Get(ctx, s.bucket, s.registryKey())
	if err != nil {
		if notFound(err) {
			return nil
		}
		return fmt.Errorf("%w: loading cache registry %s: %v", backend.ErrUnavailable, s.registryKey(), err)
	}
	reg := make(map[string]int64)
	if err := json.Unmarshal(raw, &reg); err != nil {
		return fmt.Errorf("decoding cache registry %s: %w", s.registryKey(), err)
	}
	s.reg = reg
	log.Debugw("loaded cache registry", "keys", len(reg))
	return nil
}

// persistRegistry writes the whole in-memory registry back to its object.
// Callers hold s.mu.
func (s *Store) persistRegistry(ctx context.Context) error {
	raw, err := json.Marshal(s.reg)
	if err != nil {
		return fmt.Errorf("encoding cache registry: %w", err)
	}
	if err := s.store.Put(ctx, s.bucket, s.registryKey(), raw); err != nil {
		return fmt.Errorf("persisting cache registry: %w", err)
	}
	return nil
}
