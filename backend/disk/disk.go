// Package disk provides the persistent cache backend: a bbolt key-value
// table stored in a file under a configurable directory. Values are
// serialized with their expiry so entries survive process restarts.
package disk

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	logging "github.com/ipfs/go-log/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/mediakit/metacache/backend"
)

var log = logging.Logger("metacache/disk")

// Defaults applied when options are not configured.
const (
	DefaultCacheDir = "./cache"
	DefaultMaxSize  = 10000
)

// Schema describes the options accepted by the disk backend.
var Schema = backend.Schema{
	"table":     {Type: backend.TypeIdentifier, Default: "metacache"},
	"cache_dir": {Type: backend.TypePath, Default: DefaultCacheDir},
	"max_size":  {Type: backend.TypePositiveInt, Default: DefaultMaxSize},
}

func init() {
	backend.Register(backend.KindDisk, func(ctx context.Context, opts backend.Options) (backend.Backend, error) {
		return Open(opts)
	})
}

// Store is the bbolt-backed cache backend. It is safe for concurrent use;
// bbolt serializes writers internally.
type Store struct {
	db      *bolt.DB
	bucket  []byte
	maxSize int
}

// Open constructs a disk backend from opts, creating the cache directory
// and the database file if absent. The table name doubles as the database
// file name and the bucket name.
func Open(opts backend.Options) (*Store, error) {
	validated, err := Schema.Validate(opts)
	if err != nil {
		return nil, err
	}
	dir := validated.String("cache_dir")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	table := validated.String("table")
	path := filepath.Join(dir, table+".db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening cache database %s: %w", path, err)
	}
	bucket := []byte(table)
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating cache table %s: %w", table, err)
	}
	return &Store{db: db, bucket: bucket, maxSize: validated.Int("max_size")}, nil
}

// Put stores value under key with expiry now+ttl. When the table is at or
// over capacity and key is not already present, the (count - max_size + 1)
// entries with the smallest expiries are evicted first so the insert lands
// exactly at capacity. Replacing an existing key never evicts.
func (s *Store) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := backend.EncodeEntry(value, time.Now().Add(ttl))
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b.Get([]byte(key)) == nil {
			if count := b.Stats().KeyN; count >= s.maxSize {
				if err := evict(b, count-s.maxSize+1); err != nil {
					return err
				}
			}
		}
		return b.Put([]byte(key), raw)
	})
	if err != nil {
		return fmt.Errorf("writing cache entry %q: %w", key, err)
	}
	return nil
}

// evict removes the n entries with the smallest expiries, breaking expiry
// ties by key order. Undecodable entries sort first so they are evicted
// before anything live.
func evict(b *bolt.Bucket, n int) error {
	type victim struct {
		key    []byte
		expiry time.Time
	}
	var all []victim
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		expiry, err := backend.DecodeExpiry(v)
		if err != nil {
			expiry = time.Time{}
		}
		all = append(all, victim{key: append([]byte(nil), k...), expiry: expiry})
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].expiry.Equal(all[j].expiry) {
			return all[i].expiry.Before(all[j].expiry)
		}
		return bytes.Compare(all[i].key, all[j].key) < 0
	})
	if n > len(all) {
		n = len(all)
	}
	for _, v := range all[:n] {
		if err := b.Delete(v.key); err != nil {
			return err
		}
	}
	log.Debugw("evicted cache entries", "count", n)
	return nil
}

// Get returns the live value under key. Expired entries are removed and
// reported absent; an undecodable entry is dropped and reported absent
// rather than failing the read.
func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	var value any
	var found bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		v, expiry, derr := backend.DecodeEntry(raw)
		if derr != nil {
			log.Warnw("dropping undecodable cache entry", "key", key, "err", derr)
			return b.Delete([]byte(key))
		}
		if !expiry.After(time.Now()) {
			return b.Delete([]byte(key))
		}
		value, found = v, true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry %q: %w", key, err)
	}
	return value, found, nil
}

// Delete removes key. Absent keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("deleting cache entry %q: %w", key, err)
	}
	return nil
}

// Clear drops and recreates the table.
func (s *Store) Clear(ctx context.Context) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(s.bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("clearing cache table: %w", err)
	}
	return nil
}

// Cleanup removes every expired entry in one write transaction, scanning
// the whole table. Undecodable entries are removed along the way.
func (s *Store) Cleanup(ctx context.Context) error {
	now := time.Now()
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		var stale [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			expiry, err := backend.DecodeExpiry(v)
			if err != nil || !expiry.After(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return fmt.Errorf("sweeping cache table: %w", err)
	}
	if removed > 0 {
		log.Debugw("swept expired cache entries", "count", removed)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Len reports the number of stored entries, expired or not.
func (s *Store) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(s.bucket).Stats().KeyN
		return nil
	})
	return n, err
}
