// Package dist provides the distributed cache backend: a thin adapter over
// an externally managed Redis engine, single-node or clustered. Expiry is
// native to the engine, so Cleanup is a no-op and no sweep ever scans keys.
package dist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mediakit/metacache/backend"
)

var log = logging.Logger("metacache/dist")

// Defaults applied when options are not configured.
const (
	DefaultAddr            = "127.0.0.1:6379"
	DefaultTTL             = 24 * time.Hour
	DefaultCleanupInterval = 10 * time.Minute
)

// pingTimeout bounds the connection check issued at construction.
const pingTimeout = 5 * time.Second

// scanCount is the batch size hint passed to SCAN when clearing a table.
const scanCount = 100

// Schema describes the options accepted by the distributed backend. The
// default_ttl applies to puts that do not choose a TTL and accepts the
// string "infinite" for entries that never expire; cleanup_interval is an
// engine hint only, since the engine expires keys on its own schedule.
var Schema = backend.Schema{
	"table":            {Type: backend.TypeIdentifier, Default: "metacache"},
	"distributed":      {Type: backend.TypeBool, Default: false},
	"addrs":            {Type: backend.TypeStringList, Default: []string{DefaultAddr}},
	"default_ttl":      {Type: backend.TypeDuration, Default: DefaultTTL},
	"cleanup_interval": {Type: backend.TypeDuration, Default: DefaultCleanupInterval},
	"username":         {Type: backend.TypeString},
	"password":         {Type: backend.TypeString},
	"db":               {Type: backend.TypeNonNegativeInt, Default: 0},
}

func init() {
	backend.Register(backend.KindDistributed, func(ctx context.Context, opts backend.Options) (backend.Backend, error) {
		return Open(ctx, opts)
	})
}

// Store is the Redis-backed cache backend. Every key lives under the
// "<table>:" namespace so multiple logical caches can share one engine. It
// is safe for concurrent use; the client pools connections internally.
type Store struct {
	client     redis.UniversalClient
	cluster    *redis.ClusterClient // non-nil in distributed mode
	table      string
	defaultTTL time.Duration // zero means entries never expire
}

// Open constructs a distributed backend from opts and verifies the engine is
// reachable. With distributed=false a single-node client is dialed against
// the first address; with distributed=true a cluster client is built over
// the whole node list. Attaching to an engine that is already serving other
// clients is the normal case, not an error.
func Open(ctx context.Context, opts backend.Options) (*Store, error) {
	validated, err := Schema.Validate(opts)
	if err != nil {
		return nil, err
	}
	addrs := validated.StringList("addrs")
	if len(addrs) == 0 {
		return nil, fmt.Errorf("option %q: expected at least one address", "addrs")
	}

	var client redis.UniversalClient
	var cluster *redis.ClusterClient
	if validated.Bool("distributed") {
		cluster = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Username: validated.String("username"),
			Password: validated.String("password"),
		})
		client = cluster
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:     addrs[0],
			Username: validated.String("username"),
			Password: validated.String("password"),
			DB:       validated.Int("db"),
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: pinging cache engine at %s: %v",
			backend.ErrUnavailable, strings.Join(addrs, ","), err)
	}

	s := &Store{
		client:     client,
		cluster:    cluster,
		table:      validated.String("table"),
		defaultTTL: validated.Duration("default_ttl"),
	}
	log.Debugw("attached to cache engine",
		"table", s.table,
		"addrs", addrs,
		"distributed", cluster != nil,
		"default_ttl", s.defaultTTL,
		"cleanup_interval", validated.Duration("cleanup_interval"))
	return s, nil
}

func (s *Store) key(key string) string {
	return s.table + ":" + key
}

func (s *Store) pattern() string {
	return s.table + ":*"
}

// Put stores value under key. The engine owns expiry: a positive ttl is
// passed through, while ttl <= 0 means the caller did not choose one and the
// configured default_ttl applies, where zero keeps the entry forever.
func (s *Store) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := backend.EncodeValue(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if err := s.client.Set(ctx, s.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("writing cache entry %q: %w", key, err)
	}
	return nil
}

// Get returns the value under key. The engine reports expired keys as
// missing on its own; an undecodable value is dropped and reported absent.
// Engine failures surface as errors for the caller to downgrade.
func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading cache entry %q: %w", key, err)
	}
	value, err := backend.DecodeValue(raw)
	if err != nil {
		log.Warnw("dropping undecodable cache entry", "key", key, "err", err)
		if derr := s.client.Del(ctx, s.key(key)).Err(); derr != nil {
			log.Warnw("removing undecodable cache entry", "key", key, "err", derr)
		}
		return nil, false, nil
	}
	return value, true, nil
}

// Delete removes key. Absent keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("deleting cache entry %q: %w", key, err)
	}
	return nil
}

// Clear removes every key in this table's namespace, leaving the rest of the
// engine untouched. In distributed mode the scan runs on every master, since
// SCAN only walks the node it is issued against.
func (s *Store) Clear(ctx context.Context) error {
	var err error
	if s.cluster != nil {
		err = s.cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return deleteMatching(ctx, node, s.pattern())
		})
	} else {
		err = deleteMatching(ctx, s.client, s.pattern())
	}
	if err != nil {
		return fmt.Errorf("clearing cache table %s: %w", s.table, err)
	}
	return nil
}

// deleteMatching scans for keys matching pattern and deletes them in
// pipelined batches. Pipelines keep cluster deletes valid, since the client
// routes each DEL to the slot that owns its key.
func deleteMatching(ctx context.Context, client redis.UniversalClient, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			pipe := client.Pipeline()
			for _, k := range keys {
				pipe.Del(ctx, k)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Cleanup is a no-op: the engine expires keys on its own timer.
func (s *Store) Cleanup(ctx context.Context) error { return nil }

// Close releases the engine client and its connection pool.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
