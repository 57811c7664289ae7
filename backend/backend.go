package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Kind identifies a backend implementation.
type Kind string

// Backend kinds known to this module. Each is registered by its
// implementation package on import.
const (
	KindMemory      Kind = "memory"
	KindDisk        Kind = "disk"
	KindRemote      Kind = "remote"
	KindDistributed Kind = "distributed"
)

// ErrUnknownKind is returned by New when no factory is registered for the
// requested kind, typically because the implementing package was not
// imported or the kind name is misspelled.
var ErrUnknownKind = errors.New("unknown backend kind")

// ErrUnavailable is returned from a factory when the backend's underlying
// store or engine cannot be reached.
var ErrUnavailable = errors.New("backend unavailable")

// Backend is the uniform contract implemented by every storage backend.
//
// Get reports a miss as (nil, false, nil); errors are reserved for storage
// failures. An expired entry is indistinguishable from an absent one.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Put stores value under key with the given time-to-live, replacing any
	// existing entry. A zero ttl stores an entry that is already expired;
	// backends whose engine tracks expiry natively document their own
	// handling of it.
	Put(ctx context.Context, key string, value any, ttl time.Duration) error

	// Get returns the live value stored under key, reporting false when the
	// key is absent or expired.
	Get(ctx context.Context, key string) (any, bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry owned by this backend.
	Clear(ctx context.Context) error

	// Cleanup removes expired entries in bulk. It is safe to call
	// repeatedly; backends whose store expires entries natively implement
	// it as a no-op.
	Cleanup(ctx context.Context) error

	// Close releases the underlying store handle. The backend must not be
	// used after Close.
	Close() error
}

// Factory constructs a backend from its option map. The factory validates
// opts and returns a descriptive error on bad configuration; factories that
// dial an external store use ctx for the initial connection.
type Factory func(ctx context.Context, opts Options) (Backend, error)

// Config pairs a backend kind with its options for one logical cache.
type Config struct {
	Kind    Kind
	Options Options
}

var (
	registryMu sync.RWMutex
	registry   = make(map[Kind]Factory)
)

// Register makes a factory available under kind. It is called from the init
// function of each implementation package and panics if kind is already
// taken or f is nil.
func Register(kind Kind, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("backend: Register called with nil factory")
	}
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("backend: Register called twice for kind %q", kind))
	}
	registry[kind] = f
}

// New constructs a backend of the given kind from opts. It returns
// ErrUnknownKind when no factory is registered for kind.
func New(ctx context.Context, kind Kind, opts Options) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return f(ctx, opts)
}

// Kinds returns the registered backend kinds in sorted order.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
