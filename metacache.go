package metacache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/channelqueue"
	logging "github.com/ipfs/go-log/v2"

	"github.com/mediakit/metacache/backend"
	_ "github.com/mediakit/metacache/backend/memory"
)

var log = logging.Logger("metacache")

// ErrClosed is returned for operations submitted after Close.
var ErrClosed = errors.New("cache is closed")

// ErrUnknownCache is returned when an operation names a logical cache that
// was not configured.
var ErrUnknownCache = errors.New("unknown cache")

// Config maps each logical cache name to the backend that stores it.
type Config map[string]backend.Config

// namedBackend pairs a backend instance with the kind it was built from.
type namedBackend struct {
	kind    backend.Kind
	backend backend.Backend
}

// Cache coordinates a set of named storage backends behind one serialized
// access point. All operations flow through a single control loop that owns
// the cache table and every backend in it, so no two backend operations ever
// interleave, whatever goroutine submitted them. A periodic sweep removes
// expired entries from every backend; it is enqueued on the same loop as
// caller traffic and re-armed only after it finishes.
type Cache struct {
	cfg   config
	table map[string]namedBackend

	in  chan<- request
	out <-chan request

	mu     sync.Mutex
	closed bool

	done       chan struct{}
	closeErr   error
	sweepTimer *time.Timer

	stats counters
}

// New constructs a Cache from cfg, building one backend per logical cache
// name. A backend that fails to construct is replaced by a memory backend
// with default options under the same name, so a misconfigured or
// unreachable store degrades the cache instead of failing startup. ctx
// bounds only the initial construction of backends that dial external
// stores.
func New(ctx context.Context, cfg Config, opts ...Option) (*Cache, error) {
	options, err := getOpts(opts)
	if err != nil {
		return nil, err
	}
	table := make(map[string]namedBackend, len(cfg))
	for name, bc := range cfg {
		b, err := backend.New(ctx, bc.Kind, bc.Options)
		if err != nil {
			log.Warnw("backend construction failed, falling back to memory",
				"cache", name, "kind", bc.Kind, "err", err)
			b, err = backend.New(ctx, backend.KindMemory, nil)
			if err != nil {
				return nil, fmt.Errorf("constructing fallback for cache %q: %w", name, err)
			}
			table[name] = namedBackend{kind: backend.KindMemory, backend: b}
			continue
		}
		table[name] = namedBackend{kind: bc.Kind, backend: b}
	}

	cq := channelqueue.New[request](-1)
	c := &Cache{
		cfg:   options,
		table: table,
		in:    cq.In(),
		out:   cq.Out(),
		done:  make(chan struct{}),
	}
	if c.cfg.sweepInterval > 0 {
		c.sweepTimer = time.AfterFunc(c.cfg.sweepInterval, c.enqueueSweep)
	}
	go c.run()
	return c, nil
}

// Get looks up key in the named cache and returns the normalized response.
// Backend read failures are logged and reported as a miss; naming an
// unconfigured cache is an error.
func (c *Cache) Get(ctx context.Context, cache, key string) Response {
	res, err := c.submit(ctx, request{op: opGet, cache: cache, key: key})
	if err != nil {
		return Failure(err)
	}
	return normalize(res.value, res.found, res.err)
}

// Put stores value under key in the named cache with the given time-to-live.
// A negative ttl is rejected before reaching any backend; a zero ttl writes
// an entry that is already expired.
func (c *Cache) Put(ctx context.Context, cache, key string, value any, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("ttl for key %q: expected a positive integer, got %s", key, ttl)
	}
	res, err := c.submit(ctx, request{op: opPut, cache: cache, key: key, value: value, ttl: ttl})
	if err != nil {
		return err
	}
	return res.err
}

// Delete removes key from the named cache. Deleting an absent key succeeds.
func (c *Cache) Delete(ctx context.Context, cache, key string) error {
	res, err := c.submit(ctx, request{op: opDelete, cache: cache, key: key})
	if err != nil {
		return err
	}
	return res.err
}

// ClearCache removes every entry from the named cache.
func (c *Cache) ClearCache(ctx context.Context, cache string) error {
	res, err := c.submit(ctx, request{op: opClearOne, cache: cache})
	if err != nil {
		return err
	}
	return res.err
}

// Clear removes every entry from every configured cache. The per-cache
// clears are independent: a failure in one does not stop the others, and
// all failures are returned together.
func (c *Cache) Clear(ctx context.Context) error {
	res, err := c.submit(ctx, request{op: opClearAll})
	if err != nil {
		return err
	}
	return res.err
}

// Sweep runs an expiry sweep over every configured cache immediately. It is
// the same operation the periodic timer schedules; running it manually also
// resets the periodic timer.
func (c *Cache) Sweep(ctx context.Context) error {
	res, err := c.submit(ctx, request{op: opSweep})
	if err != nil {
		return err
	}
	return res.err
}

// Stats returns a snapshot of operation totals since construction.
func (c *Cache) Stats() Stats {
	return c.stats.snapshot()
}

// Close stops the control loop and releases every backend. Operations
// already queued are run to completion first; operations submitted after
// Close return ErrClosed. Close is idempotent and safe to call from any
// goroutine; every call waits for shutdown to finish and returns the same
// result.
func (c *Cache) Close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.in)
	}
	c.mu.Unlock()
	<-c.done
	return c.closeErr
}

// submit enqueues req on the control loop and waits for its reply. The wait
// honors ctx, but the operation itself is not cancelable: once dequeued it
// always runs to completion, whether or not the caller is still listening.
func (c *Cache) submit(ctx context.Context, req request) (result, error) {
	reply := make(chan result, 1)
	req.reply = reply
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return result{}, ErrClosed
	}
	c.in <- req
	c.mu.Unlock()

	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-c.done:
		// The loop drains the queue before signaling done, so the reply is
		// already buffered if this request made it in before Close.
		select {
		case res := <-reply:
			return res, nil
		default:
			return result{}, ErrClosed
		}
	}
}
