package metacache

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
)

// opKind selects the operation a request carries.
type opKind int

const (
	opGet opKind = iota
	opPut
	opDelete
	opClearOne
	opClearAll
	opSweep
)

// request is one message on the control loop's mailbox.
type request struct {
	op    opKind
	cache string
	key   string
	value any
	ttl   time.Duration

	// reply receives the outcome. It is buffered so the loop never blocks
	// on a caller that stopped waiting; nil for timer-driven sweeps, which
	// have no caller.
	reply chan<- result
}

// result is the raw outcome the loop reports back to the submitting call.
type result struct {
	value any
	found bool
	err   error
}

// run is the control loop and the sole owner of the cache table and every
// backend in it. Requests are processed one at a time in arrival order, so
// no two backend operations ever interleave; the price is that a slow
// backend call holds up everything behind it. Operations run under a
// background context because cancellation mid-flight is not supported: once
// dequeued, an operation always completes. When the mailbox closes, the
// loop drains what was already queued, stops the sweep timer, closes every
// backend, and signals done.
func (c *Cache) run() {
	for req := range c.out {
		c.dispatch(req)
	}
	if c.sweepTimer != nil {
		c.sweepTimer.Stop()
	}
	c.closeErr = c.closeBackends()
	close(c.done)
}

func (c *Cache) dispatch(req request) {
	var res result
	switch req.op {
	case opGet:
		res = c.handleGet(req)
	case opPut:
		res.err = c.handlePut(req)
	case opDelete:
		res.err = c.handleDelete(req)
	case opClearOne:
		res.err = c.handleClear(req.cache)
	case opClearAll:
		res.err = c.handleClearAll()
	case opSweep:
		res.err = c.handleSweep()
	}
	if req.reply != nil {
		req.reply <- res
	} else if res.err != nil {
		// Timer-driven sweeps have no caller to report to.
		log.Warnw("periodic sweep failed", "err", res.err)
	}
}

// handleGet reads from the named backend. Read failures are downgraded to a
// miss after logging: a miss is always a safe answer for a cache, and the
// caller's recourse on a miss is fetching from the origin anyway.
func (c *Cache) handleGet(req request) result {
	nb, ok := c.table[req.cache]
	if !ok {
		return result{err: fmt.Errorf("%w: %q", ErrUnknownCache, req.cache)}
	}
	value, found, err := nb.backend.Get(context.Background(), req.key)
	if err != nil {
		log.Warnw("cache read failed, treating as miss",
			"cache", req.cache, "key", req.key, "err", err)
		c.stats.errors.Add(1)
		value, found = nil, false
	}
	if found && value != nil {
		c.stats.hits.Add(1)
	} else {
		c.stats.misses.Add(1)
	}
	return result{value: value, found: found}
}

func (c *Cache) handlePut(req request) error {
	nb, ok := c.table[req.cache]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCache, req.cache)
	}
	if err := nb.backend.Put(context.Background(), req.key, req.value, req.ttl); err != nil {
		c.stats.errors.Add(1)
		return err
	}
	c.stats.puts.Add(1)
	return nil
}

func (c *Cache) handleDelete(req request) error {
	nb, ok := c.table[req.cache]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCache, req.cache)
	}
	if err := nb.backend.Delete(context.Background(), req.key); err != nil {
		c.stats.errors.Add(1)
		return err
	}
	c.stats.deletes.Add(1)
	return nil
}

func (c *Cache) handleClear(name string) error {
	nb, ok := c.table[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCache, name)
	}
	if err := nb.backend.Clear(context.Background()); err != nil {
		c.stats.errors.Add(1)
		return fmt.Errorf("clearing cache %q: %w", name, err)
	}
	return nil
}

// handleClearAll clears every registered cache in name order, accumulating
// failures so one bad backend does not shield the rest. The per-backend
// clears are independent; nothing is atomic across them.
func (c *Cache) handleClearAll() error {
	var errs error
	for _, name := range c.names() {
		if err := c.table[name].backend.Clear(context.Background()); err != nil {
			c.stats.errors.Add(1)
			errs = multierror.Append(errs, fmt.Errorf("clearing cache %q: %w", name, err))
		}
	}
	return errs
}

// handleSweep runs a cleanup pass over every registered backend, then
// re-arms the sweep timer so the next periodic sweep starts a full interval
// after this one finished, rather than on a fixed wall-clock cadence.
func (c *Cache) handleSweep() error {
	started := time.Now()
	var errs error
	for _, name := range c.names() {
		if err := c.table[name].backend.Cleanup(context.Background()); err != nil {
			c.stats.errors.Add(1)
			errs = multierror.Append(errs, fmt.Errorf("sweeping cache %q: %w", name, err))
		}
	}
	c.stats.sweeps.Add(1)
	log.Debugw("sweep finished", "caches", len(c.table), "elapsed", time.Since(started))
	if c.sweepTimer != nil {
		c.sweepTimer.Stop()
		c.sweepTimer = time.AfterFunc(c.cfg.sweepInterval, c.enqueueSweep)
	}
	return errs
}

// enqueueSweep puts a sweep request on the mailbox. It runs on the timer's
// goroutine, so it takes the submit lock to avoid racing a concurrent Close.
func (c *Cache) enqueueSweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.in <- request{op: opSweep}
}

// closeBackends releases every backend, accumulating failures.
func (c *Cache) closeBackends() error {
	var errs error
	for _, name := range c.names() {
		if err := c.table[name].backend.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing cache %q: %w", name, err))
		}
	}
	return errs
}

// names returns the registered cache names in sorted order so multi-cache
// operations run deterministically.
func (c *Cache) names() []string {
	names := make([]string, 0, len(c.table))
	for name := range c.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
