package metacache

import "sync/atomic"

// Stats is a point-in-time snapshot of cache activity totals across all
// registered caches.
type Stats struct {
	Hits    int64 // lookups that returned a live value
	Misses  int64 // lookups that found nothing, including degraded reads
	Puts    int64 // successful writes
	Deletes int64 // successful deletes
	Errors  int64 // backend operation failures, read failures included
	Sweeps  int64 // completed expiry sweeps, timer-driven and manual
}

// counters accumulates operation totals. The control loop is the only
// writer; loads are atomic so Stats snapshots are safe at any time, even
// after Close.
type counters struct {
	hits    atomic.Int64
	misses  atomic.Int64
	puts    atomic.Int64
	deletes atomic.Int64
	errors  atomic.Int64
	sweeps  atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Puts:    c.puts.Load(),
		Deletes: c.deletes.Load(),
		Errors:  c.errors.Load(),
		Sweeps:  c.sweeps.Load(),
	}
}
