package cache

import "sync/atomic"

// Stats is a point-in-time snapshot of cache activity. Errors counts
// backend faults observed by reads, including the ones IgnoreErrors
// swallowed.
type Stats struct {
	Hits   uint64
	Misses uint64
	Stores uint64
	Errors uint64
}

type counters struct {
	hits   atomic.Uint64
	misses atomic.Uint64
	stores atomic.Uint64
	errors atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Stores: c.stores.Load(),
		Errors: c.errors.Load(),
	}
}
