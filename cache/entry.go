package cache

import "time"

// Entry is one cached query result as exchanged with a Provider.
// The key-value providers persist the whole struct msgpack-encoded; the
// table provider maps the fields onto columns.
type Entry struct {
	// Identifier is the unique lookup key within the backend namespace.
	// Storing an identifier that already exists overwrites the prior entry.
	Identifier string `msgpack:"id"`
	// Query is the literal query text the entry was produced from, retained
	// for inspection. Lookups never match on it.
	Query string `msgpack:"query"`
	// Time is the wall-clock instant the entry was written.
	Time time.Time `msgpack:"time"`
	// Duration is the ttl in force when the entry was written. Backends use
	// it for physical cleanup (native expiry, sweeps, lazy deletes); the
	// read-time liveness decision always uses the caller's resolved ttl.
	Duration time.Duration `msgpack:"duration"`
	// Result is the msgpack-serialized query result payload.
	Result []byte `msgpack:"result"`
}

// ExpiresAt returns the instant the entry becomes eligible for physical cleanup.
func (e *Entry) ExpiresAt() time.Time {
	return e.Time.Add(e.Duration)
}

// Expired reports whether the entry passed its write-time ttl.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt().After(now)
}

// Fresh reports whether the entry is still live for a reader holding ttl.
// An entry read at or after Time+ttl must be treated as absent.
func (e *Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return e.Time.Add(ttl).After(now)
}
