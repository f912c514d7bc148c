// Package cache provides a query-result cache: a read path that serves
// stored results while they are fresh, executes the underlying query
// otherwise, and stores what it produced for the next read.
//
// # Read Path
//
// [Fetch] is the single entry point for cached reads. It resolves a cache
// key for the query text and options, looks the entry up in the configured
// backend, and decides liveness itself:
//
//	users, err := cache.Fetch(ctx, c, "SELECT * FROM users WHERE active = 1",
//	    cache.Options{Enabled: true, TTL: 30 * time.Second},
//	    func(ctx context.Context) ([]User, error) {
//	        return loadActiveUsers(ctx, db)
//	    },
//	)
//
// Caching is opt-in twice: the subsystem via [Config.Enabled] and each read
// via [Options.Enabled]. When either is off the invoker runs directly and
// the backend is never touched.
//
// # Identifiers
//
// The cache key defaults to the query text itself, so only byte-identical
// statements share an entry. The text must already embed bound parameter
// values; two logically different queries that render to the same text
// would otherwise collide, and it is the caller's job to prevent that,
// usually by setting [Options.ID]. An explicit ID names the entry, which is
// also what makes it addressable for [Cache.Remove]. Setting
// [Options.HashIdentifier] derives a fixed-length hex digest from the query
// text instead, for backends with key-size limits.
//
// # Liveness
//
// Entries are stamped with their write time and ttl. A read serves an entry
// only while write time + the read's resolved ttl is in the future; the ttl
// chain is [Options.TTL], then [Config.Duration], then [DefaultDuration].
// Backends additionally expire entries physically at their write-time ttl
// (native expiry, lazy deletes, sweeps), but no read ever depends on that:
// the decision above is authoritative.
//
// # Backends
//
// Five backend variants exist behind the [Provider] interface, selected by
// [Config.Type]:
//
//   - [TypeMemory]: in-process sharded map with a background janitor.
//     Fastest option, lost on restart, never shared across processes.
//
//   - [TypeTable]: rows in a table inside the storage engine the host
//     already uses, through the host's own [database/sql] pool
//     ([Config.DB], never closed by the cache). Survives restarts and
//     needs no extra infrastructure. [EnsureTable] creates the table for
//     engines where generic DDL applies.
//
//   - [TypeKV]: a Redis-compatible store via
//     [github.com/redis/go-redis/v9], entries encoded as msgpack envelopes
//     with native expiry. An optional key prefix namespaces the cache so
//     Clear never touches a neighbour's keys.
//
//   - [TypeKVCluster]: the same contract against a clustered store with
//     seed addresses, bounded redirects and a read-scaling policy
//     ([ReadMode]) routing reads to primaries, replicas, the fastest node
//     or a random one.
//
//   - [TypeCustom]: any [Provider] built by [Config.Provider]. Pair it
//     with [NewComposite] for multi-tier topologies such as an in-process
//     tier in front of a shared one.
//
// # Error Handling
//
// Backend faults are wrapped and marked so callers can classify them with
// [errors.Is]: [ErrBackendUnavailable] from Connect, [ErrBackendOperation]
// from lookups and mutations, [ErrSerialization] from encoding or decoding.
// Errors returned by the invoker itself pass through unwrapped, so a failed
// query is always distinguishable from a failed cache.
//
// By default a backend fault fails the read loudly and the query is not
// executed; a misconfigured cache should not silently degrade into "always
// miss". Setting [Config.IgnoreErrors] flips that: lookup failures are
// treated as misses and store failures after a successful execution are
// logged and dropped. Two cases ignore the flag. An entry that cannot be
// decoded always degrades to a miss, because it is indistinguishable from
// an absent one. A result that cannot be encoded always surfaces, because
// the caller's type will never cache and swallowing that hides a bug.
//
// # Serialization
//
// Results are encoded with msgpack ([github.com/vmihailenco/msgpack/v5]).
// Exported struct fields survive the round trip; use msgpack struct tags
// for field name control. Functions and channels cannot be encoded and
// surface as [ErrSerialization].
//
// # Timeouts
//
// Every backend operation is bounded by [Config.QueryTimeout]
// ([DefaultQueryTimeout] when unset), derived from the caller's context, so
// slow or unresponsive storage cannot stall a read indefinitely.
//
// # Single Flight
//
// Concurrent misses for one identifier each execute by default, last store
// wins. [Config.SingleFlight] collapses them into one execution whose
// stored bytes every waiting caller decodes independently.
package cache
