package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultDuration is the hard fallback ttl used when neither the call site
// nor the configuration provides one.
const DefaultDuration = time.Second

// Options are the per-call cache options for a single read.
type Options struct {
	// Enabled opts this read into caching. Reads that do not opt in always
	// execute against the real data source.
	Enabled bool
	// ID is an explicit identifier used verbatim in place of the derived
	// one. Two call sites sharing an ID share one entry regardless of their
	// query text; two identical queries with different IDs never collide.
	ID string
	// TTL overrides the configured default duration for this read.
	TTL time.Duration
	// HashIdentifier derives the identifier from a digest of the query text
	// instead of the text itself, keeping keys fixed-length for backends
	// with key-size limits. Ignored when ID is set.
	HashIdentifier bool
}

// Key is a resolved (identifier, ttl) pair for one read.
type Key struct {
	Identifier string
	TTL        time.Duration
}

// HashIdentifier returns the deterministic fixed-length identifier derived
// from query text: the lowercase hex SHA-256 digest.
func HashIdentifier(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// resolveKey derives the storage identifier and ttl for one read. The query
// text must already embed bound parameter values; call sites that cannot
// guarantee that must disambiguate with Options.ID.
func resolveKey(query string, opts Options, def time.Duration) Key {
	key := Key{TTL: opts.TTL}
	if key.TTL <= 0 {
		key.TTL = def
	}
	if key.TTL <= 0 {
		key.TTL = DefaultDuration
	}
	switch {
	case opts.ID != "":
		key.Identifier = opts.ID
	case opts.HashIdentifier:
		key.Identifier = HashIdentifier(query)
	default:
		key.Identifier = query
	}
	return key
}
