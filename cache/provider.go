package cache

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/pavelkalin/typeorm/logger"
)

var (
	// ErrBackendUnavailable means Connect could not establish the backend
	// session or reach its transport.
	ErrBackendUnavailable = errors.New("cache: backend unavailable")
	// ErrBackendOperation means a lookup, store, remove or clear failed on a
	// live connection. Whether it is fatal to the calling read is decided by
	// the IgnoreErrors policy, never by the backend.
	ErrBackendOperation = errors.New("cache: backend operation failed")
	// ErrSerialization means a result payload or entry envelope could not be
	// encoded or decoded. On reads it degrades to a miss; on writes it is
	// always surfaced.
	ErrSerialization = errors.New("cache: serialization failed")
)

// Provider is the storage capability set behind the cache. One
// implementation exists per backend variant; all of them must support
// concurrent outstanding operations and provide atomic upsert semantics for
// Store so concurrent writers for one identifier resolve last-writer-wins.
type Provider interface {
	// Connect establishes the backend session. Errors are marked
	// ErrBackendUnavailable.
	Connect(ctx context.Context) error
	// Close releases backend resources. Idempotent.
	Close(ctx context.Context) error
	// Get is a pure lookup: (nil, false, nil) means absent. It never
	// executes the underlying query. Entries past their write-time ttl may
	// be lazily deleted and reported absent.
	Get(ctx context.Context, identifier string) (*Entry, bool, error)
	// Store upserts the entry under entry.Identifier, overwriting any prior
	// entry for the same identifier.
	Store(ctx context.Context, entry Entry) error
	// Remove deletes entries by identifier. Unknown identifiers are not an
	// error.
	Remove(ctx context.Context, identifiers ...string) error
	// Clear deletes every entry in this backend's namespace.
	Clear(ctx context.Context) error
}

// ProviderFactory builds the backend for TypeCustom configurations. It
// receives the resolved configuration and the subsystem logger and may
// return any Provider implementation.
type ProviderFactory func(ctx context.Context, cfg Config, log logger.Logger) (Provider, error)

func newProvider(ctx context.Context, cfg Config, log logger.Logger) (Provider, error) {
	switch cfg.Type {
	case TypeMemory:
		return newMemoryProvider(ctx, cfg, log), nil
	case TypeTable:
		return newTableProvider(cfg, log)
	case TypeKV:
		return newKVProvider(cfg, log), nil
	case TypeKVCluster:
		return newKVClusterProvider(cfg, log), nil
	case TypeCustom:
		if cfg.Provider == nil {
			return nil, errors.New("cache: custom backend requires a provider factory")
		}
		return cfg.Provider(ctx, cfg, log)
	default:
		return nil, errors.Newf("cache: unknown backend type %q", cfg.Type)
	}
}

// opFailed marks err as ErrBackendOperation while keeping the cause.
func opFailed(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrBackendOperation)
}

// unavailable marks err as ErrBackendUnavailable while keeping the cause.
func unavailable(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrBackendUnavailable)
}

// serializationFailed marks err as ErrSerialization while keeping the cause.
func serializationFailed(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrSerialization)
}
