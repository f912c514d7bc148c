package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Invoker produces the value for a read when the cache cannot serve it.
type Invoker[T any] func(ctx context.Context) (T, error)

// Fetch is the cached read path. It resolves the cache key for query, looks
// the entry up, and serves the cached result when one exists and is younger
// than the resolved ttl. Otherwise it executes invoke, stores the result
// under the key and returns it.
//
// Both the subsystem (Config.Enabled) and the read (Options.Enabled) must
// opt in; otherwise invoke runs directly with no backend traffic. Execution
// errors from invoke pass through unwrapped. Backend faults surface wrapped
// and marked (ErrBackendOperation, ErrSerialization) unless IgnoreErrors
// downgrades them; a failed lookup never executes the query unless that
// policy allows treating it as a miss. When a store failure surfaces, the
// executed result is discarded with it.
//
// With Config.SingleFlight, concurrent misses for one identifier share a
// single execution keyed by identifier; every caller decodes the same
// stored bytes into its own value. The earliest caller's context governs
// the shared execution, and a waiter whose own context ends abandons the
// flight with that context's error.
func Fetch[T any](ctx context.Context, c *Cache, query string, opts Options, invoke Invoker[T]) (T, error) {
	if !c.cfg.Enabled || !opts.Enabled {
		return invoke(ctx)
	}
	key := resolveKey(query, opts, c.cfg.Duration)
	ctx, span := tracer.Start(ctx, "cache.Fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("cache.identifier", key.Identifier)))
	defer span.End()

	var (
		value T
		hit   bool
		err   error
	)
	if c.group != nil {
		value, hit, err = fetchShared(ctx, c, query, key, invoke)
	} else {
		value, hit, err = fetchDirect(ctx, c, query, key, invoke)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return value, err
	}
	span.SetAttributes(attribute.Bool("cache.hit", hit))
	if hit {
		span.SetStatus(codes.Ok, "cache hit")
	} else {
		span.SetStatus(codes.Ok, "cache miss")
	}
	return value, nil
}

// lookup returns the entry for key when it exists and is fresh under the
// read's ttl, nil on a miss. A non-nil error is already policy-filtered and
// must surface instead of executing the query.
func (c *Cache) lookup(ctx context.Context, key Key) (*Entry, error) {
	entry, found, err := c.provider.Get(ctx, key.Identifier)
	if err != nil {
		c.stats.errors.Add(1)
		// An unreadable entry is indistinguishable from an absent one, so
		// serialization faults always degrade to a miss.
		if errors.Is(err, ErrSerialization) || c.cfg.IgnoreErrors {
			c.logger.Warn("cache lookup for %s failed, treating as miss: %s", key.Identifier, err)
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to look up cache entry %s", key.Identifier)
	}
	if !found || !entry.Fresh(time.Now(), key.TTL) {
		return nil, nil
	}
	return entry, nil
}

// store persists a freshly executed payload under key, applying the
// error-tolerance policy. Serialization faults on the write side are never
// downgraded.
func (c *Cache) store(ctx context.Context, query string, key Key, payload []byte) error {
	entry := Entry{
		Identifier: key.Identifier,
		Query:      query,
		Time:       time.Now(),
		Duration:   key.TTL,
		Result:     payload,
	}
	if err := c.provider.Store(ctx, entry); err != nil {
		c.stats.errors.Add(1)
		if c.cfg.IgnoreErrors && !errors.Is(err, ErrSerialization) {
			c.logger.Warn("failed to store cache entry %s: %s", key.Identifier, err)
			return nil
		}
		return errors.Wrapf(err, "failed to store cache entry %s", key.Identifier)
	}
	c.stats.stores.Add(1)
	return nil
}

func fetchDirect[T any](ctx context.Context, c *Cache, query string, key Key, invoke Invoker[T]) (T, bool, error) {
	var zero T
	entry, err := c.lookup(ctx, key)
	if err != nil {
		return zero, false, err
	}
	if entry != nil {
		var value T
		decodeErr := msgpack.Unmarshal(entry.Result, &value)
		if decodeErr == nil {
			c.stats.hits.Add(1)
			return value, true, nil
		}
		c.stats.errors.Add(1)
		c.logger.Warn("failed to decode cached result %s, treating as miss: %s", key.Identifier, decodeErr)
	}
	c.stats.misses.Add(1)

	value, err := invoke(ctx)
	if err != nil {
		return zero, false, err
	}
	if ctx.Err() != nil {
		// The caller is already gone; a write now would outlive its read.
		c.logger.Debug("context done after execution, skipping store for %s", key.Identifier)
		return value, false, nil
	}
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return zero, false, serializationFailed(err, "failed to encode result for %s", key.Identifier)
	}
	if err := c.store(ctx, query, key, payload); err != nil {
		return zero, false, err
	}
	return value, false, nil
}

// fetchShared coalesces concurrent reads for one identifier. The flight
// carries the stored payload rather than a decoded value so every caller
// decodes its own copy and none of them share mutable state.
func fetchShared[T any](ctx context.Context, c *Cache, query string, key Key, invoke Invoker[T]) (T, bool, error) {
	var zero T
	type flightResult struct {
		payload []byte
		hit     bool
	}
	ch := c.group.DoChan(key.Identifier, func() (interface{}, error) {
		payload, hit, err := fetchPayload(ctx, c, query, key, invoke)
		if err != nil {
			return nil, err
		}
		return flightResult{payload: payload, hit: hit}, nil
	})
	select {
	case <-ctx.Done():
		return zero, false, errors.Wrapf(ctx.Err(), "abandoned shared fetch for %s", key.Identifier)
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		fr := res.Val.(flightResult)
		var value T
		if err := msgpack.Unmarshal(fr.payload, &value); err != nil {
			return zero, false, serializationFailed(err, "failed to decode shared result for %s", key.Identifier)
		}
		return value, fr.hit, nil
	}
}

// fetchPayload is the payload-level read used inside a flight. On a hit it
// probes the payload against T first so an unreadable entry still degrades
// to a miss here, where the query can be re-executed.
func fetchPayload[T any](ctx context.Context, c *Cache, query string, key Key, invoke Invoker[T]) ([]byte, bool, error) {
	entry, err := c.lookup(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if entry != nil {
		var probe T
		probeErr := msgpack.Unmarshal(entry.Result, &probe)
		if probeErr == nil {
			c.stats.hits.Add(1)
			return entry.Result, true, nil
		}
		c.stats.errors.Add(1)
		c.logger.Warn("failed to decode cached result %s, treating as miss: %s", key.Identifier, probeErr)
	}
	c.stats.misses.Add(1)

	value, err := invoke(ctx)
	if err != nil {
		return nil, false, err
	}
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return nil, false, serializationFailed(err, "failed to encode result for %s", key.Identifier)
	}
	if ctx.Err() != nil {
		c.logger.Debug("context done after execution, skipping store for %s", key.Identifier)
		return payload, false, nil
	}
	if err := c.store(ctx, query, key, payload); err != nil {
		return nil, false, err
	}
	return payload, false, nil
}
