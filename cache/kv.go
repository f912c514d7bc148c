package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pavelkalin/typeorm/logger"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// kvScanBatch is the SCAN page size and delete batch size used by Clear.
const kvScanBatch = 128

// kvProvider stores entries as msgpack envelopes in a Redis-compatible
// store, single node or clustered. Keys are namespaced under the configured
// prefix and written with the store's native expiration set to the
// write-time ttl, so stale entries age out without any sweeping here.
//
// The provider owns its client: Connect builds it, Close releases it.
type kvProvider struct {
	newClient func() redis.UniversalClient
	client    redis.UniversalClient
	prefix    string
	label     string
	timeout   time.Duration
	logger    logger.Logger
	once      sync.Once
}

var _ Provider = (*kvProvider)(nil)

func newKVProvider(cfg Config, log logger.Logger) *kvProvider {
	opts := &redis.Options{
		Addr:         cfg.KV.Addr,
		Username:     cfg.KV.Username,
		Password:     cfg.KV.Password,
		DB:           cfg.KV.DB,
		DialTimeout:  cfg.KV.DialTimeout,
		ReadTimeout:  cfg.KV.ReadTimeout,
		WriteTimeout: cfg.KV.WriteTimeout,
		PoolSize:     cfg.KV.PoolSize,
	}
	return &kvProvider{
		newClient: func() redis.UniversalClient { return redis.NewClient(opts) },
		prefix:    cfg.KV.Prefix,
		label:     cfg.KV.Addr,
		timeout:   cfg.QueryTimeout,
		logger:    log.WithPrefix("[kv]"),
	}
}

func newKVClusterProvider(cfg Config, log logger.Logger) *kvProvider {
	opts := clusterClientOptions(cfg.Cluster)
	return &kvProvider{
		newClient: func() redis.UniversalClient { return redis.NewClusterClient(opts) },
		prefix:    cfg.Cluster.Prefix,
		label:     strings.Join(cfg.Cluster.Addrs, ","),
		timeout:   cfg.QueryTimeout,
		logger:    log.WithPrefix("[kv-cluster]"),
	}
}

func clusterClientOptions(c ClusterOptions) *redis.ClusterOptions {
	opts := &redis.ClusterOptions{
		Addrs:           c.Addrs,
		Username:        c.Username,
		Password:        c.Password,
		MaxRedirects:    c.MaxRedirects,
		MaxRetries:      c.MaxRetries,
		MinRetryBackoff: c.MinRetryBackoff,
		MaxRetryBackoff: c.MaxRetryBackoff,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		PoolSize:        c.PoolSize,
	}
	switch c.ReadMode {
	case ReadReplica:
		opts.ReadOnly = true
	case ReadLatency:
		opts.RouteByLatency = true
	case ReadRandom:
		opts.RouteRandomly = true
	}
	return opts
}

func (c *kvProvider) key(identifier string) string {
	if c.prefix == "" {
		return identifier
	}
	return c.prefix + ":" + identifier
}

func (c *kvProvider) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *kvProvider) Connect(ctx context.Context) error {
	c.client = c.newClient()
	pingCtx, cancel := c.queryCtx(ctx)
	defer cancel()
	if err := c.client.Ping(pingCtx).Err(); err != nil {
		return unavailable(err, "ping %s", c.label)
	}
	c.logger.Debug("connected to %s", c.label)
	return nil
}

func (c *kvProvider) Get(ctx context.Context, identifier string) (*Entry, bool, error) {
	getCtx, cancel := c.queryCtx(ctx)
	defer cancel()
	key := c.key(identifier)
	buf, err := c.client.Get(getCtx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, opFailed(err, "get %s", identifier)
	}
	var entry Entry
	if err := msgpack.Unmarshal(buf, &entry); err != nil {
		// Drop the unreadable envelope so the next read repopulates it.
		if delErr := c.client.Del(getCtx, key).Err(); delErr != nil {
			c.logger.Debug("failed to drop corrupt entry %s: %s", identifier, delErr)
		}
		return nil, false, serializationFailed(err, "decode entry %s", identifier)
	}
	return &entry, true, nil
}

func (c *kvProvider) Store(ctx context.Context, entry Entry) error {
	buf, err := msgpack.Marshal(&entry)
	if err != nil {
		return serializationFailed(err, "encode entry %s", entry.Identifier)
	}
	storeCtx, cancel := c.queryCtx(ctx)
	defer cancel()
	if err := c.client.Set(storeCtx, c.key(entry.Identifier), buf, entry.Duration).Err(); err != nil {
		return opFailed(err, "store %s", entry.Identifier)
	}
	return nil
}

// Remove deletes one key per DEL through a pipeline. Single-key commands
// stay slot-local, so the same code path works against a cluster.
func (c *kvProvider) Remove(ctx context.Context, identifiers ...string) error {
	if len(identifiers) == 0 {
		return nil
	}
	removeCtx, cancel := c.queryCtx(ctx)
	defer cancel()
	pipe := c.client.Pipeline()
	for _, id := range identifiers {
		pipe.Del(removeCtx, c.key(id))
	}
	if _, err := pipe.Exec(removeCtx); err != nil {
		return opFailed(err, "remove %d identifiers", len(identifiers))
	}
	return nil
}

func (c *kvProvider) Clear(ctx context.Context) error {
	clearCtx, cancel := c.queryCtx(ctx)
	defer cancel()
	if cluster, ok := c.client.(*redis.ClusterClient); ok {
		err := cluster.ForEachMaster(clearCtx, func(ctx context.Context, shard *redis.Client) error {
			if c.prefix == "" {
				return shard.FlushDB(ctx).Err()
			}
			return c.deleteByPrefix(ctx, shard)
		})
		if err != nil {
			return opFailed(err, "clear cluster %s", c.label)
		}
		return nil
	}
	if c.prefix == "" {
		if err := c.client.FlushDB(clearCtx).Err(); err != nil {
			return opFailed(err, "flush %s", c.label)
		}
		return nil
	}
	if err := c.deleteByPrefix(clearCtx, c.client); err != nil {
		return opFailed(err, "clear prefix %s", c.prefix)
	}
	return nil
}

// deleteByPrefix walks the keyspace with SCAN and deletes matches in
// batches. Only keys under the prefix are touched, so several subsystems
// can share one logical database.
func (c *kvProvider) deleteByPrefix(ctx context.Context, client redis.UniversalClient) error {
	keys := make([]string, 0, kvScanBatch)
	flush := func() error {
		if len(keys) == 0 {
			return nil
		}
		pipe := client.Pipeline()
		for _, key := range keys {
			pipe.Del(ctx, key)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		keys = keys[:0]
		return nil
	}
	iter := client.Scan(ctx, 0, c.prefix+":*", kvScanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= kvScanBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return flush()
}

func (c *kvProvider) Close(ctx context.Context) error {
	var err error
	c.once.Do(func() {
		if c.client != nil {
			err = c.client.Close()
		}
	})
	if err != nil {
		return errors.Wrap(err, "failed to close kv client")
	}
	return nil
}
