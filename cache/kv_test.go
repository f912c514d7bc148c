package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pavelkalin/typeorm/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T, cfg Config) (*miniredis.Miniredis, *kvProvider) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.Type = TypeKV
	cfg.KV.Addr = mr.Addr()
	cfg = cfg.withDefaults()

	p := newKVProvider(cfg, logger.NewTestLogger())
	require.NoError(t, p.Connect(context.Background()))
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return mr, p
}

func TestKVStoreGet(t *testing.T) {
	ctx := context.Background()
	_, p := newTestKV(t, Config{})

	entry, found, err := p.Get(ctx, "users")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, entry)

	written := testEntry("users", time.Minute)
	require.NoError(t, p.Store(ctx, written))

	entry, found, err = p.Get(ctx, "users")
	assert.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "users", entry.Identifier)
	assert.Equal(t, written.Query, entry.Query)
	assert.Equal(t, written.Result, entry.Result)
	assert.Equal(t, time.Minute, entry.Duration)
	assert.True(t, written.Time.Equal(entry.Time))
}

func TestKVNativeExpiry(t *testing.T) {
	ctx := context.Background()
	mr, p := newTestKV(t, Config{})

	require.NoError(t, p.Store(ctx, testEntry("users", time.Second)))
	_, found, err := p.Get(ctx, "users")
	require.NoError(t, err)
	require.True(t, found)

	// The store evicts the key itself once the write-time ttl passes.
	mr.FastForward(2 * time.Second)
	_, found, err = p.Get(ctx, "users")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestKVPrefixNamespacing(t *testing.T) {
	ctx := context.Background()
	mr, p := newTestKV(t, Config{KV: KVOptions{Prefix: "typeorm"}})

	require.NoError(t, p.Store(ctx, testEntry("users", time.Minute)))
	assert.True(t, mr.Exists("typeorm:users"))

	entry, found, err := p.Get(ctx, "users")
	assert.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "users", entry.Identifier)
}

func TestKVClearRespectsPrefix(t *testing.T) {
	ctx := context.Background()
	mr, p := newTestKV(t, Config{KV: KVOptions{Prefix: "typeorm"}})

	require.NoError(t, p.Store(ctx, testEntry("users", time.Minute)))
	require.NoError(t, p.Store(ctx, testEntry("orders", time.Minute)))
	require.NoError(t, mr.Set("neighbour", "keep"))

	require.NoError(t, p.Clear(ctx))
	assert.False(t, mr.Exists("typeorm:users"))
	assert.False(t, mr.Exists("typeorm:orders"))
	assert.True(t, mr.Exists("neighbour"))
}

func TestKVClearWithoutPrefixFlushes(t *testing.T) {
	ctx := context.Background()
	mr, p := newTestKV(t, Config{})

	require.NoError(t, p.Store(ctx, testEntry("users", time.Minute)))
	require.NoError(t, mr.Set("neighbour", "gone"))

	require.NoError(t, p.Clear(ctx))
	assert.Empty(t, mr.Keys())
}

func TestKVClearManyKeys(t *testing.T) {
	ctx := context.Background()
	mr, p := newTestKV(t, Config{KV: KVOptions{Prefix: "typeorm"}})

	// More keys than one SCAN/DEL batch.
	for i := 0; i < kvScanBatch*2+7; i++ {
		require.NoError(t, p.Store(ctx, testEntry(HashIdentifier(string(rune(i))), time.Minute)))
	}
	require.NoError(t, p.Clear(ctx))
	assert.Empty(t, mr.Keys())
}

func TestKVRemove(t *testing.T) {
	ctx := context.Background()
	_, p := newTestKV(t, Config{})

	require.NoError(t, p.Store(ctx, testEntry("a", time.Minute)))
	require.NoError(t, p.Store(ctx, testEntry("b", time.Minute)))

	require.NoError(t, p.Remove(ctx, "a", "unknown"))
	_, found, err := p.Get(ctx, "a")
	assert.NoError(t, err)
	assert.False(t, found)
	_, found, err = p.Get(ctx, "b")
	assert.NoError(t, err)
	assert.True(t, found)

	assert.NoError(t, p.Remove(ctx))
}

func TestKVCorruptEnvelope(t *testing.T) {
	ctx := context.Background()
	mr, p := newTestKV(t, Config{})

	require.NoError(t, mr.Set("users", "not msgpack"))
	entry, found, err := p.Get(ctx, "users")
	assert.Nil(t, entry)
	assert.False(t, found)
	assert.ErrorIs(t, err, ErrSerialization)
	// The corrupt key was dropped so the next read can repopulate.
	assert.False(t, mr.Exists("users"))
}

func TestKVConnectFailure(t *testing.T) {
	cfg := Config{Type: TypeKV, KV: KVOptions{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond}}.withDefaults()
	cfg.QueryTimeout = 500 * time.Millisecond
	p := newKVProvider(cfg, logger.NewTestLogger())
	t.Cleanup(func() { _ = p.Close(context.Background()) })

	err := p.Connect(context.Background())
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestKVCloseIdempotent(t *testing.T) {
	_, p := newTestKV(t, Config{})
	assert.NoError(t, p.Close(context.Background()))
	assert.NoError(t, p.Close(context.Background()))
}

func TestClusterClientOptions(t *testing.T) {
	base := ClusterOptions{
		Addrs:           []string{"10.0.0.1:7000", "10.0.0.2:7000"},
		Username:        "ro",
		Password:        "secret",
		MaxRedirects:    4,
		MaxRetries:      2,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     time.Second,
		PoolSize:        10,
	}

	opts := clusterClientOptions(base)
	assert.Equal(t, base.Addrs, opts.Addrs)
	assert.Equal(t, "ro", opts.Username)
	assert.Equal(t, 4, opts.MaxRedirects)
	assert.Equal(t, 2, opts.MaxRetries)
	assert.Equal(t, 8*time.Millisecond, opts.MinRetryBackoff)
	assert.Equal(t, time.Second, opts.DialTimeout)
	assert.Equal(t, 10, opts.PoolSize)
	assert.False(t, opts.ReadOnly)
	assert.False(t, opts.RouteByLatency)
	assert.False(t, opts.RouteRandomly)

	base.ReadMode = ReadReplica
	assert.True(t, clusterClientOptions(base).ReadOnly)

	base.ReadMode = ReadLatency
	assert.True(t, clusterClientOptions(base).RouteByLatency)

	base.ReadMode = ReadRandom
	assert.True(t, clusterClientOptions(base).RouteRandomly)
}

func TestKVClusterProviderUsesClusterSettings(t *testing.T) {
	cfg := Config{
		Type: TypeKVCluster,
		Cluster: ClusterOptions{
			Addrs:  []string{"10.0.0.1:7000"},
			Prefix: "typeorm",
		},
	}.withDefaults()

	p := newKVClusterProvider(cfg, logger.NewTestLogger())
	assert.Equal(t, "typeorm", p.prefix)
	assert.Equal(t, "10.0.0.1:7000", p.label)
	assert.Equal(t, "typeorm:users", p.key("users"))
}
