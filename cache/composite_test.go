package cache

import (
	"context"
	"testing"
	"time"

	"github.com/pavelkalin/typeorm/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCompositePair(t *testing.T) (*memoryProvider, *memoryProvider, Provider) {
	t.Helper()
	l1 := newTestMemory(t, Config{})
	l2 := newTestMemory(t, Config{})
	return l1, l2, NewComposite(l1, l2)
}

func TestCompositeGetFirstHitWins(t *testing.T) {
	ctx := context.Background()
	l1, l2, c := newCompositePair(t)

	deep := testEntry("users", time.Minute)
	deep.Result = []byte("from-l2")
	require.NoError(t, l2.Store(ctx, deep))

	entry, found, err := c.Get(ctx, "users")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("from-l2"), entry.Result)

	near := testEntry("users", time.Minute)
	near.Result = []byte("from-l1")
	require.NoError(t, l1.Store(ctx, near))

	entry, found, err = c.Get(ctx, "users")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("from-l1"), entry.Result)
}

func TestCompositeStoreFansOut(t *testing.T) {
	ctx := context.Background()
	l1, l2, c := newCompositePair(t)

	require.NoError(t, c.Store(ctx, testEntry("users", time.Minute)))
	assert.Equal(t, 1, l1.size())
	assert.Equal(t, 1, l2.size())

	require.NoError(t, c.Remove(ctx, "users"))
	assert.Equal(t, 0, l1.size())
	assert.Equal(t, 0, l2.size())
}

func TestCompositeClearFansOut(t *testing.T) {
	ctx := context.Background()
	l1, l2, c := newCompositePair(t)

	require.NoError(t, l1.Store(ctx, testEntry("a", time.Minute)))
	require.NoError(t, l2.Store(ctx, testEntry("b", time.Minute)))
	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, l1.size())
	assert.Equal(t, 0, l2.size())
}

func TestCompositeMiss(t *testing.T) {
	_, _, c := newCompositePair(t)

	entry, found, err := c.Get(context.Background(), "missing")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, entry)
}

func TestCompositePanicsWhenEmpty(t *testing.T) {
	assert.Panics(t, func() { NewComposite() })
}

func TestCompositeAsCustomProvider(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		Enabled: true,
		Type:    TypeCustom,
		Provider: func(ctx context.Context, cfg Config, log logger.Logger) (Provider, error) {
			near := newMemoryProvider(ctx, cfg, log)
			far := newMemoryProvider(ctx, cfg, log)
			return NewComposite(near, far), nil
		},
	}
	c, err := New(ctx, cfg, logger.NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, c.Connect(ctx))
	defer c.Close(ctx)

	calls := 0
	value, err := Fetch(ctx, c, "SELECT 1", Options{Enabled: true, TTL: time.Minute}, func(ctx context.Context) (int, error) {
		calls++
		return 41 + calls, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, value)

	value, err = Fetch(ctx, c, "SELECT 1", Options{Enabled: true, TTL: time.Minute}, func(ctx context.Context) (int, error) {
		calls++
		return 41 + calls, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, value)
	assert.Equal(t, 1, calls)
}
