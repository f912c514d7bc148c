package cache

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/pavelkalin/typeorm/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// One connection so every statement sees the same in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestTable(t *testing.T, cfg Config) (*tableProvider, *sql.DB) {
	t.Helper()
	db := openTestDB(t)
	cfg.Type = TypeTable
	cfg.DB = db
	if cfg.Table.SweepInterval == 0 {
		cfg.Table.SweepInterval = -1
	}
	cfg = cfg.withDefaults()
	require.NoError(t, EnsureTable(context.Background(), db, cfg.TableName))

	p, err := newTableProvider(cfg, logger.NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, p.Connect(context.Background()))
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, db
}

func tableRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n))
	return n
}

func TestTableStoreGet(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestTable(t, Config{})

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
	assert.Equal(t, written.Time.UnixNano(), entry.Time.UnixNano())
}

func TestTableUpsertLastWriterWins(t *testing.T) {
	ctx := context.Background()
	p, db := newTestTable(t, Config{})

	require.NoError(t, p.Store(ctx, testEntry("users", time.Minute)))
	replacement := testEntry("users", time.Minute)
	replacement.Result = []byte("newer")
	require.NoError(t, p.Store(ctx, replacement))

	entry, found, err := p.Get(ctx, "users")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("newer"), entry.Result)
	assert.Equal(t, 1, tableRows(t, db, DefaultTableName))
}

func TestTableExpiredRowLazilyDeleted(t *testing.T) {
	ctx := context.Background()
	p, db := newTestTable(t, Config{})

	stale := testEntry("users", time.Millisecond)
	stale.Time = time.Now().Add(-time.Second)
	require.NoError(t, p.Store(ctx, stale))

	entry, found, err := p.Get(ctx, "users")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, entry)
	assert.Equal(t, 0, tableRows(t, db, DefaultTableName))
}

func TestTableSweepQuery(t *testing.T) {
	ctx := context.Background()
	p, db := newTestTable(t, Config{})

	stale := testEntry("stale", time.Millisecond)
	stale.Time = time.Now().Add(-time.Second)
	require.NoError(t, p.Store(ctx, stale))
	require.NoError(t, p.Store(ctx, testEntry("live", time.Hour)))

	// Run the sweep statement the janitor uses.
	_, err := db.ExecContext(ctx, p.sweepSQL, time.Now().UnixNano())
	require.NoError(t, err)
	assert.Equal(t, 1, tableRows(t, db, DefaultTableName))

	_, found, err := p.Get(ctx, "live")
	assert.NoError(t, err)
	assert.True(t, found)
}

func TestTableRemove(t *testing.T) {
	ctx := context.Background()
	p, db := newTestTable(t, Config{})

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, p.Store(ctx, testEntry(id, time.Minute)))
	}
	require.NoError(t, p.Remove(ctx, "a", "c", "unknown"))
	assert.Equal(t, 1, tableRows(t, db, DefaultTableName))

	require.NoError(t, p.Remove(ctx))
	assert.Equal(t, 1, tableRows(t, db, DefaultTableName))
}

func TestTableClear(t *testing.T) {
	ctx := context.Background()
	p, db := newTestTable(t, Config{})

	for _, id := range []string{"a", "b"} {
		require.NoError(t, p.Store(ctx, testEntry(id, time.Minute)))
	}
	require.NoError(t, p.Clear(ctx))
	assert.Equal(t, 0, tableRows(t, db, DefaultTableName))
}

func TestTableCustomName(t *testing.T) {
	ctx := context.Background()
	p, db := newTestTable(t, Config{TableName: "orm_cache"})

	require.NoError(t, p.Store(ctx, testEntry("users", time.Minute)))
	assert.Equal(t, 1, tableRows(t, db, "orm_cache"))
}

func TestTablePlaceholderStyles(t *testing.T) {
	db := openTestDB(t)
	cfg := Config{Type: TypeTable, DB: db, Table: TableOptions{Placeholders: PlaceholdersDollar}}.withDefaults()
	p, err := newTableProvider(cfg, logger.NewTestLogger())
	require.NoError(t, err)
	assert.Contains(t, p.selectSQL, "identifier = $1")
	assert.Contains(t, p.upsertSQL, "VALUES ($1, $2, $3, $4, $5)")
	assert.Contains(t, p.sweepSQL, "time + duration <= $1")

	cfg.Table.Placeholders = PlaceholdersQuestion
	p, err = newTableProvider(cfg, logger.NewTestLogger())
	require.NoError(t, err)
	assert.Contains(t, p.selectSQL, "identifier = ?")
	assert.Contains(t, p.upsertSQL, "VALUES (?, ?, ?, ?, ?)")
}

func TestTableRequiresDB(t *testing.T) {
	_, err := newTableProvider(Config{Type: TypeTable}.withDefaults(), logger.NewTestLogger())
	assert.ErrorContains(t, err, "requires Config.DB")
}

func TestTableRejectsBadName(t *testing.T) {
	db := openTestDB(t)
	cfg := Config{Type: TypeTable, DB: db, TableName: "cache; DROP TABLE users"}.withDefaults()
	_, err := newTableProvider(cfg, logger.NewTestLogger())
	assert.ErrorContains(t, err, "invalid table name")

	assert.ErrorContains(t, EnsureTable(context.Background(), db, "x y"), "invalid table name")
}

func TestTableConnectPingFailure(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Close())

	cfg := Config{Type: TypeTable, DB: db, Table: TableOptions{SweepInterval: -1}}.withDefaults()
	p, err := newTableProvider(cfg, logger.NewTestLogger())
	require.NoError(t, err)

	err = p.Connect(context.Background())
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestTableSharesCallerPool(t *testing.T) {
	ctx := context.Background()
	p, db := newTestTable(t, Config{})

	require.NoError(t, p.Close(ctx))
	// Closing the provider must not close the caller's pool.
	assert.NoError(t, db.PingContext(ctx))
}
