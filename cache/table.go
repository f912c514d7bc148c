package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pavelkalin/typeorm/logger"
)

// tableProvider stores entries as rows in a table inside the storage engine
// the host already uses, sharing the host's *sql.DB pool. The pool belongs
// to the caller and is never closed here.
//
// Rows carry the write time and ttl as integer nanoseconds. Expired rows are
// removed lazily on read and in a background sweep; neither is required for
// correctness because Get checks expiry itself.
type tableProvider struct {
	db        *sql.DB
	table     string
	style     PlaceholderStyle
	timeout   time.Duration
	sweep     time.Duration
	logger    logger.Logger
	selectSQL string
	upsertSQL string
	deleteSQL string
	clearSQL  string
	sweepSQL  string
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
}

var _ Provider = (*tableProvider)(nil)

func newTableProvider(cfg Config, log logger.Logger) (*tableProvider, error) {
	if cfg.DB == nil {
		return nil, errors.New("cache: table backend requires Config.DB")
	}
	if !tableNameRe.MatchString(cfg.TableName) {
		return nil, errors.Newf("cache: invalid table name %q", cfg.TableName)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &tableProvider{
		db:      cfg.DB,
		table:   cfg.TableName,
		style:   cfg.Table.Placeholders,
		timeout: cfg.QueryTimeout,
		sweep:   cfg.Table.SweepInterval,
		logger:  log.WithPrefix("[table]"),
		ctx:     ctx,
		cancel:  cancel,
	}
	t.selectSQL = fmt.Sprintf(
		"SELECT query, time, duration, result FROM %s WHERE identifier = %s",
		t.table, t.placeholder(1),
	)
	t.upsertSQL = fmt.Sprintf(
		"INSERT INTO %s (identifier, query, time, duration, result) VALUES (%s, %s, %s, %s, %s) "+
			"ON CONFLICT (identifier) DO UPDATE SET query = excluded.query, time = excluded.time, "+
			"duration = excluded.duration, result = excluded.result",
		t.table, t.placeholder(1), t.placeholder(2), t.placeholder(3), t.placeholder(4), t.placeholder(5),
	)
	t.deleteSQL = fmt.Sprintf("DELETE FROM %s WHERE identifier = %s", t.table, t.placeholder(1))
	t.clearSQL = fmt.Sprintf("DELETE FROM %s", t.table)
	t.sweepSQL = fmt.Sprintf("DELETE FROM %s WHERE time + duration <= %s", t.table, t.placeholder(1))
	return t, nil
}

func (t *tableProvider) placeholder(n int) string {
	if t.style == PlaceholdersDollar {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (t *tableProvider) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.timeout)
}

func (t *tableProvider) Connect(ctx context.Context) error {
	pingCtx, cancel := t.queryCtx(ctx)
	defer cancel()
	if err := t.db.PingContext(pingCtx); err != nil {
		return unavailable(err, "ping storage for table %s", t.table)
	}
	if t.sweep > 0 {
		t.waitGroup.Add(1)
		go t.janitor()
	}
	return nil
}

func (t *tableProvider) janitor() {
	defer t.waitGroup.Done()
	ticker := time.NewTicker(t.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := t.queryCtx(t.ctx)
			res, err := t.db.ExecContext(sweepCtx, t.sweepSQL, time.Now().UnixNano())
			cancel()
			if err != nil {
				t.logger.Debug("sweep failed: %s", err)
				continue
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				t.logger.Trace("swept %d expired rows", n)
			}
		}
	}
}

func (t *tableProvider) Get(ctx context.Context, identifier string) (*Entry, bool, error) {
	getCtx, cancel := t.queryCtx(ctx)
	defer cancel()
	var (
		query   string
		ts, dur int64
		result  []byte
	)
	row := t.db.QueryRowContext(getCtx, t.selectSQL, identifier)
	if err := row.Scan(&query, &ts, &dur, &result); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, opFailed(err, "get %s", identifier)
	}
	entry := &Entry{
		Identifier: identifier,
		Query:      query,
		Time:       time.Unix(0, ts),
		Duration:   time.Duration(dur),
		Result:     result,
	}
	if entry.Expired(time.Now()) {
		// Best effort. The row stays invisible either way.
		if _, err := t.db.ExecContext(getCtx, t.deleteSQL, identifier); err != nil {
			t.logger.Debug("failed to delete expired row %s: %s", identifier, err)
		}
		return nil, false, nil
	}
	return entry, true, nil
}

func (t *tableProvider) Store(ctx context.Context, entry Entry) error {
	storeCtx, cancel := t.queryCtx(ctx)
	defer cancel()
	_, err := t.db.ExecContext(storeCtx, t.upsertSQL,
		entry.Identifier, entry.Query, entry.Time.UnixNano(), int64(entry.Duration), entry.Result)
	if err != nil {
		return opFailed(err, "store %s", entry.Identifier)
	}
	return nil
}

func (t *tableProvider) Remove(ctx context.Context, identifiers ...string) error {
	if len(identifiers) == 0 {
		return nil
	}
	placeholders := make([]string, len(identifiers))
	args := make([]interface{}, len(identifiers))
	for i, id := range identifiers {
		placeholders[i] = t.placeholder(i + 1)
		args[i] = id
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE identifier IN (%s)", t.table, strings.Join(placeholders, ", "))
	removeCtx, cancel := t.queryCtx(ctx)
	defer cancel()
	if _, err := t.db.ExecContext(removeCtx, stmt, args...); err != nil {
		return opFailed(err, "remove %d identifiers", len(identifiers))
	}
	return nil
}

func (t *tableProvider) Clear(ctx context.Context) error {
	clearCtx, cancel := t.queryCtx(ctx)
	defer cancel()
	if _, err := t.db.ExecContext(clearCtx, t.clearSQL); err != nil {
		return opFailed(err, "clear table %s", t.table)
	}
	return nil
}

func (t *tableProvider) Close(ctx context.Context) error {
	t.once.Do(func() {
		t.cancel()
		t.waitGroup.Wait()
	})
	return nil
}

// EnsureTable creates the cache table if it does not exist. Hosts with
// migration tooling normally own the DDL themselves; this covers SQLite and
// MySQL style engines where the generic TEXT/BIGINT/BLOB types apply.
func EnsureTable(ctx context.Context, db *sql.DB, table string) error {
	if !tableNameRe.MatchString(table) {
		return errors.Newf("cache: invalid table name %q", table)
	}
	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (identifier TEXT PRIMARY KEY, query TEXT NOT NULL, "+
			"time BIGINT NOT NULL, duration BIGINT NOT NULL, result BLOB NOT NULL)",
		table,
	)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrapf(err, "failed to create cache table %s", table)
	}
	return nil
}
