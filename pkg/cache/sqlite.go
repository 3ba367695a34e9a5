package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

var _ Service = (*SQLiteCache)(nil)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
	k TEXT PRIMARY KEY,
	v BLOB NOT NULL,
	expire_at INTEGER NOT NULL DEFAULT 0
)`

// SQLiteCache is a persistent Service on a single-file database. It keeps
// provider responses across runs when Redis is not configured.
// expire_at is unix milliseconds; 0 never expires.
type SQLiteCache struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteCache opens (or creates) the database at path.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// One writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", sqliteSchema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
	}
	return &SQLiteCache{db: db, now: time.Now}, nil
}

func (c *SQLiteCache) Close() error { return c.db.Close() }

func (c *SQLiteCache) expireAt(expiration time.Duration) int64 {
	if expiration <= 0 {
		return 0
	}
	return c.now().Add(expiration).UnixMilli()
}

// live is the SQL predicate selecting unexpired rows; it takes now in ms.
const live = "(expire_at = 0 OR expire_at > ?)"

func (c *SQLiteCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `INSERT OR REPLACE INTO kv (k, v, expire_at) VALUES (?, ?, ?)`, key, data, c.expireAt(expiration))
	return err
}

func (c *SQLiteCache) Get(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	err := c.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ? AND `+live, key, c.now().UnixMilli()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return decodeValue(data, dest)
}

func (c *SQLiteCache) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, k); err != nil {
			return err
		}
	}
	return nil
}

// DeleteByPattern uses SQLite GLOB, which shares the * and ? wildcards with Redis.
func (c *SQLiteCache) DeleteByPattern(ctx context.Context, pattern string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM kv WHERE k GLOB ?`, pattern)
	return err
}

func (c *SQLiteCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	now := c.now().UnixMilli()
	for _, k := range keys {
		var one int
		err := c.db.QueryRowContext(ctx, `SELECT 1 FROM kv WHERE k = ? AND `+live, k, now).Scan(&one)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return false, err
		}
	}
	return false, nil
}

func (c *SQLiteCache) Increment(ctx context.Context, key string) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		data   []byte
		expire int64
		n      int64
	)
	err = tx.QueryRowContext(ctx, `SELECT v, expire_at FROM kv WHERE k = ? AND `+live, key, c.now().UnixMilli()).Scan(&data, &expire)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		expire = 0
	case err != nil:
		return 0, err
	default:
		if n, err = strconv.ParseInt(string(data), 10, 64); err != nil {
			return 0, fmt.Errorf("cache: value of %s is not an integer", key)
		}
	}
	n++
	if _, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO kv (k, v, expire_at) VALUES (?, ?, ?)`,
		key, []byte(strconv.FormatInt(n, 10)), expire); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (c *SQLiteCache) Expire(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	res, err := c.db.ExecContext(ctx, `UPDATE kv SET expire_at = ? WHERE k = ? AND `+live,
		c.now().Add(expiration).UnixMilli(), key, c.now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (c *SQLiteCache) MSet(ctx context.Context, values map[string]interface{}, expiration time.Duration) error {
	if len(values) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	exp := c.expireAt(expiration)
	for k, v := range values {
		data, err := encodeValue(v)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO kv (k, v, expire_at) VALUES (?, ?, ?)`, k, data, exp); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *SQLiteCache) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	now := c.now().UnixMilli()
	for _, k := range keys {
		var data []byte
		err := c.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ? AND `+live, k, now).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = string(data)
	}
	return out, nil
}

// TryLock inserts the key unless a live row holds it.
func (c *SQLiteCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := c.now().UnixMilli()
	if _, err := c.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ? AND NOT `+live, key, now); err != nil {
		return false, err
	}
	res, err := c.db.ExecContext(ctx, `INSERT OR IGNORE INTO kv (k, v, expire_at) VALUES (?, ?, ?)`, key, []byte("locked"), c.expireAt(ttl))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (c *SQLiteCache) Unlock(ctx context.Context, key string) error {
	return c.Delete(ctx, key)
}

// Purge removes expired rows and returns how many were dropped.
func (c *SQLiteCache) Purge(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM kv WHERE NOT `+live, c.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
