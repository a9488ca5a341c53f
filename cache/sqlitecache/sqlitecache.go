// Package sqlitecache implements consilium.Cache on a local SQLite file
// using the pure-Go driver. Zero CGO required. Useful for single-node
// deployments that do not want a Redis dependency.
package sqlitecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/klinio/consilium"
)

// Cache is a SQLite-backed result cache. Expiry is lazy: an expired row is
// reported as a miss on Probe and physically removed by the periodic sweep
// that Store triggers.
type Cache struct {
	db *sql.DB
}

// New opens (or creates) the cache database at dbPath.
// All goroutines serialize through one connection, which avoids SQLITE_BUSY
// from concurrent writers.
func New(dbPath string) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlitecache: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	c := &Cache{db: db}
	if err := c.init(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) init() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS consult_cache (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("sqlitecache: init: %w", err)
	}
	return nil
}

// Probe fetches the payload for key. Expired rows count as misses.
func (c *Cache) Probe(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		payload   []byte
		expiresAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM consult_cache WHERE key = ?`, key,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if time.Now().UnixMilli() >= expiresAt {
		return nil, false, nil
	}
	return payload, true, nil
}

// Store upserts payload under key and sweeps expired rows while it is here.
func (c *Cache) Store(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl).UnixMilli()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO consult_cache (key, payload, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`,
		key, payload, expiresAt)
	if err != nil {
		return err
	}
	_, _ = c.db.ExecContext(ctx,
		`DELETE FROM consult_cache WHERE expires_at <= ?`, time.Now().UnixMilli())
	return nil
}

// Ping verifies the database file is usable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

var _ consilium.Cache = (*Cache)(nil)
