// Package sqlitecache keeps postcode lookups in a local SQLite file so
// repeat runs skip postcodes the geocoder has already seen.
package sqlitecache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/seractech/planwatch/internal/geocode"
)

const schema = `
CREATE TABLE IF NOT EXISTS geocode_cache (
	postcode   TEXT PRIMARY KEY,
	lat        REAL NOT NULL DEFAULT 0,
	lng        REAL NOT NULL DEFAULT 0,
	resolvable INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Cache is a geocode.Cache backed by SQLite.
type Cache struct {
	db  *sql.DB
	now func() time.Time
}

var _ geocode.Cache = (*Cache)(nil)

// Open opens or creates the cache database at path.
func Open(ctx context.Context, path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Cache{db: db, now: time.Now}, nil
}

// Load returns every cached entry.
func (c *Cache) Load(ctx context.Context) (map[string]geocode.Entry, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT postcode, lat, lng, resolvable FROM geocode_cache`)
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}
	defer rows.Close()

	out := make(map[string]geocode.Entry)
	for rows.Next() {
		var (
			pc         string
			e          geocode.Entry
			resolvable int
		)
		if err := rows.Scan(&pc, &e.Lat, &e.Lng, &resolvable); err != nil {
			return nil, fmt.Errorf("scan cache row: %w", err)
		}
		e.Resolvable = resolvable != 0
		out[pc] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache: %w", err)
	}
	return out, nil
}

// Store upserts entries in a single transaction.
func (c *Cache) Store(ctx context.Context, entries map[string]geocode.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO geocode_cache (postcode, lat, lng, resolvable, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(postcode) DO UPDATE SET
	lat = excluded.lat,
	lng = excluded.lng,
	resolvable = excluded.resolvable,
	updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	ts := c.now().Unix()
	for pc, e := range entries {
		resolvable := 0
		if e.Resolvable {
			resolvable = 1
		}
		if _, err := stmt.ExecContext(ctx, pc, e.Lat, e.Lng, resolvable, ts); err != nil {
			return fmt.Errorf("upsert %s: %w", pc, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}
