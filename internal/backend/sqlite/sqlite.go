// Package sqlite implements a SQLite-backed key-value backend for caderneta.
// Values live in a single kv table inside {dir}/caderneta.db. The backend
// enforces a byte capacity across all keys; a write that would exceed it,
// or that SQLite itself rejects as full, fails with album.ErrQuotaExceeded.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/banux/caderneta/internal/album"
)

const dbFilename = "caderneta.db"

// Backend is a SQLite-backed key-value backend.
type Backend struct {
	db       *sql.DB
	capacity int64 // bytes across all keys; 0 = unlimited
}

// New opens (or creates) the database at {dir}/caderneta.db, applies the
// schema and returns the Backend.
func New(dir string, capacity int64) (*Backend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, dbFilename)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", dbPath, err)
	}
	// A single connection keeps the capacity check and the write in one
	// serialized transaction.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	b := &Backend{db: db, capacity: capacity}
	if err := b.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return b, nil
}

// Close releases database resources.
func (b *Backend) Close() error {
	return b.db.Close()
}

// createSchema creates the table if it doesn't exist yet.
func (b *Backend) createSchema() error {
	_, err := b.db.Exec(`
CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);
`)
	return err
}

// Get returns the value stored under key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, album.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	return value, nil
}

// Put replaces the value stored under key.
func (b *Backend) Put(ctx context.Context, key string, value []byte) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if b.capacity > 0 {
		var others int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(length(value)), 0) FROM kv WHERE key <> ?`, key).Scan(&others); err != nil {
			return fmt.Errorf("measure usage: %w", err)
		}
		if others+int64(len(value)) > b.capacity {
			return fmt.Errorf("write %q (%d bytes, %d in use of %d): %w",
				key, len(value), others, b.capacity, album.ErrQuotaExceeded)
		}
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return wrapFull(key, err)
	}
	if err := tx.Commit(); err != nil {
		return wrapFull(key, err)
	}
	return nil
}

// Delete removes key; a missing key is not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Usage reports the bytes held across all keys and the configured capacity.
func (b *Backend) Usage(ctx context.Context) (int64, int64, error) {
	var used int64
	err := b.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(length(value)), 0) FROM kv`).Scan(&used)
	if err != nil {
		return 0, 0, fmt.Errorf("measure usage: %w", err)
	}
	return used, b.capacity, nil
}

// wrapFull maps SQLITE_FULL to album.ErrQuotaExceeded.
func wrapFull(key string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_FULL {
		return fmt.Errorf("write %q: %v: %w", key, err, album.ErrQuotaExceeded)
	}
	return fmt.Errorf("write %q: %w", key, err)
}
