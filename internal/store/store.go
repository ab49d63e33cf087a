// Package store provides the shared SQLite-backed base (WAL mode, a single
// writer connection) underneath the four container-owned tables: audit,
// activity, token-metrics, and circuit-breaker state. modernc.org/sqlite
// keeps the build cgo-free; PRAGMA journal_mode=WAL runs before any CREATE
// TABLE so readers never block the writer.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a single-writer SQLite connection shared by every table package
// in this directory.
type DB struct {
	conn *sql.DB
	path string
}

// SchemaVersion is bumped whenever a migration is appended. Stored in a
// one-row table so re-opening an existing database is idempotent.
const SchemaVersion = 1

// Open creates path's parent directory if needed, opens a WAL-mode
// connection capped at one open connection (SQLite's single-writer model),
// and applies schemaStmts idempotently.
func Open(path string, schemaStmts []string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("store: db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	d := &DB{conn: conn, path: path}
	if err := d.migrate(context.Background(), schemaStmts); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) migrate(ctx context.Context, schemaStmts []string) error {
	stmts := append([]string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		);`,
	}, schemaStmts...)
	for _, stmt := range stmts {
		if _, err := d.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate %s: %w", d.path, err)
		}
	}
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO schema_meta (id, version) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version`, SchemaVersion)
	if err != nil {
		return fmt.Errorf("store: record schema version: %w", err)
	}
	return nil
}

// Conn exposes the underlying connection to table-specific packages.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Close closes the connection. Safe to call on a nil DB.
func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
