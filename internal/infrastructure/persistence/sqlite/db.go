// Package sqlite implements the schedule store on an embedded SQLite
// database (modernc.org/sqlite, no cgo). It serves single-node deployments
// and the test suites of the application layer.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrClosed is returned by operations on a closed database.
var ErrClosed = errors.New("sqlite: database is closed")

// Config holds SQLite settings.
type Config struct {
	// Path to the database file; ":memory:" opens a private in-memory database.
	Path string

	// BusyTimeout is how long a writer waits for the lock.
	BusyTimeout time.Duration
}

// DB wraps *sql.DB with the schema applied.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database and applies the schema.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}

	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path, cfg.BusyTimeout, memory))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Один писатель; для :memory: единственное соединение и есть база.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &DB{db: db}, nil
}

// dsn builds a modernc DSN; _pragma values apply to every new connection.
func dsn(path string, busyTimeout time.Duration, memory bool) string {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	if !memory {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
	}
	return "file:" + path + "?" + q.Encode()
}

// Close closes the database.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Ping verifies the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	if d == nil || d.db == nil {
		return ErrClosed
	}
	return d.db.PingContext(ctx)
}

// WithTx runs fn in a transaction: commit on nil, rollback on error or panic.
func (d *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// VALUE ENCODING
// ══════════════════════════════════════════════════════════════════════════════

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05.000000000Z"
)

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}

// isForeignKeyViolation matches by message: the code is SQLITE_CONSTRAINT or
// SQLITE_CONSTRAINT_FOREIGNKEY depending on extended result codes.
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
