// Package sqlite opens an embedded SQLite database through the pure Go driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Option configures Open.
type Option func(*Config)

// Config holds SQLite connection settings.
type Config struct {
	Path        string
	WAL         bool
	BusyTimeout time.Duration
	MaxConns    int
	Migrations  []string
}

// WithWAL toggles write-ahead logging so readers do not block the writer.
func WithWAL(enabled bool) Option {
	return func(c *Config) {
		c.WAL = enabled
	}
}

// WithBusyTimeout sets how long a writer waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.BusyTimeout = d
	}
}

// WithMaxConns caps the pool size.
func WithMaxConns(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// WithMigrations adds idempotent statements run after opening.
func WithMigrations(stmts ...string) Option {
	return func(c *Config) {
		c.Migrations = append(c.Migrations, stmts...)
	}
}

// DB is an opened SQLite database.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path and applies the migrations.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	cfg := &Config{
		Path:        path,
		WAL:         true,
		BusyTimeout: 5 * time.Second,
		MaxConns:    1,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// in-memory databases are per connection
	if cfg.Path == ":memory:" {
		cfg.MaxConns = 1
	}
	db.SetMaxOpenConns(cfg.MaxConns)

	pragmas := []string{fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds())}
	if cfg.WAL && cfg.Path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, stmt := range append(pragmas, cfg.Migrations...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite init %q: %w", firstLine(stmt), err)
		}
	}
	return &DB{db: db, path: cfg.Path}, nil
}

func (d *DB) SQL() *sql.DB { return d.db }
func (d *DB) Path() string { return d.path }
func (d *DB) Close() error { return d.db.Close() }

// Health pings the database.
func (d *DB) Health(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// InTx runs fn inside a transaction, rolling back when fn fails.
func (d *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
