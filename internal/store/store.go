// Package store provides the persistence layer for RobotFeed.
//
// A single sqlx-backed Store serves both PostgreSQL and SQLite. Queries are
// written with "?" or named parameters and rebound to the driver's bind style,
// and anything dialect specific branches on Store.driver.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Driver names the database/sql driver backing a Store.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite3"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to Postgres
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
	// DefaultDirPermissions defines the default permissions for SQLite database directories
	DefaultDirPermissions = 0755
)

// Opts holds configuration options for opening a Store.
type Opts struct {
	DSN    string
	Driver Driver
}

// Option defines a configuration option for the Store.
type Option func(*Opts)

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverPostgres
	}
}

// WithSQLiteDSN configures a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverSQLite
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return string(DriverPostgres)
	}
	return string(DriverSQLite)
}

// Store is the sqlx-backed repository for robots, logs, jobs and outbox messages.
type Store struct {
	db     *sqlx.DB
	driver Driver
}

// New opens the database, configures the pool and applies migrations.
func New(opts ...Option) (*Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Store.New: opening store", "driver", cfg.Driver, "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("Store.New: DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}
	if cfg.Driver == "" {
		cfg.Driver = Driver(DetectDSNType(cfg.DSN))
	}

	if cfg.Driver == DriverSQLite {
		dir := filepath.Dir(cfg.DSN)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Store.New: failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		slog.Error("Store.New: failed to open connection", "driver", cfg.Driver, "error", err)
		return nil, err
	}

	switch cfg.Driver {
	case DriverPostgres:
		db.SetMaxOpenConns(DefaultMaxOpenConns)
		db.SetMaxIdleConns(DefaultMaxIdleConns)
	case DriverSQLite:
		// SQLite allows a single writer; serialize access through one connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		slog.Error("Store.New: ping failed", "driver", cfg.Driver, "error", err)
		return nil, err
	}

	if err := applyMigrations(db.DB, cfg.Driver); err != nil {
		db.Close()
		slog.Error("Store.New: failed to run migrations", "driver", cfg.Driver, "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("Store.New: database ready", "driver", cfg.Driver)
	return newStore(db, cfg.Driver), nil
}

func newStore(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

// Driver returns the driver backing the store.
func (s *Store) Driver() Driver {
	return s.driver
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// bind expands named parameters and IN-list slices and rebinds the query to
// the driver's placeholder style.
func (s *Store) bind(query string, arg interface{}) (string, []interface{}, error) {
	q, args, err := sqlx.Named(query, arg)
	if err != nil {
		return "", nil, fmt.Errorf("bind named query: %w", err)
	}
	q, args, err = sqlx.In(q, args...)
	if err != nil {
		return "", nil, fmt.Errorf("expand query arguments: %w", err)
	}
	return s.db.Rebind(q), args, nil
}
