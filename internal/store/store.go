// Package store provides the SQL connection layer shared by the relational
// collection backend.
//
// It opens DuckDB (in-process) or Postgres through database/sql, sizes the
// connection pool, applies a default statement timeout and runs
// transactions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/logging"
)

// =============================================================================
// Store Configuration
// =============================================================================

// Driver names a supported SQL engine.
type Driver string

const (
	DriverDuckDB   Driver = "duckdb"
	DriverPostgres Driver = "postgres"
)

// Config holds store configuration options.
type Config struct {
	// Driver selects the engine.
	Driver Driver

	// DSN is the database connection string. For DuckDB an empty DSN opens
	// an in-memory database. For Postgres the URL form is required when
	// CreateDatabase is set.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime is the maximum idle time of a connection.
	ConnMaxIdleTime time.Duration

	// QueryTimeout is the default timeout for statements whose context has
	// no deadline.
	QueryTimeout time.Duration

	// CreateDatabase creates a missing Postgres database on first connect.
	CreateDatabase bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverDuckDB,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		QueryTimeout:    30 * time.Second,
		CreateDatabase:  true,
	}
}

// PostgresURL builds a connection URL from discrete settings.
func PostgresURL(host string, port int, user, password, database string) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   host,
		Path:   "/" + database,
	}
	if port > 0 {
		u.Host = fmt.Sprintf("%s:%d", host, port)
	}
	if user != "" {
		if password != "" {
			u.User = url.UserPassword(user, password)
		} else {
			u.User = url.User(user)
		}
	}
	u.RawQuery = "sslmode=disable"
	return u.String()
}

// =============================================================================
// Store
// =============================================================================

// Store provides database operations.
//
// Store is safe for concurrent use.
type Store struct {
	db     *sql.DB
	config Config
	log    *slog.Logger
	mu     sync.RWMutex
	closed bool
}

// New opens the database and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	log := logging.Component("store").With("driver", string(cfg.Driver))

	db, err := open(ctx, cfg)
	if err != nil && cfg.Driver == DriverPostgres && cfg.CreateDatabase && isMissingDatabase(err) {
		log.Info("database missing, creating")
		if cerr := createDatabase(ctx, cfg.DSN); cerr != nil {
			return nil, fmt.Errorf("create database: %w", cerr)
		}
		db, err = open(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}

	return &Store{
		db:     db,
		config: cfg,
		log:    log,
	}, nil
}

func open(ctx context.Context, cfg Config) (*sql.DB, error) {
	switch cfg.Driver {
	case DriverDuckDB, DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnsupportedDriver, cfg.Driver)
	}

	db, err := sql.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w: %w", errors.ErrConnectionFailed, err)
	}
	return db, nil
}

// createDatabase connects to the maintenance database of the server named
// in dsn and creates the database dsn refers to.
func createDatabase(ctx context.Context, dsn string) error {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return fmt.Errorf("%w: database creation needs a URL-form DSN", errors.ErrInvalidConfig)
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return fmt.Errorf("%w: DSN names no database", errors.ErrInvalidConfig)
	}
	u.Path = "/postgres"

	admin, err := sql.Open(string(DriverPostgres), u.String())
	if err != nil {
		return err
	}
	defer admin.Close()

	_, err = admin.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name))
	return err
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

// DB returns the underlying database connection.
// Use with caution - prefer using Store methods.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the configured engine.
func (s *Store) Driver() Driver {
	return s.config.Driver
}

// =============================================================================
// Query Helpers
// =============================================================================

// QueryContext executes a query with context and returns rows.
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	return rows, Classify(err)
}

// QueryRowContext executes a query with context and returns a single row.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// ExecContext executes a statement with context.
func (s *Store) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	return res, Classify(err)
}

// =============================================================================
// Health Check
// =============================================================================

// Health checks database connectivity.
func (s *Store) Health(ctx context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return errors.ErrClosed
	}
	return Classify(s.db.PingContext(ctx))
}
