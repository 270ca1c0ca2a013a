// Package factory opens the collection backend selected by configuration.
package factory

import (
	"context"
	"fmt"

	"github.com/xtxerr/strata/config"
	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/collection/filesystem"
	"github.com/xtxerr/strata/internal/collection/kv"
	"github.com/xtxerr/strata/internal/collection/memory"
	"github.com/xtxerr/strata/internal/collection/mongo"
	"github.com/xtxerr/strata/internal/collection/relational"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/logging"
	"github.com/xtxerr/strata/internal/store"
)

// Open returns the factory for cfg.Backend. Connection failures are fatal
// and not retried.
func Open(ctx context.Context, cfg config.CollectionsConfig) (collection.Factory, error) {
	log := logging.Component("factory")

	var (
		f   collection.Factory
		err error
	)
	switch cfg.Backend {
	case memory.BackendName:
		f = memory.NewFactory()
	case filesystem.BackendName:
		f, err = filesystem.NewFactory(cfg.Filesystem.Root)
	case kv.BackendName:
		f, err = kv.Open(kv.Config{Path: cfg.KV.Path, InMemory: cfg.KV.InMemory})
	case mongo.BackendName:
		f, err = mongo.Connect(ctx, MongoConfig(cfg.Mongo))
	case string(store.DriverDuckDB), string(store.DriverPostgres):
		f, err = relational.Open(ctx, RelationalConfig(cfg.Backend, cfg.Relational))
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", errors.ErrInvalidConfig, cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}

	log.Info("collection backend opened", "backend", f.Backend())
	return f, nil
}

// MongoConfig converts the configuration section.
func MongoConfig(c config.MongoConfig) mongo.Config {
	return mongo.Config{
		URI:            c.URI,
		Host:           c.Host,
		Port:           c.Port,
		Username:       c.Username,
		Password:       c.Password,
		Database:       c.Database,
		AuthDatabase:   c.AuthDatabase,
		MaxConnections: c.MaxConnections,
		MinConnections: c.MinConnections,
		MaxIdleTime:    c.MaxIdleTime,
		MaxWaitTime:    c.MaxWaitTime,
		BatchSize:      c.BatchSize,
	}
}

// RelationalConfig converts the configuration section for the duckdb or
// postgres backend. A postgres URL is assembled from the discrete fields
// when none is given.
func RelationalConfig(backend string, c config.RelationalConfig) relational.Config {
	sc := store.DefaultConfig()
	sc.Driver = store.Driver(backend)
	sc.DSN = c.URL
	if sc.Driver == store.DriverPostgres && sc.DSN == "" {
		port := c.Port
		if port == 0 {
			port = config.DefaultPostgresPort
		}
		sc.DSN = store.PostgresURL(c.Host, port, c.Username, c.Password, c.Database)
	}
	if c.MaxOpenConns > 0 {
		sc.MaxOpenConns = c.MaxOpenConns
	}
	if c.MaxIdleConns > 0 {
		sc.MaxIdleConns = c.MaxIdleConns
	}
	if c.ConnMaxLifetime > 0 {
		sc.ConnMaxLifetime = c.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime > 0 {
		sc.ConnMaxIdleTime = c.ConnMaxIdleTime
	}
	if c.QueryTimeout > 0 {
		sc.QueryTimeout = c.QueryTimeout
	}
	return relational.Config{Store: sc, BatchSize: c.BatchSize}
}
