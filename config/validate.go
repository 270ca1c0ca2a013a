package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	serrors "github.com/xtxerr/strata/internal/errors"
)

// Backends lists the accepted values of collections.backend.
var Backends = []string{"memory", "filesystem", "kv", "mongo", "duckdb", "postgres"}

// Validate checks the configuration for errors. The returned error wraps
// ErrInvalidConfig.
func (c *Config) Validate() error {
	errs := serrors.NewValidationErrors()

	if err := c.Collections.Validate(); err != nil {
		errs.Add(fmt.Errorf("collections: %w", err))
	}

	if err := c.TimeSeries.Validate(); err != nil {
		errs.Add(fmt.Errorf("timeseries: %w", err))
	}

	if err := c.Log.Validate(); err != nil {
		errs.Add(fmt.Errorf("log: %w", err))
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs.AddField("metrics.listen", "required when enabled")
	}

	return errs.Err()
}

// Validate checks the backend selection and the selected section.
func (c *CollectionsConfig) Validate() error {
	switch c.Backend {
	case "memory":
		return nil
	case "filesystem":
		if c.Filesystem.Root == "" {
			return errors.New("filesystem.root is required")
		}
		return nil
	case "kv":
		if !c.KV.InMemory && c.KV.Path == "" {
			return errors.New("kv.path is required unless kv.in_memory is set")
		}
		return nil
	case "mongo":
		return c.Mongo.Validate()
	case "duckdb":
		return c.Relational.validatePool()
	case "postgres":
		var errs []error
		if c.Relational.URL == "" && c.Relational.Host == "" {
			errs = append(errs, errors.New("relational: url or host is required"))
		}
		if c.Relational.URL == "" && c.Relational.Database == "" {
			errs = append(errs, errors.New("relational: database is required"))
		}
		if err := c.Relational.validatePool(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}
	return fmt.Errorf("backend must be one of: %s", strings.Join(Backends, ", "))
}

// Validate checks the document store configuration.
func (c *MongoConfig) Validate() error {
	var errs []error

	if c.URI == "" && c.Host == "" {
		errs = append(errs, errors.New("mongo: uri or host is required"))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("mongo: database is required"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, errors.New("mongo: port must be between 0 and 65535"))
	}
	if c.MinConnections > c.MaxConnections && c.MaxConnections > 0 {
		errs = append(errs, errors.New("mongo: min_connections must be <= max_connections"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("mongo: batch_size must be positive"))
	}

	return errors.Join(errs...)
}

func (c *RelationalConfig) validatePool() error {
	var errs []error

	if c.MaxOpenConns < 0 {
		errs = append(errs, errors.New("relational: max_open_conns must be non-negative"))
	}
	if c.MaxIdleConns < 0 {
		errs = append(errs, errors.New("relational: max_idle_conns must be non-negative"))
	}
	if c.MaxOpenConns > 0 && c.MaxIdleConns > c.MaxOpenConns {
		errs = append(errs, errors.New("relational: max_idle_conns must be <= max_open_conns"))
	}
	if c.QueryTimeout < 0 {
		errs = append(errs, errors.New("relational: query_timeout must be non-negative"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("relational: batch_size must be positive"))
	}

	return errors.Join(errs...)
}

// Validate checks the resolution chain and flush settings.
func (c *TimeSeriesConfig) Validate() error {
	var errs []error

	if c.Collection == "" {
		errs = append(errs, errors.New("collection is required"))
	}

	if len(c.Resolutions) == 0 {
		errs = append(errs, errors.New("at least one resolution is required"))
	}
	for i, r := range c.Resolutions {
		if r <= 0 {
			errs = append(errs, fmt.Errorf("resolution %s must be positive", r))
			continue
		}
		if i == 0 {
			continue
		}
		prev := c.Resolutions[i-1]
		if prev <= 0 {
			continue
		}
		if r <= prev {
			errs = append(errs, fmt.Errorf("resolution %s must be greater than %s", r, prev))
		} else if r%prev != 0 {
			errs = append(errs, fmt.Errorf("resolution %s must be a multiple of %s", r, prev))
		}
	}

	if c.FlushPeriod < 0 {
		errs = append(errs, errors.New("flush_period must be non-negative"))
	}
	if c.FlushOffset < 0 {
		errs = append(errs, errors.New("flush_offset must be non-negative"))
	}
	if c.PclPrecision <= 0 {
		errs = append(errs, errors.New("pcl_precision must be positive"))
	}
	if c.SketchAccuracy < 0 || c.SketchAccuracy >= 1 {
		errs = append(errs, errors.New("sketch_accuracy must be in [0, 1)"))
	}

	switch c.ArchiveCompression {
	case "", "none", "snappy", "zstd", "lz4", "gzip":
	default:
		errs = append(errs, fmt.Errorf("archive_compression %q: must be one of none, snappy, zstd, lz4, gzip", c.ArchiveCompression))
	}
	switch c.JournalSync {
	case "", "none", "flush", "fsync":
	default:
		errs = append(errs, fmt.Errorf("journal_sync %q: must be one of none, flush, fsync", c.JournalSync))
	}
	if c.CheckpointPeriod < 0 {
		errs = append(errs, errors.New("checkpoint_period must be non-negative"))
	}

	if err := c.Retention.validate(c.Resolutions); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	return errors.Join(errs...)
}

func (c *RetentionConfig) validate(resolutions []time.Duration) error {
	var errs []error

	if c.Period < 0 {
		errs = append(errs, errors.New("period must be non-negative"))
	}
	if c.Archive < 0 {
		errs = append(errs, errors.New("archive must be non-negative"))
	}
	seen := make(map[time.Duration]bool)
	for _, r := range c.Rules {
		if !slices.Contains(resolutions, r.Resolution) {
			errs = append(errs, fmt.Errorf("rule for %s: not a configured resolution", r.Resolution))
		}
		if seen[r.Resolution] {
			errs = append(errs, fmt.Errorf("rule for %s: duplicate", r.Resolution))
		}
		seen[r.Resolution] = true
		if r.Keep <= 0 {
			errs = append(errs, fmt.Errorf("rule for %s: keep must be positive", r.Resolution))
		}
	}

	return errors.Join(errs...)
}

// Validate checks the log level name.
func (c *LogConfig) Validate() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return fmt.Errorf("level %q: must be one of debug, info, warn, error", c.Level)
	}
	return nil
}
