// Package config provides configuration defaults and the YAML schema
// for the strata daemon and tools.
//
// This package defines all configurable constants with documented defaults.
// Users override these values via config.yaml.
package config

import "time"

// =============================================================================
// Collection Defaults
// =============================================================================

const (
	// DefaultBackend is the collection backend used when none is configured.
	// Override via config: collections.backend
	DefaultBackend = "memory"

	// DefaultFilesystemRoot is the directory holding one subdirectory per
	// collection for the filesystem backend.
	// Override via config: collections.filesystem.root
	DefaultFilesystemRoot = "./data"

	// DefaultKVPath is the badger directory for the kv backend.
	// Override via config: collections.kv.path
	DefaultKVPath = "./kv"

	// DefaultBatchSize is the number of documents written per round trip
	// by SaveAll on the database backends.
	// Override via config: collections.mongo.batch_size, collections.relational.batch_size
	DefaultBatchSize = 1000
)

// =============================================================================
// Document Store Defaults
// =============================================================================

const (
	// DefaultMongoHost is the document store host.
	// Override via config: collections.mongo.host
	DefaultMongoHost = "localhost"

	// DefaultMongoPort is the document store port.
	// Override via config: collections.mongo.port
	DefaultMongoPort = 27017

	// DefaultMongoDatabase is the database holding all collections.
	// Override via config: collections.mongo.database
	DefaultMongoDatabase = "strata"

	// DefaultMongoAuthDatabase is the database credentials are checked against.
	// Override via config: collections.mongo.auth_database
	DefaultMongoAuthDatabase = "admin"

	// DefaultMongoMaxConnections is the connection pool ceiling.
	// Override via config: collections.mongo.max_connections
	DefaultMongoMaxConnections = 100

	// DefaultMongoMaxWaitTime bounds server selection and pool checkout.
	// Override via config: collections.mongo.max_wait_time
	DefaultMongoMaxWaitTime = 2 * time.Minute
)

// =============================================================================
// Relational Defaults
// =============================================================================

const (
	// DefaultPostgresPort is used when a host is configured without a port.
	// Override via config: collections.relational.port
	DefaultPostgresPort = 5432

	// DefaultMaxOpenConns is the maximum number of open connections.
	// Override via config: collections.relational.max_open_conns
	DefaultMaxOpenConns = 25

	// DefaultMaxIdleConns is the maximum number of idle connections.
	// Override via config: collections.relational.max_idle_conns
	DefaultMaxIdleConns = 5

	// DefaultConnMaxLifetime is the maximum lifetime of a connection.
	// Override via config: collections.relational.conn_max_lifetime
	DefaultConnMaxLifetime = 5 * time.Minute

	// DefaultQueryTimeout bounds statements issued without a caller deadline.
	// Override via config: collections.relational.query_timeout
	DefaultQueryTimeout = 30 * time.Second
)

// =============================================================================
// Time-Series Defaults
// =============================================================================

const (
	// DefaultBucketCollection is the base name of the bucket collections.
	// Each resolution stores into "<name>_<resolution>".
	// Override via config: timeseries.collection
	DefaultBucketCollection = "buckets"

	// DefaultFlushPeriod is how often pipelines flush eligible buckets.
	// Override via config: timeseries.flush_period
	DefaultFlushPeriod = 10 * time.Second

	// DefaultFlushOffset is how long a bucket stays open after its end to
	// accept late points.
	// Override via config: timeseries.flush_offset
	DefaultFlushOffset = 10 * time.Second

	// DefaultPclPrecision is the distribution bin width used for percentiles.
	// Override via config: timeseries.pcl_precision
	DefaultPclPrecision = 10

	// DefaultArchiveCompression is the parquet codec of archive files.
	// Override via config: timeseries.archive_compression
	DefaultArchiveCompression = "zstd"

	// DefaultJournalSync flushes the journal buffer after every point.
	// Override via config: timeseries.journal_sync
	DefaultJournalSync = "flush"

	// DefaultCheckpointPeriod bounds how much journal a restart replays.
	// Override via config: timeseries.checkpoint_period
	DefaultCheckpointPeriod = 5 * time.Minute

	// DefaultRetentionPeriod is how often expired buckets are deleted.
	// Override via config: timeseries.retention.period
	DefaultRetentionPeriod = time.Hour
)

// DefaultResolutions is the rollup chain used when none is configured.
// Override via config: timeseries.resolutions
var DefaultResolutions = []time.Duration{time.Second, time.Minute, time.Hour}

// =============================================================================
// Wire Defaults
// =============================================================================

const (
	// DefaultMaxFrameSize limits a single dump frame to prevent OOM on
	// corrupt input.
	DefaultMaxFrameSize = 16 * 1024 * 1024
)

// =============================================================================
// Observability Defaults
// =============================================================================

const (
	// DefaultLogLevel is the minimum log level.
	// Override via config: log.level
	DefaultLogLevel = "info"

	// DefaultMetricsListen is where the Prometheus handler is served.
	// Override via config: metrics.listen
	DefaultMetricsListen = "127.0.0.1:9464"

	// DefaultShutdownTimeout bounds the final flush on shutdown.
	DefaultShutdownTimeout = 30 * time.Second
)
