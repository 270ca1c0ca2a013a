package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete strata configuration.
type Config struct {
	// Collections selects and configures the collection backend.
	Collections CollectionsConfig `yaml:"collections"`

	// TimeSeries configures the ingestion chain.
	TimeSeries TimeSeriesConfig `yaml:"timeseries"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// CollectionsConfig selects the backend. Only the section matching Backend
// is read.
type CollectionsConfig struct {
	// Backend is one of: memory, filesystem, kv, mongo, duckdb, postgres.
	Backend string `yaml:"backend"`

	Filesystem FilesystemConfig `yaml:"filesystem"`
	KV         KVConfig         `yaml:"kv"`
	Mongo      MongoConfig      `yaml:"mongo"`
	Relational RelationalConfig `yaml:"relational"`
}

// FilesystemConfig configures the filesystem backend.
type FilesystemConfig struct {
	// Root holds one directory per collection.
	Root string `yaml:"root"`
}

// KVConfig configures the badger backend.
type KVConfig struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path string `yaml:"path"`

	// InMemory keeps the store in memory only.
	InMemory bool `yaml:"in_memory"`
}

// MongoConfig configures the document store backend.
type MongoConfig struct {
	// URI, when set, takes precedence over the individual fields.
	URI string `yaml:"uri"`

	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	AuthDatabase string `yaml:"auth_database"`

	MaxConnections uint64        `yaml:"max_connections"`
	MinConnections uint64        `yaml:"min_connections"`
	MaxIdleTime    time.Duration `yaml:"max_idle_time"`
	MaxWaitTime    time.Duration `yaml:"max_wait_time"`

	// BatchSize is the number of documents per bulk write.
	BatchSize int `yaml:"batch_size"`
}

// RelationalConfig configures the duckdb and postgres backends.
type RelationalConfig struct {
	// URL is the DSN. For duckdb an empty URL opens an in-memory database.
	// For postgres it takes precedence over the individual fields.
	URL string `yaml:"url"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`

	// BatchSize is the number of rows per multi-row upsert.
	BatchSize int `yaml:"batch_size"`
}

// TimeSeriesConfig configures the ingestion chain.
type TimeSeriesConfig struct {
	// Collection is the base name of the bucket collections.
	Collection string `yaml:"collection"`

	// Resolutions must be strictly ascending, each an exact multiple of the
	// previous one.
	Resolutions []time.Duration `yaml:"resolutions"`

	// FlushPeriod is the scheduler interval. Zero disables the scheduler.
	FlushPeriod time.Duration `yaml:"flush_period"`

	// FlushOffset delays flushing a bucket past its end.
	FlushOffset time.Duration `yaml:"flush_offset"`

	// PclPrecision is the distribution bin width.
	PclPrecision int64 `yaml:"pcl_precision"`

	// SketchAccuracy enables DDSketch quantiles when positive (0.01 = 1%).
	SketchAccuracy float64 `yaml:"sketch_accuracy"`

	// ArchiveDir, when set, receives a parquet file per flush.
	ArchiveDir string `yaml:"archive_dir"`

	// ArchiveCompression is one of: none, snappy, zstd, lz4, gzip.
	ArchiveCompression string `yaml:"archive_compression"`

	// JournalDir, when set, journals ingested points for crash recovery.
	JournalDir string `yaml:"journal_dir"`

	// JournalSync is one of: none, flush, fsync.
	JournalSync string `yaml:"journal_sync"`

	// CheckpointPeriod is how often the chain is force-flushed and the
	// journal truncated. Zero checkpoints only at startup and shutdown.
	CheckpointPeriod time.Duration `yaml:"checkpoint_period"`

	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig configures expiry of stored buckets and archive files.
type RetentionConfig struct {
	// Period is the cleanup interval. Zero disables cleanup.
	Period time.Duration `yaml:"period"`

	// Rules set the retention per resolution. Resolutions without a rule
	// are kept forever.
	Rules []RetentionRule `yaml:"rules"`

	// Archive is the retention of archive files. Zero keeps them forever.
	Archive time.Duration `yaml:"archive"`
}

// RetentionRule keeps the buckets of Resolution for Keep.
type RetentionRule struct {
	Resolution time.Duration `yaml:"resolution"`
	Keep       time.Duration `yaml:"keep"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Load loads configuration from a YAML file, merged onto the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration onto the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Collections: CollectionsConfig{
			Backend: DefaultBackend,
			Filesystem: FilesystemConfig{
				Root: DefaultFilesystemRoot,
			},
			KV: KVConfig{
				Path: DefaultKVPath,
			},
			Mongo: MongoConfig{
				Host:           DefaultMongoHost,
				Port:           DefaultMongoPort,
				Database:       DefaultMongoDatabase,
				AuthDatabase:   DefaultMongoAuthDatabase,
				MaxConnections: DefaultMongoMaxConnections,
				MaxWaitTime:    DefaultMongoMaxWaitTime,
				BatchSize:      DefaultBatchSize,
			},
			Relational: RelationalConfig{
				MaxOpenConns:    DefaultMaxOpenConns,
				MaxIdleConns:    DefaultMaxIdleConns,
				ConnMaxLifetime: DefaultConnMaxLifetime,
				QueryTimeout:    DefaultQueryTimeout,
				BatchSize:       DefaultBatchSize,
			},
		},
		TimeSeries: TimeSeriesConfig{
			Collection:   DefaultBucketCollection,
			Resolutions:  append([]time.Duration(nil), DefaultResolutions...),
			FlushPeriod:  DefaultFlushPeriod,
			FlushOffset:  DefaultFlushOffset,
			PclPrecision: DefaultPclPrecision,

			ArchiveCompression: DefaultArchiveCompression,
			JournalSync:        DefaultJournalSync,
			CheckpointPeriod:   DefaultCheckpointPeriod,
			Retention: RetentionConfig{
				Period: DefaultRetentionPeriod,
			},
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  DefaultMetricsListen,
		},
	}
}
