package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete storage configuration.
type Config struct {
	// DataDir is the root directory for all storage files.
	DataDir string `yaml:"data_dir"`

	// Timezone is the IANA zone that defines partition dates.
	Timezone string `yaml:"timezone"`

	// Scale defines the expected load parameters.
	Scale ScaleConfig `yaml:"scale"`

	// Features configures optional features.
	Features FeaturesConfig `yaml:"features"`

	// Partition configures sealing of finished dates.
	Partition PartitionConfig `yaml:"partition"`

	// Retention defines how long sealed partitions are kept.
	Retention RetentionConfig `yaml:"retention"`

	// Ingestion configures the append path.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// SealedCachePartitions bounds how many sealed partitions are held in
	// memory at once.
	SealedCachePartitions int `yaml:"sealed_cache_partitions"`

	// LatestScanPartitions bounds how many of the newest partitions a cold
	// latest-snapshot lookup reads before reporting the station unknown.
	LatestScanPartitions int `yaml:"latest_scan_partitions"`

	// UnknownStationCache bounds how many unknown station ids are
	// remembered, so repeated lookups skip the scan.
	UnknownStationCache int `yaml:"unknown_station_cache"`

	// Query configures the SQL query service.
	Query QueryConfig `yaml:"query"`
}

// ScaleConfig defines the expected load parameters.
type ScaleConfig struct {
	// Stations is the expected number of stations in the network.
	Stations int `yaml:"stations"`

	// CadenceSec is the feed capture interval in seconds.
	CadenceSec int `yaml:"cadence_sec"`
}

// FeaturesConfig configures optional features.
type FeaturesConfig struct {
	// Percentile configures DDSketch percentile calculation.
	Percentile PercentileConfig `yaml:"percentile"`

	// Compression configures Parquet compression.
	Compression CompressionConfig `yaml:"compression"`
}

// PercentileConfig configures DDSketch percentile calculation.
type PercentileConfig struct {
	// Enabled enables percentile calculation.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// CompressionConfig configures Parquet compression.
type CompressionConfig struct {
	// Algorithm is the compression algorithm: snappy, zstd, lz4, none.
	Algorithm string `yaml:"algorithm"`

	// Level is the compression level (for zstd: 1-22).
	Level int `yaml:"level"`
}

// PartitionConfig configures sealing of finished dates.
type PartitionConfig struct {
	// SealMargin is how long after local midnight a date stays open for
	// late snapshots.
	SealMargin time.Duration `yaml:"seal_margin"`

	// SealInterval is how often the background sealer looks for finalized
	// partitions.
	SealInterval time.Duration `yaml:"seal_interval"`
}

// RetentionConfig defines how long sealed partitions are kept.
type RetentionConfig struct {
	// KeepDays is how many days before today sealed dates are kept.
	// 0 keeps everything.
	KeepDays int `yaml:"keep_days"`
}

// IngestionConfig configures the append path.
type IngestionConfig struct {
	// Ordering is "relaxed" (late snapshots accepted while their date is
	// open) or "strict" (per-station timestamps must increase).
	Ordering string `yaml:"ordering"`

	// WAL configures the Write-Ahead Log.
	WAL WALConfig `yaml:"wal"`
}

// WALConfig configures the Write-Ahead Log.
type WALConfig struct {
	// Dir is the WAL directory. Defaults to {DataDir}/wal.
	Dir string `yaml:"dir"`

	// SyncMode is the sync mode: sync (flush only) or fsync.
	SyncMode string `yaml:"sync_mode"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	// MemoryLimit is the DuckDB memory limit.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout is the query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of rows returned.
	MaxRows int `yaml:"max_rows"`
}

// Ordering modes.
const (
	OrderingRelaxed = "relaxed"
	OrderingStrict  = "strict"
)

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

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
		DataDir:  "/var/lib/dockarchive",
		Timezone: "America/Mexico_City",
		Scale: ScaleConfig{
			Stations:   700,
			CadenceSec: 60,
		},
		Features: FeaturesConfig{
			Percentile: PercentileConfig{
				Enabled:  true,
				Accuracy: 0.01,
			},
			Compression: CompressionConfig{
				Algorithm: "zstd",
				Level:     3,
			},
		},
		Partition: PartitionConfig{
			SealMargin:   15 * time.Minute,
			SealInterval: 5 * time.Minute,
		},
		Retention: RetentionConfig{
			KeepDays: 0,
		},
		Ingestion: IngestionConfig{
			Ordering: OrderingRelaxed,
			WAL: WALConfig{
				SyncMode: "fsync",
			},
		},
		SealedCachePartitions: 64,
		LatestScanPartitions:  7,
		UnknownStationCache:   1024,
		Query: QueryConfig{
			MemoryLimit: "1GB",
			Timeout:     30 * time.Second,
			MaxRows:     1000000,
		},
	}
}
