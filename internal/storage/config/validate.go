package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata" // zone database for hosts without one
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	// DataDir
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	// Timezone
	if _, err := time.LoadLocation(c.Timezone); err != nil || c.Timezone == "" {
		errs = append(errs, fmt.Errorf("timezone %q is not a valid IANA zone", c.Timezone))
	}

	// Scale
	if err := c.Scale.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scale: %w", err))
	}

	// Features
	if err := c.Features.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("features: %w", err))
	}

	// Partition
	if err := c.Partition.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("partition: %w", err))
	}

	// Retention
	if c.Retention.KeepDays < 0 {
		errs = append(errs, errors.New("retention: keep_days must be non-negative"))
	}

	// Ingestion
	if err := c.Ingestion.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ingestion: %w", err))
	}

	if c.SealedCachePartitions <= 0 {
		errs = append(errs, errors.New("sealed_cache_partitions must be positive"))
	}
	if c.LatestScanPartitions <= 0 {
		errs = append(errs, errors.New("latest_scan_partitions must be positive"))
	}
	if c.UnknownStationCache <= 0 {
		errs = append(errs, errors.New("unknown_station_cache must be positive"))
	}

	// Query
	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the scale configuration.
func (c *ScaleConfig) Validate() error {
	var errs []error

	if c.Stations <= 0 {
		errs = append(errs, errors.New("stations must be positive"))
	}

	if c.CadenceSec <= 0 {
		errs = append(errs, errors.New("cadence_sec must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the features configuration.
func (c *FeaturesConfig) Validate() error {
	var errs []error

	// Percentile
	if c.Percentile.Enabled {
		if c.Percentile.Accuracy <= 0 || c.Percentile.Accuracy >= 1 {
			errs = append(errs, errors.New("percentile.accuracy must be between 0 and 1"))
		}
	}

	// Compression
	validAlgorithms := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validAlgorithms[c.Compression.Algorithm] {
		errs = append(errs, fmt.Errorf("compression.algorithm must be one of: snappy, zstd, lz4, none"))
	}

	if c.Compression.Algorithm == "zstd" && (c.Compression.Level < 0 || c.Compression.Level > 22) {
		errs = append(errs, errors.New("compression.level for zstd must be between 0 and 22"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the partition configuration.
func (c *PartitionConfig) Validate() error {
	var errs []error

	if c.SealMargin < 0 {
		errs = append(errs, errors.New("seal_margin must be non-negative"))
	}
	if c.SealMargin >= 24*time.Hour {
		errs = append(errs, errors.New("seal_margin must be shorter than a day"))
	}

	if c.SealInterval <= 0 {
		errs = append(errs, errors.New("seal_interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the ingestion configuration.
func (c *IngestionConfig) Validate() error {
	var errs []error

	switch c.Ordering {
	case OrderingRelaxed, OrderingStrict, "":
	default:
		errs = append(errs, errors.New("ordering must be one of: relaxed, strict"))
	}

	// WAL
	validSyncModes := map[string]bool{
		"sync":  true,
		"fsync": true,
		"":      true, // Empty defaults to fsync
	}
	if !validSyncModes[c.WAL.SyncMode] {
		errs = append(errs, errors.New("wal.sync_mode must be one of: sync, fsync"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}

	if c.MaxRows <= 0 {
		errs = append(errs, errors.New("max_rows must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// StrictOrdering reports whether appends must be per-station increasing.
func (c *Config) StrictOrdering() bool {
	return c.Ingestion.Ordering == OrderingStrict
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.WALDir(),
		c.PartitionDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// WALDir returns the WAL directory path.
func (c *Config) WALDir() string {
	if c.Ingestion.WAL.Dir != "" {
		return c.Ingestion.WAL.Dir
	}
	return filepath.Join(c.DataDir, "wal")
}

// PartitionDir returns the root of the sealed partition tree.
func (c *Config) PartitionDir() string {
	return filepath.Join(c.DataDir, "partitions")
}
