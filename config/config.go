package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	storageconfig "github.com/ecobici-cdmx/dockarchive/internal/storage/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration of dockarchive.
//
//	storage:    snapshot archive (WAL, partitions, retention, query)
//	lags:       lag resolver
//	history:    day series and rolling profiles
//	cache:      result cache tiers
//	scheduler:  sealing, warmup and retention triggers
//	logging:    level and format
//	server:     metrics endpoint and shutdown
type Config struct {
	Storage   *storageconfig.Config `yaml:"storage"`
	Lags      LagsConfig            `yaml:"lags"`
	History   HistoryConfig         `yaml:"history"`
	Cache     CacheConfig           `yaml:"cache"`
	Scheduler SchedulerConfig       `yaml:"scheduler"`
	Logging   LoggingConfig         `yaml:"logging"`
	Server    ServerConfig          `yaml:"server"`
}

// LagsConfig configures the lag resolver.
type LagsConfig struct {
	// Lookback is the inclusive staleness window of a lag value.
	Lookback time.Duration `yaml:"lookback"`

	// Fallback is "current" (substitute the latest snapshot) or "none".
	Fallback string `yaml:"fallback"`

	// MaxFallbackAge rejects a fallback snapshot older than this relative
	// to the target instant. 0 means unlimited.
	MaxFallbackAge time.Duration `yaml:"max_fallback_age"`

	// Offsets are the default lag offsets in minutes.
	Offsets []int `yaml:"offsets"`

	// Concurrency bounds concurrent offset lookups.
	Concurrency int `yaml:"concurrency"`
}

// HistoryConfig configures the history aggregator.
type HistoryConfig struct {
	// WindowDays is the default rolling profile window.
	WindowDays int `yaml:"window_days"`

	// MinDays flags profile buckets with fewer samples as low confidence.
	MinDays int `yaml:"min_days"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	LiveTTL    time.Duration `yaml:"live_ttl"`
	DerivedTTL time.Duration `yaml:"derived_ttl"`
}

// SchedulerConfig configures the built-in triggers. Times are "HH:MM" in
// the storage timezone.
type SchedulerConfig struct {
	Enabled         bool   `yaml:"enabled"`
	WarmYesterdayAt string `yaml:"warm_yesterday_at"`
	WarmProfilesAt  string `yaml:"warm_profiles_at"`
	RetentionAt     string `yaml:"retention_at"`
	WarmConcurrency int    `yaml:"warm_concurrency"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	MetricsListen   string `yaml:"metrics_listen"`
	DrainTimeoutSec int    `yaml:"drain_timeout_sec"`
}

// DrainTimeout returns the shutdown drain timeout.
func (s ServerConfig) DrainTimeout() time.Duration {
	return time.Duration(s.DrainTimeoutSec) * time.Second
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	offsets := make([]int, len(DefaultLagOffsets))
	copy(offsets, DefaultLagOffsets)

	return &Config{
		Storage: storageconfig.DefaultConfig(),
		Lags: LagsConfig{
			Lookback:    DefaultLagLookback,
			Fallback:    DefaultLagFallback,
			Offsets:     offsets,
			Concurrency: DefaultLagConcurrency,
		},
		History: HistoryConfig{
			WindowDays: DefaultProfileWindowDays,
			MinDays:    DefaultProfileMinDays,
		},
		Cache: CacheConfig{
			MaxEntries: DefaultCacheMaxEntries,
			LiveTTL:    DefaultLiveTTL,
			DerivedTTL: DefaultDerivedTTL,
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			WarmYesterdayAt: DefaultWarmYesterdayAt,
			WarmProfilesAt:  DefaultWarmProfilesAt,
			RetentionAt:     DefaultRetentionAt,
			WarmConcurrency: DefaultWarmConcurrency,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
		Server: ServerConfig{
			MetricsListen:   DefaultMetricsListen,
			DrainTimeoutSec: DefaultDrainTimeoutSec,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and DOCKARCHIVE_* environment variables, in that
// order, and validates the result. ${VAR} references in the file are
// expanded.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if cfg.Storage == nil {
			cfg.Storage = storageconfig.DefaultConfig()
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
