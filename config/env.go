package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ecobici-cdmx/dockarchive/internal/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOCKARCHIVE_"

// LoadDotEnv loads variables from .env files (default ".env") into the
// process environment without overriding variables already set. Missing
// files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !isNotExist(err) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// LookupFunc reports an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from DOCKARCHIVE_* variables.
//
//	DOCKARCHIVE_DATA_DIR             storage.data_dir
//	DOCKARCHIVE_TIMEZONE             storage.timezone
//	DOCKARCHIVE_ORDERING             storage.ingestion.ordering
//	DOCKARCHIVE_WAL_SYNC_MODE        storage.ingestion.wal.sync_mode
//	DOCKARCHIVE_RETENTION_KEEP_DAYS  storage.retention.keep_days
//	DOCKARCHIVE_LAGS_LOOKBACK        lags.lookback
//	DOCKARCHIVE_LAGS_FALLBACK        lags.fallback
//	DOCKARCHIVE_LAGS_OFFSETS         lags.offsets (comma separated)
//	DOCKARCHIVE_CACHE_MAX_ENTRIES    cache.max_entries
//	DOCKARCHIVE_SCHEDULER_ENABLED    scheduler.enabled
//	DOCKARCHIVE_LOG_LEVEL            logging.level
//	DOCKARCHIVE_LOG_JSON             logging.json
//	DOCKARCHIVE_METRICS_LISTEN       server.metrics_listen
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("DATA_DIR", &c.Storage.DataDir)
	str("TIMEZONE", &c.Storage.Timezone)
	str("ORDERING", &c.Storage.Ingestion.Ordering)
	str("WAL_SYNC_MODE", &c.Storage.Ingestion.WAL.SyncMode)
	integer("RETENTION_KEEP_DAYS", &c.Storage.Retention.KeepDays)

	duration("LAGS_LOOKBACK", &c.Lags.Lookback)
	str("LAGS_FALLBACK", &c.Lags.Fallback)
	if v, ok := lookup(EnvPrefix + "LAGS_OFFSETS"); ok && v != "" {
		offsets, err := ParseOffsets(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sLAGS_OFFSETS: %w", EnvPrefix, err))
		} else {
			c.Lags.Offsets = offsets
		}
	}

	integer("CACHE_MAX_ENTRIES", &c.Cache.MaxEntries)
	boolean("SCHEDULER_ENABLED", &c.Scheduler.Enabled)
	str("LOG_LEVEL", &c.Logging.Level)
	boolean("LOG_JSON", &c.Logging.JSON)
	str("METRICS_LISTEN", &c.Server.MetricsListen)

	return errors.Join(errs...)
}

// ParseOffsets parses a comma separated list of minute offsets.
func ParseOffsets(s string) ([]int, error) {
	var offsets []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("offset %q: %w", part, err)
		}
		offsets = append(offsets, n)
	}
	return offsets, nil
}
