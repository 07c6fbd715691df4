package config

import (
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/ecobici-cdmx/dockarchive/internal/errors"
	"github.com/ecobici-cdmx/dockarchive/internal/logging"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Storage == nil {
		errs = append(errs, errors.New("storage: section is required"))
	} else if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}

	if err := c.Lags.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("lags: %w", err))
	}
	if err := c.History.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("history: %w", err))
	}
	if err := c.Cache.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	if err := c.Scheduler.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if c.Server.MetricsListen == "" {
		errs = append(errs, errors.New("server: metrics_listen is required"))
	}
	if c.Server.DrainTimeoutSec < 0 {
		errs = append(errs, errors.New("server: drain_timeout_sec must be non-negative"))
	}

	return errors.Join(errs...)
}

// Validate checks lag settings.
func (l *LagsConfig) Validate() error {
	var errs []error

	if l.Lookback < 0 {
		errs = append(errs, errors.New("lookback must be non-negative"))
	}
	if l.Fallback != FallbackCurrent && l.Fallback != FallbackNone {
		errs = append(errs, fmt.Errorf("fallback must be %q or %q, got %q", FallbackCurrent, FallbackNone, l.Fallback))
	}
	if l.MaxFallbackAge < 0 {
		errs = append(errs, errors.New("max_fallback_age must be non-negative"))
	}
	for _, o := range l.Offsets {
		if o < 0 {
			errs = append(errs, fmt.Errorf("offset %d must be non-negative", o))
		}
	}
	if l.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}

	return errors.Join(errs...)
}

// Validate checks history settings.
func (h *HistoryConfig) Validate() error {
	var errs []error
	if h.WindowDays <= 0 {
		errs = append(errs, errors.New("window_days must be positive"))
	}
	if h.MinDays < 0 {
		errs = append(errs, errors.New("min_days must be non-negative"))
	}
	return errors.Join(errs...)
}

// Validate checks cache settings.
func (c *CacheConfig) Validate() error {
	var errs []error
	if c.MaxEntries <= 0 {
		errs = append(errs, errors.New("max_entries must be positive"))
	}
	if c.LiveTTL <= 0 {
		errs = append(errs, errors.New("live_ttl must be positive"))
	}
	if c.DerivedTTL <= 0 {
		errs = append(errs, errors.New("derived_ttl must be positive"))
	}
	return errors.Join(errs...)
}

// Validate checks scheduler settings.
func (s *SchedulerConfig) Validate() error {
	var errs []error
	for name, at := range map[string]string{
		"warm_yesterday_at": s.WarmYesterdayAt,
		"warm_profiles_at":  s.WarmProfilesAt,
		"retention_at":      s.RetentionAt,
	} {
		if _, err := time.Parse("15:04", at); err != nil {
			errs = append(errs, fmt.Errorf("%s %q is not HH:MM", name, at))
		}
	}
	if s.WarmConcurrency <= 0 {
		errs = append(errs, errors.New("warm_concurrency must be positive"))
	}
	return errors.Join(errs...)
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return level
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
