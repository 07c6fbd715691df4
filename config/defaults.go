// Package config provides the dockarchive process configuration and its
// documented defaults.
//
// Every default below can be overridden in config.yaml or through a
// DOCKARCHIVE_* environment variable (see env.go).
package config

import "time"

// =============================================================================
// Lag Defaults
// =============================================================================

const (
	// DefaultLagLookback is how stale a snapshot may be and still count as
	// the value at a lag offset. The window is inclusive.
	// Override via config: lags.lookback
	DefaultLagLookback = 5 * time.Minute

	// DefaultLagFallback substitutes the station's current snapshot when no
	// snapshot falls inside the lookback window.
	// Override via config: lags.fallback
	DefaultLagFallback = FallbackCurrent

	// DefaultLagConcurrency bounds concurrent offset lookups per request.
	// Override via config: lags.concurrency
	DefaultLagConcurrency = 8
)

// DefaultLagOffsets are the offsets, in minutes, the model consumes.
// Override via config: lags.offsets
var DefaultLagOffsets = []int{10, 20, 30, 60, 120, 1440}

// Fallback modes.
const (
	FallbackCurrent = "current"
	FallbackNone    = "none"
)

// =============================================================================
// History Defaults
// =============================================================================

const (
	// DefaultProfileWindowDays is the rolling profile window.
	// Override via config: history.window_days
	DefaultProfileWindowDays = 30

	// DefaultProfileMinDays is the sample count below which a profile
	// bucket is flagged low confidence.
	// Override via config: history.min_days
	DefaultProfileMinDays = 3
)

// =============================================================================
// Cache Defaults
// =============================================================================

const (
	// DefaultCacheMaxEntries bounds the result cache. About one day series
	// and two profiles per station fit several times over.
	// Override via config: cache.max_entries
	DefaultCacheMaxEntries = 50000

	// DefaultLiveTTL is how long results over open data are served.
	// Override via config: cache.live_ttl
	DefaultLiveTTL = 10 * time.Minute

	// DefaultDerivedTTL is how long profiles are served.
	// Override via config: cache.derived_ttl
	DefaultDerivedTTL = 24 * time.Hour
)

// =============================================================================
// Scheduler Defaults
// =============================================================================

const (
	// DefaultWarmYesterdayAt is the local time yesterday's day series are
	// rebuilt.
	// Override via config: scheduler.warm_yesterday_at
	DefaultWarmYesterdayAt = "01:00"

	// DefaultWarmProfilesAt is the local time profiles are rebuilt.
	// Override via config: scheduler.warm_profiles_at
	DefaultWarmProfilesAt = "01:30"

	// DefaultRetentionAt is the local time retention runs.
	// Override via config: scheduler.retention_at
	DefaultRetentionAt = "05:00"

	// DefaultWarmConcurrency bounds concurrent station recomputations.
	// Override via config: scheduler.warm_concurrency
	DefaultWarmConcurrency = 8
)

// =============================================================================
// Server Defaults
// =============================================================================

const (
	// DefaultMetricsListen is where serve exposes /metrics.
	// Override via config: server.metrics_listen
	DefaultMetricsListen = "127.0.0.1:9464"

	// DefaultDrainTimeoutSec is how long shutdown waits for running jobs.
	// Override via config: server.drain_timeout_sec
	DefaultDrainTimeoutSec = 30
)

// =============================================================================
// Logging Defaults
// =============================================================================

const (
	// DefaultLogLevel is one of debug, info, warn, error.
	// Override via config: logging.level
	DefaultLogLevel = "info"
)
