// Package archive wires the snapshot store, lag resolver, history
// aggregator and result cache into the single service request handlers and
// the scheduler talk to.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ecobici-cdmx/dockarchive/config"
	"github.com/ecobici-cdmx/dockarchive/internal/cache"
	"github.com/ecobici-cdmx/dockarchive/internal/errors"
	"github.com/ecobici-cdmx/dockarchive/internal/history"
	"github.com/ecobici-cdmx/dockarchive/internal/lags"
	"github.com/ecobici-cdmx/dockarchive/internal/logging"
	"github.com/ecobici-cdmx/dockarchive/internal/storage"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/partition"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// Fingerprint kinds.
const (
	kindDay      = "day"
	kindProfile  = "profile"
	kindWeekly   = "weekly"
	kindStations = "stations"
)

// Options carries the service's collaborators. Zero values select
// defaults; the clock defaults to the store's.
type Options struct {
	Clock      clockwork.Clock
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// Service answers lag, history and profile queries. It is constructed once
// at startup and shared; it is safe for concurrent use.
type Service struct {
	store   *storage.Store
	cal     *partition.Calendar
	clock   clockwork.Clock
	lags    *lags.Resolver
	history *history.Aggregator
	cache   *cache.Manager
	log     *slog.Logger
	metrics *metrics

	warmConcurrency int
}

// New builds the service over an open store.
func New(store *storage.Store, cfg *config.Config, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.NewMissingField("store")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts.Clock == nil {
		opts.Clock = store.Clock()
	}
	// A caller-supplied logger is shared by every part; otherwise each
	// part names its own component.
	shared := opts.Logger
	if opts.Logger == nil {
		opts.Logger = logging.Component("archive")
	}

	s := &Service{
		store:           store,
		cal:             store.Calendar(),
		clock:           opts.Clock,
		log:             opts.Logger,
		warmConcurrency: cfg.Scheduler.WarmConcurrency,
	}
	if s.warmConcurrency <= 0 {
		s.warmConcurrency = config.DefaultWarmConcurrency
	}

	var err error
	lagOpts := lags.OptionsFromConfig(cfg.Lags)
	lagOpts.Logger = shared
	lagOpts.Registerer = opts.Registerer
	if s.lags, err = lags.New(store, lagOpts); err != nil {
		return nil, fmt.Errorf("lag resolver: %w", err)
	}

	histOpts := history.OptionsFromConfig(cfg.History)
	histOpts.Calendar = s.cal
	histOpts.Clock = s.clock
	histOpts.DaySource = s.DayHistory
	if sc := cfg.Storage; sc != nil {
		histOpts.PercentileAccuracy = -1
		if sc.Features.Percentile.Enabled {
			histOpts.PercentileAccuracy = sc.Features.Percentile.Accuracy
		}
	}
	histOpts.Logger = shared
	if s.history, err = history.New(store, histOpts); err != nil {
		return nil, fmt.Errorf("history aggregator: %w", err)
	}

	cacheOpts := cache.OptionsFromConfig(cfg.Cache)
	cacheOpts.Clock = s.clock
	cacheOpts.Logger = shared
	cacheOpts.Registerer = opts.Registerer
	if s.cache, err = cache.New(cacheOpts); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	if s.metrics, err = newMetrics(opts.Registerer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return s, nil
}

// Store returns the underlying snapshot store.
func (s *Service) Store() *storage.Store {
	return s.store
}

// Today returns the current local date.
func (s *Service) Today() types.LocalDate {
	return s.cal.Today(s.clock.Now())
}

// ResolveLags returns the station's lag values before target. Lags are
// point reads and are not cached.
func (s *Service) ResolveLags(ctx context.Context, stationID string, target time.Time, offsets []int) (*lags.Result, error) {
	return s.lags.Resolve(ctx, stationID, target, offsets)
}

// DayHistory returns the station's series for d. Finalized dates are
// cached without expiry, the others for the live TTL.
func (s *Service) DayHistory(ctx context.Context, stationID string, d types.LocalDate) (*history.DaySeries, error) {
	fp, tier := s.dayKey(stationID, d)
	return cache.Get(ctx, s.cache, fp, tier, func(ctx context.Context) (*history.DaySeries, error) {
		return s.history.DayHistory(ctx, stationID, d)
	})
}

// TodayHistory returns the series of the current local date.
func (s *Service) TodayHistory(ctx context.Context, stationID string) (*history.DaySeries, error) {
	return s.DayHistory(ctx, stationID, s.Today())
}

// YesterdayHistory returns the series of the previous local date.
func (s *Service) YesterdayHistory(ctx context.Context, stationID string) (*history.DaySeries, error) {
	return s.DayHistory(ctx, stationID, s.Today().AddDays(-1))
}

// dayKey names a day series. The tier is part of the key, so a date that
// finalizes moves to a new entry instead of clashing with its live one.
func (s *Service) dayKey(stationID string, d types.LocalDate) (cache.Fingerprint, cache.Tier) {
	tier := cache.TierLive
	if s.cal.IsFinalized(d, s.clock.Now()) {
		tier = cache.TierSealed
	}
	return cache.Fingerprint{
		Kind:      kindDay,
		StationID: stationID,
		Date:      d,
		Params:    []string{tier.String()},
	}, tier
}

// RollingProfile returns the station's profile over the windowDays dates
// before asOf matching filter. windowDays <= 0 uses the configured window.
func (s *Service) RollingProfile(ctx context.Context, stationID string, asOf types.LocalDate, windowDays int, filter history.Filter) (*history.Profile, error) {
	if windowDays <= 0 {
		windowDays = s.history.WindowDays()
	}
	fp := s.profileKey(stationID, asOf, windowDays, filter)
	return cache.Get(ctx, s.cache, fp, cache.TierDerived, func(ctx context.Context) (*history.Profile, error) {
		return s.history.RollingProfile(ctx, stationID, asOf, windowDays, filter)
	})
}

// WeeklyProfile returns the weekday and weekend profiles as of asOf.
func (s *Service) WeeklyProfile(ctx context.Context, stationID string, asOf types.LocalDate, windowDays int) (*history.WeeklyProfile, error) {
	if windowDays <= 0 {
		windowDays = s.history.WindowDays()
	}
	fp := s.weeklyKey(stationID, asOf, windowDays)
	return cache.Get(ctx, s.cache, fp, cache.TierDerived, func(ctx context.Context) (*history.WeeklyProfile, error) {
		return s.history.WeeklyProfile(ctx, stationID, asOf, windowDays)
	})
}

// ResolveStation maps a station reference to its station id. The reference
// may be the id itself or the public station code; stations seen today or
// yesterday are searched.
func (s *Service) ResolveStation(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", errors.NewMissingField("station")
	}

	today := s.Today()
	fp := cache.Fingerprint{Kind: kindStations, Date: today}
	codes, err := cache.Get(ctx, s.cache, fp, cache.TierLive, func(ctx context.Context) (map[string]string, error) {
		return s.stationCodes(ctx, today)
	})
	if err != nil {
		return "", err
	}

	if _, ok := codes[ref]; ok {
		return ref, nil
	}
	for id, code := range codes {
		if code == ref {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: station %q", errors.ErrNotFound, ref)
}

// stationCodes maps station id to public code for stations in today's or
// yesterday's partition.
func (s *Service) stationCodes(ctx context.Context, today types.LocalDate) (map[string]string, error) {
	codes := make(map[string]string)
	for _, d := range []types.LocalDate{today, today.AddDays(-1)} {
		ids, err := s.store.Stations(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("stations %s: %w", d, err)
		}
		for _, id := range ids {
			if _, ok := codes[id]; ok {
				continue
			}
			snap, ok, err := s.store.Latest(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("latest %s: %w", id, err)
			}
			if ok {
				codes[id] = snap.StationCode
			}
		}
	}
	return codes, nil
}

// Stats holds service statistics.
type Stats struct {
	Store storage.Stats
	Cache cache.Stats
}

// Stats returns store and cache statistics.
func (s *Service) Stats() Stats {
	return Stats{
		Store: s.store.Stats(),
		Cache: s.cache.Stats(),
	}
}
