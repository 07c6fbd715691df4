package archive

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ecobici-cdmx/dockarchive/internal/cache"
	"github.com/ecobici-cdmx/dockarchive/internal/history"
	"github.com/ecobici-cdmx/dockarchive/internal/logging"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// Warm job names, used in logs and as the "job" label.
const (
	jobWarmYesterday = "warm_yesterday"
	jobWarmProfiles  = "warm_profiles"
)

// WarmResult summarizes one warmup run. Per-station failures are counted,
// not returned.
type WarmResult struct {
	Job      string
	Date     types.LocalDate
	Stations int
	Warmed   int
	Failed   int
	Elapsed  time.Duration
}

// WarmYesterday computes yesterday's day series for every station in
// yesterday's partition. Series already cached as sealed are kept; a live
// entry is dropped and recomputed.
func (s *Service) WarmYesterday(ctx context.Context) (WarmResult, error) {
	d := s.Today().AddDays(-1)
	return s.warm(ctx, jobWarmYesterday, d, func(ctx context.Context, id string) error {
		fp, tier := s.dayKey(id, d)
		if tier == cache.TierSealed && s.cache.Contains(fp) {
			return nil
		}
		if tier != cache.TierSealed {
			s.cache.Invalidate(fp)
		}
		_, err := s.DayHistory(ctx, id, d)
		return err
	})
}

// WarmProfiles recomputes today's rolling profiles for every station in
// yesterday's partition: the unfiltered profile and the weekday/weekend
// pair.
func (s *Service) WarmProfiles(ctx context.Context) (WarmResult, error) {
	today := s.Today()
	window := s.history.WindowDays()
	return s.warm(ctx, jobWarmProfiles, today.AddDays(-1), func(ctx context.Context, id string) error {
		s.cache.Invalidate(s.profileKey(id, today, window, history.FilterAll))
		s.cache.Invalidate(s.weeklyKey(id, today, window))

		if _, err := s.RollingProfile(ctx, id, today, window, history.FilterAll); err != nil {
			return err
		}
		_, err := s.WeeklyProfile(ctx, id, today, window)
		return err
	})
}

// warm runs fn for every station of date d with bounded concurrency. Only
// failing to list the stations, or cancellation, aborts the run.
func (s *Service) warm(ctx context.Context, job string, d types.LocalDate, fn func(ctx context.Context, id string) error) (WarmResult, error) {
	start := s.clock.Now()
	ctx = logging.ContextWithJob(ctx, job)
	log := logging.WithContext(ctx, s.log)

	res := WarmResult{Job: job, Date: d}

	ids, err := s.store.Stations(ctx, d)
	if err != nil {
		s.metrics.warmRuns.WithLabelValues(job, "error").Inc()
		return res, err
	}
	res.Stations = len(ids)

	var warmed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.warmConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := fn(gctx, id); err != nil {
				failed.Add(1)
				s.metrics.warmStations.WithLabelValues(job, "failed").Inc()
				log.Warn("warmup failed", "station_id", id, "error", err)
				return nil
			}
			warmed.Add(1)
			s.metrics.warmStations.WithLabelValues(job, "warmed").Inc()
			return nil
		})
	}
	err = g.Wait()

	res.Warmed = int(warmed.Load())
	res.Failed = int(failed.Load())
	res.Elapsed = s.clock.Since(start)

	if err != nil {
		s.metrics.warmRuns.WithLabelValues(job, "cancelled").Inc()
		return res, err
	}
	s.metrics.warmRuns.WithLabelValues(job, "ok").Inc()
	log.Info("warmup finished",
		"date", d.String(),
		"stations", res.Stations,
		"warmed", res.Warmed,
		"failed", res.Failed,
		"elapsed", res.Elapsed)
	return res, nil
}

func (s *Service) profileKey(stationID string, asOf types.LocalDate, windowDays int, filter history.Filter) cache.Fingerprint {
	return cache.Fingerprint{
		Kind:      kindProfile,
		StationID: stationID,
		Date:      asOf,
		Params:    []string{strconv.Itoa(windowDays), filter.String()},
	}
}

func (s *Service) weeklyKey(stationID string, asOf types.LocalDate, windowDays int) cache.Fingerprint {
	return cache.Fingerprint{
		Kind:      kindWeekly,
		StationID: stationID,
		Date:      asOf,
		Params:    []string{strconv.Itoa(windowDays)},
	}
}
