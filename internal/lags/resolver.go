package lags

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/ecobici-cdmx/dockarchive/config"
	"github.com/ecobici-cdmx/dockarchive/internal/errors"
	"github.com/ecobici-cdmx/dockarchive/internal/logging"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// Reader is the part of the snapshot store the resolver reads from.
type Reader interface {
	ReadNearest(ctx context.Context, stationID string, at time.Time, maxLookback time.Duration) (types.Snapshot, bool, error)
	Latest(ctx context.Context, stationID string) (types.Snapshot, bool, error)
}

// Options configures a Resolver. Zero values select the defaults.
type Options struct {
	Lookback       time.Duration
	Fallback       string
	MaxFallbackAge time.Duration
	Offsets        []int
	Concurrency    int
	Logger         *slog.Logger
	Registerer     prometheus.Registerer
}

// OptionsFromConfig maps the lags config section to Options.
func OptionsFromConfig(cfg config.LagsConfig) Options {
	return Options{
		Lookback:       cfg.Lookback,
		Fallback:       cfg.Fallback,
		MaxFallbackAge: cfg.MaxFallbackAge,
		Offsets:        cfg.Offsets,
		Concurrency:    cfg.Concurrency,
	}
}

// Resolver answers lag lookups. It is stateless apart from its metrics and
// safe for concurrent use.
type Resolver struct {
	reader  Reader
	opts    Options
	log     *slog.Logger
	lookups *prometheus.CounterVec
}

// Lookup outcomes, used as the "outcome" label.
const (
	outcomeFound    = "found"
	outcomeFallback = "fallback"
	outcomeNoData   = "no_data"
)

// New creates a resolver over reader.
func New(reader Reader, opts Options) (*Resolver, error) {
	if opts.Lookback == 0 {
		opts.Lookback = config.DefaultLagLookback
	}
	if opts.Lookback < 0 {
		return nil, errors.NewInvalidArgument("lookback", opts.Lookback, "must be non-negative")
	}
	if opts.Fallback == "" {
		opts.Fallback = config.DefaultLagFallback
	}
	if opts.Fallback != config.FallbackCurrent && opts.Fallback != config.FallbackNone {
		return nil, errors.NewInvalidArgument("fallback", opts.Fallback, "must be current or none")
	}
	if len(opts.Offsets) == 0 {
		opts.Offsets = config.DefaultLagOffsets
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = config.DefaultLagConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("lags")
	}

	r := &Resolver{
		reader: reader,
		opts:   opts,
		log:    opts.Logger,
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dockarchive",
			Subsystem: "lags",
			Name:      "lookups_total",
			Help:      "Lag lookups by outcome.",
		}, []string{"outcome"}),
	}

	if opts.Registerer != nil {
		if err := opts.Registerer.Register(r.lookups); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return r, nil
}

// Lookback returns the configured lookback window.
func (r *Resolver) Lookback() time.Duration {
	return r.opts.Lookback
}

// DefaultOffsets returns the offsets used when a request names none.
func (r *Resolver) DefaultOffsets() []int {
	out := make([]int, len(r.opts.Offsets))
	copy(out, r.opts.Offsets)
	return out
}

// Resolve returns one Lag per distinct offset (minutes before target). A nil
// or empty offsets slice resolves the default offsets. It fails with
// ErrNoData when the station has no snapshot to offer for some offset.
func (r *Resolver) Resolve(ctx context.Context, stationID string, target time.Time, offsets []int) (*Result, error) {
	if stationID == "" {
		return nil, errors.NewMissingField("station_id")
	}
	if len(offsets) == 0 {
		offsets = r.opts.Offsets
	}

	distinct, err := normalizeOffsets(offsets)
	if err != nil {
		return nil, err
	}

	target = target.UTC()
	lags := make([]Lag, len(distinct))
	found := make([]bool, len(distinct))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, o := range distinct {
		i, o := i, o
		g.Go(func() error {
			at := target.Add(-time.Duration(o) * time.Minute)
			snap, ok, err := r.reader.ReadNearest(gctx, stationID, at, r.opts.Lookback)
			if err != nil {
				return fmt.Errorf("lag %d: %w", o, err)
			}
			lags[i] = Lag{Offset: o, Target: at}
			if ok {
				lags[i].fill(snap)
				found[i] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{
		StationID: stationID,
		Target:    target,
		Lags:      make(map[int]Lag, len(distinct)),
	}

	var fallback *types.Snapshot
	for i := range lags {
		if found[i] {
			r.lookups.WithLabelValues(outcomeFound).Inc()
			result.Lags[lags[i].Offset] = lags[i]
			continue
		}

		if fallback == nil {
			snap, err := r.fallback(ctx, stationID, target)
			if err != nil {
				r.lookups.WithLabelValues(outcomeNoData).Inc()
				return nil, err
			}
			fallback = &snap
		}

		lags[i].fill(*fallback)
		lags[i].IsFallback = true
		r.lookups.WithLabelValues(outcomeFallback).Inc()
		result.Lags[lags[i].Offset] = lags[i]
	}

	if fallback != nil {
		r.log.Debug("lag fallback used",
			"station_id", stationID,
			"target", target,
			"fallbacks", result.FallbackCount(),
			"captured_at", fallback.CapturedAt)
	}
	return result, nil
}

// fallback returns the snapshot substituted for a lag with no snapshot in
// its window.
func (r *Resolver) fallback(ctx context.Context, stationID string, target time.Time) (types.Snapshot, error) {
	if r.opts.Fallback == config.FallbackNone {
		return types.Snapshot{}, fmt.Errorf("%w: no snapshot within %s", errors.NewNoData(stationID), r.opts.Lookback)
	}

	snap, ok, err := r.reader.Latest(ctx, stationID)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("latest: %w", err)
	}
	if !ok {
		return types.Snapshot{}, errors.NewNoData(stationID)
	}

	if r.opts.MaxFallbackAge > 0 && target.Sub(snap.CapturedAt) > r.opts.MaxFallbackAge {
		return types.Snapshot{}, fmt.Errorf("%w: latest snapshot at %s is older than %s",
			errors.NewNoData(stationID), snap.CapturedAt.Format(time.RFC3339), r.opts.MaxFallbackAge)
	}
	return snap, nil
}

// normalizeOffsets rejects negative offsets and collapses duplicates,
// returning them ascending.
func normalizeOffsets(offsets []int) ([]int, error) {
	seen := make(map[int]struct{}, len(offsets))
	out := make([]int, 0, len(offsets))
	for _, o := range offsets {
		if o < 0 {
			return nil, errors.NewInvalidArgument("offset", o, "must be non-negative")
		}
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	sort.Ints(out)
	return out, nil
}
