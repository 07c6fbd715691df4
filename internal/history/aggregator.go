package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/ecobici-cdmx/dockarchive/config"
	"github.com/ecobici-cdmx/dockarchive/internal/errors"
	"github.com/ecobici-cdmx/dockarchive/internal/logging"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/aggregate"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/partition"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// Reader is the part of the snapshot store the aggregator reads from.
type Reader interface {
	ReadRange(ctx context.Context, stationID string, from, to time.Time) ([]types.Snapshot, error)
}

// DaySource yields the day series a profile is built from. The default
// source is the aggregator's own DayHistory; a caching layer substitutes
// itself so profile windows reuse cached days.
type DaySource func(ctx context.Context, stationID string, d types.LocalDate) (*DaySeries, error)

// Options configures an Aggregator. Zero values select the defaults.
type Options struct {
	Calendar   *partition.Calendar
	Clock      clockwork.Clock
	WindowDays int
	MinDays    int

	// PercentileAccuracy is the DDSketch relative accuracy for P50 and P90.
	// Negative disables percentiles.
	PercentileAccuracy float64

	// Concurrency bounds how many days of a window are fetched at once.
	Concurrency int

	DaySource DaySource
	Logger    *slog.Logger
}

// OptionsFromConfig maps the history config section to Options.
func OptionsFromConfig(cfg config.HistoryConfig) Options {
	return Options{
		WindowDays: cfg.WindowDays,
		MinDays:    cfg.MinDays,
	}
}

// Aggregator computes day series and rolling profiles. It holds no state
// between calls and is safe for concurrent use.
type Aggregator struct {
	reader Reader
	cal    *partition.Calendar
	clock  clockwork.Clock
	opts   Options
	days   DaySource
	log    *slog.Logger
}

// New creates an aggregator reading through reader.
func New(reader Reader, opts Options) (*Aggregator, error) {
	if reader == nil {
		return nil, errors.NewMissingField("reader")
	}
	if opts.Calendar == nil {
		return nil, errors.NewMissingField("calendar")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = config.DefaultProfileWindowDays
	}
	if opts.MinDays <= 0 {
		opts.MinDays = config.DefaultProfileMinDays
	}
	if opts.PercentileAccuracy == 0 {
		opts.PercentileAccuracy = aggregate.DefaultAccuracy
	}
	if opts.PercentileAccuracy >= 1 {
		return nil, errors.NewInvalidArgument("percentile_accuracy", opts.PercentileAccuracy, "must be below 1")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("history")
	}

	a := &Aggregator{
		reader: reader,
		cal:    opts.Calendar,
		clock:  opts.Clock,
		opts:   opts,
		days:   opts.DaySource,
		log:    opts.Logger,
	}
	if a.days == nil {
		a.days = a.DayHistory
	}
	return a, nil
}

// Calendar returns the aggregator's calendar.
func (a *Aggregator) Calendar() *partition.Calendar {
	return a.cal
}

// WindowDays returns the default profile window.
func (a *Aggregator) WindowDays() int {
	return a.opts.WindowDays
}

// DayHistory returns the station's series for local date d. Missing data
// yields absent buckets, not an error.
func (a *Aggregator) DayHistory(ctx context.Context, stationID string, d types.LocalDate) (*DaySeries, error) {
	if stationID == "" {
		return nil, errors.NewMissingField("station_id")
	}
	if d.IsZero() {
		return nil, errors.NewMissingField("date")
	}

	// Read the clock first: a snapshot appended during the read must not
	// land in a bucket that starts after now.
	now := a.clock.Now()

	from, to := a.cal.Bounds(d)
	snaps, err := a.reader.ReadRange(ctx, stationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", stationID, d, err)
	}
	return resample(a.cal, stationID, d, snaps, now), nil
}

// RollingProfile aggregates the windowDays dates before asOf that match
// filter. windowDays <= 0 uses the configured window.
func (a *Aggregator) RollingProfile(ctx context.Context, stationID string, asOf types.LocalDate, windowDays int, filter Filter) (*Profile, error) {
	profiles, err := a.profiles(ctx, stationID, asOf, windowDays, filter)
	if err != nil {
		return nil, err
	}
	return profiles[0], nil
}

// WeeklyProfile computes the weekday and weekend profiles over one window,
// reading each date once.
func (a *Aggregator) WeeklyProfile(ctx context.Context, stationID string, asOf types.LocalDate, windowDays int) (*WeeklyProfile, error) {
	profiles, err := a.profiles(ctx, stationID, asOf, windowDays, FilterWeekday, FilterWeekend)
	if err != nil {
		return nil, err
	}
	return &WeeklyProfile{Weekday: profiles[0], Weekend: profiles[1]}, nil
}

// profiles builds one profile per filter over the same window.
func (a *Aggregator) profiles(ctx context.Context, stationID string, asOf types.LocalDate, windowDays int, filters ...Filter) ([]*Profile, error) {
	if stationID == "" {
		return nil, errors.NewMissingField("station_id")
	}
	if asOf.IsZero() {
		return nil, errors.NewMissingField("as_of")
	}
	if windowDays <= 0 {
		windowDays = a.opts.WindowDays
	}
	for _, f := range filters {
		if _, ok := filterNames[f]; !ok {
			return nil, errors.NewInvalidArgument("filter", int(f), "unknown weekday filter")
		}
	}

	// Dates any filter wants, newest first
	var dates []types.LocalDate
	for k := 1; k <= windowDays; k++ {
		d := asOf.AddDays(-k)
		for _, f := range filters {
			if f.Matches(d) {
				dates = append(dates, d)
				break
			}
		}
	}

	series := make([]*DaySeries, len(dates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i, d := range dates {
		i, d := i, d
		g.Go(func() error {
			s, err := a.days(gctx, stationID, d)
			if err != nil {
				return fmt.Errorf("day %s: %w", d, err)
			}
			series[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*Profile, len(filters))
	for fi, f := range filters {
		grid := aggregate.NewGrid(partition.BucketsPerDay, a.accuracy())
		p := &Profile{
			StationID:  stationID,
			AsOf:       asOf,
			WindowDays: windowDays,
			Filter:     f,
			MinDays:    a.opts.MinDays,
		}

		// Fold in date order so results do not depend on fetch order
		for i, d := range dates {
			if !f.Matches(d) || series[i] == nil {
				continue
			}
			p.DaysMatched++
			if series[i].PresentCount() > 0 {
				p.DaysWithData++
			}
			grid.AddDay(series[i].Values())
		}

		p.Buckets = newProfileBuckets(grid.Results())
		out[fi] = p
	}

	a.log.Debug("profile computed",
		"station_id", stationID,
		"as_of", asOf.String(),
		"window_days", windowDays,
		"dates", len(dates))
	return out, nil
}

func (a *Aggregator) accuracy() float64 {
	if a.opts.PercentileAccuracy < 0 {
		return 0
	}
	return a.opts.PercentileAccuracy
}
