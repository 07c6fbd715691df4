package history

import (
	"context"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ecobici-cdmx/dockarchive/internal/errors"
	"github.com/ecobici-cdmx/dockarchive/internal/logging"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/partition"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

var mexicoCity = mustLoad("America/Mexico_City")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func local(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, mexicoCity).UTC()
}

// memReader serves ReadRange from memory and counts calls.
type memReader struct {
	mu    sync.Mutex
	snaps map[string][]types.Snapshot
	calls int
	err   error
}

func newMemReader() *memReader {
	return &memReader{snaps: make(map[string][]types.Snapshot)}
}

func (r *memReader) add(id string, at time.Time, bikes int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps[id] = append(r.snaps[id], types.Snapshot{
		StationID:      id,
		CapturedAt:     at,
		BikesAvailable: bikes,
		DocksAvailable: 20 - bikes,
		Capacity:       20,
		IsInstalled:    true,
		IsRenting:      true,
		IsReturning:    true,
	})
	sort.Slice(r.snaps[id], func(i, j int) bool {
		return r.snaps[id][i].CapturedAt.Before(r.snaps[id][j].CapturedAt)
	})
}

func (r *memReader) ReadRange(ctx context.Context, id string, from, to time.Time) ([]types.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	out := []types.Snapshot{}
	for _, s := range r.snaps[id] {
		if !s.CapturedAt.Before(from) && s.CapturedAt.Before(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memReader) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestAggregator(t *testing.T, reader Reader, now time.Time) *Aggregator {
	t.Helper()
	a, err := New(reader, Options{
		Calendar: partition.NewCalendar(mexicoCity, 15*time.Minute),
		Clock:    clockwork.NewFakeClockAt(now),
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestDayHistoryCarryForward(t *testing.T) {
	r := newMemReader()
	r.add("42", local(2026, 3, 10, 0, 3), 5)
	r.add("42", local(2026, 3, 10, 0, 17), 3)
	r.add("42", local(2026, 3, 9, 23, 58), 9) // previous date, never carried over

	a := newTestAggregator(t, r, local(2026, 3, 12, 9, 0))
	series, err := a.DayHistory(context.Background(), "42", types.LocalDate{Year: 2026, Month: 3, Day: 10})
	if err != nil {
		t.Fatalf("DayHistory: %v", err)
	}

	if len(series.Buckets) != partition.BucketsPerDay {
		t.Fatalf("buckets = %d, want %d", len(series.Buckets), partition.BucketsPerDay)
	}
	if !series.Sealed {
		t.Error("past date should be sealed")
	}
	if series.Snapshots != 2 {
		t.Errorf("Snapshots = %d, want 2", series.Snapshots)
	}

	if series.Buckets[0].Present {
		t.Errorf("00:00 bucket present with %d bikes, want absent", series.Buckets[0].BikesAvailable)
	}
	if b := series.Buckets[1]; !b.Present || b.BikesAvailable != 5 || b.TimeOfDay != "00:10" {
		t.Errorf("00:10 bucket = %+v, want 5 bikes", b)
	}
	if b := series.Buckets[2]; !b.Present || b.BikesAvailable != 3 {
		t.Errorf("00:20 bucket = %+v, want 3 bikes", b)
	}
	if b := series.Buckets[143]; !b.Present || b.BikesAvailable != 3 || b.TimeOfDay != "23:50" {
		t.Errorf("23:50 bucket = %+v, want 3 bikes carried", b)
	}
	if got := series.PresentCount(); got != 143 {
		t.Errorf("PresentCount = %d, want 143", got)
	}
	if !series.Buckets[1].CapturedAt.Equal(local(2026, 3, 10, 0, 3)) {
		t.Errorf("00:10 CapturedAt = %v", series.Buckets[1].CapturedAt)
	}
}

func TestDayHistoryFullDay(t *testing.T) {
	r := newMemReader()
	for i := 0; i < partition.BucketsPerDay; i++ {
		r.add("7", local(2026, 3, 10, 0, i*10), int32(i%20))
	}

	a := newTestAggregator(t, r, local(2026, 3, 11, 12, 0))
	series, err := a.DayHistory(context.Background(), "7", types.LocalDate{Year: 2026, Month: 3, Day: 10})
	if err != nil {
		t.Fatalf("DayHistory: %v", err)
	}

	if got := series.PresentCount(); got != partition.BucketsPerDay {
		t.Fatalf("PresentCount = %d, want %d", got, partition.BucketsPerDay)
	}
	for i, b := range series.Buckets {
		if b.BikesAvailable != int32(i%20) {
			t.Fatalf("bucket %d = %d bikes, want %d", i, b.BikesAvailable, i%20)
		}
		if !b.Start.Equal(local(2026, 3, 10, 0, i*10)) {
			t.Fatalf("bucket %d start = %v", i, b.Start)
		}
	}

	values := series.Values()
	if values[10] == nil || *values[10] != 10 {
		t.Errorf("Values()[10] = %v, want 10", values[10])
	}
}

func TestDayHistoryToday(t *testing.T) {
	r := newMemReader()
	r.add("42", local(2026, 3, 10, 0, 0), 4)
	r.add("42", local(2026, 3, 10, 0, 30), 6)

	a := newTestAggregator(t, r, local(2026, 3, 10, 1, 5))
	series, err := a.DayHistory(context.Background(), "42", types.LocalDate{Year: 2026, Month: 3, Day: 10})
	if err != nil {
		t.Fatalf("DayHistory: %v", err)
	}

	if series.Sealed {
		t.Error("today should not be sealed")
	}
	// 00:00 through 01:00 have started
	if got := series.PresentCount(); got != 7 {
		t.Errorf("PresentCount = %d, want 7", got)
	}
	if b := series.Buckets[6]; !b.Present || b.BikesAvailable != 6 {
		t.Errorf("01:00 bucket = %+v, want 6 bikes", b)
	}
	if series.Buckets[7].Present {
		t.Error("01:10 bucket starts after now, want absent")
	}
}

func TestDayHistoryNoData(t *testing.T) {
	a := newTestAggregator(t, newMemReader(), local(2026, 3, 12, 0, 0))
	series, err := a.DayHistory(context.Background(), "missing", types.LocalDate{Year: 2026, Month: 3, Day: 10})
	if err != nil {
		t.Fatalf("DayHistory: %v", err)
	}
	if got := series.PresentCount(); got != 0 {
		t.Errorf("PresentCount = %d, want 0", got)
	}
	for _, v := range series.Values() {
		if v != nil {
			t.Fatal("absent bucket produced a value")
		}
	}
}

func TestDayHistoryErrors(t *testing.T) {
	r := newMemReader()
	a := newTestAggregator(t, r, local(2026, 3, 12, 0, 0))
	ctx := context.Background()
	d := types.LocalDate{Year: 2026, Month: 3, Day: 10}

	if _, err := a.DayHistory(ctx, "", d); !errors.IsValidation(err) {
		t.Errorf("empty station: got %v, want validation error", err)
	}
	if _, err := a.DayHistory(ctx, "42", types.LocalDate{}); !errors.IsValidation(err) {
		t.Errorf("zero date: got %v, want validation error", err)
	}

	boom := errors.New("disk on fire")
	r.err = boom
	if _, err := a.DayHistory(ctx, "42", d); !errors.Is(err, boom) {
		t.Errorf("reader failure: got %v, want %v", err, boom)
	}
}

func TestRollingProfileSkipsAbsentDays(t *testing.T) {
	r := newMemReader()
	asOf := types.LocalDate{Year: 2026, Month: 3, Day: 31}
	// Data on the 20 most recent days only, one snapshot at 10:00
	for k := 1; k <= 20; k++ {
		d := asOf.AddDays(-k)
		r.add("42", local(d.Year, d.Month, d.Day, 10, 0), int32(k))
	}

	a := newTestAggregator(t, r, local(2026, 3, 31, 12, 0))
	p, err := a.RollingProfile(context.Background(), "42", asOf, 30, FilterAll)
	if err != nil {
		t.Fatalf("RollingProfile: %v", err)
	}

	if p.DaysMatched != 30 {
		t.Errorf("DaysMatched = %d, want 30", p.DaysMatched)
	}
	if p.DaysWithData != 20 {
		t.Errorf("DaysWithData = %d, want 20", p.DaysWithData)
	}
	if len(p.Buckets) != partition.BucketsPerDay {
		t.Fatalf("buckets = %d", len(p.Buckets))
	}

	before := p.Buckets[59]
	if before.SampleCount != 0 || before.P50 != nil {
		t.Errorf("09:50 bucket = %+v, want no samples", before)
	}

	b := p.Buckets[60]
	if b.TimeOfDay != "10:00" {
		t.Errorf("TimeOfDay = %q", b.TimeOfDay)
	}
	if b.SampleCount != 20 {
		t.Errorf("SampleCount = %d, want 20", b.SampleCount)
	}
	if math.Abs(b.Mean-10.5) > 1e-9 {
		t.Errorf("Mean = %v, want 10.5", b.Mean)
	}
	if want := math.Sqrt(399.0 / 12.0); math.Abs(b.StdDev-want) > 1e-9 {
		t.Errorf("StdDev = %v, want %v", b.StdDev, want)
	}
	if b.Min != 1 || b.Max != 20 {
		t.Errorf("Min/Max = %v/%v, want 1/20", b.Min, b.Max)
	}
	if b.P50 == nil || b.P90 == nil {
		t.Fatal("percentiles missing")
	}
	if math.Abs(*b.P90-18) > 1 {
		t.Errorf("P90 = %v, want about 18", *b.P90)
	}

	// Carried forward to the end of each day
	if p.Buckets[143].SampleCount != 20 {
		t.Errorf("23:50 SampleCount = %d, want 20", p.Buckets[143].SampleCount)
	}

	if !b.LowConfidence(21) || b.LowConfidence(20) {
		t.Error("LowConfidence threshold wrong")
	}
	if got := p.LowConfidenceCount(); got != 60 {
		t.Errorf("LowConfidenceCount = %d, want 60", got)
	}
}

// weekFixture puts 1 bike on weekdays and 7 on weekends at midnight for the
// 14 days before Monday 2026-03-16.
func weekFixture() (*memReader, types.LocalDate) {
	r := newMemReader()
	asOf := types.LocalDate{Year: 2026, Month: 3, Day: 16}
	for k := 1; k <= 14; k++ {
		d := asOf.AddDays(-k)
		bikes := int32(1)
		if d.IsWeekend() {
			bikes = 7
		}
		r.add("42", local(d.Year, d.Month, d.Day, 0, 0), bikes)
	}
	return r, asOf
}

func TestRollingProfileFilters(t *testing.T) {
	r, asOf := weekFixture()
	a := newTestAggregator(t, r, local(2026, 3, 16, 8, 0))

	tests := []struct {
		filter  Filter
		matched int
		mean    float64
	}{
		{FilterAll, 14, (10*1.0 + 4*7.0) / 14},
		{FilterWeekday, 10, 1},
		{FilterWeekend, 4, 7},
		{FilterMonday, 2, 1},
		{FilterSaturday, 2, 7},
	}

	for _, tt := range tests {
		t.Run(tt.filter.String(), func(t *testing.T) {
			p, err := a.RollingProfile(context.Background(), "42", asOf, 14, tt.filter)
			if err != nil {
				t.Fatalf("RollingProfile: %v", err)
			}
			if p.DaysMatched != tt.matched {
				t.Errorf("DaysMatched = %d, want %d", p.DaysMatched, tt.matched)
			}
			b := p.Buckets[0]
			if b.SampleCount != int64(tt.matched) {
				t.Errorf("SampleCount = %d, want %d", b.SampleCount, tt.matched)
			}
			if math.Abs(b.Mean-tt.mean) > 1e-9 {
				t.Errorf("Mean = %v, want %v", b.Mean, tt.mean)
			}
		})
	}
}

func TestRollingProfileDefaultWindow(t *testing.T) {
	a := newTestAggregator(t, newMemReader(), local(2026, 3, 16, 8, 0))
	p, err := a.RollingProfile(context.Background(), "42", types.LocalDate{Year: 2026, Month: 3, Day: 16}, 0, FilterAll)
	if err != nil {
		t.Fatalf("RollingProfile: %v", err)
	}
	if p.WindowDays != 30 || p.DaysMatched != 30 || p.DaysWithData != 0 {
		t.Errorf("profile = window %d matched %d with data %d, want 30/30/0", p.WindowDays, p.DaysMatched, p.DaysWithData)
	}
}

func TestWeeklyProfileReadsEachDateOnce(t *testing.T) {
	r, asOf := weekFixture()
	a := newTestAggregator(t, r, local(2026, 3, 16, 8, 0))

	w, err := a.WeeklyProfile(context.Background(), "42", asOf, 14)
	if err != nil {
		t.Fatalf("WeeklyProfile: %v", err)
	}
	if got := r.Calls(); got != 14 {
		t.Errorf("reader calls = %d, want 14", got)
	}
	if w.Weekday.Filter != FilterWeekday || w.Weekday.Buckets[0].Mean != 1 {
		t.Errorf("weekday profile = %v mean %v", w.Weekday.Filter, w.Weekday.Buckets[0].Mean)
	}
	if w.Weekend.Filter != FilterWeekend || w.Weekend.Buckets[0].Mean != 7 {
		t.Errorf("weekend profile = %v mean %v", w.Weekend.Filter, w.Weekend.Buckets[0].Mean)
	}
}

func TestRollingProfileDaySource(t *testing.T) {
	cal := partition.NewCalendar(mexicoCity, 15*time.Minute)
	now := local(2026, 3, 16, 8, 0)

	var mu sync.Mutex
	seen := make(map[types.LocalDate]int)
	src := func(ctx context.Context, id string, d types.LocalDate) (*DaySeries, error) {
		mu.Lock()
		seen[d]++
		mu.Unlock()
		snaps := []types.Snapshot{{StationID: id, CapturedAt: local(d.Year, d.Month, d.Day, 0, 0), BikesAvailable: 3}}
		return resample(cal, id, d, snaps, now), nil
	}

	a, err := New(newMemReader(), Options{
		Calendar:  cal,
		Clock:     clockwork.NewFakeClockAt(now),
		DaySource: src,
		Logger:    logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p, err := a.RollingProfile(context.Background(), "42", types.LocalDate{Year: 2026, Month: 3, Day: 16}, 5, FilterAll)
	if err != nil {
		t.Fatalf("RollingProfile: %v", err)
	}
	if len(seen) != 5 {
		t.Errorf("day source saw %d dates, want 5", len(seen))
	}
	if p.Buckets[0].Mean != 3 || p.Buckets[0].SampleCount != 5 {
		t.Errorf("bucket 0 = %+v", p.Buckets[0])
	}
}

func TestRollingProfileErrors(t *testing.T) {
	r := newMemReader()
	a := newTestAggregator(t, r, local(2026, 3, 16, 8, 0))
	ctx := context.Background()
	asOf := types.LocalDate{Year: 2026, Month: 3, Day: 16}

	if _, err := a.RollingProfile(ctx, "", asOf, 30, FilterAll); !errors.IsValidation(err) {
		t.Errorf("empty station: got %v", err)
	}
	if _, err := a.RollingProfile(ctx, "42", asOf, 30, Filter(99)); !errors.IsValidation(err) {
		t.Errorf("bad filter: got %v", err)
	}

	boom := errors.New("read failed")
	r.err = boom
	if _, err := a.RollingProfile(ctx, "42", asOf, 30, FilterAll); !errors.Is(err, boom) {
		t.Errorf("reader failure: got %v, want %v", err, boom)
	}
}

func TestPercentilesDisabled(t *testing.T) {
	r, asOf := weekFixture()
	a, err := New(r, Options{
		Calendar:           partition.NewCalendar(mexicoCity, 15*time.Minute),
		Clock:              clockwork.NewFakeClockAt(local(2026, 3, 16, 8, 0)),
		PercentileAccuracy: -1,
		Logger:             logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p, err := a.RollingProfile(context.Background(), "42", asOf, 14, FilterAll)
	if err != nil {
		t.Fatalf("RollingProfile: %v", err)
	}
	if p.Buckets[0].P50 != nil {
		t.Error("P50 set with percentiles disabled")
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		in      string
		want    Filter
		wantErr bool
	}{
		{"", FilterAll, false},
		{"all", FilterAll, false},
		{"Weekday", FilterWeekday, false},
		{"weekend", FilterWeekend, false},
		{"monday", FilterMonday, false},
		{"lunes", FilterMonday, false},
		{"Miércoles", FilterWednesday, false},
		{"miercoles", FilterWednesday, false},
		{"sábado", FilterSaturday, false},
		{"domingo", FilterSunday, false},
		{"someday", FilterAll, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFilter(tt.in)
			if tt.wantErr {
				if !errors.IsValidation(err) {
					t.Fatalf("ParseFilter(%q) error = %v, want validation error", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFilter(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseFilter(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFilterMatches(t *testing.T) {
	monday := types.LocalDate{Year: 2026, Month: 3, Day: 16}
	sunday := types.LocalDate{Year: 2026, Month: 3, Day: 15}

	if !FilterWeekday.Matches(monday) || FilterWeekday.Matches(sunday) {
		t.Error("FilterWeekday")
	}
	if FilterWeekend.Matches(monday) || !FilterWeekend.Matches(sunday) {
		t.Error("FilterWeekend")
	}
	if !ForWeekday(time.Sunday).Matches(sunday) || ForWeekday(time.Sunday).Matches(monday) {
		t.Error("ForWeekday(Sunday)")
	}
	if wd, ok := FilterFriday.Weekday(); !ok || wd != time.Friday {
		t.Errorf("FilterFriday.Weekday() = %v, %v", wd, ok)
	}
	if _, ok := FilterWeekend.Weekday(); ok {
		t.Error("FilterWeekend names no single weekday")
	}
}
