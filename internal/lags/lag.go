package lags

import (
	"sort"
	"strconv"
	"time"

	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// Lag is the station state at one offset.
type Lag struct {
	Offset     int       // minutes before the target
	Target     time.Time // target - offset, UTC
	Value      int32     // bikes available
	Capacity   int32
	CapturedAt time.Time // capture instant of the snapshot used
	IsFallback bool      // substituted, not observed within the lookback
}

func (l *Lag) fill(s types.Snapshot) {
	l.Value = s.BikesAvailable
	l.Capacity = s.Capacity
	l.CapturedAt = s.CapturedAt
}

// Staleness returns how far the snapshot used lies before the lag target.
// It is negative for a fallback newer than the target.
func (l Lag) Staleness() time.Duration {
	return l.Target.Sub(l.CapturedAt)
}

// Occupancy returns bikes over capacity. ok is false when capacity is not
// positive.
func (l Lag) Occupancy() (float64, bool) {
	if l.Capacity <= 0 {
		return 0, false
	}
	return float64(l.Value) / float64(l.Capacity), true
}

// Result holds the lags of one request.
type Result struct {
	StationID string
	Target    time.Time
	Lags      map[int]Lag
}

// Offsets returns the resolved offsets, ascending.
func (r *Result) Offsets() []int {
	out := make([]int, 0, len(r.Lags))
	for o := range r.Lags {
		out = append(out, o)
	}
	sort.Ints(out)
	return out
}

// FallbackCount returns how many lags were substituted.
func (r *Result) FallbackCount() int {
	n := 0
	for _, l := range r.Lags {
		if l.IsFallback {
			n++
		}
	}
	return n
}

// Features returns the bike counts keyed by model feature name.
func (r *Result) Features() map[string]int32 {
	out := make(map[string]int32, len(r.Lags))
	for o, l := range r.Lags {
		out[FeatureName(o)] = l.Value
	}
	return out
}

// OccupancyFeatures returns occupancy keyed by model feature name. Lags
// without a usable capacity are left out.
func (r *Result) OccupancyFeatures() map[string]float64 {
	out := make(map[string]float64, len(r.Lags))
	for o, l := range r.Lags {
		if v, ok := l.Occupancy(); ok {
			out[OccupancyFeatureName(o)] = v
		}
	}
	return out
}

// FeatureName names the bikes-available feature of an offset. Multiples of
// ten minutes are counted in ten-minute steps (60 minutes is lag_6); any
// other offset is named in minutes (lag_5m), so names never collide.
func FeatureName(offset int) string {
	return "num_bikes_available_lag_" + lagSuffix(offset)
}

// OccupancyFeatureName names the occupancy feature of an offset; offset 0 is
// the current occupancy.
func OccupancyFeatureName(offset int) string {
	if offset == 0 {
		return "ocu"
	}
	return "ocu_lag_" + lagSuffix(offset)
}

func lagSuffix(offset int) string {
	if offset%10 == 0 {
		return strconv.Itoa(offset / 10)
	}
	return strconv.Itoa(offset) + "m"
}
