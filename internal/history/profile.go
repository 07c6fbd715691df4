package history

import (
	"github.com/ecobici-cdmx/dockarchive/internal/storage/partition"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// ProfileBucket holds the statistics of one time-of-day bucket across the
// days of a window. StdDev is the population standard deviation.
// P50 and P90 are nil when SampleCount is zero or percentiles are disabled.
type ProfileBucket struct {
	Index       int
	TimeOfDay   string
	SampleCount int64
	Mean        float64
	StdDev      float64
	Min         float64
	Max         float64
	P50         *float64
	P90         *float64
}

// LowConfidence reports whether the bucket has fewer than minDays samples.
func (b *ProfileBucket) LowConfidence(minDays int) bool {
	return b.SampleCount < int64(minDays)
}

// Profile is a station's rolling daily profile as of a date.
type Profile struct {
	StationID    string
	AsOf         types.LocalDate
	WindowDays   int
	Filter       Filter
	DaysMatched  int // window dates passing the filter
	DaysWithData int // matched dates with at least one present bucket
	MinDays      int
	Buckets      []ProfileBucket
}

// LowConfidenceCount returns how many buckets fall below MinDays samples.
func (p *Profile) LowConfidenceCount() int {
	n := 0
	for i := range p.Buckets {
		if p.Buckets[i].LowConfidence(p.MinDays) {
			n++
		}
	}
	return n
}

// WeeklyProfile pairs the Monday to Friday and weekend profiles computed
// over the same window.
type WeeklyProfile struct {
	Weekday *Profile
	Weekend *Profile
}

func newProfileBuckets(stats []types.BucketStats) []ProfileBucket {
	out := make([]ProfileBucket, len(stats))
	for i, st := range stats {
		out[i] = ProfileBucket{
			Index:       i,
			TimeOfDay:   partition.TimeOfDay(i, partition.BucketCadence),
			SampleCount: st.Count,
			Mean:        st.Mean,
			StdDev:      st.StdDev,
			Min:         st.Min,
			Max:         st.Max,
			P50:         st.P50,
			P90:         st.P90,
		}
	}
	return out
}
