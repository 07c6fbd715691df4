package history

import (
	"time"

	"github.com/ecobici-cdmx/dockarchive/internal/storage/partition"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// Bucket is one ten-minute slot of a day series. When Present is false the
// count fields are meaningless and must not be read as zero.
type Bucket struct {
	Index     int
	Start     time.Time // UTC
	TimeOfDay string    // local "HH:MM"
	Present   bool

	CapturedAt     time.Time // snapshot carried into this bucket
	BikesAvailable int32
	BikesDisabled  int32
	DocksAvailable int32
	DocksDisabled  int32
	Capacity       int32
	IsInstalled    bool
	IsRenting      bool
	IsReturning    bool
}

func (b *Bucket) fill(snap *types.Snapshot) {
	b.Present = true
	b.CapturedAt = snap.CapturedAt
	b.BikesAvailable = snap.BikesAvailable
	b.BikesDisabled = snap.BikesDisabled
	b.DocksAvailable = snap.DocksAvailable
	b.DocksDisabled = snap.DocksDisabled
	b.Capacity = snap.Capacity
	b.IsInstalled = snap.IsInstalled
	b.IsRenting = snap.IsRenting
	b.IsReturning = snap.IsReturning
}

// DaySeries is one station's local date resampled to fixed buckets.
type DaySeries struct {
	StationID string
	Date      types.LocalDate
	Cadence   time.Duration
	Sealed    bool // date was finalized when the series was built
	Snapshots int  // raw snapshots read for the date
	Buckets   []Bucket
}

// PresentCount returns how many buckets hold a value.
func (s *DaySeries) PresentCount() int {
	n := 0
	for i := range s.Buckets {
		if s.Buckets[i].Present {
			n++
		}
	}
	return n
}

// Values returns available bikes per bucket, nil where the bucket is
// absent.
func (s *DaySeries) Values() []*float64 {
	out := make([]*float64, len(s.Buckets))
	for i := range s.Buckets {
		if s.Buckets[i].Present {
			v := float64(s.Buckets[i].BikesAvailable)
			out[i] = &v
		}
	}
	return out
}

// resample carries snapshots (ascending, all within d) forward onto the
// bucket starts of d. Buckets starting after now stay absent.
func resample(cal *partition.Calendar, stationID string, d types.LocalDate, snaps []types.Snapshot, now time.Time) *DaySeries {
	n := partition.BucketCount(partition.BucketCadence)
	series := &DaySeries{
		StationID: stationID,
		Date:      d,
		Cadence:   partition.BucketCadence,
		Sealed:    cal.IsFinalized(d, now),
		Snapshots: len(snaps),
		Buckets:   make([]Bucket, n),
	}

	var cur *types.Snapshot
	j := 0
	for i := 0; i < n; i++ {
		b := &series.Buckets[i]
		b.Index = i
		b.Start = cal.BucketStart(d, i, partition.BucketCadence)
		b.TimeOfDay = partition.TimeOfDay(i, partition.BucketCadence)

		for j < len(snaps) && !snaps[j].CapturedAt.After(b.Start) {
			cur = &snaps[j]
			j++
		}
		if cur == nil || b.Start.After(now) {
			continue
		}
		b.fill(cur)
	}
	return series
}
