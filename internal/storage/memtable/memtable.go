// Package memtable holds one partition's snapshots in memory, indexed by
// station and sorted by capture time.
package memtable

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ecobici-cdmx/dockarchive/internal/errors"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// Memtable is a thread-safe per-station index over one partition date.
// Readers always get copies; the slices it holds are never exposed.
type Memtable struct {
	mu       sync.RWMutex
	date     types.LocalDate
	stations map[string][]types.Snapshot // ascending by CapturedAt
	count    int64
	readOnly bool

	// Statistics
	insertCount atomic.Int64
	dupCount    atomic.Int64
}

// New creates an empty memtable for date.
func New(date types.LocalDate) *Memtable {
	return &Memtable{
		date:     date,
		stations: make(map[string][]types.Snapshot),
	}
}

// Load builds a memtable from snapshots in any order. Duplicate identities
// keep the first occurrence; the number dropped is returned.
func Load(date types.LocalDate, snapshots []types.Snapshot) (*Memtable, int) {
	m := New(date)

	for i := range snapshots {
		s := snapshots[i]
		m.stations[s.StationID] = append(m.stations[s.StationID], s)
	}

	dropped := 0
	for id, series := range m.stations {
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].CapturedAt.Before(series[j].CapturedAt)
		})
		out := series[:0]
		for i := range series {
			if len(out) > 0 && out[len(out)-1].CapturedAt.Equal(series[i].CapturedAt) {
				dropped++
				continue
			}
			out = append(out, series[i])
		}
		m.stations[id] = out
		m.count += int64(len(out))
	}

	m.dupCount.Add(int64(dropped))
	return m, dropped
}

// Date returns the partition date.
func (m *Memtable) Date() types.LocalDate {
	return m.date
}

// Freeze makes the memtable read-only. Further inserts fail with
// ErrPartitionSealed.
func (m *Memtable) Freeze() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnly = true
}

// Contains reports whether a snapshot with this identity exists.
func (m *Memtable) Contains(stationID string, capturedAt time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series := m.stations[stationID]
	i := search(series, capturedAt)
	return i < len(series) && series[i].CapturedAt.Equal(capturedAt)
}

// Insert adds s at its sorted position. In-order arrivals take the append
// fast path.
func (m *Memtable) Insert(s types.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.readOnly {
		return errors.NewPartitionSealed(m.date.String())
	}

	series := m.stations[s.StationID]
	n := len(series)

	if n == 0 || series[n-1].CapturedAt.Before(s.CapturedAt) {
		m.stations[s.StationID] = append(series, s)
	} else {
		i := search(series, s.CapturedAt)
		if i < n && series[i].CapturedAt.Equal(s.CapturedAt) {
			m.dupCount.Add(1)
			return errors.NewDuplicateKey(s.Key())
		}
		series = append(series, types.Snapshot{})
		copy(series[i+1:], series[i:])
		series[i] = s
		m.stations[s.StationID] = series
	}

	m.count++
	m.insertCount.Add(1)
	return nil
}

// Latest returns the station's most recent snapshot.
func (m *Memtable) Latest(stationID string) (types.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series := m.stations[stationID]
	if len(series) == 0 {
		return types.Snapshot{}, false
	}
	return series[len(series)-1], true
}

// Range returns the station's snapshots with from <= CapturedAt < to,
// oldest first.
func (m *Memtable) Range(stationID string, from, to time.Time) []types.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series := m.stations[stationID]
	lo := search(series, from)
	hi := search(series, to)
	if lo >= hi {
		return nil
	}

	out := make([]types.Snapshot, hi-lo)
	copy(out, series[lo:hi])
	return out
}

// Nearest returns the newest snapshot with CapturedAt <= at and
// at - CapturedAt <= lookback.
func (m *Memtable) Nearest(stationID string, at time.Time, lookback time.Duration) (types.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series := m.stations[stationID]
	// First index strictly after at
	i := sort.Search(len(series), func(i int) bool {
		return series[i].CapturedAt.After(at)
	})
	if i == 0 {
		return types.Snapshot{}, false
	}

	s := series[i-1]
	if at.Sub(s.CapturedAt) > lookback {
		return types.Snapshot{}, false
	}
	return s, true
}

// Stations returns the station ids present, sorted.
func (m *Memtable) Stations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.stations))
	for id, series := range m.stations {
		if len(series) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// All returns every snapshot ordered by station then capture time, the
// order sealed files are written in.
func (m *Memtable) All() []types.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.stations))
	for id := range m.stations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]types.Snapshot, 0, m.count)
	for _, id := range ids {
		out = append(out, m.stations[id]...)
	}
	return out
}

// Len returns the number of snapshots held.
func (m *Memtable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int(m.count)
}

// TimeRange returns the oldest and newest capture instants across all
// stations. Both are zero when the memtable is empty.
func (m *Memtable) TimeRange() (oldest, newest time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, series := range m.stations {
		if len(series) == 0 {
			continue
		}
		first, last := series[0].CapturedAt, series[len(series)-1].CapturedAt
		if oldest.IsZero() || first.Before(oldest) {
			oldest = first
		}
		if last.After(newest) {
			newest = last
		}
	}
	return oldest, newest
}

// Stats returns memtable statistics.
func (m *Memtable) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{
		Date:        m.date,
		Stations:    len(m.stations),
		Count:       int(m.count),
		ReadOnly:    m.readOnly,
		InsertCount: m.insertCount.Load(),
		DupCount:    m.dupCount.Load(),
	}
}

// Stats holds memtable statistics.
type Stats struct {
	Date        types.LocalDate
	Stations    int
	Count       int
	ReadOnly    bool
	InsertCount int64
	DupCount    int64
}

// search returns the first index with CapturedAt >= t.
func search(series []types.Snapshot, t time.Time) int {
	return sort.Search(len(series), func(i int) bool {
		return !series[i].CapturedAt.Before(t)
	})
}
