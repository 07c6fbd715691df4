package aggregate

import (
	"sync"

	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// Grid holds one StreamingAggregate per time-of-day bucket. A rolling
// profile feeds it one day at a time.
type Grid struct {
	mu sync.Mutex

	buckets []*StreamingAggregate

	// Statistics
	stats GridStats
}

// GridStats holds statistics for a grid.
type GridStats struct {
	Buckets         int
	ValuesProcessed int64
	DaysProcessed   int64
	OutOfRange      int64
}

// NewGrid creates a grid of n buckets. accuracy <= 0 disables percentiles.
func NewGrid(n int, accuracy float64) *Grid {
	g := &Grid{
		buckets: make([]*StreamingAggregate, n),
	}
	for i := range g.buckets {
		if accuracy > 0 {
			g.buckets[i] = NewWithAccuracy(accuracy)
		} else {
			g.buckets[i] = New(false)
		}
	}
	g.stats.Buckets = n
	return g
}

// Add records value in bucket i. Indexes outside the grid are counted and
// ignored.
func (g *Grid) Add(i int, value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if i < 0 || i >= len(g.buckets) {
		g.stats.OutOfRange++
		return
	}
	g.buckets[i].Add(value)
	g.stats.ValuesProcessed++
}

// AddDay records one day of optional bucket values. A nil entry is an
// absent bucket and contributes no sample.
func (g *Grid) AddDay(values []*float64) {
	for i, v := range values {
		if v != nil {
			g.Add(i, *v)
		}
	}

	g.mu.Lock()
	g.stats.DaysProcessed++
	g.mu.Unlock()
}

// Len returns the number of buckets.
func (g *Grid) Len() int {
	return len(g.buckets)
}

// Bucket returns the result of bucket i.
func (g *Grid) Bucket(i int) types.BucketStats {
	return g.buckets[i].Result()
}

// Results returns every bucket's statistics in index order.
func (g *Grid) Results() []types.BucketStats {
	out := make([]types.BucketStats, len(g.buckets))
	for i, b := range g.buckets {
		out[i] = b.Result()
	}
	return out
}

// Reset clears every bucket.
func (g *Grid) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, b := range g.buckets {
		b.Reset()
	}
	g.stats = GridStats{Buckets: len(g.buckets)}
}

// Stats returns grid statistics.
func (g *Grid) Stats() GridStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}
