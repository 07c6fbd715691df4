package aggregate

import (
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// DefaultAccuracy is the relative accuracy of percentile sketches.
const DefaultAccuracy = 0.01

// StreamingAggregate maintains running statistics for one time-of-day
// bucket. Mean and variance use Welford's update so no samples are kept;
// percentiles come from an optional DDSketch.
type StreamingAggregate struct {
	mu sync.Mutex

	count int64
	sum   float64
	mean  float64
	m2    float64
	min   float64
	max   float64

	// DDSketch for percentiles (nil if disabled)
	sketch   *ddsketch.DDSketch
	accuracy float64
}

// New creates an empty aggregate. Percentiles use DefaultAccuracy when
// enabled.
func New(enablePercentile bool) *StreamingAggregate {
	if enablePercentile {
		return NewWithAccuracy(DefaultAccuracy)
	}
	return &StreamingAggregate{
		min: math.MaxFloat64,
		max: -math.MaxFloat64,
	}
}

// NewWithAccuracy creates an aggregate tracking percentiles with the given
// relative accuracy.
func NewWithAccuracy(accuracy float64) *StreamingAggregate {
	agg := &StreamingAggregate{
		min:      math.MaxFloat64,
		max:      -math.MaxFloat64,
		accuracy: accuracy,
	}
	agg.sketch = newSketch(accuracy)
	return agg
}

func newSketch(accuracy float64) *ddsketch.DDSketch {
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil
	}
	return sketch
}

// Add adds a value to the aggregate.
func (a *StreamingAggregate) Add(value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	a.sum += value

	delta := value - a.mean
	a.mean += delta / float64(a.count)
	a.m2 += delta * (value - a.mean)

	if value < a.min {
		a.min = value
	}
	if value > a.max {
		a.max = value
	}

	if a.sketch != nil {
		a.sketch.Add(value)
	}
}

// Count returns the number of values added.
func (a *StreamingAggregate) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// IsEmpty returns true if no values have been added.
func (a *StreamingAggregate) IsEmpty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count == 0
}

// Result returns the bucket statistics. An empty aggregate yields a zero
// BucketStats without percentiles.
func (a *StreamingAggregate) Result() types.BucketStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := types.BucketStats{
		Count: a.count,
		Sum:   a.sum,
	}
	if a.count == 0 {
		return result
	}

	result.Mean = a.mean
	result.StdDev = math.Sqrt(a.m2 / float64(a.count))
	result.Min = a.min
	result.Max = a.max

	if a.sketch != nil {
		p50, err50 := a.sketch.GetValueAtQuantile(0.50)
		p90, err90 := a.sketch.GetValueAtQuantile(0.90)
		if err50 == nil && err90 == nil {
			result.SetPercentiles(p50, p90)
		}
	}

	return result
}

// Reset clears the aggregate for reuse.
func (a *StreamingAggregate) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.count = 0
	a.sum = 0
	a.mean = 0
	a.m2 = 0
	a.min = math.MaxFloat64
	a.max = -math.MaxFloat64

	if a.sketch != nil {
		// DDSketch has no Clear
		a.sketch = newSketch(a.accuracy)
	}
}
