package types

// BucketStats holds aggregated statistics for one time-of-day bucket across
// many days. This is the output of the streaming aggregation process.
type BucketStats struct {
	Count  int64   // Number of samples in this bucket
	Sum    float64 // Sum of all values
	Mean   float64 // Sum / Count
	StdDev float64 // Population standard deviation
	Min    float64 // Minimum value
	Max    float64 // Maximum value

	// Percentiles (nil if not enabled or no samples)
	P50 *float64
	P90 *float64
}

// IsEmpty returns true if no samples were aggregated.
func (b *BucketStats) IsEmpty() bool {
	return b.Count == 0
}

// HasPercentiles returns true if percentile data is available.
func (b *BucketStats) HasPercentiles() bool {
	return b.P50 != nil
}

// SetPercentiles sets both percentile values.
func (b *BucketStats) SetPercentiles(p50, p90 float64) {
	b.P50 = &p50
	b.P90 = &p90
}
