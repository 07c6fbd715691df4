// Package history builds day series and rolling profiles for one station.
//
// A day series resamples a local calendar date to 144 ten-minute buckets.
// Each bucket holds the latest snapshot captured at or before its start
// within the same date; bike counts change in steps, so values are carried
// forward and never interpolated. Buckets before the first snapshot of the
// date, or after the current instant, are absent.
//
// A rolling profile folds the day series of the dates before an as-of date
// into per-bucket statistics. Absent buckets contribute no sample, so an
// outage lowers a bucket's count instead of dragging its mean toward zero.
// Buckets with few samples are still returned; callers decide what counts
// as low confidence.
package history
