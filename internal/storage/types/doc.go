// Package types defines the core data types used throughout the archive.
//
// Key types:
//   - Snapshot: one observation of a station's bike and dock counts
//   - LocalDate: a calendar date in the network's home timezone
//   - BucketStats: aggregated statistics for one time-of-day bucket
package types
