package types

import (
	"strconv"
	"time"
)

// Snapshot represents one observation of a station captured by the feed
// ingestor. This is the primary data unit flowing through the store.
//
// The store is a faithful record: counts are not checked against Capacity,
// upstream data may violate that transiently.
type Snapshot struct {
	// Identity
	StationID  string    // Stable GBFS station_id
	CapturedAt time.Time // UTC capture instant, source of truth for ordering

	// Metadata
	StationCode  string    // Public short code ("001", "123")
	LastReported time.Time // Station's own report time, zero when unknown

	// Counts
	BikesAvailable int32
	BikesDisabled  int32
	DocksAvailable int32
	DocksDisabled  int32
	Capacity       int32

	// Operational state
	IsInstalled bool
	IsRenting   bool
	IsReturning bool
}

// CapturedAtMs returns the capture instant in Unix milliseconds, the
// precision the store keys on.
func (s *Snapshot) CapturedAtMs() int64 {
	return s.CapturedAt.UnixMilli()
}

// Key returns the unique identity of this snapshot.
func (s *Snapshot) Key() string {
	return s.StationID + "@" + strconv.FormatInt(s.CapturedAtMs(), 10)
}

// Normalize truncates timestamps to storage precision and converts them to
// UTC, so that a snapshot read back compares equal to the one written.
func (s *Snapshot) Normalize() {
	s.CapturedAt = time.UnixMilli(s.CapturedAt.UnixMilli()).UTC()
	if !s.LastReported.IsZero() {
		s.LastReported = time.UnixMilli(s.LastReported.UnixMilli()).UTC()
	}
}

// Age returns how stale the snapshot is relative to t.
func (s *Snapshot) Age(t time.Time) time.Duration {
	return t.Sub(s.CapturedAt)
}

// SnapshotBatch represents a collection of snapshots for batch processing.
type SnapshotBatch struct {
	Snapshots []Snapshot
}

// NewSnapshotBatch creates a new batch with the given capacity.
func NewSnapshotBatch(capacity int) *SnapshotBatch {
	return &SnapshotBatch{
		Snapshots: make([]Snapshot, 0, capacity),
	}
}

// Add appends a snapshot to the batch.
func (b *SnapshotBatch) Add(s Snapshot) {
	b.Snapshots = append(b.Snapshots, s)
}

// Len returns the number of snapshots in the batch.
func (b *SnapshotBatch) Len() int {
	return len(b.Snapshots)
}

// Clear resets the batch for reuse.
func (b *SnapshotBatch) Clear() {
	b.Snapshots = b.Snapshots[:0]
}
