package storage

import (
	"context"
	"fmt"

	"github.com/ecobici-cdmx/dockarchive/internal/errors"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/memtable"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/wal"
)

// Append durably records one snapshot. It fails without side effects on a
// duplicate identity, on a finalized date, and under strict ordering on a
// timestamp not newer than the station's latest. The store never retries.
func (s *Store) Append(ctx context.Context, snap types.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return errors.ErrStoreClosed
	}

	if snap.StationID == "" {
		s.metrics.appends.WithLabelValues(resultInvalid).Inc()
		return fmt.Errorf("%w: station_id is required", errors.ErrInvalidSnapshot)
	}
	if snap.CapturedAt.IsZero() {
		s.metrics.appends.WithLabelValues(resultInvalid).Inc()
		return fmt.Errorf("%w: captured_at is required", errors.ErrInvalidSnapshot)
	}
	snap.Normalize()

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	if s.closed.Load() {
		return errors.ErrStoreClosed
	}

	date := s.cal.DateOf(snap.CapturedAt)
	if s.IsSealed(date) || s.cal.IsFinalized(date, s.clock.Now()) {
		s.stats.sealedRejects.Add(1)
		s.metrics.appends.WithLabelValues(resultSealed).Inc()
		return errors.NewPartitionSealed(date.String())
	}

	if s.cfg.StrictOrdering() {
		s.mu.RLock()
		cur, ok := s.latest[snap.StationID]
		s.mu.RUnlock()
		if ok && !snap.CapturedAt.After(cur.CapturedAt) {
			if cur.CapturedAt.Equal(snap.CapturedAt) {
				s.stats.duplicates.Add(1)
				s.metrics.appends.WithLabelValues(resultDuplicate).Inc()
				return errors.NewDuplicateKey(snap.Key())
			}
			s.stats.outOfOrder.Add(1)
			s.metrics.appends.WithLabelValues(resultOutOfOrder).Inc()
			return errors.NewOutOfOrder(snap.StationID, snap.CapturedAtMs(), cur.CapturedAtMs())
		}
	}

	p, err := s.openPartitionFor(date)
	if err != nil {
		s.metrics.appends.WithLabelValues(resultError).Inc()
		return err
	}

	if p.mem.Contains(snap.StationID, snap.CapturedAt) {
		s.stats.duplicates.Add(1)
		s.metrics.appends.WithLabelValues(resultDuplicate).Inc()
		return errors.NewDuplicateKey(snap.Key())
	}

	if err := p.wal.Append(&snap); err != nil {
		s.metrics.appends.WithLabelValues(resultError).Inc()
		return fmt.Errorf("append %s: %w", snap.Key(), err)
	}

	// Visible to readers only once durable
	if err := p.mem.Insert(snap); err != nil {
		s.metrics.appends.WithLabelValues(resultError).Inc()
		return err
	}

	s.mu.Lock()
	s.noteLatestLocked(snap)
	s.mu.Unlock()

	s.stats.appended.Add(1)
	s.metrics.appends.WithLabelValues(resultAccepted).Inc()
	return nil
}

// AppendBatch appends snapshots in order and stops at the first failure.
// It returns how many were accepted.
func (s *Store) AppendBatch(ctx context.Context, snapshots []types.Snapshot) (int, error) {
	for i := range snapshots {
		if err := s.Append(ctx, snapshots[i]); err != nil {
			return i, err
		}
	}
	return len(snapshots), nil
}

// openPartitionFor returns the open partition for date, creating its WAL
// segment on first use. Callers hold appendMu.
func (s *Store) openPartitionFor(date types.LocalDate) (*openPartition, error) {
	s.mu.RLock()
	p, ok := s.open[date]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	w, err := wal.OpenWriter(s.layout.WALPath(date), s.walOpts)
	if err != nil {
		return nil, fmt.Errorf("open partition %s: %w", date, err)
	}

	p = &openPartition{mem: memtable.New(date), wal: w}

	s.mu.Lock()
	s.open[date] = p
	s.mu.Unlock()

	s.log.Info("opened partition", "date", date.String())
	return p, nil
}
