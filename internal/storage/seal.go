package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/ecobici-cdmx/dockarchive/internal/errors"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/memtable"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/parquet"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// SealFinalized converts every finalized open partition into a sealed
// Parquet file and removes its WAL. It returns how many were sealed.
func (s *Store) SealFinalized(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, errors.ErrStoreClosed
	}

	now := s.clock.Now()

	s.mu.RLock()
	var due []types.LocalDate
	for _, d := range s.openDatesLocked() {
		if s.cal.IsFinalized(d, now) {
			due = append(due, d)
		}
	}
	s.mu.RUnlock()

	sealed := 0
	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return sealed, err
		}
		if err := s.seal(d); err != nil {
			return sealed, fmt.Errorf("seal %s: %w", d, err)
		}
		sealed++
	}
	return sealed, nil
}

// seal moves one finalized date from the WAL to its sealed file. Readers
// keep using the frozen memtable until the file is in place.
func (s *Store) seal(d types.LocalDate) error {
	// Once appendMu is released no append can reach this date: any later
	// append sees it finalized.
	s.appendMu.Lock()
	s.mu.RLock()
	p, ok := s.open[d]
	s.mu.RUnlock()
	if ok {
		p.mem.Freeze()
	}
	s.appendMu.Unlock()

	if !ok {
		return nil
	}

	if err := s.writeSealed(d, p.mem); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.open, d)
	s.sealed[d] = struct{}{}
	s.mu.Unlock()

	s.cacheMu.Lock()
	s.sealedCache.Add(d, p.mem)
	s.cacheMu.Unlock()

	if err := p.wal.Close(); err != nil {
		s.log.Warn("close wal after seal", "date", d.String(), "error", err)
	}
	if err := os.Remove(p.wal.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove wal: %w", err)
	}

	s.log.Info("sealed partition", "date", d.String(), "snapshots", p.mem.Len())
	return nil
}

// writeSealed stages and renames the Parquet file for d.
func (s *Store) writeSealed(d types.LocalDate, mem *memtable.Memtable) error {
	rows, err := parquet.WritePartition(s.layout.ParquetPath(d), s.layout.TempPath(d), mem.All(), s.parquetOpts)
	if err != nil {
		return fmt.Errorf("write partition: %w", err)
	}

	s.stats.sealsCompleted.Add(1)
	s.metrics.seals.Inc()
	s.log.Debug("partition file written", "date", d.String(), "rows", rows)
	return nil
}

// DropSealed forgets a sealed date whose file has been deleted. Latest
// snapshots remembered from that date are forgotten too, so the next lookup
// scans again.
func (s *Store) DropSealed(d types.LocalDate) {
	s.mu.Lock()
	delete(s.sealed, d)
	for id, snap := range s.latest {
		if s.cal.DateOf(snap.CapturedAt) == d {
			delete(s.latest, id)
		}
	}
	s.mu.Unlock()

	s.cacheMu.Lock()
	s.sealedCache.Remove(d)
	s.cacheMu.Unlock()
}

// SealedDates returns sealed dates, ascending.
func (s *Store) SealedDates() []types.LocalDate {
	var out []types.LocalDate
	for _, d := range s.Dates() {
		if s.IsSealed(d) {
			out = append(out, d)
		}
	}
	return out
}
