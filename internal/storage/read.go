package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ecobici-cdmx/dockarchive/internal/errors"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/memtable"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/parquet"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// ReadRange returns the station's snapshots with from <= CapturedAt < to,
// oldest first, across any number of partitions. No data is an empty
// result, not an error.
func (s *Store) ReadRange(ctx context.Context, stationID string, from, to time.Time) ([]types.Snapshot, error) {
	if s.closed.Load() {
		return nil, errors.ErrStoreClosed
	}
	if !from.Before(to) {
		return []types.Snapshot{}, nil
	}

	first := s.cal.DateOf(from)
	last := s.cal.DateOf(to.Add(-time.Millisecond))

	out := []types.Snapshot{}
	for _, d := range s.Dates() {
		if d.Before(first) || d.After(last) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		mem, err := s.partitionFor(ctx, d)
		if err != nil {
			return nil, err
		}
		if mem == nil {
			continue
		}
		out = append(out, mem.Range(stationID, from, to)...)
	}
	return out, nil
}

// ReadNearest returns the station's newest snapshot with CapturedAt <= at
// and at - CapturedAt <= maxLookback. Older data outside the window does
// not count.
func (s *Store) ReadNearest(ctx context.Context, stationID string, at time.Time, maxLookback time.Duration) (types.Snapshot, bool, error) {
	if s.closed.Load() {
		return types.Snapshot{}, false, errors.ErrStoreClosed
	}
	if maxLookback < 0 {
		return types.Snapshot{}, false, errors.NewInvalidArgument("max_lookback", maxLookback, "must be non-negative")
	}

	first := s.cal.DateOf(at.Add(-maxLookback))
	last := s.cal.DateOf(at)

	// Newest partition first: the first hit is the answer
	dates := s.Dates()
	for i := len(dates) - 1; i >= 0; i-- {
		d := dates[i]
		if d.After(last) {
			continue
		}
		if d.Before(first) {
			break
		}

		mem, err := s.partitionFor(ctx, d)
		if err != nil {
			return types.Snapshot{}, false, err
		}
		if mem == nil {
			continue
		}
		if snap, ok := mem.Nearest(stationID, at, maxLookback); ok {
			return snap, true, nil
		}
	}
	return types.Snapshot{}, false, nil
}

// Latest returns the station's most recent snapshot. A station not seen
// since the store opened is looked up in the newest LatestScanPartitions
// partitions only; one not found there is reported absent and remembered
// as unknown until it is appended.
func (s *Store) Latest(ctx context.Context, stationID string) (types.Snapshot, bool, error) {
	if s.closed.Load() {
		return types.Snapshot{}, false, errors.ErrStoreClosed
	}

	s.mu.RLock()
	cur, ok := s.latest[stationID]
	s.mu.RUnlock()
	if ok {
		return cur, true, nil
	}

	// lru.Get reorders, so it needs the write lock
	s.mu.Lock()
	_, unknown := s.unknown.Get(stationID)
	s.mu.Unlock()
	if unknown {
		return types.Snapshot{}, false, nil
	}

	// Cold lookup, newest partition first
	dates := s.Dates()
	scanned := 0
	for i := len(dates) - 1; i >= 0 && scanned < s.cfg.LatestScanPartitions; i-- {
		if err := ctx.Err(); err != nil {
			return types.Snapshot{}, false, err
		}

		mem, err := s.partitionFor(ctx, dates[i])
		if err != nil {
			return types.Snapshot{}, false, err
		}
		if mem == nil {
			continue
		}
		scanned++
		if snap, ok := mem.Latest(stationID); ok {
			s.mu.Lock()
			s.noteLatestLocked(snap)
			cur = s.latest[stationID]
			s.mu.Unlock()
			return cur, true, nil
		}
	}

	s.mu.Lock()
	// An append may have landed during the scan
	cur, ok = s.latest[stationID]
	if !ok {
		s.unknown.Add(stationID, struct{}{})
	}
	s.mu.Unlock()
	return cur, ok, nil
}

// Stations returns the station ids present in the partition for d.
func (s *Store) Stations(ctx context.Context, d types.LocalDate) ([]string, error) {
	if s.closed.Load() {
		return nil, errors.ErrStoreClosed
	}

	mem, err := s.partitionFor(ctx, d)
	if err != nil {
		return nil, err
	}
	if mem == nil {
		return []string{}, nil
	}
	return mem.Stations(), nil
}

// partitionFor returns the memtable serving d, loading a sealed file when
// needed. It returns nil when the date has no data.
func (s *Store) partitionFor(ctx context.Context, d types.LocalDate) (*memtable.Memtable, error) {
	s.mu.RLock()
	p, isOpen := s.open[d]
	_, isSealed := s.sealed[d]
	s.mu.RUnlock()

	if isOpen {
		return p.mem, nil
	}
	if !isSealed {
		return nil, nil
	}
	return s.loadSealed(ctx, d)
}

// loadSealed returns the read-only memtable of a sealed date from the LRU,
// reading the Parquet file once on a miss even under concurrent callers.
func (s *Store) loadSealed(ctx context.Context, d types.LocalDate) (*memtable.Memtable, error) {
	s.cacheMu.Lock()
	if v, ok := s.sealedCache.Get(d); ok {
		s.cacheMu.Unlock()
		s.stats.cacheHits.Add(1)
		s.metrics.sealedLoads.WithLabelValues("hit").Inc()
		return v.(*memtable.Memtable), nil
	}
	s.cacheMu.Unlock()

	s.stats.cacheMisses.Add(1)
	s.metrics.sealedLoads.WithLabelValues("miss").Inc()

	ch := s.loads.DoChan(d.String(), func() (interface{}, error) {
		snapshots, err := parquet.ReadPartition(s.layout.ParquetPath(d))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", errors.ErrCorruptPartition, d, err)
		}

		mem, dropped := memtable.Load(d, snapshots)
		if dropped > 0 {
			s.log.Warn("sealed partition holds duplicate identities", "date", d.String(), "count", dropped)
		}
		mem.Freeze()

		s.cacheMu.Lock()
		s.sealedCache.Add(d, mem)
		s.cacheMu.Unlock()
		return mem, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*memtable.Memtable), nil
	}
}
