package storage

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/golang/groupcache/lru"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/ecobici-cdmx/dockarchive/internal/errors"
	"github.com/ecobici-cdmx/dockarchive/internal/logging"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/config"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/memtable"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/parquet"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/partition"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/wal"
)

// Options carries the store's collaborators. Zero values select defaults.
type Options struct {
	Clock      clockwork.Clock
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// Store is the snapshot archive. It is safe for concurrent use: reads run
// in parallel, appends are serialized.
type Store struct {
	cfg     *config.Config
	cal     *partition.Calendar
	layout  partition.Layout
	clock   clockwork.Clock
	log     *slog.Logger
	metrics *metrics

	walOpts     wal.Options
	parquetOpts parquet.Options

	// appendMu serializes appends and the freeze step of sealing.
	appendMu sync.Mutex

	mu      sync.RWMutex
	open    map[types.LocalDate]*openPartition
	sealed  map[types.LocalDate]struct{}
	latest  map[string]types.Snapshot
	unknown *lru.Cache // station ids a cold lookup did not find

	cacheMu     sync.Mutex
	sealedCache *lru.Cache
	loads       singleflight.Group

	closed atomic.Bool

	// Statistics
	stats storeCounters
}

type openPartition struct {
	mem *memtable.Memtable
	wal *wal.Writer
}

type storeCounters struct {
	appended       atomic.Int64
	duplicates     atomic.Int64
	outOfOrder     atomic.Int64
	sealedRejects  atomic.Int64
	sealsCompleted atomic.Int64
	walCorrupt     atomic.Int64
	walTornTails   atomic.Int64
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
}

// Open opens the archive under cfg.DataDir, replaying the WAL of every open
// date and sealing any date that finalized while the process was down.
func Open(cfg *config.Config, opts Options) (*Store, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
	}

	// Ensure directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	cal, err := partition.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("store")
	}

	s := &Store{
		cfg:   cfg,
		cal:   cal,
		clock: opts.Clock,
		log:   opts.Logger,
		layout: partition.Layout{
			WALDir:       cfg.WALDir(),
			PartitionDir: cfg.PartitionDir(),
		},
		walOpts: wal.Options{
			SyncMode: cfg.Ingestion.WAL.SyncMode,
		},
		parquetOpts: parquet.Options{
			Compression:      parquet.ParseCompressionType(cfg.Features.Compression.Algorithm),
			CompressionLevel: cfg.Features.Compression.Level,
		},
		open:        make(map[types.LocalDate]*openPartition),
		sealed:      make(map[types.LocalDate]struct{}),
		latest:      make(map[string]types.Snapshot),
		unknown:     lru.New(cfg.UnknownStationCache),
		sealedCache: lru.New(cfg.SealedCachePartitions),
	}

	s.metrics, err = newMetrics(opts.Registerer, s.openSnapshotCount)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	if err := s.recover(); err != nil {
		s.closeWriters()
		return nil, fmt.Errorf("recover: %w", err)
	}

	return s, nil
}

// recover rebuilds in-memory state from the files on disk.
func (s *Store) recover() error {
	sealedDates, err := s.layout.SealedDates()
	if err != nil {
		return err
	}
	for _, d := range sealedDates {
		s.sealed[d] = struct{}{}
	}

	walDates, err := s.layout.WALDates()
	if err != nil {
		return err
	}

	now := s.clock.Now()
	for _, d := range walDates {
		walPath := s.layout.WALPath(d)

		// A crash between rename and WAL removal leaves both behind
		if _, ok := s.sealed[d]; ok {
			s.log.Warn("removing wal of already sealed partition", "date", d.String())
			if err := os.Remove(walPath); err != nil {
				return fmt.Errorf("remove stale wal %s: %w", walPath, err)
			}
			continue
		}

		os.Remove(s.layout.TempPath(d))

		res, err := wal.Replay(walPath)
		if err != nil {
			return fmt.Errorf("replay %s: %w", walPath, err)
		}
		if res.Stats.CorruptRecords > 0 || res.Stats.TornTail {
			s.stats.walCorrupt.Add(res.Stats.CorruptRecords)
			s.metrics.walCorrupt.Add(float64(res.Stats.CorruptRecords))
			if res.Stats.TornTail {
				s.stats.walTornTails.Add(1)
			}
			s.log.Warn("wal damage skipped during replay",
				"date", d.String(),
				"corrupt_records", res.Stats.CorruptRecords,
				"torn_tail", res.Stats.TornTail)
		}
		if res.NeedsRepair() {
			if err := wal.Truncate(walPath, res.ValidSize); err != nil {
				return err
			}
		}

		mem, dropped := memtable.Load(d, res.Snapshots)
		if dropped > 0 {
			s.log.Warn("duplicate wal records dropped", "date", d.String(), "count", dropped)
		}

		if s.cal.IsFinalized(d, now) {
			mem.Freeze()
			if err := s.writeSealed(d, mem); err != nil {
				return err
			}
			if err := os.Remove(walPath); err != nil {
				return fmt.Errorf("remove sealed wal: %w", err)
			}
			s.sealed[d] = struct{}{}
			s.log.Info("sealed partition during recovery", "date", d.String(), "snapshots", mem.Len())
			continue
		}

		w, err := wal.OpenWriter(walPath, s.walOpts)
		if err != nil {
			return err
		}
		s.open[d] = &openPartition{mem: mem, wal: w}
		s.log.Info("recovered open partition", "date", d.String(), "snapshots", mem.Len())
	}

	// Seed the latest index from open partitions, oldest first so newer
	// dates win.
	for _, d := range s.openDatesLocked() {
		mem := s.open[d].mem
		for _, id := range mem.Stations() {
			if snap, ok := mem.Latest(id); ok {
				s.noteLatestLocked(snap)
			}
		}
	}

	return nil
}

// Close flushes and closes all WAL writers. The store rejects operations
// afterwards.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	return s.closeWriters()
}

func (s *Store) closeWriters() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for d, p := range s.open {
		if err := p.wal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close wal %s: %w", d, err))
		}
	}
	return errors.Join(errs...)
}

// Calendar returns the store's partition calendar.
func (s *Store) Calendar() *partition.Calendar {
	return s.cal
}

// Layout returns where the store keeps its files.
func (s *Store) Layout() partition.Layout {
	return s.layout
}

// Config returns the store configuration.
func (s *Store) Config() *config.Config {
	return s.cfg
}

// Clock returns the store's clock.
func (s *Store) Clock() clockwork.Clock {
	return s.clock
}

// Dates returns every known partition date, ascending.
func (s *Store) Dates() []types.LocalDate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dates := make([]types.LocalDate, 0, len(s.open)+len(s.sealed))
	for d := range s.open {
		dates = append(dates, d)
	}
	for d := range s.sealed {
		if _, ok := s.open[d]; !ok {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// IsSealed reports whether d has been written to a sealed file.
func (s *Store) IsSealed(d types.LocalDate) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sealed[d]
	return ok
}

func (s *Store) openDatesLocked() []types.LocalDate {
	dates := make([]types.LocalDate, 0, len(s.open))
	for d := range s.open {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

func (s *Store) noteLatestLocked(snap types.Snapshot) {
	s.unknown.Remove(snap.StationID)
	cur, ok := s.latest[snap.StationID]
	if ok && !cur.CapturedAt.Before(snap.CapturedAt) {
		return
	}
	s.latest[snap.StationID] = snap
}

func (s *Store) openSnapshotCount() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.open {
		n += p.mem.Len()
	}
	return float64(n)
}

// Stats returns store statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	openSnapshots := 0
	for _, p := range s.open {
		openSnapshots += p.mem.Len()
	}
	stats := Stats{
		OpenPartitions:   len(s.open),
		SealedPartitions: len(s.sealed),
		OpenSnapshots:    openSnapshots,
		KnownStations:    len(s.latest),
		UnknownStations:  s.unknown.Len(),
	}
	s.mu.RUnlock()

	s.cacheMu.Lock()
	stats.CachedPartitions = s.sealedCache.Len()
	s.cacheMu.Unlock()

	stats.Appended = s.stats.appended.Load()
	stats.Duplicates = s.stats.duplicates.Load()
	stats.OutOfOrder = s.stats.outOfOrder.Load()
	stats.SealedRejects = s.stats.sealedRejects.Load()
	stats.SealsCompleted = s.stats.sealsCompleted.Load()
	stats.WALCorruptRecords = s.stats.walCorrupt.Load()
	stats.WALTornTails = s.stats.walTornTails.Load()
	stats.CacheHits = s.stats.cacheHits.Load()
	stats.CacheMisses = s.stats.cacheMisses.Load()
	return stats
}

// Stats holds store statistics.
type Stats struct {
	OpenPartitions    int
	SealedPartitions  int
	CachedPartitions  int
	OpenSnapshots     int
	KnownStations     int
	UnknownStations   int
	Appended          int64
	Duplicates        int64
	OutOfOrder        int64
	SealedRejects     int64
	SealsCompleted    int64
	WALCorruptRecords int64
	WALTornTails      int64
	CacheHits         int64
	CacheMisses       int64
}
