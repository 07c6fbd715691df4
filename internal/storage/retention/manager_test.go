package retention_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ecobici-cdmx/dockarchive/internal/storage"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/config"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/retention"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// newArchive returns a store holding sealed dates March 1-5 2026 and one
// open date, with the clock at noon on March 10.
func newArchive(t *testing.T) (*storage.Store, clockwork.FakeClock) {
	t.Helper()

	loc, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Ingestion.WAL.SyncMode = "sync"

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, loc))
	s, err := storage.Open(cfg, storage.Options{Clock: clock})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	for day := 1; day <= 5; day++ {
		snap := types.Snapshot{
			StationID:      "42",
			CapturedAt:     clock.Now(),
			BikesAvailable: int32(day),
			Capacity:       20,
		}
		if err := s.Append(ctx, snap); err != nil {
			t.Fatalf("Append day %d: %v", day, err)
		}
		clock.Advance(24 * time.Hour)
	}
	clock.Advance(4 * 24 * time.Hour)

	n, err := s.SealFinalized(ctx)
	if err != nil {
		t.Fatalf("SealFinalized: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 sealed dates, got %d", n)
	}

	if err := s.Append(ctx, types.Snapshot{StationID: "42", CapturedAt: clock.Now(), Capacity: 20}); err != nil {
		t.Fatalf("Append today: %v", err)
	}
	return s, clock
}

func march(day int) types.LocalDate {
	return types.LocalDate{Year: 2026, Month: time.March, Day: day}
}

func TestManager_Disabled(t *testing.T) {
	s, _ := newArchive(t)
	m := retention.New(s, 0)

	if m.Enabled() {
		t.Error("keep_days 0 should disable retention")
	}
	result := m.RunCleanup(context.Background())
	if result.FilesDeleted != 0 {
		t.Errorf("expected nothing deleted, got %d", result.FilesDeleted)
	}
	if len(s.SealedDates()) != 5 {
		t.Errorf("expected 5 sealed dates kept, got %d", len(s.SealedDates()))
	}
}

func TestManager_Cutoff(t *testing.T) {
	s, clock := newArchive(t)

	tests := []struct {
		keepDays int
		want     types.LocalDate
	}{
		{1, march(9)},
		{7, march(3)},
		{10, types.LocalDate{Year: 2026, Month: time.February, Day: 28}},
	}

	for _, tt := range tests {
		m := retention.New(s, tt.keepDays)
		if got := m.Cutoff(clock.Now()); got != tt.want {
			t.Errorf("keep %d: expected cutoff %s, got %s", tt.keepDays, tt.want, got)
		}
	}
}

func TestManager_DryRun(t *testing.T) {
	s, _ := newArchive(t)
	m := retention.New(s, 7)

	result := m.DryRun(context.Background())
	if result.FilesDeleted != 2 {
		t.Fatalf("expected 2 candidates, got %d", result.FilesDeleted)
	}
	if result.Deleted[0] != march(1) || result.Deleted[1] != march(2) {
		t.Errorf("unexpected candidates %v", result.Deleted)
	}
	if result.BytesFreed <= 0 {
		t.Error("expected candidate sizes to be reported")
	}

	// Nothing removed
	if _, err := os.Stat(s.Layout().ParquetPath(march(1))); err != nil {
		t.Errorf("dry run removed a file: %v", err)
	}
	if len(s.SealedDates()) != 5 {
		t.Errorf("dry run changed sealed dates: %v", s.SealedDates())
	}
}

func TestManager_RunCleanup(t *testing.T) {
	s, _ := newArchive(t)
	m := retention.New(s, 7)
	ctx := context.Background()

	result := m.RunCleanup(ctx)
	if len(result.Errors) != 0 {
		t.Fatalf("cleanup errors: %v", result.Errors)
	}
	if result.FilesDeleted != 2 || result.FilesSkipped != 3 {
		t.Errorf("expected 2 deleted and 3 skipped, got %d/%d", result.FilesDeleted, result.FilesSkipped)
	}

	for _, d := range []types.LocalDate{march(1), march(2)} {
		if _, err := os.Stat(s.Layout().ParquetPath(d)); !os.IsNotExist(err) {
			t.Errorf("%s: file should be gone, stat err = %v", d, err)
		}
		if s.IsSealed(d) {
			t.Errorf("%s: store should forget deleted date", d)
		}
	}

	got, err := s.ReadRange(ctx, "42", march(1).Midnight(s.Calendar().Location()), march(4).Midnight(s.Calendar().Location()))
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if len(got) != 1 || got[0].BikesAvailable != 3 {
		t.Errorf("expected only March 3 to remain in range, got %+v", got)
	}

	// Open partition untouched
	if len(s.Dates()) != 4 {
		t.Errorf("expected 3 sealed and 1 open date, got %v", s.Dates())
	}

	stats := m.Stats()
	if stats.FilesDeleted != 2 || stats.LastRunTime.IsZero() {
		t.Errorf("unexpected stats %+v", stats)
	}

	// Second run finds nothing new
	if again := m.RunCleanup(ctx); again.FilesDeleted != 0 {
		t.Errorf("expected idempotent cleanup, got %d deletions", again.FilesDeleted)
	}
}

func TestManager_DiskUsage(t *testing.T) {
	s, _ := newArchive(t)
	m := retention.New(s, 0)

	usage := m.GetDiskUsage()
	if usage.SealedFiles != 5 || usage.SealedRows != 5 {
		t.Errorf("expected 5 sealed files with 5 rows, got %+v", usage)
	}
	if usage.WALFiles != 1 || usage.WALBytes <= 0 {
		t.Errorf("expected one open wal, got %+v", usage)
	}

	out := m.FormatDiskUsage()
	if !strings.Contains(out, "sealed: 5 files") {
		t.Errorf("unexpected report:\n%s", out)
	}
}
