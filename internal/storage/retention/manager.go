package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ecobici-cdmx/dockarchive/internal/logging"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/parquet"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/partition"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// Archive is the part of the store retention works against.
type Archive interface {
	SealedDates() []types.LocalDate
	DropSealed(d types.LocalDate)
	Layout() partition.Layout
	Calendar() *partition.Calendar
	Clock() clockwork.Clock
}

// Manager deletes sealed partitions that fell out of the retention window.
// Open partitions are never touched.
type Manager struct {
	mu       sync.Mutex
	archive  Archive
	keepDays int
	log      *slog.Logger
	stats    Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime  time.Time
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// CleanupResult holds the result of a cleanup operation.
type CleanupResult struct {
	Cutoff       types.LocalDate
	Deleted      []types.LocalDate
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Errors       []error
}

// New creates a retention manager keeping keepDays days of sealed data.
// keepDays <= 0 disables deletion.
func New(archive Archive, keepDays int) *Manager {
	return &Manager{
		archive:  archive,
		keepDays: keepDays,
		log:      logging.Component("retention"),
	}
}

// Enabled reports whether the manager ever deletes anything.
func (m *Manager) Enabled() bool {
	return m.keepDays > 0
}

// Cutoff returns the oldest date that is kept at now.
func (m *Manager) Cutoff(now time.Time) types.LocalDate {
	return m.archive.Calendar().Today(now).AddDays(-m.keepDays)
}

// RunCleanup deletes expired sealed partitions.
func (m *Manager) RunCleanup(ctx context.Context) CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.LastRunTime = m.archive.Clock().Now()

	result := m.cleanup(ctx, false)

	m.stats.FilesDeleted += int64(result.FilesDeleted)
	m.stats.BytesFreed += result.BytesFreed
	m.stats.FilesSkipped += int64(result.FilesSkipped)
	m.stats.Errors += int64(len(result.Errors))

	if result.FilesDeleted > 0 || len(result.Errors) > 0 {
		m.log.Info("retention cleanup",
			"cutoff", result.Cutoff.String(),
			"deleted", result.FilesDeleted,
			"bytes_freed", result.BytesFreed,
			"errors", len(result.Errors))
	}
	return result
}

// DryRun lists what RunCleanup would delete without deleting it.
func (m *Manager) DryRun(ctx context.Context) CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cleanup(ctx, true)
}

func (m *Manager) cleanup(ctx context.Context, dryRun bool) CleanupResult {
	now := m.archive.Clock().Now()
	result := CleanupResult{Cutoff: m.Cutoff(now)}

	if !m.Enabled() {
		return result
	}

	layout := m.archive.Layout()
	for _, d := range m.archive.SealedDates() {
		if !d.Before(result.Cutoff) {
			result.FilesSkipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err)
			return result
		}

		path := layout.ParquetPath(d)
		var size int64
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}

		if !dryRun {
			// Forget first so no reader opens a file being removed
			m.archive.DropSealed(d)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", path, err))
				continue
			}
		}

		result.Deleted = append(result.Deleted, d)
		result.FilesDeleted++
		result.BytesFreed += size
	}

	return result
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	SealedFiles int
	SealedBytes int64
	SealedRows  int64
	WALFiles    int
	WALBytes    int64
	Unreadable  int
}

// GetDiskUsage sums the size of sealed files and open WAL segments.
func (m *Manager) GetDiskUsage() DiskUsage {
	var usage DiskUsage
	layout := m.archive.Layout()

	for _, d := range m.archive.SealedDates() {
		info, err := parquet.GetFileInfo(layout.ParquetPath(d))
		if err != nil {
			usage.Unreadable++
			continue
		}
		usage.SealedFiles++
		usage.SealedBytes += info.Size
		usage.SealedRows += info.NumRows
	}

	walDates, err := layout.WALDates()
	if err == nil {
		for _, d := range walDates {
			info, err := os.Stat(layout.WALPath(d))
			if err != nil {
				continue
			}
			usage.WALFiles++
			usage.WALBytes += info.Size()
		}
	}

	return usage
}

// FormatDiskUsage returns a formatted string of disk usage.
func (m *Manager) FormatDiskUsage() string {
	u := m.GetDiskUsage()

	result := "Disk Usage:\n"
	result += fmt.Sprintf("  sealed: %d files, %d rows, %s\n", u.SealedFiles, u.SealedRows, formatBytes(u.SealedBytes))
	result += fmt.Sprintf("  wal: %d files, %s\n", u.WALFiles, formatBytes(u.WALBytes))
	if u.Unreadable > 0 {
		result += fmt.Sprintf("  unreadable: %d files\n", u.Unreadable)
	}
	result += fmt.Sprintf("  Total: %d files, %s\n", u.SealedFiles+u.WALFiles, formatBytes(u.SealedBytes+u.WALBytes))
	return result
}

// formatBytes formats bytes as human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
