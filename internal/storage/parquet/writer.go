package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// CompressionLevel for algorithms that support it (zstd: 1-22)
	CompressionLevel int

	// PageBufferSize is the target page size in bytes
	PageBufferSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:      CompressionZstd,
		CompressionLevel: 3,
		PageBufferSize:   256 * 1024,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// SnapshotRow represents a snapshot in Parquet format. Column names follow
// the GBFS station_status feed.
type SnapshotRow struct {
	StationID      string `parquet:"station_id,dict"`
	StationCode    string `parquet:"station_code,dict"`
	CapturedAtMs   int64  `parquet:"captured_at_ms,delta"`
	LastReportedMs int64  `parquet:"last_reported_ms,optional"`
	BikesAvailable int32  `parquet:"num_bikes_available"`
	BikesDisabled  int32  `parquet:"num_bikes_disabled"`
	DocksAvailable int32  `parquet:"num_docks_available"`
	DocksDisabled  int32  `parquet:"num_docks_disabled"`
	Capacity       int32  `parquet:"capacity"`
	IsInstalled    bool   `parquet:"is_installed"`
	IsRenting      bool   `parquet:"is_renting"`
	IsReturning    bool   `parquet:"is_returning"`
}

// SnapshotToRow converts a Snapshot to a SnapshotRow.
func SnapshotToRow(s *types.Snapshot) SnapshotRow {
	row := SnapshotRow{
		StationID:      s.StationID,
		StationCode:    s.StationCode,
		CapturedAtMs:   s.CapturedAt.UnixMilli(),
		BikesAvailable: s.BikesAvailable,
		BikesDisabled:  s.BikesDisabled,
		DocksAvailable: s.DocksAvailable,
		DocksDisabled:  s.DocksDisabled,
		Capacity:       s.Capacity,
		IsInstalled:    s.IsInstalled,
		IsRenting:      s.IsRenting,
		IsReturning:    s.IsReturning,
	}
	if !s.LastReported.IsZero() {
		row.LastReportedMs = s.LastReported.UnixMilli()
	}
	return row
}

// RowToSnapshot converts a SnapshotRow to a Snapshot.
func RowToSnapshot(r *SnapshotRow) types.Snapshot {
	s := types.Snapshot{
		StationID:      r.StationID,
		StationCode:    r.StationCode,
		CapturedAt:     time.UnixMilli(r.CapturedAtMs).UTC(),
		BikesAvailable: r.BikesAvailable,
		BikesDisabled:  r.BikesDisabled,
		DocksAvailable: r.DocksAvailable,
		DocksDisabled:  r.DocksDisabled,
		Capacity:       r.Capacity,
		IsInstalled:    r.IsInstalled,
		IsRenting:      r.IsRenting,
		IsReturning:    r.IsReturning,
	}
	if r.LastReportedMs != 0 {
		s.LastReported = time.UnixMilli(r.LastReportedMs).UTC()
	}
	return s
}

// SnapshotWriter writes snapshots to a Parquet file.
type SnapshotWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[SnapshotRow]
	rowCount int64
	closed   bool
}

// NewSnapshotWriter creates a new snapshot Parquet writer.
func NewSnapshotWriter(path string, opts Options) (*SnapshotWriter, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}
	if opts.PageBufferSize > 0 {
		writerOpts = append(writerOpts, parquet.PageBufferSize(opts.PageBufferSize))
	}

	writer := parquet.NewGenericWriter[SnapshotRow](f, writerOpts...)

	return &SnapshotWriter{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write writes snapshots to the Parquet file.
func (w *SnapshotWriter) Write(snapshots []types.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]SnapshotRow, len(snapshots))
	for i := range snapshots {
		rows[i] = SnapshotToRow(&snapshots[i])
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close finishes the file footer, syncs and closes the file.
func (w *SnapshotWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("sync file: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *SnapshotWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *SnapshotWriter) Path() string {
	return w.path
}

// WritePartition writes snapshots to tmpPath and renames it to path, so a
// reader sees either no file or a complete one.
func WritePartition(path, tmpPath string, snapshots []types.Snapshot, opts Options) (int64, error) {
	w, err := NewSnapshotWriter(tmpPath, opts)
	if err != nil {
		return 0, err
	}

	if err := w.Write(snapshots); err != nil {
		w.Close()
		os.Remove(tmpPath)
		return 0, err
	}

	if err := w.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rename partition: %w", err)
	}

	if err := syncDir(filepath.Dir(path)); err != nil {
		return 0, err
	}

	return w.RowCount(), nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
