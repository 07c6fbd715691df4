package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// Writer appends snapshot records to one partition's segment file. Each
// open partition date has its own segment; sealing the date removes it.
//
// File format:
//   - Header: 8 bytes magic + 4 bytes version
//   - Records: [4 bytes length][4 bytes crc32][payload]
type Writer struct {
	mu sync.Mutex

	path   string
	file   *os.File
	writer *bufio.Writer
	size   int64
	closed bool
	broken error

	opts Options

	// syncFile is the fsync call; replaced in tests.
	syncFile func(*os.File) error

	// Statistics
	stats WriterStats
}

// Options configures the WAL writer.
type Options struct {
	// SyncMode controls how writes are synced to disk.
	// "sync" - flush the buffer after each write
	// "fsync" - flush and fsync after each write
	SyncMode string

	// BufferSize is the size of the write buffer.
	// Default: 64KB
	BufferSize int
}

// DefaultOptions returns default WAL options.
func DefaultOptions() Options {
	return Options{
		SyncMode:   "fsync",
		BufferSize: 64 * 1024, // 64KB
	}
}

// WriterStats holds WAL writer statistics.
type WriterStats struct {
	RecordsWritten int64
	BytesWritten   int64
	SyncsPerformed int64
	Errors         int64
}

const (
	walMagic         = 0x444B41525741_0001 // "DKARWA" + version 1
	walVersion       = 1
	headerSize       = 12 // 8 bytes magic + 4 bytes version
	recordHeaderSize = 8  // 4 bytes length + 4 bytes crc
	maxRecordSize    = 64 * 1024
)

// OpenWriter opens the segment at path for appending, creating it with a
// header when it does not exist. Existing segments must already be repaired
// (see Replay and Truncate) so that new records follow a valid prefix.
func OpenWriter(path string, opts Options) (*Writer, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	if opts.SyncMode == "" {
		opts.SyncMode = "fsync"
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat segment: %w", err)
	}

	size := info.Size()
	if size < headerSize {
		// New or torn before the header completed
		if err := f.Truncate(0); err != nil {
			f.Close()
			return nil, fmt.Errorf("reset segment: %w", err)
		}
		var header [headerSize]byte
		binary.LittleEndian.PutUint64(header[0:8], walMagic)
		binary.LittleEndian.PutUint32(header[8:12], walVersion)
		if _, err := f.WriteAt(header[:], 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
		size = headerSize
	} else if err := verifyHeader(f); err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.Seek(size, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek segment: %w", err)
	}

	return &Writer{
		path:   path,
		file:   f,
		writer: bufio.NewWriterSize(f, opts.BufferSize),
		size:     size,
		opts:     opts,
		syncFile: (*os.File).Sync,
	}, nil
}

// Append writes one snapshot and syncs according to the sync mode. When
// Append returns nil the record is durable under "fsync". When it fails the
// segment is cut back to its previous size, so a failed append never
// reappears on replay.
func (w *Writer) Append(s *types.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("wal segment %s is closed", w.path)
	}
	if w.broken != nil {
		return fmt.Errorf("wal segment %s unusable: %w", w.path, w.broken)
	}

	start, before := w.size, w.stats

	if err := w.writeRecord(encodeSnapshot(nil, s)); err != nil {
		w.rollback(start, before)
		return fmt.Errorf("write record: %w", err)
	}

	if err := w.syncUnlocked(); err != nil {
		w.rollback(start, before)
		return fmt.Errorf("sync: %w", err)
	}

	return nil
}

// rollback discards everything past start, buffered or on disk. If the file
// cannot be restored the writer refuses further appends.
func (w *Writer) rollback(start int64, before WriterStats) {
	w.writer.Reset(w.file)
	w.stats = before
	w.stats.Errors++

	if err := w.file.Truncate(start); err != nil {
		w.broken = fmt.Errorf("truncate after failed append: %w", err)
		return
	}
	if _, err := w.file.Seek(start, io.SeekStart); err != nil {
		w.broken = fmt.Errorf("seek after failed append: %w", err)
		return
	}
	w.size = start
}

// writeRecord writes a single record to the segment.
func (w *Writer) writeRecord(payload []byte) error {
	if len(payload) > maxRecordSize {
		return fmt.Errorf("record too large: %d bytes", len(payload))
	}

	// Calculate CRC
	crc := crc32.ChecksumIEEE(payload)

	// Write length
	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc)

	if _, err := w.writer.Write(header[:]); err != nil {
		return err
	}

	// Write payload
	if _, err := w.writer.Write(payload); err != nil {
		return err
	}

	recordSize := int64(recordHeaderSize + len(payload))
	w.size += recordSize
	w.stats.RecordsWritten++
	w.stats.BytesWritten += recordSize
	return nil
}

// Sync flushes buffered data to disk.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncUnlocked()
}

func (w *Writer) syncUnlocked() error {
	if w.closed {
		return nil
	}

	if err := w.writer.Flush(); err != nil {
		return err
	}

	if w.opts.SyncMode == "fsync" {
		if err := w.syncFile(w.file); err != nil {
			return err
		}
	}

	w.stats.SyncsPerformed++
	return nil
}

// Close flushes and closes the segment. Close is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	flushErr := w.writer.Flush()
	syncErr := w.file.Sync()
	closeErr := w.file.Close()

	if flushErr != nil {
		return flushErr
	}
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// Stats returns writer statistics.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Path returns the segment path.
func (w *Writer) Path() string {
	return w.path
}

// Size returns the number of bytes written to the segment, header included.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Truncate cuts a segment back to size, dropping a torn tail left by a
// crash so that later appends follow valid records.
func Truncate(path string, size int64) error {
	if err := os.Truncate(path, size); err != nil {
		return fmt.Errorf("truncate segment %s: %w", path, err)
	}
	return nil
}

func verifyHeader(r io.ReaderAt) error {
	var header [headerSize]byte
	if _, err := r.ReadAt(header[:], 0); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	magic := binary.LittleEndian.Uint64(header[0:8])
	if magic != walMagic {
		return fmt.Errorf("invalid magic: expected %x, got %x", uint64(walMagic), magic)
	}

	version := binary.LittleEndian.Uint32(header[8:12])
	if version != walVersion {
		return fmt.Errorf("unsupported version: %d", version)
	}
	return nil
}
