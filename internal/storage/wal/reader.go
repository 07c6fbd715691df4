package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// errTornTail marks a record cut short by a crash. Nothing after it can be
// trusted, so reading stops there.
var errTornTail = errors.New("torn record at segment tail")

// Reader reads snapshots from a WAL segment file.
type Reader struct {
	path   string
	file   *os.File
	r      *bufio.Reader
	offset int64 // end of the last complete record

	// Statistics
	stats ReaderStats
}

// ReaderStats holds WAL reader statistics.
type ReaderStats struct {
	RecordsRead    int64
	BytesRead      int64
	CorruptRecords int64
	TornTail       bool
}

// NewReader creates a new WAL reader for a segment file.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}

	if err := verifyHeader(f); err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.Seek(headerSize, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek segment: %w", err)
	}

	return &Reader{
		path:   path,
		file:   f,
		r:      bufio.NewReader(f),
		offset: headerSize,
	}, nil
}

// ReadAll reads all valid snapshots from the segment. Records whose CRC or
// payload is bad are counted and skipped; a torn tail ends the read.
func (r *Reader) ReadAll() ([]types.Snapshot, error) {
	var snapshots []types.Snapshot

	for {
		s, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if errors.Is(err, errTornTail) {
			r.stats.TornTail = true
			break
		}
		if err != nil {
			r.stats.CorruptRecords++
			continue
		}

		snapshots = append(snapshots, s)
	}

	return snapshots, nil
}

// ReadRecord reads the next record from the segment.
// Returns io.EOF when there are no more records.
func (r *Reader) ReadRecord() (types.Snapshot, error) {
	// Read record header
	var header [recordHeaderSize]byte
	n, err := io.ReadFull(r.r, header[:])
	if err == io.EOF {
		return types.Snapshot{}, io.EOF
	}
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("read record header (%d bytes): %w", n, errTornTail)
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])

	// A garbage length means the header itself is damaged
	if length == 0 || length > maxRecordSize {
		return types.Snapshot{}, fmt.Errorf("record length %d: %w", length, errTornTail)
	}

	// Read payload
	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return types.Snapshot{}, fmt.Errorf("read payload: %w", errTornTail)
	}

	r.offset += int64(recordHeaderSize) + int64(length)
	r.stats.BytesRead += int64(recordHeaderSize) + int64(length)

	// Verify CRC
	actualCRC := crc32.ChecksumIEEE(payload)
	if actualCRC != expectedCRC {
		return types.Snapshot{}, fmt.Errorf("CRC mismatch: expected %x, got %x", expectedCRC, actualCRC)
	}

	s, err := decodeSnapshot(payload)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	r.stats.RecordsRead++
	return s, nil
}

// Offset returns the byte offset just past the last complete record.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Close closes the reader.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Stats returns reader statistics.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// Path returns the segment path.
func (r *Reader) Path() string {
	return r.path
}

// ReplayResult is what recovery learns from one segment.
type ReplayResult struct {
	Snapshots []types.Snapshot
	ValidSize int64 // Truncate the segment to this size before appending
	FileSize  int64
	Stats     ReaderStats
}

// NeedsRepair reports whether the segment has bytes past its valid prefix.
func (r *ReplayResult) NeedsRepair() bool {
	return r.ValidSize < r.FileSize
}

// Replay reads every valid snapshot from the segment at path. A segment
// too short to hold a header replays as empty.
func Replay(path string) (*ReplayResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat segment: %w", err)
	}
	if info.Size() < headerSize {
		return &ReplayResult{FileSize: info.Size()}, nil
	}

	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	snapshots, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	return &ReplayResult{
		Snapshots: snapshots,
		ValidSize: r.Offset(),
		FileSize:  info.Size(),
		Stats:     r.Stats(),
	}, nil
}
