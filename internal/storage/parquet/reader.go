package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// SnapshotReader reads snapshots from a Parquet file.
type SnapshotReader struct {
	file   *os.File
	reader *parquet.GenericReader[SnapshotRow]
	path   string
}

// NewSnapshotReader creates a new snapshot Parquet reader.
func NewSnapshotReader(path string) (*SnapshotReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := parquet.NewGenericReader[SnapshotRow](f, parquet.ReadBufferSize(1024*1024))

	return &SnapshotReader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// Read reads up to n snapshots from the file. It returns io.EOF once the
// file is exhausted.
func (r *SnapshotReader) Read(n int) ([]types.Snapshot, error) {
	rows := make([]SnapshotRow, n)
	count, err := r.reader.Read(rows)
	if err != nil && !(errors.Is(err, io.EOF) && count > 0) {
		return nil, err
	}

	snapshots := make([]types.Snapshot, count)
	for i := 0; i < count; i++ {
		snapshots[i] = RowToSnapshot(&rows[i])
	}

	return snapshots, nil
}

// ReadAll reads all snapshots from the file.
func (r *SnapshotReader) ReadAll() ([]types.Snapshot, error) {
	numRows := r.reader.NumRows()
	rows := make([]SnapshotRow, numRows)

	n, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	snapshots := make([]types.Snapshot, n)
	for i := 0; i < n; i++ {
		snapshots[i] = RowToSnapshot(&rows[i])
	}

	return snapshots, nil
}

// NumRows returns the total number of rows in the file.
func (r *SnapshotReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *SnapshotReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *SnapshotReader) Path() string {
	return r.path
}

// ReadPartition reads every snapshot in the file at path.
func ReadPartition(path string) ([]types.Snapshot, error) {
	r, err := NewSnapshotReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.ReadAll()
}

// FileInfo holds information about a Parquet file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
}

// GetFileInfo returns information about a Parquet file.
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := parquet.NewGenericReader[SnapshotRow](f)
	defer reader.Close()

	info := &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: reader.NumRows(),
	}

	return info, nil
}
