// Package parquet implements Parquet file reading and writing for sealed
// snapshot partitions.
//
// The package provides:
//   - SnapshotWriter/SnapshotReader for one partition file
//   - WritePartition, which stages a file and renames it into place
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Type conversion between storage types and Parquet rows
package parquet
