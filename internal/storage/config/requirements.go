package config

import (
	"fmt"
)

// Requirements represents calculated resource requirements.
type Requirements struct {
	// Throughput
	SnapshotsPerMinute int64
	SnapshotsPerDay    int64

	// Memory requirements
	OpenPartitionBytes int64 // Today's memtable (and yesterday's during the seal margin)
	SealedCacheBytes   int64
	TotalRAMBytes      int64

	// Storage requirements
	WALBytesPerDay     int64
	ParquetBytesPerDay int64
	RetainedBytes      int64 // Zero when retention keeps everything
	BytesPerYear       int64
}

// Constants for calculations
const (
	// Bytes per snapshot held in a memtable
	bytesPerSnapshotInMemory = 112

	// Bytes per WAL record (length, CRC, protobuf body)
	bytesPerWALRecord = 48

	// Bytes per Parquet row (compressed, columns sorted by station and time)
	bytesPerParquetRowCompressed = 6
)

// CalculateRequirements computes resource requirements based on configuration.
func (c *Config) CalculateRequirements() Requirements {
	r := Requirements{}

	perStationPerMinute := float64(60) / float64(c.Scale.CadenceSec)
	r.SnapshotsPerMinute = int64(float64(c.Scale.Stations) * perStationPerMinute)
	r.SnapshotsPerDay = r.SnapshotsPerMinute * 1440

	// -------------------------------------------------------------------------
	// Memory Requirements
	// -------------------------------------------------------------------------

	dayInMemory := r.SnapshotsPerDay * bytesPerSnapshotInMemory
	r.OpenPartitionBytes = 2 * dayInMemory
	r.SealedCacheBytes = int64(c.SealedCachePartitions) * dayInMemory

	r.TotalRAMBytes = r.OpenPartitionBytes + r.SealedCacheBytes + parseMemoryLimit(c.Query.MemoryLimit)
	// Add 512MB for the Go runtime and the result cache
	r.TotalRAMBytes += 512 * 1024 * 1024

	// -------------------------------------------------------------------------
	// Storage Requirements
	// -------------------------------------------------------------------------

	r.WALBytesPerDay = r.SnapshotsPerDay * bytesPerWALRecord
	r.ParquetBytesPerDay = r.SnapshotsPerDay * bytesPerParquetRowCompressed
	r.BytesPerYear = r.ParquetBytesPerDay * 365
	if c.Retention.KeepDays > 0 {
		r.RetainedBytes = r.ParquetBytesPerDay*int64(c.Retention.KeepDays) + 2*r.WALBytesPerDay
	}

	return r
}

// FormatRequirements returns a human-readable summary of requirements.
func (r *Requirements) FormatRequirements() string {
	retained := "unbounded (retention disabled)"
	if r.RetainedBytes > 0 {
		retained = formatBytes(r.RetainedBytes)
	}

	return fmt.Sprintf(`Resource Requirements
=====================

Throughput:
  Snapshots/minute:  %s
  Snapshots/day:     %s

Memory:
  Open Partitions:   %s
  Sealed Cache:      %s
  Total RAM:         %s (recommended)

Storage:
  WAL/day:           %s
  Parquet/day:       %s
  Parquet/year:      %s
  Retained:          %s
`,
		formatNumber(r.SnapshotsPerMinute),
		formatNumber(r.SnapshotsPerDay),
		formatBytes(r.OpenPartitionBytes),
		formatBytes(r.SealedCacheBytes),
		formatBytes(r.TotalRAMBytes),
		formatBytes(r.WALBytesPerDay),
		formatBytes(r.ParquetBytesPerDay),
		formatBytes(r.BytesPerYear),
		retained,
	)
}

// parseMemoryLimit parses a memory limit string like "2GB" into bytes.
func parseMemoryLimit(s string) int64 {
	if s == "" {
		return 1024 * 1024 * 1024 // Default 1GB
	}

	var value int64
	unit := ""
	for i, c := range s {
		if c < '0' || c > '9' {
			fmt.Sscanf(s[:i], "%d", &value)
			unit = s[i:]
			break
		}
	}
	if unit == "" {
		fmt.Sscanf(s, "%d", &value)
	}

	switch unit {
	case "B", "b", "":
		return value
	case "KB", "kb", "K", "k":
		return value * 1024
	case "MB", "mb", "M", "m":
		return value * 1024 * 1024
	case "GB", "gb", "G", "g":
		return value * 1024 * 1024 * 1024
	case "TB", "tb", "T", "t":
		return value * 1024 * 1024 * 1024 * 1024
	default:
		return value
	}
}

// formatBytes formats bytes as a human-readable string.
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

// formatNumber formats a number with thousand separators.
func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	if n < 1000000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	return fmt.Sprintf("%.1fB", float64(n)/1000000000)
}
