package partition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// Layout knows where partition files live under the data directory.
//
//	{walDir}/2026-01-15.wal
//	{partitionDir}/year=2026/month=01/snapshots_20260115.parquet
type Layout struct {
	WALDir       string
	PartitionDir string
}

const (
	walExt        = ".wal"
	parquetPrefix = "snapshots_"
	parquetExt    = ".parquet"
	tmpSuffix     = ".tmp"
)

// WALPath returns the WAL segment for d.
func (l Layout) WALPath(d types.LocalDate) string {
	return filepath.Join(l.WALDir, d.String()+walExt)
}

// ParquetPath returns the sealed file for d.
func (l Layout) ParquetPath(d types.LocalDate) string {
	return filepath.Join(l.PartitionDir,
		fmt.Sprintf("year=%04d", d.Year),
		fmt.Sprintf("month=%02d", int(d.Month)),
		parquetPrefix+d.Compact()+parquetExt)
}

// TempPath returns the staging path used while sealing d.
func (l Layout) TempPath(d types.LocalDate) string {
	return l.ParquetPath(d) + tmpSuffix
}

// Glob returns a pattern matching every sealed file, for DuckDB.
func (l Layout) Glob() string {
	return filepath.Join(l.PartitionDir, "year=*", "month=*", parquetPrefix+"*"+parquetExt)
}

// WALDates lists dates with a WAL segment, ascending.
func (l Layout) WALDates() ([]types.LocalDate, error) {
	entries, err := os.ReadDir(l.WALDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read wal dir: %w", err)
	}

	var dates []types.LocalDate
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), walExt) {
			continue
		}
		d, err := types.ParseDate(strings.TrimSuffix(e.Name(), walExt))
		if err != nil {
			continue
		}
		dates = append(dates, d)
	}

	sortDates(dates)
	return dates, nil
}

// SealedDates lists dates with a sealed file, ascending. Leftover staging
// files are ignored.
func (l Layout) SealedDates() ([]types.LocalDate, error) {
	var dates []types.LocalDate

	err := filepath.WalkDir(l.PartitionDir, func(path string, e os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if e.IsDir() {
			return nil
		}
		if d, ok := ParseParquetName(e.Name()); ok {
			dates = append(dates, d)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("walk partition dir: %w", err)
	}

	sortDates(dates)
	return dates, nil
}

// ParseParquetName extracts the date from a sealed file name.
func ParseParquetName(name string) (types.LocalDate, bool) {
	if !strings.HasPrefix(name, parquetPrefix) || !strings.HasSuffix(name, parquetExt) {
		return types.LocalDate{}, false
	}
	compact := strings.TrimSuffix(strings.TrimPrefix(name, parquetPrefix), parquetExt)
	if len(compact) != 8 {
		return types.LocalDate{}, false
	}
	d, err := types.ParseDate(compact[0:4] + "-" + compact[4:6] + "-" + compact[6:8])
	if err != nil {
		return types.LocalDate{}, false
	}
	return d, true
}

func sortDates(dates []types.LocalDate) {
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
}
