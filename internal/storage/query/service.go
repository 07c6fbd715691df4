package query

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/ecobici-cdmx/dockarchive/internal/storage/config"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/partition"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// SnapshotsTable is the placeholder ExecuteSQL expands to a scan of every
// sealed partition.
const SnapshotsTable = "{snapshots}"

// Service runs DuckDB queries over sealed Parquet partitions. Open
// partitions are not visible to it.
type Service struct {
	cfg    *config.Config
	db     *sql.DB
	layout partition.Layout

	// Statistics
	queriesExecuted atomic.Int64
	rowsReturned    atomic.Int64
	errors          atomic.Int64
}

// DailySummary holds one station's statistics for one sealed date.
type DailySummary struct {
	Date       types.LocalDate
	StationID  string
	Snapshots  int64
	MinBikes   int64
	AvgBikes   float64
	MaxBikes   int64
	FirstMs    int64
	LastMs     int64
	ZeroBikes  int64 // snapshots with no bike available
	NotRenting int64 // snapshots with is_renting false
}

// Result is the outcome of an ad-hoc query, columns in select order.
type Result struct {
	Columns   []string
	Rows      [][]interface{}
	Truncated bool
}

// New creates a new query service over cfg's partition directory.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Open in-memory DuckDB database
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	// Configure DuckDB
	if cfg.Query.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.Query.MemoryLimit))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{
		cfg: cfg,
		db:  db,
		layout: partition.Layout{
			WALDir:       cfg.WALDir(),
			PartitionDir: cfg.PartitionDir(),
		},
	}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Files returns the sealed files for dates in [from, to], ascending.
// Dates without a file are skipped.
func (s *Service) Files(from, to types.LocalDate) []string {
	var files []string
	for d := from; !d.After(to); d = d.AddDays(1) {
		path := s.layout.ParquetPath(d)
		if _, err := os.Stat(path); err == nil {
			files = append(files, path)
		}
	}
	return files
}

// DailySummary returns per-date, per-station statistics for sealed dates in
// [from, to]. Dates without a sealed file contribute nothing.
func (s *Service) DailySummary(ctx context.Context, from, to types.LocalDate) ([]DailySummary, error) {
	files := s.Files(from, to)
	if len(files) == 0 {
		return []DailySummary{}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT
			filename,
			station_id,
			count(*),
			min(num_bikes_available),
			avg(num_bikes_available),
			max(num_bikes_available),
			min(captured_at_ms),
			max(captured_at_ms),
			count(*) FILTER (WHERE num_bikes_available = 0),
			count(*) FILTER (WHERE NOT is_renting)
		FROM read_parquet(` + sqlList(files) + `, filename=true)
		GROUP BY filename, station_id
		ORDER BY filename, station_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.errors.Add(1)
		return nil, fmt.Errorf("daily summary: %w", err)
	}
	defer rows.Close()

	out := []DailySummary{}
	for rows.Next() {
		var file string
		var r DailySummary
		err := rows.Scan(&file, &r.StationID,
			&r.Snapshots, &r.MinBikes, &r.AvgBikes, &r.MaxBikes,
			&r.FirstMs, &r.LastMs, &r.ZeroBikes, &r.NotRenting)
		if err != nil {
			s.errors.Add(1)
			return nil, fmt.Errorf("scan row: %w", err)
		}

		d, ok := partition.ParseParquetName(filepath.Base(file))
		if !ok {
			return nil, fmt.Errorf("unexpected partition file %q", file)
		}
		r.Date = d
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		s.errors.Add(1)
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	s.queriesExecuted.Add(1)
	s.rowsReturned.Add(int64(len(out)))
	return out, nil
}

// ExecuteSQL executes a raw SQL query using DuckDB. {snapshots} in the
// query reads every sealed partition. At most query.max_rows rows are
// returned.
func (s *Service) ExecuteSQL(ctx context.Context, query string) (*Result, error) {
	query = s.ExpandTables(query)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.errors.Add(1)
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		if s.cfg.Query.MaxRows > 0 && len(result.Rows) >= s.cfg.Query.MaxRows {
			result.Truncated = true
			break
		}

		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		s.errors.Add(1)
		return nil, err
	}

	s.queriesExecuted.Add(1)
	s.rowsReturned.Add(int64(len(result.Rows)))
	return result, nil
}

// ExpandTables replaces {snapshots} with a scan of the sealed partitions.
func (s *Service) ExpandTables(query string) string {
	scan := "read_parquet(" + sqlString(s.layout.Glob()) + ", filename=true)"
	return strings.ReplaceAll(query, SnapshotsTable, scan)
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Query.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Query.Timeout)
	}
	return context.WithCancel(ctx)
}

// Stats returns query statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		QueriesExecuted: s.queriesExecuted.Load(),
		RowsReturned:    s.rowsReturned.Load(),
		Errors:          s.errors.Load(),
	}
}

// ServiceStats holds service statistics.
type ServiceStats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func sqlList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = sqlString(item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
