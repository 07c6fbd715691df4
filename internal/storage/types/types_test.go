package types

import (
	"testing"
	"time"
)

func TestSnapshotKey(t *testing.T) {
	s := Snapshot{
		StationID:  "27",
		CapturedAt: time.UnixMilli(1768500000123),
	}

	expected := "27@1768500000123"
	if s.Key() != expected {
		t.Errorf("expected %s, got %s", expected, s.Key())
	}
}

func TestSnapshotNormalize(t *testing.T) {
	loc := time.FixedZone("CST", -6*3600)
	s := Snapshot{
		StationID:  "27",
		CapturedAt: time.Date(2026, 1, 15, 8, 0, 0, 123456789, loc),
	}
	s.Normalize()

	if s.CapturedAt.Location() != time.UTC {
		t.Errorf("expected UTC, got %v", s.CapturedAt.Location())
	}
	if s.CapturedAt.Nanosecond() != 123000000 {
		t.Errorf("expected truncation to ms, got %d ns", s.CapturedAt.Nanosecond())
	}
	if !s.LastReported.IsZero() {
		t.Error("zero LastReported should stay zero")
	}
}

func TestSnapshotBatch(t *testing.T) {
	batch := NewSnapshotBatch(10)

	if batch.Len() != 0 {
		t.Errorf("expected empty batch")
	}

	batch.Add(Snapshot{StationID: "1"})
	batch.Add(Snapshot{StationID: "2"})

	if batch.Len() != 2 {
		t.Errorf("expected 2 snapshots, got %d", batch.Len())
	}

	batch.Clear()
	if batch.Len() != 0 {
		t.Errorf("expected empty batch after clear")
	}
}

func TestLocalDateFormatting(t *testing.T) {
	d := LocalDate{Year: 2026, Month: time.March, Day: 7}

	if d.String() != "2026-03-07" {
		t.Errorf("String() = %s", d.String())
	}
	if d.Compact() != "20260307" {
		t.Errorf("Compact() = %s", d.Compact())
	}

	parsed, err := ParseDate("2026-03-07")
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	if parsed != d {
		t.Errorf("ParseDate = %v, want %v", parsed, d)
	}

	if _, err := ParseDate("07/03/2026"); err == nil {
		t.Error("expected error for bad format")
	}
}

func TestLocalDateArithmetic(t *testing.T) {
	tests := []struct {
		name string
		from LocalDate
		days int
		want LocalDate
	}{
		{"next day", LocalDate{2026, time.January, 15}, 1, LocalDate{2026, time.January, 16}},
		{"month rollover", LocalDate{2026, time.January, 31}, 1, LocalDate{2026, time.February, 1}},
		{"year rollback", LocalDate{2026, time.January, 1}, -1, LocalDate{2025, time.December, 31}},
		{"leap day", LocalDate{2028, time.February, 28}, 1, LocalDate{2028, time.February, 29}},
		{"thirty back", LocalDate{2026, time.March, 1}, -30, LocalDate{2026, time.January, 30}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.AddDays(tt.days); got != tt.want {
				t.Errorf("AddDays(%d) = %v, want %v", tt.days, got, tt.want)
			}
		})
	}
}

func TestLocalDateWeekday(t *testing.T) {
	// 2026-01-15 is a Thursday
	d := LocalDate{2026, time.January, 15}
	if d.Weekday() != time.Thursday {
		t.Errorf("Weekday() = %v", d.Weekday())
	}
	if d.IsWeekend() {
		t.Error("Thursday is not weekend")
	}
	if !d.AddDays(2).IsWeekend() {
		t.Error("Saturday should be weekend")
	}
}

func TestLocalDateCompare(t *testing.T) {
	a := LocalDate{2026, time.January, 15}
	b := LocalDate{2026, time.February, 1}

	if !a.Before(b) || a.After(b) {
		t.Error("expected a < b")
	}
	if a.Compare(a) != 0 {
		t.Error("expected a == a")
	}
	if (LocalDate{}).IsZero() != true {
		t.Error("zero value should be zero")
	}
}

func TestBucketStatsPercentiles(t *testing.T) {
	b := BucketStats{}

	if !b.IsEmpty() {
		t.Error("expected empty")
	}
	if b.HasPercentiles() {
		t.Error("expected no percentiles")
	}

	b.SetPercentiles(5, 9)

	if !b.HasPercentiles() {
		t.Error("expected percentiles")
	}
	if *b.P50 != 5 || *b.P90 != 9 {
		t.Errorf("unexpected percentiles %v %v", *b.P50, *b.P90)
	}
}
