// Package partition maps instants to local partition dates and dates to the
// files that hold them.
//
// A partition is one calendar date in the network's home timezone. It is open
// while snapshots may still arrive and finalized once local wall-clock time
// passes the following midnight plus the seal margin.
package partition

import (
	"fmt"
	"time"
	_ "time/tzdata" // zone database for hosts without one

	"github.com/ecobici-cdmx/dockarchive/internal/storage/config"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// BucketsPerDay is the number of ten-minute buckets in a local day.
const BucketsPerDay = 144

// BucketCadence is the width of a day-series bucket.
const BucketCadence = 10 * time.Minute

// Calendar converts between UTC instants and local partition dates.
// It is immutable and safe for concurrent use.
type Calendar struct {
	loc        *time.Location
	sealMargin time.Duration
}

// NewCalendar creates a calendar for loc.
func NewCalendar(loc *time.Location, sealMargin time.Duration) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{loc: loc, sealMargin: sealMargin}
}

// FromConfig creates a calendar from the storage configuration.
func FromConfig(cfg *config.Config) (*Calendar, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return NewCalendar(loc, cfg.Partition.SealMargin), nil
}

// Location returns the calendar's timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// SealMargin returns how long a date stays open after its end.
func (c *Calendar) SealMargin() time.Duration {
	return c.sealMargin
}

// DateOf returns the local date containing t.
func (c *Calendar) DateOf(t time.Time) types.LocalDate {
	return types.DateOf(t.In(c.loc))
}

// Today returns the local date at now.
func (c *Calendar) Today(now time.Time) types.LocalDate {
	return c.DateOf(now)
}

// Bounds returns the UTC half-open range [start, end) covered by d.
func (c *Calendar) Bounds(d types.LocalDate) (time.Time, time.Time) {
	return d.Midnight(c.loc).UTC(), d.AddDays(1).Midnight(c.loc).UTC()
}

// FinalizedAt returns the instant at which d becomes read-only.
func (c *Calendar) FinalizedAt(d types.LocalDate) time.Time {
	_, end := c.Bounds(d)
	return end.Add(c.sealMargin)
}

// IsFinalized reports whether d is read-only at now.
func (c *Calendar) IsFinalized(d types.LocalDate, now time.Time) bool {
	return !now.Before(c.FinalizedAt(d))
}

// BucketStart returns the UTC start of bucket i of d. Boundaries follow local
// wall-clock time, so every date has the same number of buckets even when
// the zone shifts its offset.
func (c *Calendar) BucketStart(d types.LocalDate, i int, cadence time.Duration) time.Time {
	minutes := i * int(cadence/time.Minute)
	return time.Date(d.Year, d.Month, d.Day, 0, minutes, 0, 0, c.loc).UTC()
}

// BucketCount returns how many buckets of width cadence fit in a day.
func BucketCount(cadence time.Duration) int {
	if cadence <= 0 {
		return 0
	}
	return int(24 * time.Hour / cadence)
}

// TimeOfDay formats bucket i as "HH:MM".
func TimeOfDay(i int, cadence time.Duration) string {
	minutes := i * int(cadence/time.Minute)
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
