package history

import (
	"strings"
	"time"

	"github.com/ecobici-cdmx/dockarchive/internal/errors"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// Filter selects which dates of a window feed a profile.
type Filter int

const (
	FilterAll Filter = iota
	FilterWeekday
	FilterWeekend
	FilterSunday
	FilterMonday
	FilterTuesday
	FilterWednesday
	FilterThursday
	FilterFriday
	FilterSaturday
)

var filterNames = map[Filter]string{
	FilterAll:       "all",
	FilterWeekday:   "weekday",
	FilterWeekend:   "weekend",
	FilterSunday:    "sunday",
	FilterMonday:    "monday",
	FilterTuesday:   "tuesday",
	FilterWednesday: "wednesday",
	FilterThursday:  "thursday",
	FilterFriday:    "friday",
	FilterSaturday:  "saturday",
}

// Spanish day names as the public routes spell them.
var filterAliases = map[string]Filter{
	"":            FilterAll,
	"todos":       FilterAll,
	"weekdays":    FilterWeekday,
	"entresemana": FilterWeekday,
	"weekends":    FilterWeekend,
	"findesemana": FilterWeekend,
	"domingo":     FilterSunday,
	"lunes":       FilterMonday,
	"martes":      FilterTuesday,
	"miercoles":   FilterWednesday,
	"miércoles":   FilterWednesday,
	"jueves":      FilterThursday,
	"viernes":     FilterFriday,
	"sabado":      FilterSaturday,
	"sábado":      FilterSaturday,
}

// ParseFilter parses a filter name. English and Spanish day names are
// accepted, case-insensitively.
func ParseFilter(s string) (Filter, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for f, n := range filterNames {
		if n == name {
			return f, nil
		}
	}
	if f, ok := filterAliases[name]; ok {
		return f, nil
	}
	return FilterAll, errors.NewInvalidArgument("filter", s, "unknown weekday filter")
}

// ForWeekday returns the filter matching exactly wd.
func ForWeekday(wd time.Weekday) Filter {
	return FilterSunday + Filter(wd)
}

// String returns the canonical filter name.
func (f Filter) String() string {
	if n, ok := filterNames[f]; ok {
		return n
	}
	return "unknown"
}

// Weekday returns the single day f selects, if any.
func (f Filter) Weekday() (time.Weekday, bool) {
	if f < FilterSunday || f > FilterSaturday {
		return 0, false
	}
	return time.Weekday(f - FilterSunday), true
}

// Matches reports whether d passes the filter.
func (f Filter) Matches(d types.LocalDate) bool {
	switch f {
	case FilterAll:
		return true
	case FilterWeekday:
		return !d.IsWeekend()
	case FilterWeekend:
		return d.IsWeekend()
	}
	wd, ok := f.Weekday()
	return ok && d.Weekday() == wd
}
