// Package lags resolves the station state a fixed number of minutes before a
// target instant, the lag values a prediction model consumes.
//
// Each offset is a point read against the snapshot store with a bounded
// lookback. When nothing falls inside the window the station's most recent
// snapshot is substituted and the lag is marked as a fallback, so callers
// can tell an observed value from a substituted one. A station with no
// snapshots at all is an error, never a zero.
package lags
