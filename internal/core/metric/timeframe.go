package metric

import (
	"fmt"
	"time"
)

// Timeframe is a rolling (Day..Year) or cumulative (AllTime) counting window.
type Timeframe string

const (
	Day     Timeframe = "Day"
	Week    Timeframe = "Week"
	Month   Timeframe = "Month"
	Year    Timeframe = "Year"
	AllTime Timeframe = "AllTime"
)

// Timeframes is the fixed enumeration, narrowest window first.
// Aggregation, decay and age classification all iterate this slice.
var Timeframes = []Timeframe{Day, Week, Month, Year, AllTime}

// RollingTimeframes are the windows with a finite lower bound.
var RollingTimeframes = []Timeframe{Day, Week, Month, Year}

// Window returns the width of the rolling window. AllTime returns 0.
func (t Timeframe) Window() time.Duration {
	switch t {
	case Day:
		return 24 * time.Hour
	case Week:
		return 7 * 24 * time.Hour
	case Month:
		return 30 * 24 * time.Hour
	case Year:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}

// Since returns the inclusive lower bound of the window ending at now.
// The bool is false for AllTime, which has no lower bound.
func (t Timeframe) Since(now time.Time) (time.Time, bool) {
	w := t.Window()
	if w == 0 {
		return time.Time{}, false
	}
	return now.Add(-w), true
}

// Contains reports whether an event at eventAt falls inside the window ending at now.
func (t Timeframe) Contains(eventAt, now time.Time) bool {
	since, bounded := t.Since(now)
	if !bounded {
		return true
	}
	return !eventAt.Before(since)
}

// Valid reports whether t is one of the enumerated timeframes.
func (t Timeframe) Valid() bool {
	for _, tf := range Timeframes {
		if tf == t {
			return true
		}
	}
	return false
}

// ParseTimeframe parses the canonical timeframe name.
func ParseTimeframe(s string) (Timeframe, error) {
	t := Timeframe(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return t, nil
}

// WindowBounds holds the lower bound of every rolling timeframe for one run.
// Computing them once per batch keeps all timeframes of a row consistent.
type WindowBounds struct {
	Now   time.Time
	Since map[Timeframe]time.Time
}

// BoundsAt computes the rolling lower bounds ending at now.
func BoundsAt(now time.Time) WindowBounds {
	b := WindowBounds{Now: now, Since: make(map[Timeframe]time.Time, len(RollingTimeframes))}
	for _, tf := range RollingTimeframes {
		since, _ := tf.Since(now)
		b.Since[tf] = since
	}
	return b
}

// Ordered returns the rolling lower bounds in enumeration order (Day, Week, Month, Year).
func (b WindowBounds) Ordered() []time.Time {
	out := make([]time.Time, 0, len(RollingTimeframes))
	for _, tf := range RollingTimeframes {
		out = append(out, b.Since[tf])
	}
	return out
}
