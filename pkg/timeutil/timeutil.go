// Package timeutil provides wall-clock helpers for per-user time zones:
// parsing "HH:MM" clock strings, minute-of-day arithmetic and daily windows
// that may wrap past midnight.
// No external dependencies - uses only standard library.
package timeutil

import (
	"errors"
	"fmt"
	"sync"
	"time"
	_ "time/tzdata"
)

// MinutesPerDay is the number of minutes in a wall-clock day.
const MinutesPerDay = 24 * 60

// Common date/time formats.
const (
	// FormatClock is the wall-clock format used by preferences (HH:MM).
	FormatClock = "15:04"
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
)

// ErrInvalidClock is returned when a string is not a valid HH:MM clock.
var ErrInvalidClock = errors.New("clock must be HH:MM in 00:00-23:59")

// Clock is a wall-clock time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses a strict two-digit "HH:MM" string.
func ParseClock(s string) (Clock, error) {
	if len(s) != 5 || s[2] != ':' {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, okH := twoDigits(s[0], s[1])
	m, okM := twoDigits(s[3], s[4])
	if !okH || !okM || h > 23 || m > 59 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

// MustParseClock is ParseClock for constants; it panics on bad input.
func MustParseClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

// Minutes returns the clock as minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

// String formats the clock as HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// MinuteOfDay returns minutes since local midnight for t in its own location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// InDailyWindow reports whether minute m falls in [start, end).
// When start > end the window wraps past midnight. An empty window
// (start == end) contains nothing.
func InDailyWindow(start, end, m int) bool {
	if start <= end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

// ═══════════════════════════════════════════════════════════════════════════
// Time zones
// ═══════════════════════════════════════════════════════════════════════════

var (
	locMu    sync.RWMutex
	locCache = map[string]*time.Location{"UTC": time.UTC, "": time.UTC}
)

// LoadLocation resolves an IANA zone name, caching results.
// An empty name resolves to UTC.
func LoadLocation(name string) (*time.Location, error) {
	locMu.RLock()
	loc, ok := locCache[name]
	locMu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}

	locMu.Lock()
	locCache[name] = loc
	locMu.Unlock()
	return loc, nil
}

// In converts t into the named zone, falling back to UTC for unknown names.
func In(t time.Time, zone string) time.Time {
	loc, err := LoadLocation(zone)
	if err != nil {
		return t.UTC()
	}
	return t.In(loc)
}

// StartOfDay returns local midnight of t in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DaysAgo returns the instant n days before now, truncated to UTC midnight.
func DaysAgo(now time.Time, n int) time.Time {
	return StartOfDay(now.UTC()).AddDate(0, 0, -n)
}
