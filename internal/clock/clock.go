// Package clock resolves "now" in the clinic's local time zone and formats the
// day key used by every appointment lookup.
package clock

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DayKeyLayout renders dates as "19 October 2026".
const DayKeyLayout = "2 January 2006"

// DisplayTimeLayout renders slot times as "09:05 AM".
const DisplayTimeLayout = "03:04 PM"

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// Clinic is a wall clock pinned to the clinic's time zone.
type Clinic struct {
	loc *time.Location
}

// NewClinic returns a clinic clock. A nil location means UTC.
func NewClinic(loc *time.Location) *Clinic {
	if loc == nil {
		loc = time.UTC
	}
	return &Clinic{loc: loc}
}

// Now returns the current time in the clinic zone.
func (c *Clinic) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the clinic zone.
func (c *Clinic) Location() *time.Location {
	return c.loc
}

// Fixed is a settable clock for tests and replays.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed returns a clock frozen at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// DayKey formats t's calendar day in its own location.
func DayKey(t time.Time) string {
	return t.Format(DayKeyLayout)
}

// ParseDayKey parses a day key into midnight of that day in loc.
func ParseDayKey(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(DayKeyLayout, strings.TrimSpace(key), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("clock: parse day key %q: %w", key, err)
	}
	return day, nil
}

// StartOfDay truncates t to local midnight.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// AtClock combines the calendar day of day with an "HH:MM" (24h) clock string.
func AtClock(day time.Time, hhmm string) (time.Time, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return time.Time{}, fmt.Errorf("clock: parse %q: %w", hhmm, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), parsed.Hour(), parsed.Minute(), 0, 0, day.Location()), nil
}

// DisplayTime formats t for the appointment's human-facing time field.
func DisplayTime(t time.Time) string {
	return t.Format(DisplayTimeLayout)
}

// MinutesBetween returns whole minutes from a to b, truncated toward zero.
func MinutesBetween(a, b time.Time) int {
	return int(b.Sub(a) / time.Minute)
}
