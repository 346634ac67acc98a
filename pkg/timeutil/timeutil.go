// Package timeutil provides timezone-aware calendar helpers for Practice Hub.
// Streaks are counted in calendar days of the practice timezone, and time-of-day
// badges read the local hour, so every day/hour computation goes through here.
package timeutil

import (
	"time"
)

// DefaultTimezone is used when no timezone is configured.
const DefaultTimezone = "UTC"

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04:05"
)

// Clock abstracts the current time so handlers can be tested against fixed dates.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock struct {
	T time.Time
}

// Now implements Clock.
func (c FixedClock) Now() time.Time { return c.T }

// LoadLocation resolves a timezone name, falling back to UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// StartOfDay returns local midnight of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(orUTC(loc))
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}

// DateOnly returns the calendar date of t in loc as a UTC midnight value.
// Dates stored this way compare and subtract without DST surprises.
func DateOnly(t time.Time, loc *time.Location) time.Time {
	local := t.In(orUTC(loc))
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the signed number of calendar days from a to b in loc.
func DaysBetween(a, b time.Time, loc *time.Location) int {
	da := DateOnly(a, loc)
	db := DateOnly(b, loc)
	return int(db.Sub(da).Hours() / 24)
}

// IsSameDay checks if two times fall on the same calendar day in loc.
func IsSameDay(a, b time.Time, loc *time.Location) bool {
	return DaysBetween(a, b, loc) == 0
}

// IsConsecutiveDay checks if b is the calendar day after a.
func IsConsecutiveDay(a, b time.Time, loc *time.Location) bool {
	return DaysBetween(a, b, loc) == 1
}

// LocalHour returns the hour of t in loc.
func LocalHour(t time.Time, loc *time.Location) int {
	return t.In(orUTC(loc)).Hour()
}

// FormatDateStr formats t as YYYY-MM-DD in loc.
func FormatDateStr(t time.Time, loc *time.Location) string {
	return t.In(orUTC(loc)).Format(FormatDate)
}

// ParseDate parses a YYYY-MM-DD string as a UTC date.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(FormatDate, value, time.UTC)
}
