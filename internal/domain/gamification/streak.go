package gamification

import (
	"time"

	"github.com/keystep/practice-hub/pkg/timeutil"
)

// StreakOutcome names what a practice day did to the streak.
type StreakOutcome string

const (
	StreakUnchanged StreakOutcome = "unchanged"
	StreakStarted   StreakOutcome = "started"
	StreakContinued StreakOutcome = "continued"
	StreakProtected StreakOutcome = "protected"
	StreakReset     StreakOutcome = "reset"
	StreakClockSkew StreakOutcome = "clock_skew"
)

// StreakResult reports a streak update.
type StreakResult struct {
	Outcome        StreakOutcome `json:"outcome"`
	PreviousStreak int           `json:"previous_streak"`
	CurrentStreak  int           `json:"current_streak"`
	LongestStreak  int           `json:"longest_streak"`
	ShieldUsed     bool          `json:"shield_used"`
	ShieldsLeft    int           `json:"shields_left"`
	GapDays        int           `json:"gap_days"`
}

// Changed reports whether stats were modified.
func (r StreakResult) Changed() bool {
	return r.Outcome != StreakUnchanged && r.Outcome != StreakClockSkew
}

// StreakTracker applies daily continuity rules in a fixed timezone.
type StreakTracker struct {
	loc *time.Location
}

// NewStreakTracker creates a tracker that counts calendar days in loc.
func NewStreakTracker(loc *time.Location) *StreakTracker {
	if loc == nil {
		loc = time.UTC
	}
	return &StreakTracker{loc: loc}
}

// Location returns the timezone used for day boundaries.
func (t *StreakTracker) Location() *time.Location {
	return t.loc
}

// RecordPractice updates the streak on stats for a practice at today.
// A shield forgives one gap of any length. A last practice date in the
// future leaves everything untouched.
func (t *StreakTracker) RecordPractice(stats *UserStats, today time.Time) StreakResult {
	result := StreakResult{
		PreviousStreak: stats.CurrentStreak,
		CurrentStreak:  stats.CurrentStreak,
		LongestStreak:  stats.LongestStreak,
		ShieldsLeft:    stats.StreakShieldCount,
	}

	day := timeutil.DateOnly(today, t.loc)

	if stats.LastPracticeDate == nil {
		stats.CurrentStreak = 1
		result.Outcome = StreakStarted
	} else {
		// LastPracticeDate is already a calendar date.
		gap := int(day.Sub(timeutil.DateOnly(*stats.LastPracticeDate, time.UTC)).Hours() / 24)
		result.GapDays = gap

		switch {
		case gap < 0:
			result.Outcome = StreakClockSkew
			return result
		case gap == 0:
			result.Outcome = StreakUnchanged
			return result
		case gap == 1:
			stats.CurrentStreak++
			result.Outcome = StreakContinued
		case stats.StreakShieldCount > 0:
			stats.CurrentStreak++
			stats.StreakShieldCount--
			result.ShieldUsed = true
			result.Outcome = StreakProtected
		default:
			stats.CurrentStreak = 1
			result.Outcome = StreakReset
		}
	}

	if stats.CurrentStreak > stats.LongestStreak {
		stats.LongestStreak = stats.CurrentStreak
	}
	stats.LastPracticeDate = &day

	result.CurrentStreak = stats.CurrentStreak
	result.LongestStreak = stats.LongestStreak
	result.ShieldsLeft = stats.StreakShieldCount
	return result
}
