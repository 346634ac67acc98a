package gamification

import (
	"sort"
	"time"

	"github.com/keystep/practice-hub/pkg/timeutil"
)

// CriteriaType selects how a badge's CriteriaValue is interpreted.
type CriteriaType string

const (
	CriteriaTotalXP          CriteriaType = "total_xp"
	CriteriaLevelReached     CriteriaType = "level_reached"
	CriteriaPracticeSessions CriteriaType = "practice_sessions"
	CriteriaTotalTime        CriteriaType = "total_time"
	CriteriaLongSession      CriteriaType = "long_session"
	CriteriaImprovementCount CriteriaType = "improvement_count"
	CriteriaStreak           CriteriaType = "streak"
	CriteriaLongSessionCount CriteriaType = "long_session_count"
	CriteriaComeback         CriteriaType = "comeback"
	CriteriaTimeOfDay        CriteriaType = "time_of_day"
	CriteriaCurriculumSteps  CriteriaType = "curriculum_steps"
	CriteriaCurriculumFocus  CriteriaType = "curriculum_focus"
)

// NeedsSessions reports whether evaluating this criteria reads session history.
func (c CriteriaType) NeedsSessions() bool {
	switch c {
	case CriteriaTotalTime, CriteriaLongSession, CriteriaImprovementCount,
		CriteriaLongSessionCount, CriteriaComeback, CriteriaTimeOfDay:
		return true
	}
	return false
}

// IsCurriculum reports whether the criteria reads curriculum progress.
func (c CriteriaType) IsCurriculum() bool {
	return c == CriteriaCurriculumSteps || c == CriteriaCurriculumFocus
}

// Time-of-day modes carried in CriteriaValue.
const (
	TimeOfDayEarlyBird = 1
	TimeOfDayNightOwl  = 2
)

// BadgeDefinition is read-only reference data describing one badge.
type BadgeDefinition struct {
	Key            string            `json:"key"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Category       string            `json:"category"`
	CriteriaType   CriteriaType      `json:"criteria_type"`
	CriteriaValue  int               `json:"criteria_value"`
	XPReward       int               `json:"xp_reward"`
	GemReward      int               `json:"gem_reward"`
	Notify         bool              `json:"notify"`
	NotifyEventKey string            `json:"notify_event_key,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Active         bool              `json:"active"`
	SortOrder      int               `json:"sort_order"`
}

// UserBadge records that a user earned a badge.
type UserBadge struct {
	UserID   string    `json:"user_id"`
	BadgeKey string    `json:"badge_key"`
	EarnedAt time.Time `json:"earned_at"`
}

// AwardedBadge is a badge granted during one evaluation pass.
type AwardedBadge struct {
	Badge       BadgeDefinition `json:"badge"`
	EarnedAt    time.Time       `json:"earned_at"`
	GemsGranted int             `json:"gems_granted"`
	LevelChange LevelChange     `json:"level_change"`
}

// SortDefinitions orders definitions the way the catalog evaluates them.
func SortDefinitions(defs []*BadgeDefinition) {
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].SortOrder != defs[j].SortOrder {
			return defs[i].SortOrder < defs[j].SortOrder
		}
		return defs[i].Key < defs[j].Key
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// RULES
// ══════════════════════════════════════════════════════════════════════════════

// BadgeRules holds the fixed thresholds of the session-pattern criteria.
type BadgeRules struct {
	LongSessionMinutes int

	ComebackMinSessions     int
	ComebackRecentWindow    int
	ComebackGapDays         int
	ComebackFollowupDays    int
	ComebackFollowupSession int

	TimeOfDaySessions int
	EarlyBirdStart    int
	EarlyBirdEnd      int
	NightOwlStart     int
	NightOwlEnd       int
}

// DefaultBadgeRules returns the standard thresholds.
func DefaultBadgeRules() BadgeRules {
	return BadgeRules{
		LongSessionMinutes:      30,
		ComebackMinSessions:     3,
		ComebackRecentWindow:    10,
		ComebackGapDays:         7,
		ComebackFollowupDays:    7,
		ComebackFollowupSession: 3,
		TimeOfDaySessions:       10,
		EarlyBirdStart:          5,
		EarlyBirdEnd:            8,
		NightOwlStart:           22,
		NightOwlEnd:             6,
	}
}

// CurriculumFacts is the curriculum progress visible to badge criteria.
type CurriculumFacts struct {
	StepsCompleted   int
	FocusesCompleted int
}

// Snapshot is everything one criteria check may look at.
type Snapshot struct {
	Stats      *UserStats
	Sessions   []*PracticeSession // newest first
	Curriculum *CurriculumFacts
}

// Qualifies evaluates a definition against the snapshot.
// Unknown criteria never qualify, and curriculum criteria need curriculum facts.
func (r BadgeRules) Qualifies(def *BadgeDefinition, snap Snapshot, loc *time.Location) bool {
	stats := snap.Stats
	value := def.CriteriaValue

	switch def.CriteriaType {
	case CriteriaTotalXP:
		return stats.TotalXP >= value
	case CriteriaLevelReached:
		return stats.CurrentLevel >= value
	case CriteriaPracticeSessions:
		return stats.TotalSessions >= value
	case CriteriaStreak:
		return stats.CurrentStreak >= value
	case CriteriaTotalTime, CriteriaLongSession:
		for _, s := range snap.Sessions {
			if s.DurationMinutes >= value {
				return true
			}
		}
		return false
	case CriteriaImprovementCount:
		n := 0
		for _, s := range snap.Sessions {
			if s.ImprovementDetected {
				n++
			}
		}
		return n >= value
	case CriteriaLongSessionCount:
		n := 0
		for _, s := range snap.Sessions {
			if s.DurationMinutes >= r.LongSessionMinutes {
				n++
			}
		}
		return n >= value
	case CriteriaComeback:
		return r.IsComeback(snap.Sessions)
	case CriteriaTimeOfDay:
		return r.MatchesTimeOfDay(snap.Sessions, value, loc)
	case CriteriaCurriculumSteps:
		return snap.Curriculum != nil && snap.Curriculum.StepsCompleted >= value
	case CriteriaCurriculumFocus:
		return snap.Curriculum != nil && snap.Curriculum.FocusesCompleted >= value
	}
	return false
}

// IsComeback looks for the most recent long break among the latest sessions
// and checks that practice resumed with enough sessions right after it.
func (r BadgeRules) IsComeback(sessions []*PracticeSession) bool {
	if len(sessions) < r.ComebackMinSessions {
		return false
	}

	sorted := make([]*PracticeSession, len(sessions))
	copy(sorted, sessions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	window := len(sorted)
	if r.ComebackRecentWindow > 0 && window > r.ComebackRecentWindow {
		window = r.ComebackRecentWindow
	}

	gap := days(r.ComebackGapDays)
	for i := 0; i < window-1; i++ {
		if sorted[i].CreatedAt.Sub(sorted[i+1].CreatedAt) < gap {
			continue
		}

		anchor := sorted[i].CreatedAt
		until := anchor.Add(days(r.ComebackFollowupDays))
		followups := 0
		for j := 0; j <= i; j++ {
			if !sorted[j].CreatedAt.After(until) {
				followups++
			}
		}
		return followups >= r.ComebackFollowupSession
	}
	return false
}

// MatchesTimeOfDay counts sessions in the early-bird or night-owl window.
// mode selects the window; the session threshold is fixed by the rules.
func (r BadgeRules) MatchesTimeOfDay(sessions []*PracticeSession, mode int, loc *time.Location) bool {
	n := 0
	for _, s := range sessions {
		hour := timeutil.LocalHour(s.CreatedAt, loc)
		switch mode {
		case TimeOfDayEarlyBird:
			if hour >= r.EarlyBirdStart && hour < r.EarlyBirdEnd {
				n++
			}
		case TimeOfDayNightOwl:
			if hour >= r.NightOwlStart || hour < r.NightOwlEnd {
				n++
			}
		default:
			return false
		}
	}
	return n >= r.TimeOfDaySessions
}

// days is n periods of 24 hours, not calendar days.
func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// ══════════════════════════════════════════════════════════════════════════════
// DEFAULT CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// DefaultBadgeCatalog is installed when the catalog table is empty.
func DefaultBadgeCatalog() []*BadgeDefinition {
	d := func(order int, key, name, desc, category string, ct CriteriaType, value, xp, gems int) *BadgeDefinition {
		return &BadgeDefinition{
			Key:           key,
			Name:          name,
			Description:   desc,
			Category:      category,
			CriteriaType:  ct,
			CriteriaValue: value,
			XPReward:      xp,
			GemReward:     gems,
			Active:        true,
			SortOrder:     order,
		}
	}

	defs := []*BadgeDefinition{
		d(10, "first_session", "First Steps", "Complete your first practice session", "milestone", CriteriaPracticeSessions, 1, 10, 5),
		d(20, "ten_sessions", "Dedicated", "Complete 10 practice sessions", "milestone", CriteriaPracticeSessions, 10, 50, 10),
		d(30, "fifty_sessions", "Committed", "Complete 50 practice sessions", "milestone", CriteriaPracticeSessions, 50, 150, 25),
		d(40, "hundred_sessions", "Centurion", "Complete 100 practice sessions", "milestone", CriteriaPracticeSessions, 100, 300, 50),
		d(50, "xp_1000", "Rising Star", "Earn 1,000 XP", "xp", CriteriaTotalXP, 1000, 0, 20),
		d(60, "xp_5000", "Shining Star", "Earn 5,000 XP", "xp", CriteriaTotalXP, 5000, 0, 50),
		d(70, "level_5", "Level 5", "Reach level 5", "level", CriteriaLevelReached, 5, 0, 25),
		d(80, "level_10", "Level 10", "Reach level 10", "level", CriteriaLevelReached, 10, 0, 50),
		d(90, "streak_3", "On a Roll", "Practice 3 days in a row", "streak", CriteriaStreak, 3, 25, 5),
		d(100, "streak_7", "Week Warrior", "Practice 7 days in a row", "streak", CriteriaStreak, 7, 75, 15),
		d(110, "streak_30", "Unstoppable", "Practice 30 days in a row", "streak", CriteriaStreak, 30, 300, 100),
		d(120, "marathon", "Marathon", "Practice for 60 minutes in one session", "session", CriteriaLongSession, 60, 50, 10),
		d(130, "deep_focus", "Deep Focus", "Complete 10 sessions of at least 30 minutes", "session", CriteriaLongSessionCount, 10, 100, 20),
		d(140, "improver", "Improver", "Report improvement in 5 sessions", "growth", CriteriaImprovementCount, 5, 50, 10),
		d(150, "comeback", "Comeback Kid", "Return after a week away and practice 3 times", "special", CriteriaComeback, 1, 50, 10),
		d(160, "early_bird", "Early Bird", "Practice 10 times between 5 and 8 AM", "special", CriteriaTimeOfDay, TimeOfDayEarlyBird, 50, 10),
		d(170, "night_owl", "Night Owl", "Practice 10 times late at night", "special", CriteriaTimeOfDay, TimeOfDayNightOwl, 50, 10),
		d(200, "curriculum_first_step", "First Key", "Complete your first curriculum step", "curriculum", CriteriaCurriculumSteps, 1, 25, 5),
		d(210, "curriculum_all_keys", "All Twelve Keys", "Complete every key of a focus", "curriculum", CriteriaCurriculumFocus, 1, 100, 25),
		d(220, "curriculum_focus_10", "Ten Focuses", "Complete 10 curriculum focuses", "curriculum", CriteriaCurriculumFocus, 10, 500, 100),
		d(230, "curriculum_focus_41", "Curriculum Master", "Complete 41 curriculum focuses", "curriculum", CriteriaCurriculumFocus, 41, 2000, 500),
	}

	for _, def := range defs {
		if def.Category == "curriculum" || (def.CriteriaType == CriteriaStreak && def.CriteriaValue >= 7) {
			def.Notify = true
			def.NotifyEventKey = "badge_earned"
			def.Metadata = map[string]string{"category": def.Category}
		}
	}
	return defs
}
