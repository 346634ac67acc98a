package gamification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sessionAt(ts time.Time, minutes int) *PracticeSession {
	return &PracticeSession{UserID: "u1", DurationMinutes: minutes, SentimentScore: 3, CreatedAt: ts}
}

func TestQualifies_StatsCriteria(t *testing.T) {
	rules := DefaultBadgeRules()
	stats := NewUserStats("u1", time.Now())
	stats.TotalXP = 500
	stats.CurrentLevel = 3
	stats.TotalSessions = 12
	stats.CurrentStreak = 7
	snap := Snapshot{Stats: stats}

	cases := []struct {
		ct    CriteriaType
		value int
		want  bool
	}{
		{CriteriaTotalXP, 500, true},
		{CriteriaTotalXP, 501, false},
		{CriteriaLevelReached, 3, true},
		{CriteriaLevelReached, 4, false},
		{CriteriaPracticeSessions, 12, true},
		{CriteriaPracticeSessions, 13, false},
		{CriteriaStreak, 7, true},
		{CriteriaStreak, 8, false},
		{CriteriaType("mystery"), 0, false},
	}
	for _, c := range cases {
		def := &BadgeDefinition{Key: "b", CriteriaType: c.ct, CriteriaValue: c.value}
		assert.Equal(t, c.want, rules.Qualifies(def, snap, time.UTC), "%s >= %d", c.ct, c.value)
	}
}

func TestQualifies_SessionCriteria(t *testing.T) {
	rules := DefaultBadgeRules()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sessions := []*PracticeSession{
		sessionAt(now, 45),
		sessionAt(now.Add(-time.Hour), 30),
		sessionAt(now.Add(-2*time.Hour), 10),
	}
	sessions[0].ImprovementDetected = true
	sessions[2].ImprovementDetected = true
	snap := Snapshot{Stats: NewUserStats("u1", now), Sessions: sessions}

	q := func(ct CriteriaType, v int) bool {
		return rules.Qualifies(&BadgeDefinition{CriteriaType: ct, CriteriaValue: v}, snap, time.UTC)
	}

	assert.True(t, q(CriteriaLongSession, 45))
	assert.False(t, q(CriteriaLongSession, 46))
	assert.True(t, q(CriteriaTotalTime, 30))
	assert.True(t, q(CriteriaImprovementCount, 2))
	assert.False(t, q(CriteriaImprovementCount, 3))
	assert.True(t, q(CriteriaLongSessionCount, 2))
	assert.False(t, q(CriteriaLongSessionCount, 3))
}

func TestQualifies_CurriculumNeedsFacts(t *testing.T) {
	rules := DefaultBadgeRules()
	def := &BadgeDefinition{CriteriaType: CriteriaCurriculumSteps, CriteriaValue: 1}
	stats := NewUserStats("u1", time.Now())

	assert.False(t, rules.Qualifies(def, Snapshot{Stats: stats}, time.UTC))
	assert.True(t, rules.Qualifies(def, Snapshot{Stats: stats, Curriculum: &CurriculumFacts{StepsCompleted: 1}}, time.UTC))

	focus := &BadgeDefinition{CriteriaType: CriteriaCurriculumFocus, CriteriaValue: 10}
	assert.False(t, rules.Qualifies(focus, Snapshot{Stats: stats, Curriculum: &CurriculumFacts{FocusesCompleted: 9}}, time.UTC))
	assert.True(t, rules.Qualifies(focus, Snapshot{Stats: stats, Curriculum: &CurriculumFacts{FocusesCompleted: 10}}, time.UTC))
}

func TestIsComeback(t *testing.T) {
	rules := DefaultBadgeRules()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("too few sessions", func(t *testing.T) {
		assert.False(t, rules.IsComeback([]*PracticeSession{
			sessionAt(base, 10),
			sessionAt(base.AddDate(0, 0, -10), 10),
		}))
	})

	t.Run("three sessions after a break", func(t *testing.T) {
		sessions := []*PracticeSession{
			sessionAt(base.AddDate(0, 0, 2), 10),
			sessionAt(base.AddDate(0, 0, 1), 10),
			sessionAt(base, 10),
			sessionAt(base.AddDate(0, 0, -8), 10),
			sessionAt(base.AddDate(0, 0, -9), 10),
		}
		assert.True(t, rules.IsComeback(sessions))
	})

	t.Run("unsorted input", func(t *testing.T) {
		sessions := []*PracticeSession{
			sessionAt(base.AddDate(0, 0, -8), 10),
			sessionAt(base, 10),
			sessionAt(base.AddDate(0, 0, 2), 10),
			sessionAt(base.AddDate(0, 0, 1), 10),
		}
		assert.True(t, rules.IsComeback(sessions))
	})

	t.Run("only two sessions after the break", func(t *testing.T) {
		sessions := []*PracticeSession{
			sessionAt(base.AddDate(0, 0, 1), 10),
			sessionAt(base, 10),
			sessionAt(base.AddDate(0, 0, -8), 10),
			sessionAt(base.AddDate(0, 0, -9), 10),
		}
		assert.False(t, rules.IsComeback(sessions))
	})

	t.Run("followup exactly seven days after the break counts", func(t *testing.T) {
		sessions := []*PracticeSession{
			sessionAt(base.Add(7*24*time.Hour), 10),
			sessionAt(base.AddDate(0, 0, 1), 10),
			sessionAt(base, 10),
			sessionAt(base.AddDate(0, 0, -8), 10),
		}
		assert.True(t, rules.IsComeback(sessions))
	})

	t.Run("followup past seven days does not count", func(t *testing.T) {
		for _, late := range []time.Duration{7*24*time.Hour + time.Hour, 7*24*time.Hour + 12*time.Hour} {
			sessions := []*PracticeSession{
				sessionAt(base.Add(late), 10),
				sessionAt(base.AddDate(0, 0, 1), 10),
				sessionAt(base, 10),
				sessionAt(base.AddDate(0, 0, -8), 10),
			}
			assert.False(t, rules.IsComeback(sessions), "followup at %s", late)
		}
	})

	t.Run("gap just under seven days is no break", func(t *testing.T) {
		sessions := []*PracticeSession{
			sessionAt(base.AddDate(0, 0, 2), 10),
			sessionAt(base.AddDate(0, 0, 1), 10),
			sessionAt(base, 10),
			sessionAt(base.Add(-7*24*time.Hour+time.Minute), 10),
		}
		assert.False(t, rules.IsComeback(sessions))
	})

	t.Run("followups spread beyond the window", func(t *testing.T) {
		sessions := []*PracticeSession{
			sessionAt(base.AddDate(0, 0, 20), 10),
			sessionAt(base.AddDate(0, 0, 1), 10),
			sessionAt(base, 10),
			sessionAt(base.AddDate(0, 0, -8), 10),
		}
		// The newest gap (19 days) is found first and has a single followup.
		assert.False(t, rules.IsComeback(sessions))
	})

	t.Run("no gap", func(t *testing.T) {
		var sessions []*PracticeSession
		for i := 0; i < 6; i++ {
			sessions = append(sessions, sessionAt(base.AddDate(0, 0, -i), 10))
		}
		assert.False(t, rules.IsComeback(sessions))
	})

	t.Run("gap outside recent window is ignored", func(t *testing.T) {
		var sessions []*PracticeSession
		for i := 0; i < 10; i++ {
			sessions = append(sessions, sessionAt(base.Add(-time.Duration(i)*time.Hour), 10))
		}
		sessions = append(sessions, sessionAt(base.AddDate(0, 0, -30), 10))
		assert.False(t, rules.IsComeback(sessions))
	})
}

func TestMatchesTimeOfDay(t *testing.T) {
	rules := DefaultBadgeRules()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	early := make([]*PracticeSession, 0, 10)
	for i := 0; i < 10; i++ {
		early = append(early, sessionAt(base.AddDate(0, 0, -i).Add(6*time.Hour), 20))
	}
	assert.True(t, rules.MatchesTimeOfDay(early, TimeOfDayEarlyBird, time.UTC))
	assert.False(t, rules.MatchesTimeOfDay(early[:9], TimeOfDayEarlyBird, time.UTC))
	assert.False(t, rules.MatchesTimeOfDay(early, 3, time.UTC))

	// 06:00 is outside the night window.
	assert.False(t, rules.MatchesTimeOfDay(early, TimeOfDayNightOwl, time.UTC))

	night := make([]*PracticeSession, 0, 10)
	for i := 0; i < 5; i++ {
		night = append(night, sessionAt(base.AddDate(0, 0, -i).Add(23*time.Hour), 20))
		night = append(night, sessionAt(base.AddDate(0, 0, -i).Add(2*time.Hour), 20))
	}
	assert.True(t, rules.MatchesTimeOfDay(night, TimeOfDayNightOwl, time.UTC))

	// Same instants seen from UTC+3 fall at 02:00 and 05:00 local.
	plus3 := time.FixedZone("UTC+3", 3*60*60)
	assert.False(t, rules.MatchesTimeOfDay(night, TimeOfDayEarlyBird, time.UTC))
	assert.False(t, rules.MatchesTimeOfDay(night, TimeOfDayEarlyBird, plus3))
	assert.True(t, rules.MatchesTimeOfDay(night, TimeOfDayNightOwl, plus3))
}

func TestDefaultBadgeCatalog(t *testing.T) {
	defs := DefaultBadgeCatalog()
	seen := map[string]bool{}
	for _, d := range defs {
		assert.False(t, seen[d.Key], "duplicate key %s", d.Key)
		seen[d.Key] = true
		assert.True(t, d.Active)
	}
	assert.True(t, seen["curriculum_first_step"])
	assert.True(t, seen["curriculum_all_keys"])
	assert.True(t, seen["curriculum_focus_10"])
	assert.True(t, seen["curriculum_focus_41"])

	shuffled := []*BadgeDefinition{defs[3], defs[0], defs[2], defs[1]}
	SortDefinitions(shuffled)
	assert.Equal(t, defs[0].Key, shuffled[0].Key)
	assert.Equal(t, defs[3].Key, shuffled[3].Key)
}
