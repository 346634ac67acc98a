package gamification

import (
	"time"

	"github.com/keystep/practice-hub/internal/domain/shared"
)

// UserStats is the per-user aggregate of everything the rules engine tracks.
// Version is the optimistic lock used by StatsRepository.Save.
type UserStats struct {
	UserID            string     `json:"user_id"`
	TotalXP           int        `json:"total_xp"`
	CurrentLevel      int        `json:"current_level"`
	TotalSessions     int        `json:"total_sessions"`
	CurrentStreak     int        `json:"current_streak"`
	LongestStreak     int        `json:"longest_streak"`
	LastPracticeDate  *time.Time `json:"last_practice_date,omitempty"`
	StreakShieldCount int        `json:"streak_shield_count"`
	GemsBalance       int        `json:"gems_balance"`
	BadgesEarned      int        `json:"badges_earned"`
	Version           int64      `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewUserStats returns fresh stats for a user who has never been rewarded.
func NewUserStats(userID string, now time.Time) *UserStats {
	return &UserStats{
		UserID:       userID,
		CurrentLevel: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsNew reports whether the stats have never been persisted.
func (s *UserStats) IsNew() bool {
	return s.Version == 0
}

// Clone returns a deep copy.
func (s *UserStats) Clone() *UserStats {
	c := *s
	if s.LastPracticeDate != nil {
		d := *s.LastPracticeDate
		c.LastPracticeDate = &d
	}
	return &c
}

// AddXP adds amount to the total and recomputes the level.
// Negative amounts are ignored; XP never decreases.
func (s *UserStats) AddXP(amount int) LevelChange {
	if amount > 0 {
		s.TotalXP += amount
	}
	return s.ApplyLevelUp()
}

// ApplyLevelUp recomputes the level from TotalXP. The stored level only moves up.
func (s *UserStats) ApplyLevelUp() LevelChange {
	old := s.CurrentLevel
	computed := CalculateLevel(s.TotalXP)
	if computed > old {
		s.CurrentLevel = computed
		return LevelChange{LeveledUp: true, OldLevel: old, NewLevel: computed}
	}
	return LevelChange{OldLevel: old, NewLevel: old}
}

// CanSpendGems reports whether the balance covers amount.
func (s *UserStats) CanSpendGems(amount int) bool {
	return amount >= 0 && s.GemsBalance >= amount
}

// Touch stamps the update time.
func (s *UserStats) Touch(now time.Time) {
	s.UpdatedAt = now
}

// Validate checks the aggregate invariants.
func (s *UserStats) Validate() error {
	if s.UserID == "" {
		return shared.ErrInvalidUserID
	}
	if s.TotalXP < 0 || s.GemsBalance < 0 || s.StreakShieldCount < 0 || s.CurrentStreak < 0 {
		return shared.NewDomainError("gamification", "Validate", shared.ErrNegativeValue, "stats counters cannot be negative")
	}
	if s.LongestStreak < s.CurrentStreak {
		return shared.NewDomainError("gamification", "Validate", shared.ErrInvalidState, "longest streak below current streak")
	}
	if s.CurrentLevel < 1 {
		return shared.NewDomainError("gamification", "Validate", shared.ErrValueOutOfRange, "level must be positive")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PRACTICE SESSION
// ══════════════════════════════════════════════════════════════════════════════

// Sentiment bounds.
const (
	MinSentiment = 1
	MaxSentiment = 5
)

// PracticeSession is one completed practice session. Immutable once stored.
type PracticeSession struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	DurationMinutes     int       `json:"duration_minutes"`
	SentimentScore      int       `json:"sentiment_score"`
	ImprovementDetected bool      `json:"improvement_detected"`
	XPEarned            int       `json:"xp_earned"`
	Notes               string    `json:"notes,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// NewPracticeSession validates input and computes the session's XP.
func NewPracticeSession(id, userID string, durationMinutes, sentiment int, improvement bool, notes string, at time.Time) (*PracticeSession, error) {
	if userID == "" {
		return nil, shared.ErrInvalidUserID
	}
	if durationMinutes <= 0 {
		return nil, shared.ErrInvalidDuration
	}
	if sentiment < MinSentiment || sentiment > MaxSentiment {
		return nil, shared.ErrInvalidSentiment
	}

	return &PracticeSession{
		ID:                  id,
		UserID:              userID,
		DurationMinutes:     durationMinutes,
		SentimentScore:      sentiment,
		ImprovementDetected: improvement,
		XPEarned:            CalculateSessionXP(durationMinutes, sentiment, improvement),
		Notes:               notes,
		CreatedAt:           at,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GEMS LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// TransactionType distinguishes credits from debits.
type TransactionType string

const (
	TransactionEarn  TransactionType = "earn"
	TransactionSpend TransactionType = "spend"
)

// Well-known ledger sources.
const (
	SourceShieldPurchase  = "shield_purchase"
	SourceCurriculumStep  = "curriculum_step"
	SourceCurriculumFocus = "curriculum_focus_complete"
	SourceMigration       = "migration"
	badgeSourcePrefix     = "badge_"
)

// BadgeSource returns the ledger source tag for a badge reward.
func BadgeSource(badgeKey string) string {
	return badgeSourcePrefix + badgeKey
}

// GemsTransaction is one append-only ledger row.
type GemsTransaction struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Type         TransactionType `json:"type"`
	Amount       int             `json:"amount"`
	Source       string          `json:"source"`
	Description  string          `json:"description"`
	BalanceAfter int             `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewGemsTransaction builds a ledger row for a signed amount against the
// current balance. The type follows the sign.
func NewGemsTransaction(id, userID string, amount, balanceBefore int, source, description string, at time.Time) *GemsTransaction {
	txType := TransactionEarn
	if amount < 0 {
		txType = TransactionSpend
	}
	return &GemsTransaction{
		ID:           id,
		UserID:       userID,
		Type:         txType,
		Amount:       amount,
		Source:       source,
		Description:  description,
		BalanceAfter: balanceBefore + amount,
		CreatedAt:    at,
	}
}
