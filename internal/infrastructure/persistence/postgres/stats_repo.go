package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StatsRepository implements gamification.StatsRepository for PostgreSQL.
type StatsRepository struct {
	conn *Connection
}

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository(conn *Connection) *StatsRepository {
	return &StatsRepository{conn: conn}
}

const statsColumns = `
	user_id, total_xp, current_level, total_sessions, current_streak, longest_streak,
	last_practice_date, streak_shield_count, gems_balance, badges_earned, version,
	created_at, updated_at`

// Get returns the stats of a user.
func (r *StatsRepository) Get(ctx context.Context, userID string) (*gamification.UserStats, error) {
	query := `SELECT ` + statsColumns + ` FROM user_stats WHERE user_id = $1`

	var s gamification.UserStats
	err := r.conn.Q(ctx).QueryRow(ctx, query, userID).Scan(
		&s.UserID,
		&s.TotalXP,
		&s.CurrentLevel,
		&s.TotalSessions,
		&s.CurrentStreak,
		&s.LongestStreak,
		&s.LastPracticeDate,
		&s.StreakShieldCount,
		&s.GemsBalance,
		&s.BadgesEarned,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrStatsNotFound
		}
		return nil, fmt.Errorf("failed to get user stats: %w", err)
	}

	return &s, nil
}

// Save inserts or compare-and-swaps the stats row on version.
func (r *StatsRepository) Save(ctx context.Context, s *gamification.UserStats) error {
	if s.IsNew() {
		return r.insert(ctx, s)
	}

	query := `
		UPDATE user_stats SET
			total_xp = $1,
			current_level = $2,
			total_sessions = $3,
			current_streak = $4,
			longest_streak = $5,
			last_practice_date = $6,
			streak_shield_count = $7,
			gems_balance = $8,
			badges_earned = $9,
			version = version + 1,
			updated_at = $10
		WHERE user_id = $11 AND version = $12
	`

	result, err := r.conn.Q(ctx).Exec(ctx, query,
		s.TotalXP,
		s.CurrentLevel,
		s.TotalSessions,
		s.CurrentStreak,
		s.LongestStreak,
		s.LastPracticeDate,
		s.StreakShieldCount,
		s.GemsBalance,
		s.BadgesEarned,
		s.UpdatedAt,
		s.UserID,
		s.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update user stats: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrStatsVersionConflict
	}

	s.Version++
	return nil
}

func (r *StatsRepository) insert(ctx context.Context, s *gamification.UserStats) error {
	query := `
		INSERT INTO user_stats (` + statsColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12)
	`

	_, err := r.conn.Q(ctx).Exec(ctx, query,
		s.UserID,
		s.TotalXP,
		s.CurrentLevel,
		s.TotalSessions,
		s.CurrentStreak,
		s.LongestStreak,
		s.LastPracticeDate,
		s.StreakShieldCount,
		s.GemsBalance,
		s.BadgesEarned,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrStatsVersionConflict
		}
		return fmt.Errorf("failed to insert user stats: %w", err)
	}

	s.Version = 1
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SessionRepository implements gamification.SessionRepository for PostgreSQL.
type SessionRepository struct {
	conn *Connection
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(conn *Connection) *SessionRepository {
	return &SessionRepository{conn: conn}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, s *gamification.PracticeSession) error {
	query := `
		INSERT INTO practice_sessions (
			id, user_id, duration_minutes, sentiment_score, improvement_detected,
			xp_earned, notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.conn.Q(ctx).Exec(ctx, query,
		s.ID,
		s.UserID,
		s.DurationMinutes,
		s.SentimentScore,
		s.ImprovementDetected,
		s.XPEarned,
		s.Notes,
		s.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("gamification", "CreateSession", shared.ErrAlreadyExists, "session already recorded", err)
		}
		return fmt.Errorf("failed to create practice session: %w", err)
	}

	return nil
}

// ListSessions returns a page of sessions, newest first.
func (r *SessionRepository) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*gamification.PracticeSession, error) {
	query := `
		SELECT id, user_id, duration_minutes, sentiment_score, improvement_detected,
			   xp_earned, notes, created_at
		FROM practice_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.conn.Q(ctx).Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list practice sessions: %w", err)
	}

	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*gamification.PracticeSession, error) {
		var s gamification.PracticeSession
		err := row.Scan(
			&s.ID,
			&s.UserID,
			&s.DurationMinutes,
			&s.SentimentScore,
			&s.ImprovementDetected,
			&s.XPEarned,
			&s.Notes,
			&s.CreatedAt,
		)
		return &s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan practice sessions: %w", err)
	}

	return sessions, nil
}

// Count returns the number of sessions of a user.
func (r *SessionRepository) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.conn.Q(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM practice_sessions WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count practice sessions: %w", err)
	}
	return n, nil
}
