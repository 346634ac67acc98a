// Package migration copies data from the legacy plugin schema into the
// current schema. Each entity has an ordered list of candidate legacy
// tables; the first one present is used. Every row is checked for existence
// in the target before insert, so a run can be repeated safely. A failing
// row is recorded in the Result and the run moves on.
package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keystep/practice-hub/internal/domain/curriculum"
	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/pkg/logger"
)

// Entity names used in Result.
const (
	EntityStats    = "user_stats"
	EntitySessions = "practice_sessions"
	EntityBadges   = "user_badges"
	EntityProgress = "curriculum_progress"
)

// Source is one candidate legacy table. Columns are select expressions
// aliased to the row field names, e.g. "xp AS total_xp".
type Source struct {
	Table   string
	Columns []string
}

// ══════════════════════════════════════════════════════════════════════════════
// ROWS
// ══════════════════════════════════════════════════════════════════════════════

// StatsRow is a legacy stats record in target terms.
type StatsRow struct {
	UserID            string
	TotalXP           int
	CurrentLevel      int
	TotalSessions     int
	CurrentStreak     int
	LongestStreak     int
	LastPracticeDate  *time.Time
	StreakShieldCount int
	GemsBalance       int
	BadgesEarned      int
}

// SessionRow is a legacy practice session.
type SessionRow struct {
	ID                  string
	UserID              string
	DurationMinutes     int
	SentimentScore      int
	ImprovementDetected bool
	XPEarned            int
	Notes               string
	CreatedAt           time.Time
}

// BadgeRow is a legacy earned badge.
type BadgeRow struct {
	UserID   string
	BadgeKey string
	EarnedAt time.Time
}

// ProgressRow is one completed key of a focus.
type ProgressRow struct {
	UserID      string
	FocusID     int64
	KeyNumber   int
	CompletedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// Legacy reads the old schema in batches.
type Legacy interface {
	HasTable(ctx context.Context, table string) (bool, error)
	ReadStats(ctx context.Context, src Source, batchSize int, fn func([]StatsRow) error) error
	ReadSessions(ctx context.Context, src Source, batchSize int, fn func([]SessionRow) error) error
	ReadBadges(ctx context.Context, src Source, batchSize int, fn func([]BadgeRow) error) error
	ReadProgress(ctx context.Context, src Source, batchSize int, fn func([]ProgressRow) error) error
}

// Target writes the current schema. Insert methods are only called after
// the matching existence check returned false.
type Target interface {
	StatsExists(ctx context.Context, userID string) (bool, error)
	InsertStats(ctx context.Context, row StatsRow, at time.Time) error

	SessionExists(ctx context.Context, id string) (bool, error)
	InsertSession(ctx context.Context, row SessionRow) error

	BadgeExists(ctx context.Context, userID, badgeKey string) (bool, error)
	InsertBadge(ctx context.Context, row BadgeRow) error

	ProgressSlotSet(ctx context.Context, userID string, focusID int64, keyNumber int) (bool, error)
	SetProgressSlot(ctx context.Context, row ProgressRow) error

	// ReconcileBadgeCounts sets badges_earned to the number of user badges.
	ReconcileBadgeCounts(ctx context.Context) error
}

// ══════════════════════════════════════════════════════════════════════════════
// PLAN
// ══════════════════════════════════════════════════════════════════════════════

// Plan lists the candidate sources of every entity, most recent schema first.
type Plan struct {
	Stats    []Source
	Sessions []Source
	Badges   []Source
	Progress []Source
}

// DefaultPlan covers the two known legacy layouts: the v2 plugin tables,
// whose columns already match, and the original v1 tables.
func DefaultPlan() Plan {
	return Plan{
		Stats: []Source{
			{Table: "ph_user_stats", Columns: []string{
				"CAST(user_id AS TEXT) AS user_id", "total_xp", "current_level", "total_sessions",
				"current_streak", "longest_streak", "last_practice_date", "streak_shield_count",
				"gems_balance", "badges_earned",
			}},
			{Table: "user_gamification", Columns: []string{
				"CAST(user_id AS TEXT) AS user_id", "xp AS total_xp", "level AS current_level",
				"sessions_count AS total_sessions", "streak AS current_streak", "best_streak AS longest_streak",
				"last_practice AS last_practice_date", "shields AS streak_shield_count",
				"gems AS gems_balance", "badges_count AS badges_earned",
			}},
		},
		Sessions: []Source{
			{Table: "ph_practice_sessions", Columns: []string{
				"CAST(id AS TEXT) AS id", "CAST(user_id AS TEXT) AS user_id", "duration_minutes",
				"sentiment_score", "improvement_detected", "xp_earned", "notes", "created_at",
			}},
			{Table: "practice_log", Columns: []string{
				"CAST(id AS TEXT) AS id", "CAST(user_id AS TEXT) AS user_id", "minutes AS duration_minutes",
				"mood AS sentiment_score", "improved AS improvement_detected", "xp AS xp_earned",
				"COALESCE(note, '') AS notes", "logged_at AS created_at",
			}},
		},
		Badges: []Source{
			{Table: "ph_user_badges", Columns: []string{
				"CAST(user_id AS TEXT) AS user_id", "badge_key", "earned_at",
			}},
			{Table: "user_achievements", Columns: []string{
				"CAST(user_id AS TEXT) AS user_id", "achievement_key AS badge_key", "awarded_at AS earned_at",
			}},
		},
		Progress: []Source{
			{Table: "ph_curriculum_completions", Columns: []string{
				"CAST(user_id AS TEXT) AS user_id", "focus_id", "key_number", "completed_at",
			}},
			{Table: "curriculum_log", Columns: []string{
				"CAST(user_id AS TEXT) AS user_id", "focus AS focus_id", "key_index AS key_number", "done_at AS completed_at",
			}},
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migrator runs a Plan from Legacy into Target.
type Migrator struct {
	legacy    Legacy
	target    Target
	plan      Plan
	batchSize int
	now       func() time.Time
	log       *logger.Logger
}

// NewMigrator creates a Migrator.
func NewMigrator(legacy Legacy, target Target, plan Plan, batchSize int, log *logger.Logger) *Migrator {
	if batchSize <= 0 {
		batchSize = 500
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Migrator{
		legacy:    legacy,
		target:    target,
		plan:      plan,
		batchSize: batchSize,
		now:       time.Now,
		log:       log.With(logger.Component("legacy_migration")),
	}
}

// Run migrates every entity in dependency order: stats, sessions, badges,
// progress. Only infrastructure failures (a table that cannot be read, a
// cancelled context) are returned as errors; the Result is valid either way.
func (m *Migrator) Run(ctx context.Context) (*Result, error) {
	res := NewResult(m.now())
	defer func() { res.FinishedAt = m.now() }()

	steps := []struct {
		entity  string
		sources []Source
		run     func(context.Context, Source, *Result) error
	}{
		{EntityStats, m.plan.Stats, m.migrateStats},
		{EntitySessions, m.plan.Sessions, m.migrateSessions},
		{EntityBadges, m.plan.Badges, m.migrateBadges},
		{EntityProgress, m.plan.Progress, m.migrateProgress},
	}

	for _, step := range steps {
		src, err := m.resolve(ctx, step.sources)
		if errors.Is(err, ErrSourceMissing) {
			res.Entity(step.entity).Missing = true
			m.log.Warn("no legacy source found", logger.String("entity", step.entity))
			continue
		}
		if err != nil {
			return res, fmt.Errorf("resolve %s: %w", step.entity, err)
		}

		res.Entity(step.entity).Source = src.Table
		if err := step.run(ctx, src, res); err != nil {
			return res, fmt.Errorf("migrate %s from %s: %w", step.entity, src.Table, err)
		}

		e := res.Entity(step.entity)
		m.log.Info("entity migrated",
			logger.String("entity", step.entity),
			logger.String("source", src.Table),
			logger.Int("read", e.Read),
			logger.Int("inserted", e.Inserted),
			logger.Int("skipped", e.Skipped),
			logger.Int("failed", e.Failed))
	}

	if res.Entity(EntityBadges).Inserted > 0 || res.Entity(EntityStats).Inserted > 0 {
		if err := m.target.ReconcileBadgeCounts(ctx); err != nil {
			return res, fmt.Errorf("reconcile badge counts: %w", err)
		}
	}

	return res, nil
}

// resolve returns the first source whose table exists.
func (m *Migrator) resolve(ctx context.Context, sources []Source) (Source, error) {
	for _, src := range sources {
		ok, err := m.legacy.HasTable(ctx, src.Table)
		if err != nil {
			return Source{}, err
		}
		if ok {
			return src, nil
		}
		m.log.Debug("legacy table not found", logger.String("table", src.Table))
	}
	return Source{}, ErrSourceMissing
}

// copyRow runs the existence check and insert of one row, recording the
// outcome. Only context errors escape.
func copyRow(ctx context.Context, res *Result, entity, key string, exists func() (bool, error), insert func() error) error {
	e := res.Entity(entity)
	e.Read++

	found, err := exists()
	if err == nil && found {
		e.Skipped++
		return nil
	}
	if err == nil {
		err = insert()
	}
	if err == nil {
		e.Inserted++
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	res.fail(entity, key, err)
	return nil
}

func (m *Migrator) migrateStats(ctx context.Context, src Source, res *Result) error {
	at := m.now()
	return m.legacy.ReadStats(ctx, src, m.batchSize, func(rows []StatsRow) error {
		for _, row := range rows {
			row := normalizeStats(row)
			err := copyRow(ctx, res, EntityStats, row.UserID,
				func() (bool, error) {
					if row.UserID == "" {
						return false, fmt.Errorf("%w: empty user id", ErrInvalidRecord)
					}
					return m.target.StatsExists(ctx, row.UserID)
				},
				func() error { return m.target.InsertStats(ctx, row, at) })
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// normalizeStats restores the aggregate invariants the old schema did not
// enforce: the level follows XP, counters are non-negative and the longest
// streak covers the current one.
func normalizeStats(row StatsRow) StatsRow {
	row.TotalXP = max(row.TotalXP, 0)
	row.GemsBalance = max(row.GemsBalance, 0)
	row.StreakShieldCount = max(row.StreakShieldCount, 0)
	row.CurrentStreak = max(row.CurrentStreak, 0)
	row.TotalSessions = max(row.TotalSessions, 0)
	row.LongestStreak = max(row.LongestStreak, row.CurrentStreak)
	row.CurrentLevel = gamification.CalculateLevel(row.TotalXP)
	if row.LastPracticeDate != nil {
		d := time.Date(row.LastPracticeDate.Year(), row.LastPracticeDate.Month(), row.LastPracticeDate.Day(), 0, 0, 0, 0, time.UTC)
		row.LastPracticeDate = &d
	}
	return row
}

func (m *Migrator) migrateSessions(ctx context.Context, src Source, res *Result) error {
	return m.legacy.ReadSessions(ctx, src, m.batchSize, func(rows []SessionRow) error {
		for _, row := range rows {
			row := row
			err := copyRow(ctx, res, EntitySessions, row.ID,
				func() (bool, error) {
					if err := validateSession(row); err != nil {
						return false, err
					}
					return m.target.SessionExists(ctx, row.ID)
				},
				func() error {
					if row.XPEarned <= 0 {
						row.XPEarned = gamification.CalculateSessionXP(row.DurationMinutes, row.SentimentScore, row.ImprovementDetected)
					}
					return m.target.InsertSession(ctx, row)
				})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func validateSession(row SessionRow) error {
	switch {
	case row.ID == "" || row.UserID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	case row.DurationMinutes <= 0:
		return fmt.Errorf("%w: duration %d", ErrInvalidRecord, row.DurationMinutes)
	case row.SentimentScore < gamification.MinSentiment || row.SentimentScore > gamification.MaxSentiment:
		return fmt.Errorf("%w: sentiment %d", ErrInvalidRecord, row.SentimentScore)
	}
	return nil
}

func (m *Migrator) migrateBadges(ctx context.Context, src Source, res *Result) error {
	return m.legacy.ReadBadges(ctx, src, m.batchSize, func(rows []BadgeRow) error {
		for _, row := range rows {
			row := row
			err := copyRow(ctx, res, EntityBadges, row.UserID+"/"+row.BadgeKey,
				func() (bool, error) {
					if row.UserID == "" || row.BadgeKey == "" {
						return false, fmt.Errorf("%w: missing user or badge", ErrInvalidRecord)
					}
					return m.target.BadgeExists(ctx, row.UserID, row.BadgeKey)
				},
				func() error { return m.target.InsertBadge(ctx, row) })
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Migrator) migrateProgress(ctx context.Context, src Source, res *Result) error {
	return m.legacy.ReadProgress(ctx, src, m.batchSize, func(rows []ProgressRow) error {
		for _, row := range rows {
			row := row
			key := fmt.Sprintf("%s/%d/%d", row.UserID, row.FocusID, row.KeyNumber)
			err := copyRow(ctx, res, EntityProgress, key,
				func() (bool, error) {
					if row.UserID == "" {
						return false, fmt.Errorf("%w: empty user id", ErrInvalidRecord)
					}
					if row.KeyNumber < 1 || row.KeyNumber > curriculum.StepsPerFocus {
						return false, fmt.Errorf("%w: key number %d", ErrInvalidRecord, row.KeyNumber)
					}
					return m.target.ProgressSlotSet(ctx, row.UserID, row.FocusID, row.KeyNumber)
				},
				func() error { return m.target.SetProgressSlot(ctx, row) })
			if err != nil {
				return err
			}
		}
		return nil
	})
}
