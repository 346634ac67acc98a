package migration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects gorm to a PostgreSQL DSN with gorm's own logging silenced;
// the migrator logs per entity instead.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEGACY READER
// ══════════════════════════════════════════════════════════════════════════════

// GormLegacy implements Legacy over a gorm connection to the old database.
type GormLegacy struct {
	db *gorm.DB
}

// NewGormLegacy creates a GormLegacy.
func NewGormLegacy(db *gorm.DB) *GormLegacy {
	return &GormLegacy{db: db}
}

// HasTable implements Legacy.
func (l *GormLegacy) HasTable(ctx context.Context, table string) (bool, error) {
	return l.db.WithContext(ctx).Migrator().HasTable(table), nil
}

// readBatches selects src into T rows, batchSize at a time.
func readBatches[T any](ctx context.Context, db *gorm.DB, src Source, batchSize int, fn func([]T) error) error {
	for offset := 0; ; offset += batchSize {
		var rows []T
		err := db.WithContext(ctx).
			Table(src.Table).
			Select(strings.Join(src.Columns, ", ")).
			Order("1").
			Limit(batchSize).
			Offset(offset).
			Scan(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		if err := fn(rows); err != nil {
			return err
		}
		if len(rows) < batchSize {
			return nil
		}
	}
}

// ReadStats implements Legacy.
func (l *GormLegacy) ReadStats(ctx context.Context, src Source, batchSize int, fn func([]StatsRow) error) error {
	return readBatches(ctx, l.db, src, batchSize, fn)
}

// ReadSessions implements Legacy.
func (l *GormLegacy) ReadSessions(ctx context.Context, src Source, batchSize int, fn func([]SessionRow) error) error {
	return readBatches(ctx, l.db, src, batchSize, fn)
}

// ReadBadges implements Legacy.
func (l *GormLegacy) ReadBadges(ctx context.Context, src Source, batchSize int, fn func([]BadgeRow) error) error {
	return readBatches(ctx, l.db, src, batchSize, fn)
}

// ReadProgress implements Legacy.
func (l *GormLegacy) ReadProgress(ctx context.Context, src Source, batchSize int, fn func([]ProgressRow) error) error {
	return readBatches(ctx, l.db, src, batchSize, fn)
}

// ══════════════════════════════════════════════════════════════════════════════
// TARGET WRITER
// ══════════════════════════════════════════════════════════════════════════════

type statsModel struct {
	UserID            string `gorm:"primaryKey"`
	TotalXP           int
	CurrentLevel      int
	TotalSessions     int
	CurrentStreak     int
	LongestStreak     int
	LastPracticeDate  *time.Time `gorm:"type:date"`
	StreakShieldCount int
	GemsBalance       int
	BadgesEarned      int
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (statsModel) TableName() string { return "user_stats" }

type sessionModel struct {
	ID                  string `gorm:"primaryKey"`
	UserID              string
	DurationMinutes     int
	SentimentScore      int
	ImprovementDetected bool
	XPEarned            int `gorm:"column:xp_earned"`
	Notes               string
	CreatedAt           time.Time
}

func (sessionModel) TableName() string { return "practice_sessions" }

type userBadgeModel struct {
	UserID   string `gorm:"primaryKey"`
	BadgeKey string `gorm:"primaryKey"`
	EarnedAt time.Time
}

func (userBadgeModel) TableName() string { return "user_badges" }

type badgeDefinitionModel struct {
	BadgeKey string `gorm:"primaryKey"`
}

func (badgeDefinitionModel) TableName() string { return "badge_definitions" }

// GormTarget implements Target over the current schema.
type GormTarget struct {
	db *gorm.DB
}

// NewGormTarget creates a GormTarget.
func NewGormTarget(db *gorm.DB) *GormTarget {
	return &GormTarget{db: db}
}

func (t *GormTarget) exists(ctx context.Context, model any, query string, args ...any) (bool, error) {
	var n int64
	err := t.db.WithContext(ctx).Model(model).Where(query, args...).Limit(1).Count(&n).Error
	return n > 0, err
}

// StatsExists implements Target.
func (t *GormTarget) StatsExists(ctx context.Context, userID string) (bool, error) {
	return t.exists(ctx, &statsModel{}, "user_id = ?", userID)
}

// InsertStats implements Target.
func (t *GormTarget) InsertStats(ctx context.Context, row StatsRow, at time.Time) error {
	return t.db.WithContext(ctx).Create(&statsModel{
		UserID:            row.UserID,
		TotalXP:           row.TotalXP,
		CurrentLevel:      row.CurrentLevel,
		TotalSessions:     row.TotalSessions,
		CurrentStreak:     row.CurrentStreak,
		LongestStreak:     row.LongestStreak,
		LastPracticeDate:  row.LastPracticeDate,
		StreakShieldCount: row.StreakShieldCount,
		GemsBalance:       row.GemsBalance,
		BadgesEarned:      row.BadgesEarned,
		Version:           1,
		CreatedAt:         at,
		UpdatedAt:         at,
	}).Error
}

// SessionExists implements Target.
func (t *GormTarget) SessionExists(ctx context.Context, id string) (bool, error) {
	return t.exists(ctx, &sessionModel{}, "id = ?", id)
}

// InsertSession implements Target.
func (t *GormTarget) InsertSession(ctx context.Context, row SessionRow) error {
	return t.db.WithContext(ctx).Create(&sessionModel{
		ID:                  row.ID,
		UserID:              row.UserID,
		DurationMinutes:     row.DurationMinutes,
		SentimentScore:      row.SentimentScore,
		ImprovementDetected: row.ImprovementDetected,
		XPEarned:            row.XPEarned,
		Notes:               row.Notes,
		CreatedAt:           row.CreatedAt,
	}).Error
}

// BadgeExists implements Target.
func (t *GormTarget) BadgeExists(ctx context.Context, userID, badgeKey string) (bool, error) {
	return t.exists(ctx, &userBadgeModel{}, "user_id = ? AND badge_key = ?", userID, badgeKey)
}

// InsertBadge implements Target. Badges missing from the catalog are rejected.
func (t *GormTarget) InsertBadge(ctx context.Context, row BadgeRow) error {
	known, err := t.exists(ctx, &badgeDefinitionModel{}, "badge_key = ?", row.BadgeKey)
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownBadge, row.BadgeKey)
	}
	return t.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&userBadgeModel{UserID: row.UserID, BadgeKey: row.BadgeKey, EarnedAt: row.EarnedAt}).Error
}

// ProgressSlotSet implements Target.
func (t *GormTarget) ProgressSlotSet(ctx context.Context, userID string, focusID int64, keyNumber int) (bool, error) {
	var n int64
	err := t.db.WithContext(ctx).
		Table("user_curriculum_progress").
		Where("user_id = ? AND focus_id = ?", userID, focusID).
		Where(fmt.Sprintf("key_%d IS NOT NULL", keyNumber)).
		Count(&n).Error
	return n > 0, err
}

// SetProgressSlot implements Target. An existing slot keeps its time.
func (t *GormTarget) SetProgressSlot(ctx context.Context, row ProgressRow) error {
	col := fmt.Sprintf("key_%d", row.KeyNumber)
	sql := fmt.Sprintf(`
		INSERT INTO user_curriculum_progress (user_id, focus_id, %[1]s)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, focus_id)
		DO UPDATE SET %[1]s = COALESCE(user_curriculum_progress.%[1]s, EXCLUDED.%[1]s)`, col)
	return t.db.WithContext(ctx).Exec(sql, row.UserID, row.FocusID, row.CompletedAt).Error
}

// ReconcileBadgeCounts implements Target.
func (t *GormTarget) ReconcileBadgeCounts(ctx context.Context) error {
	return t.db.WithContext(ctx).Exec(`
		UPDATE user_stats s
		SET badges_earned = c.n, version = s.version + 1, updated_at = NOW()
		FROM (SELECT user_id, COUNT(*) AS n FROM user_badges GROUP BY user_id) c
		WHERE c.user_id = s.user_id AND s.badges_earned <> c.n`).Error
}

// Ping checks both connections are alive.
func Ping(ctx context.Context, dbs ...*gorm.DB) error {
	for _, db := range dbs {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the pools behind dbs.
func Close(dbs ...*gorm.DB) {
	for _, db := range dbs {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
