package gamification

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence. Every method joins the
// transaction carried in ctx, if any.
// ══════════════════════════════════════════════════════════════════════════════

// StatsRepository persists UserStats.
type StatsRepository interface {
	// Get returns the stats of a user.
	// Returns shared.ErrStatsNotFound if the user has none yet.
	Get(ctx context.Context, userID string) (*UserStats, error)

	// Save inserts new stats (Version == 0) or updates existing ones when the
	// stored version still equals stats.Version. On success Version is bumped.
	// Returns shared.ErrStatsVersionConflict if another writer got there first.
	Save(ctx context.Context, stats *UserStats) error
}

// SessionRepository stores practice sessions.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *PracticeSession) error

	// ListSessions returns a page of sessions, newest first.
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]*PracticeSession, error)

	// Count returns the number of sessions of a user.
	Count(ctx context.Context, userID string) (int, error)
}

// BadgeCatalog serves badge definitions and earned badges.
type BadgeCatalog interface {
	// ListBadges returns definitions in evaluation order.
	ListBadges(ctx context.Context, activeOnly bool) ([]*BadgeDefinition, error)

	// ListUserBadges returns the badges a user earned, oldest first.
	ListUserBadges(ctx context.Context, userID string) ([]*UserBadge, error)

	// AwardBadge records a badge for a user. It returns false when the user
	// already had it. A failed award leaves the surrounding transaction usable.
	AwardBadge(ctx context.Context, userID, badgeKey string, earnedAt time.Time) (bool, error)

	// UpsertBadge creates or replaces a definition.
	UpsertBadge(ctx context.Context, def *BadgeDefinition) error
}

// GemsLedger is the append-only gems journal.
type GemsLedger interface {
	// Record appends a transaction.
	Record(ctx context.Context, tx *GemsTransaction) error

	// ListTransactions returns the most recent transactions, newest first.
	ListTransactions(ctx context.Context, userID string, limit int) ([]*GemsTransaction, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE & NOTIFICATION PORTS
// ══════════════════════════════════════════════════════════════════════════════

// StatsCache is an advisory key-value cache with groups and expiry.
// Correctness never depends on it.
type StatsCache interface {
	// Get loads a cached value into dest. found is false on a miss.
	Get(ctx context.Context, group, key string, dest any) (found bool, err error)

	// Set stores value under group/key for ttl.
	Set(ctx context.Context, group, key string, value any, ttl time.Duration) error

	// Delete removes one key.
	Delete(ctx context.Context, group, key string) error

	// ClearGroup removes every key of a group.
	ClearGroup(ctx context.Context, group string) error

	// Clear removes everything.
	Clear(ctx context.Context) error
}

// Cache groups.
const (
	CacheGroupStats  = "user_stats"
	CacheGroupBadges = "user_badges"
)

// NotificationEvent is a best-effort message to an external CRM.
type NotificationEvent struct {
	EventKey  string         `json:"event_key"`
	Title     string         `json:"title"`
	Recipient string         `json:"recipient"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Notifier delivers notification events. It never returns an error; false
// means every transport failed and the failure was logged.
type Notifier interface {
	TrackEvent(ctx context.Context, event NotificationEvent) bool
}

// IDGenerator produces identifiers for new rows.
type IDGenerator func() string
