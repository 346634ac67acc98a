package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/keystep/practice-hub/internal/domain/gamification"
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGE CATALOG IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// BadgeCatalog implements gamification.BadgeCatalog for PostgreSQL.
type BadgeCatalog struct {
	conn *Connection
}

// NewBadgeCatalog creates a new BadgeCatalog.
func NewBadgeCatalog(conn *Connection) *BadgeCatalog {
	return &BadgeCatalog{conn: conn}
}

// ListBadges returns definitions ordered by sort order.
func (c *BadgeCatalog) ListBadges(ctx context.Context, activeOnly bool) ([]*gamification.BadgeDefinition, error) {
	query := `
		SELECT badge_key, name, description, category, criteria_type, criteria_value,
			   xp_reward, gem_reward, notify, notify_event_key, metadata, active, sort_order
		FROM badge_definitions
		WHERE active OR NOT $1
		ORDER BY sort_order, badge_key
	`

	rows, err := c.conn.Q(ctx).Query(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list badges: %w", err)
	}

	defs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*gamification.BadgeDefinition, error) {
		var (
			d        gamification.BadgeDefinition
			criteria string
			meta     []byte
		)
		err := row.Scan(
			&d.Key,
			&d.Name,
			&d.Description,
			&d.Category,
			&criteria,
			&d.CriteriaValue,
			&d.XPReward,
			&d.GemReward,
			&d.Notify,
			&d.NotifyEventKey,
			&meta,
			&d.Active,
			&d.SortOrder,
		)
		if err != nil {
			return nil, err
		}
		d.CriteriaType = gamification.CriteriaType(criteria)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &d.Metadata); err != nil {
				return nil, fmt.Errorf("badge %s metadata: %w", d.Key, err)
			}
		}
		return &d, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan badges: %w", err)
	}

	return defs, nil
}

// ListUserBadges returns the badges a user earned, oldest first.
func (c *BadgeCatalog) ListUserBadges(ctx context.Context, userID string) ([]*gamification.UserBadge, error) {
	query := `
		SELECT user_id, badge_key, earned_at
		FROM user_badges
		WHERE user_id = $1
		ORDER BY earned_at, badge_key
	`

	rows, err := c.conn.Q(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user badges: %w", err)
	}

	badges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*gamification.UserBadge, error) {
		var b gamification.UserBadge
		err := row.Scan(&b.UserID, &b.BadgeKey, &b.EarnedAt)
		return &b, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan user badges: %w", err)
	}

	return badges, nil
}

// AwardBadge inserts the user badge inside a savepoint, so a failure here
// does not poison the caller's transaction.
func (c *BadgeCatalog) AwardBadge(ctx context.Context, userID, badgeKey string, earnedAt time.Time) (bool, error) {
	query := `
		INSERT INTO user_badges (user_id, badge_key, earned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, badge_key) DO NOTHING
	`

	inserted := false
	err := c.conn.Savepoint(ctx, func(ctx context.Context) error {
		result, err := c.conn.Q(ctx).Exec(ctx, query, userID, badgeKey, earnedAt)
		if err != nil {
			return err
		}
		inserted = result.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to award badge %s: %w", badgeKey, err)
	}

	return inserted, nil
}

// UpsertBadge creates or replaces a definition.
func (c *BadgeCatalog) UpsertBadge(ctx context.Context, d *gamification.BadgeDefinition) error {
	meta := d.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal badge metadata: %w", err)
	}

	query := `
		INSERT INTO badge_definitions (
			badge_key, name, description, category, criteria_type, criteria_value,
			xp_reward, gem_reward, notify, notify_event_key, metadata, active, sort_order
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (badge_key) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			criteria_type = EXCLUDED.criteria_type,
			criteria_value = EXCLUDED.criteria_value,
			xp_reward = EXCLUDED.xp_reward,
			gem_reward = EXCLUDED.gem_reward,
			notify = EXCLUDED.notify,
			notify_event_key = EXCLUDED.notify_event_key,
			metadata = EXCLUDED.metadata,
			active = EXCLUDED.active,
			sort_order = EXCLUDED.sort_order
	`

	_, err = c.conn.Q(ctx).Exec(ctx, query,
		d.Key,
		d.Name,
		d.Description,
		d.Category,
		string(d.CriteriaType),
		d.CriteriaValue,
		d.XPReward,
		d.GemReward,
		d.Notify,
		d.NotifyEventKey,
		metaJSON,
		d.Active,
		d.SortOrder,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert badge %s: %w", d.Key, err)
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GEMS LEDGER IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// GemsLedger implements gamification.GemsLedger for PostgreSQL.
type GemsLedger struct {
	conn *Connection
}

// NewGemsLedger creates a new GemsLedger.
func NewGemsLedger(conn *Connection) *GemsLedger {
	return &GemsLedger{conn: conn}
}

// Record appends a transaction.
func (l *GemsLedger) Record(ctx context.Context, tx *gamification.GemsTransaction) error {
	query := `
		INSERT INTO gems_transactions (
			id, user_id, type, amount, source, description, balance_after, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := l.conn.Q(ctx).Exec(ctx, query,
		tx.ID,
		tx.UserID,
		string(tx.Type),
		tx.Amount,
		tx.Source,
		tx.Description,
		tx.BalanceAfter,
		tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record gems transaction: %w", err)
	}

	return nil
}

// ListTransactions returns the most recent transactions, newest first.
func (l *GemsLedger) ListTransactions(ctx context.Context, userID string, limit int) ([]*gamification.GemsTransaction, error) {
	query := `
		SELECT id, user_id, type, amount, source, description, balance_after, created_at
		FROM gems_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := l.conn.Q(ctx).Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list gems transactions: %w", err)
	}

	txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*gamification.GemsTransaction, error) {
		var (
			t      gamification.GemsTransaction
			txType string
		)
		err := row.Scan(&t.ID, &t.UserID, &txType, &t.Amount, &t.Source, &t.Description, &t.BalanceAfter, &t.CreatedAt)
		t.Type = gamification.TransactionType(txType)
		return &t, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan gems transactions: %w", err)
	}

	return txs, nil
}
