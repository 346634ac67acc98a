package gamification

import (
	"context"
	"fmt"
	"time"

	"github.com/keystep/practice-hub/internal/domain/shared"
)

// Reward is an XP and gems grant with its ledger tag.
type Reward struct {
	XP          int
	Gems        int
	Source      string
	Description string
}

// RewardResult reports what a grant changed.
type RewardResult struct {
	XPGranted   int
	GemsGranted int
	LevelChange LevelChange
	Transaction *GemsTransaction
}

// Rewarder is the single path through which XP and gems reach UserStats,
// so the level is recomputed and the ledger stays in step with the balance.
type Rewarder struct {
	ledger GemsLedger
	newID  IDGenerator
}

// NewRewarder creates a Rewarder.
func NewRewarder(ledger GemsLedger, newID IDGenerator) *Rewarder {
	return &Rewarder{ledger: ledger, newID: newID}
}

// Grant applies a reward to stats. Gems are journaled first; if the ledger
// write fails nothing is applied.
func (r *Rewarder) Grant(ctx context.Context, stats *UserStats, reward Reward, at time.Time) (RewardResult, error) {
	var result RewardResult

	if reward.Gems > 0 {
		tx := NewGemsTransaction(r.newID(), stats.UserID, reward.Gems, stats.GemsBalance, reward.Source, reward.Description, at)
		if err := r.ledger.Record(ctx, tx); err != nil {
			return result, fmt.Errorf("record gems %s: %w", reward.Source, err)
		}
		stats.GemsBalance = tx.BalanceAfter
		result.GemsGranted = reward.Gems
		result.Transaction = tx
	}

	result.LevelChange = stats.AddXP(reward.XP)
	if reward.XP > 0 {
		result.XPGranted = reward.XP
	}
	stats.Touch(at)
	return result, nil
}

// Spend debits gems from stats and journals a negative transaction.
func (r *Rewarder) Spend(ctx context.Context, stats *UserStats, amount int, source, description string, at time.Time) (*GemsTransaction, error) {
	if amount <= 0 {
		return nil, shared.NewDomainError("gamification", "SpendGems", shared.ErrValueOutOfRange, "amount must be positive")
	}
	if !stats.CanSpendGems(amount) {
		return nil, shared.ErrInsufficientGems
	}

	tx := NewGemsTransaction(r.newID(), stats.UserID, -amount, stats.GemsBalance, source, description, at)
	if err := r.ledger.Record(ctx, tx); err != nil {
		return nil, fmt.Errorf("record gems %s: %w", source, err)
	}
	stats.GemsBalance = tx.BalanceAfter
	stats.Touch(at)
	return tx, nil
}
