package command

import (
	"context"
	"fmt"
	"time"

	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/internal/domain/shared"
	"github.com/keystep/practice-hub/pkg/logger"
)

// PurchaseShieldCommand buys one streak shield with gems.
type PurchaseShieldCommand struct {
	UserID string
}

// PurchaseShieldResult reports the purchase.
type PurchaseShieldResult struct {
	ShieldCount int
	GemsSpent   int
	GemsBalance int
	Transaction *gamification.GemsTransaction
}

// ShieldConfig holds the shield price and cap.
type ShieldConfig struct {
	Cost       int
	MaxShields int
}

// DefaultShieldConfig returns 100 gems per shield, at most 3 held.
func DefaultShieldConfig() ShieldConfig {
	return ShieldConfig{Cost: 100, MaxShields: 3}
}

// PurchaseShieldHandler handles PurchaseShieldCommand.
type PurchaseShieldHandler struct {
	deps     Deps
	rewarder *gamification.Rewarder
	cfg      ShieldConfig
	enabled  Gate
	log      *logger.Logger
}

// NewPurchaseShieldHandler creates a new PurchaseShieldHandler.
func NewPurchaseShieldHandler(deps Deps, rewarder *gamification.Rewarder, cfg ShieldConfig, enabled Gate) *PurchaseShieldHandler {
	deps = deps.withDefaults()
	if cfg.Cost <= 0 {
		cfg = DefaultShieldConfig()
	}
	return &PurchaseShieldHandler{
		deps:     deps,
		rewarder: rewarder,
		cfg:      cfg,
		enabled:  enabled,
		log:      deps.Logger.With(logger.Component("purchase_shield")),
	}
}

// Handle spends the shield cost and adds one shield.
// Returns shared.ErrShieldLimitReached or shared.ErrInsufficientGems.
func (h *PurchaseShieldHandler) Handle(ctx context.Context, cmd PurchaseShieldCommand) (_ *PurchaseShieldResult, err error) {
	ctx, span := startSpan(ctx, "command.PurchaseShield", cmd.UserID)
	start := time.Now()
	defer func() {
		endSpan(span, err)
		h.deps.Metrics.ObserveOperation("purchase_shield", time.Since(start), err)
	}()

	if cmd.UserID == "" {
		return nil, shared.ErrInvalidUserID
	}
	if !h.enabled.allows(cmd.UserID) {
		return nil, shared.ErrShieldsDisabled
	}

	now := h.deps.Clock.Now()
	var result *PurchaseShieldResult
	var events []shared.Event

	err = runSerialized(ctx, h.deps, "purchase_shield", cmd.UserID, func(ctx context.Context) error {
		result, events = nil, nil

		stats, err := loadStats(ctx, h.deps.Stats, cmd.UserID, now)
		if err != nil {
			return err
		}
		if stats.StreakShieldCount >= h.cfg.MaxShields {
			return shared.ErrShieldLimitReached
		}

		tx, err := h.rewarder.Spend(ctx, stats, h.cfg.Cost, gamification.SourceShieldPurchase, "Streak shield purchased", now)
		if err != nil {
			return err
		}
		stats.StreakShieldCount++

		if err := h.deps.Stats.Save(ctx, stats); err != nil {
			return fmt.Errorf("save stats: %w", err)
		}

		result = &PurchaseShieldResult{
			ShieldCount: stats.StreakShieldCount,
			GemsSpent:   h.cfg.Cost,
			GemsBalance: stats.GemsBalance,
			Transaction: tx,
		}
		events = gemsEvent(tx)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("purchase_shield: %w", err)
	}

	invalidate(ctx, h.deps, cmd.UserID)
	publish(h.deps, events)
	h.deps.Metrics.GemsChanged(-h.cfg.Cost)

	h.log.Info("streak shield purchased",
		logger.UserID(cmd.UserID),
		logger.Int("shield_count", result.ShieldCount),
		logger.GemsAmount(result.GemsBalance))

	return result, nil
}
