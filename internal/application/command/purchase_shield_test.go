package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/internal/domain/shared"
)

func TestPurchaseShield_SpendsGems(t *testing.T) {
	f := newFixture(t)
	f.seedGems(t, "u-1", 250)
	h := NewPurchaseShieldHandler(f.deps, f.rewarder, DefaultShieldConfig(), nil)
	ctx := context.Background()

	res, err := h.Handle(ctx, PurchaseShieldCommand{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ShieldCount)
	assert.Equal(t, 150, res.GemsBalance)
	assert.Equal(t, -100, res.Transaction.Amount)
	assert.Equal(t, gamification.TransactionSpend, res.Transaction.Type)
	assert.Equal(t, gamification.SourceShieldPurchase, res.Transaction.Source)

	res, err = h.Handle(ctx, PurchaseShieldCommand{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ShieldCount)
	assert.Equal(t, 50, res.GemsBalance)

	_, err = h.Handle(ctx, PurchaseShieldCommand{UserID: "u-1"})
	assert.ErrorIs(t, err, shared.ErrInsufficientGems)

	stats := f.currentStats(t, "u-1")
	assert.Equal(t, 2, stats.StreakShieldCount)
	assert.Equal(t, 50, stats.GemsBalance)
	assert.Equal(t, []shared.EventType{shared.EventGemsChanged, shared.EventGemsChanged}, f.publisher.types())
}

func TestPurchaseShield_LimitReached(t *testing.T) {
	f := newFixture(t)
	f.seedGems(t, "u-1", 1000)
	h := NewPurchaseShieldHandler(f.deps, f.rewarder, ShieldConfig{Cost: 100, MaxShields: 3}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.Handle(ctx, PurchaseShieldCommand{UserID: "u-1"})
		require.NoError(t, err)
	}
	_, err := h.Handle(ctx, PurchaseShieldCommand{UserID: "u-1"})
	assert.ErrorIs(t, err, shared.ErrShieldLimitReached)

	txs, err := f.ledger.ListTransactions(ctx, "u-1", 0)
	require.NoError(t, err)
	assert.Len(t, txs, 3)
	assert.Equal(t, 700, f.currentStats(t, "u-1").GemsBalance)
}

func TestPurchaseShield_NewUserHasNoGems(t *testing.T) {
	f := newFixture(t)
	h := NewPurchaseShieldHandler(f.deps, f.rewarder, DefaultShieldConfig(), nil)

	_, err := h.Handle(context.Background(), PurchaseShieldCommand{UserID: "u-2"})
	assert.ErrorIs(t, err, shared.ErrInsufficientGems)
}

func TestPurchaseShield_Disabled(t *testing.T) {
	f := newFixture(t)
	f.seedGems(t, "u-1", 1000)
	h := NewPurchaseShieldHandler(f.deps, f.rewarder, DefaultShieldConfig(), func(string) bool { return false })

	_, err := h.Handle(context.Background(), PurchaseShieldCommand{UserID: "u-1"})
	assert.ErrorIs(t, err, shared.ErrShieldsDisabled)
	assert.Zero(t, f.currentStats(t, "u-1").StreakShieldCount)
}
