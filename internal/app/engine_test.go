package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystep/practice-hub/config"
	"github.com/keystep/practice-hub/internal/application/command"
	"github.com/keystep/practice-hub/internal/domain/curriculum"
	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/internal/domain/shared"
	"github.com/keystep/practice-hub/internal/infrastructure/persistence/memory"
	"github.com/keystep/practice-hub/pkg/logger"
	"github.com/keystep/practice-hub/pkg/timeutil"
)

type capturingNotifier struct {
	mu     sync.Mutex
	events []gamification.NotificationEvent
}

func (n *capturingNotifier) TrackEvent(ctx context.Context, ev gamification.NotificationEvent) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return true
}

func (n *capturingNotifier) keys() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, ev := range n.events {
		out = append(out, ev.Payload["badge_key"].(string))
	}
	return out
}

func newMemoryEngine(t *testing.T, store *memory.Store, n gamification.Notifier) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.App.Storage = config.StorageMemory

	e, err := New(context.Background(), cfg,
		WithLogger(logger.Nop()),
		WithClock(timeutil.FixedClock{T: time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)}),
		WithMemoryStore(store),
		WithNotifier(n),
		WithSyncEvents(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestEngine_MemoryEndToEnd(t *testing.T) {
	store := memory.NewStore()
	focus := &curriculum.Focus{ID: 1, Title: "Major Scales", Order: 1}
	require.NoError(t, memory.NewCurriculumRepository(store).SaveFocus(context.Background(), focus, curriculum.BuildSteps(focus, 1)))

	n := &capturingNotifier{}
	e := newMemoryEngine(t, store, n)
	ctx := context.Background()

	stats, err := e.GetUserStats(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, stats.Exists)

	session, err := e.RecordPracticeSession(ctx, command.RecordPracticeSessionCommand{
		UserID: "u-1", DurationMinutes: 10, SentimentScore: 5, ImprovementDetected: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 19, session.XPEarned)

	stats, err = e.GetUserStats(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, stats.Exists)
	assert.Equal(t, 29, stats.Stats.TotalXP)
	assert.Equal(t, 5, stats.Stats.GemsBalance)

	a, err := e.GetUserCurrentAssignment(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, a.Created)
	assert.Equal(t, int64(1), a.Step.ID)

	step, err := e.MarkCurriculumStepComplete(ctx, "u-1", 1, 1)
	require.NoError(t, err)
	assert.True(t, step.Success)
	assert.Equal(t, 25, step.XPEarned)
	require.NotNil(t, step.NextAssignment)
	assert.Equal(t, int64(2), step.NextAssignment.StepID)

	again, err := e.MarkCurriculumStepComplete(ctx, "u-1", 1, 1)
	require.NoError(t, err)
	assert.True(t, again.Declined)

	badges, err := e.ListUserBadges(ctx, "u-1")
	require.NoError(t, err)
	var keys []string
	for _, b := range badges {
		keys = append(keys, b.Key)
	}
	assert.ElementsMatch(t, []string{"first_session", "curriculum_first_step"}, keys)

	// Only curriculum badges notify by default.
	e.Drain()
	assert.Equal(t, []string{"curriculum_first_step"}, n.keys())

	_, err = e.PurchaseStreakShield(ctx, "u-1")
	assert.ErrorIs(t, err, shared.ErrInsufficientGems)
}

func TestEngine_SeedsCatalogOnce(t *testing.T) {
	store := memory.NewStore()
	catalog := memory.NewBadgeCatalog(store)
	ctx := context.Background()

	n, err := SeedBadgeCatalog(ctx, catalog)
	require.NoError(t, err)
	assert.Equal(t, len(gamification.DefaultBadgeCatalog()), n)

	n, err = SeedBadgeCatalog(ctx, catalog)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngine_PostgresModeNeedsURL(t *testing.T) {
	cfg := config.Default()
	cfg.App.Storage = config.StoragePostgres

	_, err := New(context.Background(), cfg, WithLogger(logger.Nop()))
	assert.Error(t, err)
}
