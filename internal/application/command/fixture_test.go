package command

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keystep/practice-hub/internal/domain/curriculum"
	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/internal/domain/shared"
	"github.com/keystep/practice-hub/internal/infrastructure/metrics"
	"github.com/keystep/practice-hub/internal/infrastructure/persistence/memory"
	"github.com/keystep/practice-hub/pkg/timeutil"
)

var day0 = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}

type fixture struct {
	store       *memory.Store
	stats       *memory.StatsRepository
	sessions    *memory.SessionRepository
	catalog     *memory.BadgeCatalog
	ledger      *memory.GemsLedger
	repo        *memory.CurriculumRepository
	progress    *memory.ProgressRepository
	assignments *memory.AssignmentRepository
	items       *memory.PracticeItemRepository
	cache       *memory.Cache
	publisher   *recordingPublisher
	metrics     *metrics.Metrics
	deps        Deps
	rewarder    *gamification.Rewarder
	evaluator   *gamification.Evaluator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	var seq int64
	newID := func() string { return fmt.Sprintf("id-%d", atomic.AddInt64(&seq, 1)) }

	f := &fixture{
		store:       store,
		stats:       memory.NewStatsRepository(store),
		sessions:    memory.NewSessionRepository(store),
		catalog:     memory.NewBadgeCatalog(store),
		ledger:      memory.NewGemsLedger(store),
		repo:        memory.NewCurriculumRepository(store),
		progress:    memory.NewProgressRepository(store),
		assignments: memory.NewAssignmentRepository(store),
		items:       memory.NewPracticeItemRepository(store),
		cache:       memory.NewCache(),
		publisher:   &recordingPublisher{},
		metrics:     metrics.New(),
	}
	f.deps = Deps{
		Serializer: memory.NewUserSerializer(),
		Stats:      f.stats,
		Sessions:   f.sessions,
		Catalog:    f.catalog,
		Ledger:     f.ledger,
		Cache:      f.cache,
		Publisher:  f.publisher,
		Clock:      timeutil.FixedClock{T: day0},
		NewID:      newID,
		Metrics:    f.metrics,
	}
	f.rewarder = gamification.NewRewarder(f.ledger, newID)
	f.evaluator = gamification.NewEvaluator(f.catalog, f.sessions, f.rewarder, gamification.DefaultBadgeRules(), time.UTC, nil)

	ctx := context.Background()
	for _, def := range gamification.DefaultBadgeCatalog() {
		require.NoError(t, f.catalog.UpsertBadge(ctx, def))
	}
	return f
}

// seedCurriculum installs focuses with ids 1..n; focus i has steps i*100+1..i*100+12.
func (f *fixture) seedCurriculum(t *testing.T, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		focus := &curriculum.Focus{ID: int64(i), Title: fmt.Sprintf("Focus %d", i), Order: i}
		require.NoError(t, f.repo.SaveFocus(context.Background(), focus, curriculum.BuildSteps(focus, int64(i*100+1))))
	}
}

func (f *fixture) seedGems(t *testing.T, userID string, gems int) {
	t.Helper()
	st := gamification.NewUserStats(userID, day0)
	st.GemsBalance = gems
	require.NoError(t, f.stats.Save(context.Background(), st))
}

func (f *fixture) currentStats(t *testing.T, userID string) *gamification.UserStats {
	t.Helper()
	st, err := f.stats.Get(context.Background(), userID)
	require.NoError(t, err)
	return st
}

func (f *fixture) sessionHandler(badges Gate) *RecordPracticeSessionHandler {
	return NewRecordPracticeSessionHandler(f.deps, gamification.NewStreakTracker(time.UTC), f.evaluator, badges)
}

func (f *fixture) stepHandler() *CompleteStepHandler {
	return f.stepHandlerWithPlaceholder(nil)
}

func (f *fixture) stepHandlerWithPlaceholder(placeholder Gate) *CompleteStepHandler {
	return NewCompleteStepHandler(f.deps, CompleteStepHandlerConfig{
		Repository:  f.repo,
		Progress:    f.progress,
		Assignments: f.assignments,
		Rewarder:    f.rewarder,
		Evaluator:   f.evaluator,
		Rewards:     curriculum.DefaultRewards(),
		Items:       f.items,
		Placeholder: placeholder,
	})
}

func badgeKeys(awards []gamification.AwardedBadge) []string {
	keys := make([]string, 0, len(awards))
	for _, a := range awards {
		keys = append(keys, a.Badge.Key)
	}
	return keys
}
