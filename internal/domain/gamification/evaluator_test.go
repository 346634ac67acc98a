package gamification

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	defs     []*BadgeDefinition
	earned   map[string]time.Time
	failKeys map[string]bool
}

func newFakeCatalog(defs ...*BadgeDefinition) *fakeCatalog {
	return &fakeCatalog{defs: defs, earned: map[string]time.Time{}, failKeys: map[string]bool{}}
}

func (c *fakeCatalog) ListBadges(ctx context.Context, activeOnly bool) ([]*BadgeDefinition, error) {
	var out []*BadgeDefinition
	for _, d := range c.defs {
		if activeOnly && !d.Active {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (c *fakeCatalog) ListUserBadges(ctx context.Context, userID string) ([]*UserBadge, error) {
	var out []*UserBadge
	for k, at := range c.earned {
		out = append(out, &UserBadge{UserID: userID, BadgeKey: k, EarnedAt: at})
	}
	return out, nil
}

func (c *fakeCatalog) AwardBadge(ctx context.Context, userID, key string, at time.Time) (bool, error) {
	if c.failKeys[key] {
		return false, errors.New("insert failed")
	}
	if _, ok := c.earned[key]; ok {
		return false, nil
	}
	c.earned[key] = at
	return true, nil
}

func (c *fakeCatalog) UpsertBadge(ctx context.Context, def *BadgeDefinition) error {
	c.defs = append(c.defs, def)
	return nil
}

type fakeSessions struct {
	sessions []*PracticeSession
	calls    int
}

func (s *fakeSessions) Create(ctx context.Context, session *PracticeSession) error {
	s.sessions = append([]*PracticeSession{session}, s.sessions...)
	return nil
}

func (s *fakeSessions) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*PracticeSession, error) {
	s.calls++
	if offset >= len(s.sessions) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.sessions) {
		end = len(s.sessions)
	}
	return s.sessions[offset:end], nil
}

func (s *fakeSessions) Count(ctx context.Context, userID string) (int, error) {
	return len(s.sessions), nil
}

type fakeLedger struct {
	txs  []*GemsTransaction
	fail bool
}

func (l *fakeLedger) Record(ctx context.Context, tx *GemsTransaction) error {
	if l.fail {
		return errors.New("ledger down")
	}
	l.txs = append(l.txs, tx)
	return nil
}

func (l *fakeLedger) ListTransactions(ctx context.Context, userID string, limit int) ([]*GemsTransaction, error) {
	return l.txs, nil
}

func seqIDs() IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func badge(order int, key string, ct CriteriaType, value, xp, gems int) *BadgeDefinition {
	return &BadgeDefinition{Key: key, Name: key, CriteriaType: ct, CriteriaValue: value, XPReward: xp, GemReward: gems, Active: true, SortOrder: order}
}

type evalFixture struct {
	catalog  *fakeCatalog
	sessions *fakeSessions
	ledger   *fakeLedger
	eval     *Evaluator
}

func newEvalFixture(defs ...*BadgeDefinition) *evalFixture {
	f := &evalFixture{
		catalog:  newFakeCatalog(defs...),
		sessions: &fakeSessions{},
		ledger:   &fakeLedger{},
	}
	f.eval = NewEvaluator(f.catalog, f.sessions, NewRewarder(f.ledger, seqIDs()), DefaultBadgeRules(), time.UTC, nil)
	return f
}

var evalNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestEvaluator_AwardsOnce(t *testing.T) {
	f := newEvalFixture(badge(1, "first_session", CriteriaPracticeSessions, 1, 10, 5))
	stats := NewUserStats("u1", evalNow)
	stats.TotalSessions = 1

	awarded, err := f.eval.EvaluateAndAward(context.Background(), stats, nil, evalNow)
	require.NoError(t, err)
	require.Len(t, awarded, 1)
	assert.Equal(t, "first_session", awarded[0].Badge.Key)

	awarded, err = f.eval.EvaluateAndAward(context.Background(), stats, nil, evalNow)
	require.NoError(t, err)
	assert.Empty(t, awarded)

	assert.Equal(t, 1, stats.BadgesEarned)
	assert.Equal(t, 10, stats.TotalXP)
	assert.Equal(t, 5, stats.GemsBalance)
	assert.Len(t, f.catalog.earned, 1)
	assert.Len(t, f.ledger.txs, 1)
}

func TestEvaluator_RewardsChainIntoLaterBadges(t *testing.T) {
	f := newEvalFixture(
		badge(1, "first_session", CriteriaPracticeSessions, 1, 20, 0),
		badge(2, "level_2", CriteriaLevelReached, 2, 0, 0),
		badge(3, "xp_100", CriteriaTotalXP, 100, 0, 0),
	)
	stats := NewUserStats("u1", evalNow)
	stats.TotalXP = 90
	stats.TotalSessions = 1

	awarded, err := f.eval.EvaluateAndAward(context.Background(), stats, nil, evalNow)
	require.NoError(t, err)

	require.Len(t, awarded, 3)
	assert.True(t, awarded[0].LevelChange.LeveledUp)
	assert.Equal(t, 2, awarded[0].LevelChange.NewLevel)
	assert.Equal(t, "level_2", awarded[1].Badge.Key)
	assert.Equal(t, 110, stats.TotalXP)
	assert.Equal(t, 2, stats.CurrentLevel)
	assert.Equal(t, 3, stats.BadgesEarned)
}

func TestEvaluator_FailedAwardDoesNotAbortPass(t *testing.T) {
	f := newEvalFixture(
		badge(1, "broken", CriteriaPracticeSessions, 1, 500, 50),
		badge(2, "streak_1", CriteriaStreak, 1, 10, 1),
	)
	f.catalog.failKeys["broken"] = true
	stats := NewUserStats("u1", evalNow)
	stats.TotalSessions = 1
	stats.CurrentStreak = 1
	stats.LongestStreak = 1

	awarded, err := f.eval.EvaluateAndAward(context.Background(), stats, nil, evalNow)
	require.NoError(t, err)

	require.Len(t, awarded, 1)
	assert.Equal(t, "streak_1", awarded[0].Badge.Key)
	assert.Equal(t, 10, stats.TotalXP)
	assert.Equal(t, 1, stats.GemsBalance)
	assert.Equal(t, 1, stats.BadgesEarned)
}

func TestEvaluator_LedgerFailureKeepsXP(t *testing.T) {
	f := newEvalFixture(badge(1, "first_session", CriteriaPracticeSessions, 1, 100, 25))
	f.ledger.fail = true
	stats := NewUserStats("u1", evalNow)
	stats.TotalSessions = 1

	awarded, err := f.eval.EvaluateAndAward(context.Background(), stats, nil, evalNow)
	require.NoError(t, err)

	require.Len(t, awarded, 1)
	assert.Equal(t, 0, awarded[0].GemsGranted)
	assert.True(t, awarded[0].LevelChange.LeveledUp)
	assert.Equal(t, 100, stats.TotalXP)
	assert.Equal(t, 0, stats.GemsBalance)
	assert.Equal(t, 1, stats.BadgesEarned)
}

func TestEvaluator_GemsJournaledWithBadgeSource(t *testing.T) {
	f := newEvalFixture(badge(1, "streak_3", CriteriaStreak, 3, 0, 15))
	stats := NewUserStats("u1", evalNow)
	stats.GemsBalance = 40
	stats.CurrentStreak = 3
	stats.LongestStreak = 3

	_, err := f.eval.EvaluateAndAward(context.Background(), stats, nil, evalNow)
	require.NoError(t, err)

	require.Len(t, f.ledger.txs, 1)
	tx := f.ledger.txs[0]
	assert.Equal(t, "badge_streak_3", tx.Source)
	assert.Equal(t, TransactionEarn, tx.Type)
	assert.Equal(t, 15, tx.Amount)
	assert.Equal(t, 55, tx.BalanceAfter)
	assert.Equal(t, 55, stats.GemsBalance)
}

func TestEvaluator_LoadsFullHistoryLazily(t *testing.T) {
	f := newEvalFixture(
		badge(1, "first_session", CriteriaPracticeSessions, 1, 0, 0),
		badge(2, "improver", CriteriaImprovementCount, 450, 0, 0),
	)
	for i := 0; i < 450; i++ {
		f.sessions.sessions = append(f.sessions.sessions, &PracticeSession{
			UserID: "u1", DurationMinutes: 5, ImprovementDetected: true,
			CreatedAt: evalNow.Add(-time.Duration(i) * time.Hour),
		})
	}
	stats := NewUserStats("u1", evalNow)
	stats.TotalSessions = 450

	awarded, err := f.eval.EvaluateAndAward(context.Background(), stats, nil, evalNow)
	require.NoError(t, err)
	assert.Len(t, awarded, 2)
	assert.Equal(t, 3, f.sessions.calls)

	f2 := newEvalFixture(badge(1, "first_session", CriteriaPracticeSessions, 1, 0, 0))
	_, err = f2.eval.EvaluateAndAward(context.Background(), stats, nil, evalNow)
	require.NoError(t, err)
	assert.Zero(t, f2.sessions.calls)
}

func TestEvaluator_CurriculumBadges(t *testing.T) {
	f := newEvalFixture(
		badge(1, "curriculum_first_step", CriteriaCurriculumSteps, 1, 25, 5),
		badge(2, "curriculum_all_keys", CriteriaCurriculumFocus, 1, 100, 25),
	)
	stats := NewUserStats("u1", evalNow)

	awarded, err := f.eval.EvaluateAndAward(context.Background(), stats, nil, evalNow)
	require.NoError(t, err)
	assert.Empty(t, awarded)

	awarded, err = f.eval.EvaluateAndAward(context.Background(), stats, &CurriculumFacts{StepsCompleted: 1}, evalNow)
	require.NoError(t, err)
	require.Len(t, awarded, 1)
	assert.Equal(t, "curriculum_first_step", awarded[0].Badge.Key)

	awarded, err = f.eval.EvaluateAndAward(context.Background(), stats, &CurriculumFacts{StepsCompleted: 12, FocusesCompleted: 1}, evalNow)
	require.NoError(t, err)
	require.Len(t, awarded, 1)
	assert.Equal(t, "curriculum_all_keys", awarded[0].Badge.Key)
	assert.Equal(t, 2, stats.BadgesEarned)
}

func TestRewarder_Spend(t *testing.T) {
	ledger := &fakeLedger{}
	r := NewRewarder(ledger, seqIDs())
	stats := NewUserStats("u1", evalNow)
	stats.GemsBalance = 120

	tx, err := r.Spend(context.Background(), stats, 100, SourceShieldPurchase, "Streak shield", evalNow)
	require.NoError(t, err)
	assert.Equal(t, -100, tx.Amount)
	assert.Equal(t, TransactionSpend, tx.Type)
	assert.Equal(t, 20, tx.BalanceAfter)
	assert.Equal(t, 20, stats.GemsBalance)

	_, err = r.Spend(context.Background(), stats, 100, SourceShieldPurchase, "Streak shield", evalNow)
	assert.Error(t, err)
	assert.Equal(t, 20, stats.GemsBalance)
	assert.Len(t, ledger.txs, 1)
}
