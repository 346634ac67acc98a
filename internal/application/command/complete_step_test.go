package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystep/practice-hub/internal/domain/curriculum"
	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/internal/domain/shared"
)

func TestCompleteStep_FirstStep(t *testing.T) {
	f := newFixture(t)
	f.seedCurriculum(t, 2)

	res, err := f.stepHandler().Handle(context.Background(), CompleteStepCommand{UserID: "u-1", StepID: 101, FocusID: 1})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.False(t, res.Declined)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, 25, res.XPEarned)
	assert.Zero(t, res.GemsEarned)
	assert.Equal(t, 1, res.KeysCompleted)
	assert.False(t, res.AllKeysComplete)
	assert.Equal(t, []string{"curriculum_first_step"}, badgeKeys(res.Badges))
	require.NotNil(t, res.NextAssignment)
	assert.Equal(t, int64(102), res.NextAssignment.StepID)

	stats := f.currentStats(t, "u-1")
	assert.Equal(t, 50, stats.TotalXP)
	assert.Equal(t, 5, stats.GemsBalance)
	assert.Equal(t, 1, stats.BadgesEarned)

	assert.Equal(t, []shared.EventType{
		shared.EventStepCompleted,
		shared.EventBadgeAwarded,
	}, f.publisher.types())
}

func TestCompleteStep_FirstAssignmentAddsPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.seedCurriculum(t, 1)
	h := f.stepHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, CompleteStepCommand{UserID: "u-1", StepID: 101, FocusID: 1})
	require.NoError(t, err)
	_, err = h.Handle(ctx, CompleteStepCommand{UserID: "u-1", StepID: 102, FocusID: 1})
	require.NoError(t, err)

	items, err := f.items.ListByUser(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, items, 1, "only the completion that created the assignment adds an item")
	assert.Equal(t, curriculum.PracticeItemCurriculum, items[0].Kind)
	assert.Len(t, f.assignments.History("u-1"), 2)
}

func TestCompleteStep_PlaceholderGateClosed(t *testing.T) {
	f := newFixture(t)
	f.seedCurriculum(t, 1)
	ctx := context.Background()

	h := f.stepHandlerWithPlaceholder(func(string) bool { return false })
	_, err := h.Handle(ctx, CompleteStepCommand{UserID: "u-1", StepID: 101, FocusID: 1})
	require.NoError(t, err)

	items, err := f.items.ListByUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Empty(t, items)
	_, err = f.assignments.GetCurrent(ctx, "u-1")
	assert.NoError(t, err)
}

func TestCompleteStep_RepeatIsDeclined(t *testing.T) {
	f := newFixture(t)
	f.seedCurriculum(t, 1)
	h := f.stepHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, CompleteStepCommand{UserID: "u-1", StepID: 101, FocusID: 1})
	require.NoError(t, err)
	before := f.currentStats(t, "u-1")
	f.publisher.reset()

	res, err := h.Handle(ctx, CompleteStepCommand{UserID: "u-1", StepID: 101, FocusID: 1})
	require.NoError(t, err)

	assert.True(t, res.Declined)
	assert.False(t, res.Success)
	assert.Equal(t, DeclineReasonAlreadyCompleted, res.DeclineReason)
	assert.Zero(t, res.XPEarned)
	assert.Equal(t, 1, res.KeysCompleted)
	assert.Empty(t, f.publisher.types())

	after := f.currentStats(t, "u-1")
	assert.Equal(t, before.TotalXP, after.TotalXP)
	assert.Equal(t, before.Version, after.Version)
}

func TestCompleteStep_FocusBonusAndAdvanceToNextFocus(t *testing.T) {
	f := newFixture(t)
	f.seedCurriculum(t, 2)
	h := f.stepHandler()
	ctx := context.Background()

	var last *CompleteStepResult
	for id := int64(101); id <= 112; id++ {
		res, err := h.Handle(ctx, CompleteStepCommand{UserID: "u-1", StepID: id, FocusID: 1})
		require.NoError(t, err)
		if id < 112 {
			assert.Zero(t, res.GemsEarned, "no bonus before the twelfth key")
		}
		last = res
	}

	assert.Equal(t, 12, last.KeysCompleted)
	assert.True(t, last.AllKeysComplete)
	assert.Equal(t, 50, last.GemsEarned)
	assert.Contains(t, badgeKeys(last.Badges), "curriculum_all_keys")
	require.NotNil(t, last.NextAssignment)
	assert.Equal(t, int64(201), last.NextAssignment.StepID)
	assert.Equal(t, int64(2), last.NextAssignment.FocusID)
	assert.Empty(t, last.CompletionMessage)

	txs, err := f.ledger.ListTransactions(ctx, "u-1", 0)
	require.NoError(t, err)
	bonuses := 0
	for _, tx := range txs {
		if tx.Source == gamification.SourceCurriculumFocus {
			bonuses++
			assert.Equal(t, 50, tx.Amount)
		}
	}
	assert.Equal(t, 1, bonuses)

	stats := f.currentStats(t, "u-1")
	assert.Equal(t, 12*25+25+100, stats.TotalXP)
	assert.Equal(t, 5+25+50, stats.GemsBalance)
	assert.Equal(t, 2, stats.BadgesEarned)

	history := f.assignments.History("u-1")
	live := 0
	for _, a := range history {
		if !a.Deleted {
			live++
		}
	}
	assert.Equal(t, 1, live)
	assert.Len(t, history, 12)
}

func TestCompleteStep_FinalStepCompletesCurriculum(t *testing.T) {
	f := newFixture(t)
	f.seedCurriculum(t, 1)
	h := f.stepHandler()
	ctx := context.Background()

	var last *CompleteStepResult
	for id := int64(112); id >= 101; id-- {
		res, err := h.Handle(ctx, CompleteStepCommand{UserID: "u-1", StepID: id, FocusID: 1})
		require.NoError(t, err)
		last = res
	}

	// Step 101 was done last, so the pointer still has somewhere to go.
	require.NotNil(t, last.NextAssignment)
	assert.Equal(t, int64(102), last.NextAssignment.StepID)
	assert.Equal(t, 50, last.GemsEarned)

	f2 := newFixture(t)
	f2.seedCurriculum(t, 1)
	h2 := f2.stepHandler()
	for id := int64(101); id <= 112; id++ {
		res, err := h2.Handle(ctx, CompleteStepCommand{UserID: "u-1", StepID: id, FocusID: 1})
		require.NoError(t, err)
		last = res
	}

	assert.Nil(t, last.NextAssignment)
	assert.Equal(t, curriculum.CompletionMessage, last.CompletionMessage)
	assert.Contains(t, f2.publisher.types(), shared.EventCurriculumCompleted)

	current, err := f2.assignments.GetCurrent(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, current.IsCurriculumComplete())
	assert.Equal(t, int64(112), current.StepID)
}

func TestCompleteStep_Errors(t *testing.T) {
	f := newFixture(t)
	f.seedCurriculum(t, 2)
	h := f.stepHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, CompleteStepCommand{UserID: "u-1", StepID: 101, FocusID: 2})
	assert.ErrorIs(t, err, shared.ErrStepFocusMismatch)

	_, err = h.Handle(ctx, CompleteStepCommand{UserID: "u-1", StepID: 999, FocusID: 1})
	assert.True(t, shared.IsNotFound(err))

	_, err = h.Handle(ctx, CompleteStepCommand{UserID: "", StepID: 101, FocusID: 1})
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)

	_, err = f.stats.Get(ctx, "u-1")
	assert.ErrorIs(t, err, shared.ErrStatsNotFound)
}

func TestCompleteStep_OutOfOrderUsesPosition(t *testing.T) {
	f := newFixture(t)
	f.seedCurriculum(t, 1)

	res, err := f.stepHandler().Handle(context.Background(), CompleteStepCommand{UserID: "u-1", StepID: 105, FocusID: 1})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Position)
	require.NotNil(t, res.NextAssignment)
	assert.Equal(t, int64(106), res.NextAssignment.StepID)

	p, err := f.progress.Get(context.Background(), "u-1", 1)
	require.NoError(t, err)
	assert.True(t, p.IsSlotSet(5))
	assert.False(t, p.IsSlotSet(1))
}
