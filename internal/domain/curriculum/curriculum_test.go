package curriculum

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystep/practice-hub/internal/domain/shared"
)

type fakeRepo struct {
	focuses []*Focus
	steps   map[int64][]*Step
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{steps: map[int64][]*Step{}}
}

func (r *fakeRepo) add(id int64, order int, firstStep int64) {
	f := &Focus{ID: id, Title: "Focus", Order: order}
	r.focuses = append(r.focuses, f)
	r.steps[id] = BuildSteps(f, firstStep)
}

func (r *fakeRepo) ListFocuses(ctx context.Context) ([]*Focus, error) {
	out := make([]*Focus, len(r.focuses))
	copy(out, r.focuses)
	return out, nil
}

func (r *fakeRepo) GetFocus(ctx context.Context, id int64) (*Focus, error) {
	for _, f := range r.focuses {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, shared.ErrFocusNotFound
}

func (r *fakeRepo) GetStep(ctx context.Context, id int64) (*Step, error) {
	for _, steps := range r.steps {
		for _, s := range steps {
			if s.ID == id {
				return s, nil
			}
		}
	}
	return nil, shared.ErrStepNotFound
}

func (r *fakeRepo) ListSteps(ctx context.Context, focusID int64) ([]*Step, error) {
	out := make([]*Step, len(r.steps[focusID]))
	copy(out, r.steps[focusID])
	return out, nil
}

func (r *fakeRepo) SaveFocus(ctx context.Context, focus *Focus, steps []*Step) error {
	r.focuses = append(r.focuses, focus)
	r.steps[focus.ID] = steps
	return nil
}

func TestStepPosition(t *testing.T) {
	steps := BuildSteps(&Focus{ID: 1}, 101)

	pos, err := StepPosition(steps, 101)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	pos, err = StepPosition(steps, 112)
	require.NoError(t, err)
	assert.Equal(t, 12, pos)

	_, err = StepPosition(steps, 200)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	// Position follows id order even with gaps.
	sparse := []*Step{{ID: 5}, {ID: 9}, {ID: 40}}
	pos, err = StepPosition(sparse, 40)
	require.NoError(t, err)
	assert.Equal(t, 3, pos)
}

func TestUserProgress_SlotsAreTerminal(t *testing.T) {
	p := NewUserProgress("u1", 1)
	now := time.Now()

	require.NoError(t, p.Complete(3, now))
	assert.True(t, p.IsSlotSet(3))
	assert.Equal(t, 1, p.CompletedCount())

	err := p.Complete(3, now.Add(time.Hour))
	assert.ErrorIs(t, err, shared.ErrStepAlreadyCompleted)
	assert.Equal(t, now, *p.Slots[2])

	assert.ErrorIs(t, p.Complete(13, now), shared.ErrInvalidStepPosition)
	assert.ErrorIs(t, p.Complete(0, now), shared.ErrInvalidStepPosition)

	for i := 1; i <= StepsPerFocus; i++ {
		if i != 3 {
			require.NoError(t, p.Complete(i, now))
		}
	}
	assert.True(t, p.IsComplete())
}

func TestSummarize(t *testing.T) {
	now := time.Now()
	full := NewUserProgress("u1", 1)
	for i := 1; i <= StepsPerFocus; i++ {
		require.NoError(t, full.Complete(i, now))
	}
	partial := NewUserProgress("u1", 2)
	require.NoError(t, partial.Complete(1, now))
	require.NoError(t, partial.Complete(2, now))

	s := Summarize([]*UserProgress{full, partial})
	assert.Equal(t, 14, s.StepsCompleted)
	assert.Equal(t, 1, s.FocusesCompleted)
}

func TestNavigator_FirstStep(t *testing.T) {
	repo := newFakeRepo()
	nav := NewNavigator(repo)

	_, err := nav.FirstStep(context.Background())
	assert.ErrorIs(t, err, shared.ErrCurriculumEmpty)

	repo.add(2, 2, 201)
	repo.add(1, 1, 101)
	first, err := nav.FirstStep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(101), first.ID)
}

func TestNavigator_Next(t *testing.T) {
	repo := newFakeRepo()
	repo.add(1, 1, 101)
	repo.add(3, 2, 301)
	repo.add(2, 3, 201)
	nav := NewNavigator(repo)
	ctx := context.Background()

	step, _ := repo.GetStep(ctx, 105)
	next, err := nav.Next(ctx, step)
	require.NoError(t, err)
	assert.Equal(t, int64(106), next.ID)

	// Last step of focus 1 moves to focus 3, which is second by order.
	step, _ = repo.GetStep(ctx, 112)
	next, err = nav.Next(ctx, step)
	require.NoError(t, err)
	assert.Equal(t, int64(301), next.ID)
	assert.Equal(t, int64(3), next.FocusID)

	step, _ = repo.GetStep(ctx, 312)
	next, err = nav.Next(ctx, step)
	require.NoError(t, err)
	assert.Equal(t, int64(201), next.ID)

	step, _ = repo.GetStep(ctx, 212)
	next, err = nav.Next(ctx, step)
	require.NoError(t, err)
	assert.Nil(t, next)
}
