package curriculum

import (
	"context"
	"fmt"

	"github.com/keystep/practice-hub/internal/domain/shared"
)

// Navigator walks the curriculum in order: steps by id inside a focus,
// focuses by Order.
type Navigator struct {
	repo Repository
}

// NewNavigator creates a Navigator.
func NewNavigator(repo Repository) *Navigator {
	return &Navigator{repo: repo}
}

// FirstStep returns the first step of the first non-empty focus.
// Returns shared.ErrCurriculumEmpty if there is none.
func (n *Navigator) FirstStep(ctx context.Context) (*Step, error) {
	focuses, err := n.repo.ListFocuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list focuses: %w", err)
	}
	SortFocuses(focuses)

	for _, f := range focuses {
		first, err := n.firstStepOf(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		if first != nil {
			return first, nil
		}
	}
	return nil, shared.ErrCurriculumEmpty
}

// Next returns the step after current, or nil when current is the last step
// of the last focus.
func (n *Navigator) Next(ctx context.Context, current *Step) (*Step, error) {
	steps, err := n.repo.ListSteps(ctx, current.FocusID)
	if err != nil {
		return nil, fmt.Errorf("list steps of focus %d: %w", current.FocusID, err)
	}
	SortSteps(steps)
	for _, s := range steps {
		if s.ID > current.ID {
			return s, nil
		}
	}

	focus, err := n.repo.GetFocus(ctx, current.FocusID)
	if err != nil {
		return nil, fmt.Errorf("get focus %d: %w", current.FocusID, err)
	}
	focuses, err := n.repo.ListFocuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list focuses: %w", err)
	}
	SortFocuses(focuses)

	for _, f := range focuses {
		if f.Order < focus.Order || (f.Order == focus.Order && f.ID <= focus.ID) {
			continue
		}
		first, err := n.firstStepOf(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		if first != nil {
			return first, nil
		}
	}
	return nil, nil
}

func (n *Navigator) firstStepOf(ctx context.Context, focusID int64) (*Step, error) {
	steps, err := n.repo.ListSteps(ctx, focusID)
	if err != nil {
		return nil, fmt.Errorf("list steps of focus %d: %w", focusID, err)
	}
	if len(steps) == 0 {
		return nil, nil
	}
	SortSteps(steps)
	return steps[0], nil
}
