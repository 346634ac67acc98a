package curriculum

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Repository serves the curriculum structure. It is reference data.
type Repository interface {
	// ListFocuses returns all focuses ordered by Order.
	ListFocuses(ctx context.Context) ([]*Focus, error)

	// GetFocus returns shared.ErrFocusNotFound if absent.
	GetFocus(ctx context.Context, id int64) (*Focus, error)

	// GetStep returns shared.ErrStepNotFound if absent.
	GetStep(ctx context.Context, id int64) (*Step, error)

	// ListSteps returns the steps of a focus ordered by id.
	ListSteps(ctx context.Context, focusID int64) ([]*Step, error)

	// SaveFocus creates or replaces a focus with its steps.
	SaveFocus(ctx context.Context, focus *Focus, steps []*Step) error
}

// ProgressRepository stores completion slots.
type ProgressRepository interface {
	// Get returns the progress of a user in a focus, or empty progress.
	Get(ctx context.Context, userID string, focusID int64) (*UserProgress, error)

	// SetSlot marks one slot as completed. It never clears a slot.
	SetSlot(ctx context.Context, userID string, focusID int64, position int, at time.Time) error

	// ListByUser returns progress for every focus the user touched.
	ListByUser(ctx context.Context, userID string) ([]*UserProgress, error)
}

// AssignmentRepository stores the per-user pointer.
type AssignmentRepository interface {
	// GetCurrent returns the live assignment.
	// Returns shared.ErrAssignmentNotFound if the user has none.
	GetCurrent(ctx context.Context, userID string) (*Assignment, error)

	// Create inserts the first assignment of a user.
	Create(ctx context.Context, a *Assignment) error

	// Advance soft-deletes current and inserts next in one step.
	Advance(ctx context.Context, current, next *Assignment) error

	// MarkCompleted stamps the live assignment as curriculum complete.
	MarkCompleted(ctx context.Context, a *Assignment, at time.Time) error
}

// PracticeItemRepository stores the user's practice list.
type PracticeItemRepository interface {
	Create(ctx context.Context, item *PracticeItem) error
	ListByUser(ctx context.Context, userID string) ([]*PracticeItem, error)
}
