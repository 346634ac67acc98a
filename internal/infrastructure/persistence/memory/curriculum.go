package memory

import (
	"context"
	"time"

	"github.com/keystep/practice-hub/internal/domain/curriculum"
	"github.com/keystep/practice-hub/internal/domain/shared"
)

// CurriculumRepository implements curriculum.Repository.
type CurriculumRepository struct{ s *Store }

// NewCurriculumRepository creates a CurriculumRepository over s.
func NewCurriculumRepository(s *Store) *CurriculumRepository { return &CurriculumRepository{s: s} }

// ListFocuses returns all focuses ordered by Order.
func (r *CurriculumRepository) ListFocuses(ctx context.Context) ([]*curriculum.Focus, error) {
	r.s.mu.RLock()
	out := make([]*curriculum.Focus, 0, len(r.s.focuses))
	for _, f := range r.s.focuses {
		f := f
		out = append(out, &f)
	}
	r.s.mu.RUnlock()

	curriculum.SortFocuses(out)
	return out, nil
}

// GetFocus returns a focus by id.
func (r *CurriculumRepository) GetFocus(ctx context.Context, id int64) (*curriculum.Focus, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	f, ok := r.s.focuses[id]
	if !ok {
		return nil, shared.ErrFocusNotFound
	}
	return &f, nil
}

// GetStep returns a step by id.
func (r *CurriculumRepository) GetStep(ctx context.Context, id int64) (*curriculum.Step, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	s, ok := r.s.steps[id]
	if !ok {
		return nil, shared.ErrStepNotFound
	}
	return &s, nil
}

// ListSteps returns the steps of a focus ordered by id.
func (r *CurriculumRepository) ListSteps(ctx context.Context, focusID int64) ([]*curriculum.Step, error) {
	r.s.mu.RLock()
	var out []*curriculum.Step
	for _, s := range r.s.steps {
		if s.FocusID == focusID {
			s := s
			out = append(out, &s)
		}
	}
	r.s.mu.RUnlock()

	curriculum.SortSteps(out)
	return out, nil
}

// SaveFocus creates or replaces a focus with its steps.
func (r *CurriculumRepository) SaveFocus(ctx context.Context, focus *curriculum.Focus, steps []*curriculum.Step) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.focuses[focus.ID] = *focus
	for _, s := range steps {
		step := *s
		step.FocusID = focus.ID
		r.s.steps[s.ID] = step
	}
	return nil
}

// ProgressRepository implements curriculum.ProgressRepository.
type ProgressRepository struct{ s *Store }

// NewProgressRepository creates a ProgressRepository over s.
func NewProgressRepository(s *Store) *ProgressRepository { return &ProgressRepository{s: s} }

// Get returns the progress of a user in a focus, or empty progress.
func (r *ProgressRepository) Get(ctx context.Context, userID string, focusID int64) (*curriculum.UserProgress, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.progress[progressKey{userID, focusID}]
	if !ok {
		return curriculum.NewUserProgress(userID, focusID), nil
	}
	return &p, nil
}

// SetSlot marks one slot as completed. An already set slot keeps its time.
func (r *ProgressRepository) SetSlot(ctx context.Context, userID string, focusID int64, position int, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	k := progressKey{userID, focusID}
	p, ok := r.s.progress[k]
	if !ok {
		p = *curriculum.NewUserProgress(userID, focusID)
	}
	if err := p.Complete(position, at); err != nil && err != shared.ErrStepAlreadyCompleted {
		return err
	}
	r.s.progress[k] = p
	return nil
}

// ListByUser returns progress for every focus the user touched.
func (r *ProgressRepository) ListByUser(ctx context.Context, userID string) ([]*curriculum.UserProgress, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*curriculum.UserProgress
	for k, p := range r.s.progress {
		if k.userID == userID {
			p := p
			out = append(out, &p)
		}
	}
	return out, nil
}

// AssignmentRepository implements curriculum.AssignmentRepository.
type AssignmentRepository struct{ s *Store }

// NewAssignmentRepository creates an AssignmentRepository over s.
func NewAssignmentRepository(s *Store) *AssignmentRepository { return &AssignmentRepository{s: s} }

// GetCurrent returns the live assignment.
func (r *AssignmentRepository) GetCurrent(ctx context.Context, userID string) (*curriculum.Assignment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, a := range r.s.assignments[userID] {
		if !a.Deleted {
			a := a
			return &a, nil
		}
	}
	return nil, shared.ErrAssignmentNotFound
}

// History returns every assignment row of a user, live and retired.
func (r *AssignmentRepository) History(userID string) []curriculum.Assignment {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]curriculum.Assignment(nil), r.s.assignments[userID]...)
}

// Create inserts the first assignment of a user.
func (r *AssignmentRepository) Create(ctx context.Context, a *curriculum.Assignment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.insertLocked(a)
}

func (r *AssignmentRepository) insertLocked(a *curriculum.Assignment) error {
	for _, existing := range r.s.assignments[a.UserID] {
		if !existing.Deleted {
			return shared.NewDomainError("curriculum", "CreateAssignment", shared.ErrAlreadyExists, "user already has an assignment")
		}
	}
	r.s.assignments[a.UserID] = append(r.s.assignments[a.UserID], *a)
	return nil
}

// Advance soft-deletes current and inserts next.
func (r *AssignmentRepository) Advance(ctx context.Context, current, next *curriculum.Assignment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rows := r.s.assignments[current.UserID]
	for i := range rows {
		if rows[i].ID == current.ID && !rows[i].Deleted {
			rows[i].Deleted = true
			rows[i].UpdatedAt = next.CreatedAt
			current.Deleted = true
			return r.insertLocked(next)
		}
	}
	return shared.ErrAssignmentNotFound
}

// MarkCompleted stamps the live assignment as curriculum complete.
func (r *AssignmentRepository) MarkCompleted(ctx context.Context, a *curriculum.Assignment, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rows := r.s.assignments[a.UserID]
	for i := range rows {
		if rows[i].ID == a.ID && !rows[i].Deleted {
			rows[i].CompletedAt = &at
			rows[i].UpdatedAt = at
			a.CompletedAt = &at
			a.UpdatedAt = at
			return nil
		}
	}
	return shared.ErrAssignmentNotFound
}

// PracticeItemRepository implements curriculum.PracticeItemRepository.
type PracticeItemRepository struct{ s *Store }

// NewPracticeItemRepository creates a PracticeItemRepository over s.
func NewPracticeItemRepository(s *Store) *PracticeItemRepository {
	return &PracticeItemRepository{s: s}
}

// Create appends an item.
func (r *PracticeItemRepository) Create(ctx context.Context, item *curriculum.PracticeItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.items[item.UserID] = append(r.s.items[item.UserID], *item)
	return nil
}

// ListByUser returns the items of a user in insertion order.
func (r *PracticeItemRepository) ListByUser(ctx context.Context, userID string) ([]*curriculum.PracticeItem, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*curriculum.PracticeItem
	for _, it := range r.s.items[userID] {
		it := it
		out = append(out, &it)
	}
	return out, nil
}
