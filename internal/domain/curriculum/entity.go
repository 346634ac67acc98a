// Package curriculum models the structured practice curriculum: ordered
// focuses of twelve steps each (one per key), per-user completion slots and
// the single "what to practice next" assignment pointer.
package curriculum

import (
	"sort"
	"time"

	"github.com/keystep/practice-hub/internal/domain/shared"
)

// StepsPerFocus is the number of steps (keys) in every focus.
const StepsPerFocus = 12

// Focus is an ordered curriculum unit. Order defines the global sequence.
type Focus struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Order int    `json:"order"`
}

// Step is one completable unit of a focus. A step's position inside its focus
// comes from id order, there is no explicit position column.
type Step struct {
	ID          int64  `json:"id"`
	FocusID     int64  `json:"focus_id"`
	KeyName     string `json:"key_name"`
	Title       string `json:"title"`
	ResourceRef string `json:"resource_ref,omitempty"`
}

// Keys lists the twelve keys of a focus in circle-of-fifths order.
var Keys = [StepsPerFocus]string{"C", "G", "D", "A", "E", "B", "F#", "Db", "Ab", "Eb", "Bb", "F"}

// BuildSteps creates the twelve steps of a focus with consecutive ids
// starting at firstStepID.
func BuildSteps(focus *Focus, firstStepID int64) []*Step {
	steps := make([]*Step, 0, StepsPerFocus)
	for i, key := range Keys {
		steps = append(steps, &Step{
			ID:      firstStepID + int64(i),
			FocusID: focus.ID,
			KeyName: key,
			Title:   focus.Title + " in " + key,
		})
	}
	return steps
}

// SortSteps orders steps by id.
func SortSteps(steps []*Step) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].ID < steps[j].ID })
}

// SortFocuses orders focuses by Order, then id.
func SortFocuses(focuses []*Focus) {
	sort.Slice(focuses, func(i, j int) bool {
		if focuses[i].Order != focuses[j].Order {
			return focuses[i].Order < focuses[j].Order
		}
		return focuses[i].ID < focuses[j].ID
	})
}

// StepPosition returns the 1-based position of stepID among the steps of its
// focus: the number of focus steps whose id is not greater than stepID.
func StepPosition(focusSteps []*Step, stepID int64) (int, error) {
	found := false
	pos := 0
	for _, s := range focusSteps {
		if s.ID <= stepID {
			pos++
		}
		if s.ID == stepID {
			found = true
		}
	}
	if !found {
		return 0, shared.ErrStepNotFound
	}
	if pos < 1 || pos > StepsPerFocus {
		return 0, shared.ErrInvalidStepPosition
	}
	return pos, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// UserProgress holds the completion slots of one user in one focus.
// A slot goes from nil to a completion time once and never back.
type UserProgress struct {
	UserID  string                    `json:"user_id"`
	FocusID int64                     `json:"focus_id"`
	Slots   [StepsPerFocus]*time.Time `json:"slots"`
}

// NewUserProgress returns empty progress.
func NewUserProgress(userID string, focusID int64) *UserProgress {
	return &UserProgress{UserID: userID, FocusID: focusID}
}

// IsSlotSet reports whether the step at position (1-12) is completed.
func (p *UserProgress) IsSlotSet(position int) bool {
	if position < 1 || position > StepsPerFocus {
		return false
	}
	return p.Slots[position-1] != nil
}

// Complete sets the slot at position.
// Returns shared.ErrStepAlreadyCompleted if it was already set.
func (p *UserProgress) Complete(position int, at time.Time) error {
	if position < 1 || position > StepsPerFocus {
		return shared.ErrInvalidStepPosition
	}
	if p.Slots[position-1] != nil {
		return shared.ErrStepAlreadyCompleted
	}
	t := at
	p.Slots[position-1] = &t
	return nil
}

// CompletedCount returns the number of set slots.
func (p *UserProgress) CompletedCount() int {
	n := 0
	for _, s := range p.Slots {
		if s != nil {
			n++
		}
	}
	return n
}

// IsComplete reports whether all twelve slots are set.
func (p *UserProgress) IsComplete() bool {
	return p.CompletedCount() == StepsPerFocus
}

// Summary aggregates progress across focuses.
type Summary struct {
	StepsCompleted   int `json:"steps_completed"`
	FocusesCompleted int `json:"focuses_completed"`
}

// Summarize counts completed steps and fully completed focuses.
func Summarize(progress []*UserProgress) Summary {
	var s Summary
	for _, p := range progress {
		n := p.CompletedCount()
		s.StepsCompleted += n
		if n == StepsPerFocus {
			s.FocusesCompleted++
		}
	}
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGNMENT
// ══════════════════════════════════════════════════════════════════════════════

// Assignment is the live pointer to the step a user should practice next.
// Each user has at most one non-deleted assignment; advancing soft-deletes
// the old row and inserts a new one. CompletedAt is set on the final row once
// the whole curriculum is done.
type Assignment struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	StepID      int64      `json:"step_id"`
	FocusID     int64      `json:"focus_id"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Deleted     bool       `json:"deleted"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewAssignment points a user at step.
func NewAssignment(id, userID string, step *Step, now time.Time) *Assignment {
	return &Assignment{
		ID:        id,
		UserID:    userID,
		StepID:    step.ID,
		FocusID:   step.FocusID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsCurriculumComplete reports whether the user finished every focus.
func (a *Assignment) IsCurriculumComplete() bool {
	return a.CompletedAt != nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PRACTICE ITEMS
// ══════════════════════════════════════════════════════════════════════════════

// PracticeItemKind distinguishes curriculum tracking entries from user items.
type PracticeItemKind string

const (
	PracticeItemCurriculum PracticeItemKind = "curriculum"
	PracticeItemCustom     PracticeItemKind = "custom"
)

// CurriculumItemTitle is the title of the curriculum tracking placeholder.
const CurriculumItemTitle = "Curriculum"

// PracticeItem is an entry of the user's practice list.
type PracticeItem struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Kind      PracticeItemKind `json:"kind"`
	Title     string           `json:"title"`
	SortOrder int              `json:"sort_order"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewCurriculumPlaceholder creates the tracking entry added on first access.
func NewCurriculumPlaceholder(id, userID string, now time.Time) *PracticeItem {
	return &PracticeItem{
		ID:        id,
		UserID:    userID,
		Kind:      PracticeItemCurriculum,
		Title:     CurriculumItemTitle,
		CreatedAt: now,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REWARDS
// ══════════════════════════════════════════════════════════════════════════════

// Rewards are the fixed curriculum payouts.
type Rewards struct {
	StepXP            int
	StepGems          int
	FocusCompleteGems int
}

// DefaultRewards returns 25 XP per step and 50 gems per completed focus.
func DefaultRewards() Rewards {
	return Rewards{
		StepXP:            25,
		FocusCompleteGems: 50,
	}
}

// CompletionMessage is reported once the last step of the last focus is done.
const CompletionMessage = "Congratulations! You have completed the entire curriculum."
