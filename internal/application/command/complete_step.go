package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keystep/practice-hub/internal/domain/curriculum"
	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/internal/domain/shared"
	"github.com/keystep/practice-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE CURRICULUM STEP COMMAND
// Fills a progress slot, pays the step rewards, evaluates curriculum badges
// and moves the user's assignment pointer forward.
// ══════════════════════════════════════════════════════════════════════════════

// DeclineReasonAlreadyCompleted is reported when the slot was already filled.
const DeclineReasonAlreadyCompleted = "already_completed"

// CompleteStepCommand marks one step as done.
type CompleteStepCommand struct {
	UserID  string
	StepID  int64
	FocusID int64

	// CompletedAt defaults to the handler clock.
	CompletedAt time.Time
}

// Validate validates the command.
func (c CompleteStepCommand) Validate() error {
	if c.UserID == "" {
		return shared.ErrInvalidUserID
	}
	if c.StepID <= 0 || c.FocusID <= 0 {
		return shared.NewDomainError("curriculum", "CompleteStep", shared.ErrInvalidID, "step and focus ids must be positive")
	}
	return nil
}

// CompleteStepResult reports the outcome. A declined result carries no
// rewards and is not an error.
type CompleteStepResult struct {
	Success       bool
	Declined      bool
	DeclineReason string

	Position        int
	XPEarned        int
	GemsEarned      int
	KeysCompleted   int
	AllKeysComplete bool

	// NextAssignment is nil once the whole curriculum is done; then
	// CompletionMessage is set.
	NextAssignment    *curriculum.Assignment
	CompletionMessage string

	Badges []gamification.AwardedBadge
	Stats  *gamification.UserStats
}

// CompleteStepHandler handles CompleteStepCommand.
type CompleteStepHandler struct {
	deps        Deps
	repo        curriculum.Repository
	progress    curriculum.ProgressRepository
	assignments curriculum.AssignmentRepository
	navigator   *curriculum.Navigator
	rewarder    *gamification.Rewarder
	evaluator   *gamification.Evaluator
	rewards     curriculum.Rewards
	items       curriculum.PracticeItemRepository
	badges      Gate
	placeholder Gate
	log         *logger.Logger
}

// CompleteStepHandlerConfig holds the curriculum collaborators.
type CompleteStepHandlerConfig struct {
	Repository  curriculum.Repository
	Progress    curriculum.ProgressRepository
	Assignments curriculum.AssignmentRepository
	Rewarder    *gamification.Rewarder
	Evaluator   *gamification.Evaluator
	Rewards     curriculum.Rewards

	// Badges gates curriculum badge evaluation.
	Badges Gate

	// Items receives the curriculum placeholder when a completion creates
	// the user's first assignment. Nil skips it.
	Items       curriculum.PracticeItemRepository
	Placeholder Gate
}

// NewCompleteStepHandler creates a new CompleteStepHandler.
func NewCompleteStepHandler(deps Deps, cfg CompleteStepHandlerConfig) *CompleteStepHandler {
	deps = deps.withDefaults()
	return &CompleteStepHandler{
		deps:        deps,
		repo:        cfg.Repository,
		progress:    cfg.Progress,
		assignments: cfg.Assignments,
		navigator:   curriculum.NewNavigator(cfg.Repository),
		rewarder:    cfg.Rewarder,
		evaluator:   cfg.Evaluator,
		rewards:     cfg.Rewards,
		items:       cfg.Items,
		badges:      cfg.Badges,
		placeholder: cfg.Placeholder,
		log:         deps.Logger.With(logger.Component("complete_step")),
	}
}

// Handle executes the command.
func (h *CompleteStepHandler) Handle(ctx context.Context, cmd CompleteStepCommand) (_ *CompleteStepResult, err error) {
	ctx, span := startSpan(ctx, "command.CompleteStep", cmd.UserID)
	start := time.Now()
	defer func() {
		endSpan(span, err)
		h.deps.Metrics.ObserveOperation("complete_step", time.Since(start), err)
	}()

	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("complete_step: %w", err)
	}

	at := cmd.CompletedAt
	if at.IsZero() {
		at = h.deps.Clock.Now()
	}

	var result *CompleteStepResult
	var events []shared.Event

	err = runSerialized(ctx, h.deps, "complete_step", cmd.UserID, func(ctx context.Context) error {
		var err error
		result, events, err = h.complete(ctx, cmd, at)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("complete_step: %w", err)
	}

	if result.Declined {
		h.deps.Metrics.StepCompleted("declined")
		h.log.Info("step already completed",
			logger.UserID(cmd.UserID), logger.StepID(cmd.StepID), logger.FocusID(cmd.FocusID))
		return result, nil
	}

	invalidate(ctx, h.deps, cmd.UserID)
	publish(h.deps, events)

	h.deps.Metrics.StepCompleted("completed")
	h.deps.Metrics.XPGranted("curriculum", result.XPEarned)
	h.deps.Metrics.GemsChanged(result.GemsEarned)
	recordAwardMetrics(h.deps.Metrics, result.Badges)

	h.log.Info("curriculum step completed",
		logger.UserID(cmd.UserID),
		logger.StepID(cmd.StepID),
		logger.Int("keys_completed", result.KeysCompleted),
		logger.Bool("curriculum_complete", result.NextAssignment == nil))

	return result, nil
}

func (h *CompleteStepHandler) complete(ctx context.Context, cmd CompleteStepCommand, at time.Time) (*CompleteStepResult, []shared.Event, error) {
	step, err := h.repo.GetStep(ctx, cmd.StepID)
	if err != nil {
		return nil, nil, err
	}
	if step.FocusID != cmd.FocusID {
		return nil, nil, shared.ErrStepFocusMismatch
	}
	focusSteps, err := h.repo.ListSteps(ctx, cmd.FocusID)
	if err != nil {
		return nil, nil, fmt.Errorf("list steps: %w", err)
	}
	position, err := curriculum.StepPosition(focusSteps, cmd.StepID)
	if err != nil {
		return nil, nil, err
	}

	progress, err := h.progress.Get(ctx, cmd.UserID, cmd.FocusID)
	if err != nil {
		return nil, nil, fmt.Errorf("load progress: %w", err)
	}
	if progress.IsSlotSet(position) {
		return &CompleteStepResult{
			Declined:      true,
			DeclineReason: DeclineReasonAlreadyCompleted,
			Position:      position,
			KeysCompleted: progress.CompletedCount(),
		}, nil, nil
	}

	before := progress.CompletedCount()
	if err := h.progress.SetSlot(ctx, cmd.UserID, cmd.FocusID, position, at); err != nil {
		return nil, nil, fmt.Errorf("set slot: %w", err)
	}
	if err := progress.Complete(position, at); err != nil {
		return nil, nil, err
	}
	count := progress.CompletedCount()
	focusDone := before < curriculum.StepsPerFocus && count == curriculum.StepsPerFocus

	res := &CompleteStepResult{
		Success:         true,
		Position:        position,
		KeysCompleted:   count,
		AllKeysComplete: count == curriculum.StepsPerFocus,
	}
	events := []shared.Event{shared.StepCompletedEvent{
		BaseEvent:     shared.NewBaseEvent(shared.EventStepCompleted, cmd.UserID, at),
		StepID:        cmd.StepID,
		FocusID:       cmd.FocusID,
		Position:      position,
		KeysCompleted: count,
	}}

	stats, err := loadStats(ctx, h.deps.Stats, cmd.UserID, at)
	if err != nil {
		return nil, nil, err
	}

	grant, err := h.rewarder.Grant(ctx, stats, gamification.Reward{
		XP:          h.rewards.StepXP,
		Gems:        h.rewards.StepGems,
		Source:      gamification.SourceCurriculumStep,
		Description: fmt.Sprintf("Curriculum step %d completed", cmd.StepID),
	}, at)
	if err != nil {
		return nil, nil, fmt.Errorf("grant step reward: %w", err)
	}
	res.XPEarned = grant.XPGranted
	res.GemsEarned = grant.GemsGranted
	events = append(events, levelUpEvent(stats, grant.LevelChange, at)...)
	events = append(events, gemsEvent(grant.Transaction)...)

	if focusDone {
		bonus, err := h.rewarder.Grant(ctx, stats, gamification.Reward{
			Gems:        h.rewards.FocusCompleteGems,
			Source:      gamification.SourceCurriculumFocus,
			Description: fmt.Sprintf("Focus %d completed", cmd.FocusID),
		}, at)
		if err != nil {
			return nil, nil, fmt.Errorf("grant focus bonus: %w", err)
		}
		res.GemsEarned += bonus.GemsGranted
		events = append(events, gemsEvent(bonus.Transaction)...)
		events = append(events, shared.FocusCompletedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventFocusCompleted, cmd.UserID, at),
			FocusID:   cmd.FocusID,
		})
	}

	if h.badges.allows(cmd.UserID) {
		all, err := h.progress.ListByUser(ctx, cmd.UserID)
		if err != nil {
			return nil, nil, fmt.Errorf("list progress: %w", err)
		}
		summary := curriculum.Summarize(all)
		facts := &gamification.CurriculumFacts{
			StepsCompleted:   summary.StepsCompleted,
			FocusesCompleted: summary.FocusesCompleted,
		}
		res.Badges, err = h.evaluator.EvaluateAndAward(ctx, stats, facts, at)
		if err != nil {
			return nil, nil, fmt.Errorf("evaluate badges: %w", err)
		}
		events = append(events, badgeEvents(stats, res.Badges)...)
	}

	if err := h.deps.Stats.Save(ctx, stats); err != nil {
		return nil, nil, fmt.Errorf("save stats: %w", err)
	}
	res.Stats = stats.Clone()

	next, err := h.advance(ctx, cmd.UserID, step, at)
	if err != nil {
		return nil, nil, err
	}
	res.NextAssignment = next
	if next == nil {
		res.CompletionMessage = curriculum.CompletionMessage
		events = append(events, shared.CurriculumCompletedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventCurriculumCompleted, cmd.UserID, at),
		})
	}

	return res, events, nil
}

// advance moves the pointer past step. It returns nil when step was the last
// step of the last focus.
func (h *CompleteStepHandler) advance(ctx context.Context, userID string, step *curriculum.Step, at time.Time) (*curriculum.Assignment, error) {
	nextStep, err := h.navigator.Next(ctx, step)
	if err != nil {
		return nil, fmt.Errorf("find next step: %w", err)
	}

	current, err := h.assignments.GetCurrent(ctx, userID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("load assignment: %w", err)
	}

	if nextStep == nil {
		if current == nil {
			current = curriculum.NewAssignment(h.deps.NewID(), userID, step, at)
			if err := h.createFirst(ctx, current, at); err != nil {
				return nil, err
			}
		}
		if err := h.assignments.MarkCompleted(ctx, current, at); err != nil {
			return nil, fmt.Errorf("mark curriculum complete: %w", err)
		}
		return nil, nil
	}

	next := curriculum.NewAssignment(h.deps.NewID(), userID, nextStep, at)
	if current == nil {
		if err := h.createFirst(ctx, next, at); err != nil {
			return nil, err
		}
		return next, nil
	}
	if err := h.assignments.Advance(ctx, current, next); err != nil {
		return nil, fmt.Errorf("advance assignment: %w", err)
	}
	return next, nil
}

// createFirst stores the first assignment row of a user and, like a first
// GetCurrentAssignment call, adds the curriculum placeholder item.
func (h *CompleteStepHandler) createFirst(ctx context.Context, a *curriculum.Assignment, at time.Time) error {
	if err := h.assignments.Create(ctx, a); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	if h.items == nil || !h.placeholder.allows(a.UserID) {
		return nil
	}
	if err := h.items.Create(ctx, curriculum.NewCurriculumPlaceholder(h.deps.NewID(), a.UserID, at)); err != nil {
		return fmt.Errorf("create practice item: %w", err)
	}
	return nil
}
