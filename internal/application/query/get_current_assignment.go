package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/keystep/practice-hub/internal/domain/curriculum"
	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/internal/domain/shared"
	"github.com/keystep/practice-hub/pkg/logger"
	"github.com/keystep/practice-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET CURRENT ASSIGNMENT QUERY
// Returns the user's curriculum pointer. The first call creates it at the
// first step of the first focus together with a practice-list placeholder.
// ══════════════════════════════════════════════════════════════════════════════

// AssignmentDTO is the live pointer with its step and focus.
type AssignmentDTO struct {
	Assignment curriculum.Assignment `json:"assignment"`
	Step       curriculum.Step       `json:"step"`
	Focus      curriculum.Focus      `json:"focus"`

	// Created is true when this call created the pointer.
	Created bool `json:"created"`

	CurriculumComplete bool   `json:"curriculum_complete"`
	CompletionMessage  string `json:"completion_message,omitempty"`
}

// GetCurrentAssignmentHandler handles assignment reads.
type GetCurrentAssignmentHandler struct {
	serializer  shared.UserSerializer
	repo        curriculum.Repository
	assignments curriculum.AssignmentRepository
	items       curriculum.PracticeItemRepository
	navigator   *curriculum.Navigator
	newID       gamification.IDGenerator
	clock       timeutil.Clock
	placeholder func(userID string) bool
	log         *logger.Logger
}

// GetCurrentAssignmentConfig wires GetCurrentAssignmentHandler.
type GetCurrentAssignmentConfig struct {
	Serializer  shared.UserSerializer
	Repository  curriculum.Repository
	Assignments curriculum.AssignmentRepository
	Items       curriculum.PracticeItemRepository
	NewID       gamification.IDGenerator
	Clock       timeutil.Clock
	Logger      *logger.Logger

	// Placeholder decides whether a practice-list entry is created with the
	// first assignment. Nil means always.
	Placeholder func(userID string) bool
}

// NewGetCurrentAssignmentHandler creates a new GetCurrentAssignmentHandler.
func NewGetCurrentAssignmentHandler(cfg GetCurrentAssignmentConfig) *GetCurrentAssignmentHandler {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &GetCurrentAssignmentHandler{
		serializer:  cfg.Serializer,
		repo:        cfg.Repository,
		assignments: cfg.Assignments,
		items:       cfg.Items,
		navigator:   curriculum.NewNavigator(cfg.Repository),
		newID:       cfg.NewID,
		clock:       cfg.Clock,
		placeholder: cfg.Placeholder,
		log:         cfg.Logger.With(logger.Component("get_current_assignment")),
	}
}

// Handle returns the live assignment of userID, creating it on first access.
// Returns shared.ErrCurriculumEmpty when there is nothing to assign.
func (h *GetCurrentAssignmentHandler) Handle(ctx context.Context, userID string) (*AssignmentDTO, error) {
	if userID == "" {
		return nil, shared.ErrInvalidUserID
	}

	a, err := h.assignments.GetCurrent(ctx, userID)
	created := false
	if errors.Is(err, shared.ErrNotFound) {
		err = h.serializer.WithinUser(ctx, userID, func(ctx context.Context) error {
			var err error
			a, created, err = h.initialize(ctx, userID)
			return err
		})
	}
	if err != nil {
		return nil, fmt.Errorf("get_current_assignment: %w", err)
	}

	step, err := h.repo.GetStep(ctx, a.StepID)
	if err != nil {
		return nil, fmt.Errorf("get_current_assignment: %w", err)
	}
	focus, err := h.repo.GetFocus(ctx, a.FocusID)
	if err != nil {
		return nil, fmt.Errorf("get_current_assignment: %w", err)
	}

	dto := &AssignmentDTO{
		Assignment:         *a,
		Step:               *step,
		Focus:              *focus,
		Created:            created,
		CurriculumComplete: a.IsCurriculumComplete(),
	}
	if dto.CurriculumComplete {
		dto.CompletionMessage = curriculum.CompletionMessage
	}
	return dto, nil
}

// initialize re-checks under the user lock so two first calls create one row.
func (h *GetCurrentAssignmentHandler) initialize(ctx context.Context, userID string) (*curriculum.Assignment, bool, error) {
	existing, err := h.assignments.GetCurrent(ctx, userID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, false, err
	}

	first, err := h.navigator.FirstStep(ctx)
	if err != nil {
		return nil, false, err
	}

	now := h.clock.Now()
	a := curriculum.NewAssignment(h.newID(), userID, first, now)
	if err := h.assignments.Create(ctx, a); err != nil {
		return nil, false, fmt.Errorf("create assignment: %w", err)
	}

	if h.placeholder == nil || h.placeholder(userID) {
		item := curriculum.NewCurriculumPlaceholder(h.newID(), userID, now)
		if err := h.items.Create(ctx, item); err != nil {
			return nil, false, fmt.Errorf("create practice item: %w", err)
		}
	}

	h.log.Info("curriculum assignment created",
		logger.UserID(userID), logger.StepID(first.ID), logger.FocusID(first.FocusID))
	return a, true, nil
}
