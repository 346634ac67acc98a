package command

import (
	"context"
	"fmt"
	"time"

	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/internal/domain/shared"
	"github.com/keystep/practice-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD PRACTICE SESSION COMMAND
// Session completion: XP, level, streak, badge fold, then events after commit.
// ══════════════════════════════════════════════════════════════════════════════

// Gate reports whether an optional step runs for a user. A nil Gate is open.
type Gate func(userID string) bool

func (g Gate) allows(userID string) bool {
	return g == nil || g(userID)
}

// RecordPracticeSessionCommand contains one finished practice session.
type RecordPracticeSessionCommand struct {
	UserID              string
	DurationMinutes     int
	SentimentScore      int
	ImprovementDetected bool
	Notes               string

	// PracticedAt defaults to the handler clock.
	PracticedAt time.Time
}

// RecordPracticeSessionResult reports every change the session caused.
type RecordPracticeSessionResult struct {
	Session     *gamification.PracticeSession
	XPEarned    int
	LevelChange gamification.LevelChange
	Streak      gamification.StreakResult
	Badges      []gamification.AwardedBadge
	Stats       *gamification.UserStats
}

// RecordPracticeSessionHandler handles RecordPracticeSessionCommand.
type RecordPracticeSessionHandler struct {
	deps      Deps
	streaks   *gamification.StreakTracker
	evaluator *gamification.Evaluator
	badges    Gate
	log       *logger.Logger
}

// NewRecordPracticeSessionHandler creates a new RecordPracticeSessionHandler.
func NewRecordPracticeSessionHandler(deps Deps, streaks *gamification.StreakTracker, evaluator *gamification.Evaluator, badges Gate) *RecordPracticeSessionHandler {
	deps = deps.withDefaults()
	return &RecordPracticeSessionHandler{
		deps:      deps,
		streaks:   streaks,
		evaluator: evaluator,
		badges:    badges,
		log:       deps.Logger.With(logger.Component("record_practice_session")),
	}
}

// Handle stores the session and applies its rewards in one serialized unit.
func (h *RecordPracticeSessionHandler) Handle(ctx context.Context, cmd RecordPracticeSessionCommand) (_ *RecordPracticeSessionResult, err error) {
	ctx, span := startSpan(ctx, "command.RecordPracticeSession", cmd.UserID)
	start := time.Now()
	defer func() {
		endSpan(span, err)
		h.deps.Metrics.ObserveOperation("record_practice_session", time.Since(start), err)
	}()

	at := cmd.PracticedAt
	if at.IsZero() {
		at = h.deps.Clock.Now()
	}

	session, err := gamification.NewPracticeSession(h.deps.NewID(), cmd.UserID,
		cmd.DurationMinutes, cmd.SentimentScore, cmd.ImprovementDetected, cmd.Notes, at)
	if err != nil {
		return nil, fmt.Errorf("record_practice_session: %w", err)
	}

	var result *RecordPracticeSessionResult
	var events []shared.Event

	err = runSerialized(ctx, h.deps, "record_practice_session", cmd.UserID, func(ctx context.Context) error {
		result, events = nil, nil

		stats, err := loadStats(ctx, h.deps.Stats, cmd.UserID, at)
		if err != nil {
			return err
		}

		if err := h.deps.Sessions.Create(ctx, session); err != nil {
			return fmt.Errorf("store session: %w", err)
		}

		res := &RecordPracticeSessionResult{Session: session, XPEarned: session.XPEarned}
		stats.TotalSessions++
		res.LevelChange = stats.AddXP(session.XPEarned)
		stats.Touch(at)

		res.Streak = h.streaks.RecordPractice(stats, at)
		if res.Streak.Outcome == gamification.StreakClockSkew {
			h.log.Warn("last practice date is after today, streak left unchanged",
				logger.UserID(cmd.UserID), logger.Int("gap_days", res.Streak.GapDays))
		}

		if h.badges.allows(cmd.UserID) {
			res.Badges, err = h.evaluator.EvaluateAndAward(ctx, stats, nil, at)
			if err != nil {
				return fmt.Errorf("evaluate badges: %w", err)
			}
		}

		if err := h.deps.Stats.Save(ctx, stats); err != nil {
			return fmt.Errorf("save stats: %w", err)
		}
		res.Stats = stats.Clone()

		events = append(events, shared.PracticeSessionRecordedEvent{
			BaseEvent:       shared.NewBaseEvent(shared.EventPracticeSessionRecorded, cmd.UserID, at),
			SessionID:       session.ID,
			DurationMinutes: session.DurationMinutes,
			XPEarned:        session.XPEarned,
		})
		events = append(events, levelUpEvent(stats, res.LevelChange, at)...)
		if res.Streak.Changed() {
			events = append(events, shared.StreakUpdatedEvent{
				BaseEvent:     shared.NewBaseEvent(shared.EventStreakUpdated, cmd.UserID, at),
				Outcome:       string(res.Streak.Outcome),
				CurrentStreak: res.Streak.CurrentStreak,
				LongestStreak: res.Streak.LongestStreak,
				ShieldUsed:    res.Streak.ShieldUsed,
			})
		}
		if res.Streak.ShieldUsed {
			events = append(events, shared.StreakShieldUsedEvent{
				BaseEvent:   shared.NewBaseEvent(shared.EventStreakShieldUsed, cmd.UserID, at),
				ShieldsLeft: res.Streak.ShieldsLeft,
			})
		}
		events = append(events, badgeEvents(stats, res.Badges)...)

		result = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record_practice_session: %w", err)
	}

	invalidate(ctx, h.deps, cmd.UserID)
	publish(h.deps, events)

	h.deps.Metrics.SessionRecorded()
	h.deps.Metrics.XPGranted("session", result.XPEarned)
	h.deps.Metrics.StreakOutcome(string(result.Streak.Outcome))
	recordAwardMetrics(h.deps.Metrics, result.Badges)

	h.log.Info("practice session recorded",
		logger.UserID(cmd.UserID),
		logger.XPAmount(result.XPEarned),
		logger.String("streak_outcome", string(result.Streak.Outcome)),
		logger.Int("badges", len(result.Badges)))

	return result, nil
}
