// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/internal/domain/shared"
	"github.com/keystep/practice-hub/internal/infrastructure/metrics"
	"github.com/keystep/practice-hub/pkg/logger"
	"github.com/keystep/practice-hub/pkg/retry"
	"github.com/keystep/practice-hub/pkg/timeutil"
)

var tracer = otel.Tracer("practicehub/command")

// ══════════════════════════════════════════════════════════════════════════════
// SHARED WIRING
// ══════════════════════════════════════════════════════════════════════════════

// Deps are the collaborators shared by every write handler.
// Cache, Publisher and Metrics are optional.
type Deps struct {
	Serializer shared.UserSerializer
	Stats      gamification.StatsRepository
	Sessions   gamification.SessionRepository
	Catalog    gamification.BadgeCatalog
	Ledger     gamification.GemsLedger
	Cache      gamification.StatsCache
	Publisher  shared.EventPublisher
	Clock      timeutil.Clock
	NewID      gamification.IDGenerator
	Logger     *logger.Logger
	Metrics    *metrics.Metrics
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	return d
}

// isConflict reports a lost compare-and-swap on the stats row.
func isConflict(err error) bool {
	return errors.Is(err, shared.ErrConcurrentModification)
}

// runSerialized runs fn for userID inside the serializer, retrying the whole
// unit of work when the stats row changed underneath it.
func runSerialized(ctx context.Context, d Deps, op, userID string, fn func(ctx context.Context) error) error {
	retrier := retry.ConflictRetrier(func(err error) bool {
		if isConflict(err) {
			d.Metrics.Retry(op)
			d.Logger.Warn("stats changed concurrently, retrying",
				logger.Operation(op), logger.UserID(userID))
			return true
		}
		return false
	})
	return retrier.Do(ctx, func(ctx context.Context) error {
		return d.Serializer.WithinUser(ctx, userID, fn)
	})
}

// loadStats returns the stored stats or fresh ones for a first-time user.
func loadStats(ctx context.Context, repo gamification.StatsRepository, userID string, now time.Time) (*gamification.UserStats, error) {
	stats, err := repo.Get(ctx, userID)
	if err == nil {
		return stats, nil
	}
	if shared.IsNotFound(err) {
		return gamification.NewUserStats(userID, now), nil
	}
	return nil, fmt.Errorf("load stats: %w", err)
}

// invalidate drops the cached reads of a user after a committed write.
func invalidate(ctx context.Context, d Deps, userID string) {
	if d.Cache == nil {
		return
	}
	for _, group := range []string{gamification.CacheGroupStats, gamification.CacheGroupBadges} {
		if err := d.Cache.Delete(ctx, group, userID); err != nil {
			d.Logger.Warn("cache invalidation failed",
				logger.UserID(userID), logger.String("group", group), logger.Err(err))
		}
	}
}

// publish hands committed events to the bus. Failures never undo the write.
func publish(d Deps, events []shared.Event) {
	if d.Publisher == nil || len(events) == 0 {
		return
	}
	for _, e := range events {
		if err := d.Publisher.Publish(e); err != nil {
			d.Logger.Warn("failed to publish event",
				logger.String("event_type", string(e.EventType())),
				logger.UserID(e.AggregateID()), logger.Err(err))
			continue
		}
		d.Metrics.EventPublished(string(e.EventType()))
	}
}

func startSpan(ctx context.Context, name, userID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("user.id", userID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT BUILDERS
// ══════════════════════════════════════════════════════════════════════════════

func levelUpEvent(stats *gamification.UserStats, change gamification.LevelChange, at time.Time) []shared.Event {
	if !change.LeveledUp {
		return nil
	}
	return []shared.Event{shared.NewLevelUpEvent(stats.UserID, change.OldLevel, change.NewLevel, stats.TotalXP, at)}
}

func gemsEvent(tx *gamification.GemsTransaction) []shared.Event {
	if tx == nil {
		return nil
	}
	return []shared.Event{shared.GemsChangedEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventGemsChanged, tx.UserID, tx.CreatedAt),
		Amount:       tx.Amount,
		Source:       tx.Source,
		BalanceAfter: tx.BalanceAfter,
	}}
}

func badgeEvents(stats *gamification.UserStats, awards []gamification.AwardedBadge) []shared.Event {
	var events []shared.Event
	for _, a := range awards {
		events = append(events, shared.BadgeAwardedEvent{
			BaseEvent:      shared.NewBaseEvent(shared.EventBadgeAwarded, stats.UserID, a.EarnedAt),
			BadgeKey:       a.Badge.Key,
			BadgeName:      a.Badge.Name,
			XPReward:       a.Badge.XPReward,
			GemReward:      a.GemsGranted,
			Notify:         a.Badge.Notify,
			NotifyEventKey: a.Badge.NotifyEventKey,
			Metadata:       a.Badge.Metadata,
		})
		events = append(events, levelUpEvent(stats, a.LevelChange, a.EarnedAt)...)
	}
	return events
}

func recordAwardMetrics(m *metrics.Metrics, awards []gamification.AwardedBadge) {
	for _, a := range awards {
		m.BadgeAwarded(a.Badge.Key)
		m.XPGranted("badge", a.Badge.XPReward)
		m.GemsChanged(a.GemsGranted)
	}
}
