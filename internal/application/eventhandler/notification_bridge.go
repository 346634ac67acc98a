// Package eventhandler contains reactions to domain events. Handlers run on
// the event bus after the owning transaction committed, so they only produce
// side effects and never touch the progress aggregates.
package eventhandler

import (
	"context"
	"time"

	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/internal/domain/shared"
	"github.com/keystep/practice-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION BRIDGE
// Forwards earned badges and completed focuses to the external CRM.
// Delivery is best effort: a failed notification never fails the event.
// ══════════════════════════════════════════════════════════════════════════════

// Event keys used when the badge carries none.
const (
	DefaultBadgeEventKey = "badge_earned"
	FocusEventKey        = "focus_completed"
)

// Gate decides per user whether a notification kind is enabled. Nil means
// enabled.
type Gate func(userID string) bool

func (g Gate) allows(userID string) bool { return g == nil || g(userID) }

// NotificationBridge translates domain events into CRM notification events.
type NotificationBridge struct {
	notifier gamification.Notifier
	badges   Gate
	focuses  Gate
	timeout  time.Duration
	log      *logger.Logger
}

// NotificationBridgeConfig wires NotificationBridge.
type NotificationBridgeConfig struct {
	Notifier gamification.Notifier

	// BadgeGate and FocusGate are typically feature flags.
	BadgeGate Gate
	FocusGate Gate

	// Timeout bounds one delivery, including fallbacks. Default 10s.
	Timeout time.Duration
	Logger  *logger.Logger
}

// NewNotificationBridge creates a new NotificationBridge.
func NewNotificationBridge(cfg NotificationBridgeConfig) *NotificationBridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &NotificationBridge{
		notifier: cfg.Notifier,
		badges:   cfg.BadgeGate,
		focuses:  cfg.FocusGate,
		timeout:  cfg.Timeout,
		log:      cfg.Logger.With(logger.Component("notification_bridge")),
	}
}

// Register subscribes the bridge to the events it forwards.
func (b *NotificationBridge) Register(bus shared.EventSubscriber) error {
	if err := bus.Subscribe(shared.EventBadgeAwarded, b.HandleBadgeAwarded); err != nil {
		return err
	}
	return bus.Subscribe(shared.EventFocusCompleted, b.HandleFocusCompleted)
}

// HandleBadgeAwarded notifies about badges flagged for notification.
func (b *NotificationBridge) HandleBadgeAwarded(event shared.Event) error {
	e, ok := event.(shared.BadgeAwardedEvent)
	if !ok || !e.Notify || !b.badges.allows(e.AggregateID()) {
		return nil
	}

	key := e.NotifyEventKey
	if key == "" {
		key = DefaultBadgeEventKey
	}

	payload := make(map[string]any, len(e.Metadata)+3)
	for k, v := range e.Metadata {
		payload[k] = v
	}
	payload["badge_key"] = e.BadgeKey
	payload["badge_name"] = e.BadgeName
	payload["earned_at"] = e.OccurredAt().UTC().Format(time.RFC3339)

	b.deliver(gamification.NotificationEvent{
		EventKey:  key,
		Title:     "Badge earned: " + e.BadgeName,
		Recipient: e.AggregateID(),
		Payload:   payload,
	})
	return nil
}

// HandleFocusCompleted notifies about a focus whose twelve keys are done.
func (b *NotificationBridge) HandleFocusCompleted(event shared.Event) error {
	e, ok := event.(shared.FocusCompletedEvent)
	if !ok || !b.focuses.allows(e.AggregateID()) {
		return nil
	}

	b.deliver(gamification.NotificationEvent{
		EventKey:  FocusEventKey,
		Title:     "Focus completed",
		Recipient: e.AggregateID(),
		Payload: map[string]any{
			"focus_id":     e.FocusID,
			"completed_at": e.OccurredAt().UTC().Format(time.RFC3339),
		},
	})
	return nil
}

func (b *NotificationBridge) deliver(ev gamification.NotificationEvent) {
	if b.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if !b.notifier.TrackEvent(ctx, ev) {
		b.log.Warn("notification not delivered",
			logger.UserID(ev.Recipient), logger.String("event_key", ev.EventKey))
	}
}
