package eventhandler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/internal/domain/shared"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []gamification.NotificationEvent
	ok     bool
}

func (f *fakeNotifier) TrackEvent(ctx context.Context, ev gamification.NotificationEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.ok
}

func (f *fakeNotifier) sent() []gamification.NotificationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gamification.NotificationEvent(nil), f.events...)
}

type fakeBus struct {
	handlers map[shared.EventType]shared.EventHandler
}

func (b *fakeBus) Subscribe(t shared.EventType, h shared.EventHandler) error {
	b.handlers[t] = h
	return nil
}

func (b *fakeBus) SubscribeAll(shared.EventHandler) error { return nil }

var at = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

func badgeEvent(notify bool) shared.BadgeAwardedEvent {
	return shared.BadgeAwardedEvent{
		BaseEvent:      shared.NewBaseEvent(shared.EventBadgeAwarded, "u-1", at),
		BadgeKey:       "streak_7",
		BadgeName:      "Week Warrior",
		Notify:         notify,
		NotifyEventKey: "badge_earned",
		Metadata:       map[string]string{"tier": "silver"},
	}
}

func TestNotificationBridge_ForwardsNotifiableBadges(t *testing.T) {
	n := &fakeNotifier{ok: true}
	b := NewNotificationBridge(NotificationBridgeConfig{Notifier: n})

	require.NoError(t, b.HandleBadgeAwarded(badgeEvent(true)))
	require.NoError(t, b.HandleBadgeAwarded(badgeEvent(false)))

	sent := n.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "badge_earned", sent[0].EventKey)
	assert.Equal(t, "u-1", sent[0].Recipient)
	assert.Equal(t, "Badge earned: Week Warrior", sent[0].Title)
	assert.Equal(t, "streak_7", sent[0].Payload["badge_key"])
	assert.Equal(t, "silver", sent[0].Payload["tier"])
	assert.Equal(t, "2026-03-02T18:00:00Z", sent[0].Payload["earned_at"])
}

func TestNotificationBridge_GatesAndDefaults(t *testing.T) {
	n := &fakeNotifier{}
	b := NewNotificationBridge(NotificationBridgeConfig{
		Notifier:  n,
		BadgeGate: func(userID string) bool { return userID != "u-1" },
		FocusGate: func(string) bool { return false },
	})

	require.NoError(t, b.HandleBadgeAwarded(badgeEvent(true)))
	require.NoError(t, b.HandleFocusCompleted(shared.FocusCompletedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventFocusCompleted, "u-2", at),
		FocusID:   3,
	}))
	assert.Empty(t, n.sent())

	other := badgeEvent(true)
	other.UserID = "u-2"
	other.NotifyEventKey = ""
	// A failed delivery is swallowed.
	require.NoError(t, b.HandleBadgeAwarded(other))

	sent := n.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, DefaultBadgeEventKey, sent[0].EventKey)
}

func TestNotificationBridge_Register(t *testing.T) {
	n := &fakeNotifier{ok: true}
	bus := &fakeBus{handlers: map[shared.EventType]shared.EventHandler{}}
	b := NewNotificationBridge(NotificationBridgeConfig{Notifier: n})

	require.NoError(t, b.Register(bus))
	require.Contains(t, bus.handlers, shared.EventFocusCompleted)

	require.NoError(t, bus.handlers[shared.EventFocusCompleted](shared.FocusCompletedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventFocusCompleted, "u-1", at),
		FocusID:   3,
	}))
	sent := n.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, FocusEventKey, sent[0].EventKey)
	assert.Equal(t, int64(3), sent[0].Payload["focus_id"])

	// Unrelated events are ignored.
	assert.NoError(t, b.HandleBadgeAwarded(shared.FocusCompletedEvent{}))
}

func TestNotificationBridge_NilNotifier(t *testing.T) {
	b := NewNotificationBridge(NotificationBridgeConfig{})
	assert.NoError(t, b.HandleBadgeAwarded(badgeEvent(true)))
}
