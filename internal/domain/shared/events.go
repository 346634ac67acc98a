package shared

import "time"

// EventType names a domain event. Events are published only after the
// unit of work that produced them has committed.
type EventType string

const (
	EventPracticeSessionRecorded EventType = "practice.session_recorded"
	EventStreakUpdated           EventType = "practice.streak_updated"
	EventStreakShieldUsed        EventType = "practice.streak_shield_used"

	EventLevelUp      EventType = "progress.level_up"
	EventBadgeAwarded EventType = "progress.badge_awarded"
	EventGemsChanged  EventType = "progress.gems_changed"

	EventStepCompleted       EventType = "curriculum.step_completed"
	EventFocusCompleted      EventType = "curriculum.focus_completed"
	EventCurriculumCompleted EventType = "curriculum.completed"
)

// Event is implemented by every event struct through an embedded BaseEvent.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID is the id of the user the event is about.
	AggregateID() string
}

// BaseEvent carries the fields every event has.
type BaseEvent struct {
	Type   EventType `json:"type"`
	At     time.Time `json:"at"`
	UserID string    `json:"user_id"`
}

func NewBaseEvent(t EventType, userID string, at time.Time) BaseEvent {
	return BaseEvent{Type: t, At: at, UserID: userID}
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.At }
func (e BaseEvent) AggregateID() string   { return e.UserID }

// ══════════════════════════════════════════════════════════════════════════════
// PRACTICE
// ══════════════════════════════════════════════════════════════════════════════

type PracticeSessionRecordedEvent struct {
	BaseEvent
	SessionID       string `json:"session_id"`
	DurationMinutes int    `json:"duration_minutes"`
	XPEarned        int    `json:"xp_earned"`
}

// StreakUpdatedEvent reports the streak outcome of a session. Outcome is
// one of the gamification.StreakOutcome values.
type StreakUpdatedEvent struct {
	BaseEvent
	Outcome       string `json:"outcome"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
	ShieldUsed    bool   `json:"shield_used"`
}

// StreakShieldUsedEvent follows a StreakUpdatedEvent whose gap a shield
// bridged.
type StreakShieldUsedEvent struct {
	BaseEvent
	ShieldsLeft int `json:"shields_left"`
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

type LevelUpEvent struct {
	BaseEvent
	OldLevel int `json:"old_level"`
	NewLevel int `json:"new_level"`
	TotalXP  int `json:"total_xp"`
}

func NewLevelUpEvent(userID string, oldLevel, newLevel, totalXP int, at time.Time) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID, at),
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		TotalXP:   totalXP,
	}
}

// BadgeAwardedEvent is published once per newly earned badge. Notify and
// NotifyEventKey are copied from the badge definition for the notification
// bridge.
type BadgeAwardedEvent struct {
	BaseEvent
	BadgeKey       string            `json:"badge_key"`
	BadgeName      string            `json:"badge_name"`
	XPReward       int               `json:"xp_reward"`
	GemReward      int               `json:"gem_reward"`
	Notify         bool              `json:"notify"`
	NotifyEventKey string            `json:"notify_event_key,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// GemsChangedEvent mirrors one gems ledger row.
type GemsChangedEvent struct {
	BaseEvent
	Amount       int    `json:"amount"`
	Source       string `json:"source"`
	BalanceAfter int    `json:"balance_after"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CURRICULUM
// ══════════════════════════════════════════════════════════════════════════════

type StepCompletedEvent struct {
	BaseEvent
	StepID        int64 `json:"step_id"`
	FocusID       int64 `json:"focus_id"`
	Position      int   `json:"position"`
	KeysCompleted int   `json:"keys_completed"`
}

// FocusCompletedEvent fires on the step that fills the last slot of a focus.
type FocusCompletedEvent struct {
	BaseEvent
	FocusID int64 `json:"focus_id"`
}

type CurriculumCompletedEvent struct {
	BaseEvent
}

// ══════════════════════════════════════════════════════════════════════════════
// BUS
// ══════════════════════════════════════════════════════════════════════════════

type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
}

// PublishAll publishes events in order. It keeps going after a failure and
// returns the first error; nothing already committed is undone.
func PublishAll(p EventPublisher, events []Event) error {
	var first error
	for _, e := range events {
		if err := p.Publish(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
