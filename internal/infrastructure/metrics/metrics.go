// Package metrics exposes Prometheus counters for the rules engine.
// Every Metrics value owns its registry so tests and multiple engines in one
// process never collide on registration.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "practicehub"

// Metrics groups all engine collectors.
type Metrics struct {
	registry *prometheus.Registry

	sessionsRecorded  prometheus.Counter
	xpGranted         *prometheus.CounterVec
	gemsChanged       *prometheus.CounterVec
	badgesAwarded     *prometheus.CounterVec
	streakOutcomes    *prometheus.CounterVec
	stepsCompleted    *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec
	handlerDuration   *prometheus.HistogramVec
	operationDuration *prometheus.HistogramVec
	retries           *prometheus.CounterVec
}

// New creates Metrics registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sessionsRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "practice_sessions_recorded_total",
			Help:      "Practice sessions recorded.",
		}),
		xpGranted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "xp_granted_total",
			Help:      "XP granted, by source.",
		}, []string{"source"}),
		gemsChanged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gems_changed_total",
			Help:      "Absolute gem movement, by direction.",
		}, []string{"direction"}),
		badgesAwarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "badges_awarded_total",
			Help:      "Badges awarded, by badge key.",
		}, []string{"badge"}),
		streakOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streak_outcomes_total",
			Help:      "Streak tracker outcomes.",
		}, []string{"outcome"}),
		stepsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "curriculum_steps_total",
			Help:      "Curriculum step completions, by result.",
		}, []string{"result"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts, by transport and result.",
		}, []string{"transport", "result"}),
		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events published, by type.",
		}, []string{"event_type"}),
		handlerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_handler_duration_seconds",
			Help:      "Event handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type", "result"}),
		operationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_retries_total",
			Help:      "Retries after concurrent modification.",
		}, []string{"operation"}),
	}
}

// Registry returns the registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// SessionRecorded counts one practice session.
func (m *Metrics) SessionRecorded() {
	if m == nil {
		return
	}
	m.sessionsRecorded.Inc()
}

// XPGranted adds xp under source.
func (m *Metrics) XPGranted(source string, xp int) {
	if m == nil || xp <= 0 {
		return
	}
	m.xpGranted.WithLabelValues(source).Add(float64(xp))
}

// GemsChanged records a signed gem movement.
func (m *Metrics) GemsChanged(amount int) {
	if m == nil || amount == 0 {
		return
	}
	if amount > 0 {
		m.gemsChanged.WithLabelValues("earn").Add(float64(amount))
		return
	}
	m.gemsChanged.WithLabelValues("spend").Add(float64(-amount))
}

// BadgeAwarded counts one badge award.
func (m *Metrics) BadgeAwarded(key string) {
	if m == nil {
		return
	}
	m.badgesAwarded.WithLabelValues(key).Inc()
}

// StreakOutcome counts one streak tracker result.
func (m *Metrics) StreakOutcome(outcome string) {
	if m == nil {
		return
	}
	m.streakOutcomes.WithLabelValues(outcome).Inc()
}

// StepCompleted counts a step completion; result is "completed" or "declined".
func (m *Metrics) StepCompleted(result string) {
	if m == nil {
		return
	}
	m.stepsCompleted.WithLabelValues(result).Inc()
}

// Notification counts one notification attempt.
func (m *Metrics) Notification(transport string, ok bool) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(transport, result(ok)).Inc()
}

// EventPublished counts one published event.
func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// HandlerExecuted observes one event handler run.
func (m *Metrics) HandlerExecuted(eventType string, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(eventType, result(ok)).Observe(d.Seconds())
}

// ObserveOperation observes one engine operation.
func (m *Metrics) ObserveOperation(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation, result(err == nil)).Observe(d.Seconds())
}

// Retry counts one retry of operation.
func (m *Metrics) Retry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}
