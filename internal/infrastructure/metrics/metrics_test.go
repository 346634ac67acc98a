package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.SessionRecorded()
	m.SessionRecorded()
	m.XPGranted("session", 19)
	m.XPGranted("session", 0)
	m.GemsChanged(50)
	m.GemsChanged(-100)
	m.BadgeAwarded("first_session")
	m.Notification("primary", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsRecorded))
	assert.Equal(t, 19.0, testutil.ToFloat64(m.xpGranted.WithLabelValues("session")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.gemsChanged.WithLabelValues("earn")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.gemsChanged.WithLabelValues("spend")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.badgesAwarded.WithLabelValues("first_session")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("primary", "error")))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.Retry("record_session")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.retries.WithLabelValues("record_session")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.retries.WithLabelValues("record_session")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionRecorded()
		m.XPGranted("x", 1)
		m.ObserveOperation("op", time.Second, errors.New("x"))
		m.HandlerExecuted("e", time.Second, true)
	})
}
