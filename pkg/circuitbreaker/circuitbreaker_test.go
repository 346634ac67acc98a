package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errDown = errors.New("endpoint down")

func failing(ctx context.Context) error { return errDown }
func passing(ctx context.Context) error { return nil }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var transitions []State
	b := ForTransport("crm-events", 2, time.Hour, func(name string, from, to State) {
		transitions = append(transitions, to)
	})
	ctx := context.Background()

	assert.ErrorIs(t, b.Execute(ctx, failing), errDown)
	assert.NoError(t, b.Execute(ctx, passing), "a success resets the count")
	assert.ErrorIs(t, b.Execute(ctx, failing), errDown)
	assert.Equal(t, StateClosed, b.State())

	assert.ErrorIs(t, b.Execute(ctx, failing), errDown)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
	assert.Equal(t, []State{StateOpen}, transitions)
	assert.Equal(t, "crm-events", b.Name())
}

func TestBreaker_ProbeAfterCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
	b := New(Settings{Name: "crm-webhook", Threshold: 1, Cooldown: time.Minute, Now: clock.now})
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	assert.Equal(t, StateOpen, b.State())

	clock.t = clock.t.Add(time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())

	// A failed probe reopens for another cooldown.
	assert.ErrorIs(t, b.Execute(ctx, failing), errDown)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(ctx, passing), ErrOpen)

	clock.t = clock.t.Add(time.Minute)
	assert.NoError(t, b.Execute(ctx, passing))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_IgnoresCancellation(t *testing.T) {
	b := New(Settings{Threshold: 1})
	err := b.Execute(context.Background(), func(context.Context) error { return context.Canceled })

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}
