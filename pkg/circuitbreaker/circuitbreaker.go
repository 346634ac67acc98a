// Package circuitbreaker stops calling a CRM transport after repeated
// failures and probes it again after a cooldown.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned without calling the operation while the breaker is
// open or a half-open probe is already in flight.
var ErrOpen = errors.New("circuit breaker is open")

// Settings configure a Breaker.
type Settings struct {
	Name string

	// Threshold is the number of consecutive failures that opens the
	// breaker. Default 5.
	Threshold int

	// Cooldown is how long the breaker stays open before one probe is let
	// through. Default 30s.
	Cooldown time.Duration

	// IsFailure decides which errors count. Nil counts every error except
	// context cancellation.
	IsFailure func(error) bool

	OnStateChange func(name string, from, to State)

	// Now is the time source. Default time.Now.
	Now func() time.Time
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	s Settings

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed Breaker.
func New(s Settings) *Breaker {
	if s.Threshold <= 0 {
		s.Threshold = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.IsFailure == nil {
		s.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	return &Breaker{s: s}
}

// ForTransport creates the breaker guarding one CRM transport.
func ForTransport(name string, threshold int, cooldown time.Duration, onStateChange func(name string, from, to State)) *Breaker {
	return New(Settings{Name: name, Threshold: threshold, Cooldown: cooldown, OnStateChange: onStateChange})
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.s.Name }

// State returns the current state. An open breaker whose cooldown elapsed
// reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cooledDown() {
		return StateHalfOpen
	}
	return b.state
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) cooledDown() bool {
	return b.s.Now().Sub(b.openedAt) >= b.s.Cooldown
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if !b.cooledDown() {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil || !b.s.IsFailure(err) {
		b.failures = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.s.Threshold {
		b.openedAt = b.s.Now()
		if b.state != StateOpen {
			b.transition(StateOpen)
		}
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.s.OnStateChange != nil {
		b.s.OnStateChange(b.s.Name, from, to)
	}
}
