// Package retry re-runs operations with capped exponential backoff. It backs
// two loops: CRM deliveries, where transport errors are marked Retryable, and
// per-user stat writes, where a lost compare-and-swap is retried whole.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MARKERS
// ══════════════════════════════════════════════════════════════════════════════

type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err}
}

// Permanent marks err as final. Do returns the unmarked error at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// IsRetryable reports whether err carries the Retryable mark.
func IsRetryable(err error) bool {
	var r retryableError
	return errors.As(err, &r)
}

// IsPermanent reports whether err carries the Permanent mark.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// strip removes the outermost marker so callers see their own error.
func strip(err error) error {
	switch e := err.(type) {
	case retryableError:
		return e.err
	case permanentError:
		return e.err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	// Attempts counts the first call. Values below 1 mean 1.
	Attempts int

	// Base is the wait before the second attempt; it doubles afterwards
	// up to Cap.
	Base time.Duration
	Cap  time.Duration

	// Jitter spreads each wait by up to ±Jitter of its length.
	Jitter float64

	// Retry decides whether err gets another attempt. Nil retries only
	// errors marked Retryable.
	Retry func(err error) bool

	// OnRetry observes every scheduled retry.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// wait returns the pause after the given failed attempt (1-based).
func (p Policy) wait(attempt int, rnd float64) time.Duration {
	d := p.Base
	for i := 1; i < attempt && (p.Cap <= 0 || d < p.Cap); i++ {
		d *= 2
	}
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	if p.Jitter > 0 {
		d += time.Duration(float64(d) * p.Jitter * (rnd*2 - 1))
	}
	if d < 0 {
		return 0
	}
	return d
}

func (p Policy) shouldRetry(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if p.Retry != nil {
		return p.Retry(err)
	}
	return IsRetryable(err)
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

// Retrier runs operations under a Policy. It is safe for concurrent use.
type Retrier struct {
	policy Policy
	rand   func() float64
}

// New creates a Retrier for p.
func New(p Policy) *Retrier {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	return &Retrier{policy: p, rand: rand.Float64}
}

// Do calls op until it succeeds, fails with an error the policy does not
// retry, runs out of attempts or ctx ends. The returned error is the last
// one op produced, without its marker.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return strip(last)
			}
			return err
		}

		last = op(ctx)
		if last == nil {
			return nil
		}
		if attempt >= r.policy.Attempts || !r.policy.shouldRetry(last) {
			return strip(last)
		}

		wait := r.policy.wait(attempt, r.rand())
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, last, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return strip(last)
		case <-timer.C:
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// DeliveryRetrier retries outbound CRM calls marked Retryable.
func DeliveryRetrier(attempts int, base time.Duration) *Retrier {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	return New(Policy{Attempts: attempts, Base: base, Cap: 5 * time.Second, Jitter: 0.2})
}

// ConflictRetrier retries a per-user unit of work three times while
// isConflict reports a lost compare-and-swap.
func ConflictRetrier(isConflict func(error) bool) *Retrier {
	return New(Policy{
		Attempts: 3,
		Base:     20 * time.Millisecond,
		Cap:      500 * time.Millisecond,
		Jitter:   0.05,
		Retry:    isConflict,
	})
}
