// Package shared holds the error kinds, events and ports used by every domain
// package of the engine.
package shared

import (
	"errors"
	"strings"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyExists          = errors.New("already exists")
	ErrInvalidID              = errors.New("invalid id")
	ErrInvalidInput           = errors.New("invalid input")
	ErrNegativeValue          = errors.New("negative value")
	ErrValueOutOfRange        = errors.New("value out of range")
	ErrInvalidState           = errors.New("invalid state")
	ErrForbidden              = errors.New("forbidden")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// DomainError is a failure of one domain operation. It matches its Kind and
// the wrapped cause under errors.Is.
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(e.Domain)
	b.WriteByte('.')
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause.
func (e *DomainError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Is matches another DomainError of the same domain, op and kind, so
// sentinel errors below still compare equal after being rebuilt.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Domain == t.Domain && e.Op == t.Op && e.Kind == t.Kind && e.Message == t.Message
}

// NewDomainError returns a DomainError without a cause.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError returns a DomainError carrying err as its cause.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	e := NewDomainError(domain, op, kind, message)
	e.Err = err
	return e
}

func gamificationErr(op string, kind error, msg string) *DomainError {
	return NewDomainError("gamification", op, kind, msg)
}

func curriculumErr(op string, kind error, msg string) *DomainError {
	return NewDomainError("curriculum", op, kind, msg)
}

var (
	ErrStatsNotFound        = gamificationErr("GetStats", ErrNotFound, "user stats not found")
	ErrBadgeNotFound        = gamificationErr("GetBadge", ErrNotFound, "badge definition not found")
	ErrInvalidDuration      = gamificationErr("Validate", ErrValueOutOfRange, "duration must be a positive number of minutes")
	ErrInvalidSentiment     = gamificationErr("Validate", ErrValueOutOfRange, "sentiment must be between 1 and 5")
	ErrInvalidUserID        = gamificationErr("Validate", ErrInvalidID, "user id cannot be empty")
	ErrInsufficientGems     = gamificationErr("SpendGems", ErrInvalidState, "not enough gems")
	ErrShieldLimitReached   = gamificationErr("PurchaseShield", ErrInvalidState, "streak shield limit reached")
	ErrShieldsDisabled      = gamificationErr("PurchaseShield", ErrForbidden, "streak shields are disabled")
	ErrStatsVersionConflict = gamificationErr("SaveStats", ErrConcurrentModification, "user stats changed concurrently")
)

var (
	ErrStepNotFound         = curriculumErr("GetStep", ErrNotFound, "curriculum step not found")
	ErrFocusNotFound        = curriculumErr("GetFocus", ErrNotFound, "curriculum focus not found")
	ErrStepFocusMismatch    = curriculumErr("CompleteStep", ErrInvalidInput, "step does not belong to focus")
	ErrStepAlreadyCompleted = curriculumErr("CompleteStep", ErrAlreadyExists, "step already completed")
	ErrAssignmentNotFound   = curriculumErr("GetAssignment", ErrNotFound, "assignment not found")
	ErrCurriculumEmpty      = curriculumErr("GetAssignment", ErrInvalidState, "curriculum has no steps")
	ErrInvalidStepPosition  = curriculumErr("CompleteStep", ErrValueOutOfRange, "step position out of range")
)

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsValidation reports input errors a caller can fix by sending other data.
func IsValidation(err error) bool {
	for _, kind := range []error{ErrInvalidID, ErrInvalidInput, ErrNegativeValue, ErrValueOutOfRange} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
