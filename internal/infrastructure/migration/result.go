package migration

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSourceMissing means none of an entity's candidate tables exist in
	// the legacy database.
	ErrSourceMissing = errors.New("migration: legacy source missing")

	// ErrInvalidRecord marks a legacy row that cannot be mapped.
	ErrInvalidRecord = errors.New("migration: invalid legacy record")

	// ErrUnknownBadge marks a legacy badge with no definition in the catalog.
	ErrUnknownBadge = errors.New("migration: unknown badge")
)

// EntityResult counts what happened to one entity.
type EntityResult struct {
	Source   string `json:"source,omitempty"`
	Read     int    `json:"read"`
	Inserted int    `json:"inserted"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	Missing  bool   `json:"missing,omitempty"`
}

// RecordError is a failure of one legacy row. It never aborts the batch.
type RecordError struct {
	Entity string
	Key    string
	Err    error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Entity, e.Key, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

// Result is the accumulator threaded through a migration run.
type Result struct {
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Entities   map[string]*EntityResult `json:"entities"`
	Errors     []RecordError            `json:"-"`
}

// NewResult creates an empty result.
func NewResult(start time.Time) *Result {
	return &Result{StartedAt: start, Entities: make(map[string]*EntityResult)}
}

// Entity returns the counters of name, creating them on first use.
func (r *Result) Entity(name string) *EntityResult {
	e, ok := r.Entities[name]
	if !ok {
		e = &EntityResult{}
		r.Entities[name] = e
	}
	return e
}

func (r *Result) fail(entity, key string, err error) {
	r.Entity(entity).Failed++
	r.Errors = append(r.Errors, RecordError{Entity: entity, Key: key, Err: err})
}

// Totals sums all entities.
func (r *Result) Totals() EntityResult {
	var t EntityResult
	for _, e := range r.Entities {
		t.Read += e.Read
		t.Inserted += e.Inserted
		t.Skipped += e.Skipped
		t.Failed += e.Failed
	}
	return t
}

// HasErrors reports whether any record failed.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}
