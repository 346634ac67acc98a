// Package memory provides in-process implementations of every repository
// port. It backs local runs without PostgreSQL and the application tests.
// Writes are applied immediately; there is no rollback.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/keystep/practice-hub/internal/domain/curriculum"
	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/internal/domain/shared"
)

type badgeKey struct {
	userID string
	key    string
}

type progressKey struct {
	userID  string
	focusID int64
}

// Store holds all tables behind one lock.
type Store struct {
	mu sync.RWMutex

	stats       map[string]gamification.UserStats
	sessions    map[string][]gamification.PracticeSession
	badges      map[string]gamification.BadgeDefinition
	userBadges  map[badgeKey]gamification.UserBadge
	gems        map[string][]gamification.GemsTransaction
	focuses     map[int64]curriculum.Focus
	steps       map[int64]curriculum.Step
	progress    map[progressKey]curriculum.UserProgress
	assignments map[string][]curriculum.Assignment
	items       map[string][]curriculum.PracticeItem
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		stats:       make(map[string]gamification.UserStats),
		sessions:    make(map[string][]gamification.PracticeSession),
		badges:      make(map[string]gamification.BadgeDefinition),
		userBadges:  make(map[badgeKey]gamification.UserBadge),
		gems:        make(map[string][]gamification.GemsTransaction),
		focuses:     make(map[int64]curriculum.Focus),
		steps:       make(map[int64]curriculum.Step),
		progress:    make(map[progressKey]curriculum.UserProgress),
		assignments: make(map[string][]curriculum.Assignment),
		items:       make(map[string][]curriculum.PracticeItem),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// StatsRepository implements gamification.StatsRepository.
type StatsRepository struct{ s *Store }

// NewStatsRepository creates a StatsRepository over s.
func NewStatsRepository(s *Store) *StatsRepository { return &StatsRepository{s: s} }

// Get returns a copy of the stored stats.
func (r *StatsRepository) Get(ctx context.Context, userID string) (*gamification.UserStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	st, ok := r.s.stats[userID]
	if !ok {
		return nil, shared.ErrStatsNotFound
	}
	return st.Clone(), nil
}

// Save inserts or compare-and-swaps on Version.
func (r *StatsRepository) Save(ctx context.Context, st *gamification.UserStats) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, exists := r.s.stats[st.UserID]
	switch {
	case st.IsNew() && exists:
		return shared.ErrStatsVersionConflict
	case !st.IsNew() && (!exists || current.Version != st.Version):
		return shared.ErrStatsVersionConflict
	}

	st.Version++
	r.s.stats[st.UserID] = *st.Clone()
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

// SessionRepository implements gamification.SessionRepository.
type SessionRepository struct{ s *Store }

// NewSessionRepository creates a SessionRepository over s.
func NewSessionRepository(s *Store) *SessionRepository { return &SessionRepository{s: s} }

// Create stores a session.
func (r *SessionRepository) Create(ctx context.Context, session *gamification.PracticeSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.sessions[session.UserID] {
		if existing.ID == session.ID {
			return shared.NewDomainError("gamification", "CreateSession", shared.ErrAlreadyExists, "session already recorded")
		}
	}
	r.s.sessions[session.UserID] = append(r.s.sessions[session.UserID], *session)
	return nil
}

// ListSessions returns a page of sessions, newest first.
func (r *SessionRepository) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*gamification.PracticeSession, error) {
	r.s.mu.RLock()
	all := make([]*gamification.PracticeSession, 0, len(r.s.sessions[userID]))
	for i := range r.s.sessions[userID] {
		s := r.s.sessions[userID][i]
		all = append(all, &s)
	}
	r.s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

// Count returns the number of sessions of a user.
func (r *SessionRepository) Count(ctx context.Context, userID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.sessions[userID]), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGES & GEMS
// ══════════════════════════════════════════════════════════════════════════════

// BadgeCatalog implements gamification.BadgeCatalog.
type BadgeCatalog struct{ s *Store }

// NewBadgeCatalog creates a BadgeCatalog over s.
func NewBadgeCatalog(s *Store) *BadgeCatalog { return &BadgeCatalog{s: s} }

// ListBadges returns definitions in evaluation order.
func (c *BadgeCatalog) ListBadges(ctx context.Context, activeOnly bool) ([]*gamification.BadgeDefinition, error) {
	c.s.mu.RLock()
	out := make([]*gamification.BadgeDefinition, 0, len(c.s.badges))
	for _, d := range c.s.badges {
		if activeOnly && !d.Active {
			continue
		}
		d := d
		out = append(out, &d)
	}
	c.s.mu.RUnlock()

	gamification.SortDefinitions(out)
	return out, nil
}

// ListUserBadges returns the badges of a user, oldest first.
func (c *BadgeCatalog) ListUserBadges(ctx context.Context, userID string) ([]*gamification.UserBadge, error) {
	c.s.mu.RLock()
	var out []*gamification.UserBadge
	for k, b := range c.s.userBadges {
		if k.userID == userID {
			b := b
			out = append(out, &b)
		}
	}
	c.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].EarnedAt.Equal(out[j].EarnedAt) {
			return out[i].EarnedAt.Before(out[j].EarnedAt)
		}
		return out[i].BadgeKey < out[j].BadgeKey
	})
	return out, nil
}

// AwardBadge records a badge once per user.
func (c *BadgeCatalog) AwardBadge(ctx context.Context, userID, key string, earnedAt time.Time) (bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, ok := c.s.badges[key]; !ok {
		return false, shared.ErrBadgeNotFound
	}
	k := badgeKey{userID: userID, key: key}
	if _, ok := c.s.userBadges[k]; ok {
		return false, nil
	}
	c.s.userBadges[k] = gamification.UserBadge{UserID: userID, BadgeKey: key, EarnedAt: earnedAt}
	return true, nil
}

// UpsertBadge creates or replaces a definition.
func (c *BadgeCatalog) UpsertBadge(ctx context.Context, def *gamification.BadgeDefinition) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.badges[def.Key] = *def
	return nil
}

// GemsLedger implements gamification.GemsLedger.
type GemsLedger struct{ s *Store }

// NewGemsLedger creates a GemsLedger over s.
func NewGemsLedger(s *Store) *GemsLedger { return &GemsLedger{s: s} }

// Record appends a transaction.
func (l *GemsLedger) Record(ctx context.Context, tx *gamification.GemsTransaction) error {
	if tx.BalanceAfter < 0 {
		return shared.ErrInsufficientGems
	}
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.gems[tx.UserID] = append(l.s.gems[tx.UserID], *tx)
	return nil
}

// ListTransactions returns the most recent transactions, newest first.
func (l *GemsLedger) ListTransactions(ctx context.Context, userID string, limit int) ([]*gamification.GemsTransaction, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	rows := l.s.gems[userID]
	var out []*gamification.GemsTransaction
	for i := len(rows) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		t := rows[i]
		out = append(out, &t)
	}
	return out, nil
}
