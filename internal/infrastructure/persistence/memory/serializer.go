package memory

import (
	"context"
	"sync"
)

// UserSerializer implements shared.UserSerializer with one mutex per user.
// Mutexes are reference counted and dropped when no caller holds them.
type UserSerializer struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewUserSerializer creates a UserSerializer.
func NewUserSerializer() *UserSerializer {
	return &UserSerializer{locks: make(map[string]*userLock)}
}

// WithinUser runs fn while holding the lock of userID.
func (s *UserSerializer) WithinUser(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.acquire(userID)
	l.mu.Lock()
	defer s.release(userID, l)

	return fn(ctx)
}

func (s *UserSerializer) acquire(userID string) *userLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	return l
}

func (s *UserSerializer) release(userID string, l *userLock) {
	l.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(s.locks, userID)
	}
}
