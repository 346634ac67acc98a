package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/keystep/practice-hub/internal/domain/shared"
)

// UserSerializer implements shared.UserSerializer. Each unit of work runs in
// a transaction holding pg_advisory_xact_lock on the user id, so the lock
// goes away with the commit or rollback.
type UserSerializer struct {
	conn *Connection
	opts pgx.TxOptions
}

func NewUserSerializer(conn *Connection) *UserSerializer {
	return &UserSerializer{conn: conn, opts: readCommitted}
}

// WithinUser runs fn while holding the user's lock. Serialization failures
// and deadlocks surface as shared.ErrConcurrentModification so callers retry
// them like a lost stats compare-and-swap.
func (s *UserSerializer) WithinUser(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	err := s.conn.WithTx(ctx, s.opts, func(ctx context.Context) error {
		if _, err := s.conn.Q(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
			return fmt.Errorf("lock user %s: %w", userID, err)
		}
		return fn(ctx)
	})
	if IsSerializationFailure(err) {
		return shared.WrapError("persistence", "WithinUser", shared.ErrConcurrentModification, "transaction aborted by a concurrent writer", err)
	}
	return err
}
