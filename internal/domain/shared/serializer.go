package shared

import "context"

// UserSerializer runs per-user mutations one at a time. fn receives a context
// that carries the unit of work (a database transaction, for example); every
// repository call made with that context joins it. If fn returns an error the
// unit of work is rolled back.
//
// Calls for different users never block each other.
type UserSerializer interface {
	WithinUser(ctx context.Context, userID string, fn func(ctx context.Context) error) error
}
