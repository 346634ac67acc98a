// Package postgres stores Practice Hub state in PostgreSQL through pgx.
// Repositories take their querier from the context, so work started under
// UserSerializer or WithTx joins the open transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("postgres: pool closed")

// PoolOptions tune the pool opened by Open. Zero values keep the pgx
// defaults, except MaxConns which falls back to 10.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Connection owns the pgx pool.
type Connection struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// Open parses url, applies opts and pings the database.
func Open(ctx context.Context, url string, opts PoolOptions) (*Connection, error) {
	pc, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse url: %w", err)
	}

	pc.MaxConns = 10
	if opts.MaxConns > 0 {
		pc.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 && opts.MinConns <= pc.MaxConns {
		pc.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Connection{pool: pool}, nil
}

// Close releases the pool. Later calls are no-ops.
func (c *Connection) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.pool.Close()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

var readCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}

type txKey struct{}

func txFrom(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// WithTx runs fn inside a transaction stored in fn's context. When ctx
// already carries one, fn joins it and the outer caller decides the outcome.
func (c *Connection) WithTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context) error) (err error) {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}
	if c.closed.Load() {
		return ErrClosed
	}

	tx, err := c.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("postgres: rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Savepoint isolates fn so its failure leaves the surrounding transaction
// usable. Outside a transaction fn runs directly.
func (c *Connection) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, ok := txFrom(ctx)
	if !ok {
		return fn(ctx)
	}

	nested, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: savepoint: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, nested)); err != nil {
		_ = nested.Rollback(ctx)
		return err
	}
	return nested.Commit(ctx)
}

// Querier is satisfied by the pool and by pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Q picks the transaction in ctx, falling back to the pool.
func (c *Connection) Q(ctx context.Context) Querier {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return c.pool
}

// SQLSTATE codes checked by the repositories.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func IsUniqueViolation(err error) bool { return pgCode(err) == codeUniqueViolation }

// IsSerializationFailure covers serialization failures and deadlocks.
func IsSerializationFailure(err error) bool {
	code := pgCode(err)
	return code == codeSerializationFailure || code == codeDeadlockDetected
}

func IsNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }
