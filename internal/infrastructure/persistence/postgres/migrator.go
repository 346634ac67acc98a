package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMigration wraps every failure reported by Migrator.
var ErrMigration = errors.New("postgres: migration failed")

// Migration is one numbered schema change.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationStatus pairs a migration with the time it was applied.
type MigrationStatus struct {
	Migration
	// AppliedAt is nil for pending migrations.
	AppliedAt *time.Time
}

const ledgerDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// migrationLockID keeps concurrent migrate runs from racing.
const migrationLockID = 7_204_118

// Migrator applies the embedded migrations in version order, one
// transaction per migration.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations()}
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	q := m.conn.Q(ctx)
	if _, err := q.Exec(ctx, ledgerDDL); err != nil {
		return nil, fmt.Errorf("%w: ledger: %v", ErrMigration, err)
	}

	rows, err := q.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%w: read ledger: %v", ErrMigration, err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("%w: scan ledger: %v", ErrMigration, err)
		}
		out[v] = at
	}
	return out, rows.Err()
}

// Migrate applies pending migrations and reports how many ran.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	ran := 0
	err := m.conn.WithTx(ctx, readCommitted, func(ctx context.Context) error {
		q := m.conn.Q(ctx)
		if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return fmt.Errorf("%w: lock: %v", ErrMigration, err)
		}

		done, err := m.applied(ctx)
		if err != nil {
			return err
		}
		for _, mig := range m.migrations {
			if _, ok := done[mig.Version]; ok {
				continue
			}
			err := m.conn.Savepoint(ctx, func(ctx context.Context) error {
				q := m.conn.Q(ctx)
				if _, err := q.Exec(ctx, mig.UpSQL); err != nil {
					return err
				}
				_, err := q.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
				return err
			})
			if err != nil {
				return fmt.Errorf("%w: %03d_%s: %v", ErrMigration, mig.Version, mig.Name, err)
			}
			ran++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return ran, nil
}

// Rollback reverts the newest applied migration. It is a no-op on an empty
// ledger.
func (m *Migrator) Rollback(ctx context.Context) error {
	return m.conn.WithTx(ctx, readCommitted, func(ctx context.Context) error {
		done, err := m.applied(ctx)
		if err != nil {
			return err
		}

		latest := 0
		for v := range done {
			latest = max(latest, v)
		}
		if latest == 0 {
			return nil
		}

		for _, mig := range m.migrations {
			if mig.Version != latest {
				continue
			}
			q := m.conn.Q(ctx)
			if _, err := q.Exec(ctx, mig.DownSQL); err != nil {
				return fmt.Errorf("%w: revert %03d_%s: %v", ErrMigration, mig.Version, mig.Name, err)
			}
			_, err := q.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, latest)
			return err
		}
		return fmt.Errorf("%w: version %d is applied but unknown to this binary", ErrMigration, latest)
	})
}

// Status lists every known migration with its applied time.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(m.migrations))
	for _, mig := range m.migrations {
		st := MigrationStatus{Migration: mig}
		if at, ok := done[mig.Version]; ok {
			st.AppliedAt = &at
		}
		out = append(out, st)
	}
	return out, nil
}
