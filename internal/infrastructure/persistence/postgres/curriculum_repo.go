package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/keystep/practice-hub/internal/domain/curriculum"
	"github.com/keystep/practice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CURRICULUM REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CurriculumRepository implements curriculum.Repository for PostgreSQL.
type CurriculumRepository struct {
	conn *Connection
}

// NewCurriculumRepository creates a new CurriculumRepository.
func NewCurriculumRepository(conn *Connection) *CurriculumRepository {
	return &CurriculumRepository{conn: conn}
}

// ListFocuses returns all focuses ordered by focus_order.
func (r *CurriculumRepository) ListFocuses(ctx context.Context) ([]*curriculum.Focus, error) {
	rows, err := r.conn.Q(ctx).Query(ctx, `
		SELECT id, title, focus_order FROM curriculum_focuses ORDER BY focus_order, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list focuses: %w", err)
	}

	focuses, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*curriculum.Focus, error) {
		var f curriculum.Focus
		err := row.Scan(&f.ID, &f.Title, &f.Order)
		return &f, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan focuses: %w", err)
	}
	return focuses, nil
}

// GetFocus returns a focus by id.
func (r *CurriculumRepository) GetFocus(ctx context.Context, id int64) (*curriculum.Focus, error) {
	var f curriculum.Focus
	err := r.conn.Q(ctx).QueryRow(ctx, `
		SELECT id, title, focus_order FROM curriculum_focuses WHERE id = $1
	`, id).Scan(&f.ID, &f.Title, &f.Order)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrFocusNotFound
		}
		return nil, fmt.Errorf("failed to get focus: %w", err)
	}
	return &f, nil
}

// GetStep returns a step by id.
func (r *CurriculumRepository) GetStep(ctx context.Context, id int64) (*curriculum.Step, error) {
	var s curriculum.Step
	err := r.conn.Q(ctx).QueryRow(ctx, `
		SELECT id, focus_id, key_name, title, resource_ref FROM curriculum_steps WHERE id = $1
	`, id).Scan(&s.ID, &s.FocusID, &s.KeyName, &s.Title, &s.ResourceRef)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrStepNotFound
		}
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return &s, nil
}

// ListSteps returns the steps of a focus ordered by id.
func (r *CurriculumRepository) ListSteps(ctx context.Context, focusID int64) ([]*curriculum.Step, error) {
	rows, err := r.conn.Q(ctx).Query(ctx, `
		SELECT id, focus_id, key_name, title, resource_ref
		FROM curriculum_steps
		WHERE focus_id = $1
		ORDER BY id
	`, focusID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}

	steps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*curriculum.Step, error) {
		var s curriculum.Step
		err := row.Scan(&s.ID, &s.FocusID, &s.KeyName, &s.Title, &s.ResourceRef)
		return &s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan steps: %w", err)
	}
	return steps, nil
}

// SaveFocus upserts a focus and its steps in one transaction.
func (r *CurriculumRepository) SaveFocus(ctx context.Context, focus *curriculum.Focus, steps []*curriculum.Step) error {
	return r.conn.WithTx(ctx, readCommitted, func(ctx context.Context) error {
		q := r.conn.Q(ctx)
		_, err := q.Exec(ctx, `
			INSERT INTO curriculum_focuses (id, title, focus_order) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, focus_order = EXCLUDED.focus_order
		`, focus.ID, focus.Title, focus.Order)
		if err != nil {
			return fmt.Errorf("failed to save focus %d: %w", focus.ID, err)
		}

		batch := &pgx.Batch{}
		for _, s := range steps {
			batch.Queue(`
				INSERT INTO curriculum_steps (id, focus_id, key_name, title, resource_ref)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE SET
					focus_id = EXCLUDED.focus_id,
					key_name = EXCLUDED.key_name,
					title = EXCLUDED.title,
					resource_ref = EXCLUDED.resource_ref
			`, s.ID, focus.ID, s.KeyName, s.Title, s.ResourceRef)
		}

		tx, _ := txFrom(ctx)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save steps of focus %d: %w", focus.ID, err)
		}
		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements curriculum.ProgressRepository for PostgreSQL.
// Slots map to the key_1 .. key_12 columns.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

const progressColumns = `user_id, focus_id, key_1, key_2, key_3, key_4, key_5, key_6,
	key_7, key_8, key_9, key_10, key_11, key_12`

func scanProgress(row pgx.Row) (*curriculum.UserProgress, error) {
	var p curriculum.UserProgress
	dest := []any{&p.UserID, &p.FocusID}
	for i := range p.Slots {
		dest = append(dest, &p.Slots[i])
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &p, nil
}

// Get returns the progress of a user in a focus, or empty progress.
func (r *ProgressRepository) Get(ctx context.Context, userID string, focusID int64) (*curriculum.UserProgress, error) {
	query := `SELECT ` + progressColumns + ` FROM user_curriculum_progress WHERE user_id = $1 AND focus_id = $2`

	p, err := scanProgress(r.conn.Q(ctx).QueryRow(ctx, query, userID, focusID))
	if err != nil {
		if IsNoRows(err) {
			return curriculum.NewUserProgress(userID, focusID), nil
		}
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return p, nil
}

// SetSlot marks one slot as completed. An already set slot keeps its time.
func (r *ProgressRepository) SetSlot(ctx context.Context, userID string, focusID int64, position int, at time.Time) error {
	if position < 1 || position > curriculum.StepsPerFocus {
		return shared.ErrInvalidStepPosition
	}

	// position is range checked, the column name is never user input.
	column := fmt.Sprintf("key_%d", position)
	query := fmt.Sprintf(`
		INSERT INTO user_curriculum_progress (user_id, focus_id, %[1]s)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, focus_id) DO UPDATE
		SET %[1]s = COALESCE(user_curriculum_progress.%[1]s, EXCLUDED.%[1]s)
	`, column)

	if _, err := r.conn.Q(ctx).Exec(ctx, query, userID, focusID, at); err != nil {
		return fmt.Errorf("failed to set progress slot: %w", err)
	}
	return nil
}

// ListByUser returns progress for every focus the user touched.
func (r *ProgressRepository) ListByUser(ctx context.Context, userID string) ([]*curriculum.UserProgress, error) {
	query := `SELECT ` + progressColumns + ` FROM user_curriculum_progress WHERE user_id = $1 ORDER BY focus_id`

	rows, err := r.conn.Q(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()

	var out []*curriculum.UserProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGNMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AssignmentRepository implements curriculum.AssignmentRepository for PostgreSQL.
type AssignmentRepository struct {
	conn *Connection
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(conn *Connection) *AssignmentRepository {
	return &AssignmentRepository{conn: conn}
}

// GetCurrent returns the live assignment.
func (r *AssignmentRepository) GetCurrent(ctx context.Context, userID string) (*curriculum.Assignment, error) {
	var a curriculum.Assignment
	err := r.conn.Q(ctx).QueryRow(ctx, `
		SELECT id, user_id, step_id, focus_id, completed_at, deleted, created_at, updated_at
		FROM user_assignments
		WHERE user_id = $1 AND NOT deleted
	`, userID).Scan(&a.ID, &a.UserID, &a.StepID, &a.FocusID, &a.CompletedAt, &a.Deleted, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return &a, nil
}

// Create inserts the first assignment of a user.
func (r *AssignmentRepository) Create(ctx context.Context, a *curriculum.Assignment) error {
	_, err := r.conn.Q(ctx).Exec(ctx, `
		INSERT INTO user_assignments (id, user_id, step_id, focus_id, completed_at, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)
	`, a.ID, a.UserID, a.StepID, a.FocusID, a.CompletedAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("curriculum", "CreateAssignment", shared.ErrAlreadyExists, "user already has an assignment", err)
		}
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

// Advance soft-deletes current and inserts next.
func (r *AssignmentRepository) Advance(ctx context.Context, current, next *curriculum.Assignment) error {
	return r.conn.WithTx(ctx, readCommitted, func(ctx context.Context) error {
		result, err := r.conn.Q(ctx).Exec(ctx, `
			UPDATE user_assignments SET deleted = TRUE, updated_at = $1
			WHERE id = $2 AND NOT deleted
		`, next.CreatedAt, current.ID)
		if err != nil {
			return fmt.Errorf("failed to retire assignment: %w", err)
		}
		if result.RowsAffected() == 0 {
			return shared.ErrAssignmentNotFound
		}
		current.Deleted = true
		return r.Create(ctx, next)
	})
}

// MarkCompleted stamps the live assignment as curriculum complete.
func (r *AssignmentRepository) MarkCompleted(ctx context.Context, a *curriculum.Assignment, at time.Time) error {
	result, err := r.conn.Q(ctx).Exec(ctx, `
		UPDATE user_assignments SET completed_at = $1, updated_at = $1
		WHERE id = $2 AND NOT deleted
	`, at, a.ID)
	if err != nil {
		return fmt.Errorf("failed to complete assignment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrAssignmentNotFound
	}
	a.CompletedAt = &at
	a.UpdatedAt = at
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PRACTICE ITEM REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// PracticeItemRepository implements curriculum.PracticeItemRepository for PostgreSQL.
type PracticeItemRepository struct {
	conn *Connection
}

// NewPracticeItemRepository creates a new PracticeItemRepository.
func NewPracticeItemRepository(conn *Connection) *PracticeItemRepository {
	return &PracticeItemRepository{conn: conn}
}

// Create inserts an item.
func (r *PracticeItemRepository) Create(ctx context.Context, item *curriculum.PracticeItem) error {
	_, err := r.conn.Q(ctx).Exec(ctx, `
		INSERT INTO practice_items (id, user_id, kind, title, sort_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.UserID, string(item.Kind), item.Title, item.SortOrder, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create practice item: %w", err)
	}
	return nil
}

// ListByUser returns the items of a user.
func (r *PracticeItemRepository) ListByUser(ctx context.Context, userID string) ([]*curriculum.PracticeItem, error) {
	rows, err := r.conn.Q(ctx).Query(ctx, `
		SELECT id, user_id, kind, title, sort_order, created_at
		FROM practice_items
		WHERE user_id = $1
		ORDER BY sort_order, created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list practice items: %w", err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*curriculum.PracticeItem, error) {
		var (
			it   curriculum.PracticeItem
			kind string
		)
		err := row.Scan(&it.ID, &it.UserID, &kind, &it.Title, &it.SortOrder, &it.CreatedAt)
		it.Kind = curriculum.PracticeItemKind(kind)
		return &it, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan practice items: %w", err)
	}
	return items, nil
}
