package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/simple-stars/pkg/domain"
)

// MembershipsRepository handles membership data persistence.
type MembershipsRepository struct {
	db *sql.DB
}

// NewMembershipsRepository creates a new memberships repository.
func NewMembershipsRepository(db *sql.DB) *MembershipsRepository {
	return &MembershipsRepository{db: db}
}

const membershipColumns = `user_id, group_id, total_stars, current_stage, last_read_at, seen_celebrations, created_at, updated_at`

func scanMembership(row interface{ Scan(...any) error }) (*domain.Membership, error) {
	var m domain.Membership
	err := row.Scan(
		&m.UserID,
		&m.GroupID,
		&m.TotalStars,
		&m.CurrentStage,
		&m.LastReadAt,
		pq.Array(&m.SeenCelebrations),
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetByUserAndGroup retrieves the membership of a user in a group.
func (r *MembershipsRepository) GetByUserAndGroup(ctx context.Context, userID, groupID uuid.UUID) (*domain.Membership, error) {
	return r.getTx(ctx, r.db, userID, groupID)
}

func (r *MembershipsRepository) getTx(ctx context.Context, q Querier, userID, groupID uuid.UUID) (*domain.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE user_id = $1 AND group_id = $2
	`
	m, err := scanMembership(q.QueryRowContext(ctx, query, userID, groupID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// CreateOrGet inserts the membership, or returns the existing one.
func (r *MembershipsRepository) CreateOrGet(ctx context.Context, m *domain.Membership) (*domain.Membership, error) {
	query := `
		INSERT INTO memberships (user_id, group_id, total_stars, current_stage, seen_celebrations, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '{}', $5, $6)
		ON CONFLICT (user_id, group_id) DO NOTHING
		RETURNING ` + membershipColumns

	created, err := scanMembership(r.db.QueryRowContext(ctx, query,
		m.UserID,
		m.GroupID,
		m.TotalStars,
		m.CurrentStage,
		m.CreatedAt,
		m.UpdatedAt,
	))
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}
	return r.GetByUserAndGroup(ctx, m.UserID, m.GroupID)
}

// ApplyDelta increments total stars, clamped at zero, and stores the stage
// derived from the new total in one transaction. With an operation id the
// delta is recorded in applied_operations; a repeated id returns the totals
// recorded the first time with Replayed set, or domain.ErrOperationConflict
// when it was recorded for another membership or delta.
func (r *MembershipsRepository) ApplyDelta(ctx context.Context, d domain.StarDelta, stageFor func(int) int) (*domain.StarChange, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if d.OperationID != "" {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO applied_operations (operation_id, user_id, group_id, delta)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (operation_id) DO NOTHING
		`, d.OperationID, d.UserID, d.GroupID, d.Delta)
		if err != nil {
			return nil, fmt.Errorf("failed to record operation: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return r.appliedOperation(ctx, tx, d)
		}
	}

	var change domain.StarChange
	err = tx.QueryRowContext(ctx, `
		SELECT total_stars, current_stage
		FROM memberships
		WHERE user_id = $1 AND group_id = $2
		FOR UPDATE
	`, d.UserID, d.GroupID).Scan(&change.PreviousTotal, &change.PreviousStage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to lock membership: %w", err)
	}

	// The row is locked, so the stage can be derived before the update.
	change.Stage = stageFor(max(0, change.PreviousTotal+d.Delta))
	err = tx.QueryRowContext(ctx, `
		UPDATE memberships
		SET total_stars = GREATEST(total_stars + $3, 0), current_stage = $4, updated_at = NOW()
		WHERE user_id = $1 AND group_id = $2
		RETURNING total_stars
	`, d.UserID, d.GroupID, d.Delta, change.Stage).Scan(&change.Total)
	if err != nil {
		return nil, fmt.Errorf("failed to apply star delta: %w", err)
	}

	if d.OperationID != "" {
		_, err := tx.ExecContext(ctx, `
			UPDATE applied_operations
			SET previous_total = $2, total = $3, previous_stage = $4, stage = $5
			WHERE operation_id = $1
		`, d.OperationID, change.PreviousTotal, change.Total, change.PreviousStage, change.Stage)
		if err != nil {
			return nil, fmt.Errorf("failed to record operation result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &change, nil
}

// appliedOperation returns the recorded result of d's operation. The
// operation must have been recorded for the same membership and delta.
func (r *MembershipsRepository) appliedOperation(ctx context.Context, q Querier, d domain.StarDelta) (*domain.StarChange, error) {
	change := domain.StarChange{Replayed: true}
	var (
		userID, groupID uuid.UUID
		delta           int
	)
	err := q.QueryRowContext(ctx, `
		SELECT user_id, group_id, delta, previous_total, total, previous_stage, stage
		FROM applied_operations
		WHERE operation_id = $1
	`, d.OperationID).Scan(&userID, &groupID, &delta, &change.PreviousTotal, &change.Total, &change.PreviousStage, &change.Stage)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied operation: %w", err)
	}
	if userID != d.UserID || groupID != d.GroupID || delta != d.Delta {
		return nil, domain.ErrOperationConflict
	}
	return &change, nil
}

// ResetProgress zeroes stars and stage, clears the seen celebrations and the
// seen flag of every unlocked badge, provided total stars are at least
// minStars. It returns the membership as stored afterwards.
func (r *MembershipsRepository) ResetProgress(ctx context.Context, userID, groupID uuid.UUID, minStars int) (*domain.Membership, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE memberships
		SET total_stars = 0, current_stage = 1, seen_celebrations = '{}', updated_at = NOW()
		WHERE user_id = $1 AND group_id = $2 AND total_stars >= $3
		RETURNING ` + membershipColumns

	m, err := scanMembership(tx.QueryRowContext(ctx, query, userID, groupID, minStars))
	if errors.Is(err, sql.ErrNoRows) {
		// Below minStars, or gone.
		return r.getTx(ctx, tx, userID, groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reset progress: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE unlocked_badges
		SET seen = FALSE
		WHERE user_id = $1 AND group_id = $2
	`, userID, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to clear badge seen flags: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return m, nil
}

// ListByGroup lists the memberships of a group, most stars first.
func (r *MembershipsRepository) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]*domain.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE group_id = $1
		ORDER BY total_stars DESC, created_at
	`
	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return memberships, nil
}

// MarkRead records when the user last read the group.
func (r *MembershipsRepository) MarkRead(ctx context.Context, userID, groupID uuid.UUID, at time.Time) error {
	query := `
		UPDATE memberships
		SET last_read_at = $3
		WHERE user_id = $1 AND group_id = $2
	`
	result, err := r.db.ExecContext(ctx, query, userID, groupID, at)
	if err != nil {
		return fmt.Errorf("failed to mark membership read: %w", err)
	}
	return expectRow(result, domain.ErrMembershipNotFound)
}

// AddSeenCelebration adds a celebration id to the membership's seen set.
func (r *MembershipsRepository) AddSeenCelebration(ctx context.Context, userID, groupID uuid.UUID, celebrationID string) error {
	query := `
		UPDATE memberships
		SET seen_celebrations = array_append(seen_celebrations, $3), updated_at = NOW()
		WHERE user_id = $1 AND group_id = $2 AND NOT ($3 = ANY(seen_celebrations))
	`
	result, err := r.db.ExecContext(ctx, query, userID, groupID, celebrationID)
	if err != nil {
		return fmt.Errorf("failed to add seen celebration: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Already seen, unless the membership is gone.
		_, err := r.GetByUserAndGroup(ctx, userID, groupID)
		return err
	}
	return nil
}

// Delete removes the membership together with its badges and goals.
func (r *MembershipsRepository) Delete(ctx context.Context, userID, groupID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM memberships WHERE user_id = $1 AND group_id = $2`, userID, groupID)
	if err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	if err := expectRow(result, domain.ErrMembershipNotFound); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM unlocked_badges WHERE user_id = $1 AND group_id = $2`, userID, groupID); err != nil {
		return fmt.Errorf("failed to delete unlocked badges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM goals WHERE user_id = $1 AND group_id = $2`, userID, groupID); err != nil {
		return fmt.Errorf("failed to delete goals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func expectRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
