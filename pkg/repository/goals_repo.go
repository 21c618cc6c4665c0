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

const defaultGoalHistory = 20

// GoalsRepository handles goal persistence.
type GoalsRepository struct {
	db *sql.DB
}

// NewGoalsRepository creates a new goals repository.
func NewGoalsRepository(db *sql.DB) *GoalsRepository {
	return &GoalsRepository{db: db}
}

const goalColumns = `id, group_id, user_id, target_stars, target_categories, current_stars, reward, completed, completed_at, created_at, updated_at`

func scanGoal(row interface{ Scan(...any) error }) (*domain.Goal, error) {
	var g domain.Goal
	err := row.Scan(
		&g.ID,
		&g.GroupID,
		&g.UserID,
		&g.TargetStars,
		pq.Array(&g.TargetCategories),
		&g.CurrentStars,
		&g.Reward,
		&g.Completed,
		&g.CompletedAt,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(g.TargetCategories) == 0 {
		g.TargetCategories = nil
	}
	return &g, nil
}

// Create inserts a new goal. The goals_one_active index allows a single
// incomplete goal per user and group.
func (r *GoalsRepository) Create(ctx context.Context, g *domain.Goal) error {
	categories := g.TargetCategories
	if categories == nil {
		categories = []string{}
	}
	query := `
		INSERT INTO goals (id, group_id, user_id, target_stars, target_categories, current_stars, reward, completed, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		g.ID,
		g.GroupID,
		g.UserID,
		g.TargetStars,
		pq.Array(categories),
		g.CurrentStars,
		g.Reward,
		g.Completed,
		g.CompletedAt,
		g.CreatedAt,
		g.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrActiveGoalExists
		}
		return fmt.Errorf("failed to create goal: %w", err)
	}
	return nil
}

// GetActive retrieves the incomplete goal of a user in a group.
func (r *GoalsRepository) GetActive(ctx context.Context, userID, groupID uuid.UUID) (*domain.Goal, error) {
	query := `
		SELECT ` + goalColumns + `
		FROM goals
		WHERE user_id = $1 AND group_id = $2 AND completed = FALSE
	`
	g, err := scanGoal(r.db.QueryRowContext(ctx, query, userID, groupID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrGoalNotFound
		}
		return nil, fmt.Errorf("failed to get active goal: %w", err)
	}
	return g, nil
}

// AddProgress adds stars to an incomplete goal and completes it when the
// target is reached, in a single statement.
func (r *GoalsRepository) AddProgress(ctx context.Context, goalID uuid.UUID, stars int, at time.Time) (*domain.Goal, error) {
	query := `
		UPDATE goals
		SET current_stars = current_stars + $2,
		    completed = current_stars + $2 >= target_stars,
		    completed_at = CASE WHEN current_stars + $2 >= target_stars THEN $3 ELSE NULL END,
		    updated_at = $3
		WHERE id = $1 AND completed = FALSE
		RETURNING ` + goalColumns

	g, err := scanGoal(r.db.QueryRowContext(ctx, query, goalID, stars, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrGoalNotFound
		}
		return nil, fmt.Errorf("failed to add goal progress: %w", err)
	}
	return g, nil
}

// ListByMembership lists a user's goals in a group, newest first.
func (r *GoalsRepository) ListByMembership(ctx context.Context, userID, groupID uuid.UUID, limit int) ([]*domain.Goal, error) {
	if limit <= 0 {
		limit = defaultGoalHistory
	}
	query := `
		SELECT ` + goalColumns + `
		FROM goals
		WHERE user_id = $1 AND group_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, userID, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	defer rows.Close()

	var goals []*domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	return goals, nil
}
