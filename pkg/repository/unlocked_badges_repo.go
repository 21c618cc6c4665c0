package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/simple-stars/pkg/domain"
)

// UnlockedBadgesRepository handles unlocked badge persistence.
type UnlockedBadgesRepository struct {
	db *sql.DB
}

// NewUnlockedBadgesRepository creates a new unlocked badges repository.
func NewUnlockedBadgesRepository(db *sql.DB) *UnlockedBadgesRepository {
	return &UnlockedBadgesRepository{db: db}
}

const unlockedBadgeColumns = `user_id, group_id, badge_id, unlocked_at, seen`

func scanUnlockedBadge(row interface{ Scan(...any) error }) (*domain.UnlockedBadge, error) {
	var b domain.UnlockedBadge
	if err := row.Scan(&b.UserID, &b.GroupID, &b.BadgeID, &b.UnlockedAt, &b.Seen); err != nil {
		return nil, err
	}
	return &b, nil
}

// InsertOrGet records the unlock as unseen. When the badge is already
// unlocked the existing row is returned and created is false.
func (r *UnlockedBadgesRepository) InsertOrGet(ctx context.Context, b *domain.UnlockedBadge) (*domain.UnlockedBadge, bool, error) {
	query := `
		INSERT INTO unlocked_badges (user_id, group_id, badge_id, unlocked_at, seen)
		VALUES ($1, $2, $3, $4, FALSE)
		ON CONFLICT (user_id, group_id, badge_id) DO NOTHING
		RETURNING ` + unlockedBadgeColumns

	row, err := scanUnlockedBadge(r.db.QueryRowContext(ctx, query, b.UserID, b.GroupID, b.BadgeID, b.UnlockedAt))
	if err == nil {
		return row, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert unlocked badge: %w", err)
	}

	row, err = r.Get(ctx, b.UserID, b.GroupID, b.BadgeID)
	if err != nil {
		return nil, false, err
	}
	return row, false, nil
}

// Get retrieves one unlocked badge.
func (r *UnlockedBadgesRepository) Get(ctx context.Context, userID, groupID uuid.UUID, badgeID string) (*domain.UnlockedBadge, error) {
	query := `
		SELECT ` + unlockedBadgeColumns + `
		FROM unlocked_badges
		WHERE user_id = $1 AND group_id = $2 AND badge_id = $3
	`
	row, err := scanUnlockedBadge(r.db.QueryRowContext(ctx, query, userID, groupID, badgeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBadgeNotFound
		}
		return nil, fmt.Errorf("failed to get unlocked badge: %w", err)
	}
	return row, nil
}

// MarkSeen flags the given badges as seen.
func (r *UnlockedBadgesRepository) MarkSeen(ctx context.Context, userID, groupID uuid.UUID, badgeIDs []string) error {
	if len(badgeIDs) == 0 {
		return nil
	}
	query := `
		UPDATE unlocked_badges
		SET seen = TRUE
		WHERE user_id = $1 AND group_id = $2 AND badge_id = ANY($3)
	`
	if _, err := r.db.ExecContext(ctx, query, userID, groupID, pq.Array(badgeIDs)); err != nil {
		return fmt.Errorf("failed to mark badges seen: %w", err)
	}
	return nil
}

// ListByMembership lists a user's unlocked badges in a group in unlock order.
func (r *UnlockedBadgesRepository) ListByMembership(ctx context.Context, userID, groupID uuid.UUID) ([]*domain.UnlockedBadge, error) {
	query := `
		SELECT ` + unlockedBadgeColumns + `
		FROM unlocked_badges
		WHERE user_id = $1 AND group_id = $2
		ORDER BY unlocked_at, badge_id
	`
	rows, err := r.db.QueryContext(ctx, query, userID, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlocked badges: %w", err)
	}
	defer rows.Close()

	var badges []*domain.UnlockedBadge
	for rows.Next() {
		b, err := scanUnlockedBadge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unlocked badge: %w", err)
		}
		badges = append(badges, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list unlocked badges: %w", err)
	}
	return badges, nil
}
