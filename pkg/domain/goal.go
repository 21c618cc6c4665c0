package domain

import (
	"time"

	"github.com/google/uuid"
)

// Goal is a user-defined star target, optionally restricted to task categories.
type Goal struct {
	ID               uuid.UUID
	GroupID          uuid.UUID
	UserID           uuid.UUID
	TargetStars      int
	TargetCategories []string
	CurrentStars     int
	Reward           string
	Completed        bool
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Counts reports whether completions in categoryID count toward the goal.
// An empty category list means every category counts.
func (g *Goal) Counts(categoryID string) bool {
	if len(g.TargetCategories) == 0 {
		return true
	}
	for _, c := range g.TargetCategories {
		if c == categoryID {
			return true
		}
	}
	return false
}

// IsActive returns true while the goal has not been completed.
func (g *Goal) IsActive() bool {
	return !g.Completed
}

// Remaining returns the stars still needed, never below zero.
func (g *Goal) Remaining() int {
	if g.CurrentStars >= g.TargetStars {
		return 0
	}
	return g.TargetStars - g.CurrentStars
}

// Clone returns a deep copy of the goal.
func (g *Goal) Clone() *Goal {
	c := *g
	if g.TargetCategories != nil {
		c.TargetCategories = append([]string(nil), g.TargetCategories...)
	}
	if g.CompletedAt != nil {
		at := *g.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
