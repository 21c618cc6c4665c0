package common

import (
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-stars/pkg/domain"
)

// MembershipResponse is a membership as returned by the API.
type MembershipResponse struct {
	UserID       uuid.UUID  `json:"user_id"`
	GroupID      uuid.UUID  `json:"group_id"`
	TotalStars   int        `json:"total_stars"`
	CurrentStage int        `json:"current_stage"`
	LastReadAt   *time.Time `json:"last_read_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewMembershipResponse converts a membership.
func NewMembershipResponse(m *domain.Membership) MembershipResponse {
	return MembershipResponse{
		UserID:       m.UserID,
		GroupID:      m.GroupID,
		TotalStars:   m.TotalStars,
		CurrentStage: m.CurrentStage,
		LastReadAt:   m.LastReadAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// GoalResponse is a goal as returned by the API.
type GoalResponse struct {
	ID               uuid.UUID  `json:"id"`
	GroupID          uuid.UUID  `json:"group_id"`
	TargetStars      int        `json:"target_stars"`
	TargetCategories []string   `json:"target_categories"`
	CurrentStars     int        `json:"current_stars"`
	Remaining        int        `json:"remaining"`
	Reward           string     `json:"reward,omitempty"`
	Completed        bool       `json:"completed"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// NewGoalResponse converts a goal. A nil goal gives nil.
func NewGoalResponse(g *domain.Goal) *GoalResponse {
	if g == nil {
		return nil
	}
	categories := g.TargetCategories
	if categories == nil {
		categories = []string{}
	}
	return &GoalResponse{
		ID:               g.ID,
		GroupID:          g.GroupID,
		TargetStars:      g.TargetStars,
		TargetCategories: categories,
		CurrentStars:     g.CurrentStars,
		Remaining:        g.Remaining(),
		Reward:           g.Reward,
		Completed:        g.Completed,
		CompletedAt:      g.CompletedAt,
		CreatedAt:        g.CreatedAt,
	}
}
