// Package celebration implements the per-session celebration queue.
package celebration

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tendant/simple-stars/pkg/domain"
)

// Kind is the type of a celebration.
type Kind string

const (
	KindBadge     Kind = "badge"
	KindGoal      Kind = "goal"
	KindMilestone Kind = "milestone"
	KindStage     Kind = "stage"
)

// Event is a transient celebration shown to one client session.
type Event struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	GroupID uuid.UUID `json:"group_id"`
	Title   string    `json:"title"`
	Message string    `json:"message,omitempty"`

	Badge *domain.Badge `json:"badge,omitempty"`
	Goal  *domain.Goal  `json:"-"`
	Stage int           `json:"stage,omitempty"`
	Stars int           `json:"stars,omitempty"`

	// OnDismissed runs once the event has been shown and fully dismissed.
	OnDismissed func() `json:"-"`
}

// Sink accepts celebrations. Enqueue reports whether any session took the event.
type Sink interface {
	Enqueue(Event) bool
}

// Discard is a Sink that accepts nothing.
var Discard Sink = discard{}

type discard struct{}

func (discard) Enqueue(Event) bool { return false }

// BadgeUnlocked returns the celebration for a newly unlocked badge.
func BadgeUnlocked(groupID uuid.UUID, b domain.Badge) Event {
	return Event{
		ID:      "badge:" + b.ID,
		Kind:    KindBadge,
		GroupID: groupID,
		Title:   b.Name,
		Message: b.Description,
		Badge:   &b,
		Stars:   b.UnlockStars,
	}
}

// GoalCompleted returns the celebration for a goal reaching its target.
func GoalCompleted(g *domain.Goal) Event {
	msg := fmt.Sprintf("You reached %d stars!", g.TargetStars)
	if g.Reward != "" {
		msg = fmt.Sprintf("You reached %d stars! Reward: %s", g.TargetStars, g.Reward)
	}
	return Event{
		ID:      GoalEventID(g.ID),
		Kind:    KindGoal,
		GroupID: g.GroupID,
		Title:   "Goal complete",
		Message: msg,
		Goal:    g,
		Stars:   g.CurrentStars,
	}
}

// GoalEventID is the celebration id of a goal completion.
func GoalEventID(goalID uuid.UUID) string {
	return "goal:" + goalID.String()
}

// StageReached returns the celebration for entering a new stage.
func StageReached(groupID uuid.UUID, number int, name string) Event {
	return Event{
		ID:      fmt.Sprintf("stage:%d", number),
		Kind:    KindStage,
		GroupID: groupID,
		Title:   name,
		Message: fmt.Sprintf("You grew into a %s!", name),
		Stage:   number,
	}
}

// MilestoneReached returns the milestone celebration. onDismissed runs the reset.
func MilestoneReached(groupID uuid.UUID, stars int, onDismissed func()) Event {
	return Event{
		ID:          "milestone",
		Kind:        KindMilestone,
		GroupID:     groupID,
		Title:       "Milestone!",
		Message:     fmt.Sprintf("You collected %d stars. Time to start a new journey!", stars),
		Stars:       stars,
		OnDismissed: onDismissed,
	}
}
