package domain

import "github.com/google/uuid"

// TaskCompletion is a completion state change of a task, produced by the task system.
type TaskCompletion struct {
	// EventID identifies the change event; redeliveries carry the same id.
	EventID      string    `json:"event_id,omitempty"`
	TaskID       string    `json:"task_id"`
	CategoryID   string    `json:"category_id"`
	StarValue    int       `json:"star_value"`
	AssigneeID   uuid.UUID `json:"assignee_id"`
	GroupID      uuid.UUID `json:"group_id"`
	WasCompleted bool      `json:"was_completed"`
	IsCompleted  bool      `json:"is_completed"`
}

// Completed returns true for the not-done to done transition.
func (t TaskCompletion) Completed() bool {
	return !t.WasCompleted && t.IsCompleted
}

// StarDelta returns the signed star change for the transition:
// +StarValue on completion, -StarValue on un-completion, 0 otherwise.
func (t TaskCompletion) StarDelta() int {
	switch {
	case !t.WasCompleted && t.IsCompleted:
		return t.StarValue
	case t.WasCompleted && !t.IsCompleted:
		return -t.StarValue
	default:
		return 0
	}
}
