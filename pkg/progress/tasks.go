package progress

import (
	"context"

	"github.com/tendant/simple-stars/pkg/celebration"
	"github.com/tendant/simple-stars/pkg/domain"
)

// TaskResult is the outcome of handling a task completion change.
type TaskResult struct {
	Outcome *Outcome    `json:"outcome,omitempty"`
	Goal    *GoalUpdate `json:"goal,omitempty"`
}

// HandleTaskCompletion applies the stars of a task state change to the
// assignee's membership and, for a completion, to their active goal.
//
// The returned error only reflects the ledger write. Goal failures are logged
// and leave the goal as it was. Un-completing a task takes the stars back
// from the ledger but never from a goal.
func (p *Progression) HandleTaskCompletion(ctx context.Context, tc domain.TaskCompletion, sink celebration.Sink) (*TaskResult, error) {
	delta := tc.StarDelta()
	if delta == 0 {
		return &TaskResult{}, nil
	}

	var opID string
	if tc.EventID != "" {
		opID = domain.ScopedOperationID("task", domain.MembershipKey{UserID: tc.AssigneeID, GroupID: tc.GroupID}, tc.EventID)
	}
	out, err := p.ApplyDelta(ctx, tc.AssigneeID, tc.GroupID, delta, opID, sink)
	if err != nil {
		return nil, err
	}
	res := &TaskResult{Outcome: out}

	if !tc.Completed() || out.Change.Replayed {
		return res, nil
	}
	res.Goal, err = p.goals.UpdateProgress(ctx, tc.AssigneeID, tc.GroupID, tc.CategoryID, tc.StarValue, sink)
	if err != nil {
		p.logger.Warn("goal progress not recorded",
			"error", err,
			"task_id", tc.TaskID,
			"user_id", tc.AssigneeID,
			"group_id", tc.GroupID,
		)
	}
	return res, nil
}
