package tasks

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-stars/internal/http/features/common"
	"github.com/tendant/simple-stars/internal/httputil"
	"github.com/tendant/simple-stars/pkg/celebration"
	"github.com/tendant/simple-stars/pkg/domain"
	"github.com/tendant/simple-stars/pkg/progress"
)

// Service applies task completion changes.
type Service interface {
	HandleTaskCompletion(ctx context.Context, tc domain.TaskCompletion, sink celebration.Sink) (*progress.TaskResult, error)
}

// Handler accepts task completion changes over HTTP, for task services that
// do not publish to Kafka.
type Handler struct {
	logger  *slog.Logger
	service Service
	sinks   func(userID uuid.UUID) celebration.Sink
}

// NewHandler creates a new task handler.
func NewHandler(logger *slog.Logger, service Service, sinks func(userID uuid.UUID) celebration.Sink) *Handler {
	return &Handler{
		logger:  logger,
		service: service,
		sinks:   sinks,
	}
}

// CompletionResponse reports what a task completion changed.
type CompletionResponse struct {
	Applied     bool `json:"applied"`
	Replayed    bool `json:"replayed"`
	TotalStars  int  `json:"total_stars,omitempty"`
	GoalCounted bool `json:"goal_counted"`
	GoalDone    bool `json:"goal_completed"`
}

// Complete applies a task completion change. The assignee defaults to the
// caller; the group always comes from the path.
// POST /v1/groups/{groupID}/tasks/completions
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := common.Membership(w, r)
	if !ok {
		return
	}

	var tc domain.TaskCompletion
	if !httputil.DecodeJSON(w, r, &tc) {
		return
	}
	if tc.StarValue < 0 {
		httputil.Error(w, http.StatusBadRequest, "star_value must not be negative")
		return
	}
	tc.GroupID = groupID
	if tc.AssigneeID == uuid.Nil {
		tc.AssigneeID = userID
	}
	if tc.EventID == "" {
		if key := httputil.IdempotencyKey(r); key != "" {
			tc.EventID = domain.ScopedOperationID("http", domain.MembershipKey{UserID: userID, GroupID: groupID}, key)
		}
	}

	res, err := h.service.HandleTaskCompletion(r.Context(), tc, h.sinks(tc.AssigneeID))
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to apply task completion")
		return
	}

	var resp CompletionResponse
	if res.Outcome != nil {
		resp.Applied = true
		resp.Replayed = res.Outcome.Change.Replayed
		resp.TotalStars = res.Outcome.Change.Total
	}
	if res.Goal != nil {
		resp.GoalCounted = res.Goal.Counted
		resp.GoalDone = res.Goal.Completed
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// RegisterRoutes registers task routes under /v1/groups/{groupID}.
func (h *Handler) RegisterRoutes(r chi.Router, write func(http.Handler) http.Handler) {
	r.With(write).Post("/tasks/completions", h.Complete)
}
