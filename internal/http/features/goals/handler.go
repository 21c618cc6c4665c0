package goals

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-stars/internal/http/features/common"
	"github.com/tendant/simple-stars/internal/httputil"
	"github.com/tendant/simple-stars/pkg/celebration"
	"github.com/tendant/simple-stars/pkg/domain"
	"github.com/tendant/simple-stars/pkg/progress"
)

const (
	maxRewardLen     = 200
	maxCategories    = 50
	maxHistoryLimit  = 100
	defaultHistLimit = 20
)

// Service is the goal behaviour the handler needs.
type Service interface {
	CreateGoal(ctx context.Context, userID, groupID uuid.UUID, targetStars int, categories []string, reward string) (*domain.Goal, error)
	ActiveGoal(ctx context.Context, userID, groupID uuid.UUID) (*domain.Goal, error)
	GoalHistory(ctx context.Context, userID, groupID uuid.UUID, limit int) ([]*domain.Goal, error)
	UpdateGoalProgress(ctx context.Context, userID, groupID uuid.UUID, categoryID string, stars int, sink celebration.Sink) (*progress.GoalUpdate, error)
}

// Handler handles goal endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
	sinks   func(userID uuid.UUID) celebration.Sink
}

// NewHandler creates a new goal handler.
func NewHandler(logger *slog.Logger, service Service, sinks func(userID uuid.UUID) celebration.Sink) *Handler {
	return &Handler{
		logger:  logger,
		service: service,
		sinks:   sinks,
	}
}

// CreateRequest represents a new goal.
type CreateRequest struct {
	TargetStars      int      `json:"target_stars"`
	TargetCategories []string `json:"target_categories"`
	Reward           string   `json:"reward"`
}

// ProgressRequest credits stars to the active goal.
type ProgressRequest struct {
	CategoryID string `json:"category_id"`
	Stars      int    `json:"stars"`
}

// GoalEnvelope wraps an optional goal.
type GoalEnvelope struct {
	Goal *common.GoalResponse `json:"goal"`
}

// ProgressResponse is the outcome of a goal progress update.
type ProgressResponse struct {
	Goal      *common.GoalResponse `json:"goal"`
	Counted   bool                 `json:"counted"`
	Completed bool                 `json:"completed"`
}

// Get returns the caller's active goal, or null.
// GET /v1/groups/{groupID}/goal
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := common.Membership(w, r)
	if !ok {
		return
	}

	g, err := h.service.ActiveGoal(r.Context(), userID, groupID)
	if err != nil && !errors.Is(err, domain.ErrGoalNotFound) {
		common.WriteError(w, h.logger, err, "failed to load goal")
		return
	}

	httputil.JSON(w, http.StatusOK, GoalEnvelope{Goal: common.NewGoalResponse(g)})
}

// Create starts a goal.
// POST /v1/groups/{groupID}/goal
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := common.Membership(w, r)
	if !ok {
		return
	}

	var req CreateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.TargetStars <= 0 {
		httputil.Error(w, http.StatusBadRequest, domain.ErrInvalidGoalTarget.Error())
		return
	}
	if len(req.TargetCategories) > maxCategories {
		httputil.Error(w, http.StatusBadRequest, "too many target categories")
		return
	}
	reward := httputil.CleanText(req.Reward)
	if err := httputil.ValidateStringLength("reward", reward, 0, maxRewardLen); err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	g, err := h.service.CreateGoal(r.Context(), userID, groupID, req.TargetStars, req.TargetCategories, reward)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to create goal")
		return
	}

	httputil.JSON(w, http.StatusCreated, GoalEnvelope{Goal: common.NewGoalResponse(g)})
}

// Progress credits stars in a category to the active goal.
// POST /v1/groups/{groupID}/goal/progress
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := common.Membership(w, r)
	if !ok {
		return
	}

	var req ProgressRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Stars <= 0 {
		httputil.Error(w, http.StatusBadRequest, "stars must be positive")
		return
	}

	upd, err := h.service.UpdateGoalProgress(r.Context(), userID, groupID, req.CategoryID, req.Stars, h.sinks(userID))
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to update goal")
		return
	}

	httputil.JSON(w, http.StatusOK, ProgressResponse{
		Goal:      common.NewGoalResponse(upd.Goal),
		Counted:   upd.Counted,
		Completed: upd.Completed,
	})
}

// History lists the caller's goals, newest first.
// GET /v1/groups/{groupID}/goals?limit=n
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := common.Membership(w, r)
	if !ok {
		return
	}

	limit := defaultHistLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	goals, err := h.service.GoalHistory(r.Context(), userID, groupID, limit)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to list goals")
		return
	}

	resp := make([]*common.GoalResponse, len(goals))
	for i, g := range goals {
		resp[i] = common.NewGoalResponse(g)
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"goals": resp})
}

// RegisterRoutes registers goal routes under /v1/groups/{groupID}.
func (h *Handler) RegisterRoutes(r chi.Router, write, read func(http.Handler) http.Handler) {
	r.With(read).Get("/goal", h.Get)
	r.With(read).Get("/goals", h.History)
	r.With(write).Post("/goal", h.Create)
	r.With(write).Post("/goal/progress", h.Progress)
}
