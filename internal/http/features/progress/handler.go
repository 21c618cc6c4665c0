package progress

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-stars/internal/http/features/common"
	"github.com/tendant/simple-stars/internal/httputil"
	"github.com/tendant/simple-stars/pkg/celebration"
	"github.com/tendant/simple-stars/pkg/domain"
	"github.com/tendant/simple-stars/pkg/progress"
)

// Service is the progression behaviour the handler needs.
type Service interface {
	Join(ctx context.Context, userID, groupID uuid.UUID) (*progress.Snapshot, error)
	Leave(ctx context.Context, userID, groupID uuid.UUID) error
	Snapshot(ctx context.Context, userID, groupID uuid.UUID) (*progress.Snapshot, error)
	ApplyDelta(ctx context.Context, userID, groupID uuid.UUID, delta int, operationID string, sink celebration.Sink) (*progress.Outcome, error)
	TriggerReset(ctx context.Context, userID, groupID uuid.UUID) (*domain.Membership, error)
	MarkRead(ctx context.Context, userID, groupID uuid.UUID) error
	Standings(ctx context.Context, userID, groupID uuid.UUID) ([]*domain.Membership, error)
	UnlockedBadges(ctx context.Context, userID, groupID uuid.UUID) ([]*domain.UnlockedBadge, error)
	Catalog() *progress.Catalog
}

// SinkFunc returns where celebrations for a user go.
type SinkFunc func(userID uuid.UUID) celebration.Sink

// Handler handles membership and star endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
	sinks   SinkFunc
}

// NewHandler creates a new progress handler.
func NewHandler(logger *slog.Logger, service Service, sinks SinkFunc) *Handler {
	return &Handler{
		logger:  logger,
		service: service,
		sinks:   sinks,
	}
}

// SnapshotResponse is a membership with its stage progress.
type SnapshotResponse struct {
	Membership    common.MembershipResponse `json:"membership"`
	Progress      progress.StageProgress    `json:"progress"`
	CurrentBadges []domain.Badge            `json:"current_badges"`
}

func newSnapshotResponse(s *progress.Snapshot) SnapshotResponse {
	badges := s.CurrentBadges
	if badges == nil {
		badges = []domain.Badge{}
	}
	return SnapshotResponse{
		Membership:    common.NewMembershipResponse(s.Membership),
		Progress:      s.Progress,
		CurrentBadges: badges,
	}
}

// StarsRequest represents a star delta request.
type StarsRequest struct {
	Delta int `json:"delta"`
}

// StarsResponse is the outcome of a star delta.
type StarsResponse struct {
	TotalStars    int                    `json:"total_stars"`
	PreviousTotal int                    `json:"previous_total"`
	Stage         int                    `json:"stage"`
	Replayed      bool                   `json:"replayed"`
	Progress      progress.StageProgress `json:"progress"`
	Badges        []domain.Badge         `json:"badges"`
	StageUp       bool                   `json:"stage_up"`
	Milestone     bool                   `json:"milestone"`
}

// UnlockedBadgeResponse is an earned badge.
type UnlockedBadgeResponse struct {
	domain.Badge
	UnlockedAt time.Time `json:"unlocked_at"`
	Seen       bool      `json:"seen"`
}

// BadgesResponse lists earned badges next to the full catalog.
type BadgesResponse struct {
	Unlocked []UnlockedBadgeResponse `json:"unlocked"`
	Catalog  []domain.Badge          `json:"catalog"`
}

// Join makes the caller a member of the group.
// POST /v1/groups/{groupID}/join
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := common.Membership(w, r)
	if !ok {
		return
	}

	snap, err := h.service.Join(r.Context(), userID, groupID)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to join group")
		return
	}

	httputil.JSON(w, http.StatusOK, newSnapshotResponse(snap))
}

// Leave removes the caller's membership.
// DELETE /v1/groups/{groupID}/membership
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := common.Membership(w, r)
	if !ok {
		return
	}

	if err := h.service.Leave(r.Context(), userID, groupID); err != nil {
		common.WriteError(w, h.logger, err, "failed to leave group")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Progress returns the caller's membership and stage progress.
// GET /v1/groups/{groupID}/progress
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := common.Membership(w, r)
	if !ok {
		return
	}

	snap, err := h.service.Snapshot(r.Context(), userID, groupID)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to load progress")
		return
	}

	httputil.JSON(w, http.StatusOK, newSnapshotResponse(snap))
}

// ApplyStars adds or removes stars. An Idempotency-Key header makes the
// request safe to retry.
// POST /v1/groups/{groupID}/stars
func (h *Handler) ApplyStars(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := common.Membership(w, r)
	if !ok {
		return
	}

	var req StarsRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Delta == 0 {
		httputil.Error(w, http.StatusBadRequest, domain.ErrInvalidDelta.Error())
		return
	}

	var opID string
	if key := httputil.IdempotencyKey(r); key != "" {
		opID = domain.ScopedOperationID("http", domain.MembershipKey{UserID: userID, GroupID: groupID}, key)
	}

	out, err := h.service.ApplyDelta(r.Context(), userID, groupID, req.Delta, opID, h.sinks(userID))
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to apply stars")
		return
	}

	badges := out.Badges
	if badges == nil {
		badges = []domain.Badge{}
	}
	httputil.JSON(w, http.StatusOK, StarsResponse{
		TotalStars:    out.Change.Total,
		PreviousTotal: out.Change.PreviousTotal,
		Stage:         out.Change.Stage,
		Replayed:      out.Change.Replayed,
		Progress:      out.Progress,
		Badges:        badges,
		StageUp:       out.StageUp,
		Milestone:     out.Milestone,
	})
}

// Reset zeroes the caller's progress in the group.
// POST /v1/groups/{groupID}/reset
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := common.Membership(w, r)
	if !ok {
		return
	}

	m, err := h.service.TriggerReset(r.Context(), userID, groupID)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to reset progress")
		return
	}

	httputil.JSON(w, http.StatusOK, common.NewMembershipResponse(m))
}

// MarkRead records that the caller looked at the group.
// POST /v1/groups/{groupID}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := common.Membership(w, r)
	if !ok {
		return
	}

	if err := h.service.MarkRead(r.Context(), userID, groupID); err != nil {
		common.WriteError(w, h.logger, err, "failed to mark group read")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Members lists the group's members by stars.
// GET /v1/groups/{groupID}/members
func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := common.Membership(w, r)
	if !ok {
		return
	}

	members, err := h.service.Standings(r.Context(), userID, groupID)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to list members")
		return
	}

	resp := make([]common.MembershipResponse, len(members))
	for i, m := range members {
		resp[i] = common.NewMembershipResponse(m)
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"members": resp})
}

// Badges lists the caller's earned badges and the catalog.
// GET /v1/groups/{groupID}/badges
func (h *Handler) Badges(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := common.Membership(w, r)
	if !ok {
		return
	}

	rows, err := h.service.UnlockedBadges(r.Context(), userID, groupID)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to list badges")
		return
	}

	catalog := h.service.Catalog()
	unlocked := make([]UnlockedBadgeResponse, 0, len(rows))
	for _, row := range rows {
		badge, ok := catalog.Badge(row.BadgeID)
		if !ok {
			// Retired from the catalog.
			continue
		}
		unlocked = append(unlocked, UnlockedBadgeResponse{
			Badge:      badge,
			UnlockedAt: row.UnlockedAt,
			Seen:       row.Seen,
		})
	}

	httputil.JSON(w, http.StatusOK, BadgesResponse{
		Unlocked: unlocked,
		Catalog:  catalog.Badges(),
	})
}
