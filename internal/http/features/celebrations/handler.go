package celebrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tendant/simple-stars/internal/http/features/common"
	"github.com/tendant/simple-stars/internal/httputil"
	"github.com/tendant/simple-stars/pkg/celebration"
	"github.com/tendant/simple-stars/pkg/domain"
	"github.com/tendant/simple-stars/pkg/notify"
	"github.com/tendant/simple-stars/pkg/progress"
)

const (
	defaultHeartbeat = 25 * time.Second
	resumedCacheSize = 4096
)

// Sessions hands out the celebration queue of a client session.
type Sessions interface {
	Attach(sessionID string, userID uuid.UUID) (q *celebration.Queue, created bool)
}

// Service is the progression behaviour the handler needs.
type Service interface {
	Snapshot(ctx context.Context, userID, groupID uuid.UUID) (*progress.Snapshot, error)
	Resume(ctx context.Context, userID, groupID uuid.UUID, sink celebration.Sink) error
}

// Signals streams change signals.
type Signals interface {
	Stream(filter notify.Filter) notify.Subscription
}

// Handler serves the current celebration of a client session and the
// change signal stream.
type Handler struct {
	logger    *slog.Logger
	sessions  Sessions
	service   Service
	signals   Signals
	heartbeat time.Duration
	// session/group pairs whose unseen celebrations were already replayed
	resumed *lru.Cache[string, struct{}]
}

// NewHandler creates a new celebrations handler.
func NewHandler(logger *slog.Logger, sessions Sessions, service Service, signals Signals) *Handler {
	// lru.New only fails for a non-positive size.
	resumed, _ := lru.New[string, struct{}](resumedCacheSize)
	return &Handler{
		logger:    logger,
		sessions:  sessions,
		service:   service,
		signals:   signals,
		heartbeat: defaultHeartbeat,
		resumed:   resumed,
	}
}

// CurrentResponse is the celebration a session should be showing.
type CurrentResponse struct {
	Celebration *celebration.Event `json:"celebration"`
	Visible     bool               `json:"visible"`
	Pending     int                `json:"pending"`
}

// Current returns the celebration being presented to the client session
// named by the X-Client-Session header. The first call for a session and
// group replays celebrations the user has not seen yet.
// GET /v1/groups/{groupID}/celebrations/current
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := common.Membership(w, r)
	if !ok {
		return
	}
	sessionID, ok := httputil.ClientSession(r)
	if !ok {
		httputil.Error(w, http.StatusBadRequest, httputil.ClientSessionHeader+" header is required")
		return
	}

	q, created := h.sessions.Attach(sessionID, userID)
	key := sessionID + "/" + groupID.String()
	if created || !h.resumed.Contains(key) {
		if err := h.service.Resume(r.Context(), userID, groupID, q); err != nil {
			if errors.Is(err, domain.ErrMembershipNotFound) {
				common.WriteError(w, h.logger, err, "failed to resume celebrations")
				return
			}
			h.logger.Warn("failed to resume celebrations",
				"error", err,
				"user_id", userID,
				"group_id", groupID,
			)
		} else {
			h.resumed.Add(key, struct{}{})
		}
	}

	resp := CurrentResponse{Pending: q.Len()}
	if e, visible, ok := q.Current(); ok {
		resp.Celebration = &e
		resp.Visible = visible
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// Events streams the group's change signals as server-sent events. Clients
// re-fetch whatever a signal names.
// GET /v1/groups/{groupID}/events
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	userID, groupID, ok := common.Membership(w, r)
	if !ok {
		return
	}
	if _, err := h.service.Snapshot(r.Context(), userID, groupID); err != nil {
		common.WriteError(w, h.logger, err, "failed to open event stream")
		return
	}

	rc := http.NewResponseController(w)
	// The server's write timeout would cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	sub := h.signals.Stream(notify.Group(groupID))
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("event stream cannot flush", "error", err)
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case sig, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeSignal(w, sig); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeSignal(w http.ResponseWriter, sig notify.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sig.Kind, data)
	return err
}

// RegisterRoutes registers celebration routes under /v1/groups/{groupID}.
// The event stream is long-lived and is not rate limited per request.
func (h *Handler) RegisterRoutes(r chi.Router, read func(http.Handler) http.Handler) {
	r.With(read).Get("/celebrations/current", h.Current)
	r.Get("/events", h.Events)
}
