// Package common holds helpers shared by the feature handlers.
package common

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-stars/internal/http/middleware"
	"github.com/tendant/simple-stars/internal/httputil"
	"github.com/tendant/simple-stars/pkg/domain"
)

// GroupParam is the route parameter holding the group id.
const GroupParam = "groupID"

// Membership returns the authenticated user and the group from the path. It
// writes the error reply and returns false when either is missing.
func Membership(w http.ResponseWriter, r *http.Request) (userID, groupID uuid.UUID, ok bool) {
	userID, ok = middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, uuid.Nil, false
	}
	groupID, err := uuid.Parse(chi.URLParam(r, GroupParam))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid group id")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, groupID, true
}

// WriteError maps domain errors to status codes. Anything unexpected is
// logged and reported as a 500 with the given message.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	switch {
	case errors.Is(err, domain.ErrMembershipNotFound):
		httputil.Error(w, http.StatusNotFound, "not a member of this group")
	case errors.Is(err, domain.ErrGoalNotFound):
		httputil.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyMember),
		errors.Is(err, domain.ErrActiveGoalExists),
		errors.Is(err, domain.ErrGoalAlreadyReached),
		errors.Is(err, domain.ErrOperationConflict):
		httputil.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidDelta),
		errors.Is(err, domain.ErrInvalidGoalTarget):
		httputil.Error(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error(message, "error", err)
		httputil.Error(w, http.StatusInternalServerError, message)
	}
}
