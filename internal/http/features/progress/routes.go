package progress

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the membership and star routes under
// /v1/groups/{groupID}. write and read are the rate limiters for each kind
// of request.
func (h *Handler) RegisterRoutes(r chi.Router, write, read func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(write)
		r.Post("/join", h.Join)
		r.Delete("/membership", h.Leave)
		r.Post("/stars", h.ApplyStars)
		r.Post("/reset", h.Reset)
		r.Post("/read", h.MarkRead)
	})
	r.Group(func(r chi.Router) {
		r.Use(read)
		r.Get("/progress", h.Progress)
		r.Get("/members", h.Members)
		r.Get("/badges", h.Badges)
	})
}
