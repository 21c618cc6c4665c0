package catalog

import (
	"net/http"

	"github.com/tendant/simple-stars/internal/httputil"
	"github.com/tendant/simple-stars/pkg/domain"
	"github.com/tendant/simple-stars/pkg/progress"
)

// Handler serves the static stage and badge catalog.
type Handler struct {
	catalog *progress.Catalog
}

// NewHandler creates a new catalog handler.
func NewHandler(catalog *progress.Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// Response is the catalog as returned by the API.
type Response struct {
	Stages  []progress.Stage `json:"stages"`
	Badges  []domain.Badge   `json:"badges"`
	Ceiling int              `json:"milestone_stars"`
}

// Get returns the catalog.
// GET /v1/catalog
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, Response{
		Stages:  h.catalog.Stages(),
		Badges:  h.catalog.Badges(),
		Ceiling: h.catalog.Ceiling(),
	})
}
