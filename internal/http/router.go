package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/tendant/simple-stars/internal/config"
	"github.com/tendant/simple-stars/internal/http/features/catalog"
	"github.com/tendant/simple-stars/internal/http/features/celebrations"
	"github.com/tendant/simple-stars/internal/http/features/common"
	"github.com/tendant/simple-stars/internal/http/features/goals"
	"github.com/tendant/simple-stars/internal/http/features/progress"
	"github.com/tendant/simple-stars/internal/http/features/tasks"
	"github.com/tendant/simple-stars/internal/http/middleware"
	"github.com/tendant/simple-stars/internal/httputil"
	"github.com/tendant/simple-stars/pkg/celebration"
	"github.com/tendant/simple-stars/pkg/notify"
	pkgprogress "github.com/tendant/simple-stars/pkg/progress"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger          *slog.Logger
	Progression     *pkgprogress.Progression
	Hub             *celebration.Hub
	Bus             *notify.Bus
	Tokens          middleware.TokenValidator
	RateLimitConfig config.RateLimitConfig
	SecurityHeaders config.SecurityHeadersConfig
	Validation      config.ValidationConfig
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.Validation.MaxRequestBodySize))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)
	write, read := rateLimiters[middleware.LimitWrite], rateLimiters[middleware.LimitRead]

	sinks := func(userID uuid.UUID) celebration.Sink { return cfg.Hub.Sink(userID) }

	catalogHandler := catalog.NewHandler(cfg.Progression.Catalog())
	r.With(read).Get("/v1/catalog", catalogHandler.Get)

	progressHandler := progress.NewHandler(cfg.Logger, cfg.Progression, sinks)
	goalsHandler := goals.NewHandler(cfg.Logger, cfg.Progression, sinks)
	tasksHandler := tasks.NewHandler(cfg.Logger, cfg.Progression, sinks)
	celebrationsHandler := celebrations.NewHandler(cfg.Logger, cfg.Hub, cfg.Progression, cfg.Bus)

	r.Route("/v1/groups/{"+common.GroupParam+"}", func(r chi.Router) {
		// Authenticate before rate limiting so limits apply per user.
		r.Use(middleware.Auth(cfg.Tokens))
		progressHandler.RegisterRoutes(r, write, read)
		goalsHandler.RegisterRoutes(r, write, read)
		tasksHandler.RegisterRoutes(r, write)
		celebrationsHandler.RegisterRoutes(r, read)
	})

	return r
}
