// Package stars provides the star progression service as a library:
// per-group star ledgers with stages, badges, goals and client celebrations.
//
// Setup:
//
//  1. Run migrations from migrations/ folder using your preferred tool
//  2. Create a Stars instance and mount its router
//
// Basic usage:
//
//	db, _ := sql.Open("postgres", "postgres://localhost/myapp?sslmode=disable")
//
//	svc, err := stars.New(ctx, stars.Config{
//	    DB:        db,
//	    JWTSecret: "the-identity-service-signing-secret",
//	})
//	if err != nil {
//	    log.Fatal(err) // Will fail if migrations haven't been run
//	}
//	defer svc.Close()
//	go svc.RunSweeper(ctx)
//
//	http.ListenAndServe(":8080", svc.Router())
//
// Access tokens are issued by the identity service; their subject is the
// user id.
package stars

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-stars/internal/config"
	httpserver "github.com/tendant/simple-stars/internal/http"
	"github.com/tendant/simple-stars/internal/http/middleware"
	"github.com/tendant/simple-stars/pkg/auth"
	"github.com/tendant/simple-stars/pkg/celebration"
	"github.com/tendant/simple-stars/pkg/notify"
	"github.com/tendant/simple-stars/pkg/progress"
	"github.com/tendant/simple-stars/pkg/repository"
)

// Config holds the configuration for the service.
type Config struct {
	// DB is the database connection (required).
	DB *sql.DB

	// JWTSecret verifies access tokens (required, min 32 chars).
	JWTSecret string

	// JWTIssuer is the expected issuer claim (default: "simple-idm").
	JWTIssuer string

	// Catalog holds stages and badges (default: the embedded catalog).
	Catalog *progress.Catalog

	// DirectorySize bounds the membership cache (default: 4096).
	DirectorySize int

	// Celebration timing. Zero values use the queue defaults.
	VisibleFor     time.Duration
	FadeFor        time.Duration
	SessionIdleTTL time.Duration

	// SweepInterval is how often idle client sessions are evicted
	// (default: 1 minute).
	SweepInterval time.Duration

	// Bus carries change signals (default: a new in-process bus).
	Bus *notify.Bus

	// HTTP settings; zero values disable rate limits and security headers.
	RateLimit       config.RateLimitConfig
	SecurityHeaders config.SecurityHeadersConfig
	Validation      config.ValidationConfig

	// Logger is the structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// Stars is a running progression service.
type Stars struct {
	config      Config
	db          *sql.DB
	bus         *notify.Bus
	hub         *celebration.Hub
	directory   *progress.Directory
	goals       *progress.GoalTracker
	progression *progress.Progression
	tokens      *auth.TokenValidator
}

// New creates a service with the given configuration.
// Returns an error if required database tables don't exist.
// Run migrations first - see migrations/ folder for SQL files.
func New(ctx context.Context, cfg Config) (*Stars, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := repository.ValidateSchema(ctx, cfg.DB); err != nil {
		return nil, fmt.Errorf("stars: %w", err)
	}

	// Initialize repositories
	membershipsRepo := repository.NewMembershipsRepository(cfg.DB)
	badgesRepo := repository.NewUnlockedBadgesRepository(cfg.DB)
	goalsRepo := repository.NewGoalsRepository(cfg.DB)

	// Initialize services
	directory, err := progress.NewDirectory(membershipsRepo, cfg.DirectorySize, cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("stars: %w", err)
	}
	ledger := progress.NewLedger(cfg.Catalog, membershipsRepo, directory, cfg.Bus, cfg.Logger)
	badges := progress.NewBadgeEngine(cfg.Catalog, badgesRepo, cfg.Bus, cfg.Logger)
	goals := progress.NewGoalTracker(goalsRepo, ledger, cfg.Bus, cfg.Logger)

	hub := celebration.NewHub(celebration.HubConfig{
		Queue: celebration.QueueConfig{
			VisibleFor: cfg.VisibleFor,
			FadeFor:    cfg.FadeFor,
		},
		IdleTTL: cfg.SessionIdleTTL,
		Logger:  cfg.Logger,
	})

	return &Stars{
		config:      cfg,
		db:          cfg.DB,
		bus:         cfg.Bus,
		hub:         hub,
		directory:   directory,
		goals:       goals,
		progression: progress.NewProgression(ledger, badges, goals, cfg.Logger),
		tokens: auth.NewTokenValidator(auth.TokenConfig{
			JWTSecret: []byte(cfg.JWTSecret),
			Issuer:    cfg.JWTIssuer,
		}),
	}, nil
}

// Router returns the HTTP API.
//
// Routes:
//
//	GET  /health
//	GET  /v1/catalog
//	POST /v1/groups/{groupID}/join                 - Join a group (protected)
//	DELETE /v1/groups/{groupID}/membership         - Leave a group (protected)
//	GET  /v1/groups/{groupID}/progress             - Stars and stage (protected)
//	POST /v1/groups/{groupID}/stars                - Apply a star delta (protected)
//	POST /v1/groups/{groupID}/reset                - Reset progress (protected)
//	GET  /v1/groups/{groupID}/badges               - Earned badges (protected)
//	GET|POST /v1/groups/{groupID}/goal             - Active goal (protected)
//	POST /v1/groups/{groupID}/goal/progress        - Credit goal stars (protected)
//	POST /v1/groups/{groupID}/tasks/completions    - Task completion change (protected)
//	GET  /v1/groups/{groupID}/celebrations/current - Session celebration (protected)
//	GET  /v1/groups/{groupID}/events               - Change signal stream (protected)
func (s *Stars) Router() http.Handler {
	return httpserver.NewRouter(httpserver.RouterConfig{
		Logger:          s.config.Logger,
		Progression:     s.progression,
		Hub:             s.hub,
		Bus:             s.bus,
		Tokens:          s.tokens,
		RateLimitConfig: s.config.RateLimit,
		SecurityHeaders: s.config.SecurityHeaders,
		Validation:      s.config.Validation,
	})
}

// Progression returns the progression service for advanced usage.
func (s *Stars) Progression() *progress.Progression {
	return s.progression
}

// Hub returns the registry of client session celebration queues.
func (s *Stars) Hub() *celebration.Hub {
	return s.hub
}

// Bus returns the change signal bus.
func (s *Stars) Bus() *notify.Bus {
	return s.bus
}

// Sink returns the celebration sink for every live session of userID.
func (s *Stars) Sink(userID uuid.UUID) celebration.Sink {
	return s.hub.Sink(userID)
}

// AuthMiddleware returns middleware that validates access tokens.
// Use this to protect your own routes:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(svc.AuthMiddleware())
//	    r.Get("/protected", handler)
//	})
func (s *Stars) AuthMiddleware() func(http.Handler) http.Handler {
	return middleware.Auth(s.tokens)
}

// GetUserIDFromContext extracts the user ID from a context.
// Use after AuthMiddleware.
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	return middleware.GetUserID(ctx)
}

// RunSweeper evicts idle client sessions until ctx is cancelled.
func (s *Stars) RunSweeper(ctx context.Context) {
	s.hub.Run(ctx, s.config.SweepInterval)
}

// Close detaches the caches from the bus. The database is left open.
func (s *Stars) Close() {
	s.goals.Close()
	s.directory.Close()
}

func validateConfig(cfg *Config) error {
	if cfg.DB == nil {
		return errors.New("stars: DB is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("stars: JWTSecret is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("stars: JWTSecret must be at least 32 characters")
	}
	if cfg.DirectorySize < 0 {
		return errors.New("stars: DirectorySize must not be negative")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "simple-idm"
	}
	if cfg.Catalog == nil {
		cfg.Catalog = progress.DefaultCatalog()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	if cfg.Bus == nil {
		cfg.Bus = notify.New(notify.WithLogger(cfg.Logger))
	}
}
