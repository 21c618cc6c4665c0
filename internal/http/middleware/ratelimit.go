package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/tendant/simple-stars/internal/config"
	"github.com/tendant/simple-stars/internal/httputil"
)

// Rate limiter names returned by CreateRateLimiters.
const (
	LimitWrite = "write"
	LimitRead  = "read"
)

// RateLimitConfig holds rate limiting configuration for a specific endpoint type.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Logger   *slog.Logger
}

// RateLimit creates a rate limiter keyed by authenticated user, or by IP for
// anonymous requests.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(userOrIPKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("rate limit exceeded",
					"ip", r.RemoteAddr,
					"path", r.URL.Path,
					"method", r.Method,
					"user_agent", r.UserAgent(),
				)
			}
			httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded. please try again later")
		}),
	)
}

func userOrIPKey(r *http.Request) (string, error) {
	if userID, ok := GetUserID(r.Context()); ok {
		return "user:" + userID.String(), nil
	}
	return httprate.KeyByIP(r)
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// CreateRateLimiters creates rate limiting middleware functions based on configuration.
func CreateRateLimiters(cfg config.RateLimitConfig, logger *slog.Logger) map[string]func(http.Handler) http.Handler {
	if !cfg.Enabled {
		noOp := NoRateLimit()
		return map[string]func(http.Handler) http.Handler{
			LimitWrite: noOp,
			LimitRead:  noOp,
		}
	}

	return map[string]func(http.Handler) http.Handler{
		LimitWrite: RateLimit(RateLimitConfig{
			Requests: cfg.WriteRequestsPerMinute,
			Window:   time.Duration(cfg.WriteWindowMinutes) * time.Minute,
			Logger:   logger,
		}),
		LimitRead: RateLimit(RateLimitConfig{
			Requests: cfg.ReadRequestsPerMinute,
			Window:   time.Duration(cfg.ReadWindowMinutes) * time.Minute,
			Logger:   logger,
		}),
	}
}
