package middleware

import (
	"fmt"
	"net/http"

	"github.com/tendant/simple-stars/internal/config"
)

type header struct{ name, value string }

// SecurityHeaders creates middleware that applies OWASP-recommended security
// headers. Empty settings are skipped.
func SecurityHeaders(cfg config.SecurityHeadersConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	var headers []header
	add := func(name, value string) {
		if value != "" {
			headers = append(headers, header{name, value})
		}
	}
	add("Content-Security-Policy", cfg.CSP)
	if cfg.HSTSMaxAge > 0 {
		add("Strict-Transport-Security", fmt.Sprintf("max-age=%d; includeSubDomains", cfg.HSTSMaxAge))
	}
	add("X-Frame-Options", cfg.FrameOptions)
	add("X-Content-Type-Options", cfg.ContentTypeOptions)
	add("X-XSS-Protection", cfg.XSSProtection)
	add("Referrer-Policy", cfg.ReferrerPolicy)
	add("Permissions-Policy", cfg.PermissionsPolicy)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, hdr := range headers {
				h.Set(hdr.name, hdr.value)
			}
			// Progress and celebrations change every request.
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
