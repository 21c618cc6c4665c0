package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tendant/simple-stars/internal/config"
)

func TestSecurityHeaders(t *testing.T) {
	full := config.SecurityHeadersConfig{
		Enabled:            true,
		CSP:                "default-src 'none'",
		HSTSMaxAge:         31536000,
		FrameOptions:       "DENY",
		ContentTypeOptions: "nosniff",
		XSSProtection:      "0",
		ReferrerPolicy:     "no-referrer",
		PermissionsPolicy:  "geolocation=()",
	}

	tests := []struct {
		name string
		cfg  config.SecurityHeadersConfig
		want map[string]string
	}{
		{
			name: "all headers",
			cfg:  full,
			want: map[string]string{
				"Content-Security-Policy":   "default-src 'none'",
				"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
				"X-Frame-Options":           "DENY",
				"X-Content-Type-Options":    "nosniff",
				"X-XSS-Protection":          "0",
				"Referrer-Policy":           "no-referrer",
				"Permissions-Policy":        "geolocation=()",
				"Cache-Control":             "no-store",
			},
		},
		{
			name: "empty values skipped",
			cfg:  config.SecurityHeadersConfig{Enabled: true, FrameOptions: "DENY"},
			want: map[string]string{
				"Content-Security-Policy":   "",
				"Strict-Transport-Security": "",
				"X-Frame-Options":           "DENY",
				"Cache-Control":             "no-store",
			},
		},
		{
			name: "disabled",
			cfg:  config.SecurityHeadersConfig{Enabled: false, CSP: "default-src 'self'"},
			want: map[string]string{
				"Content-Security-Policy": "",
				"Cache-Control":           "",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := SecurityHeaders(tt.cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/catalog", nil))

			for name, want := range tt.want {
				if got := w.Header().Get(name); got != want {
					t.Errorf("%s = %q, want %q", name, got, want)
				}
			}
		})
	}
}
