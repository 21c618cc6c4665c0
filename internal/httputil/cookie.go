package httputil

import (
	"net/http"
	"strings"
)

const (
	accessTokenCookie   = "access_token"
	clientSessionCookie = "client_session"

	// ClientSessionHeader carries the id of the client session (one per
	// device or tab) that celebrations are presented to.
	ClientSessionHeader = "X-Client-Session"

	// IdempotencyKeyHeader makes a star mutation safe to retry.
	IdempotencyKeyHeader = "Idempotency-Key"

	maxClientSessionLen = 128
)

// GetAccessTokenFromCookie extracts access token from cookie.
func GetAccessTokenFromCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(accessTokenCookie)
	if err != nil {
		return "", false
	}
	return cookie.Value, true
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// ClientSession returns the client session id from the header, falling back
// to the cookie set for web clients.
func ClientSession(r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(ClientSessionHeader))
	if id == "" {
		if cookie, err := r.Cookie(clientSessionCookie); err == nil {
			id = cookie.Value
		}
	}
	if id == "" || len(id) > maxClientSessionLen {
		return "", false
	}
	return id, true
}

// IdempotencyKey returns the request's idempotency key, if any.
func IdempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
}
