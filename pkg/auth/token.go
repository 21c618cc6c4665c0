// Package auth validates the access tokens issued by the identity service.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-stars/pkg/domain"
)

// DefaultAccessTokenTTL is the lifetime of tokens minted by IssueAccessToken.
const DefaultAccessTokenTTL = 15 * time.Minute

// TokenConfig holds the shared HMAC secret and expected issuer.
type TokenConfig struct {
	JWTSecret []byte
	Issuer    string
}

// AccessTokenClaims represents the claims in an access token. Subject is the
// user id.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// TokenValidator checks access tokens.
type TokenValidator struct {
	config TokenConfig
}

// NewTokenValidator creates a validator.
func NewTokenValidator(config TokenConfig) *TokenValidator {
	return &TokenValidator{config: config}
}

// ValidateAccessToken validates an access token and returns the claims.
func (v *TokenValidator) ValidateAccessToken(tokenString string) (*AccessTokenClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return v.config.JWTSecret, nil
	}, opts...)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessTokenClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrInvalidToken
	}

	return claims, nil
}

// GetUserIDFromToken extracts the user ID from an access token.
func (v *TokenValidator) GetUserIDFromToken(tokenString string) (uuid.UUID, error) {
	claims, err := v.ValidateAccessToken(tokenString)
	if err != nil {
		return uuid.Nil, err
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, domain.ErrInvalidToken
	}
	return userID, nil
}

// IssueAccessToken signs a token for userID. The identity service issues
// tokens in production; this is used by tooling and tests.
func (v *TokenValidator) IssueAccessToken(userID uuid.UUID, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	now := time.Now()
	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    v.config.Issuer,
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.config.JWTSecret)
}
