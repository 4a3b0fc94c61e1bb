// Package auth verifies HS256 bearer tokens on API routes.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// ClaimsContextKey is the echo context key holding the verified *Claims.
const ClaimsContextKey = "auth.claims"

var (
	ErrAuthDisabled = errors.New("authentication disabled")
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the verified claims of an API token.
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator signs and verifies tokens with a shared secret.
// With an empty secret every request is let through.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// GenerateToken issues a token for subject. A non-positive ttl never expires.
func (a *Authenticator) GenerateToken(subject string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject required")
	}
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate verifies the value of an Authorization header.
func (a *Authenticator) Authenticate(authHeader string) (*Claims, error) {
	if !a.Enabled() {
		return nil, ErrAuthDisabled
	}
	token, ok := strings.CutPrefix(strings.TrimSpace(authHeader), "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token with 401.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !a.Enabled() {
				return next(c)
			}
			claims, err := a.Authenticate(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required").SetInternal(err)
			}
			c.Set(ClaimsContextKey, claims)
			return next(c)
		}
	}
}

// GetClaims returns the verified claims of the request, or nil.
func GetClaims(c echo.Context) *Claims {
	claims, _ := c.Get(ClaimsContextKey).(*Claims)
	return claims
}
