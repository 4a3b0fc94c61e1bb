package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	a := NewAuthenticator("s3cret")
	valid, err := a.GenerateToken("ops", time.Hour)
	require.NoError(t, err)
	expired, err := a.GenerateToken("ops", -time.Hour)
	require.NoError(t, err)
	past := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	stale, err := jwt.NewWithClaims(jwt.SigningMethodHS256, past).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	foreign, err := NewAuthenticator("other").GenerateToken("ops", time.Hour)
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		wantErr error
		subject string
	}{
		{name: "valid", header: "Bearer " + valid, subject: "ops"},
		{name: "non-positive ttl never expires", header: "Bearer " + expired, subject: "ops"},
		{name: "expired", header: "Bearer " + stale, wantErr: ErrInvalidToken},
		{name: "missing header", header: "", wantErr: ErrMissingToken},
		{name: "wrong scheme", header: "Basic abc", wantErr: ErrMissingToken},
		{name: "wrong secret", header: "Bearer " + foreign, wantErr: ErrInvalidToken},
		{name: "other algorithm", header: "Bearer " + hs512, wantErr: ErrInvalidToken},
		{name: "garbage", header: "Bearer not.a.jwt", wantErr: ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := a.Authenticate(tt.header)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.subject, claims.Subject)
		})
	}
}

func TestGenerateTokenDisabled(t *testing.T) {
	_, err := NewAuthenticator("").GenerateToken("ops", time.Hour)
	assert.ErrorIs(t, err, ErrAuthDisabled)

	_, err = NewAuthenticator("x").GenerateToken(" ", time.Hour)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	serve := func(a *Authenticator, header string) (*httptest.ResponseRecorder, *Claims) {
		e := echo.New()
		var seen *Claims
		e.GET("/v1/stats", func(c echo.Context) error {
			seen = GetClaims(c)
			return c.NoContent(http.StatusOK)
		}, a.Middleware())
		req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
		if header != "" {
			req.Header.Set(echo.HeaderAuthorization, header)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec, seen
	}

	t.Run("disabled lets everything through", func(t *testing.T) {
		rec, claims := serve(NewAuthenticator(""), "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Nil(t, claims)
	})

	a := NewAuthenticator("s3cret")
	t.Run("missing token", func(t *testing.T) {
		rec, _ := serve(a, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("valid token", func(t *testing.T) {
		token, err := a.GenerateToken("ops", time.Minute)
		require.NoError(t, err)
		rec, claims := serve(a, "Bearer "+token)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, claims)
		assert.Equal(t, "ops", claims.Subject)
	})
}
