package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	a := NewJWTAuth("test-secret")
	tok, err := a.GenerateToken("izu-1", "dev-1", time.Hour)
	require.NoError(t, err)

	claims, err := a.ValidateToken(tok)
	require.NoError(t, err)
	require.Equal(t, "izu-1", claims.Subject)
	require.Equal(t, "dev-1", claims.DeviceID)
	require.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 2*time.Second)

	_, err = a.GenerateToken("", "dev-1", time.Hour)
	require.Error(t, err)
}

func TestValidateRejectsBadTokens(t *testing.T) {
	a := NewJWTAuth("test-secret")

	other, err := NewJWTAuth("other-secret").GenerateToken("izu-1", "dev-1", time.Hour)
	require.NoError(t, err)
	_, err = a.ValidateToken(other)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := a.GenerateToken("izu-1", "dev-1", -time.Minute)
	require.NoError(t, err)
	_, err = a.ValidateToken(expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	noDevice := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "izu-1", Issuer: Issuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	s, err := noDevice.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = a.ValidateToken(s)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	a := NewJWTAuth("test-secret")
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, ok := UserID(r.Context())
		require.True(t, ok)
		did, ok := DeviceID(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(uid + "/" + did))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "authentication_failed")

	tok, err := a.GenerateToken("izu-1", "dev-1", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "izu-1/dev-1", rec.Body.String())
}
