// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is stamped into every token.
const Issuer = "fieldsync"

var (
	ErrMissingToken = errors.New("bearer token required")
	ErrInvalidToken = errors.New("invalid token")
)

// JWTAuth signs and validates HS256 tokens.
type JWTAuth struct {
	secret []byte
	now    func() time.Time
}

// NewJWTAuth creates an authenticator for the shared secret.
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{secret: []byte(secret), now: time.Now}
}

// Claims identify a case worker on one device.
type Claims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// GenerateToken issues a token for userID on deviceID.
func (j *JWTAuth) GenerateToken(userID, deviceID string, ttl time.Duration) (string, error) {
	if userID == "" || deviceID == "" {
		return "", fmt.Errorf("%w: user and device are required", ErrInvalidToken)
	}
	now := j.now()
	claims := &Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// ValidateToken checks signature, expiry and required claims.
func (j *JWTAuth) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithTimeFunc(j.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	if claims.DeviceID == "" {
		return nil, fmt.Errorf("%w: missing did", ErrInvalidToken)
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	tok, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || tok == "" {
		return "", ErrMissingToken
	}
	return tok, nil
}

// Middleware rejects requests without a valid token and stores the caller
// identity in the request context. Rejections use the backend's JSON error
// shape with code "authentication_failed".
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := BearerToken(r)
		if err != nil {
			unauthorized(w, err.Error())
			return
		}
		claims, err := j.ValidateToken(tok)
		if err != nil {
			prefix := tok
			if len(prefix) > 20 {
				prefix = prefix[:20]
			}
			slog.Warn("JWT validation failed", "error", err, "token_prefix", prefix)
			unauthorized(w, "invalid token")
			return
		}
		ctx := WithIdentity(r.Context(), claims.Subject, claims.DeviceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication_failed", "message": msg})
}
