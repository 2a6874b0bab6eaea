// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package agent assembles the device-side components into one running
// application: store, drafts, submissions, reference data, connectivity and
// the sync orchestrator.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daniella307307/true-realm-sub001/internal/auth"
)

// ErrNoSession is returned by Token after SignOut.
var ErrNoSession = errors.New("no active session")

// refreshMargin is how long before expiry a minted token is replaced.
const refreshMargin = 5 * time.Minute

// Session holds the signed-in case worker and supplies bearer tokens.
// With a shared secret it mints and refreshes its own HS256 tokens;
// otherwise it hands out a static token.
type Session struct {
	logger *slog.Logger
	jwt    *auth.JWTAuth
	ttl    time.Duration

	mu        sync.RWMutex
	userID    string
	deviceID  string
	token     string
	expiresAt time.Time // zero for static tokens
	active    bool
}

// NewStaticSession uses token as-is for every request.
func NewStaticSession(userID, deviceID, token string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{logger: logger, userID: userID, deviceID: deviceID, token: token, active: userID != ""}
}

// NewJWTSession mints tokens signed with secret.
func NewJWTSession(userID, deviceID, secret string, ttl time.Duration, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{logger: logger, jwt: auth.NewJWTAuth(secret), ttl: ttl}
	if err := s.SignIn(userID, deviceID); err != nil {
		return nil, err
	}
	return s, nil
}

// SignIn switches the session to userID on deviceID.
func (s *Session) SignIn(userID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID, s.deviceID = userID, deviceID
	if s.jwt != nil {
		if err := s.mintLocked(); err != nil {
			return err
		}
	}
	s.active = true
	s.logger.Info("Session started", "user_id", userID, "device_id", deviceID)
	return nil
}

// SignOut clears the session. Subsequent Token and UserID calls fail.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("Signing out", "user_id", s.userID)
	s.active = false
	s.token = ""
	s.expiresAt = time.Time{}
}

func (s *Session) mintLocked() error {
	tok, err := s.jwt.GenerateToken(s.userID, s.deviceID, s.ttl)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	s.token = tok
	s.expiresAt = time.Now().Add(s.ttl)
	return nil
}

// Token returns a bearer token, refreshing a minted one close to expiry.
func (s *Session) Token(_ context.Context) (string, error) {
	s.mu.RLock()
	active, tok, exp := s.active, s.token, s.expiresAt
	s.mu.RUnlock()
	if !active {
		return "", ErrNoSession
	}
	if s.jwt == nil || time.Now().Add(refreshMargin).Before(exp) {
		return tok, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return "", ErrNoSession
	}
	if time.Now().Add(refreshMargin).After(s.expiresAt) {
		if err := s.mintLocked(); err != nil {
			return "", fmt.Errorf("failed to refresh token: %w", err)
		}
		s.logger.Debug("Token refreshed", "expires_at", s.expiresAt.Format(time.RFC3339))
	}
	return s.token, nil
}

// UserID returns the signed-in user or "" when signed out.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active {
		return ""
	}
	return s.userID
}

// DeviceID returns the device the session was started on.
func (s *Session) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}
