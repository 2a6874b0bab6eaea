// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daniella307307/true-realm-sub001/internal/auth"
)

// ServerConfig holds configuration for the server
type ServerConfig struct {
	Addr        string
	DatabaseURL string
	JWTSecret   string
	DevSignin   bool
	Logger      *slog.Logger
}

// Server holds the initialized server components
type Server struct {
	Pool    *pgxpool.Pool
	Repo    Repository
	JWTAuth *auth.JWTAuth
	Handler http.Handler
	Logger  *slog.Logger
	addr    string
}

// Setup connects to Postgres, bootstraps the schema and builds the router.
func Setup(ctx context.Context, cfg ServerConfig) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := InitSchema(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}

	srv := NewServer(NewPgRepository(pool), cfg)
	srv.Pool = pool
	return srv, nil
}

// NewServer builds a server around an existing repository. Setup uses it for
// Postgres; the memory repository goes through it directly.
func NewServer(repo Repository, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	secret := cfg.JWTSecret
	if secret == "" {
		secret = "change-me"
		logger.Warn("Using default JWT secret - change in production!")
	}
	jwtAuth := auth.NewJWTAuth(secret)
	h := NewHandlers(repo, jwtAuth, logger)
	h.DevSignin = cfg.DevSignin

	return &Server{
		Repo:    repo,
		JWTAuth: jwtAuth,
		Handler: h.Router(),
		Logger:  logger,
		addr:    cfg.Addr,
	}
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.Logger.Info("Backend listening", "addr", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close releases the database pool.
func (s *Server) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}
