// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package backend is a reference server for the field-data REST API. It
// stores submissions and reference data in Postgres.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InitSchema creates the backend tables if they don't exist.
func InitSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	statements := []string{
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS submissions (
			id          TEXT PRIMARY KEY,
			user_id     TEXT        NOT NULL,
			local_id    TEXT        NOT NULL DEFAULT '',
			form_data   JSONB       NOT NULL,
			answers     JSONB       NOT NULL,
			location    JSONB,
			synced      BOOLEAN     NOT NULL DEFAULT TRUE,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			received_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		/*language=postgresql*/ `CREATE UNIQUE INDEX IF NOT EXISTS submissions_user_local_idx
			ON submissions (user_id, local_id) WHERE local_id <> ''`,
		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS submissions_user_idx ON submissions (user_id, created_at)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS projects (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			updated_at  TIMESTAMPTZ
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS modules (
			id          TEXT PRIMARY KEY,
			project_id  TEXT NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			sort_order  INTEGER NOT NULL DEFAULT 0,
			updated_at  TIMESTAMPTZ
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS forms (
			id                TEXT PRIMARY KEY,
			module_id         TEXT NOT NULL REFERENCES modules (id) ON DELETE CASCADE,
			project_module_id TEXT NOT NULL DEFAULT '',
			name              TEXT NOT NULL,
			fields            JSONB NOT NULL DEFAULT '[]',
			total_pages       INTEGER NOT NULL DEFAULT 1,
			updated_at        TIMESTAMPTZ
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS locations (
			level     TEXT NOT NULL,
			id        TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			name      TEXT NOT NULL,
			PRIMARY KEY (level, id)
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL DEFAULT '',
			title      TEXT NOT NULL,
			body       TEXT NOT NULL DEFAULT '',
			kind       TEXT NOT NULL DEFAULT '',
			payload    JSONB,
			read       BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("schema statement %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	logger.Info("Backend schema ready")
	return nil
}
