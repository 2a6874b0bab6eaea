// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/daniella307307/true-realm-sub001/backend"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference REST backend",
	Long: `Run the REST backend the agent syncs against.

Submissions and reference data are stored in Postgres (--database-url).
With --memory everything lives in process memory and is lost on exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		memory, _ := cmd.Flags().GetBool("memory")
		devSignin, _ := cmd.Flags().GetBool("dev-signin")
		seed, _ := cmd.Flags().GetString("seed")

		scfg := backend.ServerConfig{
			Addr:        cfg.Server.Addr,
			DatabaseURL: cfg.Server.DatabaseURL,
			JWTSecret:   cfg.Server.JWTSecret,
			DevSignin:   devSignin,
			Logger:      logger,
		}

		var srv *backend.Server
		if memory {
			srv = backend.NewServer(backend.NewMemoryRepository(), scfg)
		} else {
			var err error
			if srv, err = backend.Setup(ctx, scfg); err != nil {
				return err
			}
		}
		defer srv.Close()

		if seed != "" {
			if err := seedCatalog(ctx, srv.Repo, seed); err != nil {
				return err
			}
		}
		return srv.ListenAndServe(ctx)
	},
}

func seedCatalog(ctx context.Context, repo backend.Repository, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var c backend.Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("parse seed %s: %w", path, err)
	}
	if err := repo.SaveCatalog(ctx, c); err != nil {
		return fmt.Errorf("save seed: %w", err)
	}
	logger.Info("Seeded reference data",
		"projects", len(c.Projects),
		"modules", len(c.Modules),
		"forms", len(c.Forms),
		"notifications", len(c.Notifications),
	)
	return nil
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", "", "listen address")
	f.String("database-url", "", "Postgres connection string")
	f.Bool("memory", false, "keep data in memory instead of Postgres")
	f.Bool("dev-signin", false, "enable POST /dev/signin for local testing")
	f.String("seed", "", "JSON file with projects, modules, forms, locations and notifications to load at startup")
}
