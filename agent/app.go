// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/daniella307307/true-realm-sub001/config"
	"github.com/daniella307307/true-realm-sub001/connectivity"
	"github.com/daniella307307/true-realm-sub001/drafts"
	"github.com/daniella307307/true-realm-sub001/localstore"
	"github.com/daniella307307/true-realm-sub001/orchestrator"
	"github.com/daniella307307/true-realm-sub001/refdata"
	"github.com/daniella307307/true-realm-sub001/remote"
	"github.com/daniella307307/true-realm-sub001/submissions"
)

// App is one device installation.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	Store        *localstore.Store
	Session      *Session
	Client       *remote.Client
	Engine       *submissions.Engine
	Drafts       *drafts.Manager
	Refdata      *refdata.Cache
	Monitor      *connectivity.Monitor
	Orchestrator *orchestrator.Orchestrator
	reaper       *drafts.Reaper
}

// NewApp opens the local store and wires every component from cfg.
func NewApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := localstore.Open(cfg.Store.Path, localstore.Options{BusyTimeout: cfg.Store.BusyTimeout, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	app := &App{cfg: cfg, logger: logger, Store: store}
	if err := app.wire(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.cfg
	deviceID, err := a.Store.DeviceID(ctx)
	if err != nil {
		return fmt.Errorf("failed to read device id: %w", err)
	}

	switch {
	case cfg.Auth.Token != "":
		a.Session = NewStaticSession(cfg.Auth.UserID, deviceID, cfg.Auth.Token, a.logger)
	case cfg.Auth.JWTSecret != "" && cfg.Auth.UserID != "":
		a.Session, err = NewJWTSession(cfg.Auth.UserID, deviceID, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, a.logger)
		if err != nil {
			return err
		}
	default:
		a.logger.Warn("No credentials configured; remote calls will fail", "user_id", cfg.Auth.UserID)
		a.Session = NewStaticSession(cfg.Auth.UserID, deviceID, "", a.logger)
	}

	a.Client = remote.NewClient(cfg.API.BaseURL, a.Session.Token)
	a.Client.HTTP.Timeout = cfg.API.Timeout
	a.Client.SetLogger(a.logger)

	a.Engine = submissions.NewEngine(a.Store, a.Client, a.Session, submissions.WithLogger(a.logger))
	a.Drafts = drafts.NewManager(a.Store, drafts.WithLogger(a.logger))
	a.reaper, err = drafts.NewReaper(a.Drafts, drafts.ReaperConfig{
		Schedule:      cfg.Drafts.CleanupSchedule,
		RetentionDays: cfg.Drafts.RetentionDays,
	})
	if err != nil {
		return err
	}
	a.Refdata = refdata.NewCache(a.Store, a.Client, refdata.DefaultConfig(), a.logger)
	a.Monitor = connectivity.NewMonitor(
		connectivity.WithProber(a.Client, cfg.Sync.ProbeInterval),
		connectivity.WithLogger(a.logger),
	)
	a.Orchestrator = orchestrator.New(a.Engine, a.Monitor, orchestrator.Config{
		Interval:        cfg.Sync.Interval,
		Enabled:         cfg.Sync.Enabled,
		SyncTimeout:     cfg.Sync.Timeout,
		LogStageTimings: cfg.Sync.LogStages,
	}, a.logger)
	return nil
}

// ApplyConfig updates the settings that may change while running.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.Orchestrator.SetEnabled(cfg.Sync.Enabled)
	a.Orchestrator.SetInterval(cfg.Sync.Interval)
}

// Run starts the connectivity monitor, the sync orchestrator and the draft
// reaper, and keeps reference data fresh whenever the device comes online.
// It returns when ctx is done.
func (a *App) Run(ctx context.Context) error {
	if _, err := a.Orchestrator.RefreshPending(ctx); err != nil {
		a.logger.Warn("Failed to count pending submissions", "error", err)
	}
	transitions := a.Monitor.Subscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Monitor.Run(gctx) })
	g.Go(func() error { return a.Orchestrator.Run(gctx) })
	g.Go(func() error { return a.reaper.Run(gctx) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case tr := <-transitions:
				if !tr.Online {
					continue
				}
				if err := a.Refdata.RefreshAll(gctx); err != nil {
					a.logger.Warn("Reference data refresh incomplete", "error", err)
				}
			}
		}
	})
	a.logger.Info("Agent running", "user_id", a.Session.UserID(), "device_id", a.Session.DeviceID(), "api", a.cfg.API.BaseURL)
	return g.Wait()
}

// Autosaver returns a debounced draft writer using the configured autosave
// delay. Callers should Flush it when the form is closed.
func (a *App) Autosaver(ctx context.Context) *drafts.DebouncedSave[drafts.SaveArgs] {
	return a.Drafts.Autosaver(ctx, a.cfg.Drafts.AutosaveDelay)
}

// Stats computes per-family progress from the local submissions.
func (a *App) Stats(ctx context.Context) ([]submissions.FamilyStats, error) {
	subs, ok, err := a.Engine.LoadSubmissions(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("submissions are busy, try again")
	}
	return submissions.ComputeFamilyStats(subs, submissions.StatsConfig{
		FormsPerVisit:    a.cfg.Stats.FormsPerVisit,
		ModulesPerFamily: a.cfg.Stats.ModulesPerFamily,
	}), nil
}

// Close releases the local store.
func (a *App) Close() error {
	return a.Store.Close()
}
