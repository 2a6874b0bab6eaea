// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package drafts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ReaperConfig controls the background draft cleanup job.
type ReaperConfig struct {
	Schedule      string        // cron schedule, e.g. "15 2 * * *"
	RetentionDays int           // drafts idle longer than this are removed
	Timeout       time.Duration // upper bound of one cleanup run
}

// DefaultReaperConfig runs nightly with a 30 day retention window.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Schedule:      "15 2 * * *",
		RetentionDays: DefaultRetentionDays,
		Timeout:       time.Minute,
	}
}

// Reaper periodically calls CleanupOldDrafts. Overlapping runs are skipped.
type Reaper struct {
	mgr    *Manager
	cfg    ReaperConfig
	cron   *cron.Cron
	logger *slog.Logger
}

// NewReaper schedules cleanup for mgr. The job does not run until Run.
func NewReaper(mgr *Manager, cfg ReaperConfig) (*Reaper, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	r := &Reaper{
		mgr:    mgr,
		cfg:    cfg,
		logger: mgr.logger,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
	}
	if _, err := r.cron.AddFunc(cfg.Schedule, r.runOnce); err != nil {
		return nil, fmt.Errorf("invalid draft cleanup schedule %q: %w", cfg.Schedule, err)
	}
	return r, nil
}

func (r *Reaper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()
	n := r.mgr.CleanupOldDrafts(ctx, r.cfg.RetentionDays)
	r.logger.Debug("Draft cleanup run finished", "deleted", n, "retention_days", r.cfg.RetentionDays)
}

// Run starts the scheduler and blocks until ctx is done, then waits for a
// running job to finish.
func (r *Reaper) Run(ctx context.Context) error {
	r.cron.Start()
	r.logger.Info("Draft cleanup scheduled", "schedule", r.cfg.Schedule, "retention_days", r.cfg.RetentionDays)
	<-ctx.Done()
	<-r.cron.Stop().Done()
	return nil
}
