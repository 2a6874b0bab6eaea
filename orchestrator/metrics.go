// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"time"
)

const (
	StageCount   = "count"
	StagePush    = "push"
	StagePull    = "pull"
	StageRecount = "recount"
	StageTotal   = "total"
)

// StageTiming is one measured step of a sync pass.
type StageTiming struct {
	Trigger  Trigger
	Stage    string
	Duration time.Duration
	Count    int
	Error    bool
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

func (o *Orchestrator) stageTimingEnabled() bool {
	return o.cfg.StageMetrics != nil || o.cfg.LogStageTimings
}

func (o *Orchestrator) stageStart() time.Time {
	if !o.stageTimingEnabled() {
		return time.Time{}
	}
	return time.Now()
}

func (o *Orchestrator) observeStage(ctx context.Context, trig Trigger, stage string, start time.Time, count int, hadError bool) {
	if start.IsZero() {
		return
	}
	timing := StageTiming{
		Trigger:  trig,
		Stage:    stage,
		Duration: time.Since(start),
		Count:    count,
		Error:    hadError,
	}
	if o.cfg.StageMetrics != nil {
		o.cfg.StageMetrics.ObserveStage(ctx, timing)
	}
	if o.cfg.LogStageTimings {
		o.logger.Debug("Sync stage timing",
			"trigger", timing.Trigger,
			"stage", timing.Stage,
			"duration", timing.Duration,
			"count", timing.Count,
			"error", timing.Error,
		)
	}
}
