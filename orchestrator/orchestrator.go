// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator runs sync passes in response to connectivity changes,
// app foregrounding, a periodic timer and manual requests, one at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"golang.org/x/sync/errgroup"

	"github.com/daniella307307/true-realm-sub001/connectivity"
	"github.com/daniella307307/true-realm-sub001/submissions"
)

// Trigger names what asked for a sync pass.
type Trigger string

const (
	TriggerConnectivity Trigger = "connectivity"
	TriggerForeground   Trigger = "foreground"
	TriggerTimer        Trigger = "timer"
	TriggerManual       Trigger = "manual"
)

const (
	stateIdle    = "idle"
	stateSyncing = "syncing"
	eventBegin   = "begin"
	eventFinish  = "finish"
)

// ErrSyncInProgress is returned by SyncNow while another pass runs.
var ErrSyncInProgress = errors.New("sync already in progress")

// Syncer is the part of the submission engine a sync pass drives.
type Syncer interface {
	GetPendingChangesCount(ctx context.Context) (submissions.PendingCount, error)
	SyncPendingSubmissions(ctx context.Context) submissions.SyncResult
	FetchSurveySubmissionsFromRemote(ctx context.Context) (submissions.PullResult, error)
}

// Config controls scheduling.
type Config struct {
	Interval    time.Duration // periodic trigger while online and enabled
	Enabled     bool          // automatic triggers; manual ones always run
	SyncTimeout time.Duration // upper bound for one pass, 0 for none

	StageMetrics    StageMetricsRecorder
	LogStageTimings bool
}

// DefaultConfig returns a 30s interval with automatic sync on.
func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second, Enabled: true, SyncTimeout: 2 * time.Minute}
}

// Result describes one finished sync pass.
type Result struct {
	Trigger    Trigger
	StartedAt  time.Time
	FinishedAt time.Time
	Noop       bool // nothing was pending
	Push       submissions.SyncResult
	Pull       submissions.PullResult
	Err        error
}

// Status is the state shown to the UI.
type Status struct {
	IsSyncing      bool
	LastSyncTime   time.Time
	PendingChanges submissions.PendingCount
	LastResult     *Result
}

// Orchestrator funnels triggers into a single sync consumer.
type Orchestrator struct {
	syncer  Syncer
	monitor *connectivity.Monitor
	cfg     Config
	logger  *slog.Logger

	machine     *fsm.FSM
	transitions <-chan connectivity.Transition
	triggers    chan Trigger
	enabled     atomic.Bool
	interval    atomic.Int64
	resetc      chan struct{}

	mu        sync.RWMutex
	status    Status
	listeners map[int]func(Status)
	nextID    int
}

// New creates an orchestrator. monitor may be nil, in which case the device
// is treated as always online.
func New(syncer Syncer, monitor *connectivity.Monitor, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	o := &Orchestrator{
		syncer:    syncer,
		monitor:   monitor,
		cfg:       cfg,
		logger:    logger,
		triggers:  make(chan Trigger, 1),
		resetc:    make(chan struct{}, 1),
		listeners: make(map[int]func(Status)),
	}
	if monitor != nil {
		// Subscribed here so a transition before Run is still seen.
		o.transitions = monitor.Subscribe()
	}
	o.enabled.Store(cfg.Enabled)
	o.interval.Store(int64(cfg.Interval))
	o.machine = fsm.NewFSM(stateIdle,
		fsm.Events{
			{Name: eventBegin, Src: []string{stateIdle}, Dst: stateSyncing},
			{Name: eventFinish, Src: []string{stateSyncing}, Dst: stateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				o.setSyncing(e.Dst == stateSyncing)
			},
		},
	)
	return o
}

// SetEnabled turns automatic triggers on or off.
func (o *Orchestrator) SetEnabled(on bool) {
	if o.enabled.Swap(on) != on {
		o.logger.Info("Automatic sync toggled", "enabled", on)
	}
}

// Enabled reports whether automatic triggers are on.
func (o *Orchestrator) Enabled() bool { return o.enabled.Load() }

// SetInterval changes the periodic trigger interval.
func (o *Orchestrator) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	o.interval.Store(int64(d))
	select {
	case o.resetc <- struct{}{}:
	default:
	}
}

// Interval returns the current periodic trigger interval.
func (o *Orchestrator) Interval() time.Duration { return time.Duration(o.interval.Load()) }

// Status returns a snapshot of the sync status.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// OnStatusChange registers fn and returns a function that removes it.
// Listeners run synchronously on the sync goroutine.
func (o *Orchestrator) OnStatusChange(fn func(Status)) (remove func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) update(fn func(*Status)) {
	o.mu.Lock()
	fn(&o.status)
	snap := o.status
	ls := make([]func(Status), 0, len(o.listeners))
	for _, l := range o.listeners {
		ls = append(ls, l)
	}
	o.mu.Unlock()
	for _, l := range ls {
		l(snap)
	}
}

func (o *Orchestrator) setSyncing(on bool) {
	o.update(func(s *Status) { s.IsSyncing = on })
}

// AppForegrounded requests a pass after the app resumes.
func (o *Orchestrator) AppForegrounded() bool {
	if !o.Enabled() {
		return false
	}
	return o.enqueue(TriggerForeground)
}

// TriggerManualSync requests a pass regardless of the enabled flag.
func (o *Orchestrator) TriggerManualSync() bool {
	return o.enqueue(TriggerManual)
}

// enqueue never blocks; a trigger is dropped when one is already queued.
func (o *Orchestrator) enqueue(t Trigger) bool {
	select {
	case o.triggers <- t:
		return true
	default:
		o.logger.Debug("Sync trigger dropped", "trigger", t)
		return false
	}
}

func (o *Orchestrator) online() bool {
	return o.monitor == nil || o.monitor.IsOnline()
}

// Run feeds triggers and consumes them until ctx is done. A pass already in
// flight when ctx ends is allowed to finish.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.produce(gctx) })
	g.Go(func() error { return o.consume(gctx) })
	return g.Wait()
}

func (o *Orchestrator) produce(ctx context.Context) error {
	ticker := time.NewTicker(o.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.resetc:
			ticker.Reset(o.Interval())
		case tr := <-o.transitions:
			if tr.Online && o.Enabled() {
				o.enqueue(TriggerConnectivity)
			}
		case <-ticker.C:
			if o.Enabled() && o.online() {
				o.enqueue(TriggerTimer)
			}
		}
	}
}

func (o *Orchestrator) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-o.triggers:
			if _, err := o.SyncNow(ctx, t); err != nil && !errors.Is(err, ErrSyncInProgress) {
				o.logger.Warn("Sync pass failed", "trigger", t, "error", err)
			}
		}
	}
}

// SyncNow runs one pass on the calling goroutine. It returns
// ErrSyncInProgress when another pass holds the guard. Cancelling ctx does not
// abort the pass; only SyncTimeout bounds it.
func (o *Orchestrator) SyncNow(ctx context.Context, t Trigger) (Result, error) {
	if err := o.machine.Event(ctx, eventBegin); err != nil {
		return Result{}, ErrSyncInProgress
	}
	defer func() {
		if err := o.machine.Event(context.Background(), eventFinish); err != nil {
			o.logger.Error("Failed to leave syncing state", "error", err)
		}
	}()

	runCtx := context.WithoutCancel(ctx)
	if o.cfg.SyncTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, o.cfg.SyncTimeout)
		defer cancel()
	}

	res := o.performSync(runCtx, t)
	o.update(func(s *Status) {
		r := res
		s.LastResult = &r
		if !res.Noop && res.Err == nil {
			s.LastSyncTime = res.FinishedAt
		}
	})
	return res, res.Err
}

func (o *Orchestrator) performSync(ctx context.Context, t Trigger) (res Result) {
	res = Result{Trigger: t, StartedAt: time.Now()}
	total := o.stageStart()
	defer func() {
		res.FinishedAt = time.Now()
		o.observeStage(ctx, t, StageTotal, total, res.Push.Synced+res.Pull.Created+res.Pull.Updated, res.Err != nil)
	}()

	start := o.stageStart()
	pending, err := o.syncer.GetPendingChangesCount(ctx)
	o.observeStage(ctx, t, StageCount, start, pending.Total, err != nil)
	if err != nil {
		res.Err = fmt.Errorf("count pending: %w", err)
		return res
	}
	o.update(func(s *Status) { s.PendingChanges = pending })
	if pending.Total == 0 {
		res.Noop = true
		o.logger.Debug("Nothing to sync", "trigger", t)
		return res
	}

	o.logger.Info("Sync pass started", "trigger", t, "pending", pending.Total)

	start = o.stageStart()
	res.Push = o.syncer.SyncPendingSubmissions(ctx)
	o.observeStage(ctx, t, StagePush, start, res.Push.Synced, res.Push.Failed > 0)

	start = o.stageStart()
	res.Pull, err = o.syncer.FetchSurveySubmissionsFromRemote(ctx)
	o.observeStage(ctx, t, StagePull, start, res.Pull.Created+res.Pull.Updated, err != nil)
	if err != nil {
		// A failed pull is retried on the next trigger like a failed push.
		o.logger.Warn("Pull failed", "trigger", t, "error", err)
	}

	start = o.stageStart()
	pending, err = o.syncer.GetPendingChangesCount(ctx)
	o.observeStage(ctx, t, StageRecount, start, pending.Total, err != nil)
	if err != nil {
		res.Err = fmt.Errorf("recount pending: %w", err)
		return res
	}
	o.update(func(s *Status) { s.PendingChanges = pending })

	o.logger.Info("Sync pass finished",
		"trigger", t,
		"synced", res.Push.Synced,
		"failed", res.Push.Failed,
		"pulled", res.Pull.Created+res.Pull.Updated,
		"pending", pending.Total,
	)
	return res
}

// RefreshPending recounts pending changes without syncing.
func (o *Orchestrator) RefreshPending(ctx context.Context) (submissions.PendingCount, error) {
	pending, err := o.syncer.GetPendingChangesCount(ctx)
	if err != nil {
		return pending, err
	}
	o.update(func(s *Status) { s.PendingChanges = pending })
	return pending, nil
}
