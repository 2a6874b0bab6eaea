// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package connectivity tracks whether the backend is reachable and tells
// subscribers when the device comes back online.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultProbeInterval is how often the health prober checks the backend.
const DefaultProbeInterval = 15 * time.Second

// Transition is one change of online state.
type Transition struct {
	Online bool
	At     time.Time
}

// Prober reports whether the backend answers. *remote.Client satisfies it
// through its Health method.
type Prober interface {
	Health(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Health(ctx context.Context) error { return f(ctx) }

// Monitor holds the current online state. The zero state is offline.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	online bool
	since  time.Time
	subs   []chan Transition
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithProber enables health polling in Run.
func WithProber(p Prober, interval time.Duration) Option {
	return func(m *Monitor) {
		m.prober = p
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor creates an offline monitor.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		interval: DefaultProbeInterval,
		timeout:  5 * time.Second,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// IsOnline reports the last known state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe returns a channel that receives every state change. The channel
// is buffered; a subscriber that falls behind misses transitions rather than
// stalling the monitor.
func (m *Monitor) Subscribe() <-chan Transition {
	ch := make(chan Transition, 4)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// SetOnline records an externally observed state. It returns true when the
// state changed.
func (m *Monitor) SetOnline(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	m.since = time.Now()
	tr := Transition{Online: online, At: m.since}
	subs := append([]chan Transition(nil), m.subs...)
	m.mu.Unlock()

	m.logger.Info("Connectivity changed", "online", online)
	for _, ch := range subs {
		select {
		case ch <- tr:
		default:
			m.logger.Debug("Dropping connectivity transition for slow subscriber")
		}
	}
	return true
}

// Probe runs one health check and updates the state.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.prober == nil {
		return m.IsOnline()
	}
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.prober.Health(pctx)
	if err != nil && ctx.Err() == nil {
		m.logger.Debug("Health probe failed", "error", err)
	}
	online := err == nil
	m.SetOnline(online)
	return online
}

// Run polls the prober until ctx is done. Without a prober it just waits.
func (m *Monitor) Run(ctx context.Context) error {
	if m.prober == nil {
		<-ctx.Done()
		return nil
	}
	m.Probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
