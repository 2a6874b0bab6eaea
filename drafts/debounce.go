// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package drafts

import (
	"context"
	"sync"
	"time"
)

// DefaultDebounceDelay is the quiet period before an autosave is written.
const DefaultDebounceDelay = 1000 * time.Millisecond

// DebouncedSave collapses bursts of calls into one call of fn with the
// arguments of the last call, made once the caller has been quiet for the
// configured delay.
type DebouncedSave[T any] struct {
	fn    func(T)
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending T
	has     bool
}

// NewDebouncedSave wraps fn. A non-positive delay uses DefaultDebounceDelay.
func NewDebouncedSave[T any](fn func(T), delay time.Duration) *DebouncedSave[T] {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	return &DebouncedSave[T]{fn: fn, delay: delay}
}

// Delay returns the quiet period.
func (d *DebouncedSave[T]) Delay() time.Duration { return d.delay }

// Call records args as the latest state and restarts the quiet timer.
func (d *DebouncedSave[T]) Call(args T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = args
	d.has = true
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *DebouncedSave[T]) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.has {
		d.mu.Unlock()
		return
	}
	args := d.pending
	d.has = false
	d.mu.Unlock()
	d.fn(args)
}

// Flush runs fn immediately with pending arguments, if any.
func (d *DebouncedSave[T]) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	if !d.has {
		d.mu.Unlock()
		return
	}
	args := d.pending
	d.has = false
	d.mu.Unlock()
	d.fn(args)
}

// Stop drops pending arguments without saving them.
func (d *DebouncedSave[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.has = false
	var zero T
	d.pending = zero
}

// Pending reports whether a save is waiting for the quiet period to end.
func (d *DebouncedSave[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.has
}

// SaveArgs are the arguments of Manager.SaveDraft.
type SaveArgs struct {
	FormID      string
	UserID      string
	FormData    map[string]any
	CurrentPage int
	TotalPages  int
	FormName    string
}

// Autosaver returns a debounced SaveDraft. Save errors are logged.
func (m *Manager) Autosaver(ctx context.Context, delay time.Duration) *DebouncedSave[SaveArgs] {
	return NewDebouncedSave(func(a SaveArgs) {
		if err := m.SaveDraft(ctx, a.FormID, a.UserID, a.FormData, a.CurrentPage, a.TotalPages, a.FormName); err != nil {
			m.logger.Error("Autosave failed", "form_id", a.FormID, "user_id", a.UserID, "error", err)
		}
	}, delay)
}
