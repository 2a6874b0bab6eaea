// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Default retry budget for destructive operations.
const (
	DefaultLockAttempts = 10
	DefaultLockInterval = 500 * time.Millisecond
)

// OpLock serializes multi-step operations on one table. Acquisition is
// always scoped to a callback; the lock is released when the callback
// returns, whether it succeeded, failed or panicked.
type OpLock struct {
	name string
	sem  *semaphore.Weighted
	held atomic.Bool
}

func newOpLock(name string) *OpLock {
	return &OpLock{name: name, sem: semaphore.NewWeighted(1)}
}

// Name returns the resource the lock guards.
func (l *OpLock) Name() string { return l.name }

// Held reports whether an operation currently owns the lock.
func (l *OpLock) Held() bool { return l.held.Load() }

// TryWith runs fn only if the lock is free right now. Read paths use it to
// skip a cycle instead of waiting: ran is false when the lock was busy.
func (l *OpLock) TryWith(ctx context.Context, fn func(context.Context) error) (ran bool, err error) {
	if !l.sem.TryAcquire(1) {
		return false, nil
	}
	defer l.release()
	l.held.Store(true)
	return true, fn(ctx)
}

// WithRetry polls for the lock up to attempts times, interval apart. If the
// lock is never won fn is not called and ErrLockUnavailable is returned.
func (l *OpLock) WithRetry(ctx context.Context, attempts int, interval time.Duration, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultLockAttempts
	}
	for i := 0; i < attempts; i++ {
		if l.sem.TryAcquire(1) {
			defer l.release()
			l.held.Store(true)
			return fn(ctx)
		}
		if i == attempts-1 {
			break
		}
		if err := sleepWithContext(ctx, interval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrLockUnavailable, l.name, attempts)
}

// With blocks until the lock is acquired or ctx is done.
func (l *OpLock) With(ctx context.Context, fn func(context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire %s lock: %w", l.name, err)
	}
	defer l.release()
	l.held.Store(true)
	return fn(ctx)
}

func (l *OpLock) release() {
	l.held.Store(false)
	l.sem.Release(1)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
