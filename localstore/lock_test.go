package localstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTryWithSkipsWhenHeld(t *testing.T) {
	l := newOpLock("survey_submissions")
	ctx := context.Background()

	release := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		_ = l.With(ctx, func(context.Context) error {
			close(acquired)
			<-release
			return nil
		})
	}()
	<-acquired
	require.True(t, l.Held())

	called := false
	ran, err := l.TryWith(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, ran)
	require.False(t, called)

	close(release)
	require.Eventually(t, func() bool { return !l.Held() }, time.Second, 5*time.Millisecond)

	ran, err = l.TryWith(ctx, func(context.Context) error { return nil })
	require.NoError(t, err)
	require.True(t, ran)
}

func TestLockReleasedOnError(t *testing.T) {
	l := newOpLock("t")
	boom := errors.New("boom")

	ran, err := l.TryWith(context.Background(), func(context.Context) error { return boom })
	require.True(t, ran)
	require.ErrorIs(t, err, boom)
	require.False(t, l.Held())

	require.NoError(t, l.WithRetry(context.Background(), 1, 0, func(context.Context) error { return nil }))
}

func TestWithRetryGivesUp(t *testing.T) {
	l := newOpLock("survey_submissions")
	ctx := context.Background()

	release := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		_ = l.With(ctx, func(context.Context) error {
			close(acquired)
			<-release
			return nil
		})
	}()
	<-acquired
	defer close(release)

	called := false
	start := time.Now()
	err := l.WithRetry(ctx, 3, 10*time.Millisecond, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrLockUnavailable)
	require.False(t, called)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWithRetryAcquiresOnceReleased(t *testing.T) {
	l := newOpLock("t")
	ctx := context.Background()

	acquired := make(chan struct{})
	go func() {
		_ = l.With(ctx, func(context.Context) error {
			close(acquired)
			time.Sleep(30 * time.Millisecond)
			return nil
		})
	}()
	<-acquired

	called := false
	err := l.WithRetry(ctx, 20, 10*time.Millisecond, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, called)
}

func TestStoreReturnsSameLockPerTable(t *testing.T) {
	s := openTestStore(t)
	require.Same(t, s.Lock(TableSurveySubmissions), s.Lock(TableSurveySubmissions))
	require.NotSame(t, s.Lock(TableSurveySubmissions), s.Lock(TableDraftSubmissions))
	require.Same(t, s.Lock(TableProjects), s.MustTable(TableProjects).Lock())
}
