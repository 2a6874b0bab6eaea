package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daniella307307/true-realm-sub001/connectivity"
	"github.com/daniella307307/true-realm-sub001/submissions"
)

type fakeSyncer struct {
	mu      sync.Mutex
	pending int
	calls   []string
	block   chan struct{}
	pullErr error
	pushes  atomic.Int32
}

func (f *fakeSyncer) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeSyncer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSyncer) GetPendingChangesCount(context.Context) (submissions.PendingCount, error) {
	f.record("count")
	f.mu.Lock()
	defer f.mu.Unlock()
	return submissions.PendingCount{Total: f.pending, NewSubmissions: f.pending}, nil
}

func (f *fakeSyncer) SyncPendingSubmissions(context.Context) submissions.SyncResult {
	f.record("push")
	f.pushes.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.pending
	f.pending = 0
	return submissions.SyncResult{Synced: n}
}

func (f *fakeSyncer) FetchSurveySubmissionsFromRemote(context.Context) (submissions.PullResult, error) {
	f.record("pull")
	return submissions.PullResult{Created: 1}, f.pullErr
}

func TestSyncNowSequence(t *testing.T) {
	syncer := &fakeSyncer{pending: 2}
	var stages []string
	cfg := DefaultConfig()
	cfg.StageMetrics = StageMetricsRecorderFunc(func(_ context.Context, st StageTiming) {
		stages = append(stages, st.Stage)
	})
	o := New(syncer, nil, cfg, nil)

	var seen []Status
	remove := o.OnStatusChange(func(s Status) { seen = append(seen, s) })
	defer remove()

	res, err := o.SyncNow(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.False(t, res.Noop)
	require.Equal(t, 2, res.Push.Synced)
	require.Equal(t, []string{"count", "push", "pull", "count"}, syncer.Calls())
	require.Equal(t, []string{StageCount, StagePush, StagePull, StageRecount, StageTotal}, stages)

	st := o.Status()
	require.False(t, st.IsSyncing)
	require.Zero(t, st.PendingChanges.Total)
	require.False(t, st.LastSyncTime.IsZero())
	require.NotNil(t, st.LastResult)

	var sawSyncing bool
	for _, s := range seen {
		sawSyncing = sawSyncing || s.IsSyncing
	}
	require.True(t, sawSyncing)
}

func TestSyncNowNoopWhenNothingPending(t *testing.T) {
	syncer := &fakeSyncer{}
	o := New(syncer, nil, DefaultConfig(), nil)

	res, err := o.SyncNow(context.Background(), TriggerTimer)
	require.NoError(t, err)
	require.True(t, res.Noop)
	require.Equal(t, []string{"count"}, syncer.Calls())
	require.True(t, o.Status().LastSyncTime.IsZero())
}

func TestPullFailureDoesNotFailPass(t *testing.T) {
	syncer := &fakeSyncer{pending: 1, pullErr: errors.New("timeout")}
	o := New(syncer, nil, DefaultConfig(), nil)

	res, err := o.SyncNow(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 1, res.Push.Synced)
}

func TestOverlappingSyncIsRejected(t *testing.T) {
	syncer := &fakeSyncer{pending: 1, block: make(chan struct{})}
	o := New(syncer, nil, DefaultConfig(), nil)

	done := make(chan struct{})
	go func() {
		_, _ = o.SyncNow(context.Background(), TriggerManual)
		close(done)
	}()
	require.Eventually(t, func() bool { return syncer.pushes.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, o.Status().IsSyncing)

	_, err := o.SyncNow(context.Background(), TriggerTimer)
	require.ErrorIs(t, err, ErrSyncInProgress)

	close(syncer.block)
	<-done
	require.False(t, o.Status().IsSyncing)
}

func TestTriggersAreDroppedWhileQueued(t *testing.T) {
	o := New(&fakeSyncer{}, nil, DefaultConfig(), nil)
	require.True(t, o.TriggerManualSync())
	require.False(t, o.TriggerManualSync())
	require.False(t, o.AppForegrounded())

	o.SetEnabled(false)
	<-o.triggers
	require.False(t, o.AppForegrounded())
	require.True(t, o.TriggerManualSync())
}

func TestRunSyncsWhenConnectivityReturns(t *testing.T) {
	syncer := &fakeSyncer{pending: 3}
	monitor := connectivity.NewMonitor()
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	o := New(syncer, monitor, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- o.Run(ctx) }()

	// Give the producer time to subscribe before flipping state.
	require.Eventually(t, func() bool {
		monitor.SetOnline(false)
		monitor.SetOnline(true)
		return syncer.pushes.Load() >= 1
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool { return !o.Status().LastSyncTime.IsZero() }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errc)
}

func TestTimerTriggersOnlyWhileOnlineAndEnabled(t *testing.T) {
	syncer := &fakeSyncer{pending: 1}
	monitor := connectivity.NewMonitor()
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	o := New(syncer, monitor, cfg, nil)
	o.SetEnabled(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = o.Run(ctx) }()

	monitor.SetOnline(true)
	time.Sleep(60 * time.Millisecond)
	require.Zero(t, syncer.pushes.Load())

	o.SetEnabled(true)
	o.SetInterval(15 * time.Millisecond)
	require.Eventually(t, func() bool { return syncer.pushes.Load() >= 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 15*time.Millisecond, o.Interval())
}

func TestConnectivityBeforeRunStillTriggers(t *testing.T) {
	syncer := &fakeSyncer{pending: 1}
	monitor := connectivity.NewMonitor()
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	o := New(syncer, monitor, cfg, nil)

	monitor.SetOnline(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = o.Run(ctx) }()

	require.Eventually(t, func() bool { return syncer.pushes.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestLastSyncTimeMatchesFinishedPass(t *testing.T) {
	o := New(&fakeSyncer{pending: 2}, nil, DefaultConfig(), nil)
	before := time.Now()

	res, err := o.SyncNow(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.False(t, res.FinishedAt.Before(before))
	require.False(t, res.FinishedAt.Before(res.StartedAt))
	require.Equal(t, res.FinishedAt, o.Status().LastSyncTime)
	require.Equal(t, res.FinishedAt, o.Status().LastResult.FinishedAt)
}
