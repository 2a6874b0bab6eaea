package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daniella307307/true-realm-sub001/remote"
)

func TestSetOnlineBroadcastsChangesOnly(t *testing.T) {
	m := NewMonitor()
	ch := m.Subscribe()

	require.False(t, m.IsOnline())
	require.False(t, m.SetOnline(false))
	require.True(t, m.SetOnline(true))
	require.False(t, m.SetOnline(true))

	select {
	case tr := <-ch:
		require.True(t, tr.Online)
	case <-time.After(time.Second):
		t.Fatal("expected transition")
	}
	select {
	case tr := <-ch:
		t.Fatalf("unexpected transition %+v", tr)
	default:
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewMonitor()
	_ = m.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			m.SetOnline(i%2 == 0)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SetOnline blocked on a full subscriber")
	}
}

func TestProbeFollowsHealth(t *testing.T) {
	var healthy atomic.Bool
	m := NewMonitor(WithProber(ProberFunc(func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("down")
	}), time.Second))

	ctx := context.Background()
	require.False(t, m.Probe(ctx))
	healthy.Store(true)
	require.True(t, m.Probe(ctx))
	require.True(t, m.IsOnline())
}

func TestRunProbesRemoteHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, remote.PathHealth, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	client := remote.NewClient(srv.URL, nil)
	m := NewMonitor(WithProber(client, 20*time.Millisecond))
	ch := m.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()

	select {
	case tr := <-ch:
		require.True(t, tr.Online)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never went online")
	}
	cancel()
	require.NoError(t, <-errc)
}
