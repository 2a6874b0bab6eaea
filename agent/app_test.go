package agent

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daniella307307/true-realm-sub001/backend"
	"github.com/daniella307307/true-realm-sub001/config"
	"github.com/daniella307307/true-realm-sub001/drafts"
	"github.com/daniella307307/true-realm-sub001/internal/auth"
	"github.com/daniella307307/true-realm-sub001/orchestrator"
	"github.com/daniella307307/true-realm-sub001/remote"
	"github.com/daniella307307/true-realm-sub001/submissions"
)

const secret = "shared-secret"

func newTestApp(t *testing.T) (*App, *backend.MemoryRepository) {
	t.Helper()
	repo := backend.NewMemoryRepository()
	require.NoError(t, repo.SaveCatalog(context.Background(), backend.Catalog{
		Projects: []remote.ProjectDTO{{ID: "p1", Name: "Family Support"}},
		Forms:    []remote.FormDTO{{ID: "f1", ModuleID: "m1", ProjectModuleID: "pm1", Name: "Visit", Fields: []remote.FieldDTO{{Name: "q1", Required: true}}}},
	}))
	srv := httptest.NewServer(backend.NewHandlers(repo, auth.NewJWTAuth(secret), nil).Router())
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.API.BaseURL = srv.URL
	cfg.Auth.UserID = "izu-1"
	cfg.Auth.JWTSecret = secret
	cfg.Store.Path = filepath.Join(t.TempDir(), "agent.db")
	cfg.Sync.Interval = time.Hour

	app, err := NewApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app, repo
}

func TestAppSyncsFinalizedDraft(t *testing.T) {
	app, repo := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, app.Refdata.RefreshAll(ctx))
	form, err := app.Refdata.Form(ctx, "f1")
	require.NoError(t, err)

	require.NoError(t, app.Drafts.SaveDraft(ctx, "f1", "izu-1", map[string]any{"q1": "yes"}, 0, 1, "Visit"))
	_, err = app.Engine.FinalizeDraft(ctx, *form, submissions.NewSubmission{
		FormData: submissions.FormData{Family: "fam-1"},
		Answers:  submissions.NewValues("q1", "yes"),
	}, app.Drafts)
	require.NoError(t, err)

	draft, err := app.Drafts.LoadDraft(ctx, "f1", "izu-1")
	require.NoError(t, err)
	require.Nil(t, draft)

	res, err := app.Orchestrator.SyncNow(ctx, orchestrator.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 1, res.Push.Synced)
	require.Zero(t, app.Orchestrator.Status().PendingChanges.Total)

	stored, err := repo.ListSubmissions(ctx, "izu-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)

	stats, err := app.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, "fam-1", stats[0].Family)
}

func TestAppAutosaverUsesConfiguredDelay(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := context.Background()
	app.cfg.Drafts.AutosaveDelay = time.Hour

	save := app.Autosaver(ctx)
	require.Equal(t, time.Hour, save.Delay())

	save.Call(drafts.SaveArgs{FormID: "f1", UserID: "izu-1", FormData: map[string]any{"q1": "no"}, TotalPages: 2, FormName: "Visit"})
	save.Call(drafts.SaveArgs{FormID: "f1", UserID: "izu-1", FormData: map[string]any{"q1": "yes"}, CurrentPage: 1, TotalPages: 2, FormName: "Visit"})
	d, err := app.Drafts.LoadDraft(ctx, "f1", "izu-1")
	require.NoError(t, err)
	require.Nil(t, d)

	save.Flush()
	d, err = app.Drafts.LoadDraft(ctx, "f1", "izu-1")
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Equal(t, "yes", d.DraftData["q1"])
	require.Equal(t, 100, d.ProgressPercentage)
}

func TestAppRunStopsOnCancel(t *testing.T) {
	app, _ := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- app.Run(ctx) }()

	require.Eventually(t, app.Monitor.IsOnline, 2*time.Second, 10*time.Millisecond)

	cfg := config.Default()
	cfg.Sync.Enabled = false
	cfg.Sync.Interval = 5 * time.Second
	app.ApplyConfig(&cfg)
	require.False(t, app.Orchestrator.Enabled())
	require.Equal(t, 5*time.Second, app.Orchestrator.Interval())

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
