package refdata

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daniella307307/true-realm-sub001/localstore"
	"github.com/daniella307307/true-realm-sub001/remote"
)

type fakeSource struct {
	mu        sync.Mutex
	calls     map[string]int
	projects  []remote.ProjectDTO
	forms     []remote.FormDTO
	locations map[string][]remote.LocationDTO
	failLevel string
}

func newFakeSource() *fakeSource {
	return &fakeSource{calls: make(map[string]int), locations: make(map[string][]remote.LocationDTO)}
}

func (f *fakeSource) hit(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeSource) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeSource) Projects(context.Context) ([]remote.ProjectDTO, error) {
	f.hit("projects")
	return f.projects, nil
}

func (f *fakeSource) Modules(context.Context) ([]remote.ModuleDTO, error) {
	f.hit("modules")
	return []remote.ModuleDTO{
		{ID: "m1", ProjectID: "p1", Name: "Health", SortOrder: 1},
		{ID: "m2", ProjectID: "p2", Name: "Savings", SortOrder: 2},
	}, nil
}

func (f *fakeSource) Forms(context.Context) ([]remote.FormDTO, error) {
	f.hit("forms")
	return f.forms, nil
}

func (f *fakeSource) Locations(_ context.Context, level string) ([]remote.LocationDTO, error) {
	f.hit(level)
	if level == f.failLevel {
		return nil, errors.New("backend unavailable")
	}
	return f.locations[level], nil
}

func (f *fakeSource) Notifications(context.Context) ([]remote.NotificationDTO, error) {
	f.hit("notifications")
	return []remote.NotificationDTO{{
		ID: "n1", Title: "New form", Payload: json.RawMessage(`{"form":"f1"}`),
		CreatedAt: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC),
	}}, nil
}

func newTestCache(t *testing.T, src Source) (*Cache, *localstore.Store) {
	t.Helper()
	store, err := localstore.Open(":memory:", localstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	cfg := Config{LockAttempts: 3, LockInterval: 10 * time.Millisecond}
	return NewCache(store, src, cfg, nil), store
}

func TestEnsureFreshOnlyFetchesEmptyTables(t *testing.T) {
	src := newFakeSource()
	src.projects = []remote.ProjectDTO{{ID: "p1", Name: "Family Support"}}
	cache, _ := newTestCache(t, src)
	ctx := context.Background()

	refreshed, err := cache.EnsureFresh(ctx, KindProjects)
	require.NoError(t, err)
	require.True(t, refreshed)

	refreshed, err = cache.EnsureFresh(ctx, KindProjects)
	require.NoError(t, err)
	require.False(t, refreshed)
	require.Equal(t, 1, src.count("projects"))

	cache.Invalidate(KindProjects)
	src.projects = []remote.ProjectDTO{{ID: "p9", Name: "Replaced"}}
	refreshed, err = cache.EnsureFresh(ctx, KindProjects)
	require.NoError(t, err)
	require.True(t, refreshed)

	projects, err := cache.Projects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	require.Equal(t, "p9", projects[0].ID)
}

func TestFormsRoundTrip(t *testing.T) {
	src := newFakeSource()
	src.forms = []remote.FormDTO{{
		ID: "f1", ModuleID: "m1", ProjectModuleID: "pm1", Name: "Household visit", TotalPages: 3,
		Fields: []remote.FieldDTO{{Name: "head_name", Label: "Head of household", Type: "text", Required: true}},
	}}
	cache, _ := newTestCache(t, src)
	ctx := context.Background()

	require.NoError(t, cache.Refresh(ctx, KindForms))

	form, err := cache.Form(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, 3, form.TotalPages)
	require.Len(t, form.Fields, 1)
	require.True(t, form.Fields[0].Required)

	_, err = cache.Form(ctx, "missing")
	require.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestRefreshAllJoinsErrors(t *testing.T) {
	src := newFakeSource()
	src.projects = []remote.ProjectDTO{{ID: "p1", Name: "Family Support"}}
	src.locations[remote.LevelProvince] = []remote.LocationDTO{{ID: "1", Name: "Kigali"}}
	src.locations[remote.LevelDistrict] = []remote.LocationDTO{
		{ID: "11", ParentID: "1", Name: "Gasabo"},
		{ID: "21", ParentID: "2", Name: "Nyanza"},
	}
	src.failLevel = remote.LevelSector
	cache, _ := newTestCache(t, src)
	ctx := context.Background()

	err := cache.RefreshAll(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "sectors")

	districts, err := cache.Locations(ctx, remote.LevelDistrict, "1")
	require.NoError(t, err)
	require.Len(t, districts, 1)
	require.Equal(t, "Gasabo", districts[0].Name)

	modules, err := cache.Modules(ctx, "p2")
	require.NoError(t, err)
	require.Len(t, modules, 1)

	notes, err := cache.Notifications(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	require.JSONEq(t, `{"form":"f1"}`, string(notes[0].Payload))

	_, err = cache.Locations(ctx, "planet", "")
	require.Error(t, err)
}

func TestRefreshGivesUpWhenTableLocked(t *testing.T) {
	src := newFakeSource()
	src.projects = []remote.ProjectDTO{{ID: "p1", Name: "Family Support"}}
	cache, store := newTestCache(t, src)
	ctx := context.Background()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = store.Lock(localstore.TableProjects).With(ctx, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := cache.Refresh(ctx, KindProjects)
	require.ErrorIs(t, err, localstore.ErrLockUnavailable)
}
