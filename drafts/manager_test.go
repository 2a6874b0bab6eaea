package drafts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daniella307307/true-realm-sub001/localstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *localstore.Store, *fakeClock) {
	t.Helper()
	store, err := localstore.Open(":memory:", localstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	clock := &fakeClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	return NewManager(store, WithClock(clock.Now)), store, clock
}

func TestProgress(t *testing.T) {
	require.Equal(t, 0, Progress(0, 0))
	require.Equal(t, 33, Progress(0, 3))
	require.Equal(t, 67, Progress(1, 3))
	require.Equal(t, 100, Progress(2, 3))
	require.Equal(t, 100, Progress(9, 3))
	require.Equal(t, "draft_2:f1_u1", DraftID("f1", "u1"))
}

func TestSaveDraftIsIdempotentUpsert(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()
	firstSave := clock.Now()

	require.NoError(t, m.SaveDraft(ctx, "f1", "u1", map[string]any{"name": "Alice"}, 0, 4, "Household visit"))
	clock.Advance(5 * time.Minute)
	require.NoError(t, m.SaveDraft(ctx, "f1", "u1", map[string]any{"name": "Alicia", "age": 31}, 2, 4, "Household visit"))

	count, err := store.MustTable(localstore.TableDraftSubmissions).Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	d, err := m.LoadDraft(ctx, "f1", "u1")
	require.NoError(t, err)
	require.NotNil(t, d)
	require.True(t, firstSave.Equal(d.CreatedAt))
	require.True(t, firstSave.Equal(d.Metadata.StartedAt))
	require.True(t, clock.Now().Equal(d.UpdatedAt))
	require.Equal(t, "Alicia", d.DraftData["name"])
	require.Equal(t, 2, d.LastPage)
	require.Equal(t, 75, d.ProgressPercentage)
	require.Equal(t, "Household visit", d.Metadata.FormName)
}

func TestSaveDraftIgnoresEmptyData(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SaveDraft(ctx, "f1", "u1", nil, 0, 2, "Form"))
	require.NoError(t, m.SaveDraft(ctx, "f1", "u1", map[string]any{}, 0, 2, "Form"))

	count, err := store.MustTable(localstore.TableDraftSubmissions).Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	require.NoError(t, m.SaveDraft(ctx, "f1", "u1", map[string]any{"a": 1}, 0, 2, "Form"))
	require.NoError(t, m.SaveDraft(ctx, "f1", "u1", map[string]any{}, 1, 2, "Form"))

	d, err := m.LoadDraft(ctx, "f1", "u1")
	require.NoError(t, err)
	require.Equal(t, 0, d.LastPage)
	require.EqualValues(t, 1, d.DraftData["a"])
}

func TestLoadAndDeleteDraft(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	d, err := m.LoadDraft(ctx, "f1", "u1")
	require.NoError(t, err)
	require.Nil(t, d)

	require.NoError(t, m.SaveDraft(ctx, "f1", "u1", map[string]any{"a": 1}, 0, 1, "Form"))
	require.NoError(t, m.DeleteDraft(ctx, "f1", "u1"))
	require.NoError(t, m.DeleteDraft(ctx, "f1", "u1"))

	d, err = m.LoadDraft(ctx, "f1", "u1")
	require.NoError(t, err)
	require.Nil(t, d)
}

func TestDraftsOfLookalikePairsStaySeparate(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	require.NotEqual(t, DraftID("form_1", "alice"), DraftID("form", "1_alice"))
	require.NoError(t, m.SaveDraft(ctx, "form_1", "alice", map[string]any{"q": "alice-answer"}, 0, 2, "Form"))
	require.NoError(t, m.SaveDraft(ctx, "form", "1_alice", map[string]any{"q": "other-answer"}, 0, 2, "Form"))

	d, err := m.LoadDraft(ctx, "form_1", "alice")
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Equal(t, "alice-answer", d.DraftData["q"])

	d, err = m.LoadDraft(ctx, "form", "1_alice")
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Equal(t, "other-answer", d.DraftData["q"])

	count, err := store.MustTable(localstore.TableDraftSubmissions).Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestLoadDraftIgnoresRowOwnedByAnotherUser(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SaveDraft(ctx, "f1", "u1", map[string]any{"a": 1}, 0, 1, "Form"))
	_, err := store.DB.Exec(`UPDATE draft_submissions SET user_id = 'u9' WHERE id = ?`, DraftID("f1", "u1"))
	require.NoError(t, err)

	d, err := m.LoadDraft(ctx, "f1", "u1")
	require.NoError(t, err)
	require.Nil(t, d)
}

func TestGetAllUserDrafts(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SaveDraft(ctx, "f1", "u1", map[string]any{"a": 1}, 0, 1, "Form 1"))
	require.NoError(t, m.SaveDraft(ctx, "f2", "u1", map[string]any{"b": 2}, 0, 1, "Form 2"))
	require.NoError(t, m.SaveDraft(ctx, "f1", "u2", map[string]any{"c": 3}, 0, 1, "Form 1"))

	_, err := store.DB.Exec(`UPDATE draft_submissions SET draft_data = 'oops' WHERE id = ?`, DraftID("f2", "u1"))
	require.NoError(t, err)

	drafts, err := m.GetAllUserDrafts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	require.Equal(t, "f1", drafts[0].FormID)

	d, err := m.LoadDraft(ctx, "f2", "u1")
	require.NoError(t, err)
	require.Nil(t, d)
}

func TestCleanupOldDraftsRetention(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SaveDraft(ctx, "old", "u1", map[string]any{"a": 1}, 0, 1, "Old"))
	clock.Advance(30 * 24 * time.Hour)
	require.NoError(t, m.SaveDraft(ctx, "recent", "u1", map[string]any{"a": 1}, 0, 1, "Recent"))
	clock.Advance(10 * 24 * time.Hour)

	require.Equal(t, 1, m.CleanupOldDrafts(ctx, 30))

	drafts, err := m.GetAllUserDrafts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	require.Equal(t, "recent", drafts[0].FormID)

	require.Equal(t, 0, m.CleanupOldDrafts(ctx, 30))
}

func TestCleanupOldDraftsReturnsZeroOnStorageFailure(t *testing.T) {
	m, store, _ := newTestManager(t)
	require.NoError(t, store.Close())
	require.Equal(t, 0, m.CleanupOldDrafts(context.Background(), 30))
}

func TestNewReaperRejectsBadSchedule(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := NewReaper(m, ReaperConfig{Schedule: "not a schedule", RetentionDays: 30})
	require.Error(t, err)

	r, err := NewReaper(m, DefaultReaperConfig())
	require.NoError(t, err)
	require.NotNil(t, r)
}
