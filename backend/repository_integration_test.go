package backend

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/daniella307307/true-realm-sub001/remote"
)

func newPgRepository(t *testing.T) *PgRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("fieldsync_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	require.NoError(t, InitSchema(ctx, pool, logger))
	// Bootstrapping twice must be harmless.
	require.NoError(t, InitSchema(ctx, pool, logger))
	return NewPgRepository(pool)
}

func TestPgRepositorySubmissions(t *testing.T) {
	repo := newPgRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.Ping(ctx))

	up := remote.SubmissionUpload{
		LocalID:   "local-1",
		FormData:  json.RawMessage(`{"survey_id":"f1","project_module_id":"pm1","family":"fam-1"}`),
		Answers:   json.RawMessage(`{"q1":"yes","q2":2}`),
		CreatedAt: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC),
	}
	ack, err := repo.CreateSubmission(ctx, "izu-1", up)
	require.NoError(t, err)
	require.Equal(t, remote.StAccepted, ack.Status)

	dup, err := repo.CreateSubmission(ctx, "izu-1", up)
	require.NoError(t, err)
	require.Equal(t, remote.StDuplicate, dup.Status)
	require.Equal(t, ack.ID, dup.ID)

	up.Answers = json.RawMessage(`{"q1":"no"}`)
	upd, err := repo.UpdateSubmission(ctx, "izu-1", ack.ID, up)
	require.NoError(t, err)
	require.Equal(t, remote.StUpdated, upd.Status)

	_, err = repo.UpdateSubmission(ctx, "izu-2", ack.ID, up)
	require.ErrorIs(t, err, ErrNotFound)

	list, err := repo.ListSubmissions(ctx, "izu-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "local-1", list[0].LocalID)
	require.JSONEq(t, `{"q1":"no"}`, string(list[0].Answers))
	require.Nil(t, list[0].Location)
	require.True(t, list[0].Synced)
}

func TestPgRepositoryCatalog(t *testing.T) {
	repo := newPgRepository(t)
	ctx := context.Background()

	cat := Catalog{
		Projects: []remote.ProjectDTO{{ID: "p1", Name: "Family Support", Status: "active"}},
		Modules:  []remote.ModuleDTO{{ID: "m1", ProjectID: "p1", Name: "Health", SortOrder: 1}},
		Forms: []remote.FormDTO{{
			ID: "f1", ModuleID: "m1", ProjectModuleID: "pm1", Name: "Visit", TotalPages: 2,
			Fields: []remote.FieldDTO{{Name: "q1", Required: true}},
		}},
		Locations: map[string][]remote.LocationDTO{
			remote.LevelProvince: {{ID: "1", Name: "Kigali"}},
			remote.LevelDistrict: {{ID: "11", ParentID: "1", Name: "Gasabo"}},
		},
		Notifications: []remote.NotificationDTO{{ID: "n1", Title: "Welcome", Payload: json.RawMessage(`{"a":1}`)}},
	}
	require.NoError(t, repo.SaveCatalog(ctx, cat))
	require.NoError(t, repo.SaveCatalog(ctx, cat))

	forms, err := repo.Forms(ctx)
	require.NoError(t, err)
	require.Len(t, forms, 1)
	require.True(t, forms[0].Fields[0].Required)

	districts, err := repo.Locations(ctx, remote.LevelDistrict)
	require.NoError(t, err)
	require.Equal(t, "1", districts[0].ParentID)

	notes, err := repo.Notifications(ctx, "izu-1")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	require.JSONEq(t, `{"a":1}`, string(notes[0].Payload))
}
