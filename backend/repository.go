// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daniella307307/true-realm-sub001/remote"
)

// ErrNotFound is returned when a submission does not exist for the caller.
var ErrNotFound = errors.New("not found")

// Catalog is a full set of reference data, used for seeding.
type Catalog struct {
	Projects      []remote.ProjectDTO             `json:"projects"`
	Modules       []remote.ModuleDTO              `json:"modules"`
	Forms         []remote.FormDTO                `json:"forms"`
	Locations     map[string][]remote.LocationDTO `json:"locations"`
	Notifications []remote.NotificationDTO        `json:"notifications"`
}

// Repository is the storage used by the HTTP handlers.
type Repository interface {
	Ping(ctx context.Context) error
	ListSubmissions(ctx context.Context, userID string) ([]remote.RemoteSubmission, error)
	// CreateSubmission is idempotent on (userID, LocalID): a repeated upload
	// returns the first id with status duplicate.
	CreateSubmission(ctx context.Context, userID string, in remote.SubmissionUpload) (remote.SubmissionAck, error)
	UpdateSubmission(ctx context.Context, userID, id string, in remote.SubmissionUpload) (remote.SubmissionAck, error)
	Projects(ctx context.Context) ([]remote.ProjectDTO, error)
	Modules(ctx context.Context) ([]remote.ModuleDTO, error)
	Forms(ctx context.Context) ([]remote.FormDTO, error)
	Locations(ctx context.Context, level string) ([]remote.LocationDTO, error)
	Notifications(ctx context.Context, userID string) ([]remote.NotificationDTO, error)
	SaveCatalog(ctx context.Context, c Catalog) error
}

// PgRepository implements Repository on a pgx pool.
type PgRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPgRepository wraps pool.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, now: time.Now}
}

func (r *PgRepository) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

func (r *PgRepository) ListSubmissions(ctx context.Context, userID string) ([]remote.RemoteSubmission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, local_id, user_id, form_data, answers, location, synced, created_at, updated_at
		FROM submissions WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (remote.RemoteSubmission, error) {
		var s remote.RemoteSubmission
		var formData, answers, loc []byte
		if err := row.Scan(&s.ID, &s.LocalID, &s.UserID, &formData, &answers, &loc, &s.Synced, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return s, err
		}
		s.FormData, s.Answers = formData, answers
		if len(loc) > 0 {
			s.Location = loc
		}
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan submissions: %w", err)
	}
	return out, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return []byte(raw)
}

func (r *PgRepository) CreateSubmission(ctx context.Context, userID string, in remote.SubmissionUpload) (remote.SubmissionAck, error) {
	now := r.now().UTC()
	created := in.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := in.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	ack := remote.SubmissionAck{LocalID: in.LocalID, Status: remote.StAccepted}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO submissions (id, user_id, local_id, form_data, answers, location, created_at, updated_at, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (user_id, local_id) WHERE local_id <> '' DO NOTHING
			RETURNING id, received_at`,
			uuid.NewString(), userID, in.LocalID, []byte(in.FormData), []byte(in.Answers), nullableJSON(in.Location),
			created, updated, now,
		).Scan(&ack.ID, &ack.ReceivedAt)
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		ack.Status = remote.StDuplicate
		return tx.QueryRow(ctx, `SELECT id, received_at FROM submissions WHERE user_id = $1 AND local_id = $2`,
			userID, in.LocalID).Scan(&ack.ID, &ack.ReceivedAt)
	})
	if err != nil {
		return remote.SubmissionAck{}, fmt.Errorf("insert submission: %w", err)
	}
	return ack, nil
}

func (r *PgRepository) UpdateSubmission(ctx context.Context, userID, id string, in remote.SubmissionUpload) (remote.SubmissionAck, error) {
	updated := in.UpdatedAt
	if updated.IsZero() {
		updated = r.now().UTC()
	}
	ack := remote.SubmissionAck{ID: id, LocalID: in.LocalID, Status: remote.StUpdated}
	err := r.pool.QueryRow(ctx, `
		UPDATE submissions
		SET form_data = $3, answers = $4, location = $5, updated_at = $6, synced = TRUE, received_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING received_at`,
		id, userID, []byte(in.FormData), []byte(in.Answers), nullableJSON(in.Location), updated,
	).Scan(&ack.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return remote.SubmissionAck{}, ErrNotFound
	}
	if err != nil {
		return remote.SubmissionAck{}, fmt.Errorf("update submission: %w", err)
	}
	return ack, nil
}

func (r *PgRepository) Projects(ctx context.Context) ([]remote.ProjectDTO, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, status, description, updated_at FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (remote.ProjectDTO, error) {
		var p remote.ProjectDTO
		err := row.Scan(&p.ID, &p.Name, &p.Status, &p.Description, &p.UpdatedAt)
		return p, err
	})
}

func (r *PgRepository) Modules(ctx context.Context) ([]remote.ModuleDTO, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, project_id, name, description, sort_order, updated_at FROM modules ORDER BY project_id, sort_order, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (remote.ModuleDTO, error) {
		var m remote.ModuleDTO
		err := row.Scan(&m.ID, &m.ProjectID, &m.Name, &m.Description, &m.SortOrder, &m.UpdatedAt)
		return m, err
	})
}

func (r *PgRepository) Forms(ctx context.Context) ([]remote.FormDTO, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, module_id, project_module_id, name, fields, total_pages, updated_at FROM forms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (remote.FormDTO, error) {
		var f remote.FormDTO
		var fields []byte
		if err := row.Scan(&f.ID, &f.ModuleID, &f.ProjectModuleID, &f.Name, &fields, &f.TotalPages, &f.UpdatedAt); err != nil {
			return f, err
		}
		if err := json.Unmarshal(fields, &f.Fields); err != nil {
			return f, fmt.Errorf("form %s fields: %w", f.ID, err)
		}
		return f, nil
	})
}

func (r *PgRepository) Locations(ctx context.Context, level string) ([]remote.LocationDTO, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, parent_id, name FROM locations WHERE level = $1 ORDER BY id`, level)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (remote.LocationDTO, error) {
		var l remote.LocationDTO
		err := row.Scan(&l.ID, &l.ParentID, &l.Name)
		return l, err
	})
}

// Notifications returns notifications addressed to userID plus broadcasts.
func (r *PgRepository) Notifications(ctx context.Context, userID string) ([]remote.NotificationDTO, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, body, kind, payload, read, created_at
		FROM notifications WHERE user_id = $1 OR user_id = '' ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (remote.NotificationDTO, error) {
		var n remote.NotificationDTO
		var payload []byte
		err := row.Scan(&n.ID, &n.Title, &n.Body, &n.Kind, &payload, &n.Read, &n.CreatedAt)
		if len(payload) > 0 {
			n.Payload = payload
		}
		return n, err
	})
}

// SaveCatalog upserts every entry of c in one transaction.
func (r *PgRepository) SaveCatalog(ctx context.Context, c Catalog) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range c.Projects {
			batch.Queue(`INSERT INTO projects (id, name, status, description, updated_at) VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, status = EXCLUDED.status,
				description = EXCLUDED.description, updated_at = EXCLUDED.updated_at`,
				p.ID, p.Name, p.Status, p.Description, p.UpdatedAt)
		}
		for _, m := range c.Modules {
			batch.Queue(`INSERT INTO modules (id, project_id, name, description, sort_order, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (id) DO UPDATE SET project_id = EXCLUDED.project_id, name = EXCLUDED.name,
				description = EXCLUDED.description, sort_order = EXCLUDED.sort_order, updated_at = EXCLUDED.updated_at`,
				m.ID, m.ProjectID, m.Name, m.Description, m.SortOrder, m.UpdatedAt)
		}
		for _, f := range c.Forms {
			fields, err := json.Marshal(f.Fields)
			if err != nil {
				return err
			}
			pages := f.TotalPages
			if pages < 1 {
				pages = 1
			}
			batch.Queue(`INSERT INTO forms (id, module_id, project_module_id, name, fields, total_pages, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (id) DO UPDATE SET module_id = EXCLUDED.module_id, project_module_id = EXCLUDED.project_module_id,
				name = EXCLUDED.name, fields = EXCLUDED.fields, total_pages = EXCLUDED.total_pages, updated_at = EXCLUDED.updated_at`,
				f.ID, f.ModuleID, f.ProjectModuleID, f.Name, fields, pages, f.UpdatedAt)
		}
		for level, locs := range c.Locations {
			for _, l := range locs {
				batch.Queue(`INSERT INTO locations (level, id, parent_id, name) VALUES ($1, $2, $3, $4)
					ON CONFLICT (level, id) DO UPDATE SET parent_id = EXCLUDED.parent_id, name = EXCLUDED.name`,
					level, l.ID, l.ParentID, l.Name)
			}
		}
		for _, n := range c.Notifications {
			created := n.CreatedAt
			if created.IsZero() {
				created = r.now().UTC()
			}
			batch.Queue(`INSERT INTO notifications (id, title, body, kind, payload, read, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, body = EXCLUDED.body, kind = EXCLUDED.kind,
				payload = EXCLUDED.payload, read = EXCLUDED.read`,
				n.ID, n.Title, n.Body, n.Kind, nullableJSON(n.Payload), n.Read, created)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
