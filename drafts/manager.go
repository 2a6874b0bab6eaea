// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package drafts persists in-progress form state so a case worker can
// resume a form after the app restarts.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/daniella307307/true-realm-sub001/localstore"
)

// DefaultRetentionDays is used by CleanupOldDrafts when no window is given.
const DefaultRetentionDays = 30

// Metadata describes the form a draft belongs to.
type Metadata struct {
	FormName   string    `json:"form_name"`
	TotalPages int       `json:"total_pages"`
	StartedAt  time.Time `json:"started_at"`
}

// DraftSubmission is the saved state of a partially filled form.
type DraftSubmission struct {
	ID                 string
	FormID             string
	UserID             string
	DraftData          map[string]any
	LastSavedAt        time.Time
	LastPage           int
	ProgressPercentage int
	Metadata           Metadata
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DraftID is the storage key of the draft for (formID, userID). The form id
// is length-prefixed so distinct pairs never share a key.
func DraftID(formID, userID string) string {
	return "draft_" + strconv.Itoa(len(formID)) + ":" + formID + "_" + userID
}

// Progress returns round((currentPage+1)/totalPages*100), clamped to 0..100.
func Progress(currentPage, totalPages int) int {
	if totalPages <= 0 || currentPage < 0 {
		return 0
	}
	p := int(math.Round(float64(currentPage+1) / float64(totalPages) * 100))
	return min(p, 100)
}

// Manager reads and writes drafts in the local store.
type Manager struct {
	table  localstore.Records
	lock   *localstore.OpLock
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager creates a draft manager backed by the draft_submissions table.
func NewManager(store *localstore.Store, opts ...Option) *Manager {
	tbl := store.MustTable(localstore.TableDraftSubmissions)
	m := &Manager{
		table:  tbl,
		lock:   tbl.Lock(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SaveDraft upserts the draft for (formID, userID). Empty form data is not
// stored: the call logs a warning and returns nil. On update the original
// created_at and started_at are kept.
func (m *Manager) SaveDraft(ctx context.Context, formID, userID string, formData map[string]any, currentPage, totalPages int, formName string) error {
	if len(formData) == 0 {
		m.logger.Warn("Ignoring draft save with empty form data", "form_id", formID, "user_id", userID)
		return nil
	}
	if formID == "" || userID == "" {
		return fmt.Errorf("draft requires form and user ids")
	}

	id := DraftID(formID, userID)
	now := m.now()
	row := localstore.Row{
		"form_id":             formID,
		"user_id":             userID,
		"draft_data":          formData,
		"last_saved_at":       now,
		"last_page":           currentPage,
		"progress_percentage": Progress(currentPage, totalPages),
		"updated_at":          now,
	}

	return m.lock.With(ctx, func(ctx context.Context) error {
		existing, err := m.table.Get(ctx, id)
		switch {
		case err == nil:
			startedAt := now
			var prev Metadata
			if err := existing.JSON("metadata", &prev); err == nil && !prev.StartedAt.IsZero() {
				startedAt = prev.StartedAt
			}
			row["metadata"] = Metadata{FormName: formName, TotalPages: totalPages, StartedAt: startedAt}
			if _, err := m.table.Update(ctx, id, row); err != nil {
				return fmt.Errorf("failed to update draft %s: %w", id, err)
			}
		case errors.Is(err, localstore.ErrNotFound):
			row["id"] = id
			row["created_at"] = now
			row["metadata"] = Metadata{FormName: formName, TotalPages: totalPages, StartedAt: now}
			if err := m.table.Create(ctx, row); err != nil {
				return fmt.Errorf("failed to create draft %s: %w", id, err)
			}
		case errors.Is(err, localstore.ErrCorruptRecord):
			// Replace the unreadable row wholesale.
			m.logger.Warn("Overwriting corrupt draft", "id", id, "error", err)
			if err := m.table.Delete(ctx, id); err != nil {
				return err
			}
			row["id"] = id
			row["created_at"] = now
			row["metadata"] = Metadata{FormName: formName, TotalPages: totalPages, StartedAt: now}
			if err := m.table.Create(ctx, row); err != nil {
				return fmt.Errorf("failed to create draft %s: %w", id, err)
			}
		default:
			return fmt.Errorf("failed to load draft %s: %w", id, err)
		}
		m.logger.Debug("Draft saved", "id", id, "page", currentPage, "total_pages", totalPages)
		return nil
	})
}

// LoadDraft returns the draft for (formID, userID) or nil if there is none.
// An unreadable draft is logged and reported as absent.
func (m *Manager) LoadDraft(ctx context.Context, formID, userID string) (*DraftSubmission, error) {
	id := DraftID(formID, userID)
	row, err := m.table.Get(ctx, id)
	if err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return nil, nil
		}
		if errors.Is(err, localstore.ErrCorruptRecord) {
			m.logger.Warn("Skipping corrupt draft", "id", id, "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load draft %s: %w", id, err)
	}
	d, err := fromRow(row)
	if err != nil {
		m.logger.Warn("Skipping corrupt draft", "id", id, "error", err)
		return nil, nil
	}
	if d.FormID != formID || d.UserID != userID {
		m.logger.Warn("Draft key does not match its owner", "id", id, "form_id", d.FormID, "user_id", d.UserID)
		return nil, nil
	}
	return d, nil
}

// DeleteDraft removes the draft for (formID, userID). Deleting a missing
// draft succeeds.
func (m *Manager) DeleteDraft(ctx context.Context, formID, userID string) error {
	id := DraftID(formID, userID)
	return m.lock.With(ctx, func(ctx context.Context) error {
		return m.table.Delete(ctx, id)
	})
}

// GetAllUserDrafts returns every readable draft owned by userID.
func (m *Manager) GetAllUserDrafts(ctx context.Context, userID string) ([]DraftSubmission, error) {
	rows, err := m.table.Find(ctx, "user_id", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	out := make([]DraftSubmission, 0, len(rows))
	for _, row := range rows {
		d, err := fromRow(row)
		if err != nil {
			m.logger.Warn("Skipping corrupt draft", "id", row.String("id"), "error", err)
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

// CleanupOldDrafts deletes drafts not updated within daysOld days and
// returns how many were removed. Failures are logged and reported as 0.
func (m *Manager) CleanupOldDrafts(ctx context.Context, daysOld int) int {
	if daysOld <= 0 {
		daysOld = DefaultRetentionDays
	}
	cutoff := m.now().AddDate(0, 0, -daysOld)

	var deleted int64
	err := m.lock.With(ctx, func(ctx context.Context) error {
		n, err := m.table.DeleteWhere(ctx, "updated_at", "<", cutoff)
		deleted = n
		return err
	})
	if err != nil {
		m.logger.Error("Draft cleanup failed", "days_old", daysOld, "error", err)
		return 0
	}
	if deleted > 0 {
		m.logger.Info("Old drafts removed", "count", deleted, "days_old", daysOld)
	}
	return int(deleted)
}

func fromRow(row localstore.Row) (*DraftSubmission, error) {
	d := &DraftSubmission{
		ID:                 row.String("id"),
		FormID:             row.String("form_id"),
		UserID:             row.String("user_id"),
		LastSavedAt:        row.Time("last_saved_at"),
		LastPage:           row.Int("last_page"),
		ProgressPercentage: row.Int("progress_percentage"),
		CreatedAt:          row.Time("created_at"),
		UpdatedAt:          row.Time("updated_at"),
	}
	if err := row.JSON("draft_data", &d.DraftData); err != nil {
		return nil, err
	}
	if err := row.JSON("metadata", &d.Metadata); err != nil {
		return nil, err
	}
	return d, nil
}
