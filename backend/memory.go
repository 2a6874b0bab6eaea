// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daniella307307/true-realm-sub001/remote"
)

// MemoryRepository keeps everything in process memory. It backs
// `fieldsync serve --memory` and handler tests.
type MemoryRepository struct {
	mu      sync.Mutex
	subs    []remote.RemoteSubmission
	catalog Catalog
	now     func() time.Time
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{now: time.Now, catalog: Catalog{Locations: map[string][]remote.LocationDTO{}}}
}

func (m *MemoryRepository) Ping(context.Context) error { return nil }

func (m *MemoryRepository) ListSubmissions(_ context.Context, userID string) ([]remote.RemoteSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []remote.RemoteSubmission
	for _, s := range m.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryRepository) CreateSubmission(_ context.Context, userID string, in remote.SubmissionUpload) (remote.SubmissionAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if in.LocalID != "" {
		for _, s := range m.subs {
			if s.UserID == userID && s.LocalID == in.LocalID {
				return remote.SubmissionAck{ID: s.ID, LocalID: s.LocalID, Status: remote.StDuplicate, ReceivedAt: now}, nil
			}
		}
	}
	created := in.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := in.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	s := remote.RemoteSubmission{
		ID: uuid.NewString(), LocalID: in.LocalID, UserID: userID,
		FormData: in.FormData, Answers: in.Answers, Location: in.Location,
		Synced: true, CreatedAt: created, UpdatedAt: updated,
	}
	m.subs = append(m.subs, s)
	return remote.SubmissionAck{ID: s.ID, LocalID: s.LocalID, Status: remote.StAccepted, ReceivedAt: now}, nil
}

func (m *MemoryRepository) UpdateSubmission(_ context.Context, userID, id string, in remote.SubmissionUpload) (remote.SubmissionAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	for i := range m.subs {
		s := &m.subs[i]
		if s.ID != id || s.UserID != userID {
			continue
		}
		s.FormData, s.Answers, s.Location = in.FormData, in.Answers, in.Location
		s.UpdatedAt = in.UpdatedAt
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
		s.Synced = true
		return remote.SubmissionAck{ID: id, LocalID: in.LocalID, Status: remote.StUpdated, ReceivedAt: now}, nil
	}
	return remote.SubmissionAck{}, ErrNotFound
}

// Seed appends a stored submission as-is, e.g. one another device uploaded.
func (m *MemoryRepository) Seed(s remote.RemoteSubmission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, s)
}

func (m *MemoryRepository) Projects(context.Context) ([]remote.ProjectDTO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.catalog.Projects), nil
}

func (m *MemoryRepository) Modules(context.Context) ([]remote.ModuleDTO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.catalog.Modules), nil
}

func (m *MemoryRepository) Forms(context.Context) ([]remote.FormDTO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.catalog.Forms), nil
}

func (m *MemoryRepository) Locations(_ context.Context, level string) ([]remote.LocationDTO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.catalog.Locations[level]), nil
}

func (m *MemoryRepository) Notifications(_ context.Context, userID string) ([]remote.NotificationDTO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.catalog.Notifications), nil
}

// SaveCatalog upserts c by id.
func (m *MemoryRepository) SaveCatalog(_ context.Context, c Catalog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog.Projects = upsertByID(m.catalog.Projects, c.Projects, func(p remote.ProjectDTO) string { return p.ID })
	m.catalog.Modules = upsertByID(m.catalog.Modules, c.Modules, func(x remote.ModuleDTO) string { return x.ID })
	m.catalog.Forms = upsertByID(m.catalog.Forms, c.Forms, func(f remote.FormDTO) string { return f.ID })
	m.catalog.Notifications = upsertByID(m.catalog.Notifications, c.Notifications, func(n remote.NotificationDTO) string { return n.ID })
	for level, locs := range c.Locations {
		m.catalog.Locations[level] = upsertByID(m.catalog.Locations[level], locs, func(l remote.LocationDTO) string { return l.ID })
	}
	return nil
}

func upsertByID[T any](dst, src []T, id func(T) string) []T {
	for _, item := range src {
		i := slices.IndexFunc(dst, func(x T) bool { return id(x) == id(item) })
		if i >= 0 {
			dst[i] = item
		} else {
			dst = append(dst, item)
		}
	}
	slices.SortFunc(dst, func(a, b T) int { return strings.Compare(id(a), id(b)) })
	return dst
}
