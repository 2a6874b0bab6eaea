// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package refdata

import (
	"context"
	"fmt"
	"time"

	"github.com/daniella307307/true-realm-sub001/localstore"
	"github.com/daniella307307/true-realm-sub001/remote"
)

func optTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func rowTime(r localstore.Row, col string) *time.Time {
	t := r.Time(col)
	if t.IsZero() {
		return nil
	}
	return &t
}

func projectRow(p remote.ProjectDTO) localstore.Row {
	return localstore.Row{
		"id": p.ID, "name": p.Name, "status": p.Status,
		"description": p.Description, "updated_at": optTime(p.UpdatedAt),
	}
}

func moduleRow(m remote.ModuleDTO) localstore.Row {
	return localstore.Row{
		"id": m.ID, "project_id": m.ProjectID, "name": m.Name,
		"description": m.Description, "sort_order": m.SortOrder, "updated_at": optTime(m.UpdatedAt),
	}
}

func formRow(f remote.FormDTO) localstore.Row {
	fields := f.Fields
	if fields == nil {
		fields = []remote.FieldDTO{}
	}
	return localstore.Row{
		"id": f.ID, "module_id": f.ModuleID, "project_module_id": f.ProjectModuleID,
		"name": f.Name, "fields": fields, "total_pages": f.TotalPages, "updated_at": optTime(f.UpdatedAt),
	}
}

func locationRow(l remote.LocationDTO) localstore.Row {
	return localstore.Row{"id": l.ID, "parent_id": l.ParentID, "name": l.Name}
}

func notificationRow(n remote.NotificationDTO) localstore.Row {
	row := localstore.Row{
		"id": n.ID, "title": n.Title, "body": n.Body, "kind": n.Kind,
		"read": n.Read, "created_at": n.CreatedAt,
	}
	if len(n.Payload) > 0 {
		row["payload"] = n.Payload
	}
	return row
}

func (c *Cache) rows(ctx context.Context, kind Kind) ([]localstore.Row, error) {
	tbl, err := c.store.Table(string(kind))
	if err != nil {
		return nil, err
	}
	return tbl.GetAll(ctx)
}

// Projects returns cached projects.
func (c *Cache) Projects(ctx context.Context) ([]remote.ProjectDTO, error) {
	rows, err := c.rows(ctx, KindProjects)
	if err != nil {
		return nil, err
	}
	out := make([]remote.ProjectDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, remote.ProjectDTO{
			ID: r.String("id"), Name: r.String("name"), Status: r.String("status"),
			Description: r.String("description"), UpdatedAt: rowTime(r, "updated_at"),
		})
	}
	return out, nil
}

// Modules returns cached modules, optionally limited to one project.
func (c *Cache) Modules(ctx context.Context, projectID string) ([]remote.ModuleDTO, error) {
	rows, err := c.rows(ctx, KindModules)
	if err != nil {
		return nil, err
	}
	out := make([]remote.ModuleDTO, 0, len(rows))
	for _, r := range rows {
		if projectID != "" && r.String("project_id") != projectID {
			continue
		}
		out = append(out, remote.ModuleDTO{
			ID: r.String("id"), ProjectID: r.String("project_id"), Name: r.String("name"),
			Description: r.String("description"), SortOrder: r.Int("sort_order"), UpdatedAt: rowTime(r, "updated_at"),
		})
	}
	return out, nil
}

// Forms returns cached form definitions. Unreadable field lists are logged
// and the form skipped.
func (c *Cache) Forms(ctx context.Context) ([]remote.FormDTO, error) {
	rows, err := c.rows(ctx, KindForms)
	if err != nil {
		return nil, err
	}
	out := make([]remote.FormDTO, 0, len(rows))
	for _, r := range rows {
		f, err := formFromRow(r)
		if err != nil {
			c.logger.Warn("Skipping corrupt form", "id", r.String("id"), "error", err)
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// Form returns one cached form definition.
func (c *Cache) Form(ctx context.Context, id string) (*remote.FormDTO, error) {
	tbl, err := c.store.Table(string(KindForms))
	if err != nil {
		return nil, err
	}
	r, err := tbl.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	f, err := formFromRow(r)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func formFromRow(r localstore.Row) (remote.FormDTO, error) {
	f := remote.FormDTO{
		ID: r.String("id"), ModuleID: r.String("module_id"), ProjectModuleID: r.String("project_module_id"),
		Name: r.String("name"), TotalPages: r.Int("total_pages"), UpdatedAt: rowTime(r, "updated_at"),
	}
	if err := r.JSON("fields", &f.Fields); err != nil {
		return f, err
	}
	return f, nil
}

// Locations returns the cached nodes of one level, optionally only the
// children of parentID.
func (c *Cache) Locations(ctx context.Context, level, parentID string) ([]remote.LocationDTO, error) {
	var kind Kind
	for k, l := range levelByKind {
		if l == level {
			kind = k
		}
	}
	if kind == "" {
		return nil, fmt.Errorf("unknown location level %q", level)
	}
	rows, err := c.rows(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]remote.LocationDTO, 0, len(rows))
	for _, r := range rows {
		if parentID != "" && r.String("parent_id") != parentID {
			continue
		}
		out = append(out, remote.LocationDTO{ID: r.String("id"), ParentID: r.String("parent_id"), Name: r.String("name")})
	}
	return out, nil
}

// Notifications returns cached notifications.
func (c *Cache) Notifications(ctx context.Context) ([]remote.NotificationDTO, error) {
	rows, err := c.rows(ctx, KindNotifications)
	if err != nil {
		return nil, err
	}
	out := make([]remote.NotificationDTO, 0, len(rows))
	for _, r := range rows {
		n := remote.NotificationDTO{
			ID: r.String("id"), Title: r.String("title"), Body: r.String("body"),
			Kind: r.String("kind"), CreatedAt: r.Time("created_at"),
		}
		n.Read, _ = r["read"].(bool)
		if err := r.JSON("payload", &n.Payload); err != nil {
			c.logger.Warn("Dropping unreadable notification payload", "id", n.ID, "error", err)
		}
		out = append(out, n)
	}
	return out, nil
}
