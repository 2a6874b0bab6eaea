// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import "slices"

// Table names managed by the store.
const (
	TableSurveySubmissions = "survey_submissions"
	TableDraftSubmissions  = "draft_submissions"
	TableProjects          = "projects"
	TableModules           = "modules"
	TableSurveys           = "surveys"
	TableProvinces         = "provinces"
	TableDistricts         = "districts"
	TableSectors           = "sectors"
	TableCells             = "cells"
	TableVillages          = "villages"
	TableNotifications     = "notifications"
)

// TableSchema describes how rows of a table are encoded.
type TableSchema struct {
	Name string
	// Key is the primary key column (defaults to "id").
	Key string
	// JSONColumns hold structured values serialized as JSON text.
	JSONColumns []string
	// TimeColumns hold timestamps stored in TimeLayout.
	TimeColumns []string
	// BoolColumns are stored as 0/1 integers.
	BoolColumns []string
}

func (s TableSchema) keyColumn() string {
	if s.Key == "" {
		return "id"
	}
	return s.Key
}

func (s TableSchema) isJSON(col string) bool { return slices.Contains(s.JSONColumns, col) }
func (s TableSchema) isTime(col string) bool { return slices.Contains(s.TimeColumns, col) }
func (s TableSchema) isBool(col string) bool { return slices.Contains(s.BoolColumns, col) }

// DefaultSchemas lists every table created by the embedded migrations.
func DefaultSchemas() []TableSchema {
	location := func(name string) TableSchema { return TableSchema{Name: name} }
	return []TableSchema{
		{
			Name:        TableSurveySubmissions,
			JSONColumns: []string{"form_data", "answers", "location", "sync_data"},
			TimeColumns: []string{"created_at", "updated_at"},
		},
		{
			Name:        TableDraftSubmissions,
			JSONColumns: []string{"draft_data", "metadata"},
			TimeColumns: []string{"last_saved_at", "created_at", "updated_at"},
		},
		{Name: TableProjects, TimeColumns: []string{"updated_at"}},
		{Name: TableModules, TimeColumns: []string{"updated_at"}},
		{Name: TableSurveys, JSONColumns: []string{"fields"}, TimeColumns: []string{"updated_at"}},
		location(TableProvinces),
		location(TableDistricts),
		location(TableSectors),
		location(TableCells),
		location(TableVillages),
		{
			Name:        TableNotifications,
			JSONColumns: []string{"payload"},
			TimeColumns: []string{"created_at"},
			BoolColumns: []string{"read"},
		},
	}
}
