// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"encoding/json"
	"time"
)

// JSON models shared by the REST client and the reference backend.

// SubmissionUpload is the body of POST and PUT /submissions.
// The owning user is taken from the bearer token, not from the body.
type SubmissionUpload struct {
	LocalID   string          `json:"local_id"`            // Device-generated id, echoed back on pulls
	FormData  json.RawMessage `json:"form_data"`           // survey_id, project_module_id, family, izucode...
	Answers   json.RawMessage `json:"answers"`             // Ordered field key -> scalar object
	Location  json.RawMessage `json:"location,omitempty"`  // Optional geographic attributes
	CreatedAt time.Time       `json:"created_at"`          // When the form was completed on the device
	UpdatedAt time.Time       `json:"updated_at,omitzero"` // Last local edit
}

// SubmissionAck is returned for an accepted push.
type SubmissionAck struct {
	ID         string    `json:"id"`                 // Server-assigned id
	LocalID    string    `json:"local_id,omitempty"` // Echo of SubmissionUpload.LocalID
	Status     string    `json:"status"`             // accepted, updated, duplicate
	ReceivedAt time.Time `json:"received_at"`
}

// RemoteSubmission is one entry of GET /submissions.
type RemoteSubmission struct {
	ID        string          `json:"id"`
	LocalID   string          `json:"local_id,omitempty"`
	UserID    string          `json:"user_id"`
	FormData  json.RawMessage `json:"form_data"`
	Answers   json.RawMessage `json:"answers"`
	Location  json.RawMessage `json:"location,omitempty"`
	Synced    bool            `json:"synced"` // false while the server still treats the copy as provisional
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SubmissionList is the body of GET /submissions.
type SubmissionList struct {
	Submissions []RemoteSubmission `json:"submissions"`
}

// ProjectDTO is a project as served by GET /projects.
type ProjectDTO struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      string     `json:"status,omitempty"`
	Description string     `json:"description,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// ModuleDTO is a module (topic area of a project).
type ModuleDTO struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	SortOrder   int        `json:"sort_order"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// FieldDTO declares one question of a form.
type FieldDTO struct {
	Name     string   `json:"name"`
	Label    string   `json:"label,omitempty"`
	Type     string   `json:"type"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
	Page     int      `json:"page,omitempty"`
}

// FormDTO is a survey/form definition.
type FormDTO struct {
	ID              string     `json:"id"`
	ModuleID        string     `json:"module_id"`
	ProjectModuleID string     `json:"project_module_id,omitempty"`
	Name            string     `json:"name"`
	Fields          []FieldDTO `json:"fields"`
	TotalPages      int        `json:"total_pages"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// LocationDTO is a node of the province/district/sector/cell/village tree.
type LocationDTO struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	Name     string `json:"name"`
}

// NotificationDTO is a message addressed to the signed-in user.
type NotificationDTO struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Body      string          `json:"body,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"created_at"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
