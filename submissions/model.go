// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package submissions

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/daniella307307/true-realm-sub001/localstore"
)

// UserRef is the embedded user object some clients put in form_data.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// FormData is the structured metadata of a submission.
type FormData struct {
	SurveyID        string   `json:"survey_id" validate:"required"`
	ProjectModuleID string   `json:"project_module_id" validate:"required"`
	SourceModuleID  string   `json:"source_module_id,omitempty"`
	ProjectID       string   `json:"project_id,omitempty"`
	Family          string   `json:"family" validate:"required"`
	IzuCode         string   `json:"izucode,omitempty"`
	UserID          string   `json:"user_id,omitempty"`
	User            *UserRef `json:"user,omitempty"`
}

// OwnerID resolves the owning user from user_id or the embedded user.
func (f FormData) OwnerID() string {
	if f.UserID != "" {
		return f.UserID
	}
	if f.User != nil {
		return f.User.ID
	}
	return ""
}

// SyncState is either Pending or Synced.
type SyncState interface {
	syncState()
}

// Pending is a submission the server has not acknowledged in its current
// form. PreviousRemoteID is set when a synced submission was edited locally.
type Pending struct {
	PreviousRemoteID string
	LastAttemptAt    time.Time
	LastError        string
}

func (Pending) syncState() {}

// Modified reports whether the pending change edits an acknowledged submission.
func (p Pending) Modified() bool { return p.PreviousRemoteID != "" }

// Synced is a submission acknowledged by the server. It can only be built
// with MarkSynced, which requires a remote id.
type Synced struct {
	remoteID string
	syncedAt time.Time
}

func (Synced) syncState() {}

// RemoteID is the server-assigned id.
func (s Synced) RemoteID() string { return s.remoteID }

// SyncedAt is when the acknowledgment was recorded.
func (s Synced) SyncedAt() time.Time { return s.syncedAt }

// ErrMissingRemoteID is returned by MarkSynced for an empty id.
var ErrMissingRemoteID = errors.New("synced state requires a remote id")

// MarkSynced builds the Synced state.
func MarkSynced(remoteID string, at time.Time) (Synced, error) {
	if remoteID == "" {
		return Synced{}, ErrMissingRemoteID
	}
	return Synced{remoteID: remoteID, syncedAt: at}, nil
}

// SurveySubmission is one completed form instance.
type SurveySubmission struct {
	ID        string
	FormData  FormData
	Answers   Values
	Location  Values
	Sync      SyncState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserID is the owning user.
func (s *SurveySubmission) UserID() string { return s.FormData.OwnerID() }

// IsPending reports whether the submission still needs to be pushed.
func (s *SurveySubmission) IsPending() bool {
	_, synced := s.Sync.(Synced)
	return !synced
}

// RemoteID returns the server id known for the submission, either the
// current one or the one a pending edit replaces.
func (s *SurveySubmission) RemoteID() string {
	switch st := s.Sync.(type) {
	case Synced:
		return st.remoteID
	case Pending:
		return st.PreviousRemoteID
	}
	return ""
}

// sameContent compares the user-visible payload.
func (s *SurveySubmission) sameContent(o *SurveySubmission) bool {
	a, _ := json.Marshal(s.FormData)
	b, _ := json.Marshal(o.FormData)
	return string(a) == string(b) && s.Answers.Equal(o.Answers) && s.Location.Equal(o.Location)
}

// syncData is the persisted form of SyncState.
type syncData struct {
	SyncStatus       bool       `json:"sync_status"`
	RemoteID         string     `json:"remote_id,omitempty"`
	SyncedAt         *time.Time `json:"synced_at,omitempty"`
	LastSyncAttempt  *time.Time `json:"last_sync_attempt,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	PreviousRemoteID string     `json:"previous_remote_id,omitempty"`
}

func encodeSync(s SyncState) syncData {
	switch st := s.(type) {
	case Synced:
		at := st.syncedAt
		return syncData{SyncStatus: true, RemoteID: st.remoteID, SyncedAt: &at}
	case Pending:
		d := syncData{PreviousRemoteID: st.PreviousRemoteID, LastError: st.LastError}
		if !st.LastAttemptAt.IsZero() {
			at := st.LastAttemptAt
			d.LastSyncAttempt = &at
		}
		return d
	}
	return syncData{}
}

// decodeSync maps stored flags onto a state. A row flagged as synced
// without a remote id is treated as pending.
func decodeSync(d syncData) SyncState {
	if d.SyncStatus && d.RemoteID != "" {
		var at time.Time
		if d.SyncedAt != nil {
			at = *d.SyncedAt
		}
		return Synced{remoteID: d.RemoteID, syncedAt: at}
	}
	p := Pending{PreviousRemoteID: d.PreviousRemoteID, LastError: d.LastError}
	if d.PreviousRemoteID == "" && d.RemoteID != "" {
		p.PreviousRemoteID = d.RemoteID
	}
	if d.LastSyncAttempt != nil {
		p.LastAttemptAt = *d.LastSyncAttempt
	}
	return p
}

func (s *SurveySubmission) toRow() localstore.Row {
	row := localstore.Row{
		"id":         s.ID,
		"user_id":    s.UserID(),
		"form_data":  s.FormData,
		"answers":    s.Answers,
		"sync_data":  encodeSync(s.Sync),
		"created_at": s.CreatedAt,
		"updated_at": s.UpdatedAt,
	}
	if s.Location.Len() > 0 {
		row["location"] = s.Location
	} else {
		row["location"] = nil
	}
	return row
}

func fromRow(row localstore.Row) (*SurveySubmission, error) {
	s := &SurveySubmission{
		ID:        row.String("id"),
		CreatedAt: row.Time("created_at"),
		UpdatedAt: row.Time("updated_at"),
	}
	if err := row.JSON("form_data", &s.FormData); err != nil {
		return nil, err
	}
	if err := row.JSON("answers", &s.Answers); err != nil {
		return nil, err
	}
	if err := row.JSON("location", &s.Location); err != nil {
		return nil, err
	}
	var sd syncData
	if err := row.JSON("sync_data", &sd); err != nil {
		return nil, err
	}
	s.Sync = decodeSync(sd)
	if s.UserID() == "" {
		return nil, fmt.Errorf("%w: submission %s has no owner", localstore.ErrCorruptRecord, s.ID)
	}
	return s, nil
}
