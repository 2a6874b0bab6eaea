// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package submissions

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/daniella307307/true-realm-sub001/localstore"
	"github.com/daniella307307/true-realm-sub001/remote"
)

// NewSubmission is a completed form ready to be stored.
type NewSubmission struct {
	FormData FormData
	Answers  Values
	Location Values
}

// DraftRemover deletes the draft a submission was finalized from.
type DraftRemover interface {
	DeleteDraft(ctx context.Context, formID, userID string) error
}

// ValidateAnswers checks answer keys against the form's declared fields.
// Every key must be declared, every answer must be a scalar and every
// required field must have a non-empty answer.
func ValidateAnswers(answers Values, fields []remote.FieldDTO) error {
	declared := make([]string, 0, len(fields))
	for _, f := range fields {
		declared = append(declared, f.Name)
	}
	var errs []error
	for _, k := range answers.Keys() {
		if !slices.Contains(declared, k) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownField, k))
			continue
		}
		if v, _ := answers.Get(k); !isScalar(v) {
			errs = append(errs, fmt.Errorf("%w: field %s is not a scalar", ErrInvalidSubmission, k))
		}
	}
	for _, f := range fields {
		if !f.Required {
			continue
		}
		v, ok := answers.Get(f.Name)
		if !ok || v == nil || v == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingField, f.Name))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) validateNew(in NewSubmission) error {
	if err := e.validate.Struct(in.FormData); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	if in.FormData.OwnerID() == "" {
		return fmt.Errorf("%w: form_data has no owning user", ErrInvalidSubmission)
	}
	if in.Answers.Len() == 0 {
		return fmt.Errorf("%w: no answers", ErrInvalidSubmission)
	}
	return nil
}

// CreateSubmission stores a completed form as a pending change. The owner
// defaults to the signed-in user.
func (e *Engine) CreateSubmission(ctx context.Context, in NewSubmission) (*SurveySubmission, error) {
	if in.FormData.OwnerID() == "" && e.identity != nil {
		in.FormData.UserID = e.identity.UserID()
	}
	if err := e.validateNew(in); err != nil {
		return nil, err
	}

	now := e.now()
	s := &SurveySubmission{
		ID:        uuid.NewString(),
		FormData:  in.FormData,
		Answers:   in.Answers,
		Location:  in.Location,
		Sync:      Pending{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := e.lock.With(ctx, func(ctx context.Context) error {
		return e.table.Create(ctx, s.toRow())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store submission: %w", err)
	}
	e.logger.Info("Submission stored", "id", s.ID, "survey_id", s.FormData.SurveyID, "family", s.FormData.Family)
	return s, nil
}

// FinalizeDraft validates answers against the form definition, stores the
// submission and removes the draft it came from. A failure to remove the
// draft is logged; the submission is kept.
func (e *Engine) FinalizeDraft(ctx context.Context, form remote.FormDTO, in NewSubmission, drafts DraftRemover) (*SurveySubmission, error) {
	if err := ValidateAnswers(in.Answers, form.Fields); err != nil {
		return nil, err
	}
	if in.FormData.SurveyID == "" {
		in.FormData.SurveyID = form.ID
	}
	if in.FormData.ProjectModuleID == "" {
		in.FormData.ProjectModuleID = form.ProjectModuleID
	}
	s, err := e.CreateSubmission(ctx, in)
	if err != nil {
		return nil, err
	}
	if drafts != nil {
		if err := drafts.DeleteDraft(ctx, form.ID, s.UserID()); err != nil {
			e.logger.Warn("Failed to remove finalized draft", "form_id", form.ID, "error", err)
		}
	}
	return s, nil
}

// UpdateSubmission applies mutate to a stored submission. Editing the
// content of a synced submission turns it back into a pending change that
// replaces the acknowledged copy.
func (e *Engine) UpdateSubmission(ctx context.Context, id string, mutate func(*SurveySubmission) error) (*SurveySubmission, error) {
	var out *SurveySubmission
	err := e.lock.With(ctx, func(ctx context.Context) error {
		row, err := e.table.Get(ctx, id)
		if err != nil {
			return err
		}
		before, err := fromRow(row)
		if err != nil {
			return err
		}
		after, err := fromRow(row)
		if err != nil {
			return err
		}
		if err := mutate(after); err != nil {
			return err
		}
		after.ID = before.ID
		after.CreatedAt = before.CreatedAt
		if before.sameContent(after) {
			out = before
			return nil
		}
		if err := e.validateNew(NewSubmission{FormData: after.FormData, Answers: after.Answers}); err != nil {
			return err
		}

		switch st := before.Sync.(type) {
		case Synced:
			after.Sync = Pending{PreviousRemoteID: st.remoteID}
		case Pending:
			after.Sync = Pending{PreviousRemoteID: st.PreviousRemoteID}
		}
		after.UpdatedAt = e.now()

		patch := after.toRow()
		delete(patch, "id")
		delete(patch, "created_at")
		if _, err := e.table.Update(ctx, id, patch); err != nil {
			return err
		}
		out = after
		return nil
	})
	if err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update submission %s: %w", id, err)
	}
	return out, nil
}
