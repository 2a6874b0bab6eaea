// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package submissions owns completed form instances: the local writer API,
// the push/pull reconciliation with the backend and per-family statistics.
package submissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/daniella307307/true-realm-sub001/localstore"
	"github.com/daniella307307/true-realm-sub001/remote"
)

var (
	ErrNoIdentity        = errors.New("no signed-in user")
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrUnknownField      = errors.New("answer for undeclared field")
	ErrMissingField      = errors.New("required field not answered")
)

// API is the part of the backend the engine talks to.
type API interface {
	ListSubmissions(ctx context.Context) ([]remote.RemoteSubmission, error)
	CreateSubmission(ctx context.Context, sub remote.SubmissionUpload) (*remote.SubmissionAck, error)
	UpdateSubmission(ctx context.Context, remoteID string, sub remote.SubmissionUpload) (*remote.SubmissionAck, error)
}

// Identity supplies the signed-in user. An empty id means signed out.
type Identity interface {
	UserID() string
}

// StaticIdentity is an Identity with a fixed user id.
type StaticIdentity string

func (s StaticIdentity) UserID() string { return string(s) }

// Config tunes the engine.
type Config struct {
	DeleteAttempts int           // lock polls before SafeDeleteAll gives up
	DeleteInterval time.Duration // pause between polls
	PushTimeout    time.Duration // per-submission network timeout, 0 for none
}

// DefaultConfig returns the standard retry budget of 10 polls 500ms apart.
func DefaultConfig() Config {
	return Config{
		DeleteAttempts: localstore.DefaultLockAttempts,
		DeleteInterval: localstore.DefaultLockInterval,
		PushTimeout:    30 * time.Second,
	}
}

// SyncResult summarizes one push pass.
type SyncResult struct {
	Synced  int
	Failed  int
	Errors  []error
	Skipped bool // the submissions lock was busy
}

// PullResult summarizes one pull pass.
type PullResult struct {
	Created   int
	Updated   int
	Kept      int // remote copies ignored because a local change is pending
	Unchanged int
	Skipped   bool
}

// PendingCount splits pending changes by kind.
type PendingCount struct {
	Total               int
	NewSubmissions      int
	ModifiedSubmissions int
}

// Engine reconciles local submissions with the backend.
type Engine struct {
	table    localstore.Records
	lock     *localstore.OpLock
	api      API
	identity Identity
	validate *validator.Validate
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option { return func(e *Engine) { e.cfg = cfg } }

// NewEngine creates an engine over the survey_submissions table.
func NewEngine(store *localstore.Store, api API, identity Identity, opts ...Option) *Engine {
	tbl := store.MustTable(localstore.TableSurveySubmissions)
	e := &Engine{
		table:    tbl,
		lock:     tbl.Lock(),
		api:      api,
		identity: identity,
		validate: validator.New(),
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Lock exposes the submissions lock for status reporting.
func (e *Engine) Lock() *localstore.OpLock { return e.lock }

func (e *Engine) userID() (string, error) {
	if e.identity == nil {
		return "", ErrNoIdentity
	}
	uid := e.identity.UserID()
	if uid == "" {
		return "", ErrNoIdentity
	}
	return uid, nil
}

// loadUser reads the user's submissions. Callers hold the lock.
func (e *Engine) loadUser(ctx context.Context, uid string) ([]*SurveySubmission, error) {
	rows, err := e.table.Find(ctx, "user_id", uid)
	if err != nil {
		return nil, err
	}
	out := make([]*SurveySubmission, 0, len(rows))
	for _, row := range rows {
		s, err := fromRow(row)
		if err != nil {
			e.logger.Warn("Skipping corrupt submission", "id", row.String("id"), "error", err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// LoadSubmissions returns the signed-in user's submissions. ok is false when
// another operation holds the lock; the caller should try again later.
func (e *Engine) LoadSubmissions(ctx context.Context) (subs []SurveySubmission, ok bool, err error) {
	uid, err := e.userID()
	if err != nil {
		return nil, false, err
	}
	ran, err := e.lock.TryWith(ctx, func(ctx context.Context) error {
		loaded, err := e.loadUser(ctx, uid)
		if err != nil {
			return err
		}
		subs = deref(loaded)
		return nil
	})
	if !ran {
		e.logger.Debug("Submissions busy, skipping load")
		return nil, false, nil
	}
	if err != nil {
		return nil, true, fmt.Errorf("failed to load submissions: %w", err)
	}
	return subs, true, nil
}

// Get returns one submission by local id.
func (e *Engine) Get(ctx context.Context, id string) (*SurveySubmission, error) {
	row, err := e.table.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return fromRow(row)
}

// GetPendingChangesCount counts the user's unacknowledged submissions. It is
// a single read and does not take the lock.
func (e *Engine) GetPendingChangesCount(ctx context.Context) (PendingCount, error) {
	uid, err := e.userID()
	if err != nil {
		return PendingCount{}, err
	}
	subs, err := e.loadUser(ctx, uid)
	if err != nil {
		return PendingCount{}, fmt.Errorf("failed to count pending submissions: %w", err)
	}
	var c PendingCount
	for _, s := range subs {
		p, ok := s.Sync.(Pending)
		if !ok {
			continue
		}
		c.Total++
		if p.Modified() {
			c.ModifiedSubmissions++
		} else {
			c.NewSubmissions++
		}
	}
	return c, nil
}

// SyncPendingSubmissions pushes every pending submission of the signed-in
// user. Each item succeeds or fails on its own; failures stay pending with
// the attempt time and error recorded.
func (e *Engine) SyncPendingSubmissions(ctx context.Context) SyncResult {
	var res SyncResult
	uid, err := e.userID()
	if err != nil {
		res.Errors = append(res.Errors, err)
		return res
	}

	ran, err := e.lock.TryWith(ctx, func(ctx context.Context) error {
		subs, err := e.loadUser(ctx, uid)
		if err != nil {
			return err
		}
		for _, s := range subs {
			if !s.IsPending() {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.push(ctx, s); err != nil {
				res.Failed++
				res.Errors = append(res.Errors, fmt.Errorf("submission %s: %w", s.ID, err))
				continue
			}
			res.Synced++
		}
		return nil
	})
	if !ran {
		e.logger.Debug("Submissions busy, skipping push")
		res.Skipped = true
		return res
	}
	if err != nil {
		res.Errors = append(res.Errors, err)
	}
	if res.Synced > 0 || res.Failed > 0 {
		e.logger.Info("Push finished", "synced", res.Synced, "failed", res.Failed)
	}
	return res
}

func (e *Engine) push(ctx context.Context, s *SurveySubmission) error {
	pending, _ := s.Sync.(Pending)
	upload, err := toUpload(s)
	if err != nil {
		return err
	}

	pushCtx := ctx
	if e.cfg.PushTimeout > 0 {
		var cancel context.CancelFunc
		pushCtx, cancel = context.WithTimeout(ctx, e.cfg.PushTimeout)
		defer cancel()
	}

	var ack *remote.SubmissionAck
	if pending.Modified() {
		ack, err = e.api.UpdateSubmission(pushCtx, pending.PreviousRemoteID, upload)
	} else {
		ack, err = e.api.CreateSubmission(pushCtx, upload)
	}
	now := e.now()
	if err != nil {
		pending.LastAttemptAt = now
		pending.LastError = err.Error()
		if _, uerr := e.table.Update(ctx, s.ID, localstore.Row{"sync_data": encodeSync(pending)}); uerr != nil {
			e.logger.Error("Failed to record sync attempt", "id", s.ID, "error", uerr)
		}
		e.logger.Warn("Push failed", "id", s.ID, "error", err)
		return err
	}

	synced, err := MarkSynced(ack.ID, now)
	if err != nil {
		return err
	}
	if _, err := e.table.Update(ctx, s.ID, localstore.Row{"sync_data": encodeSync(synced)}); err != nil {
		return fmt.Errorf("failed to mark synced: %w", err)
	}
	s.Sync = synced
	return nil
}

func toUpload(s *SurveySubmission) (remote.SubmissionUpload, error) {
	fd, err := json.Marshal(s.FormData)
	if err != nil {
		return remote.SubmissionUpload{}, err
	}
	answers, err := json.Marshal(s.Answers)
	if err != nil {
		return remote.SubmissionUpload{}, err
	}
	up := remote.SubmissionUpload{
		LocalID:   s.ID,
		FormData:  fd,
		Answers:   answers,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if s.Location.Len() > 0 {
		if up.Location, err = json.Marshal(s.Location); err != nil {
			return remote.SubmissionUpload{}, err
		}
	}
	return up, nil
}

// FetchSurveySubmissionsFromRemote pulls the user's submissions and merges
// them. Remote copies only create missing rows or refresh rows that are
// already synced; a pending local change is never overwritten.
func (e *Engine) FetchSurveySubmissionsFromRemote(ctx context.Context) (PullResult, error) {
	res, _, err := e.pull(ctx)
	return res, err
}

// Refresh pulls from the backend and returns the merged local list. ok is
// false when the lock was busy.
func (e *Engine) Refresh(ctx context.Context) (subs []SurveySubmission, ok bool, err error) {
	res, merged, err := e.pull(ctx)
	if err != nil {
		return nil, false, err
	}
	if res.Skipped {
		return nil, false, nil
	}
	return deref(merged), true, nil
}

func (e *Engine) pull(ctx context.Context) (PullResult, []*SurveySubmission, error) {
	var res PullResult
	uid, err := e.userID()
	if err != nil {
		return res, nil, err
	}

	remoteSubs, err := e.api.ListSubmissions(ctx)
	if err != nil {
		return res, nil, fmt.Errorf("failed to fetch remote submissions: %w", err)
	}

	var merged []*SurveySubmission
	ran, err := e.lock.TryWith(ctx, func(ctx context.Context) error {
		local, err := e.loadUser(ctx, uid)
		if err != nil {
			return err
		}
		merged, err = e.merge(ctx, uid, local, remoteSubs, &res)
		return err
	})
	if !ran {
		e.logger.Debug("Submissions busy, skipping pull")
		res.Skipped = true
		return res, nil, nil
	}
	if err != nil {
		return res, nil, fmt.Errorf("failed to merge remote submissions: %w", err)
	}
	if res.Created > 0 || res.Updated > 0 {
		e.logger.Info("Pull finished", "created", res.Created, "updated", res.Updated, "kept_local", res.Kept)
	}
	return res, merged, nil
}

// merge applies remote copies onto the already loaded local list and
// returns the resulting list. It runs under the submissions lock.
func (e *Engine) merge(ctx context.Context, uid string, local []*SurveySubmission, remoteSubs []remote.RemoteSubmission, res *PullResult) ([]*SurveySubmission, error) {
	byRemote := make(map[string]*SurveySubmission, len(local))
	byLocal := make(map[string]*SurveySubmission, len(local))
	for _, s := range local {
		byLocal[s.ID] = s
		if rid := s.RemoteID(); rid != "" {
			byRemote[rid] = s
		}
	}

	now := e.now()
	for _, r := range remoteSubs {
		if r.ID == "" || (r.UserID != "" && r.UserID != uid) {
			continue
		}
		incoming, err := fromRemote(r, uid, now)
		if err != nil {
			e.logger.Warn("Skipping malformed remote submission", "remote_id", r.ID, "error", err)
			continue
		}

		existing := byRemote[r.ID]
		if existing == nil && r.LocalID != "" {
			existing = byLocal[r.LocalID]
		}

		switch {
		case existing == nil:
			incoming.ID = r.LocalID
			if incoming.ID == "" || byLocal[incoming.ID] != nil {
				incoming.ID = uuid.NewString()
			}
			incoming.Sync = Synced{remoteID: r.ID, syncedAt: now}
			if err := e.table.Create(ctx, incoming.toRow()); err != nil {
				// An unreadable local row may still own the id.
				e.logger.Warn("Failed to store remote submission", "remote_id", r.ID, "error", err)
				continue
			}
			local = append(local, incoming)
			byLocal[incoming.ID] = incoming
			byRemote[r.ID] = incoming
			res.Created++

		case existing.IsPending():
			res.Kept++

		case existing.sameContent(incoming):
			res.Unchanged++

		default:
			existing.FormData = incoming.FormData
			existing.Answers = incoming.Answers
			existing.Location = incoming.Location
			existing.UpdatedAt = incoming.UpdatedAt
			existing.Sync = Synced{remoteID: r.ID, syncedAt: now}
			row := existing.toRow()
			delete(row, "id")
			delete(row, "created_at")
			if _, err := e.table.Update(ctx, existing.ID, row); err != nil {
				return nil, err
			}
			res.Updated++
		}
	}
	return local, nil
}

func fromRemote(r remote.RemoteSubmission, uid string, now time.Time) (*SurveySubmission, error) {
	s := &SurveySubmission{CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
	if len(r.FormData) > 0 {
		if err := json.Unmarshal(r.FormData, &s.FormData); err != nil {
			return nil, fmt.Errorf("form_data: %w", err)
		}
	}
	if len(r.Answers) > 0 {
		if err := json.Unmarshal(r.Answers, &s.Answers); err != nil {
			return nil, fmt.Errorf("answers: %w", err)
		}
	}
	if len(r.Location) > 0 {
		if err := json.Unmarshal(r.Location, &s.Location); err != nil {
			return nil, fmt.Errorf("location: %w", err)
		}
	}
	if s.FormData.OwnerID() == "" {
		s.FormData.UserID = uid
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	return s, nil
}

// SafeDeleteAll clears the submissions table. It polls for the lock within
// the configured budget; if the lock is never won the table is left as is
// and false is returned with an error wrapping ErrLockUnavailable.
func (e *Engine) SafeDeleteAll(ctx context.Context) (bool, error) {
	var deleted int64
	err := e.lock.WithRetry(ctx, e.cfg.DeleteAttempts, e.cfg.DeleteInterval, func(ctx context.Context) error {
		n, err := e.table.DeleteAll(ctx)
		deleted = n
		return err
	})
	if err != nil {
		e.logger.Error("Failed to delete submissions", "error", err)
		return false, err
	}
	e.logger.Info("Submissions deleted", "count", deleted)
	return true, nil
}

func deref(in []*SurveySubmission) []SurveySubmission {
	out := make([]SurveySubmission, len(in))
	for i, s := range in {
		out[i] = *s
	}
	return out
}
