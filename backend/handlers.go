// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/daniella307307/true-realm-sub001/internal/auth"
	"github.com/daniella307307/true-realm-sub001/remote"
)

const maxBodyBytes = 1 << 20

// Handlers serves the REST API on top of a Repository.
type Handlers struct {
	repo   Repository
	jwt    *auth.JWTAuth
	logger *slog.Logger
	// DevSignin enables POST /dev/signin, which issues a token for any user.
	DevSignin bool
}

// NewHandlers creates the handler set.
func NewHandlers(repo Repository, jwt *auth.JWTAuth, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{repo: repo, jwt: jwt, logger: logger}
}

// Router wires all routes.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, h.logRequests)

	r.Get(remote.PathHealth, h.handleHealth)
	if h.DevSignin {
		r.Post("/dev/signin", h.handleDevSignin)
	}

	r.Group(func(r chi.Router) {
		r.Use(h.jwt.Middleware)
		r.Get(remote.PathSubmissions, h.handleListSubmissions)
		r.Post(remote.PathSubmissions, h.handleCreateSubmission)
		r.Put(remote.PathSubmissions+"/{id}", h.handleUpdateSubmission)
		r.Get(remote.PathProjects, h.handleProjects)
		r.Get(remote.PathModules, h.handleModules)
		r.Get(remote.PathForms, h.handleForms)
		r.Get(remote.PathLocations+"/{level}", h.handleLocations)
		r.Get(remote.PathNotifications, h.handleNotifications)
	})
	return r
}

func (h *Handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		h.logger.Warn("Health check failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, remote.CodeInternal, "database unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, remote.HealthResponse{Status: "ok"})
}

func (h *Handlers) handleDevSignin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User   string `json:"user"`
		Device string `json:"device"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.User == "" {
		h.writeError(w, http.StatusBadRequest, remote.CodeInvalidRequest, "user required")
		return
	}
	if req.Device == "" {
		req.Device = "device-" + middleware.GetReqID(r.Context())
	}
	tok, err := h.jwt.GenerateToken(req.User, req.Device, time.Hour)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, remote.CodeInternal, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"token": tok, "expires_in": 3600, "user": req.User, "device": req.Device})
}

func (h *Handlers) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserID(r.Context())
	subs, err := h.repo.ListSubmissions(r.Context(), uid)
	if err != nil {
		h.internalError(w, "list submissions", err)
		return
	}
	if subs == nil {
		subs = []remote.RemoteSubmission{}
	}
	h.writeJSON(w, http.StatusOK, remote.SubmissionList{Submissions: subs})
}

// decodeUpload reads and checks a submission body. form_data and answers
// must be JSON objects; location, when present, too.
func decodeUpload(r *http.Request, w http.ResponseWriter) (remote.SubmissionUpload, string) {
	var in remote.SubmissionUpload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		return in, "invalid JSON body"
	}
	if !isObject(in.FormData) {
		return in, "form_data must be an object"
	}
	if !isObject(in.Answers) {
		return in, "answers must be an object"
	}
	if len(in.Location) > 0 && string(in.Location) != "null" && !isObject(in.Location) {
		return in, "location must be an object"
	}
	return in, ""
}

func isObject(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	return len(b) > 1 && b[0] == '{' && json.Valid(b)
}

func (h *Handlers) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	in, msg := decodeUpload(r, w)
	if msg != "" {
		h.writeError(w, http.StatusBadRequest, remote.CodeInvalidRequest, msg)
		return
	}
	uid, _ := auth.UserID(r.Context())
	ack, err := h.repo.CreateSubmission(r.Context(), uid, in)
	if err != nil {
		h.internalError(w, "create submission", err)
		return
	}
	status := http.StatusCreated
	if ack.Status == remote.StDuplicate {
		status = http.StatusOK
	}
	h.logger.Info("Submission received", "user_id", uid, "id", ack.ID, "local_id", ack.LocalID, "status", ack.Status)
	h.writeJSON(w, status, ack)
}

func (h *Handlers) handleUpdateSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	in, msg := decodeUpload(r, w)
	if msg != "" {
		h.writeError(w, http.StatusBadRequest, remote.CodeInvalidRequest, msg)
		return
	}
	uid, _ := auth.UserID(r.Context())
	ack, err := h.repo.UpdateSubmission(r.Context(), uid, id, in)
	if errors.Is(err, ErrNotFound) {
		h.writeError(w, http.StatusNotFound, remote.CodeNotFound, "submission not found")
		return
	}
	if err != nil {
		h.internalError(w, "update submission", err)
		return
	}
	h.writeJSON(w, http.StatusOK, ack)
}

func (h *Handlers) handleProjects(w http.ResponseWriter, r *http.Request) {
	out, err := h.repo.Projects(r.Context())
	h.writeList(w, "list projects", out, err)
}

func (h *Handlers) handleModules(w http.ResponseWriter, r *http.Request) {
	out, err := h.repo.Modules(r.Context())
	h.writeList(w, "list modules", out, err)
}

func (h *Handlers) handleForms(w http.ResponseWriter, r *http.Request) {
	out, err := h.repo.Forms(r.Context())
	h.writeList(w, "list forms", out, err)
}

func (h *Handlers) handleLocations(w http.ResponseWriter, r *http.Request) {
	level := chi.URLParam(r, "level")
	if !slices.Contains(remote.LocationLevels, level) {
		h.writeError(w, http.StatusNotFound, remote.CodeNotFound, "unknown location level")
		return
	}
	out, err := h.repo.Locations(r.Context(), level)
	h.writeList(w, "list locations", out, err)
}

func (h *Handlers) handleNotifications(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserID(r.Context())
	out, err := h.repo.Notifications(r.Context(), uid)
	h.writeList(w, "list notifications", out, err)
}

// writeList writes items as a JSON array, never null.
func (h *Handlers) writeList(w http.ResponseWriter, op string, items any, err error) {
	if err != nil {
		h.internalError(w, op, err)
		return
	}
	b, err := json.Marshal(items)
	if err != nil {
		h.internalError(w, op, err)
		return
	}
	if string(b) == "null" {
		b = []byte("[]")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *Handlers) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("Request failed", "op", op, "error", err)
	h.writeError(w, http.StatusInternalServerError, remote.CodeInternal, "internal error")
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes a standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSON(w, statusCode, remote.ErrorResponse{Error: errorCode, Message: message})
}
