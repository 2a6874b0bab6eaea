// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package remote is the REST client for the field-data backend.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenFunc returns the bearer token attached to every request.
type TokenFunc func(ctx context.Context) (string, error)

// APIError is returned for any non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned status %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}

// IsAuthError reports whether err is a 401 or 403 from the server.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to the backend REST API.
type Client struct {
	BaseURL string
	Token   TokenFunc
	HTTP    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client with a default HTTP timeout.
func NewClient(baseURL string, tok TokenFunc) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   tok,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
}

// SetLogger replaces the client's logger.
func (c *Client) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = l
	}
}

// Health checks GET /health. It does not send credentials.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+PathHealth, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return nil
}

// ListSubmissions returns the submissions of the token's user.
func (c *Client) ListSubmissions(ctx context.Context) ([]RemoteSubmission, error) {
	var out SubmissionList
	if err := c.do(ctx, http.MethodGet, PathSubmissions, nil, &out); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return out.Submissions, nil
}

// CreateSubmission pushes a submission that has never been acknowledged.
func (c *Client) CreateSubmission(ctx context.Context, sub SubmissionUpload) (*SubmissionAck, error) {
	var ack SubmissionAck
	if err := c.do(ctx, http.MethodPost, PathSubmissions, sub, &ack); err != nil {
		return nil, fmt.Errorf("create submission %s: %w", sub.LocalID, err)
	}
	if ack.ID == "" {
		return nil, fmt.Errorf("create submission %s: server returned no id", sub.LocalID)
	}
	return &ack, nil
}

// UpdateSubmission pushes a local edit of an already acknowledged submission.
func (c *Client) UpdateSubmission(ctx context.Context, remoteID string, sub SubmissionUpload) (*SubmissionAck, error) {
	var ack SubmissionAck
	path := PathSubmissions + "/" + url.PathEscape(remoteID)
	if err := c.do(ctx, http.MethodPut, path, sub, &ack); err != nil {
		return nil, fmt.Errorf("update submission %s: %w", remoteID, err)
	}
	if ack.ID == "" {
		ack.ID = remoteID
	}
	return &ack, nil
}

// Projects returns all projects visible to the user.
func (c *Client) Projects(ctx context.Context) ([]ProjectDTO, error) {
	var out []ProjectDTO
	if err := c.do(ctx, http.MethodGet, PathProjects, nil, &out); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out, nil
}

// Modules returns all modules visible to the user.
func (c *Client) Modules(ctx context.Context) ([]ModuleDTO, error) {
	var out []ModuleDTO
	if err := c.do(ctx, http.MethodGet, PathModules, nil, &out); err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	return out, nil
}

// Forms returns all form definitions.
func (c *Client) Forms(ctx context.Context) ([]FormDTO, error) {
	var out []FormDTO
	if err := c.do(ctx, http.MethodGet, PathForms, nil, &out); err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	return out, nil
}

// Locations returns every node of one hierarchy level.
func (c *Client) Locations(ctx context.Context, level string) ([]LocationDTO, error) {
	var out []LocationDTO
	if err := c.do(ctx, http.MethodGet, PathLocations+"/"+url.PathEscape(level), nil, &out); err != nil {
		return nil, fmt.Errorf("list %s: %w", level, err)
	}
	return out, nil
}

// Notifications returns the user's notifications.
func (c *Client) Notifications(ctx context.Context) ([]NotificationDTO, error) {
	var out []NotificationDTO
	if err := c.do(ctx, http.MethodGet, PathNotifications, nil, &out); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var er ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			apiErr.Code = er.Error
			apiErr.Message = er.Message
		}
		c.logger.Debug("Request failed", "method", method, "path", path, "status", resp.StatusCode)
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
