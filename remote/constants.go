// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

// API routes, relative to the base URL.
const (
	PathHealth        = "/health"
	PathSubmissions   = "/api/v1/submissions"
	PathProjects      = "/api/v1/projects"
	PathModules       = "/api/v1/modules"
	PathForms         = "/api/v1/forms"
	PathLocations     = "/api/v1/locations"
	PathNotifications = "/api/v1/notifications"
)

// Submission acknowledgment statuses
const (
	StAccepted  = "accepted"
	StUpdated   = "updated"
	StDuplicate = "duplicate"
)

// Location hierarchy levels, top to bottom.
const (
	LevelProvince = "provinces"
	LevelDistrict = "districts"
	LevelSector   = "sectors"
	LevelCell     = "cells"
	LevelVillage  = "villages"
)

// LocationLevels lists the hierarchy from the top level down.
var LocationLevels = []string{LevelProvince, LevelDistrict, LevelSector, LevelCell, LevelVillage}

// Error codes carried in ErrorResponse.Error
const (
	CodeInvalidRequest = "invalid_request"
	CodeUnauthorized   = "authentication_failed"
	CodeNotFound       = "not_found"
	CodeForbidden      = "forbidden"
	CodeInternal       = "internal_error"
)
