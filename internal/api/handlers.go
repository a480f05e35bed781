// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/ostiarius/internal/auth"
	"github.com/tomtom215/ostiarius/internal/config"
	"github.com/tomtom215/ostiarius/internal/dataset"
	"github.com/tomtom215/ostiarius/internal/daylog"
	"github.com/tomtom215/ostiarius/internal/geocode"
	"github.com/tomtom215/ostiarius/internal/history"
	"github.com/tomtom215/ostiarius/internal/models"
	"github.com/tomtom215/ostiarius/internal/tracking"
	"github.com/tomtom215/ostiarius/internal/users"
	"github.com/tomtom215/ostiarius/internal/writer"
)

// Deps bundles everything the handlers call into. Optional fields are
// documented; nil required fields panic on first use, deliberately early.
type Deps struct {
	Engine    *dataset.Engine
	Geocoder  *geocode.Queue
	Writer    *writer.Writer
	Days      *daylog.Manager
	Aggregate *tracking.Aggregator
	Ingest    *tracking.Ingestor
	External  *tracking.External // nil disables POST /tracking/external
	Directory *users.Directory
	Overlay   *history.Overlay
	Config    *config.Config
}

// Handler carries the handler dependencies.
//
// Handler methods are split across files:
//   - handlers.go: Handler struct, constructor, shared lookups (this file)
//   - handlers_helpers.go: response and parameter helpers
//   - handlers_datasets.go: dataset CRUD, search, streets, history, match
//   - handlers_tracking.go: location and action ingest, external push
//   - handlers_health.go: health, readiness, monitoring snapshots
type Handler struct {
	engine    *dataset.Engine
	geocoder  *geocode.Queue
	writer    *writer.Writer
	days      *daylog.Manager
	aggregate *tracking.Aggregator
	ingest    *tracking.Ingestor
	external  *tracking.External
	directory *users.Directory
	overlay   *history.Overlay
	config    *config.Config
	startTime time.Time
}

// NewHandler creates the API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		engine:    deps.Engine,
		geocoder:  deps.Geocoder,
		writer:    deps.Writer,
		days:      deps.Days,
		aggregate: deps.Aggregate,
		ingest:    deps.Ingest,
		external:  deps.External,
		directory: deps.Directory,
		overlay:   deps.Overlay,
		config:    deps.Config,
		startTime: time.Now(),
	}
}

// requireUsername pulls the authenticated username out of the context. The
// auth middleware guarantees it on protected routes; a miss means the route
// was wired without the middleware.
func (h *Handler) requireUsername(w http.ResponseWriter, r *http.Request) (string, bool) {
	username, ok := auth.UsernameFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "Authentifizierung erforderlich", nil)
		return "", false
	}
	return username, true
}

// resolveUser maps the authenticated username to a directory user. Users
// missing from the directory worksheet still get their data stored, keyed
// by username, rather than losing field data over a stale sheet.
func (h *Handler) resolveUser(r *http.Request, username string) models.User {
	user, known, err := h.directory.ByUsername(r.Context(), username)
	if err == nil && known {
		return user
	}
	return models.User{ID: username, Username: username, Active: true}
}
