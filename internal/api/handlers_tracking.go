// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/ostiarius/internal/models"
)

// ingestResponse reports what an in-app push batch produced. Inserted can
// be lower than Received when the store ignored duplicate samples.
type ingestResponse struct {
	Received int `json:"received"`
	Inserted int `json:"inserted"`
}

// TrackLocations handles POST /tracking/location. The body is one bare
// point or {"locations": [...]}; every sample lands in the pushing user's
// per-day store, split by Berlin calendar day.
func (h *Handler) TrackLocations(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	username, ok := h.requireUsername(w, r)
	if !ok {
		return
	}

	var req locationPushRequest
	if !decodeBody(w, r, &req) {
		return
	}
	points := req.points()
	if len(points) == 0 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Keine Standortdaten im Request", nil)
		return
	}

	user := h.resolveUser(r, username)
	inserted, err := h.ingest.IngestLocations(r.Context(), user, points, models.SourceNative)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Interner Serverfehler", err)
		return
	}

	respondSuccess(w, http.StatusOK, ingestResponse{Received: len(points), Inserted: inserted}, start)
}

// TrackActions handles POST /tracking/actions: activity and status events
// from in-app sessions, one bare event or {"actions": [...]}.
func (h *Handler) TrackActions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	username, ok := h.requireUsername(w, r)
	if !ok {
		return
	}

	var req actionsPushRequest
	if !decodeBody(w, r, &req) {
		return
	}
	events := req.events()
	if len(events) == 0 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Keine Aktionsdaten im Request", nil)
		return
	}

	user := h.resolveUser(r, username)
	inserted, err := h.ingest.IngestActions(r.Context(), user, events)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Interner Serverfehler", err)
		return
	}

	respondSuccess(w, http.StatusOK, ingestResponse{Received: len(events), Inserted: inserted}, start)
}

// ExternalPush handles POST /tracking/external, the bulk push of the
// standalone tracker app. The batch is keyed by a free-form userName label;
// unresolved labels are buffered and answered with 202 until the
// reconciler maps them.
func (h *Handler) ExternalPush(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req externalPushRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondErrorDetails(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details, nil)
		return
	}

	result, err := h.external.Push(r.Context(), req.UserName, req.Points)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Interner Serverfehler", err)
		return
	}

	status := http.StatusOK
	if result.Buffered {
		status = http.StatusAccepted
	}
	respondSuccess(w, status, result, start)
}
