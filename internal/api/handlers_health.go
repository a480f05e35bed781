// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/ostiarius/internal/daykey"
	"github.com/tomtom215/ostiarius/internal/models"
)

// Health handles GET /health: process liveness, regardless of dependency
// state. Load balancers and uptime probes hit this unauthenticated.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"status": "healthy",
			"uptime": time.Since(h.startTime).Seconds(),
		},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}

// Ready handles GET /ready. The server is ready once the dataset engine
// finished its startup load; before that, writes would be rejected and
// reads would lie with empty results.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	engineStatus := h.engine.Status()

	statusCode := http.StatusOK
	status := "ready"
	if !engineStatus.Loaded {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	respondJSON(w, statusCode, &models.APIResponse{
		Status: status,
		Data: map[string]interface{}{
			"ready_to_serve": engineStatus.Loaded,
			"datasets":       engineStatus,
			"uptime":         time.Since(h.startTime).Seconds(),
		},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}

// MonitorGeocode handles GET /monitoring/geocode: queue depth and pacing
// state of the geocode queue.
func (h *Handler) MonitorGeocode(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if _, ok := h.requireUsername(w, r); !ok {
		return
	}

	respondSuccess(w, http.StatusOK, h.geocoder.Status(), start)
}

// MonitorWriter handles GET /monitoring/writer: queue depths, suspension
// and backoff state of the batched backing-store writer.
func (h *Handler) MonitorWriter(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if _, ok := h.requireUsername(w, r); !ok {
		return
	}

	respondSuccess(w, http.StatusOK, h.writer.Status(), start)
}

// daylogMonitorResponse is the per-day store snapshot: today's file stats
// plus every day currently on disk.
type daylogMonitorResponse struct {
	Today models.DayStoreStats `json:"today"`
	Dates []string             `json:"dates"`
}

// MonitorDaylog handles GET /monitoring/daylog.
func (h *Handler) MonitorDaylog(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if _, ok := h.requireUsername(w, r); !ok {
		return
	}

	today, err := h.days.Stats(r.Context(), daykey.FromTime(time.Now()))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Interner Serverfehler", err)
		return
	}
	dates, err := h.days.Dates()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Interner Serverfehler", err)
		return
	}
	if dates == nil {
		dates = []string{}
	}

	respondSuccess(w, http.StatusOK, daylogMonitorResponse{Today: today, Dates: dates}, start)
}
