// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/tomtom215/ostiarius/internal/dataset"
	"github.com/tomtom215/ostiarius/internal/models"
)

// respondDatasetError translates dataset engine errors into envelope
// responses. Unknown errors become 500 INTERNAL_ERROR without leaking the
// cause to the client.
func respondDatasetError(w http.ResponseWriter, err error) {
	var verr *dataset.ValidationError
	if errors.As(err, &verr) {
		respondErrorDetails(w, http.StatusBadRequest, "INVALID_ADDRESS", verr.Message, map[string]interface{}{
			"missingFields": verr.MissingFields,
		}, nil)
		return
	}

	var cerr *dataset.ConflictError
	if errors.As(err, &cerr) {
		respondConflict(w, cerr.Conflict)
		return
	}

	switch {
	case errors.Is(err, dataset.ErrLockHeld):
		respondError(w, http.StatusConflict, "LOCK_HELD", "Für diese Adresse läuft bereits eine Anlage", nil)
	case errors.Is(err, dataset.ErrForbidden):
		respondError(w, http.StatusForbidden, "FORBIDDEN", "Dieser Datensatz kann nicht mehr bearbeitet werden", nil)
	case errors.Is(err, dataset.ErrInvalidIndex):
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Bewohner-Index außerhalb des gültigen Bereichs", nil)
	case errors.Is(err, dataset.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Datensatz nicht gefunden", nil)
	case errors.Is(err, dataset.ErrNotReady):
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "Der Dienst lädt noch, bitte erneut versuchen", nil)
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Interner Serverfehler", err)
	}
}

// respondConflict sends the full 409 payload of an edit-window conflict.
// The conflict carries everything the client needs to render the ownership
// dialog, so it travels in the error details, not just the message.
func respondConflict(w http.ResponseWriter, conflict models.DatasetConflict) {
	details := map[string]interface{}{
		"error":               conflict.Error,
		"existingCreator":     conflict.ExistingCreator,
		"isOwnDataset":        conflict.IsOwnDataset,
		"daysSinceCreation":   conflict.DaysSinceCreation,
		"daysUntilNewAllowed": conflict.DaysUntilNewAllowed,
	}
	if conflict.ExistingDataset != nil {
		details["existingDataset"] = conflict.ExistingDataset
	}

	respondJSON(w, http.StatusConflict, &models.APIResponse{
		Status: "error",
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
		Error: &models.APIError{
			Code:    "ADDRESS_CONFLICT",
			Message: conflict.Message,
			Details: details,
		},
	})
}
