// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package api

import (
	"github.com/goccy/go-json"

	"github.com/tomtom215/ostiarius/internal/models"
)

// createDatasetRequest is the POST /datasets body. Address completeness is
// checked by the engine, which produces the German missingFields response;
// the handler only requires the body to parse.
type createDatasetRequest struct {
	Address           models.Address    `json:"address"`
	EditableResidents []models.Resident `json:"editableResidents"`
	RawResidentData   json.RawMessage   `json:"rawResidentData,omitempty"`
}

// updateResidentRequest is the PUT /datasets/residents body. A nil Resident
// deletes the entry at Index; an Index at or past the end appends.
type updateResidentRequest struct {
	DatasetID string           `json:"datasetId" validate:"required"`
	Index     int              `json:"index" validate:"gte=0"`
	Resident  *models.Resident `json:"resident"`
}

// bulkResidentsRequest is the PUT /datasets/bulk-residents body. An empty
// Residents list clears the editable list.
type bulkResidentsRequest struct {
	DatasetID string            `json:"datasetId" validate:"required"`
	Residents []models.Resident `json:"residents"`
}

// matchRequest is the POST /datasets/match body. Scanned names are overlaid
// against the customer master list and the address history.
type matchRequest struct {
	Address models.Address `json:"address"`
	Names   []string       `json:"names" validate:"required,min=1"`
}

// locationPushRequest is the POST /tracking/location body. The mobile app
// sends either one bare point or {"locations": [...]}; the embedded point
// covers the bare form.
type locationPushRequest struct {
	models.LocationPoint
	Locations []models.LocationPoint `json:"locations"`
}

// points returns the pushed batch regardless of body form.
func (req *locationPushRequest) points() []models.LocationPoint {
	if len(req.Locations) > 0 {
		return req.Locations
	}
	if req.TimestampMs == 0 && req.Latitude == 0 && req.Longitude == 0 {
		return nil
	}
	return []models.LocationPoint{req.LocationPoint}
}

// actionsPushRequest is the POST /tracking/actions body, symmetric with the
// location push: one bare event or {"actions": [...]}.
type actionsPushRequest struct {
	models.ActionEvent
	Actions []models.ActionEvent `json:"actions"`
}

// events returns the pushed batch regardless of body form.
func (req *actionsPushRequest) events() []models.ActionEvent {
	if len(req.Actions) > 0 {
		return req.Actions
	}
	if req.TimestampMs == 0 && req.Action == "" {
		return nil
	}
	return []models.ActionEvent{req.ActionEvent}
}

// externalPushRequest is the POST /tracking/external body pushed by the
// standalone tracker app. UserName is a free-form label resolved through
// the user directory, not an authenticated identity.
type externalPushRequest struct {
	UserName string                 `json:"userName" validate:"required"`
	Points   []models.LocationPoint `json:"points"`
}
