// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package dataset

import (
	"errors"

	"github.com/tomtom215/ostiarius/internal/models"
)

// Sentinel errors mapped to API error codes by the HTTP layer.
var (
	// ErrNotFound is returned for unknown dataset IDs.
	ErrNotFound = errors.New("dataset not found")

	// ErrForbidden is returned for edits outside the ownership window or by
	// a non-creator.
	ErrForbidden = errors.New("dataset is not editable by this user")

	// ErrLockHeld is returned when a creation for the same address by the
	// same user is already in flight.
	ErrLockHeld = errors.New("dataset creation already in progress")

	// ErrInvalidIndex is returned when a resident delete addresses an index
	// that does not exist.
	ErrInvalidIndex = errors.New("resident index out of range")

	// ErrNotReady is returned for writes before the startup load finished.
	// Reads degrade to empty results instead.
	ErrNotReady = errors.New("dataset engine still loading")
)

// ValidationError reports an incomplete or malformed address. Messages are
// user-facing German; MissingFields names the absent components for the
// structured error details.
type ValidationError struct {
	Message       string
	MissingFields []string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ConflictError carries the full 409 payload for an edit-window conflict.
type ConflictError struct {
	Conflict models.DatasetConflict
}

func (e *ConflictError) Error() string {
	return e.Conflict.Message
}
