// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

// Package validation provides struct validation using go-playground/validator v10.
//
// This package wraps the go-playground/validator library to provide a thread-safe
// singleton validator instance with user-facing German error messages. It
// integrates with the application's API error format for consistent error
// responses.
//
// # Overview
//
// The package provides:
//   - Thread-safe singleton validator (initialized once, cached struct info)
//   - German error message translation for all common tags
//   - Field names taken from json tags, matching the wire format clients sent
//   - A daykey validator for calendar days in the storage key format
//   - APIError conversion matching the application's error format
//
// # Quick Start
//
//	type PushRequest struct {
//	    Points []LocationPoint `json:"points" validate:"required,min=1,max=5000"`
//	}
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    var req PushRequest
//	    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
//	        // handle decode error
//	    }
//
//	    if verr := validation.ValidateStruct(&req); verr != nil {
//	        apiErr := verr.ToAPIError()
//	        respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
//	        return
//	    }
//	}
//
// # Common Validation Tags
//
// String validations:
//   - required: Field must not be empty
//   - min=n / max=n: Length bounds in characters
//   - oneof=a b c: Must be one of the specified values
//   - daykey: Calendar day formatted YYYY-MM-DD
//
// Numeric and coordinate validations:
//   - gte / lte / gt / lt: Value bounds
//   - latitude: Valid latitude (-90 to 90)
//   - longitude: Valid longitude (-180 to 180)
//
// # Error Messages
//
// Messages are user-facing German, one per failed field:
//
//	required   -> "street ist ein Pflichtfeld"
//	min=1      -> "points muss mindestens 1 Einträge enthalten"
//	oneof      -> "status muss einer der folgenden Werte sein: interested not_interested"
//	daykey     -> "date muss ein Datum im Format JJJJ-MM-TT sein"
//
// Domain-level address completeness (the structured missingFields list) lives in
// the dataset engine; this package covers the request DTO layer.
//
// # Thread Safety
//
// The singleton validator is initialized once and safe for concurrent use.
//
// # See Also
//
//   - internal/api: Request handlers using validation
//   - github.com/go-playground/validator/v10: Underlying library
package validation
