// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/ostiarius/internal/daykey"
	"github.com/tomtom215/ostiarius/internal/models"
)

// datasetsResponse wraps dataset list results.
type datasetsResponse struct {
	Datasets []*models.AddressDataset `json:"datasets"`
	Count    int                      `json:"count"`
}

// lookupResponse is datasetsResponse plus the create availability of the
// queried address, served only by the normalized lookup.
type lookupResponse struct {
	datasetsResponse
	CanCreateNew bool `json:"canCreateNew"`
}

// suggestionsResponse wraps street autocomplete results.
type suggestionsResponse struct {
	Streets []string `json:"streets"`
	Count   int      `json:"count"`
}

// CreateDataset handles POST /datasets. The engine validates the address,
// normalizes it through the geocode queue and enforces the edit window; a
// conflicting address returns the full 409 ownership payload.
func (h *Handler) CreateDataset(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	username, ok := h.requireUsername(w, r)
	if !ok {
		return
	}

	var req createDatasetRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ds, err := h.engine.Create(r.Context(), username, req.Address, req.EditableResidents, req.RawResidentData)
	if err != nil {
		respondDatasetError(w, err)
		return
	}

	respondSuccess(w, http.StatusCreated, ds, start)
}

// Datasets handles GET /datasets?street&number&postal&city. The query runs
// through the geocode normalizer so variant spellings find the canonical
// street, and house numbers match by expansion overlap, so a query for "2"
// finds a stored "1-3". canCreateNew reports whether a POST for the same
// address would clear the edit window.
func (h *Handler) Datasets(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	username, ok := h.requireUsername(w, r)
	if !ok {
		return
	}

	addr := queryAddress(r)
	results, canCreate := h.engine.Lookup(r.Context(), username, addr, getIntParam(r, "limit", 0))
	if results == nil {
		results = []*models.AddressDataset{}
	}

	respondSuccess(w, http.StatusOK, lookupResponse{
		datasetsResponse: datasetsResponse{Datasets: results, Count: len(results)},
		CanCreateNew:     canCreate,
	}, start)
}

// SearchLocal handles GET /datasets/search-local. Same lookup as Datasets
// but without tolerance: a missing five-digit postal code or house number
// returns an empty result instead of a guess.
func (h *Handler) SearchLocal(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	username, ok := h.requireUsername(w, r)
	if !ok {
		return
	}

	addr := queryAddress(r)
	results := h.engine.SearchLocal(r.Context(), username, addr, getIntParam(r, "limit", 0))
	if results == nil {
		results = []*models.AddressDataset{}
	}

	respondSuccess(w, http.StatusOK, datasetsResponse{Datasets: results, Count: len(results)}, start)
}

// DatasetByID handles GET /datasets/{id}. CanEdit is derived for the
// requesting user.
func (h *Handler) DatasetByID(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	username, ok := h.requireUsername(w, r)
	if !ok {
		return
	}

	ds, err := h.engine.ByID(r.Context(), username, chi.URLParam(r, "id"))
	if err != nil {
		respondDatasetError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, ds, start)
}

// StreetDatasets handles GET /datasets/streets/{streetName}: the most
// recent dataset per house-number group on the street, newest first.
func (h *Handler) StreetDatasets(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	username, ok := h.requireUsername(w, r)
	if !ok {
		return
	}

	results := h.engine.StreetDatasets(r.Context(), username, pathParam(r, "streetName"))
	if results == nil {
		results = []*models.AddressDataset{}
	}

	respondSuccess(w, http.StatusOK, datasetsResponse{Datasets: results, Count: len(results)}, start)
}

// StreetSuggestions handles GET /datasets/streets/suggestions?query=. Up to
// ten street names matching the prefix, most-used first; prefixes match
// across umlaut spellings.
func (h *Handler) StreetSuggestions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if _, ok := h.requireUsername(w, r); !ok {
		return
	}

	streets := h.engine.SuggestStreets(r.URL.Query().Get("query"), 10)
	if streets == nil {
		streets = []string{}
	}

	respondSuccess(w, http.StatusOK, suggestionsResponse{Streets: streets, Count: len(streets)}, start)
}

// UpdateResident handles PUT /datasets/residents: single-resident upsert or
// delete, creator-only within the edit window.
func (h *Handler) UpdateResident(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	username, ok := h.requireUsername(w, r)
	if !ok {
		return
	}

	var req updateResidentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondErrorDetails(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details, nil)
		return
	}

	ds, err := h.engine.UpdateResident(r.Context(), username, req.DatasetID, req.Index, req.Resident)
	if err != nil {
		respondDatasetError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, ds, start)
}

// BulkUpdateResidents handles PUT /datasets/bulk-residents: replaces the
// full editable list, creator-only within the edit window.
func (h *Handler) BulkUpdateResidents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	username, ok := h.requireUsername(w, r)
	if !ok {
		return
	}

	var req bulkResidentsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondErrorDetails(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details, nil)
		return
	}

	ds, err := h.engine.BulkUpdateResidents(r.Context(), username, req.DatasetID, req.Residents)
	if err != nil {
		respondDatasetError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, ds, start)
}

// UserHistory handles GET /datasets/history/{username}/{date}. Users read
// only their own day history; any other username is rejected.
func (h *Handler) UserHistory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	username, ok := h.requireUsername(w, r)
	if !ok {
		return
	}

	if pathParam(r, "username") != username {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "Sie können nur Ihre eigenen Datensätze abrufen", nil)
		return
	}

	date := pathParam(r, "date")
	if !daykey.IsValid(date) {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Datum muss im Format JJJJ-MM-TT sein", nil)
		return
	}

	results := h.engine.UserDatasetsByDate(r.Context(), username, date)
	if results == nil {
		results = []*models.AddressDataset{}
	}

	respondSuccess(w, http.StatusOK, datasetsResponse{Datasets: results, Count: len(results)}, start)
}

// MatchNames handles POST /datasets/match: overlays scanned nameplate names
// against the customer master list and the address history, returning a
// per-name classification plus winback candidates.
func (h *Handler) MatchNames(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	username, ok := h.requireUsername(w, r)
	if !ok {
		return
	}

	var req matchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondErrorDetails(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details, nil)
		return
	}

	result := h.overlay.Match(r.Context(), username, req.Address, req.Names)

	respondSuccess(w, http.StatusOK, result, start)
}

// queryAddress builds an address from the short-form query parameters used
// by the lookup endpoints.
func queryAddress(r *http.Request) models.Address {
	q := r.URL.Query()
	return models.Address{
		Street:      q.Get("street"),
		HouseNumber: q.Get("number"),
		PostalCode:  q.Get("postal"),
		City:        q.Get("city"),
	}
}

// pathParam returns a chi URL parameter. Chi matches on the escaped path,
// so umlaut street segments arrive percent-encoded.
func pathParam(r *http.Request, key string) string {
	value := chi.URLParam(r, key)
	if decoded, err := url.PathUnescape(value); err == nil {
		return decoded
	}
	return value
}
