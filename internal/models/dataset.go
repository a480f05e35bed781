// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

// Package models defines data structures used throughout the Ostiarius application.
// These models represent address datasets, residents, customers, tracking logs,
// and API payloads.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Resident categories.
const (
	CategoryExistingCustomer     = "existing_customer"
	CategoryPotentialNewCustomer = "potential_new_customer"
	CategoryClarificationNeeded  = "clarification_needed"
)

// Resident statuses. An empty string means no status.
const (
	StatusInterested           = "interested"
	StatusNotInterested        = "not_interested"
	StatusNotReached           = "not_reached"
	StatusAppointmentScheduled = "appointment_scheduled"
	StatusWritten              = "written"
)

// Address is the user-supplied address of a dataset request.
// Street, house number and postal code are required for dataset writes.
// HouseNumber may be a range or list expression ("1-5", "1,2,3", "23/24").
type Address struct {
	Street      string `json:"street"`
	HouseNumber string `json:"houseNumber"`
	PostalCode  string `json:"postalCode"`
	City        string `json:"city,omitempty"`
}

// NormalizedAddress is the canonical form of an address as produced by the
// geocode queue. Two normalized addresses denote the same address iff their
// Formatted strings are byte-equal.
//
// Validated is false when the address was produced by the local fallback
// concatenation instead of a geocoder response.
type NormalizedAddress struct {
	Formatted   string  `json:"formattedAddress"`
	Street      string  `json:"street"`
	HouseNumber string  `json:"houseNumber"`
	PostalCode  string  `json:"postalCode"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	Validated   bool    `json:"validated"`
}

// Resident is one nameplate entry at an address.
//
// IsFixed marks residents mirrored from the customer master list; they are
// read-only from the dataset side and never persisted with the dataset.
type Resident struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status,omitempty"`
	Notes    string `json:"notes,omitempty"`
	Floor    string `json:"floor,omitempty"`
	Door     string `json:"door,omitempty"`
	IsFixed  bool   `json:"isFixed,omitempty"`
}

// ApplyStatusRule enforces the category/status coupling on a resident:
// a status may only be carried by a potential new customer. Residents in any
// other category have their status cleared.
//
// Called on every write path before a resident enters the cache.
func (r *Resident) ApplyStatusRule() {
	if r.Status != "" && r.Category != CategoryPotentialNewCustomer {
		r.Status = ""
	}
}

// AddressDataset is a record of residents at one address, owned by one user
// for the duration of the edit window (30 days by default). Datasets are
// created once, mutated by their creator within the window, then frozen
// forever. They are never deleted.
//
// CanEdit and IsNonExactMatch are derived per request and never persisted.
type AddressDataset struct {
	ID                string `json:"id"`
	NormalizedAddress string `json:"normalizedAddress"`
	Street            string `json:"street"`
	HouseNumber       string `json:"houseNumber"`
	PostalCode        string `json:"postalCode"`
	City              string `json:"city,omitempty"`

	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Validated bool    `json:"validated"`

	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`

	// RawResidentData is the raw OCR frame the dataset was created from,
	// preserved opaquely for audit.
	RawResidentData json.RawMessage `json:"rawResidentData,omitempty"`

	// EditableResidents is the user-owned resident list, mutable within
	// the edit window.
	EditableResidents []Resident `json:"editableResidents"`

	// FixedCustomers mirrors matching entries from the customer master
	// list. Computed at read time, never persisted.
	FixedCustomers []Resident `json:"fixedCustomers,omitempty"`

	CanEdit         bool `json:"canEdit"`
	IsNonExactMatch bool `json:"isNonExactMatch,omitempty"`
}

// EditableBy reports whether the given user may mutate this dataset at the
// given instant. The window is two-sided around CreatedAt to absorb legacy
// rows stored with a future clock skew.
func (d *AddressDataset) EditableBy(username string, now time.Time, window time.Duration) bool {
	if d.CreatedBy != username {
		return false
	}
	diff := now.Sub(d.CreatedAt)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}

// Clone returns a deep copy of the dataset. Resident slices and the raw
// blob are copied so callers can stamp derived fields without mutating the
// cached instance.
func (d *AddressDataset) Clone() *AddressDataset {
	out := *d
	if d.EditableResidents != nil {
		out.EditableResidents = make([]Resident, len(d.EditableResidents))
		copy(out.EditableResidents, d.EditableResidents)
	}
	if d.FixedCustomers != nil {
		out.FixedCustomers = make([]Resident, len(d.FixedCustomers))
		copy(out.FixedCustomers, d.FixedCustomers)
	}
	if d.RawResidentData != nil {
		out.RawResidentData = make(json.RawMessage, len(d.RawResidentData))
		copy(out.RawResidentData, d.RawResidentData)
	}
	return &out
}

// CategoryChange records one resident moving between categories during a
// dataset edit. Changes flow to the back-office export worksheet.
type CategoryChange struct {
	DatasetID string    `json:"datasetId"`
	Address   string    `json:"address"`
	Resident  string    `json:"resident"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ChangedBy string    `json:"changedBy"`
	ChangedAt time.Time `json:"changedAt"`
}
