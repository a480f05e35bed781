// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package models

// Customer is one entry of the customer master list fetched from the
// customer backing store.
//
// NormalizedStreet and FoldedName are derived at load time by the customer
// cache (suffix collapse, umlaut folding) and used for comparison only; the
// original fields are preserved for display.
type Customer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Street      string `json:"street"`
	HouseNumber string `json:"houseNumber"`
	PostalCode  string `json:"postalCode"`
	IsExisting  bool   `json:"isExisting"`

	NormalizedStreet string `json:"-"`
	FoldedName       string `json:"-"`
}

// User is one entry of the master user directory.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`

	// DeviceID maps the user to an external tracking provider device.
	// Empty when the user carries no managed tracker.
	DeviceID string `json:"deviceId,omitempty"`

	Active bool `json:"active"`
}
