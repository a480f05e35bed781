// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package models

// DatasetConflict is the 409 payload returned when a dataset creation hits
// the edit window of an existing dataset for the same normalized address.
type DatasetConflict struct {
	Error               string          `json:"error"`
	Message             string          `json:"message"`
	ExistingCreator     string          `json:"existingCreator"`
	IsOwnDataset        bool            `json:"isOwnDataset"`
	DaysSinceCreation   int             `json:"daysSinceCreation"`
	DaysUntilNewAllowed int             `json:"daysUntilNewAllowed"`
	ExistingDataset     *AddressDataset `json:"existingDataset,omitempty"`
}
