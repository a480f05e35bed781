// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package models

import "time"

// Classifications of a scanned name against the customer master list and
// the most recent historical dataset for the address.
const (
	MatchConfirmedExisting     = "confirmed_existing"
	MatchListVsDatasetConflict = "list_vs_dataset_conflict"
	MatchDatasetOnlyExisting   = "dataset_only_existing"
	MatchHistoricalProspect    = "historical_prospect"
	MatchNoHistoricalData      = "no_historical_data"
)

// NameMatch is the historical overlay verdict for one scanned name.
type NameMatch struct {
	Name           string `json:"name"`
	Classification string `json:"classification"`

	// HistoricalStatus carries the status of the matching historical
	// prospect entry, when there is one.
	HistoricalStatus string `json:"historicalStatus,omitempty"`

	// PreviousTenant names the historical resident this scanned name
	// replaced, when exactly one name changed between the historical
	// dataset and the new scan.
	PreviousTenant string     `json:"previousTenant,omitempty"`
	MovedInAfter   *time.Time `json:"movedInAfter,omitempty"`
}

// MatchResult is the full overlay of a scan against history.
type MatchResult struct {
	Matches []NameMatch `json:"matches"`

	// WinbackCandidates are historical existing customers no longer
	// present in the current master list.
	WinbackCandidates []string `json:"winbackCandidates,omitempty"`

	// HistoricalDatasetID identifies the dataset the overlay was computed
	// against; empty when no historical dataset exists for the address.
	HistoricalDatasetID string     `json:"historicalDatasetId,omitempty"`
	HistoricalCreatedAt *time.Time `json:"historicalCreatedAt,omitempty"`
}
