// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

// Package history overlays a fresh nameplate scan with the most recent
// dataset for the address and the customer master list.
//
// The overlay answers, per scanned name, whether the name is a confirmed
// existing customer, a known prospect, or new at this address; detects
// single-tenant turnover; and surfaces historical existing customers that
// have since left the master list as winback candidates.
package history

import (
	"context"
	"strings"

	"github.com/tomtom215/ostiarius/internal/address"
	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/models"
)

// DatasetSource serves address lookups from the dataset cache. The dataset
// engine implements it.
type DatasetSource interface {
	ByAddress(ctx context.Context, username string, addr models.Address, limit int) []*models.AddressDataset
}

// CustomerSource answers which master-list customers live at an address.
type CustomerSource interface {
	AtAddress(ctx context.Context, addr models.Address) ([]models.Customer, error)
}

// Overlay computes historical classifications for nameplate scans.
type Overlay struct {
	datasets  DatasetSource
	customers CustomerSource
}

func New(datasets DatasetSource, customers CustomerSource) *Overlay {
	return &Overlay{datasets: datasets, customers: customers}
}

// entry is one cleaned historical resident.
type entry struct {
	name     string
	surname  string
	status   string
	existing bool
}

// Match classifies each scanned name against the most recent dataset at the
// address and the current master list. A master-list fetch failure degrades
// to an empty current list rather than failing the scan; the historical
// classifications still carry signal without it.
func (o *Overlay) Match(ctx context.Context, username string, addr models.Address, names []string) *models.MatchResult {
	result := &models.MatchResult{}

	scanned := make([]string, 0, len(names))
	for _, name := range names {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			scanned = append(scanned, trimmed)
		}
	}

	historical := o.latestDataset(ctx, username, addr)
	if historical == nil {
		for _, name := range scanned {
			result.Matches = append(result.Matches, models.NameMatch{
				Name:           name,
				Classification: models.MatchNoHistoricalData,
			})
		}
		return result
	}

	result.HistoricalDatasetID = historical.ID
	createdAt := historical.CreatedAt
	result.HistoricalCreatedAt = &createdAt

	entries := cleanEntries(historical.EditableResidents)
	currentNames := o.currentCustomerNames(ctx, addr)

	matchedEntries := make(map[int]bool)
	var newOnly []int // indexes into result.Matches

	for _, name := range scanned {
		match := models.NameMatch{Name: name}
		idx, found := findEntry(entries, name)
		inList := overlapsAny(name, currentNames)

		switch {
		case !found:
			match.Classification = models.MatchNoHistoricalData
		case entries[idx].existing && inList:
			match.Classification = models.MatchConfirmedExisting
		case entries[idx].existing:
			match.Classification = models.MatchDatasetOnlyExisting
		case inList:
			match.Classification = models.MatchListVsDatasetConflict
		default:
			match.Classification = models.MatchHistoricalProspect
			match.HistoricalStatus = entries[idx].status
		}

		if found {
			matchedEntries[idx] = true
		} else {
			newOnly = append(newOnly, len(result.Matches))
		}
		result.Matches = append(result.Matches, match)
	}

	// Turnover: exactly one new name and exactly one vanished historical
	// name pair up as a tenant change.
	var historicalOnly []string
	for i, e := range entries {
		if !matchedEntries[i] {
			historicalOnly = append(historicalOnly, e.name)
		}
	}
	if len(newOnly) == 1 && len(historicalOnly) == 1 {
		m := &result.Matches[newOnly[0]]
		m.PreviousTenant = historicalOnly[0]
		m.MovedInAfter = result.HistoricalCreatedAt
	}

	for _, e := range entries {
		if e.existing && !overlapsAny(e.name, currentNames) {
			result.WinbackCandidates = append(result.WinbackCandidates, e.name)
		}
	}

	return result
}

// Winbacks returns the historical existing customers at the address that no
// longer appear in the master list, for address lookup responses.
func (o *Overlay) Winbacks(ctx context.Context, username string, addr models.Address) []string {
	historical := o.latestDataset(ctx, username, addr)
	if historical == nil {
		return nil
	}
	currentNames := o.currentCustomerNames(ctx, addr)

	var out []string
	for _, e := range cleanEntries(historical.EditableResidents) {
		if e.existing && !overlapsAny(e.name, currentNames) {
			out = append(out, e.name)
		}
	}
	return out
}

func (o *Overlay) latestDataset(ctx context.Context, username string, addr models.Address) *models.AddressDataset {
	results := o.datasets.ByAddress(ctx, username, addr, 1)
	if len(results) == 0 {
		return nil
	}
	return results[0]
}

func (o *Overlay) currentCustomerNames(ctx context.Context, addr models.Address) []string {
	if o.customers == nil {
		return nil
	}
	customers, err := o.customers.AtAddress(ctx, addr)
	if err != nil {
		logging.Warn().Err(err).Str("street", addr.Street).Msg("Customer list unavailable for overlay, classifying on history alone")
		return nil
	}
	var names []string
	for _, c := range customers {
		if c.IsExisting {
			names = append(names, c.Name)
		}
	}
	return names
}

// cleanEntries buckets the historical residents into existing customers and
// prospects and resolves surname collisions: a surname present in both
// buckets is contradictory and drops entirely; duplicates within one bucket
// collapse to the bare surname.
func cleanEntries(residents []models.Resident) []entry {
	var raw []entry
	for _, r := range residents {
		var existing bool
		switch r.Category {
		case models.CategoryExistingCustomer:
			existing = true
		case models.CategoryPotentialNewCustomer:
			existing = false
		default:
			// Unclassified nameplates carry no historical signal.
			continue
		}
		surname := address.Surname(r.Name)
		if surname == "" {
			continue
		}
		raw = append(raw, entry{
			name:     strings.TrimSpace(r.Name),
			surname:  surname,
			status:   r.Status,
			existing: existing,
		})
	}

	type counts struct{ existing, prospect int }
	bySurname := make(map[string]*counts)
	for _, e := range raw {
		c := bySurname[e.surname]
		if c == nil {
			c = &counts{}
			bySurname[e.surname] = c
		}
		if e.existing {
			c.existing++
		} else {
			c.prospect++
		}
	}

	var out []entry
	collapsed := make(map[string]bool) // surname|bucket already emitted
	for _, e := range raw {
		c := bySurname[e.surname]
		if c.existing > 0 && c.prospect > 0 {
			continue
		}

		inBucket := c.prospect
		if e.existing {
			inBucket = c.existing
		}
		if inBucket > 1 {
			key := e.surname
			if e.existing {
				key += "|existing"
			}
			if collapsed[key] {
				// Keep the first non-empty status on the collapsed entry.
				if e.status != "" {
					for i := range out {
						if out[i].surname == e.surname && out[i].existing == e.existing && out[i].status == "" {
							out[i].status = e.status
						}
					}
				}
				continue
			}
			collapsed[key] = true
			out = append(out, entry{name: e.surname, surname: e.surname, status: e.status, existing: e.existing})
			continue
		}
		out = append(out, e)
	}
	return out
}

// findEntry returns the first cleaned entry whose name overlaps the scanned
// name. Existing customers win over prospects when both overlap.
func findEntry(entries []entry, name string) (int, bool) {
	match := -1
	for i, e := range entries {
		if !address.NamesOverlap(name, e.name) {
			continue
		}
		if e.existing {
			return i, true
		}
		if match < 0 {
			match = i
		}
	}
	if match >= 0 {
		return match, true
	}
	return -1, false
}

func overlapsAny(name string, candidates []string) bool {
	for _, c := range candidates {
		if address.NamesOverlap(name, c) {
			return true
		}
	}
	return false
}
