// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

// Package customers maintains a TTL-cached read-only view of the customer
// master list and answers address- and name-scoped searches against it.
//
// The master list is hand-maintained: street spellings vary, house numbers
// sit in the street column, flags come in German. Loading normalizes each
// row once so searches run on precomputed comparable forms.
package customers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/ostiarius/internal/address"
	"github.com/tomtom215/ostiarius/internal/housenumber"
	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/metrics"
	"github.com/tomtom215/ostiarius/internal/models"
	"github.com/tomtom215/ostiarius/internal/tabular"
)

// cacheTTL is how long one fetched master list stays fresh.
const cacheTTL = 5 * time.Minute

// DefaultWorksheet is the worksheet holding the customer master list.
const DefaultWorksheet = "customers"

// Cache is the read-through customer master cache. A fetch replaces the
// whole list; entries are never mutated after load.
type Cache struct {
	store     tabular.Store
	worksheet string
	ttl       time.Duration

	mu       sync.RWMutex
	list     []models.Customer
	loadedAt time.Time
}

// New creates a customer cache over the given worksheet.
func New(store tabular.Store, worksheet string) *Cache {
	if worksheet == "" {
		worksheet = DefaultWorksheet
	}
	return &Cache{
		store:     store,
		worksheet: worksheet,
		ttl:       cacheTTL,
	}
}

// Customers returns the current master list, refetching when the cached
// copy is older than the TTL. When a refetch fails and a stale copy exists,
// the stale copy is returned; search availability matters more here than
// freshness. Callers must not mutate the returned slice.
func (c *Cache) Customers(ctx context.Context) ([]models.Customer, error) {
	c.mu.RLock()
	if c.fresh() {
		list := c.list
		c.mu.RUnlock()
		metrics.CacheHits.WithLabelValues("customers").Inc()
		return list, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fresh() {
		metrics.CacheHits.WithLabelValues("customers").Inc()
		return c.list, nil
	}

	metrics.CacheMisses.WithLabelValues("customers").Inc()
	list, err := c.fetch(ctx)
	if err != nil {
		if c.list != nil {
			logging.Warn().Err(err).Msg("Customer list refetch failed, serving stale copy")
			return c.list, nil
		}
		return nil, fmt.Errorf("failed to load customer list: %w", err)
	}

	c.list = list
	c.loadedAt = time.Now()
	metrics.CacheSize.WithLabelValues("customers").Set(float64(len(list)))
	return list, nil
}

// Invalidate drops the cached list so the next read refetches. Called when
// a customer is created elsewhere in the system.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadedAt = time.Time{}
}

// AtAddress returns the customers at the given address: postal code equal,
// street fuzzy-matched, house numbers overlapping. Deduplicated by customer
// ID.
func (c *Cache) AtAddress(ctx context.Context, addr models.Address) ([]models.Customer, error) {
	list, err := c.Customers(ctx)
	if err != nil {
		return nil, err
	}

	wantPostal := address.NormalizePostal(addr.PostalCode)
	wantStreet := address.NormalizeStreet(addr.Street)

	var out []models.Customer
	seen := make(map[string]struct{})
	for _, customer := range list {
		if address.NormalizePostal(customer.PostalCode) != wantPostal {
			continue
		}
		if !address.SimilarNormalized(customer.NormalizedStreet, wantStreet) {
			continue
		}
		if !housenumber.Matches(customer.HouseNumber, addr.HouseNumber) {
			continue
		}
		if _, dup := seen[customer.ID]; dup {
			continue
		}
		seen[customer.ID] = struct{}{}
		out = append(out, customer)
	}
	return out, nil
}

// Search returns the customers matching the given name, optionally scoped
// to an address first. Name matching is folded word-token overlap; the
// result may be empty.
func (c *Cache) Search(ctx context.Context, name string, addr *models.Address) ([]models.Customer, error) {
	var base []models.Customer
	var err error
	if addr != nil {
		base, err = c.AtAddress(ctx, *addr)
	} else {
		base, err = c.Customers(ctx)
	}
	if err != nil {
		return nil, err
	}

	var out []models.Customer
	for _, customer := range base {
		if address.NamesOverlap(customer.Name, name) {
			out = append(out, customer)
		}
	}
	return out, nil
}

func (c *Cache) fresh() bool {
	return c.list != nil && time.Since(c.loadedAt) < c.ttl
}

// fetch loads and normalizes the whole worksheet. Row 0 is the header.
func (c *Cache) fetch(ctx context.Context) ([]models.Customer, error) {
	rows, err := c.store.Rows(ctx, c.worksheet)
	if err != nil {
		return nil, err
	}
	if len(rows) <= 1 {
		return []models.Customer{}, nil
	}

	list := make([]models.Customer, 0, len(rows)-1)
	skipped := 0
	for i, row := range rows[1:] {
		customer, ok := parseRow(row, i+1)
		if !ok {
			skipped++
			continue
		}
		list = append(list, customer)
	}

	logging.Info().Int("customers", len(list)).Int("skipped", skipped).Msg("Customer master list loaded")
	return list, nil
}

// parseRow normalizes one worksheet row. Row layout:
//
//	id | name | street | houseNumber | postal | isExisting
//
// A trailing number in the street column moves into the house-number field
// when that field is empty. Rows without an extractable house number cannot
// be matched against and are skipped with a warning.
func parseRow(row []string, index int) (models.Customer, bool) {
	customer := models.Customer{
		ID:          strings.TrimSpace(cell(row, 0)),
		Name:        strings.TrimSpace(cell(row, 1)),
		Street:      strings.TrimSpace(cell(row, 2)),
		HouseNumber: strings.TrimSpace(cell(row, 3)),
		PostalCode:  strings.TrimSpace(cell(row, 4)),
		IsExisting:  parseFlag(cell(row, 5)),
	}

	if customer.Name == "" && customer.Street == "" {
		return models.Customer{}, false
	}

	street, extracted := address.ExtractHouseNumber(customer.Street)
	if customer.HouseNumber == "" && extracted != "" {
		customer.HouseNumber = extracted
	}
	customer.Street = street

	if !housenumber.IsValid(customer.HouseNumber) {
		logging.Warn().Int("row", index).Str("name", customer.Name).Str("street", customer.Street).Msg("Customer row has no usable house number, skipping")
		return models.Customer{}, false
	}

	if customer.ID == "" {
		customer.ID = fmt.Sprintf("row-%d", index)
	}
	customer.NormalizedStreet = address.NormalizeStreet(customer.Street)
	customer.FoldedName = address.FoldName(customer.Name)
	return customer, true
}

// parseFlag reads the hand-maintained existing-customer flag. The list is
// the existing-customer ledger, so an empty cell counts as existing;
// explicit negatives (German included) turn it off.
func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "false", "0", "no", "nein":
		return false
	default:
		return true
	}
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
