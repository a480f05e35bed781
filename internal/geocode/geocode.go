// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

// Package geocode turns user-supplied addresses into canonical normalized
// addresses.
//
// Providers are tried in order until one answers; the terminal provider is a
// local synthesizer that concatenates the input fields, so normalization
// always produces an address even with every geocoder down. All provider
// traffic runs through a single serial queue (see Queue) that spaces
// requests to respect the upstream rate limit.
package geocode

import (
	"context"
	"errors"
	"strings"

	"github.com/tomtom215/ostiarius/internal/metrics"
	"github.com/tomtom215/ostiarius/internal/models"
)

// ErrNoMatch is returned by a provider when it answered but produced no
// acceptable result for the address. The queue falls through to the next
// provider.
var ErrNoMatch = errors.New("geocode: no matching result")

// Result is one provider's answer for an address. Validated is false only
// for synthesized results that never saw a geocoder.
type Result struct {
	Street      string
	HouseNumber string
	PostalCode  string
	City        string
	Latitude    float64
	Longitude   float64
	Validated   bool
}

// Provider is a single geocoding backend.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, addr models.Address) (*Result, error)
	Available() bool
}

// FormatAddress renders the canonical formatted form "street number, postal
// city". Two normalized addresses are the same address iff these strings are
// byte-equal, so every producer goes through here.
func FormatAddress(street, houseNumber, postalCode, city string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(street))
	if n := strings.TrimSpace(houseNumber); n != "" {
		b.WriteString(" ")
		b.WriteString(n)
	}
	b.WriteString(", ")
	b.WriteString(strings.TrimSpace(postalCode))
	if c := strings.TrimSpace(city); c != "" {
		b.WriteString(" ")
		b.WriteString(c)
	}
	return b.String()
}

// Normalized converts a provider result into the canonical normalized
// address.
func Normalized(r *Result) *models.NormalizedAddress {
	return &models.NormalizedAddress{
		Formatted:   FormatAddress(r.Street, r.HouseNumber, r.PostalCode, r.City),
		Street:      strings.TrimSpace(r.Street),
		HouseNumber: strings.TrimSpace(r.HouseNumber),
		PostalCode:  strings.TrimSpace(r.PostalCode),
		City:        strings.TrimSpace(r.City),
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Validated:   r.Validated,
	}
}

// Synthesizer is the terminal fallback provider. It never talks to the
// network: the result is the trimmed input concatenation, unvalidated and
// without coordinates. Upstream address comparisons still work because the
// formatted form is deterministic.
type Synthesizer struct{}

// Name implements Provider.
func (Synthesizer) Name() string { return "concatenation" }

// Available implements Provider.
func (Synthesizer) Available() bool { return true }

// Geocode implements Provider. It cannot fail.
func (Synthesizer) Geocode(_ context.Context, addr models.Address) (*Result, error) {
	metrics.GeocodeResults.WithLabelValues("fallback").Inc()
	return &Result{
		Street:      strings.TrimSpace(addr.Street),
		HouseNumber: strings.TrimSpace(addr.HouseNumber),
		PostalCode:  strings.TrimSpace(addr.PostalCode),
		City:        strings.TrimSpace(addr.City),
		Validated:   false,
	}, nil
}
