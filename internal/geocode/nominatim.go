// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package geocode

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/ostiarius/internal/address"
	"github.com/tomtom215/ostiarius/internal/breaker"
	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/metrics"
	"github.com/tomtom215/ostiarius/internal/models"
)

// nominatimTimeout is the per-request timeout for geocoder calls.
const nominatimTimeout = 15 * time.Second

// countrySuffix narrows every query to Germany. Results outside Germany are
// additionally rejected by country code; the suffix alone is advisory to the
// provider.
const countrySuffix = ", Deutschland"

// NominatimClient is the primary geocoding provider, speaking the
// Nominatim-compatible search API that keyed services (LocationIQ and
// self-hosted instances) expose.
//
// Acceptance is deliberately strict: a full-address query only matches a
// building/residential object on the requested street, and every result must
// resolve inside Germany. The street-only retry accepts a plain street match
// and keeps the caller-supplied house number, trading coordinate precision
// (street centroid) for a canonical street spelling.
type NominatimClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker[[]nominatimPlace]

	// retryDelay paces the street-only retry after a missed full-address
	// query. The provider rate limit applies between those two calls too.
	retryDelay time.Duration
}

// NewNominatimClient creates the primary geocoder client. An empty baseURL
// leaves the provider permanently unavailable, which pushes every request to
// the fallback synthesizer.
func NewNominatimClient(baseURL, apiKey string) *NominatimClient {
	return &NominatimClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		client:     &http.Client{Timeout: nominatimTimeout},
		cb:         breaker.New[[]nominatimPlace]("geocoder"),
		retryDelay: time.Second,
	}
}

// Name implements Provider.
func (c *NominatimClient) Name() string { return "nominatim" }

// Available implements Provider. The client is available when configured;
// upstream outages surface through the circuit breaker as errors instead.
func (c *NominatimClient) Available() bool { return c.baseURL != "" }

// Geocode implements Provider. It issues the full-address query first and,
// when no building on the requested street comes back, waits retryDelay and
// asks for the street alone, keeping the caller's house number.
func (c *NominatimClient) Geocode(ctx context.Context, addr models.Address) (*Result, error) {
	full := FormatAddress(addr.Street, addr.HouseNumber, addr.PostalCode, addr.City) + countrySuffix
	places, err := c.query(ctx, full)
	if err != nil {
		return nil, err
	}
	if r := pickBuilding(places, addr); r != nil {
		metrics.GeocodeResults.WithLabelValues("validated").Inc()
		return r, nil
	}

	select {
	case <-time.After(c.retryDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	streetOnly := FormatAddress(addr.Street, "", addr.PostalCode, addr.City) + countrySuffix
	places, err = c.query(ctx, streetOnly)
	if err != nil {
		return nil, err
	}
	if r := pickStreet(places, addr); r != nil {
		metrics.GeocodeResults.WithLabelValues("street_retry").Inc()
		return r, nil
	}
	return nil, ErrNoMatch
}

// nominatimPlace is one entry of a /search response.
type nominatimPlace struct {
	Lat         string           `json:"lat"`
	Lon         string           `json:"lon"`
	Class       string           `json:"class"`
	Type        string           `json:"type"`
	DisplayName string           `json:"display_name"`
	Address     nominatimAddress `json:"address"`
}

type nominatimAddress struct {
	Road        string `json:"road"`
	HouseNumber string `json:"house_number"`
	Postcode    string `json:"postcode"`
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	CountryCode string `json:"country_code"`
}

// locality returns the most specific populated-place name of the result.
func (a nominatimAddress) locality() string {
	switch {
	case a.City != "":
		return a.City
	case a.Town != "":
		return a.Town
	default:
		return a.Village
	}
}

// query runs one search call through the circuit breaker.
func (c *NominatimClient) query(ctx context.Context, q string) ([]nominatimPlace, error) {
	places, err := c.cb.Execute(func() ([]nominatimPlace, error) {
		return c.search(ctx, q)
	})
	breaker.Account(c.cb, err)
	if err != nil {
		if breaker.Rejected(err) {
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Geocoder request rejected")
			return nil, fmt.Errorf("geocoder unavailable: %w", err)
		}
		return nil, err
	}
	return places, nil
}

func (c *NominatimClient) search(ctx context.Context, q string) ([]nominatimPlace, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("format", "json")
	params.Set("addressdetails", "1")
	params.Set("limit", "5")
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ostiarius/1.0 (+https://github.com/tomtom215/ostiarius)")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("geocoder search: HTTP %d: %s", resp.StatusCode, body)
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return places, nil
}

// pickBuilding selects the first German building/residential result whose
// road matches the requested street.
func pickBuilding(places []nominatimPlace, addr models.Address) *Result {
	want := address.NormalizeStreet(addr.Street)
	for _, p := range places {
		if p.Address.CountryCode != "de" || !isBuilding(p) {
			continue
		}
		if p.Address.Road == "" || address.NormalizeStreet(p.Address.Road) != want {
			continue
		}
		lat, lon, ok := coordinates(p)
		if !ok {
			continue
		}
		return &Result{
			Street:      p.Address.Road,
			HouseNumber: firstNonEmpty(p.Address.HouseNumber, addr.HouseNumber),
			PostalCode:  firstNonEmpty(p.Address.Postcode, addr.PostalCode),
			City:        firstNonEmpty(p.Address.locality(), addr.City),
			Latitude:    lat,
			Longitude:   lon,
			Validated:   true,
		}
	}
	return nil
}

// pickStreet selects the first German result carrying the requested road,
// regardless of object class. The caller-supplied house number is kept.
func pickStreet(places []nominatimPlace, addr models.Address) *Result {
	want := address.NormalizeStreet(addr.Street)
	for _, p := range places {
		if p.Address.CountryCode != "de" {
			continue
		}
		road := p.Address.Road
		if road == "" && (p.Class == "highway" || p.Class == "place") {
			// Street objects sometimes omit address.road; the display
			// name leads with the street.
			road, _, _ = strings.Cut(p.DisplayName, ",")
		}
		if road == "" || address.NormalizeStreet(road) != want {
			continue
		}
		lat, lon, ok := coordinates(p)
		if !ok {
			continue
		}
		return &Result{
			Street:      road,
			HouseNumber: addr.HouseNumber,
			PostalCode:  firstNonEmpty(p.Address.Postcode, addr.PostalCode),
			City:        firstNonEmpty(p.Address.locality(), addr.City),
			Latitude:    lat,
			Longitude:   lon,
			Validated:   true,
		}
	}
	return nil
}

// isBuilding reports whether the result denotes an addressable building
// rather than a road, area or POI.
func isBuilding(p nominatimPlace) bool {
	if p.Class == "building" {
		return true
	}
	switch p.Type {
	case "house", "residential", "apartments", "detached", "semidetached_house", "terrace":
		return true
	}
	return false
}

func coordinates(p nominatimPlace) (float64, float64, bool) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
