// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/ostiarius/internal/models"
)

func TestFormatAddress(t *testing.T) {
	tests := []struct {
		name     string
		street   string
		number   string
		postal   string
		city     string
		expected string
	}{
		{"full", "Hauptstraße", "5", "50667", "Köln", "Hauptstraße 5, 50667 Köln"},
		{"no city", "Hauptstraße", "5", "50667", "", "Hauptstraße 5, 50667"},
		{"no number", "Hauptstraße", "", "50667", "Köln", "Hauptstraße, 50667 Köln"},
		{"untrimmed input", " Hauptstraße ", " 5 ", " 50667 ", " Köln ", "Hauptstraße 5, 50667 Köln"},
		{"range expression", "Ringweg", "1-5", "10115", "Berlin", "Ringweg 1-5, 10115 Berlin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatAddress(tt.street, tt.number, tt.postal, tt.city)
			if got != tt.expected {
				t.Errorf("FormatAddress = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestSynthesizer_AlwaysAnswersUnvalidated(t *testing.T) {
	r, err := Synthesizer{}.Geocode(context.Background(), models.Address{
		Street:      "Hauptstraße",
		HouseNumber: "5",
		PostalCode:  "50667",
		City:        "Köln",
	})
	if err != nil {
		t.Fatalf("Synthesizer.Geocode failed: %v", err)
	}
	if r.Validated {
		t.Error("Expected synthesized result to be unvalidated")
	}

	norm := Normalized(r)
	if norm.Formatted != "Hauptstraße 5, 50667 Köln" {
		t.Errorf("Expected concatenated formatted address, got %q", norm.Formatted)
	}
	if norm.Latitude != 0 || norm.Longitude != 0 {
		t.Errorf("Expected no coordinates on synthesized result, got %f/%f", norm.Latitude, norm.Longitude)
	}
}

func TestNominatimClient_AcceptsBuildingOnStreet(t *testing.T) {
	var gotQuery, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotKey = r.URL.Query().Get("key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"lat":"50.9375","lon":"6.9603","class":"shop","type":"bakery",
			 "address":{"road":"Hauptstraße","postcode":"50667","city":"Köln","country_code":"de"}},
			{"lat":"50.9376","lon":"6.9604","class":"building","type":"yes",
			 "address":{"road":"Hauptstraße","house_number":"5","postcode":"50667","city":"Köln","country_code":"de"}}
		]`))
	}))
	defer server.Close()

	c := NewNominatimClient(server.URL, "test-key")
	r, err := c.Geocode(context.Background(), models.Address{
		Street:      "Hauptstr.",
		HouseNumber: "5",
		PostalCode:  "50667",
		City:        "Köln",
	})
	if err != nil {
		t.Fatalf("Geocode failed: %v", err)
	}

	if !strings.Contains(gotQuery, "Deutschland") {
		t.Errorf("Expected query to carry the country suffix, got %q", gotQuery)
	}
	if gotKey != "test-key" {
		t.Errorf("Expected api key on request, got %q", gotKey)
	}
	if !r.Validated {
		t.Error("Expected geocoder result to be validated")
	}
	if r.Street != "Hauptstraße" {
		t.Errorf("Expected canonical street spelling from the provider, got %q", r.Street)
	}
	if r.HouseNumber != "5" {
		t.Errorf("Expected house number 5, got %q", r.HouseNumber)
	}
	if r.Latitude != 50.9376 || r.Longitude != 6.9604 {
		t.Errorf("Expected building coordinates, got %f/%f", r.Latitude, r.Longitude)
	}
}

func TestNominatimClient_StreetRetryKeepsCallerNumber(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		mu.Lock()
		queries = append(queries, q)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(q, "23") {
			// Full-address query: nothing acceptable.
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[
			{"lat":"52.5200","lon":"13.4050","class":"highway","type":"residential",
			 "address":{"road":"Ringweg","postcode":"10115","city":"Berlin","country_code":"de"}}
		]`))
	}))
	defer server.Close()

	c := NewNominatimClient(server.URL, "")
	c.retryDelay = time.Millisecond

	r, err := c.Geocode(context.Background(), models.Address{
		Street:      "Ringweg",
		HouseNumber: "23",
		PostalCode:  "10115",
		City:        "Berlin",
	})
	if err != nil {
		t.Fatalf("Geocode failed: %v", err)
	}

	mu.Lock()
	calls := len(queries)
	mu.Unlock()
	if calls != 2 {
		t.Fatalf("Expected full query then street-only retry, got %d calls", calls)
	}
	if r.HouseNumber != "23" {
		t.Errorf("Expected caller house number kept on street retry, got %q", r.HouseNumber)
	}
	if r.Street != "Ringweg" {
		t.Errorf("Expected street from provider, got %q", r.Street)
	}
	if !r.Validated {
		t.Error("Expected street-retry result to be validated")
	}
}

func TestNominatimClient_RejectsNonGermanResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"lat":"48.2082","lon":"16.3738","class":"building","type":"yes",
			 "address":{"road":"Hauptstraße","house_number":"5","postcode":"1010","city":"Wien","country_code":"at"}}
		]`))
	}))
	defer server.Close()

	c := NewNominatimClient(server.URL, "")
	c.retryDelay = time.Millisecond

	_, err := c.Geocode(context.Background(), models.Address{
		Street:      "Hauptstraße",
		HouseNumber: "5",
		PostalCode:  "1010",
		City:        "Wien",
	})
	if !errors.Is(err, ErrNoMatch) {
		t.Errorf("Expected ErrNoMatch for non-German results, got %v", err)
	}
}

func TestNominatimClient_UnconfiguredIsUnavailable(t *testing.T) {
	c := NewNominatimClient("", "")
	if c.Available() {
		t.Error("Expected unconfigured client to be unavailable")
	}
}

// scriptedProvider is a test double with a programmable answer.
type scriptedProvider struct {
	available bool
	fn        func(models.Address) (*Result, error)

	mu    sync.Mutex
	calls []models.Address
}

func (p *scriptedProvider) Name() string    { return "scripted" }
func (p *scriptedProvider) Available() bool { return p.available }

func (p *scriptedProvider) Geocode(_ context.Context, addr models.Address) (*Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, addr)
	p.mu.Unlock()
	return p.fn(addr)
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func startQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = q.Serve(ctx)
	}()
}

func TestQueue_ResolvesThroughProvider(t *testing.T) {
	provider := &scriptedProvider{
		available: true,
		fn: func(addr models.Address) (*Result, error) {
			return &Result{
				Street:      addr.Street,
				HouseNumber: addr.HouseNumber,
				PostalCode:  addr.PostalCode,
				City:        addr.City,
				Latitude:    50.0,
				Longitude:   6.0,
				Validated:   true,
			}, nil
		},
	}
	q := NewQueue([]Provider{provider}, time.Millisecond)
	startQueue(t, q)

	norm, err := q.Normalize(context.Background(), models.Address{
		Street: "Hauptstraße", HouseNumber: "5", PostalCode: "50667", City: "Köln",
	})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if !norm.Validated {
		t.Error("Expected validated result from provider")
	}
	if norm.Formatted != "Hauptstraße 5, 50667 Köln" {
		t.Errorf("Unexpected formatted address %q", norm.Formatted)
	}
}

func TestQueue_FallsBackWhenProviderFails(t *testing.T) {
	provider := &scriptedProvider{
		available: true,
		fn: func(models.Address) (*Result, error) {
			return nil, errors.New("upstream down")
		},
	}
	q := NewQueue([]Provider{provider}, time.Millisecond)
	startQueue(t, q)

	norm, err := q.Normalize(context.Background(), models.Address{
		Street: "Hauptstraße", HouseNumber: "5", PostalCode: "50667", City: "Köln",
	})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if norm.Validated {
		t.Error("Expected fallback result to be unvalidated")
	}
	if norm.Formatted != "Hauptstraße 5, 50667 Köln" {
		t.Errorf("Expected concatenated fallback, got %q", norm.Formatted)
	}
	if provider.callCount() != 1 {
		t.Errorf("Expected exactly one provider attempt, got %d", provider.callCount())
	}
}

func TestQueue_SkipsUnavailableProvider(t *testing.T) {
	unavailable := &scriptedProvider{
		available: false,
		fn: func(models.Address) (*Result, error) {
			t.Error("Unavailable provider must not be called")
			return nil, ErrNoMatch
		},
	}
	q := NewQueue([]Provider{unavailable}, time.Millisecond)
	startQueue(t, q)

	norm, err := q.Normalize(context.Background(), models.Address{
		Street: "Nebenweg", HouseNumber: "2", PostalCode: "10115",
	})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if norm.Validated {
		t.Error("Expected synthesized result when no provider is available")
	}
	if norm.Formatted != "Nebenweg 2, 10115" {
		t.Errorf("Expected city-less concatenation, got %q", norm.Formatted)
	}
}

func TestQueue_CallerTimeoutDoesNotCancelTurn(t *testing.T) {
	executed := make(chan string, 2)
	provider := &scriptedProvider{
		available: true,
		fn: func(addr models.Address) (*Result, error) {
			time.Sleep(30 * time.Millisecond)
			executed <- addr.Street
			return &Result{Street: addr.Street, PostalCode: addr.PostalCode, Validated: true}, nil
		},
	}
	q := NewQueue([]Provider{provider}, time.Millisecond)
	startQueue(t, q)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := q.Normalize(ctx, models.Address{Street: "Abandoned", PostalCode: "10115"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline error for abandoned caller, got %v", err)
	}

	// The abandoned turn still executes at its slot.
	select {
	case street := <-executed:
		if street != "Abandoned" {
			t.Errorf("Expected abandoned turn to execute, got %q", street)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Abandoned turn was never executed")
	}

	norm, err := q.Normalize(context.Background(), models.Address{Street: "Ringweg", PostalCode: "10115"})
	if err != nil {
		t.Fatalf("Normalize after abandoned turn failed: %v", err)
	}
	if norm.Street != "Ringweg" {
		t.Errorf("Expected follow-up caller to get its own result, got %q", norm.Street)
	}
}

func TestQueue_StatusSnapshot(t *testing.T) {
	provider := &scriptedProvider{
		available: true,
		fn: func(addr models.Address) (*Result, error) {
			return &Result{Street: addr.Street, PostalCode: addr.PostalCode, Validated: true}, nil
		},
	}
	q := NewQueue([]Provider{provider}, time.Millisecond)

	st := q.Status()
	if st.QueueLength != 0 || st.Processing || st.LastRequestAt != nil {
		t.Errorf("Expected idle status before first request, got %+v", st)
	}

	startQueue(t, q)
	if _, err := q.Normalize(context.Background(), models.Address{Street: "Hauptstraße", PostalCode: "50667"}); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	st = q.Status()
	if st.QueueLength != 0 {
		t.Errorf("Expected empty queue after completion, got %d", st.QueueLength)
	}
	if st.LastRequestAt == nil {
		t.Error("Expected lastRequestAt to be stamped after a request")
	}
}

func TestQueue_PacesProviderRequests(t *testing.T) {
	provider := &scriptedProvider{
		available: true,
		fn: func(addr models.Address) (*Result, error) {
			return &Result{Street: addr.Street, PostalCode: addr.PostalCode, Validated: true}, nil
		},
	}
	q := NewQueue([]Provider{provider}, 40*time.Millisecond)
	startQueue(t, q)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := q.Normalize(ctx, models.Address{Street: "Hauptstraße", PostalCode: "50667"}); err != nil {
			t.Fatalf("Normalize %d failed: %v", i, err)
		}
	}

	// The first turn spends the burst token; the remaining two each wait
	// out the configured interval.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("Expected at least two spacing intervals across three turns, took %v", elapsed)
	}
	if provider.callCount() != 3 {
		t.Errorf("Expected 3 provider calls, got %d", provider.callCount())
	}
}
