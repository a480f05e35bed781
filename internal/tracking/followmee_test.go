// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package tracking

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/ostiarius/internal/daykey"
	"github.com/tomtom215/ostiarius/internal/models"
	"github.com/tomtom215/ostiarius/internal/tabular"
	"github.com/tomtom215/ostiarius/internal/users"
)

func TestFollowMeeClient_FetchParsesPoints(t *testing.T) {
	var gotPath string
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = map[string]string{}
		for key := range r.URL.Query() {
			gotQuery[key] = r.URL.Query().Get(key)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Data":[
			{"Date":"2026-08-20T10:15:00","Latitude":50.9375,"Longitude":6.9603,"Accuracy":12.5},
			{"Date":"2026-08-20T12:30:00+02:00","Latitude":50.938,"Longitude":6.961},
			{"Date":"not-a-date","Latitude":1,"Longitude":1}
		]}`))
	}))
	defer server.Close()

	client := NewFollowMeeClient(server.URL, "key-1", "acct")
	from := time.Date(2026, 8, 20, 9, 0, 0, 0, daykey.Location())
	points, err := client.Locations(context.Background(), "dev-1", from, from.Add(time.Hour))
	if err != nil {
		t.Fatalf("Locations failed: %v", err)
	}

	if gotPath != "/tracks.aspx" {
		t.Errorf("Expected /tracks.aspx, got %q", gotPath)
	}
	for key, want := range map[string]string{
		"key":      "key-1",
		"username": "acct",
		"deviceid": "dev-1",
		"function": "daterangefordevice",
		"output":   "json",
		"from":     "2026-08-20T09:00:00",
	} {
		if gotQuery[key] != want {
			t.Errorf("Expected query %s=%q, got %q", key, want, gotQuery[key])
		}
	}

	if len(points) != 2 {
		t.Fatalf("Expected 2 points (bad date skipped), got %d", len(points))
	}
	wantFirst := time.Date(2026, 8, 20, 10, 15, 0, 0, daykey.Location())
	if !points[0].Time.Equal(wantFirst) {
		t.Errorf("Expected bare date read as local time %v, got %v", wantFirst, points[0].Time)
	}
	if points[0].Latitude != 50.9375 || points[0].Longitude != 6.9603 {
		t.Errorf("Unexpected coordinates: %+v", points[0])
	}
	if points[0].Accuracy == nil || *points[0].Accuracy != 12.5 {
		t.Errorf("Expected accuracy 12.5, got %v", points[0].Accuracy)
	}
	wantSecond := time.Date(2026, 8, 20, 12, 30, 0, 0, daykey.Location())
	if !points[1].Time.Equal(wantSecond) {
		t.Errorf("Expected zoned date %v, got %v", wantSecond, points[1].Time)
	}
	if points[0].DeviceID != "dev-1" {
		t.Errorf("Expected device carried onto the point, got %q", points[0].DeviceID)
	}
}

func TestFollowMeeClient_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Error":"Invalid API Key","Data":[]}`))
	}))
	defer server.Close()

	client := NewFollowMeeClient(server.URL, "bad-key", "acct")
	_, err := client.Locations(context.Background(), "dev-1", time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("Expected an error for an in-band provider error")
	}
	if !strings.Contains(err.Error(), "Invalid API Key") {
		t.Errorf("Expected the provider message in the error, got %v", err)
	}
}

func TestFollowMeeClient_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewFollowMeeClient(server.URL, "key-1", "acct")
	_, err := client.Locations(context.Background(), "dev-1", time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("Expected an error for HTTP 500")
	}
	if !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("Expected the status in the error, got %v", err)
	}
}

func TestFollowMeeClient_Available(t *testing.T) {
	if NewFollowMeeClient("", "key", "acct").Available() {
		t.Error("Expected unavailable without a base URL")
	}
	if NewFollowMeeClient("https://www.followmee.com", "", "acct").Available() {
		t.Error("Expected unavailable without an API key")
	}
	if !NewFollowMeeClient("https://www.followmee.com", "key", "acct").Available() {
		t.Error("Expected available with URL and key")
	}
}

type stubProvider struct {
	mu         sync.Mutex
	available  bool
	points     []ProviderPoint
	err        error
	failDevice string
	calls      int
	devices    []string
}

func (s *stubProvider) Locations(_ context.Context, deviceID string, _, _ time.Time) ([]ProviderPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.devices = append(s.devices, deviceID)
	if s.err != nil {
		return nil, s.err
	}
	if s.failDevice != "" && deviceID == s.failDevice {
		return nil, errors.New("device offline")
	}
	var out []ProviderPoint
	for _, p := range s.points {
		if p.DeviceID == deviceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubProvider) Available() bool { return s.available }

type stubIngest struct {
	mu       sync.Mutex
	failOnce bool
	batches  [][]models.LocationPoint
}

func (s *stubIngest) IngestLocations(_ context.Context, _ models.User, points []models.LocationPoint, _ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOnce {
		s.failOnce = false
		return 0, errors.New("store unavailable")
	}
	batch := make([]models.LocationPoint, len(points))
	copy(batch, points)
	s.batches = append(s.batches, batch)
	return len(points), nil
}

func providerFixes(base time.Time) []ProviderPoint {
	return []ProviderPoint{
		{DeviceID: "dev-1", Time: base, Latitude: 50.9375, Longitude: 6.9603},
		{DeviceID: "dev-1", Time: base.Add(time.Minute), Latitude: 50.9380, Longitude: 6.9610},
	}
}

func TestPoller_DedupsAcrossCycles(t *testing.T) {
	store := tabular.NewMemoryStore()
	directory := seedUsers(t, store)
	days := newTestDaylog(t)
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, daykey.Location())
	provider := &stubProvider{available: true, points: providerFixes(base)}
	poller := NewPoller(provider, directory, NewIngestor(days, nil), 0, 0)

	ctx := context.Background()
	poller.poll(ctx)
	poller.poll(ctx)

	if provider.calls != 2 {
		t.Errorf("Expected 2 provider calls, got %d", provider.calls)
	}
	if len(provider.devices) > 0 && provider.devices[0] != "dev-1" {
		t.Errorf("Expected pull for dev-1, got %q", provider.devices[0])
	}

	entries := entriesOfType(t, days, "2026-08-20", "u1", models.LogTypeGPS)
	if len(entries) != 2 {
		t.Errorf("Expected overlapping cycles to store each fix once, got %d entries", len(entries))
	}
}

func TestPoller_RetriesAfterFailedIngest(t *testing.T) {
	store := tabular.NewMemoryStore()
	directory := seedUsers(t, store)
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, daykey.Location())
	provider := &stubProvider{available: true, points: providerFixes(base)}
	ingest := &stubIngest{failOnce: true}
	poller := NewPoller(provider, directory, ingest, 0, 0)

	ctx := context.Background()
	poller.poll(ctx)
	if len(ingest.batches) != 0 {
		t.Fatalf("Expected the first cycle to fail, got %d batches", len(ingest.batches))
	}

	poller.poll(ctx)
	if len(ingest.batches) != 1 {
		t.Fatalf("Expected the second cycle to retry, got %d batches", len(ingest.batches))
	}
	if len(ingest.batches[0]) != 2 {
		t.Errorf("Expected both fixes retried, got %d", len(ingest.batches[0]))
	}
	if ingest.batches[0][0].Source != models.SourceFollowMee {
		t.Errorf("Expected source followmee, got %q", ingest.batches[0][0].Source)
	}

	poller.poll(ctx)
	if len(ingest.batches) != 1 {
		t.Errorf("Expected no re-ingest after success, got %d batches", len(ingest.batches))
	}
}

func TestPoller_DeviceFailureDoesNotBlockOthers(t *testing.T) {
	store := tabular.NewMemoryStore()
	ctx := context.Background()
	if err := store.EnsureWorksheet(ctx, "users", []string{"id", "username", "fullName", "deviceId", "active"}); err != nil {
		t.Fatalf("EnsureWorksheet failed: %v", err)
	}
	if err := store.AppendBatch(ctx, "users", [][]string{
		{"u1", "anna", "Anna Schmidt", "dev-1", ""},
		{"u2", "joerg", "Jörg Weber", "dev-2", ""},
	}); err != nil {
		t.Fatalf("AppendBatch failed: %v", err)
	}
	directory := users.New(store, "users")

	base := time.Date(2026, 8, 20, 10, 0, 0, 0, daykey.Location())
	provider := &stubProvider{
		available:  true,
		failDevice: "dev-1",
		points: []ProviderPoint{
			{DeviceID: "dev-2", Time: base, Latitude: 50.9500, Longitude: 6.9700},
		},
	}
	ingest := &stubIngest{}
	poller := NewPoller(provider, directory, ingest, 0, 0)

	poller.poll(ctx)

	if provider.calls != 2 {
		t.Errorf("Expected both devices pulled, got %d calls", provider.calls)
	}
	if len(ingest.batches) != 1 {
		t.Fatalf("Expected the healthy device ingested, got %d batches", len(ingest.batches))
	}
	if len(ingest.batches[0]) != 1 {
		t.Errorf("Expected 1 fix from dev-2, got %d", len(ingest.batches[0]))
	}
}

func TestPoller_ProviderErrorSkipsIngest(t *testing.T) {
	store := tabular.NewMemoryStore()
	directory := seedUsers(t, store)
	provider := &stubProvider{available: true, err: errors.New("connection refused")}
	ingest := &stubIngest{}
	poller := NewPoller(provider, directory, ingest, 0, 0)

	poller.poll(context.Background())
	if provider.calls != 1 {
		t.Errorf("Expected 1 provider call, got %d", provider.calls)
	}
	if len(ingest.batches) != 0 {
		t.Errorf("Expected no ingest on provider failure, got %d batches", len(ingest.batches))
	}
}

func TestPoller_IdlesWhenUnavailable(t *testing.T) {
	store := tabular.NewMemoryStore()
	directory := seedUsers(t, store)
	provider := &stubProvider{available: false}
	poller := NewPoller(provider, directory, &stubIngest{}, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- poller.Serve(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	if provider.calls != 0 {
		t.Errorf("Expected no provider calls while unconfigured, got %d", provider.calls)
	}
}
