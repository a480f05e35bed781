// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/tomtom215/ostiarius/internal/auth"
	"github.com/tomtom215/ostiarius/internal/dataset"
	"github.com/tomtom215/ostiarius/internal/daykey"
	"github.com/tomtom215/ostiarius/internal/models"
	"github.com/tomtom215/ostiarius/internal/tabular"
)

func TestHealth(t *testing.T) {
	s := newTestStack(t)

	rec := s.doRequest(t, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeEnvelope(t, rec)
	if resp.Status != "success" {
		t.Errorf("Expected status 'success', got '%s'", resp.Status)
	}
	data := dataMap(t, resp)
	if data["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", data["status"])
	}
	if _, ok := data["uptime"]; !ok {
		t.Error("Expected uptime in health data")
	}
}

func TestReady_Loaded(t *testing.T) {
	s := newTestStack(t)

	rec := s.doRequest(t, http.MethodGet, "/api/v1/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeEnvelope(t, rec)
	if resp.Status != "ready" {
		t.Errorf("Expected status 'ready', got '%s'", resp.Status)
	}
	data := dataMap(t, resp)
	if ready, _ := data["ready_to_serve"].(bool); !ready {
		t.Error("Expected ready_to_serve true after engine load")
	}
}

func TestReady_BeforeLoad(t *testing.T) {
	cfg := testConfig()
	engine := dataset.New(tabular.NewMemoryStore(), stubNormalizer{}, nil, dataset.Config{})
	handler := NewHandler(Deps{Engine: engine, Config: cfg})
	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	s := &testStack{router: NewRouter(handler, verifier, nil, cfg).Setup()}

	rec := s.doRequest(t, http.MethodGet, "/api/v1/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503 before load, got %d", rec.Code)
	}

	resp := decodeEnvelope(t, rec)
	if resp.Status != "not_ready" {
		t.Errorf("Expected status 'not_ready', got '%s'", resp.Status)
	}
	data := dataMap(t, resp)
	if ready, _ := data["ready_to_serve"].(bool); ready {
		t.Error("Expected ready_to_serve false before engine load")
	}
}

func TestMonitorGeocode(t *testing.T) {
	s := newTestStack(t)

	rec := s.doRequest(t, http.MethodGet, "/api/v1/monitoring/geocode", "anna", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var status models.GeocodeQueueStatus
	decodeData(t, decodeEnvelope(t, rec), &status)
	if status.QueueLength != 0 {
		t.Errorf("Expected empty geocode queue, got %d", status.QueueLength)
	}
	if status.Processing {
		t.Error("Expected geocode queue to be idle")
	}
}

func TestMonitorWriter(t *testing.T) {
	s := newTestStack(t)

	rec := s.doRequest(t, http.MethodGet, "/api/v1/monitoring/writer", "anna", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var status models.WriterStatus
	decodeData(t, decodeEnvelope(t, rec), &status)
	if status.Suspended {
		t.Error("Expected writer not suspended")
	}
	if status.QueuedEntries != 0 {
		t.Errorf("Expected empty writer queues, got %d entries", status.QueuedEntries)
	}
}

func TestMonitorDaylog(t *testing.T) {
	s := newTestStack(t)

	// One ingested point makes today's store exist
	rec := s.doRequest(t, http.MethodPost, "/api/v1/tracking/location", "anna", testPoint(nowMillis()))
	if rec.Code != http.StatusOK {
		t.Fatalf("Ingest failed with status %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.doRequest(t, http.MethodGet, "/api/v1/monitoring/daylog", "anna", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result daylogMonitorResponse
	decodeData(t, decodeEnvelope(t, rec), &result)
	today := daykey.FromTime(time.Now())
	if result.Today.Date != today {
		t.Errorf("Expected today %s, got %s", today, result.Today.Date)
	}
	if !result.Today.Exists {
		t.Error("Expected today's store to exist after ingest")
	}
	if result.Today.RowCount != 1 {
		t.Errorf("Expected 1 row in today's store, got %d", result.Today.RowCount)
	}
	found := false
	for _, date := range result.Dates {
		if date == today {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected %s in dates, got %v", today, result.Dates)
	}
}

func TestMonitoring_Unauthenticated(t *testing.T) {
	s := newTestStack(t)

	for _, path := range []string{
		"/api/v1/monitoring/geocode",
		"/api/v1/monitoring/writer",
		"/api/v1/monitoring/daylog",
	} {
		rec := s.doRequest(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected status 401 for %s, got %d", path, rec.Code)
		}
	}
}

// Readiness flips once Load succeeds, without restarting the router.
func TestReady_FlipsAfterLoad(t *testing.T) {
	cfg := testConfig()
	engine := dataset.New(tabular.NewMemoryStore(), stubNormalizer{}, nil, dataset.Config{})
	handler := NewHandler(Deps{Engine: engine, Config: cfg})
	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	s := &testStack{router: NewRouter(handler, verifier, nil, cfg).Setup()}

	rec := s.doRequest(t, http.MethodGet, "/api/v1/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503 before load, got %d", rec.Code)
	}

	if err := engine.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	rec = s.doRequest(t, http.MethodGet, "/api/v1/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 after load, got %d", rec.Code)
	}
}
