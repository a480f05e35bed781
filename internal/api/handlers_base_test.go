// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/ostiarius/internal/auth"
	"github.com/tomtom215/ostiarius/internal/config"
	"github.com/tomtom215/ostiarius/internal/dataset"
	"github.com/tomtom215/ostiarius/internal/daylog"
	"github.com/tomtom215/ostiarius/internal/geocode"
	"github.com/tomtom215/ostiarius/internal/history"
	"github.com/tomtom215/ostiarius/internal/models"
	"github.com/tomtom215/ostiarius/internal/tabular"
	"github.com/tomtom215/ostiarius/internal/tracking"
	"github.com/tomtom215/ostiarius/internal/users"
	"github.com/tomtom215/ostiarius/internal/writer"
)

const (
	testSecret     = "test-secret-key-with-enough-length"
	testTrackerKey = "test-tracker-api-key"
)

// stubNormalizer resolves addresses without network access, mimicking the
// canonical formatted form of the geocode queue.
type stubNormalizer struct{}

func (stubNormalizer) Normalize(_ context.Context, addr models.Address) (*models.NormalizedAddress, error) {
	formatted := strings.TrimSpace(addr.Street) + " " + strings.TrimSpace(addr.HouseNumber) +
		", " + strings.TrimSpace(addr.PostalCode) + " " + strings.TrimSpace(addr.City)
	return &models.NormalizedAddress{
		Formatted:   formatted,
		Street:      strings.TrimSpace(addr.Street),
		HouseNumber: strings.TrimSpace(addr.HouseNumber),
		PostalCode:  strings.TrimSpace(addr.PostalCode),
		City:        strings.TrimSpace(addr.City),
		Latitude:    50.9,
		Longitude:   6.9,
		Validated:   true,
	}, nil
}

// stubCustomers returns a fixed customer list for every address.
type stubCustomers struct {
	customers []models.Customer
}

func (s *stubCustomers) AtAddress(context.Context, models.Address) ([]models.Customer, error) {
	return s.customers, nil
}

// testStack bundles the wired components behind one router. Tests reach
// past the router for the pieces they assert on.
type testStack struct {
	router    http.Handler
	handler   *Handler
	engine    *dataset.Engine
	store     *tabular.MemoryStore
	writer    *writer.Writer
	customers *stubCustomers
	config    *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		Auth:         config.AuthConfig{JWTSecret: testSecret},
		ExternalPush: config.ExternalPushConfig{APIKey: testTrackerKey},
		CORS:         config.CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	return newTestStackWith(t, testConfig())
}

func newTestStackWith(t *testing.T, cfg *config.Config) *testStack {
	t.Helper()

	store := tabular.NewMemoryStore()
	seedUserWorksheet(t, store)

	engine := dataset.New(store, stubNormalizer{}, nil, dataset.Config{})
	if err := engine.Load(context.Background()); err != nil {
		t.Fatalf("Engine load failed: %v", err)
	}

	days, err := daylog.NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() {
		if err := days.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})

	w := writer.New(store, nil, nil, writer.Config{FallbackPath: filepath.Join(t.TempDir(), "fallback.ndjson")})
	directory := users.New(store, "")
	ingest := tracking.NewIngestor(days, nil)
	customers := &stubCustomers{}

	handler := NewHandler(Deps{
		Engine:    engine,
		Geocoder:  geocode.NewQueue(nil, time.Second),
		Writer:    w,
		Days:      days,
		Aggregate: tracking.NewAggregator(),
		Ingest:    ingest,
		External:  tracking.NewExternal(directory, ingest, store, tracking.ExternalConfig{}),
		Directory: directory,
		Overlay:   history.New(engine, customers),
		Config:    cfg,
	})

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	return &testStack{
		router:    NewRouter(handler, verifier, nil, cfg).Setup(),
		handler:   handler,
		engine:    engine,
		store:     store,
		writer:    w,
		customers: customers,
		config:    cfg,
	}
}

// seedUserWorksheet fills the directory worksheet with the known field
// users. Row layout: id | username | fullName | deviceId | active.
func seedUserWorksheet(t *testing.T, store *tabular.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	if err := store.EnsureWorksheet(ctx, users.DefaultWorksheet, []string{"id", "username", "fullName", "deviceId", "active"}); err != nil {
		t.Fatalf("EnsureWorksheet failed: %v", err)
	}
	rows := [][]string{
		{"u1", "anna", "Anna Schulz", "device-1", "true"},
		{"u2", "mweber", "Markus Weber", "", "true"},
		{"u3", "altgeraet", "Altes Gerät", "device-3", "false"},
	}
	if err := store.AppendBatch(ctx, users.DefaultWorksheet, rows); err != nil {
		t.Fatalf("AppendBatch failed: %v", err)
	}
}

func bearerToken(t *testing.T, username string) string {
	t.Helper()
	return signToken(t, auth.Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
}

func expiredToken(t *testing.T, username string) string {
	t.Helper()
	return signToken(t, auth.Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	})
}

func signToken(t *testing.T, claims auth.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("Failed to sign test token: %v", err)
	}
	return signed
}

// doRequest runs one request through the router. body may be nil; a
// non-empty username attaches a bearer token.
func (s *testStack) doRequest(t *testing.T, method, path, username string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if username != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken(t, username))
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

// dataMap returns the envelope data as a map for field-level asserts.
func dataMap(t *testing.T, resp models.APIResponse) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected object data, got %T", resp.Data)
	}
	return m
}

// decodeData re-marshals the envelope data into a typed value.
func decodeData(t *testing.T, resp models.APIResponse, dst interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("Failed to re-marshal data: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("Failed to decode data: %v", err)
	}
}

func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) models.APIResponse {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("Expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	if resp.Status != "error" {
		t.Errorf("Expected status error, got %q", resp.Status)
	}
	if resp.Error == nil {
		t.Fatal("Expected error payload in envelope")
	}
	if resp.Error.Code != code {
		t.Errorf("Expected error code %s, got %s", code, resp.Error.Code)
	}
	return resp
}

func testAddress() models.Address {
	return models.Address{Street: "Hauptstraße", HouseNumber: "12", PostalCode: "50667", City: "Köln"}
}

// createTestDataset creates one dataset through the API and returns it.
func (s *testStack) createTestDataset(t *testing.T, username string, addr models.Address, residents []models.Resident) models.AddressDataset {
	t.Helper()
	rec := s.doRequest(t, http.MethodPost, "/api/v1/datasets", username, createDatasetRequest{
		Address:           addr,
		EditableResidents: residents,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var ds models.AddressDataset
	decodeData(t, decodeEnvelope(t, rec), &ds)
	return ds
}
