// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// minimalEnv sets the smallest environment that passes validation: a JWT
// secret and the embedded backing store, so no remote credentials are needed.
func minimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OSTIARIUS_JWT_SECRET", "test-secret-with-at-least-32-characters")
	t.Setenv("OSTIARIUS_BACKING_STORE_KIND", "local")
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	minimalEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.Address() != "0.0.0.0:8080" {
		t.Errorf("Expected address 0.0.0.0:8080, got %q", cfg.Server.Address())
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default log level info, got %q", cfg.Logging.Level)
	}
	if cfg.Flush.WriterInterval() != 30*time.Second {
		t.Errorf("Expected writer interval 30s, got %v", cfg.Flush.WriterInterval())
	}
	if cfg.Tracker.PollInterval() != 5*time.Minute {
		t.Errorf("Expected tracker poll interval 5m, got %v", cfg.Tracker.PollInterval())
	}
	if cfg.RetentionDays != 7 {
		t.Errorf("Expected retention 7 days, got %d", cfg.RetentionDays)
	}
	if cfg.EditWindowDays != 30 {
		t.Errorf("Expected edit window 30 days, got %d", cfg.EditWindowDays)
	}
	if cfg.BackingStore.DatasetWorksheet != "datasets" {
		t.Errorf("Expected dataset worksheet datasets, got %q", cfg.BackingStore.DatasetWorksheet)
	}
	if cfg.BackingStore.AuthWorksheet != "auth-log" {
		t.Errorf("Expected auth worksheet auth-log, got %q", cfg.BackingStore.AuthWorksheet)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "*" {
		t.Errorf("Expected default CORS origins [*], got %v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Expected metrics enabled by default")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	minimalEnv(t)
	path := writeConfigFile(t, `
server:
  port: 9090
  readTimeout: 5s
logging:
  level: debug
flush:
  writerIntervalMs: 5000
locks:
  timeoutMs: 10000
`)
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090 from file, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("Expected read timeout 5s from file, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected level debug from file, got %q", cfg.Logging.Level)
	}
	if cfg.Flush.WriterInterval() != 5*time.Second {
		t.Errorf("Expected writer interval 5s from file, got %v", cfg.Flush.WriterInterval())
	}
	if cfg.Locks.Timeout() != 10*time.Second {
		t.Errorf("Expected lock timeout 10s from file, got %v", cfg.Locks.Timeout())
	}
	// Untouched keys keep their defaults.
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Expected default write timeout 30s, got %v", cfg.Server.WriteTimeout)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	minimalEnv(t)
	path := writeConfigFile(t, "server:\n  port: 9090\n")
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("OSTIARIUS_SERVER_PORT", "7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Expected env port 7070 to win over file, got %d", cfg.Server.Port)
	}
}

func TestLoad_UnmappedEnvIgnored(t *testing.T) {
	minimalEnv(t)
	t.Setenv("OSTIARIUS_NO_SUCH_SETTING", "whatever")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected defaults untouched by unmapped var, got port %d", cfg.Server.Port)
	}
}

func TestLoad_CORSOriginsFromEnv(t *testing.T) {
	minimalEnv(t)
	t.Setenv("OSTIARIUS_CORS_ORIGINS", "https://app.example.com, https://staging.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 {
		t.Fatalf("Expected 2 origins, got %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.CORS.AllowedOrigins[1] != "https://staging.example.com" {
		t.Errorf("Expected trimmed second origin, got %q", cfg.CORS.AllowedOrigins[1])
	}
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	minimalEnv(t)
	t.Setenv("OSTIARIUS_SERVER_PORT", "0")

	if _, err := Load(); err == nil {
		t.Error("Expected validation error for port 0, got nil")
	}
}

func TestLoad_RemoteStoreRequiresCredentials(t *testing.T) {
	t.Setenv("OSTIARIUS_JWT_SECRET", "test-secret-with-at-least-32-characters")
	t.Setenv("OSTIARIUS_BACKING_STORE_KIND", "remote")
	t.Setenv("OSTIARIUS_BACKING_STORE_BASE_URL", "https://sheets.example.com/v1")

	if _, err := Load(); err == nil {
		t.Error("Expected error for remote store without credentials, got nil")
	}

	t.Setenv("OSTIARIUS_BACKING_STORE_CREDENTIALS", "token-123")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed with credentials set: %v", err)
	}
	if cfg.BackingStore.Credentials != "token-123" {
		t.Errorf("Expected credentials to pass through, got %q", cfg.BackingStore.Credentials)
	}
}

func TestLoad_EncryptedSecretDecrypted(t *testing.T) {
	enc, err := NewEncryptor("operator-passphrase")
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	sealed, err := enc.Encrypt("sheets-token-secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	t.Setenv("OSTIARIUS_JWT_SECRET", "test-secret-with-at-least-32-characters")
	t.Setenv("OSTIARIUS_BACKING_STORE_KIND", "remote")
	t.Setenv("OSTIARIUS_BACKING_STORE_BASE_URL", "https://sheets.example.com/v1")
	t.Setenv("OSTIARIUS_BACKING_STORE_CREDENTIALS", sealed)
	t.Setenv(EncryptionKeyEnvVar, "operator-passphrase")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BackingStore.Credentials != "sheets-token-secret" {
		t.Errorf("Expected decrypted credentials, got %q", cfg.BackingStore.Credentials)
	}
}

func TestLoad_EncryptedSecretWithoutKeyFails(t *testing.T) {
	enc, err := NewEncryptor("operator-passphrase")
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	sealed, err := enc.Encrypt("sheets-token-secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	minimalEnv(t)
	t.Setenv("OSTIARIUS_TRACKER_API_KEY", sealed)
	t.Setenv(EncryptionKeyEnvVar, "")

	if _, err := Load(); err == nil {
		t.Error("Expected error for encrypted secret without encryption key, got nil")
	}
}
