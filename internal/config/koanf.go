// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/ostiarius/config.yaml",
	"/etc/ostiarius/config.yml",
}

// ConfigPathEnvVar overrides the config file search entirely.
const ConfigPathEnvVar = "OSTIARIUS_CONFIG"

// EncryptionKeyEnvVar holds the passphrase for "enc:" secret values.
const EncryptionKeyEnvVar = "OSTIARIUS_ENCRYPTION_KEY"

// defaultConfig returns a Config with every optional setting filled in.
// Defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 20 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Auth: AuthConfig{
			JWTSecret: "",
		},
		BackingStore: BackingStoreConfig{
			Kind:             "remote",
			BaseURL:          "",
			Credentials:      "",
			DatasetWorksheet: "datasets",
			AuthWorksheet:    "auth-log",
		},
		Geocode: GeocodeConfig{
			APIKey:        "",
			BaseURL:       "",
			MinIntervalMs: 1000,
		},
		Tracker: TrackerConfig{
			APIKey:         "",
			Username:       "",
			BaseURL:        "https://www.followmee.com",
			PollIntervalMs: 300000,  // 5 minutes
			LookbackMs:     3600000, // 1 hour
		},
		ExternalPush: ExternalPushConfig{
			APIKey: "",
		},
		Flush: FlushConfig{
			WriterIntervalMs:  30000,
			DatasetIntervalMs: 60000,
			SpacingMs:         1000,
		},
		Locks: LockConfig{
			TimeoutMs: 30000,
			JanitorMs: 5000,
		},
		RateLimit: RateLimitConfig{
			MaxBackoffMs:     240000,
			InitialBackoffMs: 30000,
			HTTPRPS:          50,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Alert: AlertConfig{
			WebhookURL: "",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		RetentionDays:  7,
		DataRoot:       "./data",
		EditWindowDays: 30,
	}
}

// Load builds the configuration from layered sources:
//  1. Defaults: built-in values
//  2. Config File: optional YAML file (if one is found)
//  3. Environment Variables: highest priority, explicit OSTIARIUS_* map
//
// After unmarshaling, encrypted secrets are decrypted and the result is
// validated. A configuration that fails validation never reaches the caller.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority). Unmapped variables
	// are dropped so unrelated environment noise never reaches the config.
	envProvider := env.Provider("OSTIARIUS_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Comma-separated env values for slice fields
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.DecryptSecrets(os.Getenv(EncryptionKeyEnvVar)); err != nil {
		return nil, fmt.Errorf("failed to decrypt secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file. The OSTIARIUS_CONFIG variable
// wins; otherwise the default paths are probed in order.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices when
// they arrive as env strings.
var sliceConfigPaths = []string{
	"cors.allowedOrigins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings, but the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML or defaults)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps OSTIARIUS_* environment variables to config paths.
//
// Examples:
//   - OSTIARIUS_SERVER_PORT -> server.port
//   - OSTIARIUS_JWT_SECRET -> auth.jwtSecret
//   - OSTIARIUS_BACKING_STORE_BASE_URL -> backingStore.baseURL
//
// Unmapped variables return "" and are skipped, so random environment
// variables never pollute the config.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		// Server
		"ostiarius_server_host":             "server.host",
		"ostiarius_server_port":             "server.port",
		"ostiarius_server_read_timeout":     "server.readTimeout",
		"ostiarius_server_write_timeout":    "server.writeTimeout",
		"ostiarius_server_shutdown_timeout": "server.shutdownTimeout",

		// Logging
		"ostiarius_log_level":  "logging.level",
		"ostiarius_log_format": "logging.format",
		"ostiarius_log_caller": "logging.caller",

		// Auth
		"ostiarius_jwt_secret": "auth.jwtSecret",

		// Backing store
		"ostiarius_backing_store_kind":              "backingStore.kind",
		"ostiarius_backing_store_base_url":          "backingStore.baseURL",
		"ostiarius_backing_store_credentials":       "backingStore.credentials",
		"ostiarius_backing_store_dataset_worksheet": "backingStore.datasetWorksheet",
		"ostiarius_backing_store_auth_worksheet":    "backingStore.authWorksheet",

		// Geocode
		"ostiarius_geocode_api_key":         "geocode.apiKey",
		"ostiarius_geocode_base_url":        "geocode.baseURL",
		"ostiarius_geocode_min_interval_ms": "geocode.minIntervalMs",

		// Tracker pull
		"ostiarius_tracker_api_key":          "tracker.apiKey",
		"ostiarius_tracker_username":         "tracker.username",
		"ostiarius_tracker_base_url":         "tracker.baseURL",
		"ostiarius_tracker_poll_interval_ms": "tracker.pollIntervalMs",
		"ostiarius_tracker_lookback_ms":      "tracker.lookbackMs",

		// External push
		"ostiarius_external_push_api_key": "externalPush.apiKey",

		// Flush cadences
		"ostiarius_flush_writer_interval_ms":  "flush.writerIntervalMs",
		"ostiarius_flush_dataset_interval_ms": "flush.datasetIntervalMs",
		"ostiarius_flush_spacing_ms":          "flush.spacingMs",

		// Locks
		"ostiarius_lock_timeout_ms": "locks.timeoutMs",
		"ostiarius_lock_janitor_ms": "locks.janitorMs",

		// Rate limits
		"ostiarius_rate_limit_max_backoff_ms":     "rateLimit.maxBackoffMs",
		"ostiarius_rate_limit_initial_backoff_ms": "rateLimit.initialBackoffMs",
		"ostiarius_http_rps":                      "rateLimit.httpRPS",

		// CORS
		"ostiarius_cors_origins": "cors.allowedOrigins",

		// Alerting
		"ostiarius_alert_webhook_url": "alert.webhookURL",

		// Metrics
		"ostiarius_metrics_enabled": "metrics.enabled",

		// Top-level scalars
		"ostiarius_retention_days":   "retentionDays",
		"ostiarius_data_root":        "dataRoot",
		"ostiarius_edit_window_days": "editWindowDays",
	}

	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
