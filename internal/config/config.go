// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from defaults, an optional
// YAML file and environment variables.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in values for every optional setting
//  2. Config File: Optional YAML file (config.yaml, or OSTIARIUS_CONFIG)
//  3. Environment Variables: OSTIARIUS_* overrides via an explicit map
//
// Interval keys that end in "Ms" are plain millisecond integers in YAML and
// environment variables; the Go accessors convert them to time.Duration once.
// The server timeouts accept Go duration strings ("15s", "2m").
//
// Secrets (auth.jwtSecret, backingStore.credentials, geocode.apiKey,
// tracker.apiKey, externalPush.apiKey) may be stored encrypted with the
// "enc:" prefix; Load decrypts them using OSTIARIUS_ENCRYPTION_KEY. Plaintext
// values pass through unchanged.
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent reads.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Auth         AuthConfig         `koanf:"auth"`
	BackingStore BackingStoreConfig `koanf:"backingStore"`
	Geocode      GeocodeConfig      `koanf:"geocode"`
	Tracker      TrackerConfig      `koanf:"tracker"`
	ExternalPush ExternalPushConfig `koanf:"externalPush"`
	Flush        FlushConfig        `koanf:"flush"`
	Locks        LockConfig         `koanf:"locks"`
	RateLimit    RateLimitConfig    `koanf:"rateLimit"`
	CORS         CORSConfig         `koanf:"cors"`
	Alert        AlertConfig        `koanf:"alert"`
	Metrics      MetricsConfig      `koanf:"metrics"`

	// RetentionDays bounds how long per-day stores and daily aggregates are
	// kept before the nightly sweep removes them.
	RetentionDays int `koanf:"retentionDays"`

	// DataRoot is the directory for everything the server persists locally:
	// per-day sqlite stores, the export journal, the NDJSON fallback file and
	// the embedded backing store in local mode.
	DataRoot string `koanf:"dataRoot"`

	// EditWindowDays is how long a dataset stays editable by its creator and
	// blocks re-creation for the same address.
	EditWindowDays int `koanf:"editWindowDays"`
}

// ServerConfig holds the HTTP listener settings.
//
// Environment Variables:
//   - OSTIARIUS_SERVER_HOST: Bind address (default: 0.0.0.0)
//   - OSTIARIUS_SERVER_PORT: Listen port (default: 8080)
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"readTimeout"`
	WriteTimeout    time.Duration `koanf:"writeTimeout"`
	ShutdownTimeout time.Duration `koanf:"shutdownTimeout"`
}

// Address returns the host:port string for net.Listen.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LoggingConfig controls zerolog output.
//
// Environment Variables:
//   - OSTIARIUS_LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - OSTIARIUS_LOG_FORMAT: json or console (default: json)
//   - OSTIARIUS_LOG_CALLER: Include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// AuthConfig holds the shared JWT verification secret. Token issuance lives
// in the account system; this server only validates.
type AuthConfig struct {
	JWTSecret string `koanf:"jwtSecret"`
}

// BackingStoreConfig selects and configures the tabular backing store.
//
// kind "remote" talks to the sheets-style JSON API at BaseURL with
// Credentials; kind "local" uses an embedded DuckDB file under DataRoot,
// which is the development and single-host mode.
type BackingStoreConfig struct {
	Kind             string `koanf:"kind"`
	BaseURL          string `koanf:"baseURL"`
	Credentials      string `koanf:"credentials"`
	DatasetWorksheet string `koanf:"datasetWorksheet"`
	AuthWorksheet    string `koanf:"authWorksheet"`
}

// GeocodeConfig configures the primary geocoding provider. An empty BaseURL
// disables the provider and routes every request to the deterministic
// fallback synthesizer.
type GeocodeConfig struct {
	APIKey        string `koanf:"apiKey"`
	BaseURL       string `koanf:"baseURL"`
	MinIntervalMs int64  `koanf:"minIntervalMs"`
}

// MinInterval returns the minimum spacing between provider calls.
func (g GeocodeConfig) MinInterval() time.Duration {
	return time.Duration(g.MinIntervalMs) * time.Millisecond
}

// TrackerConfig configures the background pull from the external GPS
// provider. Empty APIKey or BaseURL leaves the poller idle.
type TrackerConfig struct {
	APIKey         string `koanf:"apiKey"`
	Username       string `koanf:"username"`
	BaseURL        string `koanf:"baseURL"`
	PollIntervalMs int64  `koanf:"pollIntervalMs"`
	LookbackMs     int64  `koanf:"lookbackMs"`
}

// PollInterval returns the provider poll cadence.
func (t TrackerConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMs) * time.Millisecond
}

// Lookback returns how far back each provider poll reaches.
func (t TrackerConfig) Lookback() time.Duration {
	return time.Duration(t.LookbackMs) * time.Millisecond
}

// ExternalPushConfig holds the static API key the external mobile tracker
// presents on bulk pushes. Empty disables the endpoint.
type ExternalPushConfig struct {
	APIKey string `koanf:"apiKey"`
}

// FlushConfig holds the background flush cadences.
type FlushConfig struct {
	WriterIntervalMs  int64 `koanf:"writerIntervalMs"`
	DatasetIntervalMs int64 `koanf:"datasetIntervalMs"`
	SpacingMs         int64 `koanf:"spacingMs"`
}

// WriterInterval returns the batched-writer flush cadence.
func (f FlushConfig) WriterInterval() time.Duration {
	return time.Duration(f.WriterIntervalMs) * time.Millisecond
}

// DatasetInterval returns the dataset dirty-set flush cadence.
func (f FlushConfig) DatasetInterval() time.Duration {
	return time.Duration(f.DatasetIntervalMs) * time.Millisecond
}

// Spacing returns the pause between consecutive worksheet flushes, which
// keeps the writer under the provider's write quota.
func (f FlushConfig) Spacing() time.Duration {
	return time.Duration(f.SpacingMs) * time.Millisecond
}

// LockConfig holds the creation-lock tunables.
type LockConfig struct {
	TimeoutMs int64 `koanf:"timeoutMs"`
	JanitorMs int64 `koanf:"janitorMs"`
}

// Timeout returns how long a creation lock lives before the janitor
// reclaims it.
func (l LockConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutMs) * time.Millisecond
}

// JanitorEvery returns the janitor sweep cadence.
func (l LockConfig) JanitorEvery() time.Duration {
	return time.Duration(l.JanitorMs) * time.Millisecond
}

// RateLimitConfig holds both sides of rate limiting: the write-quota backoff
// window for the backing store and the per-IP HTTP request limit.
type RateLimitConfig struct {
	MaxBackoffMs     int64 `koanf:"maxBackoffMs"`
	InitialBackoffMs int64 `koanf:"initialBackoffMs"`
	HTTPRPS          int   `koanf:"httpRPS"`
}

// InitialBackoff returns the first quota-rejection backoff.
func (r RateLimitConfig) InitialBackoff() time.Duration {
	return time.Duration(r.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff returns the backoff ceiling.
func (r RateLimitConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMs) * time.Millisecond
}

// CORSConfig lists the origins the field app may call from.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowedOrigins"`
}

// AlertConfig configures operator alerting. An empty WebhookURL keeps alerts
// log-only.
type AlertConfig struct {
	WebhookURL string `koanf:"webhookURL"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}
