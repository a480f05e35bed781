// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that required configuration is present and consistent.
// Load calls this automatically; a failing config never reaches the caller.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateBackingStore(); err != nil {
		return err
	}
	if err := c.validateGeocode(); err != nil {
		return err
	}
	if err := c.validateIntervals(); err != nil {
		return err
	}
	return c.validateRetention()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server.host cannot be empty")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error; got %q", c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateAuth() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwtSecret is required (OSTIARIUS_JWT_SECRET)")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwtSecret must be at least 32 characters, got %d", len(c.Auth.JWTSecret))
	}
	return nil
}

func (c *Config) validateBackingStore() error {
	switch c.BackingStore.Kind {
	case "remote":
		if c.BackingStore.BaseURL == "" {
			return fmt.Errorf("backingStore.baseURL is required when backingStore.kind=remote (OSTIARIUS_BACKING_STORE_BASE_URL)")
		}
		if err := validateHTTPURL("backingStore.baseURL", c.BackingStore.BaseURL); err != nil {
			return err
		}
		if c.BackingStore.Credentials == "" {
			return fmt.Errorf("backingStore.credentials is required when backingStore.kind=remote (OSTIARIUS_BACKING_STORE_CREDENTIALS)")
		}
	case "local":
		// Embedded store lives under dataRoot; nothing else required.
	default:
		return fmt.Errorf("backingStore.kind must be remote or local, got %q", c.BackingStore.Kind)
	}

	if c.BackingStore.DatasetWorksheet == "" {
		return fmt.Errorf("backingStore.datasetWorksheet cannot be empty")
	}
	if c.BackingStore.AuthWorksheet == "" {
		return fmt.Errorf("backingStore.authWorksheet cannot be empty")
	}
	return nil
}

func (c *Config) validateGeocode() error {
	if c.Geocode.BaseURL != "" {
		if err := validateHTTPURL("geocode.baseURL", c.Geocode.BaseURL); err != nil {
			return err
		}
	}
	if c.Geocode.MinIntervalMs <= 0 {
		return fmt.Errorf("geocode.minIntervalMs must be positive, got %d", c.Geocode.MinIntervalMs)
	}
	return nil
}

func (c *Config) validateIntervals() error {
	if c.Flush.WriterIntervalMs <= 0 || c.Flush.DatasetIntervalMs <= 0 || c.Flush.SpacingMs <= 0 {
		return fmt.Errorf("flush intervals must be positive")
	}
	if c.Locks.TimeoutMs <= 0 || c.Locks.JanitorMs <= 0 {
		return fmt.Errorf("lock intervals must be positive")
	}
	if c.Tracker.PollIntervalMs <= 0 || c.Tracker.LookbackMs <= 0 {
		return fmt.Errorf("tracker intervals must be positive")
	}
	if c.RateLimit.InitialBackoffMs <= 0 || c.RateLimit.MaxBackoffMs <= 0 {
		return fmt.Errorf("rate limit backoffs must be positive")
	}
	if c.RateLimit.InitialBackoffMs > c.RateLimit.MaxBackoffMs {
		return fmt.Errorf("rateLimit.initialBackoffMs (%d) exceeds rateLimit.maxBackoffMs (%d)",
			c.RateLimit.InitialBackoffMs, c.RateLimit.MaxBackoffMs)
	}
	if c.RateLimit.HTTPRPS <= 0 {
		return fmt.Errorf("rateLimit.httpRPS must be positive, got %d", c.RateLimit.HTTPRPS)
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.RetentionDays < 1 {
		return fmt.Errorf("retentionDays must be at least 1, got %d", c.RetentionDays)
	}
	if c.EditWindowDays < 1 {
		return fmt.Errorf("editWindowDays must be at least 1, got %d", c.EditWindowDays)
	}
	if c.DataRoot == "" {
		return fmt.Errorf("dataRoot cannot be empty")
	}
	return nil
}

// validateHTTPURL checks that a config value parses as an absolute http(s)
// URL.
func validateHTTPURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", key, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", key)
	}
	return nil
}
