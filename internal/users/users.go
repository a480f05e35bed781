// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

// Package users maintains the master user directory: the mapping from
// usernames and tracker device IDs to known users. External tracking pushes
// resolve their userName labels here; the provider poller asks for the
// devices worth pulling.
package users

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/metrics"
	"github.com/tomtom215/ostiarius/internal/models"
	"github.com/tomtom215/ostiarius/internal/tabular"
)

// cacheTTL is how long one fetched directory stays fresh.
const cacheTTL = 5 * time.Minute

// DefaultWorksheet is the worksheet holding the user directory.
const DefaultWorksheet = "users"

// Directory is the TTL-cached user directory.
type Directory struct {
	store     tabular.Store
	worksheet string
	ttl       time.Duration

	mu       sync.RWMutex
	list     []models.User
	loadedAt time.Time
}

// New creates a user directory over the given worksheet.
func New(store tabular.Store, worksheet string) *Directory {
	if worksheet == "" {
		worksheet = DefaultWorksheet
	}
	return &Directory{
		store:     store,
		worksheet: worksheet,
		ttl:       cacheTTL,
	}
}

// Users returns the current directory, refetching when stale. A failed
// refetch serves the stale copy when one exists. Callers must not mutate
// the returned slice.
func (d *Directory) Users(ctx context.Context) ([]models.User, error) {
	d.mu.RLock()
	if d.fresh() {
		list := d.list
		d.mu.RUnlock()
		metrics.CacheHits.WithLabelValues("users").Inc()
		return list, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fresh() {
		metrics.CacheHits.WithLabelValues("users").Inc()
		return d.list, nil
	}

	metrics.CacheMisses.WithLabelValues("users").Inc()
	list, err := d.fetch(ctx)
	if err != nil {
		if d.list != nil {
			logging.Warn().Err(err).Msg("User directory refetch failed, serving stale copy")
			return d.list, nil
		}
		return nil, fmt.Errorf("failed to load user directory: %w", err)
	}

	d.list = list
	d.loadedAt = time.Now()
	metrics.CacheSize.WithLabelValues("users").Set(float64(len(list)))
	return list, nil
}

// Invalidate drops the cached directory so the next read refetches.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadedAt = time.Time{}
}

// ByUsername resolves a username case-insensitively. The second return is
// false for unknown or inactive users.
func (d *Directory) ByUsername(ctx context.Context, username string) (models.User, bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return models.User{}, false, nil
	}

	list, err := d.Users(ctx)
	if err != nil {
		return models.User{}, false, err
	}
	for _, u := range list {
		if u.Active && strings.EqualFold(u.Username, username) {
			return u, true, nil
		}
	}
	return models.User{}, false, nil
}

// ByDevice resolves a tracker device ID to its user.
func (d *Directory) ByDevice(ctx context.Context, deviceID string) (models.User, bool, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return models.User{}, false, nil
	}

	list, err := d.Users(ctx)
	if err != nil {
		return models.User{}, false, err
	}
	for _, u := range list {
		if u.Active && u.DeviceID == deviceID {
			return u, true, nil
		}
	}
	return models.User{}, false, nil
}

// TrackedUsers returns the active users carrying a tracker device, the set
// the provider poller pulls for.
func (d *Directory) TrackedUsers(ctx context.Context) ([]models.User, error) {
	list, err := d.Users(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.User
	for _, u := range list {
		if u.Active && u.DeviceID != "" {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *Directory) fresh() bool {
	return d.list != nil && time.Since(d.loadedAt) < d.ttl
}

// fetch loads the whole worksheet. Row layout:
//
//	id | username | fullName | deviceId | active
func (d *Directory) fetch(ctx context.Context) ([]models.User, error) {
	rows, err := d.store.Rows(ctx, d.worksheet)
	if err != nil {
		return nil, err
	}
	if len(rows) <= 1 {
		return []models.User{}, nil
	}

	list := make([]models.User, 0, len(rows)-1)
	for i, row := range rows[1:] {
		u := models.User{
			ID:       strings.TrimSpace(cell(row, 0)),
			Username: strings.TrimSpace(cell(row, 1)),
			FullName: strings.TrimSpace(cell(row, 2)),
			DeviceID: strings.TrimSpace(cell(row, 3)),
			Active:   parseActive(cell(row, 4)),
		}
		if u.Username == "" {
			logging.Warn().Int("row", i+1).Msg("User row without username, skipping")
			continue
		}
		if u.ID == "" {
			u.ID = u.Username
		}
		list = append(list, u)
	}

	logging.Info().Int("users", len(list)).Msg("User directory loaded")
	return list, nil
}

// parseActive reads the hand-maintained active flag; empty counts as active.
func parseActive(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "false", "0", "no", "nein":
		return false
	default:
		return true
	}
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
