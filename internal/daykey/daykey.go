// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

// Package daykey derives calendar-day keys for the per-day log stores.
//
// Event times are stored as UTC epoch milliseconds everywhere; only the
// day boundary is local. Field operations run in Germany, so day keys and
// the midnight reconciliation trigger use Europe/Berlin.
package daykey

import (
	"fmt"
	"math"
	"regexp"
	"sync"
	"time"

	"github.com/tomtom215/ostiarius/internal/logging"
)

// Layout is the canonical day key format.
const Layout = "2006-01-02"

const zoneName = "Europe/Berlin"

var keyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var (
	loc     *time.Location
	locOnce sync.Once
)

// Location returns the Europe/Berlin location. Falls back to UTC when the
// zone database is unavailable (the server binary embeds tzdata, so this
// only happens in stripped-down test environments).
func Location() *time.Location {
	locOnce.Do(func() {
		l, err := time.LoadLocation(zoneName)
		if err != nil {
			logging.Error().Err(err).Msg("Berlin zone unavailable, day boundaries fall back to UTC")
			l = time.UTC
		}
		loc = l
	})
	return loc
}

// FromTime returns the day key of the given instant.
func FromTime(t time.Time) string {
	return t.In(Location()).Format(Layout)
}

// FromMillis returns the day key of a UTC epoch-millisecond timestamp.
func FromMillis(ms int64) string {
	return FromTime(time.UnixMilli(ms))
}

// Parse returns local midnight of the given day key.
func Parse(key string) (time.Time, error) {
	if !keyPattern.MatchString(key) {
		return time.Time{}, fmt.Errorf("invalid day key %q", key)
	}
	t, err := time.ParseInLocation(Layout, key, Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day key %q: %w", key, err)
	}
	return t, nil
}

// IsValid reports whether key is a well-formed day key.
func IsValid(key string) bool {
	_, err := Parse(key)
	return err == nil
}

// AgeDays returns how many whole days old the key's day is relative to now.
// Today is 0, yesterday is 1. Future keys return negative values.
func AgeDays(key string, now time.Time) (int, error) {
	day, err := Parse(key)
	if err != nil {
		return 0, err
	}
	nowDay, err := Parse(FromTime(now))
	if err != nil {
		return 0, err
	}
	// Both instants are local midnights, so the difference is a whole number
	// of days give or take the DST hour. Rounding absorbs the 23h/25h days.
	return int(math.Round(nowDay.Sub(day).Hours() / 24)), nil
}

// NextMidnight returns the first instant of the next local day after now.
// Used to schedule the midnight reconciliation run.
func NextMidnight(now time.Time) time.Time {
	local := now.In(Location())
	next := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, Location())
	return next.AddDate(0, 0, 1)
}
