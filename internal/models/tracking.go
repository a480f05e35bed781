// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package models

import (
	"github.com/goccy/go-json"
)

// Log entry types of the per-day store.
const (
	LogTypeGPS     = "gps"
	LogTypeSession = "session"
	LogTypeAction  = "action"
	LogTypeDevice  = "device"
)

// Location sources.
const (
	SourceNative      = "native"
	SourceExternalApp = "external_app"
	SourceFollowMee   = "followmee"
)

// LogEntry is one row of a per-day log store.
//
// TimestampMs is the event time (GPS fix time, action time), never the
// ingest time. The triple (UserID, TimestampMs, LogType) is unique per day;
// duplicate inserts are ignored.
type LogEntry struct {
	ID          int64           `json:"id,omitempty"`
	UserID      string          `json:"userId"`
	Username    string          `json:"username"`
	TimestampMs int64           `json:"timestampMs"`
	LogType     string          `json:"logType"`
	Data        json.RawMessage `json:"data"`
	CreatedAtMs int64           `json:"createdAtMs,omitempty"`
}

// LocationPoint is a single GPS sample from any of the three producer paths.
type LocationPoint struct {
	TimestampMs int64    `json:"timestampMs"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Accuracy    *float64 `json:"accuracy,omitempty"`
	Altitude    *float64 `json:"altitude,omitempty"`
	Heading     *float64 `json:"heading,omitempty"`
	Speed       *float64 `json:"speed,omitempty"`
	Source      string   `json:"source,omitempty"`
}

// Valid reports whether the point carries a plausible GPS fix. Trackers
// emit lat=0 or near-zero longitude sentinels before the GPS is ready;
// those points are discarded at ingest.
func (p *LocationPoint) Valid() bool {
	if p.Latitude == 0 {
		return false
	}
	if p.Longitude < 0.001 && p.Longitude > -0.001 {
		return false
	}
	return true
}

// ActionEvent is a user activity event (door visit, status change, scan)
// pushed from an in-app session.
type ActionEvent struct {
	TimestampMs int64           `json:"timestampMs"`
	Action      string          `json:"action"`
	DatasetID   string          `json:"datasetId,omitempty"`
	Address     string          `json:"address,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
}

// DailyAggregate is the in-memory per-user roll-up of one Berlin calendar
// day, maintained alongside the authoritative per-day store writes.
type DailyAggregate struct {
	UserID          string  `json:"userId"`
	Username        string  `json:"username"`
	Date            string  `json:"date"`
	GPSPoints       int     `json:"gpsPoints"`
	DistanceMeters  float64 `json:"distanceMeters"`
	Actions         int     `json:"actions"`
	StatusChanges   int     `json:"statusChanges"`
	UniqueAddresses int     `json:"uniqueAddresses"`
	FirstSeenMs     int64   `json:"firstSeenMs,omitempty"`
	LastSeenMs      int64   `json:"lastSeenMs,omitempty"`
}
