// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package models

import "time"

// GeocodeQueueStatus is the monitoring snapshot of the geocode queue.
type GeocodeQueueStatus struct {
	QueueLength   int        `json:"queueLength"`
	Processing    bool       `json:"processing"`
	LastRequestAt *time.Time `json:"lastRequestAt,omitempty"`
}

// DayStoreStats describes one per-day log store file.
type DayStoreStats struct {
	Date      string `json:"date"`
	Exists    bool   `json:"exists"`
	SizeBytes int64  `json:"sizeBytes"`
	RowCount  int64  `json:"rowCount"`
	UserCount int64  `json:"userCount"`
}

// WriterStatus is the monitoring snapshot of the batched tabular writer.
type WriterStatus struct {
	QueuedEntries    int        `json:"queuedEntries"`
	QueueCount       int        `json:"queueCount"`
	Suspended        bool       `json:"suspended"`
	CurrentBackoffMs int64      `json:"currentBackoffMs"`
	LastFlushAt      *time.Time `json:"lastFlushAt,omitempty"`
	FallbackEntries  int64      `json:"fallbackEntries"`
}

// DatasetEngineStatus is the monitoring snapshot of the dataset engine.
type DatasetEngineStatus struct {
	Loaded       bool       `json:"loaded"`
	CachedCount  int        `json:"cachedCount"`
	DirtyCount   int        `json:"dirtyCount"`
	ActiveLocks  int        `json:"activeLocks"`
	LastFlushAt  *time.Time `json:"lastFlushAt,omitempty"`
	LastLoadedAt *time.Time `json:"lastLoadedAt,omitempty"`
}
