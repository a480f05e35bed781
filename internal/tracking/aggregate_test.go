// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package tracking

import (
	"testing"

	"github.com/tomtom215/ostiarius/internal/models"
)

func TestAggregator_RecordPointsCountsAndDistance(t *testing.T) {
	agg := NewAggregator()

	// Three fixes walking 0.001 degrees north in two equal steps, a bit
	// over 111 m in total.
	agg.RecordPoints("u1", "anna", "2026-08-20", []models.LocationPoint{
		{TimestampMs: 1000, Latitude: 50.9375, Longitude: 6.9603},
		{TimestampMs: 2000, Latitude: 50.9380, Longitude: 6.9603},
		{TimestampMs: 3000, Latitude: 50.9385, Longitude: 6.9603},
	})

	snap, ok := agg.Snapshot("u1", "2026-08-20")
	if !ok {
		t.Fatal("Expected a roll-up for u1")
	}
	if snap.GPSPoints != 3 {
		t.Errorf("Expected 3 GPS points, got %d", snap.GPSPoints)
	}
	if snap.DistanceMeters < 110 || snap.DistanceMeters > 113 {
		t.Errorf("Expected roughly 111m walked, got %.2f", snap.DistanceMeters)
	}
	if snap.FirstSeenMs != 1000 || snap.LastSeenMs != 3000 {
		t.Errorf("Expected seen window [1000, 3000], got [%d, %d]", snap.FirstSeenMs, snap.LastSeenMs)
	}
}

func TestAggregator_OutOfOrderPointsAddNoDistance(t *testing.T) {
	agg := NewAggregator()
	agg.RecordPoints("u1", "anna", "2026-08-20", []models.LocationPoint{
		{TimestampMs: 5000, Latitude: 50.9375, Longitude: 6.9603},
	})
	before, _ := agg.Snapshot("u1", "2026-08-20")

	// A late batch older than the newest applied fix counts but cannot
	// inflate the distance.
	agg.RecordPoints("u1", "anna", "2026-08-20", []models.LocationPoint{
		{TimestampMs: 2000, Latitude: 50.9000, Longitude: 6.9000},
	})

	after, ok := agg.Snapshot("u1", "2026-08-20")
	if !ok {
		t.Fatal("Expected a roll-up for u1")
	}
	if after.GPSPoints != 2 {
		t.Errorf("Expected 2 GPS points, got %d", after.GPSPoints)
	}
	if after.DistanceMeters != before.DistanceMeters {
		t.Errorf("Expected distance unchanged at %.2f, got %.2f", before.DistanceMeters, after.DistanceMeters)
	}
	if after.FirstSeenMs != 2000 {
		t.Errorf("Expected first seen widened to 2000, got %d", after.FirstSeenMs)
	}
}

func TestAggregator_RecordActions(t *testing.T) {
	agg := NewAggregator()
	agg.RecordActions("u1", "anna", "2026-08-20", []models.ActionEvent{
		{TimestampMs: 1000, Action: "door_visit", Address: "Hauptstraße 12"},
		{TimestampMs: 2000, Action: ActionStatusChange, Address: "hauptstraße 12"},
		{TimestampMs: 3000, Action: "scan", Address: "Nebenweg 3"},
	})

	snap, ok := agg.Snapshot("u1", "2026-08-20")
	if !ok {
		t.Fatal("Expected a roll-up for u1")
	}
	if snap.Actions != 3 {
		t.Errorf("Expected 3 actions, got %d", snap.Actions)
	}
	if snap.StatusChanges != 1 {
		t.Errorf("Expected 1 status change, got %d", snap.StatusChanges)
	}
	if snap.UniqueAddresses != 2 {
		t.Errorf("Expected 2 unique addresses (case-insensitive), got %d", snap.UniqueAddresses)
	}
	if snap.FirstSeenMs != 1000 || snap.LastSeenMs != 3000 {
		t.Errorf("Expected seen window [1000, 3000], got [%d, %d]", snap.FirstSeenMs, snap.LastSeenMs)
	}
}

func TestAggregator_SnapshotMissing(t *testing.T) {
	agg := NewAggregator()
	if _, ok := agg.Snapshot("nobody", "2026-08-20"); ok {
		t.Error("Expected no roll-up for an unknown user")
	}
}

func TestAggregator_ForDateSortedByUsername(t *testing.T) {
	agg := NewAggregator()
	agg.RecordPoints("u2", "bernd", "2026-08-20", []models.LocationPoint{{TimestampMs: 1000, Latitude: 51, Longitude: 7}})
	agg.RecordPoints("u1", "anna", "2026-08-20", []models.LocationPoint{{TimestampMs: 1000, Latitude: 51, Longitude: 7}})
	agg.RecordPoints("u1", "anna", "2026-08-21", []models.LocationPoint{{TimestampMs: 1000, Latitude: 51, Longitude: 7}})

	day := agg.ForDate("2026-08-20")
	if len(day) != 2 {
		t.Fatalf("Expected 2 roll-ups for the day, got %d", len(day))
	}
	if day[0].Username != "anna" || day[1].Username != "bernd" {
		t.Errorf("Expected username order anna, bernd, got %s, %s", day[0].Username, day[1].Username)
	}
}

func TestAggregator_Prune(t *testing.T) {
	agg := NewAggregator()
	agg.RecordPoints("u1", "anna", "2026-08-18", []models.LocationPoint{{TimestampMs: 1000, Latitude: 51, Longitude: 7}})
	agg.RecordPoints("u1", "anna", "2026-08-19", []models.LocationPoint{{TimestampMs: 1000, Latitude: 51, Longitude: 7}})
	agg.RecordPoints("u1", "anna", "2026-08-20", []models.LocationPoint{{TimestampMs: 1000, Latitude: 51, Longitude: 7}})

	if removed := agg.Prune("2026-08-20"); removed != 2 {
		t.Errorf("Expected 2 roll-ups pruned, got %d", removed)
	}
	if _, ok := agg.Snapshot("u1", "2026-08-19"); ok {
		t.Error("Expected the pruned day to be gone")
	}
	if _, ok := agg.Snapshot("u1", "2026-08-20"); !ok {
		t.Error("Expected the kept day to survive")
	}
}

func TestHaversine(t *testing.T) {
	if d := haversine(50.9375, 6.9603, 50.9375, 6.9603); d != 0 {
		t.Errorf("Expected zero distance for identical coordinates, got %f", d)
	}
	// One degree of longitude on the equator is about 111.2 km.
	if d := haversine(0, 0, 0, 1); d < 111000 || d > 111400 {
		t.Errorf("Expected about 111.2km, got %.0f", d)
	}
}
