// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package wal

import (
	"context"
	"errors"
	"testing"
)

type testPayload struct {
	Worksheet string   `json:"worksheet"`
	Row       []string `json:"row"`
}

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_WriteConfirmCycle(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	id, err := j.Write(ctx, "user:anna", testPayload{Worksheet: "anna", Row: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a non-empty entry id")
	}
	if got := j.PendingCount(); got != 1 {
		t.Errorf("Expected 1 pending entry, got %d", got)
	}

	if err := j.Confirm(ctx, id); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if got := j.PendingCount(); got != 0 {
		t.Errorf("Expected 0 pending entries after confirm, got %d", got)
	}

	if err := j.Confirm(ctx, id); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Expected ErrEntryNotFound on double confirm, got %v", err)
	}
	if err := j.Confirm(ctx, ""); !errors.Is(err, ErrEmptyEntryID) {
		t.Errorf("Expected ErrEmptyEntryID, got %v", err)
	}
}

func TestJournal_PendingPreservesWriteOrder(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for _, queue := range []string{"user:anna", "auth", "user:ben"} {
		if _, err := j.Write(ctx, queue, testPayload{Worksheet: queue}); err != nil {
			t.Fatalf("Write for %q failed: %v", queue, err)
		}
	}

	entries, err := j.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 pending entries, got %d", len(entries))
	}
	want := []string{"user:anna", "auth", "user:ben"}
	for i, entry := range entries {
		if entry.Queue != want[i] {
			t.Errorf("Expected queue %q at position %d, got %q", want[i], i, entry.Queue)
		}
	}

	var payload testPayload
	if err := entries[1].UnmarshalPayload(&payload); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}
	if payload.Worksheet != "auth" {
		t.Errorf("Expected payload round trip, got %q", payload.Worksheet)
	}
}

func TestJournal_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	confirmed, err := j.Write(ctx, "user:anna", testPayload{Worksheet: "anna"})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := j.Write(ctx, "auth", testPayload{Worksheet: "auth"}); err != nil {
		t.Fatalf("second Write failed: %v", err)
	}
	if err := j.Confirm(ctx, confirmed); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending after reopen failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected only the unconfirmed entry to survive, got %d", len(entries))
	}
	if entries[0].Queue != "auth" {
		t.Errorf("Expected auth queue entry, got %q", entries[0].Queue)
	}
}

func TestJournal_ClosedOperationsFail(t *testing.T) {
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ctx := context.Background()
	if _, err := j.Write(ctx, "q", testPayload{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Write, got %v", err)
	}
	if err := j.Confirm(ctx, "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Confirm, got %v", err)
	}
	if _, err := j.Pending(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Pending, got %v", err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("Expected idempotent Close, got %v", err)
	}
}
