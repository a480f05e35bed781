// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/ostiarius/internal/daykey"
	"github.com/tomtom215/ostiarius/internal/models"
	"github.com/tomtom215/ostiarius/internal/tabular"
	"github.com/tomtom215/ostiarius/internal/users"
	"github.com/tomtom215/ostiarius/internal/writer"
)

func newTestWriter(t *testing.T, store tabular.Store) *writer.Writer {
	t.Helper()
	return writer.New(store, nil, nil, writer.Config{Spacing: time.Millisecond, FallbackPath: t.TempDir()})
}

func seedUnassigned(t *testing.T, store *tabular.MemoryStore, worksheet string, rows [][]string) {
	t.Helper()
	ctx := context.Background()
	if err := store.EnsureWorksheet(ctx, worksheet, trackingHeaders); err != nil {
		t.Fatalf("EnsureWorksheet failed: %v", err)
	}
	if err := store.AppendBatch(ctx, worksheet, rows); err != nil {
		t.Fatalf("AppendBatch failed: %v", err)
	}
}

func TestReconciler_FoldsWorksheetIntoUserData(t *testing.T) {
	store := tabular.NewMemoryStore()
	directory := seedUsers(t, store)
	days := newTestDaylog(t)
	wr := newTestWriter(t, store)
	ctx := context.Background()

	now := time.Now().In(daykey.Location())
	yesterday := now.AddDate(0, 0, -1)
	seedUnassigned(t, store, "unassigned-anna", [][]string{
		// German date, minute precision, comma decimals
		{yesterday.Format("02.01.2006"), "09:15", "50,9375", "6,9603", "10,0", ""},
		{daykey.FromTime(yesterday), "10:30:00", "50.938000", "6.961000", "", "external_app"},
		{daykey.FromTime(now), "08:00:00", "50.940000", "6.950000", "", ""},
		{"garbage", "xx", "yy", "zz"},
	})
	seedUnassigned(t, store, "unassigned-ghost", [][]string{
		{daykey.FromTime(yesterday), "11:00:00", "50.900000", "6.900000", "", ""},
	})

	rec := NewReconciler(store, directory, days, wr)
	if err := rec.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if _, err := store.Rows(ctx, "unassigned-anna"); !errors.Is(err, tabular.ErrWorksheetNotFound) {
		t.Errorf("Expected the mapped worksheet deleted, got %v", err)
	}
	if _, err := store.Rows(ctx, "unassigned-ghost"); err != nil {
		t.Errorf("Expected the unmapped worksheet kept, got %v", err)
	}

	entries := entriesOfType(t, days, daykey.FromTime(yesterday), "u1", models.LogTypeGPS)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 historical entries, got %d", len(entries))
	}
	var point models.LocationPoint
	if err := json.Unmarshal(entries[0].Data, &point); err != nil {
		t.Fatalf("Unmarshal stored point failed: %v", err)
	}
	if point.Latitude != 50.9375 {
		t.Errorf("Expected comma decimal parsed to 50.9375, got %v", point.Latitude)
	}
	if point.Source != models.SourceExternalApp {
		t.Errorf("Expected empty source defaulted to external_app, got %q", point.Source)
	}

	status := wr.Status()
	if status.QueuedEntries != 1 {
		t.Errorf("Expected 1 queued entry for today's row, got %d", status.QueuedEntries)
	}
	if status.Suspended {
		t.Error("Expected the writer resumed after reconciliation")
	}

	wr.Flush(ctx)
	rows, err := store.Rows(ctx, "log-anna")
	if err != nil {
		t.Fatalf("Rows for log worksheet failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected header plus today's row, got %d rows", len(rows))
	}
	if rows[1][2] != "50.940000" {
		t.Errorf("Expected today's latitude exported, got %q", rows[1][2])
	}
}

func TestReconciler_DeleteFailureKeepsWorksheet(t *testing.T) {
	store := tabular.NewMemoryStore()
	directory := seedUsers(t, store)
	days := newTestDaylog(t)
	wr := newTestWriter(t, store)
	ctx := context.Background()

	yesterday := time.Now().In(daykey.Location()).AddDate(0, 0, -1)
	seedUnassigned(t, store, "unassigned-anna", [][]string{
		{daykey.FromTime(yesterday), "09:00:00", "50.937500", "6.960300", "", ""},
		{daykey.FromTime(yesterday), "09:05:00", "50.938000", "6.961000", "", ""},
	})

	rec := NewReconciler(store, directory, days, wr)

	store.SetWriteError(errors.New("backing store down"))
	if err := rec.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if _, err := store.Rows(ctx, "unassigned-anna"); err != nil {
		t.Errorf("Expected the worksheet kept after a failed delete, got %v", err)
	}
	entries := entriesOfType(t, days, daykey.FromTime(yesterday), "u1", models.LogTypeGPS)
	if len(entries) != 2 {
		t.Fatalf("Expected the day store written before the delete, got %d entries", len(entries))
	}

	store.SetWriteError(nil)
	if err := rec.Reconcile(ctx); err != nil {
		t.Fatalf("Second Reconcile failed: %v", err)
	}
	if _, err := store.Rows(ctx, "unassigned-anna"); !errors.Is(err, tabular.ErrWorksheetNotFound) {
		t.Errorf("Expected the worksheet deleted on the second pass, got %v", err)
	}
	entries = entriesOfType(t, days, daykey.FromTime(yesterday), "u1", models.LogTypeGPS)
	if len(entries) != 2 {
		t.Errorf("Expected re-inserted rows deduplicated, got %d entries", len(entries))
	}
}

func TestReconciler_ServeStopsOnCancel(t *testing.T) {
	store := tabular.NewMemoryStore()
	directory := users.New(store, "users")
	days := newTestDaylog(t)
	wr := newTestWriter(t, store)

	rec := NewReconciler(store, directory, days, wr)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- rec.Serve(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}
