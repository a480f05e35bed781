// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package dataset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/metrics"
	"github.com/tomtom215/ostiarius/internal/models"
	"github.com/tomtom215/ostiarius/internal/tabular"
)

// worksheetHeaders is the column layout of the datasets worksheet. Order is
// load-bearing: rows are decoded by position.
var worksheetHeaders = []string{
	"id", "normalizedAddress", "street", "houseNumber", "city", "postal",
	"createdBy", "createdAt", "rawResidentDataJSON", "residentsJSON",
}

// encodeRow renders a dataset as one worksheet row. FixedCustomers, CanEdit
// and IsNonExactMatch are derived fields and never persisted.
func encodeRow(ds *models.AddressDataset) ([]string, error) {
	residents, err := json.Marshal(ds.EditableResidents)
	if err != nil {
		return nil, fmt.Errorf("failed to encode residents: %w", err)
	}

	raw := ""
	if len(ds.RawResidentData) > 0 {
		raw = string(ds.RawResidentData)
	}

	return []string{
		ds.ID,
		ds.NormalizedAddress,
		ds.Street,
		ds.HouseNumber,
		ds.City,
		ds.PostalCode,
		ds.CreatedBy,
		ds.CreatedAt.UTC().Format(time.RFC3339),
		raw,
		string(residents),
	}, nil
}

// decodeRow parses one worksheet row back into a dataset.
func decodeRow(row []string) (*models.AddressDataset, error) {
	if len(row) < 8 {
		return nil, fmt.Errorf("row has %d columns, expected at least 8", len(row))
	}

	createdAt, err := time.Parse(time.RFC3339, row[7])
	if err != nil {
		return nil, fmt.Errorf("invalid createdAt %q: %w", row[7], err)
	}

	ds := &models.AddressDataset{
		ID:                row[0],
		NormalizedAddress: row[1],
		Street:            row[2],
		HouseNumber:       row[3],
		City:              row[4],
		PostalCode:        row[5],
		CreatedBy:         row[6],
		CreatedAt:         createdAt,
	}
	if ds.ID == "" {
		return nil, errors.New("row has empty dataset id")
	}

	if len(row) > 8 && row[8] != "" {
		ds.RawResidentData = json.RawMessage(row[8])
	}
	if len(row) > 9 && row[9] != "" {
		if err := json.Unmarshal([]byte(row[9]), &ds.EditableResidents); err != nil {
			return nil, fmt.Errorf("invalid residents JSON: %w", err)
		}
	}
	if ds.EditableResidents == nil {
		ds.EditableResidents = []models.Resident{}
	}

	// The category/status invariant holds for every cached dataset,
	// legacy rows included.
	for i := range ds.EditableResidents {
		ds.EditableResidents[i].ApplyStatusRule()
	}
	return ds, nil
}

// Load reads every dataset row from the backing store into the cache and
// opens the engine for traffic. It runs once at startup; a failure is fatal
// to the process because an empty cache would violate the edit-window
// invariant for every address that already has a dataset.
func (e *Engine) Load(ctx context.Context) error {
	rows, err := e.store.Rows(ctx, e.worksheet)
	if err != nil {
		if errors.Is(err, tabular.ErrWorksheetNotFound) {
			if err := e.store.EnsureWorksheet(ctx, e.worksheet, worksheetHeaders); err != nil {
				return fmt.Errorf("failed to create datasets worksheet: %w", err)
			}
			rows = [][]string{worksheetHeaders}
		} else {
			return fmt.Errorf("failed to load datasets worksheet: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	skipped := 0
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		ds, err := decodeRow(row)
		if err != nil {
			logging.Warn().Err(err).Int("row", i).Msg("Skipping undecodable dataset row")
			skipped++
			continue
		}
		e.insertLocked(ds, i)
	}
	e.nextRow = len(rows)
	e.loaded = true
	now := time.Now()
	e.lastLoadedAt = &now

	metrics.DatasetCacheSize.Set(float64(len(e.byID)))
	logging.Info().Int("datasets", len(e.byID)).Int("skipped", skipped).Msg("Dataset cache loaded")
	return nil
}

// FlushLoop writes dirty datasets to the backing store on the flush
// interval until ctx is cancelled, then makes one final pass so a graceful
// shutdown does not strand acknowledged writes.
func (e *Engine) FlushLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			e.flushDirty(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			e.flushDirty(ctx)
		}
	}
}

// flushDirty writes every dirty dataset: append when the row does not exist
// in the worksheet yet, single-row update otherwise. A dirty mark is cleared
// only when the write is acknowledged and the dataset was not mutated again
// meanwhile, so the last state always wins.
func (e *Engine) flushDirty(ctx context.Context) {
	e.mu.RLock()
	ids := make([]string, 0, len(e.dirty))
	for id := range e.dirty {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)

	flushed := 0
	for _, id := range ids {
		if err := e.flushOne(ctx, id); err != nil {
			logging.Error().Err(err).Str("dataset_id", id).Msg("Dataset flush failed, keeping dirty")
			continue
		}
		flushed++
	}

	e.mu.Lock()
	now := time.Now()
	e.lastFlushAt = &now
	metrics.DatasetDirtyEntries.Set(float64(len(e.dirty)))
	e.mu.Unlock()

	if flushed > 0 {
		logging.Debug().Int("flushed", flushed).Int("total", len(ids)).Msg("Dataset flush cycle complete")
	}
}

func (e *Engine) flushOne(ctx context.Context, id string) error {
	e.mu.RLock()
	ds, ok := e.byID[id]
	if !ok {
		e.mu.RUnlock()
		return fmt.Errorf("dirty id %s not in cache", id)
	}
	snapshot := ds.Clone()
	version := e.versions[id]
	rowIdx, hasRow := e.rowIndex[id]
	e.mu.RUnlock()

	row, err := encodeRow(snapshot)
	if err != nil {
		return err
	}

	kind := "update"
	if !hasRow {
		kind = "append"
	}

	if hasRow {
		err = e.store.UpdateRow(ctx, e.worksheet, rowIdx, row)
	} else {
		err = e.store.Append(ctx, e.worksheet, row)
	}
	if err != nil {
		metrics.DatasetFlushes.WithLabelValues(kind, "failure").Inc()
		return err
	}
	metrics.DatasetFlushes.WithLabelValues(kind, "success").Inc()

	e.mu.Lock()
	if !hasRow {
		// The engine is the only writer of this worksheet, so the new row
		// landed at the tracked tail.
		e.rowIndex[id] = e.nextRow
		e.nextRow++
	}
	if e.versions[id] == version {
		delete(e.dirty, id)
	}
	e.mu.Unlock()
	return nil
}
