// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package tabular

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and available as a
// throwaway backing store for local experiments. Rows are deep-copied on
// the way in and out so callers cannot alias internal state.
type MemoryStore struct {
	mu     sync.RWMutex
	sheets map[string][][]string

	// FailAppends, when set, makes all write operations return the given
	// error. Tests use it to exercise backoff and fallback paths.
	failMu  sync.RWMutex
	failErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sheets: make(map[string][][]string)}
}

// SetWriteError makes subsequent writes fail with err (nil restores normal
// operation). Reads are unaffected.
func (m *MemoryStore) SetWriteError(err error) {
	m.failMu.Lock()
	m.failErr = err
	m.failMu.Unlock()
}

func (m *MemoryStore) writeErr() error {
	m.failMu.RLock()
	defer m.failMu.RUnlock()
	return m.failErr
}

// Worksheets lists all worksheet names in lexical order.
func (m *MemoryStore) Worksheets(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.sheets))
	for name := range m.sheets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// EnsureWorksheet creates the worksheet with a header row if missing.
func (m *MemoryStore) EnsureWorksheet(_ context.Context, name string, headers []string) error {
	if err := m.writeErr(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sheets[name]; ok {
		return nil
	}
	if len(headers) > 0 {
		m.sheets[name] = [][]string{copyRow(headers)}
	} else {
		m.sheets[name] = [][]string{}
	}
	return nil
}

// DeleteWorksheet removes the worksheet entirely.
func (m *MemoryStore) DeleteWorksheet(_ context.Context, name string) error {
	if err := m.writeErr(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sheets[name]; !ok {
		return fmt.Errorf("delete %q: %w", name, ErrWorksheetNotFound)
	}
	delete(m.sheets, name)
	return nil
}

// Rows returns a copy of all rows, header included.
func (m *MemoryStore) Rows(_ context.Context, worksheet string) ([][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.sheets[worksheet]
	if !ok {
		return nil, fmt.Errorf("rows %q: %w", worksheet, ErrWorksheetNotFound)
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = copyRow(r)
	}
	return out, nil
}

// Append adds one row at the end, creating the worksheet if needed.
func (m *MemoryStore) Append(ctx context.Context, worksheet string, row []string) error {
	return m.AppendBatch(ctx, worksheet, [][]string{row})
}

// AppendBatch adds rows at the end in order, creating the worksheet if needed.
func (m *MemoryStore) AppendBatch(_ context.Context, worksheet string, rows [][]string) error {
	if err := m.writeErr(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sheet := m.sheets[worksheet]
	for _, r := range rows {
		sheet = append(sheet, copyRow(r))
	}
	m.sheets[worksheet] = sheet
	return nil
}

// UpdateRow replaces the row at index, header row counting as index 0.
func (m *MemoryStore) UpdateRow(_ context.Context, worksheet string, index int, row []string) error {
	if err := m.writeErr(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.sheets[worksheet]
	if !ok {
		return fmt.Errorf("update %q: %w", worksheet, ErrWorksheetNotFound)
	}
	if index < 0 || index >= len(rows) {
		return fmt.Errorf("update %q row %d: %w", worksheet, index, ErrRowOutOfRange)
	}
	rows[index] = copyRow(row)
	return nil
}

func copyRow(row []string) []string {
	out := make([]string, len(row))
	copy(out, row)
	return out
}
