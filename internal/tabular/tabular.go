// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

// Package tabular defines the backing-store contract shared by the dataset
// engine, the batched writer and the reconciler.
//
// The backing store is modeled as a set of named worksheets, each an ordered
// list of string rows. Row 0 is the header row when the worksheet carries one.
// Three implementations exist:
//
//   - RemoteStore: sheets-style JSON bridge over HTTP (production)
//   - LocalStore: embedded DuckDB file (development / single-box deployments)
//   - MemoryStore: in-memory fake (tests)
//
// Consumers never talk to the wire format directly; everything above this
// package works in rows and indices.
package tabular

import (
	"context"
	"errors"
)

// Sentinel errors used for classification across implementations.
var (
	// ErrWorksheetNotFound is returned when the named worksheet does not exist.
	ErrWorksheetNotFound = errors.New("tabular: worksheet not found")

	// ErrRowOutOfRange is returned by UpdateRow when the index does not
	// address an existing row.
	ErrRowOutOfRange = errors.New("tabular: row index out of range")

	// ErrQuotaExceeded is returned when the remote backing store rejects a
	// write for quota reasons (HTTP 429 or a quota message in the body).
	// The batched writer backs off and retains its batch on this error.
	ErrQuotaExceeded = errors.New("tabular: quota exceeded")
)

// Store is the backing-store contract.
//
// All methods are safe for concurrent use. Implementations must keep rows
// ordered: Append places the new row after the current last row, and row
// indices are stable until a row is updated in place (rows are never removed
// individually, only whole worksheets are deleted).
type Store interface {
	// Worksheets lists the names of all existing worksheets.
	Worksheets(ctx context.Context) ([]string, error)

	// EnsureWorksheet creates the named worksheet with the given header row
	// if it does not exist yet. Calling it on an existing worksheet is a
	// no-op regardless of headers.
	EnsureWorksheet(ctx context.Context, name string, headers []string) error

	// DeleteWorksheet removes the worksheet and all its rows.
	// Deleting a missing worksheet returns ErrWorksheetNotFound.
	DeleteWorksheet(ctx context.Context, name string) error

	// Rows returns all rows of the worksheet in order, header included.
	Rows(ctx context.Context, worksheet string) ([][]string, error)

	// Append adds a single row at the end of the worksheet.
	Append(ctx context.Context, worksheet string, row []string) error

	// AppendBatch adds rows at the end of the worksheet in one operation,
	// preserving their order.
	AppendBatch(ctx context.Context, worksheet string, rows [][]string) error

	// UpdateRow replaces the row at the given zero-based index (the header
	// row counts as index 0).
	UpdateRow(ctx context.Context, worksheet string, index int, row []string) error
}

// IsQuota reports whether err indicates quota exhaustion at the backing store.
func IsQuota(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}
