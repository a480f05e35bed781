// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package services

import (
	"context"
	"fmt"
)

// ExportWriter matches the *writer.Writer lifecycle: Recover reloads
// unconfirmed journal entries, Serve flushes until the context ends.
type ExportWriter interface {
	Recover(ctx context.Context) error
	Serve(ctx context.Context) error
}

// WriterService runs the batched backing-store writer as a supervised
// service, replaying the export journal before the first flush loop.
//
// Recovery runs at most once per process. A failed recovery is retried on
// the next restart because it fails before anything is queued; a successful
// one must not repeat, or the journaled entries would be queued twice.
//
// Example usage:
//
//	svc := services.NewWriterService(w)
//	tree.AddDataService(svc)
type WriterService struct {
	writer    ExportWriter
	recovered bool
	name      string
}

// NewWriterService creates a new writer service wrapper.
func NewWriterService(writer ExportWriter) *WriterService {
	return &WriterService{writer: writer, name: "export-writer"}
}

// Serve implements suture.Service.
func (s *WriterService) Serve(ctx context.Context) error {
	if !s.recovered {
		if err := s.writer.Recover(ctx); err != nil {
			return fmt.Errorf("export journal recovery failed: %w", err)
		}
		s.recovered = true
	}
	return wrapFailure(s.name, s.writer.Serve(ctx))
}

// String implements fmt.Stringer for logging.
func (s *WriterService) String() string {
	return s.name
}
