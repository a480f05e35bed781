// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package services

import "context"

// DatasetEngine matches the *dataset.Engine background loops. Both block
// until their context ends and return ctx.Err().
type DatasetEngine interface {
	FlushLoop(ctx context.Context) error
	JanitorLoop(ctx context.Context) error
}

// DatasetFlushService runs the dataset dirty-set flush loop as a supervised
// service. The loop itself makes a final pass on cancellation, so a graceful
// shutdown does not strand acknowledged writes.
//
// Example usage:
//
//	svc := services.NewDatasetFlushService(engine)
//	tree.AddDataService(svc)
type DatasetFlushService struct {
	engine DatasetEngine
	name   string
}

// NewDatasetFlushService creates a new dataset flush service wrapper.
func NewDatasetFlushService(engine DatasetEngine) *DatasetFlushService {
	return &DatasetFlushService{engine: engine, name: "dataset-flush"}
}

// Serve implements suture.Service.
func (s *DatasetFlushService) Serve(ctx context.Context) error {
	return wrapFailure(s.name, s.engine.FlushLoop(ctx))
}

// String implements fmt.Stringer for logging.
func (s *DatasetFlushService) String() string {
	return s.name
}

// LockJanitorService runs the creation-lock janitor as a supervised service.
// Locks are normally released inline; the janitor reclaims the ones whose
// holders died mid-creation.
type LockJanitorService struct {
	engine DatasetEngine
	name   string
}

// NewLockJanitorService creates a new lock janitor service wrapper.
func NewLockJanitorService(engine DatasetEngine) *LockJanitorService {
	return &LockJanitorService{engine: engine, name: "lock-janitor"}
}

// Serve implements suture.Service.
func (s *LockJanitorService) Serve(ctx context.Context) error {
	return wrapFailure(s.name, s.engine.JanitorLoop(ctx))
}

// String implements fmt.Stringer for logging.
func (s *LockJanitorService) String() string {
	return s.name
}
