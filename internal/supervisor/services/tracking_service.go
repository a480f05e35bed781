// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package services

import "context"

// TrackingRunner matches the tracking background loops.
//
// Satisfied by:
//   - *tracking.Poller, which pulls the external GPS provider
//   - *tracking.External, which sweeps buffered pushes for unknown users
//   - *tracking.Reconciler, which moves unassigned worksheets after midnight
type TrackingRunner interface {
	Serve(ctx context.Context) error
}

// TrackerPollService runs the external GPS provider poller as a supervised
// service. The poller publishes ingested points onto the tracking bus, so it
// gates on the bus's Running channel the same way the HTTP server does.
//
// Example usage:
//
//	svc := services.NewTrackerPollService(poller, bus.Running())
//	tree.AddTrackingService(svc)
type TrackerPollService struct {
	poller TrackingRunner
	ready  <-chan struct{}
	name   string
}

// NewTrackerPollService creates a new tracker poll service wrapper. ready
// may be nil to start polling immediately.
func NewTrackerPollService(poller TrackingRunner, ready <-chan struct{}) *TrackerPollService {
	return &TrackerPollService{poller: poller, ready: ready, name: "tracker-poller"}
}

// Serve implements suture.Service.
func (s *TrackerPollService) Serve(ctx context.Context) error {
	if err := waitReady(ctx, s.ready); err != nil {
		return err
	}
	return wrapFailure(s.name, s.poller.Serve(ctx))
}

// String implements fmt.Stringer for logging.
func (s *TrackerPollService) String() string {
	return s.name
}

// ExternalBufferService runs the external push buffer sweep as a supervised
// service. Pushes for user names the directory cannot resolve wait in the
// buffer; the sweep retries them as the directory catches up. Retried pushes
// publish onto the tracking bus, so the sweep gates on it running.
type ExternalBufferService struct {
	external TrackingRunner
	ready    <-chan struct{}
	name     string
}

// NewExternalBufferService creates a new external buffer service wrapper.
// ready may be nil to start sweeping immediately.
func NewExternalBufferService(external TrackingRunner, ready <-chan struct{}) *ExternalBufferService {
	return &ExternalBufferService{external: external, ready: ready, name: "external-buffer"}
}

// Serve implements suture.Service.
func (s *ExternalBufferService) Serve(ctx context.Context) error {
	if err := waitReady(ctx, s.ready); err != nil {
		return err
	}
	return wrapFailure(s.name, s.external.Serve(ctx))
}

// String implements fmt.Stringer for logging.
func (s *ExternalBufferService) String() string {
	return s.name
}

// ReconcilerService runs the worksheet reconciler as a supervised service.
// The reconciler makes one pass at startup and one after every local
// midnight, so a restart never skips a day.
type ReconcilerService struct {
	reconciler TrackingRunner
	name       string
}

// NewReconcilerService creates a new reconciler service wrapper.
func NewReconcilerService(reconciler TrackingRunner) *ReconcilerService {
	return &ReconcilerService{reconciler: reconciler, name: "worksheet-reconciler"}
}

// Serve implements suture.Service.
func (s *ReconcilerService) Serve(ctx context.Context) error {
	return wrapFailure(s.name, s.reconciler.Serve(ctx))
}

// String implements fmt.Stringer for logging.
func (s *ReconcilerService) String() string {
	return s.name
}
