// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package services

import "context"

// TrackingBus matches the *tracking.Bus lifecycle: Run blocks until the
// context ends, Running closes once all handlers are subscribed.
type TrackingBus interface {
	Run(ctx context.Context) error
	Running() <-chan struct{}
}

// BusService runs the tracking event bus as a supervised service.
//
// The bus must be running before the HTTP server and the tracker poller
// publish into it; both gate on Running(), which the bus exposes and the
// wiring passes to their constructors.
//
// Example usage:
//
//	svc := services.NewBusService(bus)
//	tree.AddTrackingService(svc)
type BusService struct {
	bus  TrackingBus
	name string
}

// NewBusService creates a new bus service wrapper.
func NewBusService(bus TrackingBus) *BusService {
	return &BusService{bus: bus, name: "tracking-bus"}
}

// Serve implements suture.Service. Run blocks until the context is canceled
// and returns nil; ctx.Err() is reported instead so suture sees a shutdown,
// not a completed service to restart.
func (s *BusService) Serve(ctx context.Context) error {
	if err := s.bus.Run(ctx); err != nil {
		return wrapFailure(s.name, err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (s *BusService) String() string {
	return s.name
}
