// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package services

import "context"

// GeocodeQueue matches the *geocode.Queue worker loop.
type GeocodeQueue interface {
	Serve(ctx context.Context) error
}

// GeocodeService runs the serialized geocoding worker as a supervised
// service. The queue spaces provider calls to honor the usage policy, so
// there is exactly one of these per process.
//
// Example usage:
//
//	svc := services.NewGeocodeService(queue)
//	tree.AddTrackingService(svc)
type GeocodeService struct {
	queue GeocodeQueue
	name  string
}

// NewGeocodeService creates a new geocode service wrapper.
func NewGeocodeService(queue GeocodeQueue) *GeocodeService {
	return &GeocodeService{queue: queue, name: "geocode-queue"}
}

// Serve implements suture.Service.
func (s *GeocodeService) Serve(ctx context.Context) error {
	return wrapFailure(s.name, s.queue.Serve(ctx))
}

// String implements fmt.Stringer for logging.
func (s *GeocodeService) String() string {
	return s.name
}
