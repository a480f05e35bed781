// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

func TestServiceInterfaces(t *testing.T) {
	var _ suture.Service = (*BusService)(nil)
	var _ suture.Service = (*DatasetFlushService)(nil)
	var _ suture.Service = (*LockJanitorService)(nil)
	var _ suture.Service = (*WriterService)(nil)
	var _ suture.Service = (*GeocodeService)(nil)
	var _ suture.Service = (*TrackerPollService)(nil)
	var _ suture.Service = (*ExternalBufferService)(nil)
	var _ suture.Service = (*ReconcilerService)(nil)
	var _ suture.Service = (*RetentionService)(nil)
}

func TestWrapFailure(t *testing.T) {
	if err := wrapFailure("svc", nil); err != nil {
		t.Errorf("Expected nil passthrough, got %v", err)
	}
	if err := wrapFailure("svc", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled passthrough, got %v", err)
	}
	if err := wrapFailure("svc", context.DeadlineExceeded); err != context.DeadlineExceeded {
		t.Errorf("Expected context.DeadlineExceeded passthrough, got %v", err)
	}

	cause := errors.New("boom")
	err := wrapFailure("geocode-queue", cause)
	if !errors.Is(err, cause) {
		t.Errorf("Expected wrapped cause, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "geocode-queue: ") {
		t.Errorf("Expected service name prefix, got %q", err.Error())
	}
}

func TestWaitReady(t *testing.T) {
	ctx := context.Background()

	if err := waitReady(ctx, nil); err != nil {
		t.Errorf("Expected nil gate to pass, got %v", err)
	}

	closed := make(chan struct{})
	close(closed)
	if err := waitReady(ctx, closed); err != nil {
		t.Errorf("Expected closed gate to pass, got %v", err)
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := waitReady(canceled, make(chan struct{})); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// fakeBus implements TrackingBus.
type fakeBus struct {
	runErr  error
	running chan struct{}
}

func (f *fakeBus) Run(ctx context.Context) error {
	if f.runErr != nil {
		return f.runErr
	}
	close(f.running)
	<-ctx.Done()
	return nil
}

func (f *fakeBus) Running() <-chan struct{} { return f.running }

func TestBusService_ReportsShutdownNotCompletion(t *testing.T) {
	bus := &fakeBus{running: make(chan struct{})}
	svc := NewBusService(bus)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	<-bus.running
	cancel()

	select {
	case err := <-errCh:
		// Run returns nil after cancellation; the wrapper reports ctx.Err()
		// so suture does not restart a service that shut down.
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestBusService_WrapsRouterFailure(t *testing.T) {
	cause := errors.New("router exploded")
	svc := NewBusService(&fakeBus{runErr: cause, running: make(chan struct{})})

	err := svc.Serve(context.Background())
	if !errors.Is(err, cause) {
		t.Errorf("Expected wrapped router error, got %v", err)
	}
	if !strings.Contains(err.Error(), "tracking-bus") {
		t.Errorf("Expected service name in error, got %q", err.Error())
	}
}

// fakeWriter implements ExportWriter.
type fakeWriter struct {
	recoverErrs []error
	recovers    int
	serves      int
}

func (f *fakeWriter) Recover(ctx context.Context) error {
	f.recovers++
	if len(f.recoverErrs) > 0 {
		err := f.recoverErrs[0]
		f.recoverErrs = f.recoverErrs[1:]
		return err
	}
	return nil
}

func (f *fakeWriter) Serve(ctx context.Context) error {
	f.serves++
	return ctx.Err()
}

func TestWriterService_RecoversOnceAcrossRestarts(t *testing.T) {
	w := &fakeWriter{}
	svc := NewWriterService(w)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	if w.recovers != 1 {
		t.Errorf("Expected exactly 1 Recover call across restarts, got %d", w.recovers)
	}
	if w.serves != 2 {
		t.Errorf("Expected 2 Serve calls, got %d", w.serves)
	}
}

func TestWriterService_RetriesFailedRecovery(t *testing.T) {
	cause := errors.New("journal unreadable")
	w := &fakeWriter{recoverErrs: []error{cause}}
	svc := NewWriterService(w)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Serve(ctx)
	if !errors.Is(err, cause) {
		t.Fatalf("Expected recovery error, got %v", err)
	}
	if w.serves != 0 {
		t.Errorf("Expected no flush loop after failed recovery, got %d", w.serves)
	}

	// The restart retries recovery because the failed pass queued nothing.
	if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled after retry, got %v", err)
	}
	if w.recovers != 2 {
		t.Errorf("Expected recovery retried on restart, got %d calls", w.recovers)
	}
	if w.serves != 1 {
		t.Errorf("Expected flush loop after successful retry, got %d", w.serves)
	}
}

// fakeEngine implements DatasetEngine.
type fakeEngine struct {
	flushes  int
	janitors int
}

func (f *fakeEngine) FlushLoop(ctx context.Context) error {
	f.flushes++
	return ctx.Err()
}

func (f *fakeEngine) JanitorLoop(ctx context.Context) error {
	f.janitors++
	return ctx.Err()
}

func TestDatasetServices_RunTheirLoops(t *testing.T) {
	engine := &fakeEngine{}
	flush := NewDatasetFlushService(engine)
	janitor := NewLockJanitorService(engine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := flush.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled from flush, got %v", err)
	}
	if err := janitor.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled from janitor, got %v", err)
	}
	if engine.flushes != 1 || engine.janitors != 1 {
		t.Errorf("Expected each loop called once, got flushes=%d janitors=%d", engine.flushes, engine.janitors)
	}

	if flush.String() != "dataset-flush" {
		t.Errorf("Expected name dataset-flush, got %q", flush.String())
	}
	if janitor.String() != "lock-janitor" {
		t.Errorf("Expected name lock-janitor, got %q", janitor.String())
	}
}

// runFunc adapts a function to the single-method runner interfaces.
type runFunc func(ctx context.Context) error

func (f runFunc) Serve(ctx context.Context) error { return f(ctx) }

func TestTrackerPollService_GatesOnBus(t *testing.T) {
	polled := make(chan struct{}, 1)
	ready := make(chan struct{})
	svc := NewTrackerPollService(runFunc(func(ctx context.Context) error {
		polled <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}), ready)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	select {
	case <-polled:
		t.Fatal("Poller ran before the bus gate opened")
	case <-time.After(50 * time.Millisecond):
	}

	close(ready)
	select {
	case <-polled:
	case <-time.After(time.Second):
		t.Fatal("Poller did not run after the gate opened")
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestTrackingWrappers_NamesAndFailures(t *testing.T) {
	cause := errors.New("sweep failed")
	failing := runFunc(func(ctx context.Context) error { return cause })

	external := NewExternalBufferService(failing, nil)
	if external.String() != "external-buffer" {
		t.Errorf("Expected name external-buffer, got %q", external.String())
	}
	if err := external.Serve(context.Background()); !errors.Is(err, cause) {
		t.Errorf("Expected wrapped sweep error, got %v", err)
	}

	reconciler := NewReconcilerService(failing)
	if reconciler.String() != "worksheet-reconciler" {
		t.Errorf("Expected name worksheet-reconciler, got %q", reconciler.String())
	}
	err := reconciler.Serve(context.Background())
	if err == nil || !strings.Contains(err.Error(), "worksheet-reconciler") {
		t.Errorf("Expected service name in error, got %v", err)
	}

	geocode := NewGeocodeService(runFunc(func(ctx context.Context) error { return ctx.Err() }))
	if geocode.String() != "geocode-queue" {
		t.Errorf("Expected name geocode-queue, got %q", geocode.String())
	}
	if err := geocode.Serve(context.Background()); err != nil {
		t.Errorf("Expected nil from idle queue, got %v", err)
	}
}
