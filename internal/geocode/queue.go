// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package geocode

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/metrics"
	"github.com/tomtom215/ostiarius/internal/models"
)

// turnTimeout bounds one queue turn. A full-address query, the paced retry
// and the street-only query fit with margin.
const turnTimeout = 45 * time.Second

// turn is one queued normalization request. done is buffered so an abandoned
// caller never blocks the worker.
type turn struct {
	addr       models.Address
	done       chan *models.NormalizedAddress
	enqueuedAt time.Time
}

// Queue serializes all geocoder traffic: one in-flight request, FIFO order,
// and at least the configured interval between requests. Callers wait
// promise-style on their turn.
//
// A caller whose context expires stops waiting but its turn is NOT removed:
// the request executes at its slot and the result is discarded. Cancelling
// mid-queue would require the provider to tolerate half-spent rate budget;
// the simple rule costs at most one wasted request per abandoned caller.
type Queue struct {
	providers []Provider
	fallback  Synthesizer
	limiter   *rate.Limiter

	mu            sync.Mutex
	pending       []*turn
	processing    bool
	lastRequestAt *time.Time

	wake chan struct{}
}

// NewQueue creates a geocode queue over the given providers, tried in order,
// with the synthesizer as terminal fallback. minInterval is the spacing
// between provider requests; values <= 0 fall back to one second.
func NewQueue(providers []Provider, minInterval time.Duration) *Queue {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &Queue{
		providers: providers,
		limiter:   rate.NewLimiter(rate.Every(minInterval), 1),
		wake:      make(chan struct{}, 1),
	}
}

// Normalize resolves addr into its canonical normalized form. The call
// blocks until the queue reaches this request or ctx expires. It never
// returns (nil, nil): with every provider down the synthesized concatenation
// comes back, marked unvalidated.
func (q *Queue) Normalize(ctx context.Context, addr models.Address) (*models.NormalizedAddress, error) {
	t := &turn{
		addr:       addr,
		done:       make(chan *models.NormalizedAddress, 1),
		enqueuedAt: time.Now(),
	}

	q.mu.Lock()
	q.pending = append(q.pending, t)
	metrics.GeocodeQueueDepth.Set(float64(len(q.pending)))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case res := <-t.done:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Serve runs the queue worker until ctx is cancelled. It processes one turn
// at a time with limiter-enforced spacing. On shutdown every still-queued
// turn resolves with the synthesized fallback so no caller blocks forever.
func (q *Queue) Serve(ctx context.Context) error {
	logging.Info().Int("providers", len(q.providers)).Msg("Geocode queue started")
	for {
		t := q.take()
		if t == nil {
			select {
			case <-q.wake:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := q.limiter.Wait(ctx); err != nil {
			t.done <- q.synthesize(t.addr)
			q.drain()
			return err
		}

		q.setProcessing(true)
		res := q.execute(t.addr)
		q.setProcessing(false)
		t.done <- res
	}
}

// Status returns the monitoring snapshot of the queue.
func (q *Queue) Status() models.GeocodeQueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := models.GeocodeQueueStatus{
		QueueLength: len(q.pending),
		Processing:  q.processing,
	}
	if q.lastRequestAt != nil {
		at := *q.lastRequestAt
		st.LastRequestAt = &at
	}
	return st
}

// take pops the oldest pending turn, or nil when the queue is idle.
func (q *Queue) take() *turn {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	metrics.GeocodeQueueDepth.Set(float64(len(q.pending)))
	metrics.GeocodeWaitDuration.Observe(time.Since(t.enqueuedAt).Seconds())
	return t
}

// execute resolves one address through the provider cascade. The turn runs
// on its own context: a caller that stopped waiting does not cancel it.
func (q *Queue) execute(addr models.Address) *models.NormalizedAddress {
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	for _, p := range q.providers {
		if !p.Available() {
			continue
		}
		r, err := p.Geocode(ctx, addr)
		if err != nil {
			metrics.GeocodeResults.WithLabelValues("error").Inc()
			logging.Warn().Err(err).Str("provider", p.Name()).Str("street", addr.Street).Msg("Geocode provider failed, trying next")
			continue
		}
		return Normalized(r)
	}
	return q.synthesize(addr)
}

func (q *Queue) synthesize(addr models.Address) *models.NormalizedAddress {
	r, _ := q.fallback.Geocode(context.Background(), addr)
	return Normalized(r)
}

func (q *Queue) setProcessing(active bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.processing = active
	if active {
		now := time.Now()
		q.lastRequestAt = &now
	}
}

// drain resolves every pending turn with the synthesized fallback.
func (q *Queue) drain() {
	q.mu.Lock()
	rest := q.pending
	q.pending = nil
	metrics.GeocodeQueueDepth.Set(0)
	q.mu.Unlock()

	for _, t := range rest {
		t.done <- q.synthesize(t.addr)
	}
}
