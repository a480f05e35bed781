// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package tracking

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/ostiarius/internal/breaker"
	"github.com/tomtom215/ostiarius/internal/daykey"
	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/metrics"
	"github.com/tomtom215/ostiarius/internal/models"
	"github.com/tomtom215/ostiarius/internal/users"
)

// Poll defaults and the provider HTTP timeout.
const (
	DefaultPollInterval = 5 * time.Minute
	DefaultLookback     = time.Hour
	providerTimeout     = 15 * time.Second

	// pullConcurrency bounds parallel device fetches in one cycle.
	pullConcurrency = 4
)

// ProviderPoint is one location fix as the tracking provider reports it.
type ProviderPoint struct {
	DeviceID  string
	Time      time.Time
	Latitude  float64
	Longitude float64
	Accuracy  *float64
	Speed     *float64
}

// Provider is the tracking provider the poller pulls from.
type Provider interface {
	// Locations returns the device's fixes inside [from, to].
	Locations(ctx context.Context, deviceID string, from, to time.Time) ([]ProviderPoint, error)
	// Available reports whether the provider is configured.
	Available() bool
}

// FollowMeeClient speaks the FollowMee tracks API.
type FollowMeeClient struct {
	baseURL  string
	apiKey   string
	username string
	client   *http.Client
	cb       *gobreaker.CircuitBreaker[[]ProviderPoint]
}

// NewFollowMeeClient creates the provider client. Empty baseURL or apiKey
// leaves the provider unavailable and the poller idle.
func NewFollowMeeClient(baseURL, apiKey, username string) *FollowMeeClient {
	return &FollowMeeClient{
		baseURL:  baseURL,
		apiKey:   apiKey,
		username: username,
		client:   &http.Client{Timeout: providerTimeout},
		cb:       breaker.New[[]ProviderPoint]("tracker"),
	}
}

// Available implements Provider.
func (c *FollowMeeClient) Available() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// Locations implements Provider.
func (c *FollowMeeClient) Locations(ctx context.Context, deviceID string, from, to time.Time) ([]ProviderPoint, error) {
	points, err := c.cb.Execute(func() ([]ProviderPoint, error) {
		return c.fetch(ctx, deviceID, from, to)
	})
	breaker.Account(c.cb, err)
	if err != nil {
		if breaker.Rejected(err) {
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Tracker request rejected")
			return nil, fmt.Errorf("tracker unavailable: %w", err)
		}
		return nil, err
	}
	return points, nil
}

// followmeeResponse is the tracks API payload. The provider reports errors
// in-band with HTTP 200.
type followmeeResponse struct {
	Error string           `json:"Error"`
	Data  []followmeePoint `json:"Data"`
}

type followmeePoint struct {
	Date      string   `json:"Date"`
	Latitude  float64  `json:"Latitude"`
	Longitude float64  `json:"Longitude"`
	Accuracy  *float64 `json:"Accuracy"`
	Speed     *float64 `json:"Speed"`
}

func (c *FollowMeeClient) fetch(ctx context.Context, deviceID string, from, to time.Time) ([]ProviderPoint, error) {
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("username", c.username)
	params.Set("output", "json")
	params.Set("function", "daterangefordevice")
	params.Set("deviceid", deviceID)
	params.Set("from", from.In(daykey.Location()).Format("2006-01-02T15:04:05"))
	params.Set("to", to.In(daykey.Location()).Format("2006-01-02T15:04:05"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tracks.aspx?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("tracker fetch: HTTP %d: %s", resp.StatusCode, body)
	}

	var payload followmeeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("tracker fetch: %s", payload.Error)
	}

	points := make([]ProviderPoint, 0, len(payload.Data))
	for _, p := range payload.Data {
		ts, err := parseProviderTime(p.Date)
		if err != nil {
			logging.Warn().Str("device", deviceID).Str("date", p.Date).Msg("Tracker point with unparseable date skipped")
			continue
		}
		points = append(points, ProviderPoint{
			DeviceID:  deviceID,
			Time:      ts,
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Accuracy:  p.Accuracy,
			Speed:     p.Speed,
		})
	}
	return points, nil
}

// parseProviderTime reads provider timestamps, which come zoned (RFC3339)
// or bare in device-local time.
func parseProviderTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", s, daykey.Location())
}

// Poller pulls all mapped devices from the provider on a fixed interval.
//
// The lookback window overlaps successive polls, so most returned fixes are
// already known; each fix gets a process-lifetime dedup key. Keys are marked
// seen only after the store write succeeded, letting a failed cycle retry
// the same fixes.
type Poller struct {
	provider  Provider
	directory *users.Directory
	ingest    LocationIngestor
	interval  time.Duration
	lookback  time.Duration

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewPoller creates the provider poller. Zero durations take the defaults.
func NewPoller(provider Provider, directory *users.Directory, ingest LocationIngestor, interval, lookback time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Poller{
		provider:  provider,
		directory: directory,
		ingest:    ingest,
		interval:  interval,
		lookback:  lookback,
		seen:      make(map[string]struct{}),
	}
}

// Serve polls until ctx is cancelled. An unconfigured provider parks the
// poller instead of failing it.
func (p *Poller) Serve(ctx context.Context) error {
	if !p.provider.Available() {
		logging.Info().Msg("Tracker provider not configured, poller idle")
		<-ctx.Done()
		return ctx.Err()
	}

	logging.Info().Dur("interval", p.interval).Dur("lookback", p.lookback).Msg("Starting tracker poller")
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll runs one pull cycle, fanning out over the tracked users with a
// bounded group. A failed user never stops the others; its fixes stay
// unmarked and retry next cycle.
func (p *Poller) poll(ctx context.Context) {
	tracked, err := p.directory.TrackedUsers(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Tracked user list unavailable, skipping poll cycle")
		metrics.TrackerPulls.WithLabelValues("failure").Inc()
		return
	}

	now := time.Now()
	from := now.Add(-p.lookback)

	var failed atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pullConcurrency)
	for _, user := range tracked {
		g.Go(func() error {
			points, err := p.provider.Locations(gctx, user.DeviceID, from, now)
			if err != nil {
				logging.Warn().Err(err).Str("username", user.Username).Str("device", user.DeviceID).Msg("Tracker pull failed")
				failed.Store(true)
				return nil
			}

			fresh, keys := p.unseen(points)
			if len(fresh) == 0 {
				return nil
			}

			if _, err := p.ingest.IngestLocations(gctx, user, fresh, models.SourceFollowMee); err != nil {
				logging.Warn().Err(err).Str("username", user.Username).Int("points", len(fresh)).Msg("Tracker point ingest failed, will retry next cycle")
				failed.Store(true)
				return nil
			}
			p.markSeen(keys)
			return nil
		})
	}
	_ = g.Wait()

	if failed.Load() {
		metrics.TrackerPulls.WithLabelValues("failure").Inc()
		return
	}
	metrics.TrackerPulls.WithLabelValues("success").Inc()
}

// unseen filters fixes already ingested this process lifetime and converts
// the rest, returning their dedup keys alongside.
func (p *Poller) unseen(points []ProviderPoint) ([]models.LocationPoint, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var fresh []models.LocationPoint
	var keys []string
	skipped := 0
	for _, pt := range points {
		key := dedupKey(pt)
		if _, ok := p.seen[key]; ok {
			skipped++
			continue
		}
		fresh = append(fresh, models.LocationPoint{
			TimestampMs: pt.Time.UnixMilli(),
			Latitude:    pt.Latitude,
			Longitude:   pt.Longitude,
			Accuracy:    pt.Accuracy,
			Speed:       pt.Speed,
			Source:      models.SourceFollowMee,
		})
		keys = append(keys, key)
	}
	if skipped > 0 {
		metrics.TrackerPointsDeduplicated.Add(float64(skipped))
	}
	return fresh, keys
}

func (p *Poller) markSeen(keys []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range keys {
		p.seen[key] = struct{}{}
	}
}

func dedupKey(pt ProviderPoint) string {
	return pt.DeviceID + "|" + daykey.FromTime(pt.Time) + "|" +
		strconv.FormatFloat(pt.Latitude, 'f', -1, 64) + "|" +
		strconv.FormatFloat(pt.Longitude, 'f', -1, 64)
}
