// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

// Package alert delivers operator alerts for conditions that need human
// attention: quarantined per-day store files, export entries spilled to the
// fallback file, sustained backing-store backoff.
//
// Every alert is logged at error level. When a webhook URL is configured the
// alert is additionally POSTed as JSON, best-effort: webhook failures are
// logged and never propagate to the caller.
package alert

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/ostiarius/internal/logging"
)

// webhookTimeout bounds a single webhook delivery attempt.
const webhookTimeout = 5 * time.Second

// Notifier delivers operator alerts. The zero value is not usable; use New.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// payload is the JSON body POSTed to the webhook.
type payload struct {
	Subject   string            `json:"subject"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// New creates a Notifier. An empty webhookURL disables webhook delivery;
// alerts are then log-only.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: webhookTimeout},
	}
}

// Alert emits an operator alert with structured context fields.
func (n *Notifier) Alert(ctx context.Context, subject string, fields map[string]string) {
	evt := logging.Error().Str("alert", subject)
	for k, v := range fields {
		evt = evt.Str(k, v)
	}
	evt.Msg("Operator alert")

	if n.webhookURL == "" {
		return
	}

	body, err := json.Marshal(payload{
		Subject:   subject,
		Fields:    fields,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to encode alert webhook payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to create alert webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		logging.Warn().Err(err).Str("alert", subject).Msg("Alert webhook delivery failed")
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.Warn().Int("status", resp.StatusCode).Str("alert", subject).Msg("Alert webhook returned non-2xx")
	}
}
