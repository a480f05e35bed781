// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package tabular

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/ostiarius/internal/breaker"
	"github.com/tomtom215/ostiarius/internal/logging"
)

// maxErrorBodySize limits the maximum amount of response body read for error
// reporting. This prevents unbounded memory allocation when reading large
// error responses.
const maxErrorBodySize = 64 * 1024 // 64KB

// remoteTimeout is the per-request timeout for backing-store calls.
const remoteTimeout = 15 * time.Second

// RemoteStore talks to the sheets-style JSON bridge over HTTP.
//
// Wire protocol:
//
//	GET    {base}/worksheets                      -> {"worksheets": ["datasets", ...]}
//	POST   {base}/worksheets                      <- {"name": "...", "headers": [...]}
//	DELETE {base}/worksheets/{name}
//	GET    {base}/worksheets/{name}/rows          -> {"rows": [["a","b"], ...]}
//	POST   {base}/worksheets/{name}/rows          <- {"rows": [["a","b"], ...]}
//	PUT    {base}/worksheets/{name}/rows/{index}  <- {"row": ["a","b"]}
//
// Authentication is a bearer credential on every request. HTTP 429 and
// quota-message bodies map to ErrQuotaExceeded so the batched writer can
// back off and retain its batch; HTTP 404 maps to ErrWorksheetNotFound.
//
// All calls run through a circuit breaker. The breaker uses real time for
// its interval and timeout calculations; tests exercise the store through
// httptest servers rather than mocking the breaker.
type RemoteStore struct {
	baseURL    string
	credential string
	client     *http.Client
	cb         *gobreaker.CircuitBreaker[any]
}

// NewRemoteStore creates a remote backing-store client.
func NewRemoteStore(baseURL, credential string) *RemoteStore {
	return &RemoteStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credential,
		client:     &http.Client{Timeout: remoteTimeout},
		cb:         breaker.New[any]("backing-store"),
	}
}

// Worksheets lists all worksheet names known to the bridge.
func (r *RemoteStore) Worksheets(ctx context.Context) ([]string, error) {
	var out struct {
		Worksheets []string `json:"worksheets"`
	}
	if err := r.call(ctx, http.MethodGet, "/worksheets", nil, &out); err != nil {
		return nil, err
	}
	return out.Worksheets, nil
}

// EnsureWorksheet creates the worksheet with headers if missing (idempotent).
func (r *RemoteStore) EnsureWorksheet(ctx context.Context, name string, headers []string) error {
	body := struct {
		Name    string   `json:"name"`
		Headers []string `json:"headers,omitempty"`
	}{Name: name, Headers: headers}
	return r.call(ctx, http.MethodPost, "/worksheets", body, nil)
}

// DeleteWorksheet removes the worksheet and all its rows.
func (r *RemoteStore) DeleteWorksheet(ctx context.Context, name string) error {
	return r.call(ctx, http.MethodDelete, "/worksheets/"+url.PathEscape(name), nil, nil)
}

// Rows returns all rows of the worksheet in order, header included.
func (r *RemoteStore) Rows(ctx context.Context, worksheet string) ([][]string, error) {
	var out struct {
		Rows [][]string `json:"rows"`
	}
	if err := r.call(ctx, http.MethodGet, "/worksheets/"+url.PathEscape(worksheet)+"/rows", nil, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// Append adds a single row at the end of the worksheet.
func (r *RemoteStore) Append(ctx context.Context, worksheet string, row []string) error {
	return r.AppendBatch(ctx, worksheet, [][]string{row})
}

// AppendBatch adds rows at the end of the worksheet in one call.
func (r *RemoteStore) AppendBatch(ctx context.Context, worksheet string, rows [][]string) error {
	body := struct {
		Rows [][]string `json:"rows"`
	}{Rows: rows}
	return r.call(ctx, http.MethodPost, "/worksheets/"+url.PathEscape(worksheet)+"/rows", body, nil)
}

// UpdateRow replaces the row at the given index.
func (r *RemoteStore) UpdateRow(ctx context.Context, worksheet string, index int, row []string) error {
	body := struct {
		Row []string `json:"row"`
	}{Row: row}
	path := fmt.Sprintf("/worksheets/%s/rows/%d", url.PathEscape(worksheet), index)
	return r.call(ctx, http.MethodPut, path, body, nil)
}

// call executes one bridge request through the circuit breaker, encoding the
// optional request body and decoding the optional response body.
func (r *RemoteStore) call(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	_, err := r.cb.Execute(func() (any, error) {
		return nil, r.do(ctx, method, path, reqBody, respBody)
	})
	breaker.Account(r.cb, err)
	if err != nil {
		if breaker.Rejected(err) {
			logging.Warn().Err(err).Str("path", path).Msg("[CIRCUIT BREAKER] Backing-store request rejected")
			return fmt.Errorf("backing store unavailable: %w", err)
		}
		return err
	}
	return nil
}

func (r *RemoteStore) do(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var bodyReader io.Reader = http.NoBody
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.credential != "" {
		req.Header.Set("Authorization", "Bearer "+r.credential)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s %s: HTTP 429: %w", method, path, ErrQuotaExceeded)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrWorksheetNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body := readBodyForError(resp.Body)
		if isQuotaMessage(string(body)) {
			return fmt.Errorf("%s %s: HTTP %d: %w", method, path, resp.StatusCode, ErrQuotaExceeded)
		}
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, body)
	}

	if respBody == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// isQuotaMessage matches provider quota rejections delivered with non-429
// status codes.
func isQuotaMessage(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "quota exceeded") || strings.Contains(lower, "rate limit exceeded")
}

// readBodyForError reads the response body for error reporting (max 64KB).
// Returns the body content or a placeholder message if reading fails.
func readBodyForError(rd io.Reader) []byte {
	limitedReader := io.LimitReader(rd, maxErrorBodySize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

