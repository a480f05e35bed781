// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/tomtom215/ostiarius/internal/auth"
	"github.com/tomtom215/ostiarius/internal/daykey"
	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/writer"
)

// authHeaders is the column layout of the auth-log worksheet.
var authHeaders = []string{"date", "time", "username", "remote"}

// AuthLog appends one row per user and Berlin day to the auth worksheet.
// The server never issues credentials, so the first authenticated request
// of a day stands in for the login event the shared sheet used to record.
type AuthLog struct {
	writer    *writer.Writer
	worksheet string

	mu   sync.Mutex
	seen map[string]string // username -> last recorded Berlin day
}

// NewAuthLog creates the auth-log recorder writing to the given worksheet.
func NewAuthLog(w *writer.Writer, worksheet string) *AuthLog {
	return &AuthLog{
		writer:    w,
		worksheet: worksheet,
		seen:      make(map[string]string),
	}
}

// Middleware records the day's first authenticated request per user and
// passes through. Runs after the JWT middleware; requests without a
// username in context are ignored.
func (a *AuthLog) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if username, ok := auth.UsernameFromContext(r.Context()); ok {
			a.record(r, username)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *AuthLog) record(r *http.Request, username string) {
	now := time.Now()
	date := daykey.FromTime(now)

	a.mu.Lock()
	if a.seen[username] == date {
		a.mu.Unlock()
		return
	}
	a.seen[username] = date
	a.mu.Unlock()

	local := now.In(daykey.Location())
	a.writer.Enqueue(r.Context(), writer.QueueAuth, writer.Entry{
		Worksheet: a.worksheet,
		Headers:   authHeaders,
		Row:       []string{local.Format(daykey.Layout), local.Format("15:04:05"), username, r.RemoteAddr},
	})
	logging.CtxDebug(r.Context()).Str("username", username).Str("date", date).Msg("First authenticated request of the day recorded")
}
