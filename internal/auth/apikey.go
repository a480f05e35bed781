// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/tomtom215/ostiarius/internal/logging"
)

// RequireAPIKey returns middleware that gates a route group on a static
// X-Api-Key header. Used for the external tracker's bulk push, which has
// no user identity of its own.
//
// An empty configured key disables the route group entirely: every request
// is rejected. This is deliberate, so a missing config value fails closed.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	if key == "" {
		logging.Warn().
			Msg("External push API key not configured, external tracker endpoints disabled")
	}
	keyBytes := []byte(key)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-Api-Key")
			if key == "" || presented == "" ||
				subtle.ConstantTimeCompare([]byte(presented), keyBytes) != 1 {
				logging.CtxWarn(r.Context()).
					Str("remote", r.RemoteAddr).
					Bool("key_present", presented != "").
					Msg("Rejected external push API key")
				writeAuthError(w, http.StatusUnauthorized, "Ungültiger API-Schlüssel")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
