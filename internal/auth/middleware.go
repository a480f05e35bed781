// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/models"
)

// contextKey is a private type for context values to prevent collisions.
type contextKey string

// usernameKey carries the authenticated username through the request context.
const usernameKey contextKey = "auth_username"

// ContextWithUsername returns a context carrying the authenticated username.
func ContextWithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey, username)
}

// UsernameFromContext returns the authenticated username, if any.
func UsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(usernameKey).(string)
	return username, ok && username != ""
}

// Require returns middleware that rejects requests without a valid bearer
// token. On success the username claim is placed into the request context
// and into the logging context, so every downstream log line names the
// field user.
func (v *Verifier) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "Authentifizierung erforderlich")
			return
		}

		claims, err := v.ParseToken(raw)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				writeAuthError(w, http.StatusUnauthorized, "Token ist abgelaufen")
				return
			}
			logging.CtxWarn(r.Context()).
				Err(err).
				Str("remote", r.RemoteAddr).
				Msg("Rejected bearer token")
			writeAuthError(w, http.StatusUnauthorized, "Ungültiges Token")
			return
		}

		ctx := ContextWithUsername(r.Context(), claims.Username)
		ctx = logging.ContextWithLogger(ctx,
			logging.LoggerFromContext(ctx).With().Str("username", claims.Username).Logger())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the raw token from the Authorization header.
// Only the "Bearer <token>" scheme is accepted; field-app tokens never
// travel in cookies.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("authorization header is not a bearer token")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// writeAuthError writes an envelope-shaped authentication failure.
// Kept local instead of reusing the api package's writer to avoid an
// import cycle (api wires this middleware).
func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	resp := models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error: &models.APIError{
			Code:    "AUTHENTICATION_ERROR",
			Message: message,
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error().Err(err).Msg("Failed to encode auth error response")
	}
}
