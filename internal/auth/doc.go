// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

/*
Package auth validates the identities presented to the HTTP API.

Token issuance lives in the account system, not here. This package consumes
two credential shapes:

  - Bearer JWT (HMAC-SHA256, shared secret): every field-app request. The
    username claim becomes the request identity and keys datasets, day logs,
    and the self-only history rule enforced in the api package.
  - Static X-Api-Key header: the external tracker's bulk location push,
    which acts on behalf of many users and carries no token.

Key Components:

  - Verifier: parses and validates bearer tokens (HS256 only; algorithm
    confusion is rejected in the keyfunc)
  - Verifier.Require: middleware placing the username into the request and
    logging contexts
  - RequireAPIKey: constant-time static key check for the external push group

Usage:

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret)
	if err != nil {
	    return err
	}

	r.Group(func(r chi.Router) {
	    r.Use(verifier.Require)
	    r.Post("/datasets", h.CreateDataset)
	})

	r.Group(func(r chi.Router) {
	    r.Use(auth.RequireAPIKey(cfg.ExternalPush.APIKey))
	    r.Post("/tracking/external", h.ExternalPush)
	})

Failures are written as the standard response envelope with code
AUTHENTICATION_ERROR and a German client message, matching the rest of the
API surface.

Thread Safety:

The Verifier is read-only after construction; all middleware is stateless
and goroutine-safe.

See Also:

  - internal/api: route wiring and the self-only history check
  - internal/config: auth.jwtSecret and externalPush.apiKey
*/
package auth
