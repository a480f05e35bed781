// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the JWT claims carried by field-app tokens.
//
// Tokens are issued by the account system, not by this server; the only
// application claim consumed here is the username that keys datasets,
// day logs, and the self-only history rule.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens signed with the shared HMAC secret.
//
// The verifier is read-only after construction and safe for concurrent use.
type Verifier struct {
	secret []byte
}

// ErrNoToken indicates the request carried no bearer token.
var ErrNoToken = errors.New("no bearer token")

// NewVerifier creates a token verifier for the given shared secret.
//
// Returns an error if the secret is empty: a server without a secret would
// accept nothing, which is always a deployment mistake rather than a policy.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// ParseToken validates a raw token string and returns its claims.
//
// Validation checks:
//  1. Token signature using HMAC-SHA256 (algorithm confusion rejected)
//  2. Expiry and not-before, when present
//  3. Presence of the username claim
//
// Returns jwt.ErrTokenExpired (wrapped) for expired tokens so callers can
// distinguish "log in again" from "broken token".
func (v *Verifier) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if strings.TrimSpace(claims.Username) == "" {
		return nil, errors.New("token has no username claim")
	}
	return claims, nil
}
