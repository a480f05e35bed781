// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package services

import (
	"context"
	"errors"
	"fmt"
)

// wrapFailure prefixes real failures with the service name so suture's
// restart log identifies the source. Context errors pass through untouched
// because they signal shutdown, not a crash.
func wrapFailure(name string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w", name, err)
}

// waitReady blocks until the ready channel closes or the context ends.
// A nil channel means no gate.
func waitReady(ctx context.Context, ready <-chan struct{}) error {
	if ready == nil {
		return nil
	}
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
