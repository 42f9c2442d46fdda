// Package kaderr holds the sentinel error taxonomy shared across the whole
// tree. Every
// surfaced caller-facing failure wraps one of these with fmt.Errorf's %w,
// so callers can still errors.Is against the kind while getting a
// descriptive message.
package kaderr

import (
	"context"
	"errors"
)

var (
	// ErrLookupFailed means the routing table was empty or had no seeds to
	// start a query from.
	ErrLookupFailed = errors.New("kaddht: lookup failed, no seed peers")

	// ErrNotFound means a query ran to completion but found no matching
	// peer or record.
	ErrNotFound = errors.New("kaddht: not found")

	// ErrTimeout means an overall or per-request deadline elapsed.
	ErrTimeout = errors.New("kaddht: timeout")

	// ErrInvalidRecord means a validator rejected a record payload.
	ErrInvalidRecord = errors.New("kaddht: invalid record")

	// ErrInvalidPublicKey means a claimed public key does not hash to the
	// peer ID it was fetched for.
	ErrInvalidPublicKey = errors.New("kaddht: public key does not match peer id")

	// ErrTransportFailure means a stream open/read/write failed.
	ErrTransportFailure = errors.New("kaddht: transport error")

	// ErrCancelled means the caller's context was cancelled before the
	// operation completed.
	ErrCancelled = errors.New("kaddht: cancelled")
)

// FromContextErr maps a context error surfaced by a query run to the
// matching sentinel: ErrTimeout for a deadline, ErrCancelled for an
// explicit cancellation. Returns nil if err is nil or not a context error.
func FromContextErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	default:
		return nil
	}
}
