package net

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package wraps exactly one of them,
// so callers can classify failures with errors.Is.
var (
	// ErrSetup covers failures to establish a connection: resolve, bind, listen,
	// accept, or a dial loop that ran out of retries.
	ErrSetup = errors.New("connection setup failed")
	// ErrTransport covers socket read and write failures on an established connection.
	ErrTransport = errors.New("transport failure")
	// ErrCodec covers envelopes that cannot be serialized, framed or deserialized.
	ErrCodec = errors.New("codec failure")
	// ErrLocalOnly is returned when asked to frame an envelope type that never goes on the wire.
	ErrLocalOnly = errors.New("envelope type is local only")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("already started")
	// ErrClosed is returned by operations on a closed manager.
	ErrClosed = errors.New("manager closed")
	// ErrNoRole is returned when reconnecting before any role was established.
	ErrNoRole = errors.New("no connection role established")
)

// wrap returns an error that matches both kind and cause.
func wrap(kind error, op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", kind, op)
	}
	return fmt.Errorf("%w: %s: %w", kind, op, cause)
}

// errorType names the kind of err for metrics and logs.
func errorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrSetup):
		return "setup"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrCodec):
		return "codec"
	case errors.Is(err, ErrLocalOnly):
		return "local_only"
	case errors.Is(err, ErrNoRole):
		return "no_role"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "other"
	}
}
