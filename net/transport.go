// Package net implements a resilient point-to-point TCP transport. A Manager
// establishes one connection as server or client, frames envelopes onto it and
// keeps re-establishing it in the same role until closed.
package net

import "context"

// Transport is the lifecycle surface of a point-to-point connection.
type Transport interface {
	// ListenAndAcceptOnce binds port and waits for exactly one client.
	ListenAndAcceptOnce(ctx context.Context, port int) error

	// ConnectToPeer dials host:port until connected or the retry budget is spent.
	ConnectToPeer(ctx context.Context, host string, port int) error

	// Start launches the background send/receive loop.
	Start() error

	// Stop requests the loop to exit without waiting for it.
	Stop()

	// Close stops the loop, waits for it and releases the sockets.
	Close() error
}

var _ Transport = (*Manager)(nil)
