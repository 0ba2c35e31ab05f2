// Package transport defines the interface for the daemon's network listeners.
//
// The REST API and the gRPC health service both implement it; main starts
// every enabled transport and closes them on shutdown.
package transport

import "context"

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "grpc", "http").
	Name() string

	// Listen starts accepting requests. It blocks until the context is cancelled.
	Listen(ctx context.Context) error

	// Close gracefully shuts down the transport, draining in-flight work.
	Close() error
}
