package adapter

import (
	"context"
)

// Adapter is a transport listener managed by the server runtime.
//
// Each adapter speaks the remote shell protocol over one transport (stream,
// datagram or request/response) and hands decoded commands to the shared
// dispatcher, so every transport observes the same sessions and registry.
//
// Lifecycle:
//  1. Creation: the adapter is built with its transport configuration and
//     the shared dispatcher
//  2. Startup: Serve() binds the socket and blocks until shutdown
//  3. Shutdown: Stop() closes the socket and waits for in-flight work
//
// Thread safety:
// Implementations must be safe for concurrent use. Stop() may be called
// concurrently with Serve().
type Adapter interface {
	// Serve starts the transport and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must stop accepting new work,
	// wait for active operations (with timeout) and release its socket.
	//
	// Returns:
	//   - nil on graceful shutdown
	//   - error if startup fails or shutdown is not graceful
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown. Must be idempotent and safe to call
	// concurrently with Serve(). The context bounds the wait.
	Stop(ctx context.Context) error

	// Protocol returns the transport name for logging and metrics
	// ("TCP", "UDP", "RPC").
	Protocol() string

	// Port returns the port the adapter listens on. Once the socket is bound
	// this is the actual port, even when the configured port was 0.
	Port() int
}
