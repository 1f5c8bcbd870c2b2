package pool

import "context"

// RawConn is an opaque handle to a backend connection. The pool never
// inspects protocol-level content of the handle; only the factory that
// produced it knows what it is.
type RawConn interface{}

// ConnectionFactory produces and manages raw connection handles for a
// target address. Implementations live outside the pool (see pkg/factory
// for the bundled TCP and SQLite factories).
type ConnectionFactory interface {
	// Create dials the target and returns a raw handle. The pool bounds the
	// call with the configured connection timeout via ctx.
	Create(ctx context.Context, target string) (RawConn, error)

	// IsReady reports whether the handle is still usable. A handle that is
	// not ready makes its record unhealthy.
	IsReady(handle RawConn) bool

	// Close releases the handle. Called exactly once per handle.
	Close(handle RawConn) error
}
