package pool

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by pool operations.
var (
	// ErrAlreadyInitialized is returned by Initialize on a pool that is
	// already running.
	ErrAlreadyInitialized = errors.New("pool already initialized")

	// ErrNotInitialized is returned when an operation requires a running
	// pool and the pool was never initialized or has been closed.
	ErrNotInitialized = errors.New("pool not initialized")

	// ErrDraining is returned to callers whose acquisition is rejected
	// because the pool is shutting down.
	ErrDraining = errors.New("pool is draining")

	// ErrQueueTimeout is returned when a queued acquisition's deadline
	// elapses before a connection becomes available.
	ErrQueueTimeout = errors.New("timed out waiting for a pooled connection")
)

// CreationError wraps a factory failure or timeout during connection
// creation. The registry is never modified when a CreationError occurs.
type CreationError struct {
	Target string
	Err    error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("failed to create connection to %s: %v", e.Target, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }
