package pool

import (
	"sync"
	"time"
)

// errorThreshold is the error count at or above which a record is never
// returned as available.
const errorThreshold = 3

// Conn is a pooled connection record: the raw handle plus the usage
// metadata that drives expiry, health and scaling decisions. The handle is
// owned exclusively by the record until the record is closed.
type Conn struct {
	id     string
	handle RawConn

	mu         sync.RWMutex
	createdAt  time.Time
	lastUsedAt time.Time
	acquiredAt time.Time // zero while idle
	acquired   bool
	useCount   int64
	errorCount int
	lastError  error
}

func newConn(id string, handle RawConn) *Conn {
	now := time.Now()
	return &Conn{
		id:         id,
		handle:     handle,
		createdAt:  now,
		lastUsedAt: now,
	}
}

// ID returns the record's identifier, stable for its lifetime.
func (c *Conn) ID() string { return c.id }

// Handle returns the raw connection handle for use with the backend.
func (c *Conn) Handle() RawConn { return c.handle }

// CreatedAt returns the record's creation time.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// Age returns how long the record has existed.
func (c *Conn) Age() time.Duration { return time.Since(c.createdAt) }

// IdleTime returns the duration since the record was last used.
func (c *Conn) IdleTime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.lastUsedAt)
}

// UseCount returns how many times the record has been acquired.
func (c *Conn) UseCount() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.useCount
}

// ErrorCount returns the number of errors reported against the record.
func (c *Conn) ErrorCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errorCount
}

// LastError returns the most recently reported error, if any.
func (c *Conn) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// IsAcquired reports whether the record is currently checked out.
func (c *Conn) IsAcquired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.acquired
}

func (c *Conn) markAcquired(now time.Time) {
	c.mu.Lock()
	c.acquired = true
	c.acquiredAt = now
	c.useCount++
	c.mu.Unlock()
}

func (c *Conn) markReleased(now time.Time) {
	c.mu.Lock()
	c.acquired = false
	c.acquiredAt = time.Time{}
	c.lastUsedAt = now
	c.mu.Unlock()
}

func (c *Conn) recordError(err error) int {
	c.mu.Lock()
	c.errorCount++
	c.lastError = err
	n := c.errorCount
	c.mu.Unlock()
	return n
}

// faulted reports whether the record has accumulated enough errors to be
// excluded from availability.
func (c *Conn) faulted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errorCount >= errorThreshold
}

// expired reports whether the record is past its idle timeout (idle records
// only) or past the absolute age ceiling (any state).
func (c *Conn) expired(idleTimeout, maxAge time.Duration, now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if now.Sub(c.createdAt) > maxAge {
		return true
	}
	return !c.acquired && now.Sub(c.lastUsedAt) > idleTimeout
}
