// Package factory provides the bundled connection factories used by
// poolmon: a raw TCP dialer and a SQLite database opener.
package factory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/trmlabs/connpool/pkg/pool"
)

// TCPFactory dials raw TCP connections to the pool target.
type TCPFactory struct {
	dialer net.Dialer
}

// NewTCPFactory creates a TCP factory with the given dial timeout.
func NewTCPFactory(dialTimeout time.Duration) *TCPFactory {
	return &TCPFactory{
		dialer: net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		},
	}
}

// Create dials the target address.
func (f *TCPFactory) Create(ctx context.Context, target string) (pool.RawConn, error) {
	conn, err := f.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", target, err)
	}
	return conn, nil
}

// IsReady probes the connection with a zero-deadline read. A deadline error
// means the socket is still open; EOF or any other error means the peer has
// gone away. Only called on idle connections, so there is no in-flight
// application data to consume.
func (f *TCPFactory) IsReady(handle pool.RawConn) bool {
	conn, ok := handle.(net.Conn)
	if !ok || conn == nil {
		return false
	}

	if err := conn.SetReadDeadline(time.Now()); err != nil {
		return false
	}
	var buf [1]byte
	_, err := conn.Read(buf[:])
	// Re-arm blocking reads for the next user of the connection.
	_ = conn.SetReadDeadline(time.Time{})

	return errors.Is(err, os.ErrDeadlineExceeded)
}

// Close closes the underlying socket.
func (f *TCPFactory) Close(handle pool.RawConn) error {
	conn, ok := handle.(net.Conn)
	if !ok || conn == nil {
		return nil
	}
	return conn.Close()
}
