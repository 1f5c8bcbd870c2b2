package factory

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBackend(t *testing.T) (net.Listener, chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()
	return ln, accepted
}

func TestTCPFactoryCreate(t *testing.T) {
	ln, _ := startBackend(t)
	f := NewTCPFactory(2 * time.Second)

	handle, err := f.Create(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer f.Close(handle)

	conn, ok := handle.(net.Conn)
	require.True(t, ok)
	assert.NotNil(t, conn.RemoteAddr())
}

func TestTCPFactoryCreateRefused(t *testing.T) {
	ln, _ := startBackend(t)
	addr := ln.Addr().String()
	ln.Close()

	f := NewTCPFactory(500 * time.Millisecond)
	_, err := f.Create(context.Background(), addr)
	assert.Error(t, err)
}

func TestTCPFactoryIsReady(t *testing.T) {
	ln, accepted := startBackend(t)
	f := NewTCPFactory(2 * time.Second)

	handle, err := f.Create(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer f.Close(handle)

	assert.True(t, f.IsReady(handle))

	// Once the peer hangs up the probe sees EOF.
	server := <-accepted
	require.NoError(t, server.Close())
	assert.Eventually(t, func() bool {
		return !f.IsReady(handle)
	}, time.Second, 10*time.Millisecond)
}

func TestTCPFactoryIsReadyBadHandle(t *testing.T) {
	f := NewTCPFactory(time.Second)
	assert.False(t, f.IsReady(nil))
	assert.False(t, f.IsReady("not a connection"))
}

func TestTCPFactoryClose(t *testing.T) {
	ln, _ := startBackend(t)
	f := NewTCPFactory(2 * time.Second)

	handle, err := f.Create(context.Background(), ln.Addr().String())
	require.NoError(t, err)

	require.NoError(t, f.Close(handle))
	assert.False(t, f.IsReady(handle))
	assert.NoError(t, f.Close("not a connection"))
}

func TestSQLiteFactoryLifecycle(t *testing.T) {
	f := NewSQLiteFactory()

	handle, err := f.Create(context.Background(), ":memory:")
	require.NoError(t, err)

	assert.True(t, f.IsReady(handle))
	require.NoError(t, f.Close(handle))
	assert.False(t, f.IsReady(handle))
}

func TestSQLiteFactoryBadTarget(t *testing.T) {
	f := NewSQLiteFactory()
	_, err := f.Create(context.Background(), "/nonexistent-dir/pool.db")
	assert.Error(t, err)
}
