package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialLoopback(t *testing.T) (Connection, Connection) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server := <-accepted

	return NewConnection(client, noopLogger()), NewConnection(server, noopLogger())
}

func TestConnectionPoolPutGet(t *testing.T) {
	t.Parallel()

	client, server := dialLoopback(t)
	t.Cleanup(func() { _ = client.Close(); _ = server.Close() })

	pool := newConnectionPool()
	pool.Put("peer1", client, time.Minute)

	got, ok := pool.Get("peer1")
	require.True(t, ok)
	assert.Same(t, client, got)
	assert.Equal(t, 1, pool.Len())
}

func TestConnectionPoolDrop(t *testing.T) {
	t.Parallel()

	client, server := dialLoopback(t)
	t.Cleanup(func() { _ = server.Close() })

	pool := newConnectionPool()
	pool.Put("peer1", client, time.Minute)
	pool.Drop("peer1")

	_, ok := pool.Get("peer1")
	assert.False(t, ok)
	assert.Equal(t, 0, pool.Len())
}

func TestConnectionPoolTTLEviction(t *testing.T) {
	t.Parallel()

	client, server := dialLoopback(t)
	t.Cleanup(func() { _ = server.Close() })

	pool := newConnectionPool()
	pool.Put("peer1", client, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return pool.Len() == 0
	}, time.Second, 5*time.Millisecond)
}
