package transport

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/openpbx/sipcore/internal/errs"
)

var (
	readTimeout  = 30 * time.Second
	writeTimeout = 30 * time.Second
)

// ErrConnection wraps a net.Conn-level read/write/close failure with
// the connection it occurred on.
const ErrConnection errs.Error = "transport connection error"

// Connection wraps net.Conn with the bookkeeping the transport layer
// needs: whether it is stream-based (TCP/TLS) or datagram-based (UDP),
// and deadline-guarded reads/writes.
type Connection interface {
	net.Conn
	Network() string
	Streamed() bool
	String() string
}

type connection struct {
	base     net.Conn
	log      *slog.Logger
	raddr    net.Addr
	streamed bool
	mu       sync.RWMutex
}

// NewConnection wraps an already-dialed or -accepted net.Conn.
func NewConnection(base net.Conn, log *slog.Logger) Connection {
	_, isPacket := base.(net.PacketConn)
	return &connection{
		base:     base,
		log:      log,
		raddr:    base.RemoteAddr(),
		streamed: !isPacket,
	}
}

func (c *connection) String() string {
	return fmt.Sprintf("%s connection %p (laddr %v, raddr %v)", c.Network(), c, c.LocalAddr(), c.RemoteAddr())
}

func (c *connection) Network() string { return strings.ToUpper(c.base.LocalAddr().Network()) }
func (c *connection) Streamed() bool  { return c.streamed }

func (c *connection) Read(buf []byte) (int, error) {
	_ = c.base.SetReadDeadline(time.Now().Add(readTimeout))

	var n int
	var err error
	switch base := c.base.(type) {
	case net.PacketConn:
		var raddr net.Addr
		n, raddr, err = base.ReadFrom(buf)
		c.mu.Lock()
		c.raddr = raddr
		c.mu.Unlock()
	default:
		n, err = c.base.Read(buf)
	}
	if err != nil {
		return n, errs.Wrap(ErrConnection, err)
	}
	c.log.Debug("read from connection", "bytes", n, "conn", c.String())
	return n, nil
}

func (c *connection) Write(buf []byte) (int, error) {
	_ = c.base.SetWriteDeadline(time.Now().Add(writeTimeout))
	n, err := c.base.Write(buf)
	if err != nil {
		return n, errs.Wrap(ErrConnection, err)
	}
	c.log.Debug("wrote to connection", "bytes", n, "conn", c.String())
	return n, nil
}

func (c *connection) LocalAddr() net.Addr { return c.base.LocalAddr() }

func (c *connection) RemoteAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.raddr
}

func (c *connection) Close() error {
	if err := c.base.Close(); err != nil {
		return errs.Wrap(ErrConnection, err)
	}
	c.log.Debug("closed connection", "conn", c.String())
	return nil
}

func (c *connection) SetDeadline(t time.Time) error      { return c.base.SetDeadline(t) }
func (c *connection) SetReadDeadline(t time.Time) error  { return c.base.SetReadDeadline(t) }
func (c *connection) SetWriteDeadline(t time.Time) error { return c.base.SetWriteDeadline(t) }
