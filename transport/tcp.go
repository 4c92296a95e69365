package transport

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/openpbx/sipcore/internal/errs"
	"github.com/openpbx/sipcore/message"
)

// tcpProtocol is a connection-oriented transport: one accept task per
// listener (acceptLoop), one reader task per accepted or dialed
// connection (readLoop), per spec.md 5. tlsProtocol reuses this type
// verbatim, supplying its own listenFunc/dialFunc.
type tcpProtocol struct {
	protocolBase
	pool       *connectionPool
	listenFunc func(addr string) (net.Listener, error)
	dialFunc   func(addr string) (net.Conn, error)

	listeners []net.Listener
}

// NewTCPProtocol constructs a TCP protocol handler.
func NewTCPProtocol(log *slog.Logger, onMsg func(message.Message, net.Addr, net.Addr), onErr func(error, net.Addr, net.Addr)) Protocol {
	p := &tcpProtocol{
		protocolBase: protocolBase{network: "tcp", reliable: true, streamed: true, log: log, onMsg: onMsg, onErr: onErr},
		pool:         newConnectionPool(),
	}
	p.listenFunc = func(addr string) (net.Listener, error) { return net.Listen("tcp", addr) }
	p.dialFunc = func(addr string) (net.Conn, error) { return net.Dial("tcp", addr) }
	return p
}

func (p *tcpProtocol) Listen(target Target) error {
	ln, err := p.listenFunc(target.Addr())
	if err != nil {
		return errs.Wrap(ErrNoListener, err)
	}
	p.listeners = append(p.listeners, ln)
	go p.acceptLoop(ln)
	return nil
}

func (p *tcpProtocol) acceptLoop(ln net.Listener) {
	defer ln.Close()
	for {
		conn, err := ln.Accept()
		if err != nil {
			p.log.Debug("listener stopped accepting", "network", p.network, "error", err)
			return
		}
		c := NewConnection(conn, p.log)
		p.pool.Put(conn.RemoteAddr().String(), c, socketTTL)
		go p.readLoop(c)
	}
}

func (p *tcpProtocol) readLoop(conn Connection) {
	defer func() {
		p.pool.Drop(conn.RemoteAddr().String())
	}()
	r := bufio.NewReader(conn)
	for {
		frame, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				p.log.Debug("connection read loop stopped", "error", err)
			}
			return
		}
		p.handleFrame(frame, conn.RemoteAddr(), conn.LocalAddr())
	}
}

// readFrame reads one RFC 3261 7 message off a stream: headers up to
// the blank line, then exactly Content-Length bytes of body.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var head []byte
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		head = append(head, line...)
		if strings.HasSuffix(string(head), "\r\n\r\n") || strings.HasSuffix(string(head), "\n\n") {
			break
		}
	}

	contentLength := 0
	for _, line := range strings.Split(strings.TrimRight(string(head), "\r\n"), "\n") {
		line = strings.TrimRight(line, "\r")
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			name := strings.TrimSpace(line[:idx])
			if strings.EqualFold(name, "Content-Length") || name == "l" {
				if n, err := strconv.Atoi(strings.TrimSpace(line[idx+1:])); err == nil {
					contentLength = n
				}
			}
		}
	}

	if contentLength <= 0 {
		return head, nil
	}
	body := make([]byte, contentLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return append(head, body...), nil
}

func (p *tcpProtocol) Send(target Target, msg message.Message) error {
	addr := target.Addr()
	if conn, ok := p.pool.Get(addr); ok {
		if _, err := conn.Write([]byte(msg.String())); err == nil {
			return nil
		}
		p.pool.Drop(addr)
	}

	raw, err := p.dialFunc(addr)
	if err != nil {
		return errs.Wrap(ErrNoListener, err)
	}
	conn := NewConnection(raw, p.log)
	p.pool.Put(addr, conn, socketTTL)
	go p.readLoop(conn)

	if _, err := conn.Write([]byte(msg.String())); err != nil {
		return errs.Wrap(ErrConnection, err)
	}
	return nil
}

func (p *tcpProtocol) Close() error {
	for _, ln := range p.listeners {
		_ = ln.Close()
	}
	for _, conn := range p.pool.All() {
		_ = conn.Close()
	}
	return nil
}
