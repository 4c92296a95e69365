package transport

import (
	"log/slog"
	"net"

	"github.com/openpbx/sipcore/internal/errs"
	"github.com/openpbx/sipcore/message"
)

// udpProtocol is a single UDP socket: RFC 3261 18.1/18.2's
// connectionless transport. One packet is one framed SIP message,
// per 18.3 ("a message is processed when a single UDP datagram...").
type udpProtocol struct {
	protocolBase
	conn net.PacketConn
	done chan struct{}
}

// NewUDPProtocol constructs an unbound UDP protocol handler.
func NewUDPProtocol(log *slog.Logger, onMsg func(message.Message, net.Addr, net.Addr), onErr func(error, net.Addr, net.Addr)) Protocol {
	p := &udpProtocol{
		protocolBase: protocolBase{network: "udp", reliable: false, streamed: false, log: log, onMsg: onMsg, onErr: onErr},
		done:         make(chan struct{}),
	}
	return p
}

// Listen binds the socket and spawns the single reader task this
// listener owns, per spec.md 5's "one accept task per listener" (for
// UDP there is no accept step, so the reader IS the listener task).
func (p *udpProtocol) Listen(target Target) error {
	conn, err := net.ListenPacket("udp", target.Addr())
	if err != nil {
		return errs.Wrap(ErrNoListener, err)
	}
	p.conn = conn
	go p.serve()
	return nil
}

func (p *udpProtocol) serve() {
	defer close(p.done)
	buf := make([]byte, bufferSize)
	for {
		n, raddr, err := p.conn.ReadFrom(buf)
		if err != nil {
			p.log.Debug("udp listener stopped", "error", err)
			return
		}
		if n > MaxUDPMessageSize {
			p.log.Debug("rejecting oversized udp datagram", "size", n, "raddr", raddr)
			go p.rejectTooLarge(raddr)
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		go p.handleFrame(frame, raddr, p.conn.LocalAddr())
	}
}

// rejectTooLarge answers an oversized datagram with 513 Message Too
// Large per spec.md 4.1's "do not fragment" design decision, without
// ever parsing the frame.
func (p *udpProtocol) rejectTooLarge(raddr net.Addr) {
	target, err := ParseTarget("UDP", raddr.String())
	if err != nil {
		return
	}
	if err := p.Send(target, message.NewResponse(513, message.StandardReason(513))); err != nil {
		p.log.Debug("failed to send 513 for oversized datagram", "error", err, "raddr", raddr)
	}
}

// Send writes msg as a single datagram, from the listening socket when
// one is bound (so replies come from the port the peer sent to) and
// from a fresh socket otherwise. Size limits are not checked here: the
// layer rejects oversized UDP requests with ErrMessageTooLarge.
func (p *udpProtocol) Send(target Target, msg message.Message) error {
	if p.conn != nil {
		raddr, err := net.ResolveUDPAddr("udp", target.Addr())
		if err != nil {
			return errs.Wrap(ErrNoListener, err)
		}
		if _, err := p.conn.WriteTo([]byte(msg.String()), raddr); err != nil {
			return errs.Wrap(ErrConnection, err)
		}
		return nil
	}
	conn, err := net.Dial("udp", target.Addr())
	if err != nil {
		return errs.Wrap(ErrNoListener, err)
	}
	defer conn.Close()
	_, err = conn.Write([]byte(msg.String()))
	if err != nil {
		return errs.Wrap(ErrConnection, err)
	}
	return nil
}

func (p *udpProtocol) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
