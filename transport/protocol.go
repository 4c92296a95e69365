package transport

import (
	"log/slog"
	"net"
	"strings"

	"github.com/openpbx/sipcore/internal/errs"
	"github.com/openpbx/sipcore/message"
)

// ErrMalformedVia is passed to onError when a received message lacks a
// Via header entirely, per RFC 3261 18.2.1/18.2.2.
const ErrMalformedVia errs.Error = "message has no Via header"

// received is delivered to the layer for every framed message a
// Protocol decodes off the wire, tagged with where it came from.
type received struct {
	msg   message.Message
	raddr net.Addr
	laddr net.Addr
}

// Protocol implements one transport's listen/send semantics: RFC 3261
// 18. onMsg is invoked once per complete, parsed message; onErr for
// framing/parse failures that should still surface to the dispatcher
// (e.g. to 400 a malformed request) rather than being silently
// dropped.
type Protocol interface {
	Network() string
	Reliable() bool
	Streamed() bool
	Listen(target Target) error
	Send(target Target, msg message.Message) error
	Close() error
}

type protocolBase struct {
	network  string
	reliable bool
	streamed bool
	log      *slog.Logger
	onMsg    func(msg message.Message, raddr, laddr net.Addr)
	onErr    func(err error, raddr, laddr net.Addr)
}

func (p *protocolBase) Network() string { return strings.ToUpper(p.network) }
func (p *protocolBase) Reliable() bool  { return p.reliable }
func (p *protocolBase) Streamed() bool  { return p.streamed }

// handleFrame parses a complete wire frame and dispatches it to onMsg
// or onErr, stamping Source/Destination/Transport the way RFC 3261
// 18.2.1 requires before any Via 'received' rewriting happens upstream
// in the layer.
func (p *protocolBase) handleFrame(frame []byte, raddr, laddr net.Addr) {
	msg, err := message.Parse(frame)
	if err != nil {
		p.log.Debug("discarding malformed frame", "error", err, "raddr", raddr)
		if p.onErr != nil {
			p.onErr(err, raddr, laddr)
		}
		return
	}
	msg.SetSource(raddr.String())
	msg.SetDestination(laddr.String())
	msg.SetTransport(p.Network())
	if _, ok := msg.TopVia(); !ok {
		p.log.Debug("discarding message with no Via", "raddr", raddr)
		if p.onErr != nil {
			p.onErr(ErrMalformedVia, raddr, laddr)
		}
		return
	}
	p.onMsg(msg, raddr, laddr)
}
