// Package transport implements RFC 3261 18: the UDP/TCP/TLS listeners
// and sockets that move SIP messages on the wire, Via-based routing of
// responses back to their source, and the 'received'/sent-by rewriting
// rules that let NATted user agents be reached.
package transport

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/openpbx/sipcore/internal/errs"
	"github.com/openpbx/sipcore/message"
)

// Layer owns every listening socket and outbound connection for this
// core, and is the concrete transaction.Sender the transaction layer
// sends through.
type Layer struct {
	hostAddr string
	log      *slog.Logger
	resolver *Resolver

	mu        sync.RWMutex
	protocols map[string]Protocol

	onRequest  func(ctx context.Context, req *message.Request)
	onResponse func(ctx context.Context, resp *message.Response)
	onError    func(err error, raddr, laddr net.Addr)
}

// New constructs a transport layer advertising hostAddr (the IP or
// FQDN written into outbound Via/Contact headers, per spec.md 6's
// local_ip).
func New(hostAddr string, log *slog.Logger, resolver *Resolver) *Layer {
	if log == nil {
		log = slog.Default()
	}
	return &Layer{
		hostAddr:  hostAddr,
		log:       log,
		resolver:  resolver,
		protocols: make(map[string]Protocol),
	}
}

// OnRequest registers the callback invoked for every parsed inbound
// request, after Via 'received' rewriting.
func (l *Layer) OnRequest(fn func(ctx context.Context, req *message.Request)) { l.onRequest = fn }

// OnResponse registers the callback invoked for every parsed inbound
// response that passes the sent-by host check of RFC 3261 18.1.2.
func (l *Layer) OnResponse(fn func(ctx context.Context, resp *message.Response)) { l.onResponse = fn }

// OnError registers the callback invoked for frames that fail to parse
// or lack a Via header, so the dispatcher can still 400 a malformed
// request where a source address is known.
func (l *Layer) OnError(fn func(err error, raddr, laddr net.Addr)) { l.onError = fn }

// Listen starts a listener for transport (udp/tcp/tls) on addr. For
// TLS, certPath/keyPath must be supplied via ListenTLS instead.
func (l *Layer) Listen(transport, addr string) error {
	transport = strings.ToUpper(transport)
	if transport == "TLS" {
		return errs.Wrapf(ErrUnsupportedProtocol, "use ListenTLS for %s", addr)
	}
	target, err := ParseTarget(transport, addr)
	if err != nil {
		return err
	}

	proto, err := l.protocolFor(transport)
	if err != nil {
		return err
	}
	return proto.Listen(target)
}

// ListenTLS starts a TLS listener on addr using the given certificate.
func (l *Layer) ListenTLS(addr, certPath, keyPath string) error {
	l.mu.Lock()
	proto, ok := l.protocols["TLS"]
	l.mu.Unlock()
	if !ok {
		var err error
		proto, err = NewTLSProtocol(certPath, keyPath, l.log.With("transport", "TLS"), l.handleMessage, l.handleError)
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.protocols["TLS"] = proto
		l.mu.Unlock()
	}
	target, err := ParseTarget("TLS", addr)
	if err != nil {
		return err
	}
	return proto.Listen(target)
}

func (l *Layer) protocolFor(transport string) (Protocol, error) {
	l.mu.RLock()
	proto, ok := l.protocols[transport]
	l.mu.RUnlock()
	if ok {
		return proto, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if proto, ok := l.protocols[transport]; ok {
		return proto, nil
	}

	logger := l.log.With("transport", transport)
	var proto2 Protocol
	switch transport {
	case "UDP":
		proto2 = NewUDPProtocol(logger, l.handleMessage, l.handleError)
	case "TCP":
		proto2 = NewTCPProtocol(logger, l.handleMessage, l.handleError)
	default:
		return nil, errs.Wrapf(ErrUnsupportedProtocol, "%s", transport)
	}
	l.protocols[transport] = proto2
	return proto2, nil
}

// Send implements transaction.Sender: it routes a request by its top
// Via transport (rewriting sent-by to this layer's host first, per RFC
// 3261 18.1.1) or a response by the Via 'received'/host it was
// addressed through, per 18.2.2.
func (l *Layer) Send(ctx context.Context, msg message.Message) error {
	via, ok := msg.TopVia()
	if !ok {
		return errs.Wrapf(ErrNoListener, "message has no Via header")
	}

	switch m := msg.(type) {
	case *message.Request:
		return l.sendRequest(ctx, m, *via)
	case *message.Response:
		return l.sendResponse(ctx, m, *via)
	default:
		return errs.Wrapf(ErrNoListener, "unsupported message type")
	}
}

func (l *Layer) sendRequest(ctx context.Context, req *message.Request, via message.ViaHop) error {
	transport := strings.ToUpper(via.Transport)
	if transport == "" {
		transport = "UDP"
	}

	rewriteTopViaHost(req, l.hostAddr)

	target, err := l.resolveRequestTarget(ctx, req, transport)
	if err != nil {
		return err
	}

	if transport == "UDP" && len(req.String()) > MaxUDPMessageSize {
		return errs.Wrapf(ErrMessageTooLarge, "%d bytes exceeds %d byte UDP limit", len(req.String()), MaxUDPMessageSize)
	}

	proto, err := l.protocolFor(transport)
	if err != nil {
		return err
	}
	return proto.Send(target, req)
}

func (l *Layer) sendResponse(_ context.Context, resp *message.Response, via message.ViaHop) error {
	transport := strings.ToUpper(via.Transport)
	if transport == "" {
		transport = "UDP"
	}
	host := via.Host
	if received, ok := via.Received(); ok {
		host = received
	}
	port := int(via.Port)
	if !via.HasPort || port == 0 {
		port = DefaultPort(transport)
	}

	proto, err := l.protocolFor(transport)
	if err != nil {
		return err
	}
	return proto.Send(Target{Host: host, Port: port, Transport: transport}, resp)
}

// resolveRequestTarget applies RFC 3263: an explicit request-URI port
// is used as-is; otherwise the resolver (if configured) performs
// an SRV lookup before falling back to the transport's default port.
func (l *Layer) resolveRequestTarget(ctx context.Context, req *message.Request, transport string) (Target, error) {
	host := req.RequestURI().Host
	if req.RequestURI().HasPort {
		return Target{Host: host, Port: int(req.RequestURI().Port), Transport: transport}, nil
	}
	if l.resolver == nil {
		return Target{Host: host, Port: DefaultPort(transport), Transport: transport}, nil
	}
	targets, err := l.resolver.Resolve(ctx, transport, host)
	if err != nil || len(targets) == 0 {
		return Target{Host: host, Port: DefaultPort(transport), Transport: transport}, nil
	}
	return targets[0], nil
}

// handleMessage is every Protocol's onMsg callback: it applies the
// RFC 3261 18.2 receive-side rules, then dispatches.
func (l *Layer) handleMessage(msg message.Message, raddr, laddr net.Addr) {
	ctx := context.Background()
	switch m := msg.(type) {
	case *message.Request:
		rhost, _, err := net.SplitHostPort(raddr.String())
		if err == nil {
			if via, ok := m.TopVia(); ok && via.Host != rhost {
				rewriteTopViaReceived(m, rhost)
			}
		}
		if l.onRequest != nil {
			l.onRequest(ctx, m)
		}
	case *message.Response:
		via, ok := m.TopVia()
		if !ok {
			l.handleError(ErrMalformedVia, raddr, laddr)
			return
		}
		host, _, err := net.SplitHostPort(laddr.String())
		if err == nil && via.Host != l.hostAddr && via.Host != host {
			l.log.Debug("discarding response with unexpected sent-by host", "via_host", via.Host, "expected", l.hostAddr)
			return
		}
		if l.onResponse != nil {
			l.onResponse(ctx, m)
		}
	}
}

func (l *Layer) handleError(err error, raddr, laddr net.Addr) {
	if l.onError != nil {
		l.onError(err, raddr, laddr)
	}
}

// RespondBadRequest best-effort sends a minimal 400 Bad Request back to
// raddr, per spec.md 4.1/7: a codec error synthesizes a 400 via the
// same transport back to the source. Only attempted for UDP, matching
// spec.md's "best-effort for UDP" carve-out — a malformed TCP/TLS frame
// never yields a connection handle to answer on.
func (l *Layer) RespondBadRequest(raddr net.Addr) error {
	if raddr == nil || raddr.Network() != "udp" {
		return nil
	}
	target, err := ParseTarget("UDP", raddr.String())
	if err != nil {
		return err
	}
	proto, err := l.protocolFor("UDP")
	if err != nil {
		return err
	}
	return proto.Send(target, message.NewResponse(400, message.StandardReason(400)))
}

// IsReliable reports whether transport guarantees in-order delivery
// and needs no SIP-level retransmission, per spec.md 5's timeout rule.
func (l *Layer) IsReliable(transport string) bool {
	switch strings.ToUpper(transport) {
	case "TCP", "TLS":
		return true
	default:
		return false
	}
}

// Close shuts down every listener and pooled connection.
func (l *Layer) Close() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var firstErr error
	for _, proto := range l.protocols {
		if err := proto.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// rewriteTopViaHost replaces the top Via's sent-by host with hostAddr,
// per RFC 3261 18.1.1, preserving every other Via hop in place.
func rewriteTopViaHost(req *message.Request, hostAddr string) {
	hops := req.Via()
	if len(hops) == 0 || hostAddr == "" {
		return
	}
	hops[0].Host = hostAddr
	rebuildVia(req, hops)
}

// rewriteTopViaReceived adds/updates the top Via's received= parameter
// with the packet's actual source host, per RFC 3261 18.2.1.
func rewriteTopViaReceived(req *message.Request, rhost string) {
	hops := req.Via()
	if len(hops) == 0 {
		return
	}
	hops[0].Params.Add("received", rhost)
	rebuildVia(req, hops)
}

func rebuildVia(req *message.Request, hops []message.ViaHop) {
	req.RemoveHeader("via")
	for i := len(hops) - 1; i >= 0; i-- {
		req.PushVia(hops[i])
	}
}

