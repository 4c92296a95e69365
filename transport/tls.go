package transport

import (
	"crypto/tls"
	"log/slog"
	"net"

	"github.com/openpbx/sipcore/internal/errs"
	"github.com/openpbx/sipcore/message"
)

// ErrTLSConfig is returned when a TLS listener is requested without a
// usable certificate/key pair, per spec.md 6's {tls_cert_path,
// tls_key_path} requirement.
const ErrTLSConfig errs.Error = "tls certificate/key required"

// NewTLSProtocol constructs a TLS protocol handler. It reuses
// tcpProtocol's accept/read-loop machinery wholesale (RFC 3261 18.1/18.2
// make no distinction between TCP and TLS framing), supplying a
// tls.Listen/tls.Dial pair instead of plain net.Listen/net.Dial.
func NewTLSProtocol(certPath, keyPath string, log *slog.Logger, onMsg func(message.Message, net.Addr, net.Addr), onErr func(error, net.Addr, net.Addr)) (Protocol, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, errs.Wrap(ErrTLSConfig, err)
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	p := &tcpProtocol{
		protocolBase: protocolBase{network: "tls", reliable: true, streamed: true, log: log, onMsg: onMsg, onErr: onErr},
		pool:         newConnectionPool(),
	}
	p.listenFunc = func(addr string) (net.Listener, error) { return tls.Listen("tcp", addr, cfg) }
	p.dialFunc = func(addr string) (net.Conn, error) { return tls.Dial("tcp", addr, cfg) }
	return p, nil
}
