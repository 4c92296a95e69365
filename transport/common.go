package transport

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/openpbx/sipcore/internal/errs"
)

const (
	// bufferSize is sized for the largest UDP datagram this stack will
	// read: max IPv4 packet minus IPv4 and UDP headers.
	bufferSize = 65535 - 20 - 8

	// MaxUDPMessageSize is the largest request this stack will send, and
	// the largest datagram it will accept, over UDP. Per spec.md 4.1's
	// no-fragmentation design decision, a larger inbound datagram is
	// rejected with 513 Message Too Large and a larger outbound request
	// with ErrMessageTooLarge, rather than falling back to a reliable
	// transport. Outbound responses are not size-checked.
	MaxUDPMessageSize = 1300

	DefaultHost     = "0.0.0.0"
	DefaultProtocol = "TCP"
	DefaultUDPPort  = 5060
	DefaultTCPPort  = 5060
	DefaultTLSPort  = 5061

	// socketTTL bounds how long a TCP/TLS connection stays pooled after
	// it was put in the pool, whether or not it is in use; after that a
	// fresh Dial is required.
	socketTTL = time.Hour

	netErrRetryTime = 5 * time.Second
)

// ErrUnsupportedProtocol names a transport this layer has no Protocol
// registered for.
const ErrUnsupportedProtocol errs.Error = "unsupported transport protocol"

// ErrNoListener is returned by Send when no outbound route exists for
// a message's transport.
const ErrNoListener errs.Error = "no listener for transport"

// ErrMessageTooLarge is returned by Send when a request exceeds
// MaxUDPMessageSize over UDP; per spec.md 4.1, this is rejected
// outright instead of being silently upgraded to a reliable transport.
const ErrMessageTooLarge errs.Error = "message too large for udp"

// Target is a resolved destination: host, port, and transport.
type Target struct {
	Host      string
	Port      int
	Transport string
}

// Addr renders the target as a dial/listen address, filling in the
// transport's default port if unset.
func (t Target) Addr() string {
	host := t.Host
	if strings.TrimSpace(host) == "" {
		host = DefaultHost
	}
	port := t.Port
	if port == 0 {
		port = DefaultPort(t.Transport)
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", port))
}

func (t Target) String() string {
	tp := t.Transport
	if tp == "" {
		tp = DefaultProtocol
	}
	return fmt.Sprintf("%s %s", strings.ToUpper(tp), t.Addr())
}

// DefaultPort returns the well-known port for a transport, per spec.md
// 6: UDP/TCP 5060, TLS 5061.
func DefaultPort(transport string) int {
	switch strings.ToUpper(transport) {
	case "TLS":
		return DefaultTLSPort
	case "UDP":
		return DefaultUDPPort
	default:
		return DefaultTCPPort
	}
}

// ParseTarget splits a "host:port" address into a Target for the given
// transport.
func ParseTarget(transport, addr string) (Target, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Target{}, errs.Wrap(ErrNoListener, err)
	}
	port := 0
	if portStr != "" {
		if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
			return Target{}, errs.Wrap(ErrNoListener, err)
		}
	}
	return Target{Host: host, Port: port, Transport: transport}, nil
}
