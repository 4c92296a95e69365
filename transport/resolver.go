package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/miekg/dns"

	"github.com/openpbx/sipcore/internal/errs"
)

// ErrResolve is returned when RFC 3263 SRV resolution fails outright.
const ErrResolve errs.Error = "failed to resolve SIP URI target"

// Resolver performs the RFC 3263 target resolution a request-URI with
// no explicit port needs before transport can dial it: an SRV lookup
// for the transport-specific service name, falling back to the bare
// host and the transport's default port when no SRV record exists.
type Resolver struct {
	client *dns.Client
	server string
}

// NewResolver constructs a Resolver that queries server (host:port,
// e.g. "8.8.8.8:53").
func NewResolver(server string) *Resolver {
	return &Resolver{client: new(dns.Client), server: server}
}

// serviceName maps a transport to its RFC 3263 SRV service label.
func serviceName(transport string) string {
	switch strings.ToUpper(transport) {
	case "TLS":
		return "_sips._tcp."
	case "UDP":
		return "_sip._udp."
	default:
		return "_sip._tcp."
	}
}

// Resolve returns the host:port targets for domain, taken from its SRV
// records in the order the DNS answer lists them (they are not re-sorted
// by priority or weight), and falling back to domain itself at the
// transport's default port when none are found.
func (r *Resolver) Resolve(ctx context.Context, transport, domain string) ([]Target, error) {
	if r == nil || r.server == "" {
		return []Target{{Host: domain, Port: DefaultPort(transport), Transport: transport}}, nil
	}

	msg := new(dns.Msg)
	msg.SetQuestion(serviceName(transport)+dns.Fqdn(domain), dns.TypeSRV)

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, errs.Wrap(ErrResolve, err)
	}
	if resp.Rcode != dns.RcodeSuccess || len(resp.Answer) == 0 {
		return []Target{{Host: domain, Port: DefaultPort(transport), Transport: transport}}, nil
	}

	targets := make([]Target, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		targets = append(targets, Target{
			Host:      strings.TrimSuffix(srv.Target, "."),
			Port:      int(srv.Port),
			Transport: transport,
		})
	}
	if len(targets) == 0 {
		return nil, errs.Wrapf(ErrResolve, "no usable SRV records for %s", domain)
	}
	return targets, nil
}

func (r *Resolver) String() string {
	return fmt.Sprintf("resolver(%s)", r.server)
}
