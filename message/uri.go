package message

import (
	"strconv"
	"strings"

	"github.com/openpbx/sipcore/internal/errs"
)

// ErrMalformedURI is returned when a SIP or SIPS URI cannot be parsed.
const ErrMalformedURI errs.Error = "malformed uri"

// URI represents a sip: or sips: URI, the subset RFC 3261 requires of a
// request-URI, To/From/Contact address, or Refer-To target.
//
// Comparison of two URIs is host-case-insensitive per RFC 3261 19.1.4,
// and a sip: URI never equals a sips: URI; see Equal.
type URI struct {
	Secure   bool // sips: scheme
	User     string
	Password string
	Host     string
	Port     uint16
	HasPort  bool
	UParams  Params // URI parameters (;tag=..., ;transport=..., etc.)
	Headers  Params // URI headers (?subject=..., rarely used here)
}

// ParseURI parses a bracketed or bare SIP/SIPS URI, e.g.
// "sip:alice@example.com:5060;transport=tcp".
func ParseURI(raw string) (URI, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "<")
	raw = strings.TrimSuffix(raw, ">")

	var u URI
	switch {
	case strings.HasPrefix(raw, "sips:"):
		u.Secure = true
		raw = raw[len("sips:"):]
	case strings.HasPrefix(raw, "sip:"):
		raw = raw[len("sip:"):]
	default:
		return URI{}, errs.Wrapf(ErrMalformedURI, "unsupported scheme in %q", raw)
	}

	// split off URI headers (after '?'), then params (after ';'), then userinfo@hostport
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		hdrs := raw[idx+1:]
		raw = raw[:idx]
		u.Headers = parseParams(hdrs, '&')
	}

	hostport := raw
	if idx := strings.IndexByte(raw, ';'); idx >= 0 {
		hostport = raw[:idx]
		u.UParams = parseParams(raw[idx+1:], ';')
	}

	userinfo := ""
	if idx := strings.LastIndexByte(hostport, '@'); idx >= 0 {
		userinfo = hostport[:idx]
		hostport = hostport[idx+1:]
	}
	if userinfo != "" {
		if idx := strings.IndexByte(userinfo, ':'); idx >= 0 {
			u.User = userinfo[:idx]
			u.Password = userinfo[idx+1:]
		} else {
			u.User = userinfo
		}
	}

	if hostport == "" {
		return URI{}, errs.Wrapf(ErrMalformedURI, "missing host in %q", raw)
	}
	if idx := strings.LastIndexByte(hostport, ':'); idx >= 0 && !strings.Contains(hostport[idx+1:], "]") {
		host := hostport[:idx]
		portStr := hostport[idx+1:]
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return URI{}, errs.Wrapf(ErrMalformedURI, "invalid port in %q", raw)
		}
		u.Host = host
		u.Port = uint16(port)
		u.HasPort = true
	} else {
		u.Host = hostport
	}

	return u, nil
}

// Param returns a URI parameter value.
func (u URI) Param(name string) (string, bool) {
	return u.UParams.Get(name)
}

// String renders the URI in canonical form.
func (u URI) String() string {
	var sb strings.Builder
	if u.Secure {
		sb.WriteString("sips:")
	} else {
		sb.WriteString("sip:")
	}
	if u.User != "" {
		sb.WriteString(u.User)
		if u.Password != "" {
			sb.WriteByte(':')
			sb.WriteString(u.Password)
		}
		sb.WriteByte('@')
	}
	sb.WriteString(u.Host)
	if u.HasPort {
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(int(u.Port)))
	}
	u.UParams.writeTo(&sb, ';')
	u.Headers.writeTo(&sb, '?')
	return sb.String()
}

// Equal compares two URIs per RFC 3261 19.1.4: scheme (sip vs sips), user,
// password and port must match exactly and the host case-insensitively.
// URI parameters and headers are not compared.
func (u URI) Equal(other URI) bool {
	if u.Secure != other.Secure {
		return false
	}
	if u.User != other.User || u.Password != other.Password {
		return false
	}
	if !strings.EqualFold(u.Host, other.Host) {
		return false
	}
	if u.HasPort != other.HasPort || u.Port != other.Port {
		return false
	}
	return true
}

// AOR returns the address-of-record form "user@host" used to key the
// registrar, lower-cased for realm-scoped comparison.
func (u URI) AOR() string {
	host := strings.ToLower(u.Host)
	if u.User == "" {
		return host
	}
	return u.User + "@" + host
}

// Params is an ordered multimap of URI/header parameters.
type Params struct {
	keys   []string
	values map[string][]string
}

func parseParams(raw string, sep byte) Params {
	p := Params{values: map[string][]string{}}
	if raw == "" {
		return p
	}
	for _, part := range strings.Split(raw, string(sep)) {
		if part == "" {
			continue
		}
		var k, v string
		if idx := strings.IndexByte(part, '='); idx >= 0 {
			k, v = part[:idx], part[idx+1:]
		} else {
			k = part
		}
		p.add(strings.ToLower(k), v)
	}
	return p
}

func (p *Params) add(key, value string) {
	if p.values == nil {
		p.values = map[string][]string{}
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = append(p.values[key], value)
}

// Add appends a parameter, keeping insertion order for re-serialization.
func (p *Params) Add(key, value string) {
	p.add(strings.ToLower(key), value)
}

// Get returns the first value for key.
func (p Params) Get(key string) (string, bool) {
	vals, ok := p.values[strings.ToLower(key)]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// Has reports whether key is present, regardless of value.
func (p Params) Has(key string) bool {
	_, ok := p.values[strings.ToLower(key)]
	return ok
}

func (p Params) writeTo(sb *strings.Builder, sep byte) {
	for _, k := range p.keys {
		for _, v := range p.values[k] {
			sb.WriteByte(sep)
			sb.WriteString(k)
			if v != "" {
				sb.WriteByte('=')
				sb.WriteString(v)
			}
		}
	}
}
