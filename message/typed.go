package message

import (
	"strconv"
	"strings"

	"github.com/openpbx/sipcore/internal/errs"
)

// ErrMalformedHeader is returned when a typed header value cannot be parsed.
const ErrMalformedHeader errs.Error = "malformed header"

// NameAddr is the common shape of From, To, Contact and Refer-To/Referred-By
// header values: an optional display name, a URI, and header parameters
// (tag=..., expires=..., q=...).
type NameAddr struct {
	DisplayName string
	URI         URI
	Params      Params
	Wildcard    bool // Contact: * — remove-all-bindings marker
}

// ParseNameAddr parses a single From/To/Contact-style header value.
func ParseNameAddr(raw string) (NameAddr, error) {
	raw = strings.TrimSpace(raw)
	if raw == "*" {
		return NameAddr{Wildcard: true}, nil
	}

	var na NameAddr
	rest := raw

	if idx := strings.IndexByte(rest, '<'); idx >= 0 {
		na.DisplayName = strings.Trim(strings.TrimSpace(rest[:idx]), `"`)
		end := strings.IndexByte(rest[idx:], '>')
		if end < 0 {
			return NameAddr{}, errs.Wrapf(ErrMalformedHeader, "unterminated addr-spec in %q", raw)
		}
		uriPart := rest[idx+1 : idx+end]
		u, err := ParseURI(uriPart)
		if err != nil {
			return NameAddr{}, errs.Wrap(ErrMalformedHeader, err)
		}
		na.URI = u
		rest = rest[idx+end+1:]
		rest = strings.TrimPrefix(strings.TrimSpace(rest), ";")
		na.Params = parseParams(rest, ';')
		return na, nil
	}

	// bare addr-spec, optionally followed by ;params
	if idx := strings.IndexByte(rest, ';'); idx >= 0 {
		u, err := ParseURI(rest[:idx])
		if err != nil {
			return NameAddr{}, errs.Wrap(ErrMalformedHeader, err)
		}
		na.URI = u
		na.Params = parseParams(rest[idx+1:], ';')
		return na, nil
	}
	u, err := ParseURI(rest)
	if err != nil {
		return NameAddr{}, errs.Wrap(ErrMalformedHeader, err)
	}
	na.URI = u
	return na, nil
}

// Tag returns the tag= parameter, used for From/To.
func (na NameAddr) Tag() (string, bool) { return na.Params.Get("tag") }

// Expires returns the expires= Contact parameter.
func (na NameAddr) Expires() (int, bool) {
	v, ok := na.Params.Get("expires")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// String renders the header value in canonical "name-addr" form.
func (na NameAddr) String() string {
	if na.Wildcard {
		return "*"
	}
	var sb strings.Builder
	if na.DisplayName != "" {
		sb.WriteByte('"')
		sb.WriteString(na.DisplayName)
		sb.WriteString("\" ")
	}
	sb.WriteByte('<')
	sb.WriteString(na.URI.String())
	sb.WriteByte('>')
	na.Params.writeTo(&sb, ';')
	return sb.String()
}

// WithTag returns a copy of na with tag set to the given value.
func (na NameAddr) WithTag(tag string) NameAddr {
	params := Params{values: map[string][]string{}}
	for _, k := range na.Params.keys {
		if k == "tag" {
			continue
		}
		for _, v := range na.Params.values[k] {
			params.add(k, v)
		}
	}
	params.add("tag", tag)
	na.Params = params
	return na
}

// CSeq is the CSeq header value: a sequence number paired with the
// originating request's method, per RFC 3261 8.1.1.5.
type CSeq struct {
	Seq    uint32
	Method Method
}

// ParseCSeq parses a "seq method" CSeq header value.
func ParseCSeq(raw string) (CSeq, error) {
	parts := strings.Fields(raw)
	if len(parts) != 2 {
		return CSeq{}, errs.Wrapf(ErrMalformedHeader, "invalid CSeq %q", raw)
	}
	n, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return CSeq{}, errs.Wrapf(ErrMalformedHeader, "invalid CSeq sequence %q", raw)
	}
	return CSeq{Seq: uint32(n), Method: Method(strings.ToUpper(parts[1]))}, nil
}

func (c CSeq) String() string {
	return strconv.FormatUint(uint64(c.Seq), 10) + " " + string(c.Method)
}

// ViaHop is a single hop of the Via header stack: RFC 3261 8.1.1.7, 18.2.1.
type ViaHop struct {
	Transport string // UDP, TCP, TLS
	Host      string
	Port      uint16
	HasPort   bool
	Params    Params
}

// ParseViaLine parses one Via header *line*, which may itself contain a
// comma-separated list of hops.
func ParseViaLine(raw string) []ViaHop {
	var hops []ViaHop
	for _, part := range splitUnquoted(raw, ',') {
		if hop, err := parseViaHop(part); err == nil {
			hops = append(hops, hop)
		}
	}
	return hops
}

func parseViaHop(raw string) (ViaHop, error) {
	raw = strings.TrimSpace(raw)
	// "SIP/2.0/UDP host:port;params"
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return ViaHop{}, errs.Wrapf(ErrMalformedHeader, "invalid Via %q", raw)
	}
	protoParts := strings.Split(fields[0], "/")
	if len(protoParts) != 3 {
		return ViaHop{}, errs.Wrapf(ErrMalformedHeader, "invalid Via protocol %q", fields[0])
	}
	hop := ViaHop{Transport: strings.ToUpper(protoParts[2])}

	sentBy := fields[1]
	if idx := strings.IndexByte(sentBy, ';'); idx >= 0 {
		hop.Params = parseParams(sentBy[idx+1:], ';')
		sentBy = sentBy[:idx]
	} else {
		hop.Params = Params{}
	}
	if idx := strings.LastIndexByte(sentBy, ':'); idx >= 0 {
		port, err := strconv.Atoi(sentBy[idx+1:])
		if err == nil {
			hop.Host = sentBy[:idx]
			hop.Port = uint16(port)
			hop.HasPort = true
			return hop, nil
		}
	}
	hop.Host = sentBy
	return hop, nil
}

func (h ViaHop) String() string {
	var sb strings.Builder
	sb.WriteString("SIP/2.0/")
	sb.WriteString(strings.ToUpper(h.Transport))
	sb.WriteByte(' ')
	sb.WriteString(h.Host)
	if h.HasPort {
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(int(h.Port)))
	}
	h.Params.writeTo(&sb, ';')
	return sb.String()
}

// Branch returns the branch= parameter, used to correlate transactions.
func (h ViaHop) Branch() (string, bool) { return h.Params.Get("branch") }

// Received returns the received= parameter added by the transport layer
// per RFC 3261 18.2.1 when the packet's source differs from the Via host.
func (h ViaHop) Received() (string, bool) { return h.Params.Get("received") }

// splitUnquoted splits s on sep, ignoring separators inside double quotes.
func splitUnquoted(s string, sep byte) []string {
	var out []string
	inQuotes := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case sep:
			if !inQuotes {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

// Authorization is the parsed field set of an Authorization,
// WWW-Authenticate or Proxy-Authenticate header, per RFC 2617/8760.
type Authorization struct {
	Scheme    string // "Digest"
	Username  string
	Realm     string
	Nonce     string
	URI       string
	Response  string
	Algorithm string
	CNonce    string
	NC        string
	QOP       string
	Opaque    string
	Stale     bool
}

// ParseAuthorization parses an Authorization/WWW-Authenticate-style header
// value into its quoted field map.
func ParseAuthorization(raw string) (Authorization, error) {
	raw = strings.TrimSpace(raw)
	sp := strings.IndexByte(raw, ' ')
	if sp < 0 {
		return Authorization{}, errs.Wrapf(ErrMalformedHeader, "invalid auth header %q", raw)
	}
	a := Authorization{Scheme: raw[:sp]}
	for _, part := range splitUnquoted(raw[sp+1:], ',') {
		part = strings.TrimSpace(part)
		idx := strings.IndexByte(part, '=')
		if idx < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(part[:idx]))
		val := strings.Trim(strings.TrimSpace(part[idx+1:]), `"`)
		switch key {
		case "username":
			a.Username = val
		case "realm":
			a.Realm = val
		case "nonce":
			a.Nonce = val
		case "uri":
			a.URI = val
		case "response":
			a.Response = val
		case "algorithm":
			a.Algorithm = val
		case "cnonce":
			a.CNonce = val
		case "nc":
			a.NC = val
		case "qop":
			a.QOP = val
		case "opaque":
			a.Opaque = val
		case "stale":
			a.Stale = strings.EqualFold(val, "true")
		}
	}
	return a, nil
}

func (a Authorization) String() string {
	var sb strings.Builder
	sb.WriteString(a.Scheme)
	sb.WriteByte(' ')
	first := true
	write := func(key, val string, quoted bool) {
		if val == "" {
			return
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString(key)
		sb.WriteByte('=')
		if quoted {
			sb.WriteByte('"')
			sb.WriteString(val)
			sb.WriteByte('"')
		} else {
			sb.WriteString(val)
		}
	}
	write("username", a.Username, true)
	write("realm", a.Realm, true)
	write("nonce", a.Nonce, true)
	write("uri", a.URI, true)
	write("response", a.Response, true)
	write("algorithm", a.Algorithm, false)
	write("cnonce", a.CNonce, true)
	write("nc", a.NC, false)
	write("qop", a.QOP, false)
	write("opaque", a.Opaque, true)
	if a.Stale {
		write("stale", "true", false)
	}
	return sb.String()
}
