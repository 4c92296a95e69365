// Package message implements the RFC 3261 message grammar: parsing wire
// bytes into a SipMessage (request or response), typed lazy accessors for
// the dozen headers the dispatcher touches directly, and serialization back
// to wire form.
package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Method is a SIP request method. Comparison should use EqualFold-based
// Equals rather than ==, since methods are case-insensitive on the wire,
// though every constant here is already canonical upper-case.
type Method string

func (m Method) Equals(other Method) bool { return strings.EqualFold(string(m), string(other)) }

// Recognized request methods, per spec.md's data model (3) and the
// INFO/PRACK/UPDATE/PUBLISH supplement in SPEC_FULL.md.
const (
	MethodInvite    Method = "INVITE"
	MethodACK       Method = "ACK"
	MethodCancel    Method = "CANCEL"
	MethodBye       Method = "BYE"
	MethodRegister  Method = "REGISTER"
	MethodOptions   Method = "OPTIONS"
	MethodSubscribe Method = "SUBSCRIBE"
	MethodNotify    Method = "NOTIFY"
	MethodRefer     Method = "REFER"
	MethodMessage   Method = "MESSAGE"
	MethodInfo      Method = "INFO"
	MethodPrack     Method = "PRACK"
	MethodUpdate    Method = "UPDATE"
	MethodPublish   Method = "PUBLISH"
)

// SIPVersion is the only protocol version this engine speaks.
const SIPVersion = "SIP/2.0"

// Message is the common surface of Request and Response: RFC 3261 7.
type Message interface {
	// IsRequest reports whether this message is a Request.
	IsRequest() bool
	// SIPVersion returns the protocol version on the start line.
	SIPVersion() string

	Header(name string) (Header, bool)
	Headers(name string) []Header
	AllHeaders() []Header
	AddHeader(name, value string)
	SetHeader(name, value string)
	RemoveHeader(name string)
	HasHeader(name string) bool

	CallID() (string, bool)
	From() (*NameAddr, bool)
	To() (*NameAddr, bool)
	CSeq() (CSeq, bool)
	MaxForwards() (int, bool)
	ContentLength() int
	ContentType() (string, bool)
	Via() []ViaHop
	TopVia() (*ViaHop, bool)
	PushVia(hop ViaHop)

	Body() []byte
	SetBody(body []byte, setContentLength bool)

	// Source/Destination record the transport-level peer this message was
	// received from or is destined to; set by the transport layer, never
	// parsed from the wire.
	Source() string
	SetSource(addr string)
	Destination() string
	SetDestination(addr string)
	Transport() string
	SetTransport(network string)

	StartLine() string
	String() string
	Short() string
	Clone() Message
}

// base holds the fields and behavior shared by Request and Response.
type base struct {
	version     string
	hdrs        *headerMap
	body        []byte
	source      string
	destination string
	transport   string
}

func newBase() base {
	return base{version: SIPVersion, hdrs: newHeaders()}
}

func (b *base) SIPVersion() string { return b.version }

func (b *base) Header(name string) (Header, bool) { return b.hdrs.GetHeader(name) }

func (b *base) Headers(name string) []Header { return b.hdrs.GetAll(name) }

func (b *base) AllHeaders() []Header {
	out := make([]Header, 0)
	for _, key := range b.hdrs.renderOrder() {
		out = append(out, b.hdrs.m[key]...)
	}
	return out
}

func (b *base) AddHeader(name, value string) { b.hdrs.Add(name, value) }

func (b *base) SetHeader(name, value string) { b.hdrs.Set(name, value) }

func (b *base) RemoveHeader(name string) { b.hdrs.Remove(name) }

func (b *base) HasHeader(name string) bool { return b.hdrs.Has(name) }

func (b *base) CallID() (string, bool) { return b.hdrs.Get("call-id") }

func (b *base) From() (*NameAddr, bool) {
	v, ok := b.hdrs.Get("from")
	if !ok {
		return nil, false
	}
	na, err := ParseNameAddr(v)
	if err != nil {
		return nil, false
	}
	return &na, true
}

func (b *base) To() (*NameAddr, bool) {
	v, ok := b.hdrs.Get("to")
	if !ok {
		return nil, false
	}
	na, err := ParseNameAddr(v)
	if err != nil {
		return nil, false
	}
	return &na, true
}

func (b *base) CSeq() (CSeq, bool) {
	v, ok := b.hdrs.Get("cseq")
	if !ok {
		return CSeq{}, false
	}
	cs, err := ParseCSeq(v)
	if err != nil {
		return CSeq{}, false
	}
	return cs, true
}

func (b *base) MaxForwards() (int, bool) {
	v, ok := b.hdrs.Get("max-forwards")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func (b *base) ContentLength() int {
	v, ok := b.hdrs.Get("content-length")
	if !ok {
		return len(b.body)
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return len(b.body)
	}
	return n
}

func (b *base) ContentType() (string, bool) { return b.hdrs.Get("content-type") }

func (b *base) Via() []ViaHop {
	hops := make([]ViaHop, 0)
	for _, h := range b.hdrs.GetAll("via") {
		hops = append(hops, ParseViaLine(h.Value())...)
	}
	return hops
}

func (b *base) TopVia() (*ViaHop, bool) {
	hops := b.Via()
	if len(hops) == 0 {
		return nil, false
	}
	return &hops[0], true
}

func (b *base) PushVia(hop ViaHop) { b.hdrs.Prepend("via", hop.String()) }

func (b *base) Body() []byte { return b.body }

func (b *base) SetBody(body []byte, setContentLength bool) {
	b.body = body
	if setContentLength {
		b.hdrs.Set("content-length", strconv.Itoa(len(body)))
	}
}

func (b *base) Source() string { return b.source }

func (b *base) SetSource(addr string) { b.source = addr }

func (b *base) Destination() string { return b.destination }

func (b *base) SetDestination(addr string) { b.destination = addr }

func (b *base) Transport() string { return b.transport }

func (b *base) SetTransport(network string) { b.transport = network }

func (b *base) cloneBase() base {
	return base{
		version:     b.version,
		hdrs:        b.hdrs.Clone(),
		body:        append([]byte(nil), b.body...),
		source:      b.source,
		destination: b.destination,
		transport:   b.transport,
	}
}

func renderMessage(startLine string, b *base) string {
	var sb strings.Builder
	sb.WriteString(startLine)
	sb.WriteString("\r\n")
	b.hdrs.writeTo(&sb)
	sb.WriteString("\r\n")
	sb.Write(b.body)
	return sb.String()
}

// CopyHeaders copies every header line named name from src to dst,
// preserving order; used when building a response from a request
// (Via stack, Record-Route) or relaying a MESSAGE to a bound contact.
func CopyHeaders(name string, src, dst Message) {
	for _, h := range src.Headers(name) {
		dst.AddHeader(string(h.Name()), h.Value())
	}
}

func shortLine(method string, callID string, cseq CSeq) string {
	return fmt.Sprintf("%s (Call-ID: %s, CSeq: %d)", method, callID, cseq.Seq)
}
