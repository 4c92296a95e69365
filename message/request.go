package message

import (
	"fmt"
	"strings"

	"github.com/openpbx/sipcore/internal/randutil"
)

// Request is a SIP request message.
type Request struct {
	base
	method     Method
	requestURI URI
}

// NewRequest constructs a bare request with a start line and no headers.
func NewRequest(method Method, requestURI URI) *Request {
	return &Request{base: newBase(), method: method, requestURI: requestURI}
}

func (r *Request) IsRequest() bool { return true }

func (r *Request) Method() Method { return r.method }

func (r *Request) RequestURI() URI { return r.requestURI }

func (r *Request) SetRequestURI(u URI) { r.requestURI = u }

func (r *Request) StartLine() string {
	return fmt.Sprintf("%s %s %s", r.method, r.requestURI.String(), r.version)
}

func (r *Request) String() string { return renderMessage(r.StartLine(), &r.base) }

func (r *Request) Short() string {
	callID, _ := r.CallID()
	cseq, _ := r.CSeq()
	return shortLine(string(r.method), callID, cseq)
}

func (r *Request) Clone() Message {
	return &Request{base: r.cloneBase(), method: r.method, requestURI: r.requestURI}
}

// NewResponse builds a response to this request per spec.md invariant 1:
// the response echoes the request's Via stack verbatim, copies Call-ID,
// From, CSeq, and ensures To carries a tag on any non-100 status.
func (r *Request) NewResponse(status int, reason string) *Response {
	resp := &Response{base: newBase(), status: status, reason: reason}
	CopyHeaders("via", r, resp)
	CopyHeaders("call-id", r, resp)
	CopyHeaders("from", r, resp)
	CopyHeaders("cseq", r, resp)

	if to, ok := r.To(); ok {
		if _, hasTag := to.Tag(); !hasTag && status != 100 {
			*to = to.WithTag(randutil.Tag())
		}
		resp.AddHeader("To", to.String())
	}
	return resp
}

// IsInDialog reports whether the request carries both a From and To tag,
// i.e. belongs to an established dialog rather than an initial request.
func (r *Request) IsInDialog() bool {
	from, ok := r.From()
	if !ok {
		return false
	}
	to, ok := r.To()
	if !ok {
		return false
	}
	_, fromTag := from.Tag()
	_, toTag := to.Tag()
	return fromTag && toTag
}

// NewACKFor builds an ACK for a 2xx response to this INVITE, per RFC 3261
// 13.2.2.4. The ACK reuses the original Route set and CSeq number, but is
// its own request outside of any transaction.
func (r *Request) NewACKFor(resp *Response) *Request {
	ack := NewRequest(MethodACK, r.requestURI)
	if to, ok := resp.To(); ok {
		ack.AddHeader("To", to.String())
	} else {
		CopyHeaders("to", r, ack)
	}
	CopyHeaders("from", r, ack)
	CopyHeaders("call-id", r, ack)
	CopyHeaders("route", r, ack)
	if cseq, ok := r.CSeq(); ok {
		ack.AddHeader("CSeq", fmt.Sprintf("%d %s", cseq.Seq, MethodACK))
	}
	ack.AddHeader("Max-Forwards", "70")
	if top, ok := r.TopVia(); ok {
		ack.PushVia(*top)
	}
	return ack
}

// ParseMethod normalizes a start-line method token.
func ParseMethod(tok string) Method { return Method(strings.ToUpper(tok)) }
