package message

import "fmt"

// Response is a SIP response message.
type Response struct {
	base
	status int
	reason string
}

// NewResponse constructs a bare response.
func NewResponse(status int, reason string) *Response {
	return &Response{base: newBase(), status: status, reason: reason}
}

func (r *Response) IsRequest() bool { return false }

func (r *Response) StatusCode() int { return r.status }

func (r *Response) SetStatusCode(status int) { r.status = status }

func (r *Response) Reason() string { return r.reason }

func (r *Response) SetReason(reason string) { r.reason = reason }

// IsProvisional reports whether the status is 1xx.
func (r *Response) IsProvisional() bool { return r.status >= 100 && r.status < 200 }

// IsSuccess reports whether the status is 2xx.
func (r *Response) IsSuccess() bool { return r.status >= 200 && r.status < 300 }

// IsFinal reports whether the status is >= 200, i.e. not a provisional.
func (r *Response) IsFinal() bool { return r.status >= 200 }

func (r *Response) StartLine() string {
	return fmt.Sprintf("%s %d %s", r.version, r.status, r.reason)
}

func (r *Response) String() string { return renderMessage(r.StartLine(), &r.base) }

func (r *Response) Short() string {
	callID, _ := r.CallID()
	cseq, _ := r.CSeq()
	return shortLine(fmt.Sprintf("%d %s", r.status, r.reason), callID, cseq)
}

func (r *Response) Clone() Message {
	return &Response{base: r.cloneBase(), status: r.status, reason: r.reason}
}

// StandardReason returns the canonical reason phrase for well-known status
// codes used throughout the dispatcher; unknown codes return "".
func StandardReason(status int) string {
	if reason, ok := standardReasons[status]; ok {
		return reason
	}
	return ""
}

var standardReasons = map[int]string{
	100: "Trying",
	180: "Ringing",
	200: "OK",
	202: "Accepted",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	407: "Proxy Authentication Required",
	429: "Too Many Requests",
	481: "Call/Transaction Does Not Exist",
	483: "Too Many Hops",
	487: "Request Terminated",
	489: "Bad Event",
	500: "Server Internal Error",
	501: "Not Implemented",
	513: "Message Too Large",
}

// NewStandardResponseFor builds a response for req with the canonical reason
// phrase for status, or "Unknown Status" if none is registered.
func NewStandardResponseFor(req *Request, status int) *Response {
	reason := StandardReason(status)
	if reason == "" {
		reason = "Unknown Status"
	}
	return req.NewResponse(status, reason)
}
