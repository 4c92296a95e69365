package message

import "fmt"

// AllowedMethods lists the methods advertised in OPTIONS/405 responses,
// per spec.md 4.5's OPTIONS handler.
var AllowedMethods = []Method{
	MethodRegister, MethodInvite, MethodACK, MethodBye, MethodCancel,
	MethodOptions, MethodRefer, MethodSubscribe, MethodNotify, MethodMessage,
}

// AllowHeaderValue renders AllowedMethods as a comma-separated Allow value.
func AllowHeaderValue() string {
	out := ""
	for i, m := range AllowedMethods {
		if i > 0 {
			out += ", "
		}
		out += string(m)
	}
	return out
}

// ValidateRequiredHeaders checks the invariant from spec.md 3: every
// message carries Call-ID, CSeq, From (with tag), To, at least one Via,
// and Max-Forwards (requests only).
func ValidateRequiredHeaders(msg Message) error {
	if _, ok := msg.CallID(); !ok {
		return fmt.Errorf("%w: missing Call-ID", ErrMalformedMessage)
	}
	if _, ok := msg.CSeq(); !ok {
		return fmt.Errorf("%w: missing CSeq", ErrMalformedMessage)
	}
	from, ok := msg.From()
	if !ok {
		return fmt.Errorf("%w: missing From", ErrMalformedMessage)
	}
	if _, hasTag := from.Tag(); !hasTag {
		return fmt.Errorf("%w: From header missing tag", ErrMalformedMessage)
	}
	if _, ok := msg.To(); !ok {
		return fmt.Errorf("%w: missing To", ErrMalformedMessage)
	}
	if len(msg.Via()) == 0 {
		return fmt.Errorf("%w: missing Via", ErrMalformedMessage)
	}
	if req, ok := msg.(*Request); ok {
		if _, ok := req.MaxForwards(); !ok {
			return fmt.Errorf("%w: missing Max-Forwards", ErrMalformedMessage)
		}
	}
	return nil
}

// NewBranchedVia constructs a Via hop for an outbound request originated by
// this engine, with a freshly generated branch parameter.
func NewBranchedVia(transport, host string, port uint16, branch string) ViaHop {
	hop := ViaHop{Transport: transport, Host: host, Port: port, HasPort: port != 0}
	hop.Params = Params{}
	hop.Params.Add("branch", branch)
	return hop
}
