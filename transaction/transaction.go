// Package transaction implements the RFC 3261 17 client and server
// transaction state machines that sit beneath the dialog and dispatch
// layers: retransmission, duplicate suppression, and the Trying/
// Proceeding/Completed/Confirmed/Terminated lifecycles.
package transaction

import (
	"context"
	"strings"

	"github.com/qmuntal/stateless"

	"github.com/openpbx/sipcore/internal/randutil"
	"github.com/openpbx/sipcore/message"
)

// Type distinguishes the four transaction kinds RFC 3261 17 defines.
type Type int

const (
	TypeClientInvite Type = iota
	TypeClientNonInvite
	TypeServerInvite
	TypeServerNonInvite
)

func (t Type) String() string {
	switch t {
	case TypeClientInvite:
		return "client-invite"
	case TypeClientNonInvite:
		return "client-non-invite"
	case TypeServerInvite:
		return "server-invite"
	case TypeServerNonInvite:
		return "server-non-invite"
	default:
		return "unknown"
	}
}

// State is a transaction FSM state, per RFC 3261 figures 5-8.
type State string

const (
	StateCalling    State = "Calling"
	StateTrying     State = "Trying"
	StateProceeding State = "Proceeding"
	StateCompleted  State = "Completed"
	StateConfirmed  State = "Confirmed"
	StateAccepted   State = "Accepted"
	StateTerminated State = "Terminated"
)

// event names fired into the underlying stateless.StateMachine.
const (
	evtRecvProvisional = "recv_1xx"
	evtRecvSuccess     = "recv_2xx"
	evtRecvFailure     = "recv_300_699"
	evtRecvRequest     = "recv_req"
	evtRecvAck         = "recv_ack"
	evtSendProvisional = "send_1xx"
	evtSendSuccess     = "send_2xx"
	evtSendFailure     = "send_300_699"
	evtTimerA          = "timer_a"
	evtTimerB          = "timer_b"
	evtTimerD          = "timer_d"
	evtTimerE          = "timer_e"
	evtTimerF          = "timer_f"
	evtTimerG          = "timer_g"
	evtTimerH          = "timer_h"
	evtTimerI          = "timer_i"
	evtTimerJ          = "timer_j"
	evtTimerK          = "timer_k"
	evtTransportError  = "transport_error"
	evtTerminate       = "terminate"
)

// Key uniquely identifies a transaction for retransmission matching.
// isRFC3261Branch mirrors the teacher's split between RFC 3261 magic-cookie
// branches (matched on branch + sent-by + method, per 17.2.3) and legacy
// RFC 2543 UAs (matched on From-tag + Call-ID + CSeq + top Via, per the
// same section's fallback clause).
type Key string

const keySep = "__"

// ServerKeyFor computes the server-transaction matching key for an
// inbound request, per RFC 3261 17.2.3.
func ServerKeyFor(req *message.Request) (Key, error) {
	via, ok := req.TopVia()
	if !ok {
		return "", message.ErrMalformedMessage
	}

	method := matchingMethod(req.Method())

	if branch, ok := via.Branch(); ok && isRFC3261Branch(branch) {
		return Key(strings.Join([]string{branch, via.Host, portString(via.Port), string(method)}, keySep)), nil
	}

	from, ok := req.From()
	if !ok {
		return "", message.ErrMalformedMessage
	}
	callID, _ := req.CallID()
	cseq, _ := req.CSeq()
	fromTag, _ := from.Tag()

	return Key(strings.Join([]string{
		fromTag, callID, string(method), uintToString(uint64(cseq.Seq)), via.String(),
	}, keySep)), nil
}

// ClientKeyFor computes the client-transaction matching key for an
// outbound request's eventual responses, per RFC 3261 17.1.3.
func ClientKeyFor(req *message.Request) (Key, error) {
	via, ok := req.TopVia()
	if !ok {
		return "", message.ErrMalformedMessage
	}
	branch, ok := via.Branch()
	if !ok || !isRFC3261Branch(branch) {
		return "", message.ErrMalformedMessage
	}
	return Key(strings.Join([]string{branch, string(matchingMethod(req.Method()))}, keySep)), nil
}

// matchingMethod folds ACK and CANCEL onto their INVITE's transaction,
// per RFC 3261 17.1.3/17.2.3: a CANCEL or non-2xx ACK shares the
// original INVITE transaction's branch.
func matchingMethod(m message.Method) message.Method {
	if m == message.MethodACK || m == message.MethodCancel {
		return message.MethodInvite
	}
	return m
}

func isRFC3261Branch(branch string) bool {
	return strings.HasPrefix(branch, randutil.RFC3261BranchMagicCookie) &&
		len(branch) > len(randutil.RFC3261BranchMagicCookie)
}

func portString(port uint16) string {
	if port == 0 {
		return "0"
	}
	return uintToString(uint64(port))
}

func uintToString(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Transaction is the common surface both client and server transactions
// expose to the transport and dialog layers.
type Transaction interface {
	Type() Type
	Key() Key
	State() State
	Request() *message.Request
	Terminate()
	Done() <-chan struct{}
}

// Sender abstracts the transport write path a transaction drives.
type Sender interface {
	Send(ctx context.Context, msg message.Message) error
}

// common holds the fields every transaction kind shares.
type common struct {
	typ     Type
	key     Key
	req     *message.Request
	tp      Sender
	timings TimingConfig
	fsm     *stateless.StateMachine
	done    chan struct{}
}

func newCommon(typ Type, key Key, req *message.Request, tp Sender, timings TimingConfig) *common {
	return &common{typ: typ, key: key, req: req, tp: tp, timings: timings, done: make(chan struct{})}
}

func (c *common) Type() Type                { return c.typ }
func (c *common) Key() Key                  { return c.key }
func (c *common) Request() *message.Request { return c.req }
func (c *common) Done() <-chan struct{}     { return c.done }

func (c *common) State() State {
	st, err := c.fsm.State(context.Background())
	if err != nil {
		return StateTerminated
	}
	return st.(State) //nolint:forcetypeassert
}

func (c *common) Terminate() {
	if c.State() == StateTerminated {
		return
	}
	_ = c.fsm.FireCtx(context.Background(), evtTerminate)
}

func (c *common) markTerminated() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// reliableTransport reports whether transport is stream-based (TCP/TLS),
// in which case retransmission timers A/E/G are not armed and the wait
// timers D/I/J/K run with zero duration, per RFC 3261 17.1.1.2 /
// 17.1.2.2 / 17.2.1 / 17.2.2.
func reliableTransport(transport string) bool {
	switch strings.ToUpper(transport) {
	case "TCP", "TLS":
		return true
	default:
		return false
	}
}
