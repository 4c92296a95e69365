// Package dialog tracks the peer-to-peer relationships RFC 3261 12
// establishes between two user agents: the Early/Confirmed/Terminated
// lifecycle keyed by (Call-ID, local-tag, remote-tag), in-dialog CSeq
// sequencing, and the route set and remote target used to route
// subsequent in-dialog requests.
package dialog

import (
	"context"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/openpbx/sipcore/internal/errs"
	"github.com/openpbx/sipcore/message"
)

// State is a dialog's lifecycle state, per spec.md 3's Dialog type.
type State string

const (
	StateEarly      State = "Early"
	StateConfirmed  State = "Confirmed"
	StateTerminated State = "Terminated"
)

const (
	evtConfirm   = "confirm"
	evtTerminate = "terminate"
)

// ErrSeqRegression is returned when an in-dialog request's CSeq does not
// advance, per invariant 4: "No dialog's remote_seq ever decreases."
const ErrSeqRegression errs.Error = "dialog cseq regression"

// ID identifies a dialog by the triple RFC 3261 12 uses for matching.
type ID struct {
	CallID    string
	LocalTag  string
	RemoteTag string
}

// Dialog is a single peer-to-peer signaling relationship.
type Dialog struct {
	mu sync.Mutex

	id ID

	localSeq  uint32
	remoteSeq uint32
	haveSeq   bool

	localURI     message.URI
	remoteURI    message.URI
	remoteTarget message.URI
	routeSet     []message.URI

	createdAt time.Time

	fsm *stateless.StateMachine
}

// New constructs a Dialog in the Early state, per RFC 3261 12.1's UAS/UAC
// dialog-creation rules: a dialog exists as soon as a tagged provisional
// or 2xx response has been exchanged for a dialog-creating request.
func New(id ID, localURI, remoteURI, remoteTarget message.URI) *Dialog {
	d := &Dialog{
		id:           id,
		localURI:     localURI,
		remoteURI:    remoteURI,
		remoteTarget: remoteTarget,
		createdAt:    time.Now(),
	}
	d.fsm = stateless.NewStateMachine(StateEarly)
	d.fsm.Configure(StateEarly).
		Permit(evtConfirm, StateConfirmed).
		Permit(evtTerminate, StateTerminated)
	d.fsm.Configure(StateConfirmed).
		Permit(evtTerminate, StateTerminated)
	d.fsm.Configure(StateTerminated)
	return d
}

// ID returns the dialog's matching key.
func (d *Dialog) ID() ID { return d.id }

// State returns the dialog's current lifecycle state.
func (d *Dialog) State() State {
	st, err := d.fsm.State(context.Background())
	if err != nil {
		return StateTerminated
	}
	return st.(State) //nolint:forcetypeassert
}

// Confirm transitions Early -> Confirmed, per RFC 3261 12.1's rule that a
// dialog becomes confirmed upon receipt of a final 2xx response (or, for
// a UAS, upon sending one).
func (d *Dialog) Confirm() error { return d.fsm.Fire(evtConfirm) }

// Terminate transitions to Terminated, idempotently.
func (d *Dialog) Terminate() error {
	if d.State() == StateTerminated {
		return nil
	}
	return d.fsm.Fire(evtTerminate)
}

// LocalURI returns this side's address-of-record, used as the From (or To)
// URI of subsequent in-dialog requests this side originates.
func (d *Dialog) LocalURI() message.URI {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.localURI
}

// RemoteURI returns the peer's address-of-record.
func (d *Dialog) RemoteURI() message.URI {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remoteURI
}

// RemoteTarget returns the URI in-dialog requests are routed to, updated
// from the peer's most recent Contact header (RFC 3261 12.2.1.1).
func (d *Dialog) RemoteTarget() message.URI {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remoteTarget
}

// SetRemoteTarget updates the remote target, e.g. from a target-refresh
// request's Contact header.
func (d *Dialog) SetRemoteTarget(u message.URI) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remoteTarget = u
}

// RouteSet returns the ordered Record-Route set used to build the
// Route header of subsequent in-dialog requests, per RFC 3261 12.1.2.
func (d *Dialog) RouteSet() []message.URI {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]message.URI(nil), d.routeSet...)
}

// SetRouteSet replaces the dialog's route set.
func (d *Dialog) SetRouteSet(routes []message.URI) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routeSet = append([]message.URI(nil), routes...)
}

// NextLocalSeq increments and returns the next CSeq this side should
// send, per RFC 3261 12.2.1.1.
func (d *Dialog) NextLocalSeq() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localSeq++
	return d.localSeq
}

// CheckRemoteSeq validates and records an in-dialog request's CSeq,
// enforcing invariant 4. The first in-dialog request seeds remote_seq
// unconditionally; every subsequent one must strictly increase it.
func (d *Dialog) CheckRemoteSeq(seq uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.haveSeq {
		d.remoteSeq = seq
		d.haveSeq = true
		return nil
	}
	if seq <= d.remoteSeq {
		return ErrSeqRegression
	}
	d.remoteSeq = seq
	return nil
}
