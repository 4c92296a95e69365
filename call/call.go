// Package call tracks call sessions: the per-INVITE record of caller
// and callee, the Initiating/Ringing/Answered/Terminating/Terminated
// lifecycle, and the Active/LocalHold/RemoteHold/BothHold media state
// derived from SDP direction attributes on re-INVITEs.
package call

import (
	"context"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/openpbx/sipcore/internal/errs"
	"github.com/openpbx/sipcore/message"
)

// State is a call session's signaling lifecycle state, per spec.md 3's
// Call session type.
type State string

const (
	StateInitiating  State = "Initiating"
	StateRinging     State = "Ringing"
	StateAnswered    State = "Answered"
	StateTerminating State = "Terminating"
	StateTerminated  State = "Terminated"
)

// HoldState is the derived media-direction state of an answered call.
type HoldState string

const (
	HoldActive HoldState = "Active"
	HoldLocal  HoldState = "LocalHold"
	HoldRemote HoldState = "RemoteHold"
	HoldBoth   HoldState = "BothHold"
)

const (
	evtRing      = "ring"
	evtAnswer    = "answer"
	evtHangup    = "hangup"
	evtTerminate = "terminate"
)

// ErrInvalidTransition is returned when a call-session event does not
// apply in the session's current state.
const ErrInvalidTransition errs.Error = "invalid call session transition"

// Session is a single call between a caller and a callee, keyed by the
// Call-ID of its originating INVITE.
type Session struct {
	mu sync.Mutex

	callID        string
	callerAOR     string
	calleeAOR     string
	callerContact message.URI
	calleeContact message.URI

	createdAt  time.Time
	answeredAt time.Time
	endedAt    time.Time

	holdState HoldState
	sdpOffer  []byte
	sdpAnswer []byte

	fsm *stateless.StateMachine
}

// New constructs a Session in Initiating, per spec.md 4.5: an INVITE
// creates the session with the request's SDP body recorded as the
// offer. The session holds no tags; the dialog ID carries them.
func New(callID, callerAOR, calleeAOR string, callerContact message.URI, offer []byte) *Session {
	s := &Session{
		callID:        callID,
		callerAOR:     callerAOR,
		calleeAOR:     calleeAOR,
		callerContact: callerContact,
		createdAt:     time.Now(),
		holdState:     HoldActive,
		sdpOffer:      offer,
	}
	s.fsm = stateless.NewStateMachine(StateInitiating)
	s.fsm.Configure(StateInitiating).
		Permit(evtRing, StateRinging).
		Permit(evtAnswer, StateAnswered).
		Permit(evtTerminate, StateTerminated)
	s.fsm.Configure(StateRinging).
		Permit(evtAnswer, StateAnswered).
		Permit(evtTerminate, StateTerminated)
	s.fsm.Configure(StateAnswered).
		OnEntry(s.actAnswered).
		Permit(evtHangup, StateTerminating)
	s.fsm.Configure(StateTerminating).
		Permit(evtTerminate, StateTerminated)
	s.fsm.Configure(StateTerminated).
		OnEntry(s.actTerminated)
	return s
}

func (s *Session) actAnswered(context.Context, ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answeredAt.IsZero() {
		s.answeredAt = time.Now()
	}
	return nil
}

func (s *Session) actTerminated(context.Context, ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt.IsZero() {
		s.endedAt = time.Now()
	}
	return nil
}

// CallID returns the session's matching key.
func (s *Session) CallID() string { return s.callID }

// CallerAOR returns the originating party's address-of-record.
func (s *Session) CallerAOR() string { return s.callerAOR }

// CalleeAOR returns the destination party's address-of-record.
func (s *Session) CalleeAOR() string { return s.calleeAOR }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	st, err := s.fsm.State(context.Background())
	if err != nil {
		return StateTerminated
	}
	return st.(State) //nolint:forcetypeassert
}

// Ring transitions Initiating -> Ringing, fired when a 180/183
// provisional response is sent for the INVITE.
func (s *Session) Ring() error {
	if err := s.fsm.Fire(evtRing); err != nil {
		return errs.Wrap(ErrInvalidTransition, err)
	}
	return nil
}

// Answer transitions Initiating/Ringing -> Answered. The dispatcher fires
// it when it answers the INVITE, before sending the 2xx, and on receipt
// of an ACK for a session that is not yet Answered.
func (s *Session) Answer(calleeContact message.URI, answer []byte) error {
	if err := s.fsm.Fire(evtAnswer); err != nil {
		return errs.Wrap(ErrInvalidTransition, err)
	}
	s.mu.Lock()
	s.calleeContact = calleeContact
	s.sdpAnswer = answer
	s.holdState = DeriveHoldState(ParseDirection(s.sdpOffer), ParseDirection(answer))
	s.mu.Unlock()
	return nil
}

// Hangup transitions Answered -> Terminating, fired when a BYE is sent
// or received for this session's dialog.
func (s *Session) Hangup() error {
	if err := s.fsm.Fire(evtHangup); err != nil {
		return errs.Wrap(ErrInvalidTransition, err)
	}
	return nil
}

// CancelBeforeAnswer transitions Initiating/Ringing directly to
// Terminated, fired when a CANCEL arrives before any final response to
// the INVITE, per spec.md 4.5.
func (s *Session) CancelBeforeAnswer() error {
	if s.State() == StateAnswered || s.State() == StateTerminating || s.State() == StateTerminated {
		return errs.Wrap(ErrInvalidTransition, errs.Error("session already answered or ending"))
	}
	if err := s.fsm.Fire(evtTerminate); err != nil {
		return errs.Wrap(ErrInvalidTransition, err)
	}
	return nil
}

// Terminate moves the session to Terminated, idempotently; an Answered
// session passes through Terminating on the way.
func (s *Session) Terminate() error {
	if s.State() == StateTerminated {
		return nil
	}
	if s.State() == StateAnswered {
		if err := s.fsm.Fire(evtHangup); err != nil {
			return errs.Wrap(ErrInvalidTransition, err)
		}
	}
	if err := s.fsm.Fire(evtTerminate); err != nil {
		return errs.Wrap(ErrInvalidTransition, err)
	}
	return nil
}

// HoldState returns the session's current derived media-direction
// state.
func (s *Session) HoldState() HoldState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdState
}

// ApplyReInvite recomputes hold state for a mid-call re-INVITE that
// changes the SDP offer/answer pair, per spec.md 4.5's hold/resume
// rule: the answer direction is the inverse of the offer's, and the
// handler never consults media state to build it.
func (s *Session) ApplyReInvite(offer []byte) (answer []byte, hold HoldState) {
	offerDir := ParseDirection(offer)
	answerDir := AnswerDirection(offerDir)
	hold = DeriveHoldState(offerDir, answerDir)

	s.mu.Lock()
	s.sdpOffer = offer
	s.sdpAnswer = RewriteDirection(offer, answerDir)
	s.holdState = hold
	answer = s.sdpAnswer
	s.mu.Unlock()
	return answer, hold
}

// CreatedAt, AnsweredAt and EndedAt report the session's timestamps;
// AnsweredAt and EndedAt are zero until the corresponding transition
// fires.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

func (s *Session) AnsweredAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answeredAt
}

func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// CalleeContact returns the callee's contact URI once answered.
func (s *Session) CalleeContact() message.URI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calleeContact
}

// SDPOffer and SDPAnswer return the session's recorded SDP bodies.
func (s *Session) SDPOffer() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdpOffer
}

func (s *Session) SDPAnswer() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdpAnswer
}
