package transaction

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/openpbx/sipcore/message"
)

const timer1xx = 200 * time.Millisecond

// ServerInviteTransaction implements the INVITE server transaction state
// machine of RFC 3261 17.2.1 (figure 7): Proceeding, Completed,
// Confirmed, Terminated.
type ServerInviteTransaction struct {
	*common

	acks     chan *message.Request
	cancels  chan *message.Request
	lastResp atomic.Pointer[message.Response]

	tmr1xx *time.Timer
	tmrG   *time.Timer
	tmrH   *time.Timer
	tmrI   *time.Timer
}

// NewServerInviteTransaction starts a new INVITE server transaction for
// req over tp and immediately enters Proceeding, arming the automatic
// 100 Trying timer per RFC 3261 17.2.1.
func NewServerInviteTransaction(req *message.Request, tp Sender, timings TimingConfig) (*ServerInviteTransaction, error) {
	key, err := ServerKeyFor(req)
	if err != nil {
		return nil, err
	}

	tx := &ServerInviteTransaction{
		common:  newCommon(TypeServerInvite, key, req, tp, timings),
		acks:    make(chan *message.Request, 1),
		cancels: make(chan *message.Request, 1),
	}
	tx.fsm = stateless.NewStateMachine(StateProceeding)
	tx.configure()

	tx.tmr1xx = time.AfterFunc(timer1xx, tx.onTimer1xx)

	return tx, nil
}

func (tx *ServerInviteTransaction) configure() {
	tx.fsm.Configure(StateProceeding).
		InternalTransition(evtRecvRequest, tx.actResendLast).
		InternalTransition(evtSendProvisional, tx.actSend).
		Permit(evtSendSuccess, StateTerminated).
		Permit(evtSendFailure, StateCompleted).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateCompleted).
		OnEntry(tx.actCompleted).
		InternalTransition(evtRecvRequest, tx.actResendLast).
		Permit(evtRecvAck, StateConfirmed).
		Permit(evtTimerH, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateConfirmed).
		OnEntry(tx.actConfirmed).
		InternalTransition(evtRecvRequest, actNoop).
		InternalTransition(evtRecvAck, actNoop).
		Permit(evtTimerI, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateTerminated).OnEntry(tx.actTerminated)
}

func actNoop(context.Context, ...any) error { return nil }

// Respond sends a response for the transaction; per RFC 3261 17.2.1, a
// 2xx terminates the server-side FSM immediately (2xx retransmission for
// an INVITE with no PRACK support is the dialog layer's concern, not the
// transaction's — this server does not extend the Accepted state RFC
// 6026 added), a 1xx stays in Proceeding, and 3xx-6xx enters Completed.
func (tx *ServerInviteTransaction) Respond(ctx context.Context, resp *message.Response) error {
	tx.lastResp.Store(resp)
	switch {
	case resp.IsProvisional():
		return tx.fsm.FireCtx(ctx, evtSendProvisional, resp)
	case resp.IsSuccess():
		if err := tx.tp.Send(ctx, resp); err != nil {
			return err
		}
		return tx.fsm.FireCtx(ctx, evtSendSuccess)
	default:
		return tx.fsm.FireCtx(ctx, evtSendFailure, resp)
	}
}

// RecvRequest feeds a retransmitted INVITE, an ACK, or a CANCEL into the
// transaction.
func (tx *ServerInviteTransaction) RecvRequest(ctx context.Context, req *message.Request) error {
	switch req.Method() {
	case message.MethodACK:
		return tx.fsm.FireCtx(ctx, evtRecvAck, req)
	case message.MethodCancel:
		select {
		case tx.cancels <- req:
		default:
		}
		return nil
	default:
		return tx.fsm.FireCtx(ctx, evtRecvRequest, req)
	}
}

// Acks delivers ACKs received while Completed or Confirmed.
func (tx *ServerInviteTransaction) Acks() <-chan *message.Request { return tx.acks }

// Cancels delivers CANCEL requests matched to this transaction.
func (tx *ServerInviteTransaction) Cancels() <-chan *message.Request { return tx.cancels }

func (tx *ServerInviteTransaction) onTimer1xx() {
	if tx.State() != StateProceeding {
		return
	}
	resp := message.NewStandardResponseFor(tx.req, 100)
	_ = tx.tp.Send(context.Background(), resp)
}

func (tx *ServerInviteTransaction) actSend(ctx context.Context, args ...any) error {
	if tx.tmr1xx != nil {
		tx.tmr1xx.Stop()
	}
	resp := args[0].(*message.Response) //nolint:forcetypeassert
	return tx.tp.Send(ctx, resp)
}

func (tx *ServerInviteTransaction) actResendLast(ctx context.Context, _ ...any) error {
	if resp := tx.lastResp.Load(); resp != nil {
		return tx.tp.Send(ctx, resp)
	}
	return nil
}

func (tx *ServerInviteTransaction) actCompleted(ctx context.Context, args ...any) error {
	if tx.tmr1xx != nil {
		tx.tmr1xx.Stop()
	}
	if len(args) > 0 {
		if resp, ok := args[0].(*message.Response); ok {
			_ = tx.tp.Send(ctx, resp)
		}
	}

	if !reliableTransport(tx.req.Transport()) {
		tx.tmrG = time.AfterFunc(tx.timings.TimeG(), tx.makeTimerGFunc(tx.timings.TimeG()))
	}
	tx.tmrH = time.AfterFunc(tx.timings.TimeH(), func() {
		if tx.State() == StateCompleted {
			_ = tx.fsm.FireCtx(context.Background(), evtTimerH)
		}
	})
	return nil
}

func (tx *ServerInviteTransaction) makeTimerGFunc(prev time.Duration) func() {
	return func() {
		if tx.State() != StateCompleted {
			return
		}
		if resp := tx.lastResp.Load(); resp != nil {
			_ = tx.tp.Send(context.Background(), resp)
		}
		tx.tmrG = time.AfterFunc(tx.timings.nextRetransmit(prev), tx.makeTimerGFunc(tx.timings.nextRetransmit(prev)))
	}
}

func (tx *ServerInviteTransaction) actConfirmed(ctx context.Context, args ...any) error {
	if tx.tmrG != nil {
		tx.tmrG.Stop()
	}
	if tx.tmrH != nil {
		tx.tmrH.Stop()
	}
	if len(args) > 0 {
		if ack, ok := args[0].(*message.Request); ok {
			select {
			case tx.acks <- ack:
			default:
			}
		}
	}

	var timeI time.Duration
	if !reliableTransport(tx.req.Transport()) {
		timeI = tx.timings.TimeI()
	}
	tx.tmrI = time.AfterFunc(timeI, func() {
		if tx.State() == StateConfirmed {
			_ = tx.fsm.FireCtx(context.Background(), evtTimerI)
		}
	})
	return nil
}

func (tx *ServerInviteTransaction) actTerminated(context.Context, ...any) error {
	for _, t := range []*time.Timer{tx.tmr1xx, tx.tmrG, tx.tmrH, tx.tmrI} {
		if t != nil {
			t.Stop()
		}
	}
	tx.markTerminated()
	return nil
}
