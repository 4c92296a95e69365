package transaction

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/openpbx/sipcore/message"
)

// ClientInviteTransaction implements the INVITE client transaction state
// machine of RFC 3261 17.1.1 (figure 5): Calling, Proceeding, Completed,
// Terminated.
type ClientInviteTransaction struct {
	*common

	responses chan *message.Response
	lastResp  atomic.Pointer[message.Response]

	tmrA *time.Timer
	tmrB *time.Timer
	tmrD *time.Timer
}

// NewClientInviteTransaction creates and starts a client INVITE
// transaction: sends req immediately and arms timers A (retransmit, for
// unreliable transports) and B (overall timeout).
func NewClientInviteTransaction(ctx context.Context, req *message.Request, tp Sender, timings TimingConfig) (*ClientInviteTransaction, error) {
	key, err := ClientKeyFor(req)
	if err != nil {
		return nil, err
	}

	tx := &ClientInviteTransaction{
		common:    newCommon(TypeClientInvite, key, req, tp, timings),
		responses: make(chan *message.Response, 4),
	}
	tx.fsm = stateless.NewStateMachine(StateCalling)
	tx.configure()

	if err := tx.tp.Send(ctx, req); err != nil {
		return nil, err
	}

	if !reliableTransport(req.Transport()) {
		tx.tmrA = time.AfterFunc(tx.timings.TimeA(), tx.makeTimerAFunc(tx.timings.TimeA()))
	}
	tx.tmrB = time.AfterFunc(tx.timings.TimeB(), func() {
		if tx.State() == StateCalling {
			_ = tx.fsm.FireCtx(context.Background(), evtTimerB)
		}
	})

	return tx, nil
}

func (tx *ClientInviteTransaction) configure() {
	tx.fsm.Configure(StateCalling).
		Permit(evtRecvProvisional, StateProceeding).
		Permit(evtRecvSuccess, StateTerminated).
		Permit(evtRecvFailure, StateCompleted).
		Permit(evtTimerB, StateTerminated).
		Permit(evtTransportError, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateProceeding).
		OnEntryFrom(evtRecvProvisional, tx.actDeliver).
		InternalTransition(evtRecvProvisional, tx.actDeliver).
		Permit(evtRecvSuccess, StateTerminated).
		Permit(evtRecvFailure, StateCompleted).
		Permit(evtTransportError, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateCompleted).
		OnEntry(tx.actCompleted).
		InternalTransition(evtRecvFailure, actNoop).
		Permit(evtTimerD, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateTerminated).
		OnEntry(tx.actTerminated).
		OnEntryFrom(evtRecvSuccess, tx.actDeliver)
}

// Responses delivers every response received for this transaction,
// including the final one; callers are responsible for ACKing non-2xx
// final responses and 2xxs outside the transaction, per RFC 3261
// 17.1.1.3 and 13.2.2.4.
func (tx *ClientInviteTransaction) Responses() <-chan *message.Response { return tx.responses }

// RecvResponse feeds an inbound response matched to this transaction.
func (tx *ClientInviteTransaction) RecvResponse(ctx context.Context, resp *message.Response) error {
	tx.lastResp.Store(resp)
	switch {
	case resp.IsProvisional():
		return tx.fsm.FireCtx(ctx, evtRecvProvisional, resp)
	case resp.IsSuccess():
		return tx.fsm.FireCtx(ctx, evtRecvSuccess, resp)
	default:
		return tx.fsm.FireCtx(ctx, evtRecvFailure, resp)
	}
}

func (tx *ClientInviteTransaction) actDeliver(_ context.Context, args ...any) error {
	tx.deliver(args)
	return nil
}

func (tx *ClientInviteTransaction) deliver(args []any) {
	if len(args) == 0 {
		return
	}
	if resp, ok := args[0].(*message.Response); ok {
		select {
		case tx.responses <- resp:
		default:
		}
	}
}

func (tx *ClientInviteTransaction) makeTimerAFunc(prev time.Duration) func() {
	return func() {
		if tx.State() != StateCalling {
			return
		}
		_ = tx.tp.Send(context.Background(), tx.req)
		next := tx.timings.nextRetransmit(prev)
		tx.tmrA = time.AfterFunc(next, tx.makeTimerAFunc(next))
	}
}

func (tx *ClientInviteTransaction) actCompleted(ctx context.Context, args ...any) error {
	if tx.tmrA != nil {
		tx.tmrA.Stop()
	}
	if tx.tmrB != nil {
		tx.tmrB.Stop()
	}
	tx.deliver(args)

	ack := tx.req.NewACKFor(tx.lastResp.Load())
	_ = tx.tp.Send(ctx, ack)

	var timeD time.Duration
	if !reliableTransport(tx.req.Transport()) {
		timeD = tx.timings.TimeD()
	}
	tx.tmrD = time.AfterFunc(timeD, func() {
		if tx.State() == StateCompleted {
			_ = tx.fsm.FireCtx(context.Background(), evtTimerD)
		}
	})
	return nil
}

func (tx *ClientInviteTransaction) actTerminated(context.Context, ...any) error {
	for _, t := range []*time.Timer{tx.tmrA, tx.tmrB, tx.tmrD} {
		if t != nil {
			t.Stop()
		}
	}
	tx.markTerminated()
	return nil
}
