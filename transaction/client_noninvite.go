package transaction

import (
	"context"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/openpbx/sipcore/message"
)

// ClientNonInviteTransaction implements the non-INVITE client
// transaction state machine of RFC 3261 17.1.2 (figure 6): Trying,
// Proceeding, Completed, Terminated.
type ClientNonInviteTransaction struct {
	*common

	responses chan *message.Response

	tmrE *time.Timer
	tmrF *time.Timer
	tmrK *time.Timer
}

// NewClientNonInviteTransaction creates and starts a client transaction
// for any request other than INVITE/ACK: sends req and arms timers E
// (retransmit) and F (overall timeout).
func NewClientNonInviteTransaction(ctx context.Context, req *message.Request, tp Sender, timings TimingConfig) (*ClientNonInviteTransaction, error) {
	key, err := ClientKeyFor(req)
	if err != nil {
		return nil, err
	}

	tx := &ClientNonInviteTransaction{
		common:    newCommon(TypeClientNonInvite, key, req, tp, timings),
		responses: make(chan *message.Response, 4),
	}
	tx.fsm = stateless.NewStateMachine(StateTrying)
	tx.configure()

	if err := tx.tp.Send(ctx, req); err != nil {
		return nil, err
	}

	if !reliableTransport(req.Transport()) {
		tx.tmrE = time.AfterFunc(tx.timings.TimeE(), tx.makeTimerEFunc(tx.timings.TimeE()))
	}
	tx.tmrF = time.AfterFunc(tx.timings.TimeF(), func() {
		st := tx.State()
		if st == StateTrying || st == StateProceeding {
			_ = tx.fsm.FireCtx(context.Background(), evtTimerF)
		}
	})

	return tx, nil
}

func (tx *ClientNonInviteTransaction) configure() {
	tx.fsm.Configure(StateTrying).
		Permit(evtRecvProvisional, StateProceeding).
		Permit(evtRecvSuccess, StateCompleted).
		Permit(evtRecvFailure, StateCompleted).
		Permit(evtTimerF, StateTerminated).
		Permit(evtTransportError, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateProceeding).
		OnEntryFrom(evtRecvProvisional, tx.actDeliver).
		InternalTransition(evtRecvProvisional, tx.actDeliver).
		Permit(evtRecvSuccess, StateCompleted).
		Permit(evtRecvFailure, StateCompleted).
		Permit(evtTimerF, StateTerminated).
		Permit(evtTransportError, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateCompleted).
		OnEntry(tx.actCompleted).
		OnEntryFrom(evtRecvSuccess, tx.actDeliver).
		OnEntryFrom(evtRecvFailure, tx.actDeliver).
		Permit(evtTimerK, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateTerminated).OnEntry(tx.actTerminated)
}

// Responses delivers every response received for this transaction.
func (tx *ClientNonInviteTransaction) Responses() <-chan *message.Response { return tx.responses }

// RecvResponse feeds an inbound response matched to this transaction.
func (tx *ClientNonInviteTransaction) RecvResponse(ctx context.Context, resp *message.Response) error {
	switch {
	case resp.IsProvisional():
		return tx.fsm.FireCtx(ctx, evtRecvProvisional, resp)
	case resp.IsSuccess():
		return tx.fsm.FireCtx(ctx, evtRecvSuccess, resp)
	default:
		return tx.fsm.FireCtx(ctx, evtRecvFailure, resp)
	}
}

func (tx *ClientNonInviteTransaction) actDeliver(_ context.Context, args ...any) error {
	if len(args) == 0 {
		return nil
	}
	if resp, ok := args[0].(*message.Response); ok {
		select {
		case tx.responses <- resp:
		default:
		}
	}
	return nil
}

func (tx *ClientNonInviteTransaction) makeTimerEFunc(prev time.Duration) func() {
	return func() {
		st := tx.State()
		if st != StateTrying && st != StateProceeding {
			return
		}
		_ = tx.tp.Send(context.Background(), tx.req)
		next := tx.timings.nextRetransmit(prev)
		tx.tmrE = time.AfterFunc(next, tx.makeTimerEFunc(next))
	}
}

func (tx *ClientNonInviteTransaction) actCompleted(context.Context, ...any) error {
	if tx.tmrE != nil {
		tx.tmrE.Stop()
	}
	if tx.tmrF != nil {
		tx.tmrF.Stop()
	}

	var timeK time.Duration
	if !reliableTransport(tx.req.Transport()) {
		timeK = tx.timings.TimeK()
	}
	tx.tmrK = time.AfterFunc(timeK, func() {
		if tx.State() == StateCompleted {
			_ = tx.fsm.FireCtx(context.Background(), evtTimerK)
		}
	})
	return nil
}

func (tx *ClientNonInviteTransaction) actTerminated(context.Context, ...any) error {
	for _, t := range []*time.Timer{tx.tmrE, tx.tmrF, tx.tmrK} {
		if t != nil {
			t.Stop()
		}
	}
	tx.markTerminated()
	return nil
}
