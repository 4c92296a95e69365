package transaction

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/openpbx/sipcore/message"
)

// ServerNonInviteTransaction implements the non-INVITE server
// transaction state machine of RFC 3261 17.2.2 (figure 8): Trying,
// Proceeding, Completed, Terminated.
type ServerNonInviteTransaction struct {
	*common

	lastResp atomic.Pointer[message.Response]
	tmrJ     *time.Timer
}

// NewServerNonInviteTransaction starts a transaction for a non-INVITE,
// non-ACK request.
func NewServerNonInviteTransaction(req *message.Request, tp Sender, timings TimingConfig) (*ServerNonInviteTransaction, error) {
	key, err := ServerKeyFor(req)
	if err != nil {
		return nil, err
	}

	tx := &ServerNonInviteTransaction{common: newCommon(TypeServerNonInvite, key, req, tp, timings)}
	tx.fsm = stateless.NewStateMachine(StateTrying)
	tx.configure()
	return tx, nil
}

func (tx *ServerNonInviteTransaction) configure() {
	tx.fsm.Configure(StateTrying).
		InternalTransition(evtRecvRequest, actNoop).
		Permit(evtSendProvisional, StateProceeding).
		Permit(evtSendSuccess, StateCompleted).
		Permit(evtSendFailure, StateCompleted).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateProceeding).
		OnEntry(tx.actSend).
		InternalTransition(evtRecvRequest, tx.actResendLast).
		InternalTransition(evtSendProvisional, tx.actSend).
		Permit(evtSendSuccess, StateCompleted).
		Permit(evtSendFailure, StateCompleted).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateCompleted).
		OnEntry(tx.actCompleted).
		InternalTransition(evtRecvRequest, tx.actResendLast).
		Permit(evtTimerJ, StateTerminated).
		Permit(evtTerminate, StateTerminated)

	tx.fsm.Configure(StateTerminated).OnEntry(tx.actTerminated)
}

// Respond sends a response, advancing Trying/Proceeding toward Completed
// for any final (2xx-6xx) status, per RFC 3261 17.2.2.
func (tx *ServerNonInviteTransaction) Respond(ctx context.Context, resp *message.Response) error {
	tx.lastResp.Store(resp)
	if resp.IsProvisional() {
		return tx.fsm.FireCtx(ctx, evtSendProvisional, resp)
	}
	if resp.IsSuccess() {
		return tx.fsm.FireCtx(ctx, evtSendSuccess, resp)
	}
	return tx.fsm.FireCtx(ctx, evtSendFailure, resp)
}

// RecvRequest feeds a retransmitted request into the transaction.
func (tx *ServerNonInviteTransaction) RecvRequest(ctx context.Context, req *message.Request) error {
	return tx.fsm.FireCtx(ctx, evtRecvRequest, req)
}

func (tx *ServerNonInviteTransaction) actSend(ctx context.Context, args ...any) error {
	if len(args) == 0 {
		return nil
	}
	resp := args[0].(*message.Response) //nolint:forcetypeassert
	return tx.tp.Send(ctx, resp)
}

func (tx *ServerNonInviteTransaction) actResendLast(ctx context.Context, _ ...any) error {
	if resp := tx.lastResp.Load(); resp != nil {
		return tx.tp.Send(ctx, resp)
	}
	return nil
}

func (tx *ServerNonInviteTransaction) actCompleted(ctx context.Context, args ...any) error {
	if len(args) > 0 {
		if resp, ok := args[0].(*message.Response); ok {
			_ = tx.tp.Send(ctx, resp)
		}
	}

	var timeJ time.Duration
	if !reliableTransport(tx.req.Transport()) {
		timeJ = tx.timings.TimeJ()
	}
	tx.tmrJ = time.AfterFunc(timeJ, func() {
		if tx.State() == StateCompleted {
			_ = tx.fsm.FireCtx(context.Background(), evtTimerJ)
		}
	})
	return nil
}

func (tx *ServerNonInviteTransaction) actTerminated(context.Context, ...any) error {
	if tx.tmrJ != nil {
		tx.tmrJ.Stop()
	}
	tx.markTerminated()
	return nil
}
