package dispatch

import (
	"context"

	"github.com/openpbx/sipcore/call"
	"github.com/openpbx/sipcore/dialog"
	"github.com/openpbx/sipcore/message"
	"github.com/openpbx/sipcore/transaction"
)

// handleInvite implements spec.md 4.5's INVITE algorithm: loop
// rejection, authentication, callee lookup, call-session creation, and
// the simplified auto-answer fast path (DESIGN.md's Open Question 1).
func (d *Dispatcher) handleInvite(ctx context.Context, req *message.Request) {
	if mf, ok := req.MaxForwards(); ok && mf == 0 {
		d.respondStandard(ctx, req, 483)
		return
	}

	ip := sourceIP(req)
	_, challenge, err := d.authenticate(ctx, req, ip)
	if err != nil {
		d.respondStandard(ctx, req, 500)
		return
	}
	if challenge != nil {
		d.respond(ctx, req, challenge)
		return
	}

	if req.IsInDialog() {
		if dlg, ok := d.dialogs.MatchRequest(req, true); ok {
			d.handleReInvite(ctx, req, dlg)
			return
		}
	}

	callID, _ := req.CallID()
	from, _ := req.From()
	fromTag, _ := from.Tag()
	calleeAOR := req.RequestURI().AOR()

	bindings := d.registrar.Lookup(calleeAOR)
	if len(bindings) == 0 {
		d.respondStandard(ctx, req, 404)
		return
	}
	calleeContact, cerr := message.ParseURI(bindings[0].ContactURI)
	if cerr != nil {
		d.respondStandard(ctx, req, 404)
		return
	}

	callerContact := req.RequestURI()
	if h, ok := req.Header("Contact"); ok {
		if na, perr := message.ParseNameAddr(h.Value()); perr == nil {
			callerContact = na.URI
		}
	}

	session := call.New(callID, from.URI.AOR(), calleeAOR, callerContact, req.Body())
	d.calls.Put(session)

	localTag := newLocalTag()

	key, keyErr := transaction.ServerKeyFor(req)
	if keyErr != nil {
		d.respondFallback(ctx, req, 400)
		return
	}
	itx, ok := d.transactions.ServerInvite(key)
	if !ok {
		d.respondFallback(ctx, req, 500)
		return
	}
	go d.watchCancel(context.Background(), itx, session, req, localTag, fromTag)

	_ = session.Ring()
	ringing := taggedResponse(req, 180, localTag)
	if err := itx.Respond(ctx, ringing); err != nil {
		d.log.Error("failed to send 180", "error", err)
		return
	}

	answer := d.buildAnswer(ctx, req.Body())

	dlg := dialog.New(dialog.ID{CallID: callID, LocalTag: localTag, RemoteTag: fromTag},
		calleeContact, callerContact, callerContact)
	d.dialogs.Put(dlg)

	if err := session.Answer(calleeContact, answer); err != nil {
		d.log.Error("session answer failed", "error", err)
		d.respond(ctx, req, taggedResponse(req, 500, localTag))
		return
	}

	ok200 := taggedResponse(req, 200, localTag)
	ok200.AddHeader("Contact", "<"+calleeContact.String()+">")
	ok200.AddHeader("Content-Type", "application/sdp")
	ok200.SetBody(answer, true)
	if err := itx.Respond(ctx, ok200); err != nil {
		d.log.Error("failed to send 200", "error", err)
	}
	d.recordAudit(ctx, "invite_answered", map[string]any{"call_id": callID})
}

// handleReInvite implements spec.md 4.5's hold/resume table: a re-INVITE
// within an existing dialog carries a new offer whose SDP direction
// attribute updates the call session's hold_state, answered immediately
// with the inverse direction.
func (d *Dispatcher) handleReInvite(ctx context.Context, req *message.Request, dlg *dialog.Dialog) {
	callID, _ := req.CallID()
	session, ok := d.calls.Get(callID)
	if !ok {
		d.respondStandard(ctx, req, 481)
		return
	}
	cseq, ok := req.CSeq()
	if !ok {
		d.respondStandard(ctx, req, 400)
		return
	}
	if err := dlg.CheckRemoteSeq(cseq.Seq); err != nil {
		d.respondStandard(ctx, req, 500)
		return
	}

	answer, _ := session.ApplyReInvite(req.Body())

	resp := message.NewStandardResponseFor(req, 200)
	resp.AddHeader("Contact", "<"+session.CalleeContact().String()+">")
	resp.AddHeader("Content-Type", "application/sdp")
	resp.SetBody(answer, true)
	d.respond(ctx, req, resp)
}

// buildAnswer asks the media collaborator for an answer SDP, falling
// back to the inverse-direction rewrite of the offer when no
// MediaSessionFactory is configured.
func (d *Dispatcher) buildAnswer(ctx context.Context, offer []byte) []byte {
	if d.media != nil {
		if answer, _, err := d.media.Create(ctx, d.hostAddr, offer); err == nil {
			return answer
		}
	}
	dir := call.ParseDirection(offer)
	return call.RewriteDirection(offer, call.AnswerDirection(dir))
}

// watchCancel waits for a CANCEL matched to itx (or the transaction
// simply terminating on its own) and, if canceled before any final
// response was sent, terminates the session and replies 487 to the
// original INVITE, per spec.md 4.5 step 7.
func (d *Dispatcher) watchCancel(ctx context.Context, itx *transaction.ServerInviteTransaction, session *call.Session, req *message.Request, localTag, fromTag string) {
	select {
	case cancelReq := <-itx.Cancels():
		if session.State() == call.StateAnswered {
			return
		}
		if err := session.CancelBeforeAnswer(); err != nil {
			return
		}
		d.dialogs.Remove(dialog.ID{CallID: session.CallID(), LocalTag: localTag, RemoteTag: fromTag})
		_ = itx.Respond(ctx, taggedResponse(req, 487, localTag))
		if cancelKey, kerr := transaction.ServerKeyFor(cancelReq); kerr == nil {
			if cancelTx, ok := d.transactions.ServerNonInvite(cancelKey); ok {
				_ = cancelTx.Respond(ctx, message.NewStandardResponseFor(cancelReq, 200))
			}
		}
	case <-itx.Done():
	}
}

// handleOrphanCancel responds 481 to a CANCEL that matched no live
// INVITE transaction (already terminated, or never existed).
func (d *Dispatcher) handleOrphanCancel(ctx context.Context, req *message.Request) {
	d.respondStandard(ctx, req, 481)
}

// handleAck confirms the dialog and promotes the call session, per
// spec.md 4.5's ACK algorithm. ACK is never responded to.
func (d *Dispatcher) handleAck(ctx context.Context, req *message.Request) {
	callID, ok := req.CallID()
	if !ok {
		return
	}
	session, ok := d.calls.Get(callID)
	if !ok {
		return
	}
	if dlg, ok := d.dialogs.MatchRequest(req, true); ok {
		_ = dlg.Confirm()
	}
	if session.State() != call.StateAnswered {
		// The auto-answer path promotes its session before sending the
		// 200, so its ACK skips this; a session still in Initiating or
		// Ringing is promoted here.
		_ = session.Answer(session.CalleeContact(), session.SDPAnswer())
	}
}

// handleBye implements spec.md 4.5's BYE algorithm.
func (d *Dispatcher) handleBye(ctx context.Context, req *message.Request) {
	dlg, ok := d.dialogs.MatchRequest(req, true)
	if !ok {
		d.respondStandard(ctx, req, 481)
		return
	}
	callID, _ := req.CallID()
	if session, ok := d.calls.Get(callID); ok {
		_ = session.Hangup()
		_ = session.Terminate()
		if d.cdr != nil {
			go d.cdr.Record(ctx, CallRecord{
				CallID:     callID,
				CallerAOR:  session.CallerAOR(),
				CalleeAOR:  session.CalleeAOR(),
				CreatedAt:  session.CreatedAt(),
				AnsweredAt: session.AnsweredAt(),
				EndedAt:    session.EndedAt(),
			})
		}
	}
	_ = dlg.Terminate()
	d.respondStandard(ctx, req, 200)
}

// taggedResponse builds a response for req, forcing the To header's tag
// to tag rather than whatever NewResponse would auto-generate, so every
// response for one INVITE server transaction carries the same dialog
// local tag.
func taggedResponse(req *message.Request, status int, tag string) *message.Response {
	resp := message.NewStandardResponseFor(req, status)
	if to, ok := resp.To(); ok {
		resp.SetHeader("To", to.WithTag(tag).String())
	}
	return resp
}
