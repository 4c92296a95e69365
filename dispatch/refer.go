package dispatch

import (
	"context"

	"github.com/openpbx/sipcore/dialog"
	"github.com/openpbx/sipcore/message"
	"github.com/openpbx/sipcore/subscription"
)

// handleRefer implements spec.md 4.5's REFER algorithm: blind transfer
// within an existing dialog, reported back to the referrer over an
// implicit refer-event subscription.
func (d *Dispatcher) handleRefer(ctx context.Context, req *message.Request) {
	dlg, ok := d.dialogs.MatchRequest(req, true)
	if !ok {
		d.respondStandard(ctx, req, 481)
		return
	}

	referToHdr, ok := req.Header("Refer-To")
	if !ok {
		d.respondStandard(ctx, req, 400)
		return
	}
	referTo, perr := message.ParseNameAddr(referToHdr.Value())
	if perr != nil {
		d.respondStandard(ctx, req, 400)
		return
	}

	from, _ := req.From()
	subscriberAOR := from.URI.AOR()
	targetAOR := referTo.URI.AOR()

	d.respondStandard(ctx, req, 202)

	sub, serr := subscription.New(dlg.ID(), subscription.EventRefer, subscriberAOR, targetAOR, d.subscriptionDefaultTTL)
	if serr != nil {
		return
	}
	d.subscriptions.Put(sub)
	sub.Activate()

	go d.runReferProgress(context.Background(), dlg, sub, referTo.URI)
}

// runReferProgress sends the refer-event NOTIFYs a blind transfer
// reports back to the referrer, per spec.md 4.5 step 4: a Trying
// fragment, then a final OK or failure fragment, after which the
// implicit subscription terminates.
func (d *Dispatcher) runReferProgress(ctx context.Context, dlg *dialog.Dialog, sub *subscription.Subscription, target message.URI) {
	d.sendReferNotify(ctx, dlg, sub, "SIP/2.0 100 Trying", false)

	status := "SIP/2.0 200 OK"
	if d.registrar == nil || !d.registrar.IsRegistered(target.AOR()) {
		status = "SIP/2.0 404 Not Found"
	}
	d.sendReferNotify(ctx, dlg, sub, status, true)
	sub.Terminate()
	d.subscriptions.Remove(dlg.ID())
}

// sendReferNotify sends a single Event: refer NOTIFY carrying a
// message/sipfrag body reporting the transfer's progress.
func (d *Dispatcher) sendReferNotify(ctx context.Context, dlg *dialog.Dialog, sub *subscription.Subscription, sipfrag string, final bool) {
	notify := d.newInDialogRequest(dlg, message.MethodNotify)
	notify.AddHeader("Event", "refer")
	state := "active"
	if final {
		state = "terminated;reason=noresource"
	}
	notify.AddHeader("Subscription-State", state)
	notify.AddHeader("Content-Type", "message/sipfrag")
	notify.SetBody([]byte(sipfrag), true)

	if d.transactions == nil {
		return
	}
	tx, err := d.transactions.StartNonInvite(ctx, notify)
	if err != nil {
		d.log.Error("refer notify send failed", "error", err)
		return
	}
	go func() {
		select {
		case <-tx.Responses():
		case <-tx.Done():
		}
	}()
}
