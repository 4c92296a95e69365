package dispatch

import (
	"context"

	"github.com/openpbx/sipcore/imqueue"
	"github.com/openpbx/sipcore/internal/randutil"
	"github.com/openpbx/sipcore/message"
)

// handleMessage implements spec.md 4.5's MESSAGE algorithm: authenticate,
// then either forward to a registered recipient's bound contact or
// buffer the message for delivery on the recipient's next registration.
func (d *Dispatcher) handleMessage(ctx context.Context, req *message.Request) {
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

	from, _ := req.From()
	to, ok := req.To()
	if !ok {
		d.respondStandard(ctx, req, 400)
		return
	}
	recipient := to.URI.AOR()

	contentType := "text/plain"
	if h, ok := req.Header("Content-Type"); ok {
		contentType = h.Value()
	}

	if bindings := d.registrar.Lookup(recipient); len(bindings) > 0 {
		d.forwardMessage(ctx, bindings[0].ContactURI, from.URI.AOR(), recipient, contentType, req.Body())
		d.respondStandard(ctx, req, 200)
		return
	}

	dropped := d.queue.Enqueue(imqueue.Pending{
		From:        from.URI.AOR(),
		To:          recipient,
		ContentType: contentType,
		Body:        req.Body(),
	})
	if dropped {
		d.log.Warn("pending message queue overflow, oldest dropped", "recipient", recipient)
	}
	d.respondStandard(ctx, req, 202)
}

// forwardMessage relays a MESSAGE body to a registered recipient's bound
// contact, best-effort: a transport failure is logged, not surfaced to
// the sender, since the 200 OK already committed to "delivered".
func (d *Dispatcher) forwardMessage(ctx context.Context, contactURI, fromAOR, toAOR, contentType string, body []byte) {
	target, err := message.ParseURI(contactURI)
	if err != nil {
		d.log.Error("message forward: bad contact", "error", err, "recipient", toAOR)
		return
	}
	out := message.NewRequest(message.MethodMessage, target)
	out.AddHeader("From", "<sip:"+fromAOR+">")
	out.AddHeader("To", "<sip:"+toAOR+">")
	out.AddHeader("Call-ID", randutil.CallID())
	out.AddHeader("CSeq", "1 MESSAGE")
	out.AddHeader("Max-Forwards", "70")
	out.AddHeader("Content-Type", contentType)
	out.SetBody(body, true)

	if d.transactions == nil {
		return
	}
	tx, err := d.transactions.StartNonInvite(ctx, out)
	if err != nil {
		d.log.Error("message forward send failed", "error", err)
		return
	}
	go func() {
		select {
		case <-tx.Responses():
		case <-tx.Done():
		}
	}()
}

// drainPendingMessages delivers every message queued for aor while it
// was offline, in FIFO order, per spec.md 4.5 step 5. Called from
// handleRegister after a successful bind.
func (d *Dispatcher) drainPendingMessages(ctx context.Context, aor, contactURI string) {
	pending := d.queue.Drain(aor)
	for _, m := range pending {
		d.forwardMessage(ctx, contactURI, m.From, m.To, m.ContentType, m.Body)
	}
}
