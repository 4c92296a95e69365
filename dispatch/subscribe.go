package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/openpbx/sipcore/dialog"
	"github.com/openpbx/sipcore/message"
	"github.com/openpbx/sipcore/subscription"
)

// handleSubscribe implements spec.md 4.5's SUBSCRIBE algorithm:
// validate the event package, then establish, refresh, or end a
// subscription keyed by dialog id.
func (d *Dispatcher) handleSubscribe(ctx context.Context, req *message.Request) {
	eventHdr, ok := req.Header("Event")
	if !ok {
		d.respondStandard(ctx, req, 400)
		return
	}
	pkg := subscription.EventPackage(eventHdr.Value())
	if !subscription.Supported(string(pkg)) {
		d.respondStandard(ctx, req, 489)
		return
	}

	callID, _ := req.CallID()
	from, _ := req.From()
	fromTag, _ := from.Tag()
	to, _ := req.To()
	toTag, hasToTag := to.Tag()

	var localTag string
	if hasToTag {
		localTag = toTag
	} else {
		localTag = newLocalTag()
	}
	id := dialog.ID{CallID: callID, LocalTag: localTag, RemoteTag: fromTag}

	ttl := requestExpires(req, d.subscriptionDefaultTTL)

	sub, ok := d.subscriptions.Get(id)
	if !ok {
		if ttl == 0 {
			// Ending a subscription that was never established; nothing
			// to tear down, but the request is well-formed.
			d.respond(ctx, req, taggedResponse(req, 202, localTag))
			return
		}
		newSub, serr := subscription.New(id, pkg, from.URI.AOR(), req.RequestURI().AOR(), ttl)
		if serr != nil {
			d.respondStandard(ctx, req, 489)
			return
		}
		d.subscriptions.Put(newSub)
		sub = newSub

		if _, ok := d.dialogs.Get(id); !ok {
			d.dialogs.Put(dialog.New(id, to.URI, from.URI, from.URI))
		}
	} else if ttl == 0 {
		sub.Terminate()
		d.subscriptions.Remove(id)
	} else {
		sub.Refresh(ttl)
	}

	resp := taggedResponse(req, 202, localTag)
	resp.AddHeader("Expires", fmt.Sprintf("%d", int(ttl/time.Second)))
	d.respond(ctx, req, resp)
}
