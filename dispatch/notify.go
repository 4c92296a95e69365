package dispatch

import (
	"context"
	"strings"

	"github.com/openpbx/sipcore/dialog"
	"github.com/openpbx/sipcore/message"
)

// handleNotify implements spec.md 4.5's NOTIFY algorithm: verify the
// subscription exists, record the reported lifecycle state, and route
// the notification to any in-process consumer over the event bus.
func (d *Dispatcher) handleNotify(ctx context.Context, req *message.Request) {
	callID, _ := req.CallID()
	from, _ := req.From()
	fromTag, _ := from.Tag()
	to, _ := req.To()
	toTag, _ := to.Tag()

	id := dialog.ID{CallID: callID, LocalTag: toTag, RemoteTag: fromTag}
	sub, ok := d.subscriptions.Get(id)
	if !ok {
		d.respondStandard(ctx, req, 481)
		return
	}

	stateHdr, _ := req.Header("Subscription-State")
	state := strings.ToLower(strings.SplitN(stateHdr.Value(), ";", 2)[0])
	switch state {
	case "active":
		sub.Activate()
	case "terminated":
		sub.Terminate()
		d.subscriptions.Remove(id)
	}

	d.publish(ctx, "notify_received", map[string]any{
		"event_package": string(sub.EventPackage()),
		"subscriber":     sub.SubscriberAOR(),
		"state":          state,
		"body":           req.Body(),
	})

	d.respondStandard(ctx, req, 200)
}
