package dispatch

import (
	"github.com/openpbx/sipcore/dialog"
	"github.com/openpbx/sipcore/internal/randutil"
	"github.com/openpbx/sipcore/message"
)

// newInDialogRequest builds an outbound request this core originates
// within an established dialog (e.g. NOTIFY for a REFER or SUBSCRIBE),
// per RFC 3261 12.2.1.1: Request-URI is the dialog's remote target,
// Call-ID is unchanged, and CSeq strictly increases on this side.
func (d *Dispatcher) newInDialogRequest(dlg *dialog.Dialog, method message.Method) *message.Request {
	id := dlg.ID()
	req := message.NewRequest(method, dlg.RemoteTarget())

	localAddr := message.NameAddr{URI: dlg.LocalURI()}.WithTag(id.LocalTag)
	remoteAddr := message.NameAddr{URI: dlg.RemoteURI()}.WithTag(id.RemoteTag)
	req.AddHeader("From", localAddr.String())
	req.AddHeader("To", remoteAddr.String())
	req.AddHeader("Call-ID", id.CallID)
	req.AddHeader("CSeq", message.CSeq{Seq: dlg.NextLocalSeq(), Method: method}.String())
	req.AddHeader("Max-Forwards", "70")
	req.PushVia(message.NewBranchedVia("UDP", d.hostAddr, 0, randutil.Branch()))
	for _, route := range dlg.RouteSet() {
		req.AddHeader("Route", "<"+route.String()+">")
	}
	return req
}
