package dispatch

import (
	"context"

	"github.com/openpbx/sipcore/message"
)

// handleOptions implements spec.md 4.5's OPTIONS algorithm: report the
// methods and feature tags this core supports without establishing any
// session state.
func (d *Dispatcher) handleOptions(ctx context.Context, req *message.Request) {
	resp := message.NewStandardResponseFor(req, 200)
	resp.AddHeader("Allow", message.AllowHeaderValue())
	resp.AddHeader("Supported", "replaces")
	resp.AddHeader("Accept", "application/sdp")
	d.respond(ctx, req, resp)
}
