package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/openpbx/sipcore/internal/randutil"
	"github.com/openpbx/sipcore/message"
)

// handleRegister implements spec.md 4.4's REGISTER algorithm.
func (d *Dispatcher) handleRegister(ctx context.Context, req *message.Request) {
	to, ok := req.To()
	if !ok {
		d.respondStandard(ctx, req, 400)
		return
	}
	aor := to.URI.AOR()

	username, challenge, err := d.authenticate(ctx, req, sourceIP(req))
	if err != nil {
		d.respondStandard(ctx, req, 500)
		return
	}
	if challenge != nil {
		d.respond(ctx, req, challenge)
		return
	}
	_ = username

	callID, _ := req.CallID()
	cseq, _ := req.CSeq()

	contacts := req.Headers("Contact")
	defaultExpires := requestExpires(req, d.bindingDefaultExpires)

	if len(contacts) == 1 {
		if na, perr := message.ParseNameAddr(contacts[0].Value()); perr == nil && na.Wildcard {
			if defaultExpires != 0 {
				d.respondStandard(ctx, req, 400)
				return
			}
			d.registrar.RemoveAll(aor)
			d.respond(ctx, req, d.buildRegisterOK(req, aor))
			return
		}
	}

	for _, h := range contacts {
		na, perr := message.ParseNameAddr(h.Value())
		if perr != nil {
			continue
		}
		expires := defaultExpires
		if secs, ok := na.Expires(); ok {
			expires = time.Duration(secs) * time.Second
		}
		if bindErr := d.registrar.Bind(aor, na.URI.String(), expires, callID, cseq.Seq); bindErr != nil {
			// ErrStaleBinding and any other bind failure both map to 500,
			// per spec.md 4.4's freshness invariant.
			d.respondStandard(ctx, req, 500)
			return
		}
		if expires > 0 && d.queue.Len(aor) > 0 {
			go d.drainPendingMessages(context.Background(), aor, na.URI.String())
		}
	}

	d.respond(ctx, req, d.buildRegisterOK(req, aor))
}

// buildRegisterOK echoes the current Contact list with each binding's
// remaining expires, per spec.md 4.4 step 5.
func (d *Dispatcher) buildRegisterOK(req *message.Request, aor string) *message.Response {
	resp := message.NewStandardResponseFor(req, 200)
	now := time.Now()
	for _, b := range d.registrar.Lookup(aor) {
		resp.AddHeader("Contact", fmt.Sprintf("<%s>;expires=%d", b.ContactURI, b.RemainingSeconds(now)))
	}
	return resp
}

// requestExpires resolves the REGISTER's top-level Expires header,
// falling back to def when absent or unparsable.
func requestExpires(req *message.Request, def time.Duration) time.Duration {
	v, ok := req.Header("Expires")
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v.Value())
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Second
}

// newLocalTag generates the fresh local tag a UAS stamps onto its
// provisional/final responses for a new dialog.
func newLocalTag() string { return randutil.Tag() }
