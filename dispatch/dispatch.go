// Package dispatch maps inbound requests to per-method handlers, per
// spec.md 4.5: exactly one handler runs per request, and the response
// (or its absence, for ACK) rides back out over the same transaction.
package dispatch

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/openpbx/sipcore/auth"
	"github.com/openpbx/sipcore/call"
	"github.com/openpbx/sipcore/dialog"
	"github.com/openpbx/sipcore/imqueue"
	"github.com/openpbx/sipcore/internal/errs"
	"github.com/openpbx/sipcore/message"
	"github.com/openpbx/sipcore/registrar"
	"github.com/openpbx/sipcore/subscription"
	"github.com/openpbx/sipcore/transaction"
)

// ErrInternal marks an invariant violation translated to 500, per
// spec.md 7.
const ErrInternal errs.Error = "internal dispatcher error"

// MediaSessionFactory is the §6 collaborator consulted when auto-answering
// an INVITE: given the core's advertised IP and the caller's offer, it
// returns the answer SDP and an opaque handle the core never inspects.
type MediaSessionFactory interface {
	Create(ctx context.Context, localIP string, offer []byte) (answer []byte, handle any, err error)
}

// AuditSink is the §6 best-effort audit collaborator; the core MUST NOT
// block on it, so every call site fires it in a goroutine or ignores
// its error.
type AuditSink interface {
	Record(ctx context.Context, event string, fields map[string]any)
}

// EventBus is the §6 non-blocking broadcast collaborator for observers.
type EventBus interface {
	Publish(ctx context.Context, event string, payload any)
}

// CdrSink is the §6 call-detail-record collaborator, invoked at call
// termination.
type CdrSink interface {
	Record(ctx context.Context, record CallRecord)
}

// CallRecord is the minimal call-detail record handed to CdrSink.
type CallRecord struct {
	CallID     string
	CallerAOR  string
	CalleeAOR  string
	CreatedAt  time.Time
	AnsweredAt time.Time
	EndedAt    time.Time
}

// Config bundles the tables, guards, and collaborators a Dispatcher is
// built from.
type Config struct {
	Sender        transaction.Sender
	Transactions  *transaction.Layer
	Registrar     *registrar.Registrar
	Dialogs       *dialog.Table
	Calls         *call.Table
	Subscriptions *subscription.Table
	Queue         *imqueue.Queue
	Verifier      *auth.Verifier

	Media  MediaSessionFactory
	Audit  AuditSink
	Events EventBus
	CDR    CdrSink

	HostAddr              string
	BindingDefaultExpires time.Duration
	SubscriptionDefaultTTL time.Duration

	Log *slog.Logger
}

// Dispatcher owns the per-method handlers and every table/guard they
// read and mutate.
type Dispatcher struct {
	sender        transaction.Sender
	transactions  *transaction.Layer
	registrar     *registrar.Registrar
	dialogs       *dialog.Table
	calls         *call.Table
	subscriptions *subscription.Table
	queue         *imqueue.Queue
	verifier      *auth.Verifier

	media  MediaSessionFactory
	audit  AuditSink
	events EventBus
	cdr    CdrSink

	hostAddr               string
	bindingDefaultExpires  time.Duration
	subscriptionDefaultTTL time.Duration

	log *slog.Logger
}

// New constructs a Dispatcher and wires it as cfg.Transactions' new-request
// callback.
func New(cfg Config) *Dispatcher {
	if cfg.BindingDefaultExpires <= 0 {
		cfg.BindingDefaultExpires = 3600 * time.Second
	}
	if cfg.SubscriptionDefaultTTL <= 0 {
		cfg.SubscriptionDefaultTTL = 3600 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	d := &Dispatcher{
		sender:                 cfg.Sender,
		transactions:           cfg.Transactions,
		registrar:              cfg.Registrar,
		dialogs:                cfg.Dialogs,
		calls:                  cfg.Calls,
		subscriptions:          cfg.Subscriptions,
		queue:                  cfg.Queue,
		verifier:               cfg.Verifier,
		media:                  cfg.Media,
		audit:                  cfg.Audit,
		events:                 cfg.Events,
		cdr:                    cfg.CDR,
		hostAddr:               cfg.HostAddr,
		bindingDefaultExpires:  cfg.BindingDefaultExpires,
		subscriptionDefaultTTL: cfg.SubscriptionDefaultTTL,
		log:                    cfg.Log,
	}
	if cfg.Transactions != nil {
		cfg.Transactions.OnNewRequest(d.HandleRequest)
	}
	return d
}

// HandleRequest is the transaction layer's new-request callback: it
// recovers from a panicking handler (translated to 500, per spec.md 7)
// and routes by method.
func (d *Dispatcher) HandleRequest(ctx context.Context, req *message.Request) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic recovered", "method", req.Method(), "panic", r)
			d.respondFallback(ctx, req, 500)
		}
	}()

	switch req.Method() {
	case message.MethodRegister:
		d.handleRegister(ctx, req)
	case message.MethodInvite:
		d.handleInvite(ctx, req)
	case message.MethodACK:
		d.handleAck(ctx, req)
	case message.MethodBye:
		d.handleBye(ctx, req)
	case message.MethodCancel:
		d.handleOrphanCancel(ctx, req)
	case message.MethodRefer:
		d.handleRefer(ctx, req)
	case message.MethodSubscribe:
		d.handleSubscribe(ctx, req)
	case message.MethodNotify:
		d.handleNotify(ctx, req)
	case message.MethodMessage:
		d.handleMessage(ctx, req)
	case message.MethodOptions:
		d.handleOptions(ctx, req)
	case message.MethodInfo, message.MethodPrack, message.MethodUpdate, message.MethodPublish:
		d.respondStandard(ctx, req, 501)
	default:
		d.respondFallback(ctx, req, 501)
	}
}

// sourceIP extracts the bare host the request arrived from, for the
// brute-force/rate-limit guards.
func sourceIP(req *message.Request) string {
	src := req.Source()
	if src == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(src)
	if err != nil {
		return src
	}
	return host
}

// respondStandard builds a standard-reason response and sends it
// through the request's matching server transaction, when one exists.
func (d *Dispatcher) respondStandard(ctx context.Context, req *message.Request, status int) {
	d.respond(ctx, req, message.NewStandardResponseFor(req, status))
}

// respondFallback sends a standard response directly over the sender
// when no server transaction can be located (e.g. a key-computation
// failure), per spec.md 7: handlers never propagate a panic or parse
// failure back to the listener.
func (d *Dispatcher) respondFallback(ctx context.Context, req *message.Request, status int) {
	resp := message.NewStandardResponseFor(req, status)
	if err := d.sender.Send(ctx, resp); err != nil {
		d.log.Error("fallback send failed", "error", err)
	}
}

// respond routes resp through req's server transaction so retransmission
// and ACK/CANCEL matching behave per RFC 3261 17.2.
func (d *Dispatcher) respond(ctx context.Context, req *message.Request, resp *message.Response) {
	key, err := transaction.ServerKeyFor(req)
	if err != nil {
		d.respondFallback(ctx, req, 400)
		return
	}
	if req.Method() == message.MethodInvite {
		if tx, ok := d.transactions.ServerInvite(key); ok {
			if err := tx.Respond(ctx, resp); err != nil {
				d.log.Error("invite respond failed", "error", err)
			}
			return
		}
	} else if tx, ok := d.transactions.ServerNonInvite(key); ok {
		if err := tx.Respond(ctx, resp); err != nil {
			d.log.Error("respond failed", "error", err)
		}
		return
	}
	d.respondFallback(ctx, req, resp.StatusCode())
}

// recordAudit fires the best-effort audit sink without letting it block
// the protocol path, per spec.md 6.
func (d *Dispatcher) recordAudit(ctx context.Context, event string, fields map[string]any) {
	if d.audit == nil {
		return
	}
	go d.audit.Record(ctx, event, fields)
}

// publish fires the non-blocking event bus, if configured.
func (d *Dispatcher) publish(ctx context.Context, event string, payload any) {
	if d.events == nil {
		return
	}
	go d.events.Publish(ctx, event, payload)
}
