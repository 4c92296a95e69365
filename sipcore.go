// Package sipcore wires the transport, transaction, auth, registrar, and
// dispatch layers into a single signaling engine: the shared indices
// (registrar, dialog table, call table, subscription table,
// pending-message queue, nonce cache, brute-force/rate-limit tables) and
// their background reapers, plus the cooperative-shutdown lifecycle.
package sipcore

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openpbx/sipcore/auth"
	"github.com/openpbx/sipcore/call"
	"github.com/openpbx/sipcore/dialog"
	"github.com/openpbx/sipcore/dispatch"
	"github.com/openpbx/sipcore/imqueue"
	"github.com/openpbx/sipcore/internal/log"
	"github.com/openpbx/sipcore/message"
	"github.com/openpbx/sipcore/registrar"
	"github.com/openpbx/sipcore/subscription"
	"github.com/openpbx/sipcore/transaction"
	"github.com/openpbx/sipcore/transport"
)

const (
	defaultRealm         = "localhost"
	defaultReapInterval  = 30 * time.Second
	defaultDrainTimeout  = 10 * time.Second
	defaultQueueCapacity = imqueue.DefaultCapacity
)

// Config bundles everything needed to construct a Core: the collaborator
// interfaces spec.md 6 lists as consumed from outside the core, plus the
// configuration keys spec.md 6 lists as recognized.
type Config struct {
	Realm    string
	HostAddr string

	ListenUDP string
	ListenTCP string
	ListenTLS string
	TLSCert   string
	TLSKey    string

	// DNSServer is the resolver address (host:port) used for RFC 3263
	// SRV fallback when a request/REFER/MESSAGE target has no literal
	// IP. Defaults to a public recursive resolver.
	DNSServer string

	Users auth.CredentialLookup

	BindingDefaultExpires  time.Duration
	SubscriptionDefaultTTL time.Duration
	QueueCapacity          int

	BruteForce  auth.BruteForceConfig
	RateLimit   auth.RateLimitConfig
	NonceTTL    time.Duration
	Algorithms  []auth.Algorithm
	DrainTimeout time.Duration

	Media  dispatch.MediaSessionFactory
	Audit  dispatch.AuditSink
	Events dispatch.EventBus
	CDR    dispatch.CdrSink

	Log *slog.Logger
}

// Core is the assembled signaling engine: the one long-lived object a
// CLI or test harness constructs, starts, and shuts down.
type Core struct {
	cfg Config
	log *slog.Logger

	transport    *transport.Layer
	transactions *transaction.Layer
	dispatcher   *dispatch.Dispatcher

	registrar     *registrar.Registrar
	dialogs       *dialog.Table
	calls         *call.Table
	subscriptions *subscription.Table
	queue         *imqueue.Queue
	verifier      *auth.Verifier

	stopReapers chan struct{}
	hwg         sync.WaitGroup
	inShutdown  int32
}

// New assembles a Core from cfg, wiring every layer's callbacks but not
// yet starting any listener or background reaper; Listen starts both.
func New(cfg Config) *Core {
	if cfg.Realm == "" {
		cfg.Realm = defaultRealm
	}
	if cfg.HostAddr == "" {
		cfg.HostAddr = "127.0.0.1"
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.Log == nil {
		cfg.Log = log.Def
	}
	if cfg.Users == nil {
		cfg.Users = NewMemoryUserStore()
	}
	if cfg.DNSServer == "" {
		cfg.DNSServer = "1.1.1.1:53"
	}

	verifier := auth.NewVerifier(cfg.Realm, cfg.Users)
	if len(cfg.Algorithms) > 0 {
		verifier.Algorithms = cfg.Algorithms
	}
	if cfg.NonceTTL > 0 {
		verifier.Nonces = auth.NewNonceCache(cfg.NonceTTL)
	}
	if (cfg.BruteForce != auth.BruteForceConfig{}) {
		verifier.BruteForce = auth.NewBruteForceGuard(cfg.BruteForce)
	}
	if (cfg.RateLimit != auth.RateLimitConfig{}) {
		verifier.RateLimiter = auth.NewRateLimiter(cfg.RateLimit)
	}

	c := &Core{
		cfg:           cfg,
		log:           cfg.Log,
		registrar:     registrar.New(),
		dialogs:       dialog.NewTable(),
		calls:         call.NewTable(),
		subscriptions: subscription.NewTable(),
		queue:         imqueue.New(cfg.QueueCapacity),
		verifier:      verifier,
		stopReapers:   make(chan struct{}),
	}

	resolver := transport.NewResolver(cfg.DNSServer)
	c.transport = transport.New(cfg.HostAddr, cfg.Log, resolver)
	c.transactions = transaction.New(c.transport, transaction.TimingConfig{})

	c.dispatcher = dispatch.New(dispatch.Config{
		Sender:                 c.transport,
		Transactions:           c.transactions,
		Registrar:              c.registrar,
		Dialogs:                c.dialogs,
		Calls:                  c.calls,
		Subscriptions:          c.subscriptions,
		Queue:                  c.queue,
		Verifier:               verifier,
		Media:                  cfg.Media,
		Audit:                  cfg.Audit,
		Events:                 cfg.Events,
		CDR:                    cfg.CDR,
		HostAddr:               cfg.HostAddr,
		BindingDefaultExpires:  cfg.BindingDefaultExpires,
		SubscriptionDefaultTTL: cfg.SubscriptionDefaultTTL,
		Log:                    cfg.Log,
	})

	c.transport.OnRequest(func(ctx context.Context, req *message.Request) {
		if err := c.transactions.HandleRequest(ctx, req); err != nil {
			c.log.Error("request handling failed", "error", err)
		}
	})
	c.transport.OnResponse(func(ctx context.Context, resp *message.Response) {
		if err := c.transactions.HandleResponse(ctx, resp); err != nil {
			c.log.Error("response handling failed", "error", err)
		}
	})
	c.transport.OnError(func(err error, raddr, laddr net.Addr) {
		c.log.Error("transport error", "error", err, "remote", raddr, "local", laddr)
		if sendErr := c.transport.RespondBadRequest(raddr); sendErr != nil {
			c.log.Debug("best-effort 400 for malformed frame failed", "error", sendErr, "remote", raddr)
		}
	})

	return c
}

// Registrar exposes the registrar collaborator interface spec.md 6
// names (is_registered, lookup) for an admin surface or IM router built
// on top of this engine.
func (c *Core) Registrar() *registrar.Registrar { return c.registrar }

// CallTable exposes the call-table collaborator interface spec.md 6
// names (active, terminate) for admin call control.
func (c *Core) CallTable() *call.Table { return c.calls }

// Listen binds the configured UDP/TCP/TLS listeners. At least one of
// ListenUDP/ListenTCP/ListenTLS must be set.
func (c *Core) Listen() error {
	if c.cfg.ListenUDP != "" {
		if err := c.transport.Listen("udp", c.cfg.ListenUDP); err != nil {
			return err
		}
	}
	if c.cfg.ListenTCP != "" {
		if err := c.transport.Listen("tcp", c.cfg.ListenTCP); err != nil {
			return err
		}
	}
	if c.cfg.ListenTLS != "" {
		if err := c.transport.ListenTLS(c.cfg.ListenTLS, c.cfg.TLSCert, c.cfg.TLSKey); err != nil {
			return err
		}
	}
	c.runReapers()
	return nil
}

// runReapers starts the background eviction loops spec.md 4.4 and 5
// require: the registrar's binding reaper (at least once per 60s),
// nonce/brute-force/rate-limit eviction, and subscription expiry.
func (c *Core) runReapers() {
	c.registrar.RunReaper(defaultReapInterval, c.stopReapers)

	c.hwg.Add(1)
	go func() {
		defer c.hwg.Done()
		ticker := time.NewTicker(defaultReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopReapers:
				return
			case now := <-ticker.C:
				c.verifier.EvictExpired()
				c.subscriptions.ReapExpired(now)
			}
		}
	}()
}

// Shutdown stops the core, per spec.md 5's cooperative shutdown model:
// it closes the listeners (no new work accepted), stops the reaper
// loops, and waits up to DrainTimeout (or until ctx is done) for the
// reaper goroutine to exit. Request handlers already running are not
// tracked or waited for. It always returns nil.
func (c *Core) Shutdown(ctx context.Context) error {
	atomic.StoreInt32(&c.inShutdown, 1)

	if err := c.transport.Close(); err != nil {
		c.log.Error("transport close failed", "error", err)
	}

	done := make(chan struct{})
	go func() {
		c.hwg.Wait()
		close(done)
	}()

	drainCtx, cancel := context.WithTimeout(ctx, c.cfg.DrainTimeout)
	defer cancel()

	close(c.stopReapers)
	select {
	case <-done:
	case <-drainCtx.Done():
		c.log.Warn("shutdown drain timed out")
	}
	return nil
}

func (c *Core) shuttingDown() bool { return atomic.LoadInt32(&c.inShutdown) != 0 }

// Send transmits msg, rejecting it once Shutdown has begun rather than
// racing a listener close.
func (c *Core) Send(ctx context.Context, msg message.Message) error {
	if c.shuttingDown() {
		return ErrInternal
	}
	return c.transport.Send(ctx, msg)
}
