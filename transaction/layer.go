package transaction

import (
	"context"
	"sync"

	"github.com/openpbx/sipcore/internal/errs"
	"github.com/openpbx/sipcore/message"
)

// ErrTransactionNotFound is returned when a response cannot be matched
// to any live client transaction, per RFC 3261 17.1.3: the response is
// passed directly to the UA layer in that case rather than treated as
// an error.
const ErrTransactionNotFound errs.Error = "no matching transaction"

// Layer matches inbound requests and responses to their transactions,
// creating server transactions on demand for new requests and routing
// retransmissions and in-transaction messages to the transaction that
// owns them.
type Layer struct {
	tp      Sender
	timings TimingConfig

	mu        sync.RWMutex
	serverTxs map[Key]serverTransaction
	clientTxs map[Key]clientTransaction

	onRequest func(ctx context.Context, req *message.Request)
}

type serverTransaction interface {
	Transaction
	RecvRequest(ctx context.Context, req *message.Request) error
}

type clientTransaction interface {
	Transaction
	RecvResponse(ctx context.Context, resp *message.Response) error
}

// New constructs a transaction Layer bound to tp for outbound sends.
func New(tp Sender, timings TimingConfig) *Layer {
	return &Layer{
		tp:        tp,
		timings:   timings,
		serverTxs: make(map[Key]serverTransaction),
		clientTxs: make(map[Key]clientTransaction),
	}
}

// OnNewRequest registers the callback invoked for requests that do not
// match an existing server transaction.
func (l *Layer) OnNewRequest(fn func(ctx context.Context, req *message.Request)) {
	l.onRequest = fn
}

// HandleRequest routes an inbound request to its server transaction,
// creating one (and invoking the new-request callback) if this is the
// first copy seen.
func (l *Layer) HandleRequest(ctx context.Context, req *message.Request) error {
	key, err := ServerKeyFor(req)
	if err != nil {
		return err
	}

	if req.Method() == message.MethodACK {
		l.mu.RLock()
		tx, ok := l.serverTxs[key]
		l.mu.RUnlock()
		if ok {
			return tx.RecvRequest(ctx, req)
		}
		// ACK to a 2xx has no matching transaction by design (RFC 3261
		// 13.2.2.4); pass it straight up for dialog-layer handling.
		if l.onRequest != nil {
			l.onRequest(ctx, req)
		}
		return nil
	}

	l.mu.RLock()
	tx, ok := l.serverTxs[key]
	l.mu.RUnlock()
	if ok {
		return tx.RecvRequest(ctx, req)
	}

	if req.Method() == message.MethodCancel {
		// A CANCEL shares its INVITE's key, so one that matches a live
		// INVITE transaction was handed to that transaction's Cancels
		// channel above. Only a CANCEL with no such match reaches here:
		// it gets a non-INVITE transaction and goes to the dispatcher.
		ntx, err := NewServerNonInviteTransaction(req, l.tp, l.timings)
		if err != nil {
			return err
		}
		l.putServer(key, ntx)
		if l.onRequest != nil {
			l.onRequest(ctx, req)
		}
		return nil
	}

	if req.Method() == message.MethodInvite {
		itx, err := NewServerInviteTransaction(req, l.tp, l.timings)
		if err != nil {
			return err
		}
		l.putServer(key, itx)
	} else {
		ntx, err := NewServerNonInviteTransaction(req, l.tp, l.timings)
		if err != nil {
			return err
		}
		l.putServer(key, ntx)
	}

	if l.onRequest != nil {
		l.onRequest(ctx, req)
	}
	return nil
}

// HandleResponse routes an inbound response to its client transaction.
// Per RFC 3261 17.1.1.2, a response with no match is not an error; the
// caller should deliver it to the dialog/UA layer directly.
func (l *Layer) HandleResponse(ctx context.Context, resp *message.Response) error {
	key, ok := clientKeyFromResponse(resp)
	if !ok {
		return ErrTransactionNotFound
	}

	l.mu.RLock()
	tx, ok := l.clientTxs[key]
	l.mu.RUnlock()
	if !ok {
		return ErrTransactionNotFound
	}
	return tx.RecvResponse(ctx, resp)
}

func clientKeyFromResponse(resp *message.Response) (Key, bool) {
	via, ok := resp.TopVia()
	if !ok {
		return "", false
	}
	branch, ok := via.Branch()
	if !ok || !isRFC3261Branch(branch) {
		return "", false
	}
	cseq, ok := resp.CSeq()
	if !ok {
		return "", false
	}
	return Key(branch + keySep + string(matchingMethod(cseq.Method))), true
}

// StartInvite creates a client INVITE transaction for req and sends it.
func (l *Layer) StartInvite(ctx context.Context, req *message.Request) (*ClientInviteTransaction, error) {
	tx, err := NewClientInviteTransaction(ctx, req, l.tp, l.timings)
	if err != nil {
		return nil, err
	}
	l.putClient(tx.Key(), tx)
	go l.reapWhenDone(tx.Key(), tx.Done(), true)
	return tx, nil
}

// StartNonInvite creates a client non-INVITE transaction for req and
// sends it.
func (l *Layer) StartNonInvite(ctx context.Context, req *message.Request) (*ClientNonInviteTransaction, error) {
	tx, err := NewClientNonInviteTransaction(ctx, req, l.tp, l.timings)
	if err != nil {
		return nil, err
	}
	l.putClient(tx.Key(), tx)
	go l.reapWhenDone(tx.Key(), tx.Done(), true)
	return tx, nil
}

// ServerInvite returns the server INVITE transaction for key, if any,
// so the dispatcher can call Respond on it.
func (l *Layer) ServerInvite(key Key) (*ServerInviteTransaction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.serverTxs[key]
	if !ok {
		return nil, false
	}
	itx, ok := tx.(*ServerInviteTransaction)
	return itx, ok
}

// ServerNonInvite returns the server non-INVITE transaction for key.
func (l *Layer) ServerNonInvite(key Key) (*ServerNonInviteTransaction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.serverTxs[key]
	if !ok {
		return nil, false
	}
	ntx, ok := tx.(*ServerNonInviteTransaction)
	return ntx, ok
}

func (l *Layer) putServer(key Key, tx serverTransaction) {
	l.mu.Lock()
	l.serverTxs[key] = tx
	l.mu.Unlock()
	go l.reapWhenDone(key, tx.Done(), false)
}

func (l *Layer) putClient(key Key, tx clientTransaction) {
	l.mu.Lock()
	l.clientTxs[key] = tx
	l.mu.Unlock()
}

func (l *Layer) reapWhenDone(key Key, done <-chan struct{}, client bool) {
	<-done
	l.mu.Lock()
	if client {
		delete(l.clientTxs, key)
	} else {
		delete(l.serverTxs, key)
	}
	l.mu.Unlock()
}
