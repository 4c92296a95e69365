package dispatch_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpbx/sipcore/auth"
	"github.com/openpbx/sipcore/call"
	"github.com/openpbx/sipcore/dialog"
	"github.com/openpbx/sipcore/dispatch"
	"github.com/openpbx/sipcore/imqueue"
	"github.com/openpbx/sipcore/internal/randutil"
	"github.com/openpbx/sipcore/message"
	"github.com/openpbx/sipcore/registrar"
	"github.com/openpbx/sipcore/subscription"
	"github.com/openpbx/sipcore/transaction"
)

// fakeSender records every message handed to it, mirroring
// transaction_test.go's fakeSender.
type fakeSender struct {
	mu  sync.Mutex
	out []message.Message
}

func (f *fakeSender) Send(_ context.Context, msg message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, msg)
	return nil
}

func (f *fakeSender) sent() []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message.Message(nil), f.out...)
}

func (f *fakeSender) last() message.Message {
	s := f.sent()
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}

// fakeUserStore is a hand-written auth.CredentialLookup, per the mocking
// convention observed in testutils/mocks.go: a struct implementing the
// interface directly rather than a generated mock.
type fakeUserStore struct {
	mu    sync.RWMutex
	creds map[string]auth.Credential
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{creds: make(map[string]auth.Credential)}
}

func (s *fakeUserStore) put(cred auth.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.Realm+"\x00"+cred.Username] = cred
}

func (s *fakeUserStore) Lookup(_ context.Context, username, realm string) (auth.Credential, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[realm+"\x00"+username]
	return cred, ok, nil
}

const testRealm = "example.com"

// harness bundles a Dispatcher with the tables and guards backing it, so
// each test can inspect table state directly after driving a request
// through the transaction layer.
type harness struct {
	sender        *fakeSender
	transactions  *transaction.Layer
	registrar     *registrar.Registrar
	dialogs       *dialog.Table
	calls         *call.Table
	subscriptions *subscription.Table
	queue         *imqueue.Queue
	users         *fakeUserStore
	verifier      *auth.Verifier
	dispatcher    *dispatch.Dispatcher
}

func newHarness() *harness {
	h := &harness{
		sender:        &fakeSender{},
		registrar:     registrar.New(),
		dialogs:       dialog.NewTable(),
		calls:         call.NewTable(),
		subscriptions: subscription.NewTable(),
		queue:         imqueue.New(16),
		users:         newFakeUserStore(),
	}
	h.transactions = transaction.New(h.sender, transaction.TimingConfig{})
	h.verifier = auth.NewVerifier(testRealm, h.users)
	h.dispatcher = dispatch.New(dispatch.Config{
		Sender:        h.sender,
		Transactions:  h.transactions,
		Registrar:     h.registrar,
		Dialogs:       h.dialogs,
		Calls:         h.calls,
		Subscriptions: h.subscriptions,
		Queue:         h.queue,
		Verifier:      h.verifier,
		HostAddr:      "192.0.2.99",
	})
	return h
}

// deliver feeds req through the real transaction layer, exercising the
// same OnNewRequest path the transport layer uses in production.
func (h *harness) deliver(t *testing.T, req *message.Request) {
	t.Helper()
	require.NoError(t, h.transactions.HandleRequest(context.Background(), req))
}

// newRequest builds a minimally valid request with a Via branch compliant
// with transaction.ServerKeyFor's preferred key path.
func newRequest(t *testing.T, method message.Method, requestURI, from, to, callID string, cseq uint32) *message.Request {
	t.Helper()
	uri, err := message.ParseURI(requestURI)
	require.NoError(t, err)

	req := message.NewRequest(method, uri)
	req.AddHeader("From", from)
	req.AddHeader("To", to)
	req.AddHeader("Call-ID", callID)
	req.AddHeader("CSeq", message.CSeq{Seq: cseq, Method: method}.String())
	req.AddHeader("Via", fmt.Sprintf("SIP/2.0/UDP 192.0.2.1:5060;branch=%s", randutil.Branch()))
	req.AddHeader("Max-Forwards", "70")
	req.SetTransport("UDP")
	req.SetSource("192.0.2.1:5060")
	return req
}

// digestAuthorize stamps req with an Authorization header that will pass
// verifier's check for username/password, using the nonce verifier would
// hand out on a first, unauthenticated attempt.
func digestAuthorize(t *testing.T, v *auth.Verifier, req *message.Request, username, password string) {
	t.Helper()
	nonce := v.Nonces.New(v.Realm)
	ha1 := auth.ComputeHA1(auth.MD5, username, v.Realm, password)
	uri := req.RequestURI().String()
	ha2 := auth.MD5.Hash(string(req.Method()) + ":" + uri)
	response := auth.MD5.Hash(ha1 + ":" + nonce + ":" + ha2)

	value := fmt.Sprintf(
		`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s", algorithm=MD5`,
		username, v.Realm, nonce, uri, response,
	)
	header := auth.AuthRequestHeader(req.Method())
	req.AddHeader(header, value)
}
