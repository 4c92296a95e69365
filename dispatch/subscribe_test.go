package dispatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpbx/sipcore/dialog"
	"github.com/openpbx/sipcore/message"
)

func newSubscribeRequest(t *testing.T, callID string, cseq uint32, eventPkg string) *message.Request {
	t.Helper()
	req := newRequest(t, message.MethodSubscribe, "sip:bob@example.com",
		`"Alice" <sip:alice@example.com>;tag=a1`, "<sip:bob@example.com>", callID, cseq)
	req.AddHeader("Event", eventPkg)
	req.AddHeader("Contact", "<sip:alice@192.0.2.1:5060>")
	return req
}

func TestSubscribeEstablishesDialogAndSubscription(t *testing.T) {
	t.Parallel()

	h := newHarness()
	req := newSubscribeRequest(t, "sub-1@host", 1, "dialog")
	req.AddHeader("Expires", "1800")

	h.deliver(t, req)

	require.Len(t, h.sender.sent(), 1)
	resp, ok := h.sender.last().(*message.Response)
	require.True(t, ok)
	assert.Equal(t, 202, resp.StatusCode())

	expires, ok := resp.Header("Expires")
	require.True(t, ok)
	assert.Equal(t, "1800", expires.Value())

	to, _ := resp.To()
	toTag, hasTag := to.Tag()
	require.True(t, hasTag)

	from, _ := req.From()
	fromTag, _ := from.Tag()
	id := dialog.ID{CallID: "sub-1@host", LocalTag: toTag, RemoteTag: fromTag}

	_, found := h.subscriptions.Get(id)
	assert.True(t, found)
	_, dialogFound := h.dialogs.Get(id)
	assert.True(t, dialogFound)
}

func TestSubscribeRejectsUnsupportedEventPackage(t *testing.T) {
	t.Parallel()

	h := newHarness()
	req := newSubscribeRequest(t, "sub-2@host", 1, "unknown-package")

	h.deliver(t, req)

	resp, ok := h.sender.last().(*message.Response)
	require.True(t, ok)
	assert.Equal(t, 489, resp.StatusCode())
	assert.Zero(t, h.subscriptions.Len())
}

func TestSubscribeExpiresZeroTerminatesExistingSubscription(t *testing.T) {
	t.Parallel()

	h := newHarness()
	establish := newSubscribeRequest(t, "sub-3@host", 1, "dialog")
	establish.AddHeader("Expires", "1800")
	h.deliver(t, establish)

	resp, _ := h.sender.last().(*message.Response)
	to, _ := resp.To()
	toTag, _ := to.Tag()

	teardown := newSubscribeRequest(t, "sub-3@host", 2, "dialog")
	teardown.AddHeader("Expires", "0")
	teardown.SetHeader("To", "<sip:bob@example.com>;tag="+toTag)

	h.deliver(t, teardown)

	final, ok := h.sender.last().(*message.Response)
	require.True(t, ok)
	assert.Equal(t, 202, final.StatusCode())
	assert.Zero(t, h.subscriptions.Len())
}
