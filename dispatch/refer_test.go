package dispatch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpbx/sipcore/dialog"
	"github.com/openpbx/sipcore/message"
)

func TestReferRejectsWithoutEstablishedDialog(t *testing.T) {
	t.Parallel()

	h := newHarness()
	req := newRequest(t, message.MethodRefer, "sip:bob@example.com",
		`<sip:alice@example.com>;tag=a1`, "<sip:bob@example.com>;tag=b1", "refer-1@host", 1)
	req.AddHeader("Refer-To", "<sip:carol@example.com>")

	h.deliver(t, req)

	resp, ok := h.sender.last().(*message.Response)
	require.True(t, ok)
	assert.Equal(t, 481, resp.StatusCode())
}

func TestReferAcceptsWithinDialogAndNotifiesProgress(t *testing.T) {
	t.Parallel()

	h := newHarness()

	aliceURI, err := message.ParseURI("sip:alice@example.com")
	require.NoError(t, err)
	bobURI, err := message.ParseURI("sip:bob@example.com")
	require.NoError(t, err)

	id := dialog.ID{CallID: "refer-2@host", LocalTag: "b1", RemoteTag: "a1"}
	dlg := dialog.New(id, bobURI, aliceURI, aliceURI)
	h.dialogs.Put(dlg)

	req := newRequest(t, message.MethodRefer, "sip:bob@example.com",
		`<sip:alice@example.com>;tag=a1`, "<sip:bob@example.com>;tag=b1", "refer-2@host", 1)
	req.AddHeader("Refer-To", "<sip:carol@example.com>")

	h.deliver(t, req)

	sent := h.sender.sent()
	require.NotEmpty(t, sent)
	resp, ok := sent[0].(*message.Response)
	require.True(t, ok)
	assert.Equal(t, 202, resp.StatusCode())

	assert.Eventually(t, func() bool {
		for _, m := range h.sender.sent() {
			if notify, ok := m.(*message.Request); ok && notify.Method() == message.MethodNotify {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}
