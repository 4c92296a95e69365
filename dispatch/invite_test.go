package dispatch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpbx/sipcore/call"
	"github.com/openpbx/sipcore/dialog"
	"github.com/openpbx/sipcore/message"
)

const sdpOfferSendOnly = "v=0\r\no=alice 1 1 IN IP4 192.0.2.5\r\ns=-\r\nt=0 0\r\nm=audio 4000 RTP/AVP 0\r\na=sendonly\r\n"

const sdpOfferSendRecv = "v=0\r\no=alice 1 1 IN IP4 192.0.2.5\r\ns=-\r\nt=0 0\r\nm=audio 4000 RTP/AVP 0\r\na=sendrecv\r\n"

func newInviteRequest(t *testing.T, callID string) *message.Request {
	t.Helper()
	req := newRequest(t, message.MethodInvite, "sip:bob@example.com",
		`<sip:alice@example.com>;tag=a1`, "<sip:bob@example.com>", callID, 1)
	req.AddHeader("Contact", "<sip:alice@192.0.2.1:5060>")
	req.AddHeader("Content-Type", "application/sdp")
	req.SetBody([]byte(sdpOfferSendRecv), true)
	return req
}

func TestInviteReturns404ForUnregisteredCallee(t *testing.T) {
	t.Parallel()

	h := newHarness()
	req := newInviteRequest(t, "inv-1@host")
	authorizeAlice(t, h, req)

	h.deliver(t, req)

	var final *message.Response
	for _, m := range h.sender.sent() {
		if resp, ok := m.(*message.Response); ok {
			final = resp
		}
	}
	require.NotNil(t, final)
	assert.Equal(t, 404, final.StatusCode())
}

func TestInviteAutoAnswersRegisteredCallee(t *testing.T) {
	t.Parallel()

	h := newHarness()
	require.NoError(t, h.registrar.Bind("bob@example.com", "sip:bob@192.0.2.2:5060", time.Hour, "reg-bob@host", 1))

	req := newInviteRequest(t, "inv-2@host")
	authorizeAlice(t, h, req)

	h.deliver(t, req)

	var statuses []int
	for _, m := range h.sender.sent() {
		if resp, ok := m.(*message.Response); ok {
			statuses = append(statuses, resp.StatusCode())
		}
	}
	require.NotEmpty(t, statuses)
	assert.Equal(t, 180, statuses[0])
	assert.Equal(t, 200, statuses[len(statuses)-1])

	require.Equal(t, 1, h.calls.Len())
	assert.Equal(t, 1, h.dialogs.Len())
}

func TestInviteRejectsZeroMaxForwards(t *testing.T) {
	t.Parallel()

	h := newHarness()
	req := newInviteRequest(t, "inv-3@host")
	authorizeAlice(t, h, req)
	req.SetHeader("Max-Forwards", "0")

	h.deliver(t, req)

	resp, ok := h.sender.last().(*message.Response)
	require.True(t, ok)
	assert.Equal(t, 483, resp.StatusCode())
}

func TestReInviteUpdatesHoldState(t *testing.T) {
	t.Parallel()

	h := newHarness()

	aliceURI, err := message.ParseURI("sip:alice@192.0.2.1:5060")
	require.NoError(t, err)
	bobURI, err := message.ParseURI("sip:bob@192.0.2.2:5060")
	require.NoError(t, err)

	session := call.New("hold-1@host", "alice@example.com", "bob@example.com", aliceURI, []byte(sdpOfferSendRecv))
	require.NoError(t, session.Ring())
	require.NoError(t, session.Answer(bobURI, []byte(sdpOfferSendRecv)))
	h.calls.Put(session)

	id := dialog.ID{CallID: "hold-1@host", LocalTag: "b1", RemoteTag: "a1"}
	dlg := dialog.New(id, bobURI, aliceURI, aliceURI)
	h.dialogs.Put(dlg)

	reinvite := newRequest(t, message.MethodInvite, "sip:bob@example.com",
		`<sip:alice@example.com>;tag=a1`, "<sip:bob@example.com>;tag=b1", "hold-1@host", 2)
	reinvite.AddHeader("Contact", "<sip:alice@192.0.2.1:5060>")
	reinvite.AddHeader("Content-Type", "application/sdp")
	reinvite.SetBody([]byte(sdpOfferSendOnly), true)
	authorizeAlice(t, h, reinvite)

	h.deliver(t, reinvite)

	resp, ok := h.sender.last().(*message.Response)
	require.True(t, ok)
	assert.Equal(t, 200, resp.StatusCode())
	assert.Contains(t, string(resp.Body()), "a=recvonly")
}
