package dispatch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpbx/sipcore/dialog"
	"github.com/openpbx/sipcore/message"
	"github.com/openpbx/sipcore/subscription"
)

func TestNotifyRejectsWithoutMatchingSubscription(t *testing.T) {
	t.Parallel()

	h := newHarness()
	req := newRequest(t, message.MethodNotify, "sip:alice@example.com",
		`<sip:bob@example.com>;tag=b1`, "<sip:alice@example.com>;tag=a1", "notify-1@host", 1)
	req.AddHeader("Event", "dialog")
	req.AddHeader("Subscription-State", "active")

	h.deliver(t, req)

	resp, ok := h.sender.last().(*message.Response)
	require.True(t, ok)
	assert.Equal(t, 481, resp.StatusCode())
}

func TestNotifyActivatesAndTerminatesSubscription(t *testing.T) {
	t.Parallel()

	h := newHarness()
	id := dialog.ID{CallID: "notify-2@host", LocalTag: "a1", RemoteTag: "b1"}
	sub, err := subscription.New(id, subscription.EventDialog, "sip:alice@example.com", "sip:bob@example.com", time.Hour)
	require.NoError(t, err)
	h.subscriptions.Put(sub)

	active := newRequest(t, message.MethodNotify, "sip:alice@example.com",
		`<sip:bob@example.com>;tag=b1`, "<sip:alice@example.com>;tag=a1", "notify-2@host", 1)
	active.AddHeader("Event", "dialog")
	active.AddHeader("Subscription-State", "active;expires=3600")
	h.deliver(t, active)

	resp, ok := h.sender.last().(*message.Response)
	require.True(t, ok)
	assert.Equal(t, 200, resp.StatusCode())
	assert.Equal(t, subscription.StateActive, sub.State())

	terminate := newRequest(t, message.MethodNotify, "sip:alice@example.com",
		`<sip:bob@example.com>;tag=b1`, "<sip:alice@example.com>;tag=a1", "notify-2@host", 2)
	terminate.AddHeader("Event", "dialog")
	terminate.AddHeader("Subscription-State", "terminated;reason=timeout")
	h.deliver(t, terminate)

	final, ok := h.sender.last().(*message.Response)
	require.True(t, ok)
	assert.Equal(t, 200, final.StatusCode())
	_, found := h.subscriptions.Get(id)
	assert.False(t, found)
}
