package dispatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpbx/sipcore/message"
)

func TestOptionsRespondsWithoutSessionState(t *testing.T) {
	t.Parallel()

	h := newHarness()
	req := newRequest(t, message.MethodOptions, "sip:bob@example.com",
		`"Alice" <sip:alice@example.com>;tag=a1`, "<sip:bob@example.com>",
		"options-1@host", 1)

	h.deliver(t, req)

	require.Len(t, h.sender.sent(), 1)
	resp, ok := h.sender.last().(*message.Response)
	require.True(t, ok)
	assert.Equal(t, 200, resp.StatusCode())

	allow, ok := resp.Header("Allow")
	require.True(t, ok)
	assert.Contains(t, allow.Value(), "INVITE")
	assert.Contains(t, allow.Value(), "REGISTER")

	supported, ok := resp.Header("Supported")
	require.True(t, ok)
	assert.Equal(t, "replaces", supported.Value())

	assert.Zero(t, h.dialogs.Len())
	assert.Zero(t, h.calls.Len())
}
