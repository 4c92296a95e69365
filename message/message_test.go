package message_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpbx/sipcore/message"
)

const rawRegister = "REGISTER sip:localhost SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 192.0.2.5:5060;branch=z9hG4bK776asdhds\r\n" +
	"Max-Forwards: 70\r\n" +
	"To: <sip:alice@localhost>\r\n" +
	"From: <sip:alice@localhost>;tag=1928301774\r\n" +
	"Call-ID: a84b4c76e66710@192.0.2.5\r\n" +
	"CSeq: 1 REGISTER\r\n" +
	"Contact: <sip:alice@192.0.2.5:5060>\r\n" +
	"Expires: 3600\r\n" +
	"Content-Length: 0\r\n\r\n"

func TestParseRequestStartLine(t *testing.T) {
	t.Parallel()

	msg, err := message.Parse([]byte(rawRegister))
	require.NoError(t, err)

	req, ok := msg.(*message.Request)
	require.True(t, ok)
	assert.Equal(t, message.MethodRegister, req.Method())
	assert.Equal(t, "localhost", req.RequestURI().Host)

	callID, ok := req.CallID()
	require.True(t, ok)
	assert.Equal(t, "a84b4c76e66710@192.0.2.5", callID)

	cseq, ok := req.CSeq()
	require.True(t, ok)
	assert.Equal(t, uint32(1), cseq.Seq)
	assert.Equal(t, message.MethodRegister, cseq.Method)

	from, ok := req.From()
	require.True(t, ok)
	tag, ok := from.Tag()
	require.True(t, ok)
	assert.Equal(t, "1928301774", tag)

	mf, ok := req.MaxForwards()
	require.True(t, ok)
	assert.Equal(t, 70, mf)

	hops := req.Via()
	require.Len(t, hops, 1)
	assert.Equal(t, "UDP", hops[0].Transport)
	assert.Equal(t, "192.0.2.5", hops[0].Host)
	branch, ok := hops[0].Branch()
	require.True(t, ok)
	assert.Equal(t, "z9hG4bK776asdhds", branch)
}

func TestParseResponseStartLine(t *testing.T) {
	t.Parallel()

	raw := "SIP/2.0 200 OK\r\nVia: SIP/2.0/UDP host\r\nCall-ID: x\r\nCSeq: 1 REGISTER\r\n" +
		"From: <sip:a@b>;tag=1\r\nTo: <sip:a@b>;tag=2\r\nContent-Length: 0\r\n\r\n"
	msg, err := message.Parse([]byte(raw))
	require.NoError(t, err)

	resp, ok := msg.(*message.Response)
	require.True(t, ok)
	assert.Equal(t, 200, resp.StatusCode())
	assert.Equal(t, "OK", resp.Reason())
	assert.True(t, resp.IsSuccess())
}

// TestRoundTrip exercises spec invariant 7: serialization of parse(x) is an
// equivalent message (headers set-equal, body byte-equal).
func TestRoundTrip(t *testing.T) {
	t.Parallel()

	msg, err := message.Parse([]byte(rawRegister))
	require.NoError(t, err)

	reparsed, err := message.Parse([]byte(msg.String()))
	require.NoError(t, err)

	origReq := msg.(*message.Request)
	newReq := reparsed.(*message.Request)

	assert.Equal(t, origReq.Method(), newReq.Method())
	assert.True(t, origReq.RequestURI().Equal(newReq.RequestURI()))
	assert.Empty(t, cmp.Diff(origReq.Body(), newReq.Body()))

	for _, name := range []string{"via", "from", "to", "call-id", "cseq", "contact"} {
		origVals := headerValues(origReq, name)
		newVals := headerValues(newReq, name)
		assert.ElementsMatch(t, origVals, newVals, "header %s", name)
	}
}

func headerValues(msg message.Message, name string) []string {
	var out []string
	for _, h := range msg.Headers(name) {
		out = append(out, h.Value())
	}
	return out
}

func TestNewResponseAddsToTag(t *testing.T) {
	t.Parallel()

	msg, err := message.Parse([]byte(rawRegister))
	require.NoError(t, err)
	req := msg.(*message.Request)

	resp := req.NewResponse(200, "OK")
	to, ok := resp.To()
	require.True(t, ok)
	_, hasTag := to.Tag()
	assert.True(t, hasTag)

	// Via stack must be echoed verbatim.
	assert.Equal(t, req.Via(), resp.Via())

	callID, _ := resp.CallID()
	origCallID, _ := req.CallID()
	assert.Equal(t, origCallID, callID)
}

func TestCompactHeaderForms(t *testing.T) {
	t.Parallel()

	raw := strings.ReplaceAll(rawRegister, "Call-ID", "i")
	raw = strings.ReplaceAll(raw, "Contact", "m")
	msg, err := message.Parse([]byte(raw))
	require.NoError(t, err)

	callID, ok := msg.CallID()
	require.True(t, ok)
	assert.Equal(t, "a84b4c76e66710@192.0.2.5", callID)
	assert.True(t, msg.HasHeader("Contact"))
}

func TestAuthorizationRoundTrip(t *testing.T) {
	t.Parallel()

	raw := `Digest username="alice", realm="localhost", nonce="abc123", ` +
		`uri="sip:localhost", response="deadbeef", algorithm=MD5, cnonce="xyz", nc=00000001, qop=auth`
	auth, err := message.ParseAuthorization(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", auth.Username)
	assert.Equal(t, "localhost", auth.Realm)
	assert.Equal(t, "auth", auth.QOP)

	rendered, err := message.ParseAuthorization(auth.String())
	require.NoError(t, err)
	assert.Equal(t, auth, rendered)
}
