package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpbx/sipcore/message"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func buildRequest(t *testing.T, method message.Method, transport string, port int) *message.Request {
	t.Helper()
	uri, err := message.ParseURI("sip:bob@127.0.0.1:" + itoa(port))
	require.NoError(t, err)
	req := message.NewRequest(method, uri)
	req.AddHeader("Via", "SIP/2.0/"+transport+" 127.0.0.1:"+itoa(port)+";branch=z9hG4bK-test")
	req.AddHeader("Call-ID", "call1")
	req.AddHeader("From", "<sip:alice@127.0.0.1>;tag=fromtag")
	req.AddHeader("To", "<sip:bob@127.0.0.1>")
	req.AddHeader("CSeq", "1 "+string(method))
	req.AddHeader("Max-Forwards", "70")
	return req
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestUDPLayerRoundTrip(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	received := make(chan *message.Request, 1)

	layer := New("127.0.0.1", noopLogger(), nil)
	layer.OnRequest(func(_ context.Context, req *message.Request) {
		received <- req
	})
	require.NoError(t, layer.Listen("udp", "127.0.0.1:"+itoa(port)))
	t.Cleanup(func() { _ = layer.Close() })

	req := buildRequest(t, message.MethodOptions, "UDP", port)
	require.NoError(t, layer.Send(context.Background(), req))

	select {
	case got := <-received:
		callID, _ := got.CallID()
		assert.Equal(t, "call1", callID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request")
	}
}

func TestTCPLayerRoundTrip(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	received := make(chan *message.Request, 1)

	layer := New("127.0.0.1", noopLogger(), nil)
	layer.OnRequest(func(_ context.Context, req *message.Request) {
		received <- req
	})
	require.NoError(t, layer.Listen("tcp", "127.0.0.1:"+itoa(port)))
	t.Cleanup(func() { _ = layer.Close() })

	req := buildRequest(t, message.MethodRegister, "TCP", port)
	require.NoError(t, layer.Send(context.Background(), req))

	select {
	case got := <-received:
		cseq, _ := got.CSeq()
		assert.Equal(t, uint32(1), cseq.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request")
	}
}

func TestSendRejectsOversizedUDPRequest(t *testing.T) {
	t.Parallel()

	layer := New("127.0.0.1", noopLogger(), nil)
	req := buildRequest(t, message.MethodInvite, "UDP", 5060)
	req.SetBody(make([]byte, MaxUDPMessageSize+1), true)

	err := layer.Send(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestUDPListenerRejectsOversizedDatagram(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	layer := New("127.0.0.1", noopLogger(), nil)
	layer.OnRequest(func(_ context.Context, _ *message.Request) {
		t.Error("oversized datagram should not reach onRequest")
	})
	require.NoError(t, layer.Listen("udp", "127.0.0.1:"+itoa(port)))
	t.Cleanup(func() { _ = layer.Close() })

	conn, err := net.Dial("udp", "127.0.0.1:"+itoa(port))
	require.NoError(t, err)
	defer conn.Close()

	oversized := make([]byte, MaxUDPMessageSize+1)
	copy(oversized, "INVITE sip:bob@127.0.0.1 SIP/2.0\r\n")
	_, err = conn.Write(oversized)
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "513")
}

func TestOnErrorRespondsWithBadRequestOverUDP(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	layer := New("127.0.0.1", noopLogger(), nil)
	layer.OnError(func(_ error, raddr, _ net.Addr) {
		_ = layer.RespondBadRequest(raddr)
	})
	require.NoError(t, layer.Listen("udp", "127.0.0.1:"+itoa(port)))
	t.Cleanup(func() { _ = layer.Close() })

	conn, err := net.Dial("udp", "127.0.0.1:"+itoa(port))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not a sip message at all\r\n\r\n"))
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "400")
}

func TestIsReliable(t *testing.T) {
	t.Parallel()

	layer := New("127.0.0.1", noopLogger(), nil)
	assert.True(t, layer.IsReliable("tcp"))
	assert.True(t, layer.IsReliable("tls"))
	assert.False(t, layer.IsReliable("udp"))
}
