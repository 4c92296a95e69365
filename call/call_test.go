package call_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpbx/sipcore/call"
	"github.com/openpbx/sipcore/message"
)

func mustURI(t *testing.T, raw string) message.URI {
	t.Helper()
	u, err := message.ParseURI(raw)
	require.NoError(t, err)
	return u
}

const offerSendRecv = "v=0\r\no=alice 1 1 IN IP4 192.0.2.5\r\ns=-\r\nt=0 0\r\nm=audio 4000 RTP/AVP 0\r\na=sendrecv\r\n"

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	s := call.New("call1", "alice@localhost", "bob@localhost", mustURI(t, "sip:alice@192.0.2.5"), []byte(offerSendRecv))
	assert.Equal(t, call.StateInitiating, s.State())
	assert.True(t, s.AnsweredAt().IsZero())

	require.NoError(t, s.Ring())
	assert.Equal(t, call.StateRinging, s.State())

	require.NoError(t, s.Answer(mustURI(t, "sip:bob@192.0.2.9"), []byte(offerSendRecv)))
	assert.Equal(t, call.StateAnswered, s.State())
	assert.False(t, s.AnsweredAt().IsZero())
	assert.Equal(t, call.HoldActive, s.HoldState())

	require.NoError(t, s.Hangup())
	assert.Equal(t, call.StateTerminating, s.State())

	require.NoError(t, s.Terminate())
	assert.Equal(t, call.StateTerminated, s.State())
	assert.False(t, s.EndedAt().IsZero())
}

func TestCancelBeforeAnswerTerminatesDirectly(t *testing.T) {
	t.Parallel()

	s := call.New("call2", "alice@localhost", "bob@localhost", mustURI(t, "sip:alice@192.0.2.5"), []byte(offerSendRecv))
	require.NoError(t, s.Ring())
	require.NoError(t, s.CancelBeforeAnswer())
	assert.Equal(t, call.StateTerminated, s.State())
}

func TestCancelBeforeAnswerRejectedAfterAnswer(t *testing.T) {
	t.Parallel()

	s := call.New("call3", "alice@localhost", "bob@localhost", mustURI(t, "sip:alice@192.0.2.5"), []byte(offerSendRecv))
	require.NoError(t, s.Answer(mustURI(t, "sip:bob@192.0.2.9"), []byte(offerSendRecv)))
	assert.Error(t, s.CancelBeforeAnswer())
}

func TestHoldResumeDirectionTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		offer, answer call.Direction
		want          call.HoldState
	}{
		{call.DirSendRecv, call.DirSendRecv, call.HoldActive},
		{call.DirSendOnly, call.DirRecvOnly, call.HoldRemote},
		{call.DirRecvOnly, call.DirSendOnly, call.HoldLocal},
		{call.DirInactive, call.DirInactive, call.HoldBoth},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, call.DeriveHoldState(tc.offer, tc.answer))
	}
}

func TestAnswerDirectionIsInverse(t *testing.T) {
	t.Parallel()

	assert.Equal(t, call.DirRecvOnly, call.AnswerDirection(call.DirSendOnly))
	assert.Equal(t, call.DirSendOnly, call.AnswerDirection(call.DirRecvOnly))
	assert.Equal(t, call.DirSendRecv, call.AnswerDirection(call.DirSendRecv))
	assert.Equal(t, call.DirInactive, call.AnswerDirection(call.DirInactive))
}

func TestApplyReInviteHold(t *testing.T) {
	t.Parallel()

	s := call.New("call4", "alice@localhost", "bob@localhost", mustURI(t, "sip:alice@192.0.2.5"), []byte(offerSendRecv))
	require.NoError(t, s.Answer(mustURI(t, "sip:bob@192.0.2.9"), []byte(offerSendRecv)))

	holdOffer := []byte("v=0\r\no=alice 1 2 IN IP4 192.0.2.5\r\ns=-\r\nt=0 0\r\nm=audio 4000 RTP/AVP 0\r\na=sendonly\r\n")
	answer, hold := s.ApplyReInvite(holdOffer)
	assert.Equal(t, call.HoldRemote, hold)
	assert.Equal(t, call.HoldRemote, s.HoldState())
	assert.Contains(t, string(answer), "a=recvonly")
}

func TestTablePutGetRemove(t *testing.T) {
	t.Parallel()

	tbl := call.NewTable()
	s := call.New("call5", "alice@localhost", "bob@localhost", mustURI(t, "sip:alice@192.0.2.5"), []byte(offerSendRecv))
	tbl.Put(s)

	got, ok := tbl.Get("call5")
	require.True(t, ok)
	assert.Same(t, s, got)

	assert.Len(t, tbl.ByAOR("alice@localhost"), 1)

	tbl.Remove("call5")
	_, ok = tbl.Get("call5")
	assert.False(t, ok)
}
