package dialog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpbx/sipcore/dialog"
	"github.com/openpbx/sipcore/message"
)

func mustURI(t *testing.T, raw string) message.URI {
	t.Helper()
	u, err := message.ParseURI(raw)
	require.NoError(t, err)
	return u
}

func TestDialogLifecycle(t *testing.T) {
	t.Parallel()

	id := dialog.ID{CallID: "call1", LocalTag: "local", RemoteTag: "remote"}
	d := dialog.New(id, mustURI(t, "sip:alice@localhost"), mustURI(t, "sip:bob@localhost"), mustURI(t, "sip:bob@192.0.2.5"))
	assert.Equal(t, dialog.StateEarly, d.State())

	require.NoError(t, d.Confirm())
	assert.Equal(t, dialog.StateConfirmed, d.State())

	require.NoError(t, d.Terminate())
	assert.Equal(t, dialog.StateTerminated, d.State())
}

func TestRemoteSeqNeverDecreases(t *testing.T) {
	t.Parallel()

	d := dialog.New(dialog.ID{CallID: "call1"}, message.URI{}, message.URI{}, message.URI{})
	require.NoError(t, d.CheckRemoteSeq(5))
	require.NoError(t, d.CheckRemoteSeq(6))
	assert.ErrorIs(t, d.CheckRemoteSeq(6), dialog.ErrSeqRegression)
	assert.ErrorIs(t, d.CheckRemoteSeq(4), dialog.ErrSeqRegression)
}

func TestTableMatchRequest(t *testing.T) {
	t.Parallel()

	table := dialog.NewTable()
	id := dialog.ID{CallID: "call1", LocalTag: "uas-tag", RemoteTag: "uac-tag"}
	d := dialog.New(id, mustURI(t, "sip:bob@localhost"), mustURI(t, "sip:alice@localhost"), mustURI(t, "sip:alice@192.0.2.5"))
	table.Put(d)

	req := message.NewRequest(message.MethodBye, mustURI(t, "sip:bob@192.0.2.5"))
	req.AddHeader("Call-ID", "call1")
	req.AddHeader("From", "<sip:alice@localhost>;tag=uac-tag")
	req.AddHeader("To", "<sip:bob@localhost>;tag=uas-tag")

	got, ok := table.MatchRequest(req, true)
	require.True(t, ok)
	assert.Equal(t, id, got.ID())
}
