package subscription_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpbx/sipcore/dialog"
	"github.com/openpbx/sipcore/subscription"
)

func TestNewRejectsUnsupportedEvent(t *testing.T) {
	t.Parallel()

	_, err := subscription.New(dialog.ID{CallID: "c1"}, subscription.EventPackage("nonsense"), "alice@localhost", "bob@localhost", time.Minute)
	assert.ErrorIs(t, err, subscription.ErrUnsupportedEvent)
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	s, err := subscription.New(dialog.ID{CallID: "c1"}, subscription.EventRefer, "bob@localhost", "bob@localhost", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatePending, s.State())

	s.Activate()
	assert.Equal(t, subscription.StateActive, s.State())

	s.Terminate()
	assert.Equal(t, subscription.StateTerminated, s.State())
}

func TestExpiredAndRefresh(t *testing.T) {
	t.Parallel()

	s, err := subscription.New(dialog.ID{CallID: "c1"}, subscription.EventPresence, "alice@localhost", "bob@localhost", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	assert.True(t, s.Expired(time.Now()))

	s.Refresh(time.Minute)
	assert.False(t, s.Expired(time.Now()))
}

func TestTableByTargetAndReap(t *testing.T) {
	t.Parallel()

	tbl := subscription.NewTable()
	active, err := subscription.New(dialog.ID{CallID: "c1"}, subscription.EventReg, "watcher1@localhost", "bob@localhost", time.Minute)
	require.NoError(t, err)
	tbl.Put(active)

	expired, err := subscription.New(dialog.ID{CallID: "c2"}, subscription.EventReg, "watcher2@localhost", "bob@localhost", time.Millisecond)
	require.NoError(t, err)
	tbl.Put(expired)

	time.Sleep(2 * time.Millisecond)

	targets := tbl.ByTarget("bob@localhost")
	assert.Len(t, targets, 2)

	removed := tbl.ReapExpired(time.Now())
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, tbl.Len())

	_, ok := tbl.Get(dialog.ID{CallID: "c1"})
	assert.True(t, ok)
}
