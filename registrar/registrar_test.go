package registrar_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpbx/sipcore/registrar"
)

func TestBindAndLookup(t *testing.T) {
	t.Parallel()

	r := registrar.New()
	require.NoError(t, r.Bind("alice@example.com", "sip:alice@192.0.2.5:5060", time.Hour, "call-1", 1))

	bindings := r.Lookup("alice@example.com")
	require.Len(t, bindings, 1)
	assert.Equal(t, "sip:alice@192.0.2.5:5060", bindings[0].ContactURI)
	assert.True(t, r.IsRegistered("alice@example.com"))
}

func TestBindIsCaseInsensitiveOnAOR(t *testing.T) {
	t.Parallel()

	r := registrar.New()
	require.NoError(t, r.Bind("Alice@Example.com", "sip:alice@192.0.2.5", time.Hour, "call-1", 1))
	assert.True(t, r.IsRegistered("alice@example.com"))
}

func TestBindRejectsStaleCSeq(t *testing.T) {
	t.Parallel()

	r := registrar.New()
	require.NoError(t, r.Bind("alice@example.com", "sip:alice@192.0.2.5", time.Hour, "call-1", 5))
	err := r.Bind("alice@example.com", "sip:alice@192.0.2.5", time.Hour, "call-1", 5)
	assert.ErrorIs(t, err, registrar.ErrStaleBinding)

	// A different call-id (new registering device) is always accepted.
	require.NoError(t, r.Bind("alice@example.com", "sip:alice@192.0.2.5", time.Hour, "call-2", 1))
}

func TestBindExpiresZeroRemovesBinding(t *testing.T) {
	t.Parallel()

	r := registrar.New()
	require.NoError(t, r.Bind("alice@example.com", "sip:alice@192.0.2.5", time.Hour, "call-1", 1))
	require.NoError(t, r.Bind("alice@example.com", "sip:alice@192.0.2.5", 0, "call-1", 2))
	assert.False(t, r.IsRegistered("alice@example.com"))
}

func TestLookupSortsByRegisteredAtDescending(t *testing.T) {
	t.Parallel()

	r := registrar.New()
	require.NoError(t, r.Bind("alice@example.com", "sip:alice@old", time.Hour, "call-1", 1))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, r.Bind("alice@example.com", "sip:alice@new", time.Hour, "call-2", 1))

	bindings := r.Lookup("alice@example.com")
	require.Len(t, bindings, 2)
	assert.Equal(t, "sip:alice@new", bindings[0].ContactURI)
	assert.Equal(t, "sip:alice@old", bindings[1].ContactURI)
}

func TestReapRemovesExpiredBindings(t *testing.T) {
	t.Parallel()

	r := registrar.New()
	require.NoError(t, r.Bind("alice@example.com", "sip:alice@192.0.2.5", time.Millisecond, "call-1", 1))
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 1, r.Reap())
	assert.False(t, r.IsRegistered("alice@example.com"))
}

func TestRemoveAllClearsBindings(t *testing.T) {
	t.Parallel()

	r := registrar.New()
	require.NoError(t, r.Bind("alice@example.com", "sip:alice@a", time.Hour, "call-1", 1))
	require.NoError(t, r.Bind("alice@example.com", "sip:alice@b", time.Hour, "call-1", 2))

	r.RemoveAll("alice@example.com")
	assert.False(t, r.IsRegistered("alice@example.com"))
}
