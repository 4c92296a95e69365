package sipcore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpbx/sipcore"
	"github.com/openpbx/sipcore/auth"
)

func TestMemoryUserStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := sipcore.NewMemoryUserStore()
	cred := auth.Credential{
		Username: "alice",
		Realm:    "example.com",
		HA1:      auth.ComputeHA1(auth.MD5, "alice", "example.com", "secret"),
		Enabled:  true,
	}
	store.Put(cred)

	got, found, err := store.Lookup(context.Background(), "alice", "example.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, cred, got)

	_, found, err = store.Lookup(context.Background(), "alice", "other.realm")
	require.NoError(t, err)
	assert.False(t, found)

	store.Remove("example.com", "alice")
	_, found, err = store.Lookup(context.Background(), "alice", "example.com")
	require.NoError(t, err)
	assert.False(t, found)
}
