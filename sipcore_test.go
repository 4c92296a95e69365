package sipcore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpbx/sipcore"
)

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	core := sipcore.New(sipcore.Config{})

	require.NotNil(t, core.Registrar())
	require.NotNil(t, core.CallTable())
	assert.False(t, core.Registrar().IsRegistered("anyone@localhost"))
	assert.Empty(t, core.CallTable().Active())
}

func TestShutdownRejectsFurtherSend(t *testing.T) {
	t.Parallel()

	core := sipcore.New(sipcore.Config{DrainTimeout: 100 * time.Millisecond})
	require.NoError(t, core.Listen())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, core.Shutdown(ctx))

	err := core.Send(context.Background(), nil)
	assert.ErrorIs(t, err, sipcore.ErrInternal)
}
