package sipcore_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openpbx/sipcore"
)

func TestStatusForMapsSentinels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 200},
		{"parse", sipcore.ErrParse, 400},
		{"loop", sipcore.ErrLoopDetected, 483},
		{"no dialog", sipcore.ErrNoDialog, 481},
		{"internal", sipcore.ErrInternal, 500},
		{"unknown", errors.New("boom"), 500},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, sipcore.StatusFor(c.err))
		})
	}
}

func TestStatusForUnwrapsWrappedSentinel(t *testing.T) {
	t.Parallel()

	wrapped := errors.Join(errors.New("context"), sipcore.ErrNoDialog)
	assert.Equal(t, 481, sipcore.StatusFor(wrapped))
}
