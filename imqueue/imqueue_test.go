package imqueue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpbx/sipcore/imqueue"
)

func TestEnqueueDrainFIFOOrder(t *testing.T) {
	t.Parallel()

	q := imqueue.New(10)
	q.Enqueue(imqueue.Pending{From: "alice@localhost", To: "bob@localhost", Body: []byte("one")})
	q.Enqueue(imqueue.Pending{From: "alice@localhost", To: "bob@localhost", Body: []byte("two")})
	q.Enqueue(imqueue.Pending{From: "alice@localhost", To: "bob@localhost", Body: []byte("three")})

	got := q.Drain("bob@localhost")
	require.Len(t, got, 3)
	assert.Equal(t, "one", string(got[0].Body))
	assert.Equal(t, "two", string(got[1].Body))
	assert.Equal(t, "three", string(got[2].Body))
}

func TestDrainIsExactlyOnce(t *testing.T) {
	t.Parallel()

	q := imqueue.New(10)
	q.Enqueue(imqueue.Pending{From: "alice@localhost", To: "bob@localhost", Body: []byte("hi")})

	first := q.Drain("bob@localhost")
	require.Len(t, first, 1)

	second := q.Drain("bob@localhost")
	assert.Empty(t, second)
}

func TestOverflowDropsOldest(t *testing.T) {
	t.Parallel()

	q := imqueue.New(2)
	d1 := q.Enqueue(imqueue.Pending{To: "bob@localhost", Body: []byte("one")})
	d2 := q.Enqueue(imqueue.Pending{To: "bob@localhost", Body: []byte("two")})
	d3 := q.Enqueue(imqueue.Pending{To: "bob@localhost", Body: []byte("three")})

	assert.False(t, d1)
	assert.False(t, d2)
	assert.True(t, d3)

	got := q.Drain("bob@localhost")
	require.Len(t, got, 2)
	assert.Equal(t, "two", string(got[0].Body))
	assert.Equal(t, "three", string(got[1].Body))
}

func TestLenTracksUndrainedCount(t *testing.T) {
	t.Parallel()

	q := imqueue.New(10)
	assert.Equal(t, 0, q.Len("bob@localhost"))
	q.Enqueue(imqueue.Pending{To: "bob@localhost", Body: []byte("hi")})
	assert.Equal(t, 1, q.Len("bob@localhost"))
	q.Drain("bob@localhost")
	assert.Equal(t, 0, q.Len("bob@localhost"))
}

func TestIndependentRecipients(t *testing.T) {
	t.Parallel()

	q := imqueue.New(10)
	q.Enqueue(imqueue.Pending{To: "alice@localhost", Body: []byte("a")})
	q.Enqueue(imqueue.Pending{To: "bob@localhost", Body: []byte("b")})

	assert.Len(t, q.Drain("alice@localhost"), 1)
	assert.Equal(t, 1, q.Len("bob@localhost"))
}
