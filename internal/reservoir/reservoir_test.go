package reservoir

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRequiresSession(t *testing.T) {
	r := New(1000, 0, 1)
	assert.Equal(t, Rejected, r.Add([]byte("sample")))

	r.MaybeStartSession()
	assert.Equal(t, Accepted, r.Add([]byte("sample")))
}

func TestRejectOversized(t *testing.T) {
	r := New(200, 0, 1)
	r.MaybeStartSession()
	assert.Equal(t, Rejected, r.Add(make([]byte, 201)))
	assert.Equal(t, Rejected, r.Add(nil))
}

func TestWarmupRespectsBudget(t *testing.T) {
	r := New(300, 0, 1)
	r.MaybeStartSession()

	require.Equal(t, Accepted, r.Add(make([]byte, 150)))
	require.Equal(t, Accepted, r.Add(make([]byte, 150)))

	stored, used := r.Stats()
	assert.Equal(t, 2, stored)
	assert.Equal(t, 300, used)

	// Third add overflows the budget: the reservoir freezes and switches to
	// replacement, so stored stays at 2 and bytes never exceed the budget.
	for i := 0; i < 50; i++ {
		r.Add(make([]byte, 150))
		stored, used = r.Stats()
		assert.Equal(t, 2, stored)
		assert.LessOrEqual(t, used, 300)
	}
	assert.True(t, r.Ready())
}

func TestReadyWhenSlotsFull(t *testing.T) {
	// budget 500 -> 5 slots of >=100 bytes each
	r := New(500, 0, 1)
	r.MaybeStartSession()
	assert.False(t, r.Ready())

	for i := 0; i < 5; i++ {
		require.Equal(t, Accepted, r.Add(make([]byte, 100)))
	}
	assert.True(t, r.Ready())
}

func TestDurationBoundedSession(t *testing.T) {
	r := New(1000, time.Minute, 1)
	base := time.Unix(1700000000, 0)
	r.now = func() time.Time { return base }

	r.MaybeStartSession()
	require.Equal(t, Accepted, r.Add(make([]byte, 100)))
	assert.True(t, r.Active())
	assert.False(t, r.Ready(), "window not elapsed")

	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.False(t, r.Active())
	assert.True(t, r.Ready())
}

func TestSnapshotDrainsAndResets(t *testing.T) {
	r := New(1000, 0, 7)
	r.MaybeStartSession()

	payloads := [][]byte{
		bytes.Repeat([]byte{'a'}, 120),
		bytes.Repeat([]byte{'b'}, 130),
		bytes.Repeat([]byte{'c'}, 140),
	}
	for _, p := range payloads {
		require.Equal(t, Accepted, r.Add(p))
	}

	flat, sizes := r.Snapshot()
	require.Len(t, sizes, 3)
	assert.Equal(t, []int{120, 130, 140}, sizes)
	assert.Len(t, flat, 390)
	assert.Equal(t, payloads[0], flat[:120])

	// Session is closed after snapshot.
	stored, used := r.Stats()
	assert.Equal(t, 0, stored)
	assert.Equal(t, 0, used)
	assert.False(t, r.Active())
	assert.Equal(t, Rejected, r.Add([]byte("late")))

	// Empty snapshot is well-defined.
	flat, sizes = r.Snapshot()
	assert.Nil(t, flat)
	assert.Nil(t, sizes)
}

func TestAlgorithmRKeepsK(t *testing.T) {
	r := New(500, 0, 99)
	r.MaybeStartSession()

	for i := 0; i < 5; i++ {
		require.Equal(t, Accepted, r.Add(make([]byte, 100)))
	}

	accepted := 0
	for i := 0; i < 10000; i++ {
		if r.Add(make([]byte, 100)) == Accepted {
			accepted++
		}
	}

	stored, used := r.Stats()
	assert.Equal(t, 5, stored, "k is fixed once frozen")
	assert.LessOrEqual(t, used, 500)
	// Replacement must happen sometimes but not always.
	assert.Greater(t, accepted, 0)
	assert.Less(t, accepted, 10000)
}

func TestMaybeStartSessionIdempotent(t *testing.T) {
	r := New(1000, 0, 1)
	r.MaybeStartSession()
	require.Equal(t, Accepted, r.Add(make([]byte, 100)))

	r.MaybeStartSession() // no-op while a session is open
	stored, _ := r.Stats()
	assert.Equal(t, 1, stored)
}
