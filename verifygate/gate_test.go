package verifygate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestCommitGCIImmediateWhenUnblocked(t *testing.T) {
	g := New()
	g.SetCurrentGCI(42)
	gci, immediate, wait := g.RequestCommitGCI()
	require.True(t, immediate)
	require.Nil(t, wait)
	require.Equal(t, uint64(42), gci)
}

func TestRequestCommitGCIQueuesWhileBlocked(t *testing.T) {
	g := New()
	g.SetCurrentGCI(10)
	g.SetBlocked(true)

	_, immediate, wait := g.RequestCommitGCI()
	require.False(t, immediate)
	require.NotNil(t, wait)
	require.Equal(t, 1, g.PendingCount())

	// still queued even after unblocking until DrainOne runs.
	g.SetBlocked(false)
	require.Equal(t, 1, g.PendingCount())

	require.True(t, g.DrainOne())
	require.Equal(t, uint64(10), <-wait)
	require.False(t, g.DrainOne())
}

func TestRequestsQueueBehindEachOtherOnceAnyIsQueued(t *testing.T) {
	g := New()
	g.SetBlocked(true)
	_, _, wait1 := g.RequestCommitGCI()
	g.SetBlocked(false)
	// a second request arrives after unblock but before DrainOne catches
	// up: it must still queue behind the first (FIFO), not jump ahead.
	_, immediate2, wait2 := g.RequestCommitGCI()
	require.False(t, immediate2)

	g.SetCurrentGCI(99)
	require.True(t, g.DrainOne())
	require.Equal(t, uint64(99), <-wait1)
	require.True(t, g.DrainOne())
	require.Equal(t, uint64(99), <-wait2)
	require.False(t, g.DrainOne())
}
