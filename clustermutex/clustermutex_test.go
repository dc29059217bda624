package clustermutex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMutexTryAcquireAndRelease(t *testing.T) {
	m := New()
	require.True(t, m.TryAcquire(50*time.Millisecond))
	m.Release()
	require.True(t, m.TryAcquire(50*time.Millisecond))
	m.Release()
}

func TestMutexTryAcquireFailsWhileHeld(t *testing.T) {
	m := New()
	require.True(t, m.TryAcquire(50*time.Millisecond))
	defer m.Release()
	require.False(t, m.TryAcquire(10*time.Millisecond))
}

func TestManagerPerGroupTakeOverThrottle(t *testing.T) {
	mgr := NewManager()
	require.True(t, mgr.TryStartTakeOver(0))
	require.False(t, mgr.TryStartTakeOver(0))
	// a different group is independent.
	require.True(t, mgr.TryStartTakeOver(1))
	mgr.EndTakeOver(0)
	require.True(t, mgr.TryStartTakeOver(0))
}
