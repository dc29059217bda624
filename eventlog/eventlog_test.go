package eventlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"distcoord/configs"
	"distcoord/model"
)

func withWAL(t *testing.T, enabled bool) {
	t.Helper()
	prev := configs.UseWAL
	configs.UseWAL = enabled
	t.Cleanup(func() { configs.UseWAL = prev })
}

func TestOpenDisabledReturnsNilLog(t *testing.T) {
	withWAL(t, false)
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	require.Nil(t, l)

	// every method must be a safe no-op on a nil *Log
	l.RecordGcpSave(1, 2)
	l.RecordLcpRoundEnd(3)
	l.RecordTakeoverEnd(1, 2)
	require.NoError(t, l.Close())
}

func TestAppendAndFlush(t *testing.T) {
	withWAL(t, true)
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, l)

	l.RecordGcpSave(10, 20)
	l.RecordLcpRoundEnd(5)
	l.RecordTakeoverEnd(model.NodeID(2), model.NodeID(4))

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.lsn == l.lastFlushed
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Close())
}
