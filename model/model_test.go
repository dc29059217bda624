package model

import (
	"testing"

	"distcoord/configs"

	"github.com/magiconair/properties/assert"
	"github.com/stretchr/testify/require"
)

func TestReplicaCrashIntervalsMonotone(t *testing.T) {
	r := NewReplica(1, 10)
	assert.Equal(t, r.IsAlive(), true)
	r.RecordCrash(20)
	assert.Equal(t, r.IsAlive(), false)
	r.RecordRestart(25)
	assert.Equal(t, r.IsAlive(), true)

	require.Equal(t, uint8(2), r.NoCrashedReplicas)
	for i := uint8(1); i < r.NoCrashedReplicas; i++ {
		require.Greater(t, r.CreateGci[i], r.CreateGci[i-1])
		require.GreaterOrEqual(t, r.ReplicaLastGci[i-1], r.CreateGci[i-1])
	}
}

func TestReplicaMaxCrashedReplicasOverflowIsFatal(t *testing.T) {
	r := NewReplica(1, 0)
	gci := uint64(1)
	for i := 0; i < configs.MaxCrashedReplicas-1; i++ {
		r.RecordCrash(gci)
		gci++
		r.RecordRestart(gci)
		gci++
	}
	r.RecordCrash(gci)
	gci++
	require.Panics(t, func() {
		r.RecordRestart(gci)
	})
}

func TestReplicaGCHeadAndTail(t *testing.T) {
	r := NewReplica(1, 0)
	r.RecordCrash(10)
	r.RecordRestart(15)
	r.RecordCrash(20)
	r.RecordRestart(25)

	// oldest interval [0,10] is gc-able once oldestRestorableGCI passes it.
	ok := r.GCHead(11)
	require.True(t, ok)
	require.Equal(t, uint8(2), r.NoCrashedReplicas)

	// a rollback below the last interval's createGci discards it.
	r.GCTail(20)
	require.Equal(t, uint8(1), r.NoCrashedReplicas)
}

func TestFragmentPrimaryAlwaysActiveNodesZero(t *testing.T) {
	pool := NewPool[Replica](8)
	f := NewFragment(1, 0, 1)
	h := pool.Alloc()
	*pool.Get(h) = *NewReplica(1, 0)
	f.PushStored(pool, h)

	require.Equal(t, NodeID(1), f.Primary())
	f.InsertBackup(2)
	require.Equal(t, []NodeID{1, 2}, f.ActiveNodes)
	require.Equal(t, NodeID(1), f.Primary())
}

func TestPoolExhaustionIsFatal(t *testing.T) {
	pool := NewPool[Replica](2)
	pool.Alloc()
	pool.Alloc()
	require.Panics(t, func() { pool.Alloc() })
}

func TestReplicaBestStartGci(t *testing.T) {
	r := NewReplica(1, 5)
	r.RecordLcp(0, 100, 10, 12)
	r.RecordLcp(1, 101, 20, 22)
	gci, lcpNo, lcpID, found := r.BestStartGci(15)
	require.True(t, found)
	require.Equal(t, uint64(10), gci)
	require.Equal(t, uint8(0), lcpNo)
	require.Equal(t, uint32(100), lcpID)

	_, _, _, found = r.BestStartGci(1)
	require.False(t, found)
}
