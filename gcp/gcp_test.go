package gcp

import (
	"path/filepath"
	"testing"

	"distcoord/configs"
	"distcoord/dcerr"
	"distcoord/model"
	"distcoord/signal"
	"distcoord/sysfile"
	"distcoord/verifygate"

	"github.com/stretchr/testify/require"
)

func TestMergeTableInitialRow(t *testing.T) {
	s, err := Merge(Initial, Ready)
	require.NoError(t, err)
	require.Equal(t, AllReady, s)

	s, err = Merge(Initial, TcFinished)
	require.NoError(t, err)
	require.Equal(t, CommitComplete, s)
}

func TestMergeContradictionFailsFast(t *testing.T) {
	_, err := Merge(AllReady, CommitReceived)
	require.Error(t, err)

	_, err = Merge(CommitStarted, Ready)
	require.Error(t, err)
}

func TestMergeCommitStartedRowIsUnchanged(t *testing.T) {
	s, err := Merge(CommitStarted, TcFinished)
	require.NoError(t, err)
	require.Equal(t, CommitStarted, s)
}

func TestMergeAllFoldsInNodeOrder(t *testing.T) {
	states := map[uint32]ParticipantState{
		1: Ready,
		2: PrepareReceived,
	}
	s, err := MergeAll([]uint32{1, 2}, states)
	require.NoError(t, err)
	require.Equal(t, PrepStarted, s) // AllReady --Prep--> PrepStarted
}

func TestDriverFullCycleWritesSysfile(t *testing.T) {
	counters := signal.NewRegistry()
	gate := verifygate.New()
	d := NewDriver(counters, gate)

	nodes := []model.NodeID{1, 2, 3}
	var prepared []model.NodeID
	c := d.BeginPrepare(nodes, func(n model.NodeID, gci uint64) { prepared = append(prepared, n) })
	require.Len(t, prepared, 3)
	require.True(t, gate.Blocked())
	for _, n := range nodes {
		c.Clear(n)
	}
	require.True(t, c.Done())
	d.CompletePrepare(c)
	require.Equal(t, PhaseCommitting, d.Phase)

	c2 := d.BeginCommit(nodes, func(model.NodeID, uint64, uint64) {})
	require.False(t, gate.Blocked())
	for _, n := range nodes {
		c2.Clear(n)
	}
	d.CompleteCommit(c2)
	require.Equal(t, PhaseSaving, d.Phase)

	c3 := d.BeginSave(nodes, func(model.NodeID, uint64) {})
	for _, n := range nodes {
		c3.Clear(n)
	}

	dir1 := filepath.Join(t.TempDir(), "d1")
	dir2 := filepath.Join(t.TempDir(), "d2")
	store := sysfile.NewStore(dir1, dir2)
	sf := sysfile.New()
	require.NoError(t, d.CompleteSave(c3, store, sf, 1))
	require.Equal(t, PhaseIdle, d.Phase)
	require.Equal(t, d.OldGCI, sf.NewestRestorableGCI)

	got, err := store.Read()
	require.NoError(t, err)
	require.Equal(t, sf.NewestRestorableGCI, got.NewestRestorableGCI)
}

func TestDriverNodeFailureDuringPrepareSynthesizesReply(t *testing.T) {
	counters := signal.NewRegistry()
	gate := verifygate.New()
	d := NewDriver(counters, gate)

	nodes := []model.NodeID{1, 2, 3}
	c := d.BeginPrepare(nodes, func(model.NodeID, uint64) {})
	c.Clear(1)
	c.Clear(2)
	require.False(t, c.Done())

	completed := counters.FixUpNodeFailure(3)
	require.Len(t, completed, 1)
	require.True(t, c.Done())
}

func TestSampleMonitorDeclaresStuckAfterLimit(t *testing.T) {
	counters := signal.NewRegistry()
	gate := verifygate.New()
	d := NewDriver(counters, gate)
	d.BeginPrepare([]model.NodeID{1}, func(model.NodeID, uint64) {})

	var err error
	for i := 0; i < configs.GCPStuckSampleLimit; i++ {
		err = d.SampleMonitor()
		require.NoError(t, err)
	}
	err = d.SampleMonitor()
	require.Error(t, err)
	var fatal *dcerr.FatalError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, dcerr.ExitGcpStuck, fatal.ExitCode)
}
