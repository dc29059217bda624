package lcp

import (
	"testing"

	"distcoord/clustermutex"
	"distcoord/configs"
	"distcoord/model"
	"distcoord/registry"
	"distcoord/replicastore"
	"distcoord/signal"
	"distcoord/sysfile"
	"distcoord/tablestore"

	"github.com/stretchr/testify/require"
)

func addrOf(model.NodeID) string { return "" }

func newTestDriver(t *testing.T) (*Driver, *registry.Registry, *replicastore.Store) {
	t.Helper()
	reg := registry.New(1, 2)
	reg.RegisterFromConfig([]model.NodeID{1, 2, 3}, addrOf, 1)
	reg.FormNodeGroups()
	for _, n := range []model.NodeID{1, 2, 3} {
		reg.MarkAlive(n)
	}
	sfStore := sysfile.NewStore(t.TempDir(), t.TempDir())
	tStore := tablestore.NewStore(t.TempDir(), t.TempDir())
	d := NewDriver(clustermutex.NewManager(), signal.NewRegistry(), reg, sfStore, tStore)
	return d, reg, replicastore.New(64)
}

func oneFragTable(rs *replicastore.Store, primary model.NodeID) *model.Table {
	tbl := model.NewTable(1, 1)
	frag := model.NewFragment(1, 0, primary)
	rs.AddStored(frag, primary, 0)
	tbl.Fragments[0] = frag
	return tbl
}

func TestDueRequiresGcpSinceLastAndTimerElapsed(t *testing.T) {
	d, _, _ := newTestDriver(t)
	require.False(t, d.Due(false))

	d.OnGcpCompleted()
	require.False(t, d.Due(false), "timer has not elapsed yet")

	d.CTimer = 1 << d.ClcpDelayExp
	require.True(t, d.Due(false))
	require.False(t, d.Due(true), "GCP blocking suppresses a new round")
}

func TestImmediateBypassesGcpAndTimerGate(t *testing.T) {
	d, _, _ := newTestDriver(t)
	d.Immediate = true
	require.True(t, d.Due(false))
}

func TestBeginRoundBelowThresholdJustReschedules(t *testing.T) {
	d, _, rs := newTestDriver(t)
	tbl := oneFragTable(rs, 1)
	sf := sysfile.New()

	started, err := d.BeginRound([]*model.Table{tbl}, rs.Replicas, func() uint64 { return 0 }, configs.TcOpSizeThreshold, sf, []model.NodeID{1, 2, 3}, []model.NodeID{1, 2, 3})
	require.NoError(t, err)
	require.False(t, started)
	require.False(t, d.Ongoing)
}

func TestBeginRoundAboveThresholdStartsAndBumpsLatestLcpID(t *testing.T) {
	d, _, rs := newTestDriver(t)
	tbl := oneFragTable(rs, 1)
	sf := sysfile.New()

	started, err := d.BeginRound([]*model.Table{tbl}, rs.Replicas, func() uint64 { return configs.TcOpSizeThreshold }, configs.TcOpSizeThreshold, sf, []model.NodeID{1, 2, 3}, []model.NodeID{1, 2, 3})
	require.NoError(t, err)
	require.True(t, started)
	require.True(t, d.Ongoing)
	require.Equal(t, uint32(1), d.LatestLcpID)
	require.Equal(t, uint32(1), sf.LatestLcpID)
	require.NotNil(t, d.Walk)
}

func TestFullRoundWalksFragRepsAndCompletesOnBothBlocks(t *testing.T) {
	d, _, rs := newTestDriver(t)
	tbl := oneFragTable(rs, 1)
	sf := sysfile.New()

	started, err := d.BeginRound([]*model.Table{tbl}, rs.Replicas, func() uint64 { return configs.TcOpSizeThreshold }, configs.TcOpSizeThreshold, sf, []model.NodeID{1, 2, 3}, []model.NodeID{1, 2, 3})
	require.NoError(t, err)
	require.True(t, started)

	var issued []*model.LcpFragOrd
	var issuedReplica model.Handle
	done := d.Walk.Run(func(ord *model.LcpFragOrd, replica model.Handle) {
		issued = append(issued, ord)
		issuedReplica = replica
	})
	require.True(t, done)
	require.Len(t, issued, 1)
	require.Equal(t, uint32(1), issued[0].TableID)

	err = d.HandleFragRep(tbl, 0, 1, issuedReplica, rs.Replicas, issued[0].LcpNo, 5, 10, func(*model.LcpFragOrd, model.Handle) {})
	require.NoError(t, err)
	require.Equal(t, 0, tbl.Fragments[0].NoLcpReplicas)
	require.Equal(t, configs.TabLcpCompleted, tbl.LcpStatus)

	require.False(t, d.RoundDone())
	d.OnLcpCompleteRepLQH(1)
	d.OnLcpCompleteRepLQH(2)
	d.OnLcpCompleteRepLQH(3)
	require.False(t, d.RoundDone(), "DIH side still outstanding")
	d.OnLcpCompleteRepDIH(1)
	d.OnLcpCompleteRepDIH(2)
	d.OnLcpCompleteRepDIH(3)
	require.True(t, d.RoundDone())

	d.EndRound()
	require.False(t, d.Ongoing)
	require.Nil(t, d.Walk)
}

func TestRotateActiveStatusDemotesNonParticipants(t *testing.T) {
	d, reg, rs := newTestDriver(t)
	tbl := oneFragTable(rs, 1)
	sf := sysfile.New()

	// Only node 1 participates; node 2 is excluded from this round's
	// LQH set and so should demote instead of staying Active. Node 3 is
	// a hot spare outside every group and is not rotated.
	started, err := d.BeginRound([]*model.Table{tbl}, rs.Replicas, func() uint64 { return configs.TcOpSizeThreshold }, configs.TcOpSizeThreshold, sf, []model.NodeID{1}, []model.NodeID{1})
	require.NoError(t, err)
	require.True(t, started)

	d.OnLcpCompleteRepLQH(1)
	d.OnLcpCompleteRepDIH(1)
	require.True(t, d.RoundDone())
	d.EndRound()

	n1, _ := reg.Node(1)
	n2, _ := reg.Node(2)
	require.Equal(t, configs.ActiveS, n1.Active)
	require.Equal(t, configs.ActiveMissed1, n2.Active)
}

func TestResumeAfterTakeoverJumpsWalkToMinimumPosition(t *testing.T) {
	d, _, rs := newTestDriver(t)
	tbl := model.NewTable(1, 2)
	tbl.Fragments[0] = model.NewFragment(1, 0, 1)
	tbl.Fragments[1] = model.NewFragment(1, 1, 1)
	rs.AddStored(tbl.Fragments[0], 1, 0)
	rs.AddStored(tbl.Fragments[1], 1, 0)
	sf := sysfile.New()

	started, err := d.BeginRound([]*model.Table{tbl}, rs.Replicas, func() uint64 { return configs.TcOpSizeThreshold }, configs.TcOpSizeThreshold, sf, []model.NodeID{1, 2, 3}, []model.NodeID{1, 2, 3})
	require.NoError(t, err)
	require.True(t, started)

	d.ResumeAfterTakeover(1, 1, true)

	var issued []*model.LcpFragOrd
	d.Walk.Run(func(ord *model.LcpFragOrd, _ model.Handle) {
		issued = append(issued, ord)
	})
	require.NotEmpty(t, issued)
	require.Equal(t, uint16(1), issued[0].FragID, "walk should resume at fragment 1, not re-walk fragment 0")
}
