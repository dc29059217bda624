package takeover

import (
	"testing"

	"distcoord/clustermutex"
	"distcoord/dcerr"
	"distcoord/model"
	"distcoord/registry"
	"distcoord/replicastore"
	"distcoord/signal"
	"distcoord/sysfile"

	"github.com/stretchr/testify/require"
)

func addrOf(model.NodeID) string { return "" }

func newTestManager(t *testing.T) (*Manager, *registry.Registry) {
	t.Helper()
	reg := registry.New(1, 2)
	reg.RegisterFromConfig([]model.NodeID{1, 2, 3, 4}, addrOf, 1)
	reg.FormNodeGroups()
	reg.MarkAlive(1)
	reg.MarkAlive(2)
	reg.MarkAlive(3)
	reg.MarkAlive(4)

	mutexes := clustermutex.NewManager()
	counters := signal.NewRegistry()
	rs := replicastore.New(64)
	return NewManager(mutexes, counters, reg, rs), reg
}

func oneFragTable(rs *replicastore.Store, failedNode model.NodeID) *model.Table {
	tbl := model.NewTable(5, 1)
	frag := model.NewFragment(5, 2, failedNode)
	frag.ActiveNodes = []model.NodeID{failedNode}
	rs.AddStored(frag, failedNode, 1)
	tbl.Fragments[0] = frag
	return tbl
}

func TestBeginBuildsWorklistFromFailedNodeReplicas(t *testing.T) {
	mgr, _ := newTestManager(t)
	tbl := oneFragTable(mgr.ReplicaStore, 1)

	rec, err := mgr.Begin(3, 1, []*model.Table{tbl})
	require.NoError(t, err)
	require.Equal(t, MasterStartCopy, rec.MasterStatus)
	require.Len(t, rec.worklist, 1)
}

func TestBeginRejectsSecondTakeOverInSameGroup(t *testing.T) {
	mgr, _ := newTestManager(t)
	tbl := oneFragTable(mgr.ReplicaStore, 1)

	_, err := mgr.Begin(3, 1, []*model.Table{tbl})
	require.NoError(t, err)

	_, err = mgr.Begin(3, 2, []*model.Table{tbl})
	require.Error(t, err)
	perr, ok := err.(*dcerr.ProtocolError)
	require.True(t, ok)
	require.Equal(t, dcerr.TakeOverAlreadyActive, perr.ErrCode)
}

func TestFullTakeOverHappyPath(t *testing.T) {
	mgr, reg := newTestManager(t)
	tbl := oneFragTable(mgr.ReplicaStore, 1)
	frag := tbl.Fragments[0]

	rec, err := mgr.Begin(3, 1, []*model.Table{tbl})
	require.NoError(t, err)

	sf := sysfile.New()
	mgr.PersistStart(rec, sf)
	require.Equal(t, model.NodeID(3), sf.TakeOver[1])

	startToNodes := []model.NodeID{1, 2, 3, 4}
	c := mgr.SendStartTo(rec, startToNodes, func(model.NodeID) {})
	for _, n := range startToNodes {
		c.Clear(n)
	}
	mgr.CompleteStartTo(rec, c)
	require.Equal(t, MasterStarting, rec.MasterStatus)

	require.True(t, mgr.SelectNext(rec))
	require.Equal(t, MasterPrepareCreate, rec.MasterStatus)
	require.Equal(t, frag, rec.CurrentFrag)

	nodes := []model.NodeID{1, 2, 3, 4}
	cf := mgr.PrepareCreate(rec, nodes, 1, func(model.NodeID) {})
	require.Equal(t, model.NodeID(3), frag.ActiveNodes[1])
	for _, n := range nodes {
		cf.Clear(n)
	}
	mgr.CompletePrepareCreate(rec, cf, 2)
	require.Equal(t, MasterCopyFrag, rec.MasterStatus)
	require.Equal(t, model.NodeID(2), rec.CopyNode)

	mgr.BeginCopyFrag(rec, func(copyNode, startingNode model.NodeID) {
		require.Equal(t, model.NodeID(2), copyNode)
		require.Equal(t, model.NodeID(3), startingNode)
	})
	mgr.CompleteCopyFrag(rec)
	mgr.UpdateToCopyFragCompleted(rec)
	require.Equal(t, MasterCopyActive, rec.MasterStatus)

	require.True(t, mgr.LockSwitchPrimary(rec))
	require.Equal(t, MasterCommitCreate, rec.MasterStatus)

	mgr.CommitCreate(rec)
	_, _, foundOnStarting := replicastore.Find(mgr.ReplicaStore.Replicas, frag, 3)
	require.True(t, foundOnStarting)

	require.False(t, mgr.SelectNext(rec)) // worklist exhausted
	mgr.UpdateToCopyCompleted(rec)
	require.Equal(t, MasterUpdateToCopyDone, rec.MasterStatus)

	ec := mgr.SendEndTo(rec, startToNodes, func(model.NodeID) {})
	for _, n := range startToNodes {
		ec.Clear(n)
	}
	mgr.CompleteEndTo(rec, ec, sf)
	require.Equal(t, MasterIdle, rec.MasterStatus)
	require.Equal(t, model.NodeID(0), sf.TakeOver[1])

	g, ok := reg.Group(0)
	require.True(t, ok)
	require.False(t, g.ActiveTakeOver)

	// the group's throttle was released, so a fresh take-over can start.
	rec2, err := mgr.Begin(4, 2, []*model.Table{tbl})
	require.NoError(t, err)
	require.NotNil(t, rec2)
}

func TestStartingNodeFailureReleasesRecordAndThrottle(t *testing.T) {
	mgr, reg := newTestManager(t)
	tbl := oneFragTable(mgr.ReplicaStore, 1)

	rec, err := mgr.Begin(3, 1, []*model.Table{tbl})
	require.NoError(t, err)
	sf := sysfile.New()
	mgr.PersistStart(rec, sf)

	c := mgr.SendStartTo(rec, []model.NodeID{1, 2, 4}, func(model.NodeID) {})
	_ = c

	mgr.HandleStartingNodeFailure(3, sf)

	require.Equal(t, model.NodeID(0), sf.TakeOver[1])
	g, ok := reg.Group(0)
	require.True(t, ok)
	require.False(t, g.ActiveTakeOver)
	_, stillActive := mgr.RecordFor(3)
	require.False(t, stillActive)

	_, err = mgr.Begin(4, 1, []*model.Table{tbl})
	require.NoError(t, err)
}

func TestCopyNodeFailureReEntersPrepareCreateSameFragment(t *testing.T) {
	mgr, _ := newTestManager(t)
	tbl := oneFragTable(mgr.ReplicaStore, 1)
	frag := tbl.Fragments[0]

	rec, err := mgr.Begin(3, 1, []*model.Table{tbl})
	require.NoError(t, err)
	require.True(t, mgr.SelectNext(rec))

	nodes := []model.NodeID{1, 2, 3, 4}
	cf := mgr.PrepareCreate(rec, nodes, 1, func(model.NodeID) {})
	for _, n := range nodes {
		cf.Clear(n)
	}
	mgr.CompletePrepareCreate(rec, cf, 2)
	require.Equal(t, model.NodeID(2), rec.CopyNode)

	// copy node 2 fails mid-CopyFrag; master picks node 4 instead.
	mgr.HandleCopyNodeFailure(rec, 4)
	require.Equal(t, MasterPrepareCreate, rec.MasterStatus)
	require.Equal(t, model.NodeID(4), rec.CopyNode)
	// the replica already created on the starting node is untouched.
	require.Equal(t, model.NodeID(3), frag.ActiveNodes[1])
}
