package coordinator

import (
	"testing"
	"time"

	"distcoord/gcp"
	"distcoord/model"
	"distcoord/registry"
	"distcoord/replicastore"
	"distcoord/signal"
	"distcoord/sysfile"
	"distcoord/tablestore"

	"github.com/stretchr/testify/require"
)

func addrOf(model.NodeID) string { return "" }

// newTestCoordinator wires one node's worth of dependencies the way
// cmd/dcnode would, but against scratch directories and a Send that
// discards every signal so tests never touch the network.
func newTestCoordinator(t *testing.T, self model.NodeID, nodes []model.NodeID) *Coordinator {
	t.Helper()
	dir1 := t.TempDir()
	dir2 := t.TempDir()

	reg := registry.New(self, 2)
	reg.RegisterFromConfig(nodes, addrOf, nodes[0])
	reg.FormNodeGroups()
	for _, n := range nodes {
		reg.MarkAlive(n)
	}

	sf := sysfile.New()
	sfStore := sysfile.NewStore(dir1, dir2)
	tStore := tablestore.NewStore(dir1, dir2)
	rs := replicastore.New(64)

	send := func(model.NodeID, Kind, interface{}) {}
	return New(self, reg, sf, sfStore, tStore, rs, send)
}

// postAndHandle posts a signal the way a real peer reply would arrive,
// onto the coordinator's own queue, which Run (started by the caller)
// drains on its dispatch goroutine.
func postAndHandle(c *Coordinator, kind Kind, from model.NodeID, payload interface{}) {
	c.Queue.Post(signal.Signal{Kind: kind, From: uint32(from), Payload: payload})
}

func TestGcpCycleRunsPrepareCommitSaveToCompletion(t *testing.T) {
	nodes := []model.NodeID{1, 2, 3}
	c := newTestCoordinator(t, 1, nodes)
	go c.Queue.Run()
	defer c.Stop()

	c.BeginGcpCycle()
	require.Eventually(t, func() bool { return c.GCP.Phase == gcp.PhasePreparing }, time.Second, time.Millisecond)

	for _, n := range nodes {
		postAndHandle(c, KindGcpPrepareConf, n, nil)
	}
	require.Eventually(t, func() bool { return c.GCP.Phase == gcp.PhaseCommitting }, time.Second, time.Millisecond)

	for _, n := range nodes {
		postAndHandle(c, KindGcpCommitConf, n, nil)
	}
	require.Eventually(t, func() bool { return c.GCP.Phase == gcp.PhaseSaving }, time.Second, time.Millisecond)

	for _, n := range nodes {
		postAndHandle(c, KindGcpSaveConf, n, nil)
	}
	require.Eventually(t, func() bool { return c.GCP.Phase == gcp.PhaseIdle }, time.Second, time.Millisecond)
}

func TestGcpCycleCompletesAfterNodeFailureFixesUpCounter(t *testing.T) {
	nodes := []model.NodeID{1, 2, 3, 4}
	c := newTestCoordinator(t, 1, nodes)
	go c.Queue.Run()
	defer c.Stop()

	c.BeginGcpCycle()
	require.Eventually(t, func() bool { return c.GCP.Phase == gcp.PhasePreparing }, time.Second, time.Millisecond)

	postAndHandle(c, KindGcpPrepareConf, 2, nil)
	postAndHandle(c, KindGcpPrepareConf, 3, nil)
	// node 4 never replies; NODE_FAILREP must synthesize its reply so
	// the cycle still advances instead of hanging on a dead node.
	postAndHandle(c, KindNodeFailRep, 0, NodeFailRepMsg{FailedNodes: []model.NodeID{4}})

	require.Eventually(t, func() bool { return c.GCP.Phase == gcp.PhaseCommitting }, time.Second, time.Millisecond)
}

func TestDigetNodesReqReturnsPrimaryAndBackups(t *testing.T) {
	nodes := []model.NodeID{1, 2, 3}
	c := newTestCoordinator(t, 1, nodes)
	go c.Queue.Run()
	defer c.Stop()

	tbl := model.NewTable(1, 1)
	tbl.Fragments[0] = model.NewFragment(1, 0, 1)
	tbl.Fragments[0].InsertBackup(2)
	c.AddTable(tbl)

	reply := make(chan DigetNodesReply, 1)
	postAndHandle(c, KindDigetNodesReq, 0, DigetNodesReq{TableID: 1, FragID: 0, Reply: reply})

	r := <-reply
	require.True(t, r.Found)
	require.Equal(t, model.NodeID(1), r.Primary)
	require.Contains(t, r.Backups, model.NodeID(2))
}

func TestDigetNodesReqMissingFragmentReportsNotFound(t *testing.T) {
	c := newTestCoordinator(t, 1, []model.NodeID{1})
	go c.Queue.Run()
	defer c.Stop()

	reply := make(chan DigetNodesReply, 1)
	postAndHandle(c, KindDigetNodesReq, 0, DigetNodesReq{TableID: 99, FragID: 0, Reply: reply})
	r := <-reply
	require.False(t, r.Found)
}

func TestVerifyGateBlocksDuringPrepareAndDrainsAfterCommit(t *testing.T) {
	nodes := []model.NodeID{1, 2}
	c := newTestCoordinator(t, 1, nodes)
	go c.Run()
	defer c.Stop()

	c.BeginGcpCycle()
	require.Eventually(t, func() bool { return c.Gate.Blocked() }, time.Second, time.Millisecond)

	_, immediate, _ := c.RequestCommitGCI()
	require.False(t, immediate)

	for _, n := range nodes {
		postAndHandle(c, KindGcpPrepareConf, n, nil)
	}
	require.Eventually(t, func() bool { return !c.Gate.Blocked() }, time.Second, time.Millisecond)

	gci, immediate, _ := c.RequestCommitGCI()
	require.True(t, immediate)
	require.Equal(t, c.Gate.CurrentGCI(), gci)
}
