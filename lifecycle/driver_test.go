package lifecycle

import (
	"testing"

	"distcoord/clustermutex"
	"distcoord/model"
	"distcoord/registry"
	"distcoord/replicastore"
	"distcoord/signal"
	"distcoord/sysfile"
	"distcoord/takeover"

	"github.com/stretchr/testify/require"
)

func addrOf(model.NodeID) string { return "" }

func newTestDriver(t *testing.T) (*Driver, *registry.Registry, *takeover.Manager) {
	t.Helper()
	reg := registry.New(1, 2)
	reg.RegisterFromConfig([]model.NodeID{1, 2, 3, 4, 5}, addrOf, 1)
	reg.FormNodeGroups()
	for _, n := range []model.NodeID{1, 2, 3, 4, 5} {
		reg.MarkAlive(n)
	}
	counters := signal.NewRegistry()
	to := takeover.NewManager(clustermutex.NewManager(), counters, reg, replicastore.New(64))
	return NewDriver(reg, counters, to), reg, to
}

func TestJoinPermissionHandshake(t *testing.T) {
	d, reg, _ := newTestDriver(t)
	peers := []model.NodeID{1, 2, 4}
	c := d.HandleStartPermReq(peers, func(model.NodeID) {})
	for _, n := range peers {
		c.Clear(n)
	}
	require.True(t, c.Done())
	d.CompleteStartPerm(c, 3)

	n, ok := reg.Node(3)
	require.True(t, ok)
	require.Equal(t, model.NodeID(3), n.ID)
}

func TestChunkSysfileSplitsIntoFixedWidthChunks(t *testing.T) {
	words := make([]uint32, StartMeChunkWords*2+5)
	chunks := ChunkSysfile(words)
	require.Len(t, chunks, 3)
	require.Len(t, chunks[0], StartMeChunkWords)
	require.Len(t, chunks[1], StartMeChunkWords)
	require.Len(t, chunks[2], 5)
}

func TestIncludeNodeMarksAliveOnceConfirmed(t *testing.T) {
	d, reg, _ := newTestDriver(t)
	reg.RegisterFromConfig([]model.NodeID{6}, addrOf, 1)
	peers := []model.NodeID{1, 2}
	c := d.IncludeNode(peers, func(model.NodeID) {})
	for _, n := range peers {
		c.Clear(n)
	}
	d.CompleteIncludeNode(c, 6)
	require.True(t, reg.IsAlive(6))
}

func TestAssignHotSparePicksAliveSpareAndBeginsTakeOver(t *testing.T) {
	d, _, _ := newTestDriver(t)
	rec, err := d.AssignHotSpare(1, nil)
	require.NoError(t, err)
	require.Equal(t, model.NodeID(5), rec.StartingNode)
	require.Equal(t, model.NodeID(1), rec.FailedNode)
}

func TestHandleNodeFailureFixesUpOutstandingCounters(t *testing.T) {
	d, _, _ := newTestDriver(t)
	c := d.HandleStartPermReq([]model.NodeID{1, 2, 4}, func(model.NodeID) {})
	c.Clear(1)
	c.Clear(2)

	// node 4's group (3,4) keeps a surviving member (3), so this does
	// not escalate to EXIT_LOST_NODE_GROUP.
	sf := sysfile.New()
	completed, err := d.HandleNodeFailure([]model.NodeID{4}, sf)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.Same(t, c, completed[0])
	require.True(t, c.Done())
}

func TestHandleNodeFailureReleasesTakeOverWhenStartingNodeDies(t *testing.T) {
	d, _, to := newTestDriver(t)
	rec, err := to.Begin(5, 1, nil)
	require.NoError(t, err)
	require.NotNil(t, rec)

	sf := sysfile.New()
	to.PersistStart(rec, sf)
	require.Equal(t, model.NodeID(5), sf.TakeOver[1])

	_, err = d.HandleNodeFailure([]model.NodeID{5}, sf)
	require.NoError(t, err)
	require.Equal(t, model.NodeID(0), sf.TakeOver[1])
	_, stillActive := to.RecordFor(5)
	require.False(t, stillActive)
}

func TestHandleCopyNodeFailurePicksDifferentAliveNode(t *testing.T) {
	d, _, to := newTestDriver(t)
	rec, err := to.Begin(5, 1, nil)
	require.NoError(t, err)
	rec.CopyNode = 2

	require.NoError(t, d.HandleCopyNodeFailure(rec))
	require.NotEqual(t, model.NodeID(2), rec.CopyNode)
	require.NotEqual(t, model.NodeID(5), rec.CopyNode)
	require.NotEqual(t, model.NodeID(1), rec.CopyNode)
	require.Equal(t, takeover.MasterPrepareCreate, rec.MasterStatus)
}

func TestNodeFailCompleteRequiresAllPeersAndAllBlocks(t *testing.T) {
	d, _, _ := newTestDriver(t)
	peers := []model.NodeID{2, 3}
	d.BeginNodeFailComplete(1, peers)
	require.False(t, d.NodeFailComplete(1))

	d.OnPeerNFCompleteRep(1, 2)
	d.OnPeerNFCompleteRep(1, 3)
	require.False(t, d.NodeFailComplete(1)) // peers done, blocks not yet

	d.OnBlockNFCompleteRep(1, BlockLQH)
	d.OnBlockNFCompleteRep(1, BlockTC)
	d.OnBlockNFCompleteRep(1, BlockDICT)
	require.False(t, d.NodeFailComplete(1))

	d.OnBlockNFCompleteRep(1, BlockDIH)
	require.True(t, d.NodeFailComplete(1))
	require.False(t, d.NodeFailComplete(1)) // already cleared, no longer tracked
}
