package takeover

import (
	"distcoord/clustermutex"
	"distcoord/configs"
	"distcoord/dcerr"
	"distcoord/model"
	"distcoord/registry"
	"distcoord/replicastore"
	"distcoord/signal"
	"distcoord/sysfile"
)

// Manager drives the master side of every take-over in the cluster
// (spec §4.5, component C3). At most one take-over is active per node
// group (clustermutex.Manager.TryStartTakeOver), further requests retry
// on the spec's 5-second budget rather than queuing.
type Manager struct {
	Mutexes      *clustermutex.Manager
	Counters     *signal.Registry
	Registry     *registry.Registry
	ReplicaStore *replicastore.Store

	active map[model.NodeID]*Record // by starting node

	createFrag *signal.Counter
	startTo    *signal.Counter
	updateTo   *signal.Counter
	endTo      *signal.Counter
}

func NewManager(mutexes *clustermutex.Manager, counters *signal.Registry, reg *registry.Registry, rs *replicastore.Store) *Manager {
	return &Manager{
		Mutexes:      mutexes,
		Counters:     counters,
		Registry:     reg,
		ReplicaStore: rs,
		active:       make(map[model.NodeID]*Record),
	}
}

// Begin claims the node group's take-over throttle and builds the
// fragment worklist: every fragment (across the given tables) that
// currently has a replica living on failedNode (spec §4.5: "for each
// fragment having a replica on failedNode"). Returns
// dcerr.TakeOverAlreadyActive if the group's throttle is already held.
func (m *Manager) Begin(startingNode, failedNode model.NodeID, tables []*model.Table) (*Record, error) {
	g, ok := m.Registry.GroupOf(failedNode)
	if !ok {
		return nil, dcerr.New(dcerr.ResourceConflict, "failed node has no node group")
	}
	if !m.Mutexes.TryStartTakeOver(g.ID) {
		return nil, dcerr.New(dcerr.TakeOverAlreadyActive, "a take-over is already active in this node group")
	}
	g.ActiveTakeOver = true

	rec := &Record{
		StartingNode: startingNode,
		FailedNode:   failedNode,
		Group:        g.ID,
		MasterStatus: MasterStartCopy,
		SlaveStatus:  SlaveIdle,
	}
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, f := range t.Fragments {
			if f == nil {
				continue
			}
			for _, n := range f.ActiveNodes {
				if n == failedNode {
					rec.worklist = append(rec.worklist, fragWork{Table: t.ID, Frag: f})
					break
				}
			}
		}
	}
	m.active[startingNode] = rec
	return rec, nil
}

// PersistStart records the take-over in the sysfile before any fragment
// work begins (spec §4.5: "{persist sysfile with takeOverNode}").
func (m *Manager) PersistStart(rec *Record, sf *sysfile.Sysfile) {
	sf.TakeOver[rec.FailedNode] = rec.StartingNode
}

// SendStartTo fans START_TOREQ out to every alive node (spec §4.5
// "sendStartTo"), advancing to Starting once every reply is in.
func (m *Manager) SendStartTo(rec *Record, nodes []model.NodeID, send func(model.NodeID)) *signal.Counter {
	rec.MasterStatus = MasterSendStartTo
	c := signal.NewCounter(signal.ReasonStartTo, nodes)
	m.Counters.Track(c)
	m.startTo = c
	for _, n := range nodes {
		send(n)
	}
	return c
}

func (m *Manager) CompleteStartTo(rec *Record, c *signal.Counter) {
	m.Counters.Untrack(c)
	m.startTo = nil
	rec.MasterStatus = MasterStarting
}

// SelectNext advances to the next fragment needing a copy (spec §4.5
// "SelectingNext"). Returns false once the worklist is exhausted, at
// which point the caller moves to UpdateToCopyCompleted/sendEndTo.
func (m *Manager) SelectNext(rec *Record) bool {
	rec.MasterStatus = MasterSelectingNext
	if rec.idx >= len(rec.worklist) {
		rec.CurrentFrag = nil
		return false
	}
	rec.CurrentFrag = rec.worklist[rec.idx].Frag
	rec.idx++
	rec.MasterStatus = MasterPrepareCreate
	return true
}

// PrepareCreate broadcasts CREATE_FRAGREQ{STORED}, which adds the
// starting node as a backup replica at activeNodes[1] on every node
// (spec §4.5 "PrepareCreate"), and allocates the starting node's new
// (not-yet-promoted) replica record in the fragment's oldStored list.
func (m *Manager) PrepareCreate(rec *Record, nodes []model.NodeID, initialGci uint64, send func(model.NodeID)) *signal.Counter {
	f := rec.CurrentFrag
	configs.Assert(f != nil, "PrepareCreate with no current fragment")
	f.InsertBackup(rec.StartingNode)
	rec.CurrentFragH = m.ReplicaStore.AddOldStored(f, rec.StartingNode, initialGci)

	c := signal.NewCounter(signal.ReasonCreateFrag, nodes)
	m.Counters.Track(c)
	m.createFrag = c
	for _, n := range nodes {
		send(n)
	}
	return c
}

// CompletePrepareCreate moves to CopyFrag once every node's
// CREATE_FRAGREQ reply is in; the caller picks a live copy node and
// calls BeginCopyFrag.
func (m *Manager) CompletePrepareCreate(rec *Record, c *signal.Counter, copyNode model.NodeID) {
	m.Counters.Untrack(c)
	m.createFrag = nil
	rec.CopyNode = copyNode
	rec.MasterStatus = MasterCopyFrag
}

// BeginCopyFrag orders the copy node's LQH to stream fragment data to
// the starting node (spec §4.5 "At CopyFrag, the master orders the copy
// node's LQH to stream data to the starting node").
func (m *Manager) BeginCopyFrag(rec *Record, send func(copyNode, startingNode model.NodeID)) {
	send(rec.CopyNode, rec.StartingNode)
}

// CompleteCopyFrag advances past the copy, per spec's
// "UpdateTo(copyFragCompleted) → CopyActive" pair.
func (m *Manager) CompleteCopyFrag(rec *Record) {
	rec.MasterStatus = MasterUpdateToCopyFrag
}

// UpdateToCopyFragCompleted persists the copy-fragment-completed marker
// (left to the caller's sysfile/tablestore write) and enters CopyActive.
func (m *Manager) UpdateToCopyFragCompleted(rec *Record) {
	rec.MasterStatus = MasterCopyActive
}

// LockSwitchPrimary attempts to acquire the cluster-wide
// switchPrimaryMutex ahead of CommitCreate (spec §4.5: "this is done
// under a cluster-wide switchPrimaryMutex so no transaction observes a
// half-switched primary").
func (m *Manager) LockSwitchPrimary(rec *Record) bool {
	rec.MasterStatus = MasterLockMutex
	if !m.Mutexes.SwitchPrimary.TryAcquire(configs.ResourceRetryDelayMax) {
		return false
	}
	rec.MasterStatus = MasterCommitCreate
	return true
}

// CommitCreate moves the starting node's replica from oldStored into
// stored (spec §4.5 "At CommitCreate, the replica is moved from the
// fragment's oldStoredReplicas list into storedReplicas") and releases
// switchPrimaryMutex.
func (m *Manager) CommitCreate(rec *Record) {
	f := rec.CurrentFrag
	configs.Assert(f != nil, "CommitCreate with no current fragment")
	f.MoveToStored(m.ReplicaStore.Replicas, rec.CurrentFragH)
	m.Mutexes.SwitchPrimary.Release()
	rec.CurrentFragH = model.NilHandle
}

// UpdateToCopyCompleted is the final per-take-over persist step once
// every fragment has been brought over (spec §4.5
// "UpdateTo(copyCompleted)").
func (m *Manager) UpdateToCopyCompleted(rec *Record) {
	rec.MasterStatus = MasterUpdateToCopyDone
}

// SendEndTo fans END_TOREQ out to every alive node (spec §4.5
// "sendEndTo").
func (m *Manager) SendEndTo(rec *Record, nodes []model.NodeID, send func(model.NodeID)) *signal.Counter {
	rec.MasterStatus = MasterSendEndTo
	c := signal.NewCounter(signal.ReasonEndTo, nodes)
	m.Counters.Track(c)
	m.endTo = c
	for _, n := range nodes {
		send(n)
	}
	return c
}

// CompleteEndTo finishes the take-over: clears the group's
// activeTakeOver flag, releases the group's throttle, and clears the
// sysfile's take-over slot (spec §4.5 "Ending → {clear group's
// activeTakeOver; unblock LCP}").
func (m *Manager) CompleteEndTo(rec *Record, c *signal.Counter, sf *sysfile.Sysfile) {
	m.Counters.Untrack(c)
	m.endTo = nil
	rec.MasterStatus = MasterEnding
	m.finish(rec, sf)
}

func (m *Manager) finish(rec *Record, sf *sysfile.Sysfile) {
	if g, ok := m.Registry.Group(rec.Group); ok {
		g.ActiveTakeOver = false
	}
	m.Mutexes.EndTakeOver(rec.Group)
	sf.TakeOver[rec.FailedNode] = 0
	delete(m.active, rec.StartingNode)
	rec.MasterStatus = MasterIdle
}

// RecordFor looks up the in-flight take-over for a starting node.
func (m *Manager) RecordFor(startingNode model.NodeID) (*Record, bool) {
	r, ok := m.active[startingNode]
	return r, ok
}

// HandleStartingNodeFailure implements the spec §4.5 interruption
// policy: "if the starting node fails at any master state, endTakeOver
// releases the record and clears outstanding reply-counters (start-to,
// create-frag, update-to, end-to) for that slot."
func (m *Manager) HandleStartingNodeFailure(startingNode model.NodeID, sf *sysfile.Sysfile) {
	rec, ok := m.active[startingNode]
	if !ok {
		return
	}
	for _, c := range []*signal.Counter{m.startTo, m.createFrag, m.updateTo, m.endTo} {
		if c != nil {
			m.Counters.Untrack(c)
		}
	}
	m.startTo, m.createFrag, m.updateTo, m.endTo = nil, nil, nil, nil
	m.finish(rec, sf)
}

// HandleCopyNodeFailure implements spec §4.5: "If the copy node fails
// during CopyFrag, the master picks a new copy node and re-enters
// PrepareCreate for the same fragment (the replica record already
// exists on the starting node)." The existing oldStored replica handle
// is kept; only the copy source changes.
func (m *Manager) HandleCopyNodeFailure(rec *Record, newCopyNode model.NodeID) {
	rec.CopyNode = newCopyNode
	rec.MasterStatus = MasterPrepareCreate
}
