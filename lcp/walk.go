package lcp

import (
	"distcoord/model"
	"distcoord/registry"

	mapset "github.com/deckarep/golang-set"
)

// IssueFn sends LCP_FRAG_ORD for one fragment-replica checkpoint to its
// node's LQH.
type IssueFn func(ord *model.LcpFragOrd, replica model.Handle)

// Walk drives the master's fragment-ordering scan (spec §4.4 "Fragment
// ordering"): tables in id order, fragments in id order, replicas in
// link order, throttled per node via model.Node's started/queued
// checkpoint slots, stalling globally (and resumably, without
// re-scanning) the moment some node's slots are all full.
type Walk struct {
	Tables   []*model.Table
	Pool     *model.Pool[model.Replica]
	Registry *registry.Registry
	// Eligible is the round's m_participatingLQH set, kept as a
	// golang-set rather than a plain map so membership reads the way
	// the spec's prose does ("a replica is eligible iff its owning node
	// is in participatingLQH"); same idiom as registry's alive/dead sets.
	Eligible mapset.Set
	LcpID    uint32
	KeepGci  uint64

	tableIdx    int
	fragIdx     int
	replicaH    model.Handle
	enteredFrag bool
	stalled     bool
}

func NewWalk(tables []*model.Table, pool *model.Pool[model.Replica], reg *registry.Registry, eligible mapset.Set, lcpID uint32, keepGci uint64) *Walk {
	return &Walk{
		Tables:   tables,
		Pool:     pool,
		Registry: reg,
		Eligible: eligible,
		LcpID:    lcpID,
		KeepGci:  keepGci,
	}
}

func (w *Walk) eligibleReplica(r *model.Replica) bool {
	return w.Eligible.Contains(r.Node) && r.LcpIdStarted < w.LcpID
}

// Run advances the walk, issuing LCP_FRAG_ORD via send wherever a
// node's started slots have room, queueing where only queue slots have
// room, and stalling (without consuming the current replica) the
// moment some node's both slot kinds are full. Returns true once every
// fragment has been walked (not necessarily completed).
func (w *Walk) Run(send IssueFn) (done bool) {
	if w.stalled {
		return false
	}
	for w.tableIdx < len(w.Tables) {
		t := w.Tables[w.tableIdx]
		if t == nil {
			w.tableIdx++
			continue
		}
		for w.fragIdx < len(t.Fragments) {
			f := t.Fragments[w.fragIdx]
			if f == nil {
				w.fragIdx++
				w.enteredFrag = false
				continue
			}
			if !w.enteredFrag {
				w.replicaH = f.StoredHead
				w.enteredFrag = true
			}
			if w.replicaH == model.NilHandle {
				w.fragIdx++
				w.enteredFrag = false
				continue
			}
			r := w.Pool.Get(w.replicaH)
			if !w.eligibleReplica(r) {
				w.replicaH = r.Next
				continue
			}
			node, ok := w.Registry.Node(r.Node)
			if !ok {
				w.replicaH = r.Next
				continue
			}
			ord := &model.LcpFragOrd{
				TableID: uint32(t.ID),
				FragID:  uint16(f.FragID),
				LcpNo:   r.NextLcp,
				LcpID:   w.LcpID,
				KeepGCI: w.KeepGci,
			}
			switch {
			case node.TryStart(ord):
				r.LcpIdStarted = w.LcpID
				send(ord, w.replicaH)
				w.replicaH = r.Next
			case node.TryQueue(ord):
				r.LcpIdStarted = w.LcpID
				w.replicaH = r.Next
			default:
				w.stalled = true
				return false
			}
		}
		w.tableIdx++
		w.fragIdx = 0
	}
	return true
}

// OnFragRep frees the completing fragment's started slot on its node
// and, if a checkpoint was queued behind it, promotes and issues that
// one. Callers should call Run again afterward to resume a stalled
// walk.
func (w *Walk) OnFragRep(node model.NodeID, tableID uint32, fragID uint16, send IssueFn) {
	n, ok := w.Registry.Node(node)
	if !ok {
		return
	}
	if promoted := n.CompleteStarted(tableID, fragID); promoted != nil {
		send(promoted, model.NilHandle)
	}
	w.stalled = false
}

// JumpTo repositions the walk to resume at a specific (table, frag)
// pair, used after a master-takeover merge resolves the minimum
// outstanding position (spec §4.4 "resume from the minimum
// (tableId, fragmentId) and re-run the walk").
func (w *Walk) JumpTo(tableID model.TableID, fragID model.FragID) {
	for i, t := range w.Tables {
		if t == nil || t.ID != tableID {
			continue
		}
		for j, f := range t.Fragments {
			if f != nil && f.FragID == fragID {
				w.tableIdx = i
				w.fragIdx = j
				w.enteredFrag = false
				w.stalled = false
				return
			}
		}
	}
}

// Pending reports whether any node-group member still has an in-flight
// or queued checkpoint (hot spares are not checked); used by the master
// to know when a round can conclude.
func (w *Walk) Pending() bool {
	for _, n := range w.Registry.AllGroups() {
		for _, node := range n.Nodes {
			if nd, ok := w.Registry.Node(node); ok {
				if nd.StartedCount() > 0 || nd.QueuedCount() > 0 {
					return true
				}
			}
		}
	}
	return false
}
