package model

import "distcoord/configs"

// TableID identifies a table; FragID identifies a fragment within a table.
type TableID uint32
type FragID uint16

// Fragment is a horizontal partition of a table (spec §3). Stored and
// OldStored are singly-linked replica lists threaded through
// Replica.Next; the replicas live in a Pool[Replica] arena that the list
// methods take as a parameter.
type Fragment struct {
	TableID TableID
	FragID  FragID

	PreferredPrimary NodeID
	ActiveNodes      []NodeID // position 0 == current primary

	StoredHead    Handle // alive replicas
	OldStoredHead Handle // crashed / not-yet-restarted replicas

	DistributionKey uint8 // 8-bit generation counter, wraps on overflow
	NoLcpReplicas   int   // outstanding LCPs in the current round
	LogPartID       uint32
}

func NewFragment(tableID TableID, fragID FragID, preferredPrimary NodeID) *Fragment {
	return &Fragment{
		TableID:          tableID,
		FragID:           fragID,
		PreferredPrimary: preferredPrimary,
		ActiveNodes:      []NodeID{preferredPrimary},
	}
}

// BumpDistributionKey increments the generation counter, wrapping modulo
// 256 (spec SPEC_FULL.md supplemented features): called by InsertBackup
// each time a backup replica is added.
func (f *Fragment) BumpDistributionKey() {
	f.DistributionKey++
}

// Primary returns the fragment's current primary node, always
// activeNodes[0] per the spec §3 invariant.
func (f *Fragment) Primary() NodeID {
	if len(f.ActiveNodes) == 0 {
		return 0
	}
	return f.ActiveNodes[0]
}

// InsertBackup inserts a starting node as a backup replica at position 1
// in activeNodes (spec §4.5 PrepareCreate): "adds the starting node as a
// backup replica on every node (inserted at position 1 in activeNodes)".
func (f *Fragment) InsertBackup(node NodeID) {
	if len(f.ActiveNodes) == 0 {
		f.ActiveNodes = []NodeID{node}
		return
	}
	f.ActiveNodes = append(f.ActiveNodes, 0)
	copy(f.ActiveNodes[2:], f.ActiveNodes[1:len(f.ActiveNodes)-1])
	f.ActiveNodes[1] = node
	f.BumpDistributionKey()
}

// RemoveActiveNode drops a node from activeNodes, e.g. when its replica
// is retired after take-over completion or a node leaves the group.
func (f *Fragment) RemoveActiveNode(node NodeID) {
	out := f.ActiveNodes[:0]
	for _, n := range f.ActiveNodes {
		if n != node {
			out = append(out, n)
		}
	}
	f.ActiveNodes = out
}

// Store / Fragment store use a Pool[Replica] as the replica arena; the
// list-walking helpers below operate against that pool so callers never
// touch Handle internals directly.

func (f *Fragment) WalkStored(pool *Pool[Replica], fn func(h Handle, r *Replica) bool) {
	walk(pool, f.StoredHead, fn)
}

func (f *Fragment) WalkOldStored(pool *Pool[Replica], fn func(h Handle, r *Replica) bool) {
	walk(pool, f.OldStoredHead, fn)
}

func walk(pool *Pool[Replica], head Handle, fn func(h Handle, r *Replica) bool) {
	h := head
	for h != NilHandle {
		r := pool.Get(h)
		next := r.Next
		if !fn(h, r) {
			return
		}
		h = next
	}
}

// PushStored / PushOldStored prepend a replica handle onto the
// respective singly-linked list.
func (f *Fragment) PushStored(pool *Pool[Replica], h Handle) {
	pool.Get(h).Next = f.StoredHead
	f.StoredHead = h
}

func (f *Fragment) PushOldStored(pool *Pool[Replica], h Handle) {
	pool.Get(h).Next = f.OldStoredHead
	f.OldStoredHead = h
}

// RemoveStored / RemoveOldStored unlink a replica handle; returns false
// if it was not found in that list.
func (f *Fragment) RemoveStored(pool *Pool[Replica], target Handle) bool {
	return remove(pool, &f.StoredHead, target)
}

func (f *Fragment) RemoveOldStored(pool *Pool[Replica], target Handle) bool {
	return remove(pool, &f.OldStoredHead, target)
}

func remove(pool *Pool[Replica], head *Handle, target Handle) bool {
	if *head == target {
		*head = pool.Get(target).Next
		return true
	}
	h := *head
	for h != NilHandle {
		r := pool.Get(h)
		if r.Next == target {
			r.Next = pool.Get(target).Next
			return true
		}
		h = r.Next
	}
	return false
}

// MoveToStored implements the take-over CommitCreate transition (spec
// §4.5): "the replica is moved from the fragment's oldStoredReplicas
// list into storedReplicas."
func (f *Fragment) MoveToStored(pool *Pool[Replica], h Handle) {
	configs.Assert(f.RemoveOldStored(pool, h), "replica must be in oldStored before CommitCreate")
	f.PushStored(pool, h)
}

func (f *Fragment) CountStored(pool *Pool[Replica]) int {
	n := 0
	f.WalkStored(pool, func(Handle, *Replica) bool { n++; return true })
	return n
}

func (f *Fragment) CountOldStored(pool *Pool[Replica]) int {
	n := 0
	f.WalkOldStored(pool, func(Handle, *Replica) bool { n++; return true })
	return n
}
