// Package replicastore implements per-fragment replica bookkeeping atop
// the arena-indexed model types: crashed-replica interval garbage
// collection and the system-restart recovery-selection algorithm (spec
// §4.6, component L1).
package replicastore

import (
	"distcoord/model"
)

// Store owns the replica arena shared by every fragment's stored/
// oldStored linked lists.
type Store struct {
	Replicas *model.Pool[model.Replica]
}

func New(capacity uint32) *Store {
	return &Store{Replicas: model.NewPool[model.Replica](int(capacity))}
}

// AddStored allocates a new replica and links it into the fragment's
// stored list, returning its handle.
func (s *Store) AddStored(f *model.Fragment, node model.NodeID, initialGci uint64) model.Handle {
	h := s.Replicas.Alloc()
	*s.Replicas.Get(h) = *model.NewReplica(node, initialGci)
	f.PushStored(s.Replicas, h)
	return h
}

// AddOldStored is the take-over counterpart: a replica record that
// exists (CREATE_FRAGREQ already issued) but has not yet been promoted
// to stored by CommitCreate (spec §4.5).
func (s *Store) AddOldStored(f *model.Fragment, node model.NodeID, initialGci uint64) model.Handle {
	h := s.Replicas.Alloc()
	*s.Replicas.Get(h) = *model.NewReplica(node, initialGci)
	f.PushOldStored(s.Replicas, h)
	return h
}

// Release frees a replica handle back to the arena, e.g. after a
// fragment permanently drops a node's copy.
func (s *Store) Release(h model.Handle) {
	s.Replicas.Free(h)
}

// Find locates the stored replica belonging to node, if any.
func Find(pool *model.Pool[model.Replica], f *model.Fragment, node model.NodeID) (model.Handle, *model.Replica, bool) {
	var found model.Handle
	var rep *model.Replica
	f.WalkStored(pool, func(h model.Handle, r *model.Replica) bool {
		if r.Node == node {
			found, rep = h, r
			return false
		}
		return true
	})
	if rep == nil {
		return model.NilHandle, nil, false
	}
	return found, rep, true
}
