package replicastore

import "distcoord/model"

// GCFragment applies the three sysfile-driven crash-interval
// maintenance steps (spec §4.6) to every stored replica of a fragment:
// advance createGci[0] to keepGCI, garbage-collect the oldest interval
// once it is behind oldestRestorableGCI, and (after a restorableGCI
// rollback) discard any interval newer than the rolled-back
// newestRestorableGCI.
func GCFragment(pool *model.Pool[model.Replica], f *model.Fragment, keepGci, oldestRestorableGci, newestRestorableGci uint64) {
	walkBoth(pool, f, func(r *model.Replica) {
		r.AdvanceKeepGci(keepGci)
		for r.GCHead(oldestRestorableGci) {
		}
		r.GCTail(newestRestorableGci)
	})
}

func walkBoth(pool *model.Pool[model.Replica], f *model.Fragment, fn func(*model.Replica)) {
	f.WalkStored(pool, func(_ model.Handle, r *model.Replica) bool { fn(r); return true })
	f.WalkOldStored(pool, func(_ model.Handle, r *model.Replica) bool { fn(r); return true })
}
