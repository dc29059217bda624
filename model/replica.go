package model

import (
	"distcoord/configs"
	"distcoord/dcerr"
)

// Replica is one copy of a fragment's data living on one node (spec §3).
// The per-LCP bookkeeping is kept as parallel arrays rather than one
// struct-valued slice so tablestore's page pack/unpack can reproduce the
// original on-disk field order exactly (see SPEC_FULL.md supplemented
// features).
type Replica struct {
	Next Handle // link to the next replica in this fragment's stored/oldStored list

	Node       NodeID
	InitialGci uint64

	NextLcp uint8 // 0..MaxLcpStored-1, cyclic

	LcpID            [configs.MaxLcpStored]uint32
	LcpStatus        [configs.MaxLcpStored]configs.ReplicaLcpStatus
	MaxGciStarted    [configs.MaxLcpStored]uint64
	MaxGciCompleted  [configs.MaxLcpStored]uint64

	NoCrashedReplicas uint8
	CreateGci         [configs.MaxCrashedReplicas]uint64
	ReplicaLastGci    [configs.MaxCrashedReplicas]uint64

	// Transient LCP-round state, never persisted.
	LcpOngoingFlag bool
	LcpIdStarted   uint32
}

// InfiniteGci marks the current (not-yet-crashed) interval in
// ReplicaLastGci, per spec §3 invariant: "the last entry has
// replicaLastGci = ∞ iff the replica is currently alive."
const InfiniteGci = ^uint64(0)

func NewReplica(node NodeID, initialGci uint64) *Replica {
	r := &Replica{Node: node, InitialGci: initialGci}
	r.NoCrashedReplicas = 1
	r.CreateGci[0] = initialGci
	r.ReplicaLastGci[0] = InfiniteGci
	for i := range r.LcpStatus {
		r.LcpStatus[i] = configs.LcpInvalid
	}
	return r
}

// IsAlive reports whether the replica's current interval is still open.
func (r *Replica) IsAlive() bool {
	return r.NoCrashedReplicas > 0 && r.ReplicaLastGci[r.NoCrashedReplicas-1] == InfiniteGci
}

// RecordCrash closes the current interval at lastGci and opens a new one
// once the replica restarts at restartGci. Overflow past
// MaxCrashedReplicas is fatal (EXIT_MAX_CRASHED_REPLICAS, spec §6).
func (r *Replica) RecordCrash(lastGci uint64) {
	configs.Assert(r.NoCrashedReplicas > 0, "RecordCrash on a replica with no open interval")
	r.ReplicaLastGci[r.NoCrashedReplicas-1] = lastGci
}

func (r *Replica) RecordRestart(createGci uint64) {
	configs.Assert(!r.IsAlive(), "RecordRestart on an already-alive replica")
	if r.NoCrashedReplicas >= configs.MaxCrashedReplicas {
		panic(dcerr.Fatal(dcerr.ExitMaxCrashedReplicas, "crashed-replica history overflow"))
	}
	r.CreateGci[r.NoCrashedReplicas] = createGci
	r.ReplicaLastGci[r.NoCrashedReplicas] = InfiniteGci
	r.NoCrashedReplicas++
}

// AdvanceKeepGci implements spec §4.6: "When createGci[0] < keepGCI, the
// interval's createGci[0] is advanced to keepGCI (older logs are not
// available)."
func (r *Replica) AdvanceKeepGci(keepGci uint64) {
	if r.NoCrashedReplicas > 0 && r.CreateGci[0] < keepGci {
		r.CreateGci[0] = keepGci
	}
}

// GCTail discards any crashed-replica interval whose createGci exceeds
// newestRestorableGci after a rollback (spec §4.6: "Whenever
// newestRestorableGCI is rolled back ... any crashed-replica entry with
// createGci > newestRestorableGCI is discarded from the tail.")
func (r *Replica) GCTail(newestRestorableGci uint64) {
	for r.NoCrashedReplicas > 0 && r.CreateGci[r.NoCrashedReplicas-1] > newestRestorableGci {
		r.NoCrashedReplicas--
	}
}

// GCHead garbage-collects the oldest interval once it is no longer
// needed: replicaLastGci[0] < oldestRestorableGCI (spec §3 Lifecycles).
func (r *Replica) GCHead(oldestRestorableGci uint64) bool {
	if r.NoCrashedReplicas > 1 && r.ReplicaLastGci[0] < oldestRestorableGci {
		for i := uint8(0); i < r.NoCrashedReplicas-1; i++ {
			r.CreateGci[i] = r.CreateGci[i+1]
			r.ReplicaLastGci[i] = r.ReplicaLastGci[i+1]
		}
		r.NoCrashedReplicas--
		return true
	}
	return false
}

// RecordLcp stores a completed LCP into this replica's cyclic slot array
// and advances the cyclic cursor (spec §4.4 Completion).
func (r *Replica) RecordLcp(lcpNo uint8, lcpID uint32, maxGciStarted, maxGciCompleted uint64) {
	r.LcpID[lcpNo] = lcpID
	r.LcpStatus[lcpNo] = configs.LcpValid
	r.MaxGciStarted[lcpNo] = maxGciStarted
	r.MaxGciCompleted[lcpNo] = maxGciCompleted
	r.NextLcp = (lcpNo + 1) % configs.MaxLcpStored
}

// BestStartGci finds the most recent LCP whose maxGciStarted is at most
// newestRestorableGci, falling back to the replica's initialGci when no
// LCP qualifies (spec §4.6 step 1).
func (r *Replica) BestStartGci(newestRestorableGci uint64) (startGci uint64, lcpNo uint8, lcpID uint32, found bool) {
	best := int8(-1)
	for i := uint8(0); i < configs.MaxLcpStored; i++ {
		if r.LcpStatus[i] != configs.LcpValid || r.MaxGciStarted[i] > newestRestorableGci {
			continue
		}
		if best == -1 || r.MaxGciStarted[i] > r.MaxGciStarted[uint8(best)] {
			best = int8(i)
		}
	}
	if best == -1 {
		return r.InitialGci, 0, 0, false
	}
	return r.MaxGciStarted[uint8(best)], uint8(best), r.LcpID[uint8(best)], true
}
