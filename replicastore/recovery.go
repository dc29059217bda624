package replicastore

import (
	"distcoord/configs"
	"distcoord/dcerr"
	"distcoord/model"
)

// LogInterval names one node's contiguous log coverage window, the unit
// the chain-selection step assembles into the up-to-4-entry list sent
// in START_FRAGREQ (spec §4.6 step 2/3).
type LogInterval struct {
	Node  model.NodeID
	Start uint64
	Stop  uint64 // model.InfiniteGci if the node is still alive and logging
}

// RestartPlan is the chosen (replica, LCP, log-chain) triple for one
// fragment's recovery (spec §4.6).
type RestartPlan struct {
	StartingReplica model.Handle
	StartingNode    model.NodeID
	LcpNo           uint8
	LcpID           uint32
	LogChain        []LogInterval
}

// SelectRestartPlan picks a minimal (replica, LCP, log-node-list) triple
// that restores a fragment to newestRestorableGci (spec §4.6). aliveOf
// reports whether a candidate replica's node is alive in the new
// cluster; only such replicas are eligible starting points, and only
// their recorded intervals contribute log coverage: the replica's own
// log is preferred when it covers, otherwise the live node whose
// interval reaches furthest.
func SelectRestartPlan(pool *model.Pool[model.Replica], f *model.Fragment, newestRestorableGci uint64, aliveOf func(model.NodeID) bool) (*RestartPlan, error) {
	var best *RestartPlan
	var bestStartGci uint64

	tryReplica := func(h model.Handle, r *model.Replica) bool {
		if !aliveOf(r.Node) {
			return true
		}
		startGci, lcpNo, lcpID, found := r.BestStartGci(newestRestorableGci)
		if !found {
			startGci = r.InitialGci
		}
		intervals := candidateIntervals(pool, f, aliveOf)
		chain, err := buildChain(r.Node, startGci, newestRestorableGci, intervals)
		if err != nil {
			return true // this replica can't be completed; try another
		}
		if best == nil || startGci > bestStartGci {
			best = &RestartPlan{StartingReplica: h, StartingNode: r.Node, LcpNo: lcpNo, LcpID: lcpID, LogChain: chain}
			bestStartGci = startGci
		}
		return true
	}
	f.WalkStored(pool, tryReplica)
	f.WalkOldStored(pool, tryReplica)

	if best == nil {
		return nil, dcerr.Fatal(dcerr.ExitNoRestorableReplica, "no restorable replica covers newestRestorableGCI")
	}
	return best, nil
}

// candidateIntervals flattens every alive-node replica's crash-interval
// history into the log-coverage windows the chain builder can draw on.
func candidateIntervals(pool *model.Pool[model.Replica], f *model.Fragment, aliveOf func(model.NodeID) bool) []LogInterval {
	var out []LogInterval
	collect := func(_ model.Handle, r *model.Replica) bool {
		if !aliveOf(r.Node) {
			return true
		}
		for i := uint8(0); i < r.NoCrashedReplicas; i++ {
			out = append(out, LogInterval{Node: r.Node, Start: r.CreateGci[i], Stop: r.ReplicaLastGci[i]})
		}
		return true
	}
	f.WalkStored(pool, collect)
	f.WalkOldStored(pool, collect)
	return out
}

// buildChain assembles up to MaxLogChainNodes intervals covering
// [startGci, newestRestorableGci] (spec §4.6 step 2), preferring the
// starting replica's own node first, then greedily choosing whichever
// remaining interval reaches furthest past the current frontier.
func buildChain(ownNode model.NodeID, startGci, newestRestorableGci uint64, intervals []LogInterval) ([]LogInterval, error) {
	if startGci >= newestRestorableGci {
		return nil, nil
	}
	cur := startGci
	var chain []LogInterval
	remaining := append([]LogInterval(nil), intervals...)

	for len(chain) < configs.MaxLogChainNodes && cur < newestRestorableGci {
		bestIdx := -1
		bestStop := cur
		// Prefer the starting replica's own log at each step when it covers.
		for i, iv := range remaining {
			if iv.Start > cur || iv.Stop <= cur {
				continue
			}
			if iv.Node == ownNode && (bestIdx == -1 || remaining[bestIdx].Node != ownNode) {
				bestIdx = i
				bestStop = iv.Stop
				continue
			}
			if iv.Stop > bestStop && (bestIdx == -1 || remaining[bestIdx].Node != ownNode) {
				bestIdx = i
				bestStop = iv.Stop
			}
		}
		if bestIdx == -1 {
			return nil, dcerr.Fatal(dcerr.ExitNoRestorableReplica, "no log chain covers required GCI range")
		}
		chosen := remaining[bestIdx]
		chain = append(chain, chosen)
		cur = chosen.Stop
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	if cur < newestRestorableGci {
		return nil, dcerr.Fatal(dcerr.ExitNoRestorableReplica, "log chain exhausted before reaching newestRestorableGCI")
	}
	return chain, nil
}
