package lcp

import "distcoord/model"

// Drain tracks stage 1 of a master-takeover mid-LCP (spec §4.4 "Drain
// in-flight fragment reports"): EMPTY_LCP_REQ replies plus the count of
// LCP_FRAG_REP signals still owed from before the old master died.
type Drain struct {
	pending            map[model.NodeID]bool
	hasMin             bool
	minTable           model.TableID
	minFrag            model.FragID
	fragRepOutstanding int
}

func NewDrain(nodes []model.NodeID, fragRepOutstanding int) *Drain {
	d := &Drain{pending: make(map[model.NodeID]bool, len(nodes)), fragRepOutstanding: fragRepOutstanding}
	for _, n := range nodes {
		d.pending[n] = true
	}
	return d
}

// OnEmptyLcpConf records one node's EMPTY_LCP_CONF reply: idle, or its
// lowest outstanding (tableId, fragId) pair. The minimum across all
// non-idle replies is kept as the walk's resume point.
func (d *Drain) OnEmptyLcpConf(node model.NodeID, idle bool, tableID model.TableID, fragID model.FragID) {
	delete(d.pending, node)
	if idle {
		return
	}
	if !d.hasMin || tableID < d.minTable || (tableID == d.minTable && fragID < d.minFrag) {
		d.hasMin = true
		d.minTable = tableID
		d.minFrag = fragID
	}
}

func (d *Drain) OnFragRepDrained() {
	if d.fragRepOutstanding > 0 {
		d.fragRepOutstanding--
	}
}

// Ready reports whether every node has replied to EMPTY_LCP_REQ and
// every in-flight LCP_FRAG_REP has arrived.
func (d *Drain) Ready() bool {
	return len(d.pending) == 0 && d.fragRepOutstanding == 0
}

func (d *Drain) MinPosition() (model.TableID, model.FragID, bool) {
	return d.minTable, d.minFrag, d.hasMin
}

// TakeoverMerge tracks stage 2 (spec §4.4 "Query participants' LCP
// state"): MASTER_LCPREQ replies folded through the merge table.
type TakeoverMerge struct {
	Order    []uint32
	Statuses map[uint32]ParticipantStatus
	pending  map[model.NodeID]bool
}

func NewTakeoverMerge(nodes []model.NodeID) *TakeoverMerge {
	tm := &TakeoverMerge{Statuses: make(map[uint32]ParticipantStatus, len(nodes)), pending: make(map[model.NodeID]bool, len(nodes))}
	for _, n := range nodes {
		tm.Order = append(tm.Order, uint32(n))
		tm.pending[n] = true
	}
	return tm
}

func (tm *TakeoverMerge) OnMasterLcpConf(node model.NodeID, status ParticipantStatus) {
	tm.Statuses[uint32(node)] = status
	delete(tm.pending, node)
}

func (tm *TakeoverMerge) Ready() bool {
	return len(tm.pending) == 0
}

func (tm *TakeoverMerge) Resolve() (MergeState, error) {
	return MergeAll(tm.Order, tm.Statuses)
}
