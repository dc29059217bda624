package signal

import (
	"sync"

	"distcoord/model"
)

// Reason names which fan-out protocol a Counter is aggregating replies
// for (spec §5): "Counters exist for each of COPY_GCI, COPY_TAB,
// CREATE_FRAG, DIH_SWITCH_REPLICA, EMPTY_LCP, END_TO, GCP_COMMIT,
// GCP_PREPARE, GCP_SAVE, INCL_NODE, MASTER_GCP, MASTER_LCP, START_INFO,
// START_REC, START_TO, STOP_ME, TC_CLOPSIZE, TCGETOPSIZE, UPDATE_TO,
// START_LCP."
type Reason string

const (
	ReasonCopyGci           Reason = "COPY_GCI"
	ReasonCopyTab           Reason = "COPY_TAB"
	ReasonCreateFrag        Reason = "CREATE_FRAG"
	ReasonDihSwitchReplica  Reason = "DIH_SWITCH_REPLICA"
	ReasonEmptyLcp          Reason = "EMPTY_LCP"
	ReasonEndTo             Reason = "END_TO"
	ReasonGcpCommit         Reason = "GCP_COMMIT"
	ReasonGcpPrepare        Reason = "GCP_PREPARE"
	ReasonGcpSave           Reason = "GCP_SAVE"
	ReasonInclNode          Reason = "INCL_NODE"
	ReasonMasterGcp         Reason = "MASTER_GCP"
	ReasonMasterLcp         Reason = "MASTER_LCP"
	ReasonStartInfo         Reason = "START_INFO"
	ReasonStartRec          Reason = "START_REC"
	ReasonStartTo           Reason = "START_TO"
	ReasonStopMe            Reason = "STOP_ME"
	ReasonTcClopSize        Reason = "TC_CLOPSIZE"
	ReasonTcGetOpSize       Reason = "TCGETOPSIZE"
	ReasonUpdateTo          Reason = "UPDATE_TO"
	ReasonStartLcp          Reason = "START_LCP"

	// ReasonNFComplete is the §7 per-failed-node peer aggregation
	// ("m_NF_COMPLETE_REP SignalCounter per failed node"), distinct from
	// the fan-out reasons above: it tracks every alive peer's own
	// NF_COMPLETEREP rather than replies to a signal the DC itself sent.
	ReasonNFComplete Reason = "NF_COMPLETE"
)

// Counter is a reply-aggregation bitset over an expected node set (spec
// §5, §9 design notes): "a bitset of expected nodes plus a reason code;
// expose expect(node), clear(node), done(), nodes()". When a node fails
// while its bit is still outstanding, the node-failure handler clears it
// and synthesizes a reply so the waiting protocol driver is never stuck.
type Counter struct {
	mu       sync.Mutex
	reason   Reason
	expected map[model.NodeID]bool
}

func NewCounter(reason Reason, nodes []model.NodeID) *Counter {
	c := &Counter{reason: reason, expected: make(map[model.NodeID]bool, len(nodes))}
	for _, n := range nodes {
		c.expected[n] = true
	}
	return c
}

// Expect adds a node to the outstanding set (used when the expected set
// is discovered incrementally, e.g. participatingLQH).
func (c *Counter) Expect(node model.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expected[node] = true
}

// Clear removes a node from the outstanding set, whether because its
// reply arrived or because the node-failure handler fabricated one on
// its behalf.
func (c *Counter) Clear(node model.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.expected, node)
}

func (c *Counter) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.expected) == 0
}

// Nodes returns the still-outstanding node set (a snapshot), used by the
// node-failure fix-up to know which counters need a synthetic clear.
func (c *Counter) Nodes() []model.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.NodeID, 0, len(c.expected))
	for n := range c.expected {
		out = append(out, n)
	}
	return out
}

func (c *Counter) Reason() Reason {
	return c.reason
}

// Registry tracks every live Counter so the node-lifecycle driver can
// fix up all of them in one pass on NODE_FAILREP (spec §5: "Across
// senders [signals] are not [FIFO] ... when a node fails while bits are
// outstanding, the counter is cleared for that node and a synthetic
// reply is synthesised").
type Registry struct {
	mu       sync.Mutex
	counters map[*Counter]struct{}
}

func NewRegistry() *Registry {
	return &Registry{counters: make(map[*Counter]struct{})}
}

func (r *Registry) Track(c *Counter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[c] = struct{}{}
}

func (r *Registry) Untrack(c *Counter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.counters, c)
}

// FixUpNodeFailure clears the failed node from every tracked counter and
// returns the counters that became Done as a result, so the caller can
// invoke each one's completion continuation (the synthetic reply).
func (r *Registry) FixUpNodeFailure(node model.NodeID) []*Counter {
	r.mu.Lock()
	cs := make([]*Counter, 0, len(r.counters))
	for c := range r.counters {
		cs = append(cs, c)
	}
	r.mu.Unlock()

	var completed []*Counter
	for _, c := range cs {
		if _, outstanding := c.snapshotHas(node); outstanding {
			c.Clear(node)
			if c.Done() {
				completed = append(completed, c)
			}
		}
	}
	return completed
}

func (c *Counter) snapshotHas(node model.NodeID) (model.NodeID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.expected[node]
	return node, ok
}
