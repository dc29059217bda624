// Package lifecycle implements the node-lifecycle driver (spec §4.1,
// §6, §7, component C4): join permission, the include-node fan-out,
// dead-node cleanup across the other three protocol drivers, hot-spare
// assignment, and the NF_COMPLETEREP aggregation that reports a failed
// node's cleanup as finished to QMGR.
package lifecycle

import (
	"distcoord/dcerr"
	"distcoord/model"
	"distcoord/registry"
	"distcoord/signal"
	"distcoord/sysfile"
	"distcoord/takeover"
)

// Block names one of the four collaborators that independently report
// NF_COMPLETEREP for a failed node (spec §7: "each block (LQH, TC,
// DICT, DIH) independently reports NF_COMPLETEREP{blockNo,
// failedNodeId}").
type Block string

const (
	BlockLQH  Block = "LQH"
	BlockTC   Block = "TC"
	BlockDICT Block = "DICT"
	BlockDIH  Block = "DIH"
)

var allBlocks = [...]Block{BlockLQH, BlockTC, BlockDICT, BlockDIH}

// nfProgress aggregates one failed node's cleanup: a SignalCounter over
// every surviving peer's own NF_COMPLETEREP plus the four per-block
// completion flags.
type nfProgress struct {
	counter *signal.Counter
	blocks  map[Block]bool
}

// Driver ties the node registry to the take-over manager so a single
// NODE_FAILREP reconfigures node membership, in-flight signal counters
// across every protocol, and any take-over the failed node was part of
// (spec §2: "On node failure, the node-lifecycle driver reconfigures
// all four protocols").
type Driver struct {
	Registry *registry.Registry
	Counters *signal.Registry
	Takeover *takeover.Manager

	nfComplete map[model.NodeID]*nfProgress
}

func NewDriver(reg *registry.Registry, counters *signal.Registry, to *takeover.Manager) *Driver {
	return &Driver{
		Registry:   reg,
		Counters:   counters,
		Takeover:   to,
		nfComplete: make(map[model.NodeID]*nfProgress),
	}
}

// HandleStartPermReq fans START_INFOREQ out to every currently-alive
// peer (spec §6 START_PERMREQ; scenario S2: "Master broadcasts
// START_INFOREQ to {1,2,4}").
func (d *Driver) HandleStartPermReq(peers []model.NodeID, send func(model.NodeID)) *signal.Counter {
	c := signal.NewCounter(signal.ReasonStartInfo, peers)
	d.Counters.Track(c)
	for _, n := range peers {
		send(n)
	}
	return c
}

// CompleteStartPerm marks the starting node as Starting once every peer
// has confirmed (spec S2: "all confirm; master replies
// START_PERMCONF{startingNode=3, failNr=F}").
func (d *Driver) CompleteStartPerm(c *signal.Counter, startingNode model.NodeID) {
	d.Counters.Untrack(c)
	d.Registry.MarkStarting(startingNode)
}

// StartMeChunkWords is the sysfile-copy chunk size the master uses when
// streaming the restart record to a joining node (spec S2:
// "StartMeConf::DATA_SIZE words").
const StartMeChunkWords = 32

// ChunkSysfile splits an encoded sysfile into StartMeChunkWords-sized
// pieces for the START_MEREQ copy.
func ChunkSysfile(words []uint32) [][]uint32 {
	var chunks [][]uint32
	for i := 0; i < len(words); i += StartMeChunkWords {
		end := i + StartMeChunkWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, append([]uint32(nil), words[i:end]...))
	}
	return chunks
}

// BuildStartMeChunks encodes the sysfile and chunks it in one step,
// used by the START_MEREQ handshake (spec S2).
func BuildStartMeChunks(sf *sysfile.Sysfile) ([][]uint32, error) {
	words, err := sf.Encode()
	if err != nil {
		return nil, err
	}
	return ChunkSysfile(words), nil
}

// IncludeNode fans INCL_NODEREQ out to every alive peer (spec §4.1,
// §6: "INCL_NODEREQ") so every block adds the joining node before it is
// marked alive cluster-wide.
func (d *Driver) IncludeNode(peers []model.NodeID, send func(model.NodeID)) *signal.Counter {
	c := signal.NewCounter(signal.ReasonInclNode, peers)
	d.Counters.Track(c)
	for _, n := range peers {
		send(n)
	}
	return c
}

// CompleteIncludeNode marks the node alive once every peer has
// confirmed the inclusion.
func (d *Driver) CompleteIncludeNode(c *signal.Counter, node model.NodeID) {
	d.Counters.Untrack(c)
	d.Registry.MarkAlive(node)
}

// AssignHotSpare implements spec §4.4's rule that a node which reaches
// NotActive_NotTakenOver "must be taken over by a hot spare before [it]
// may be rejoined": it picks an alive hot spare and starts a take-over
// for the failed node's replicas.
func (d *Driver) AssignHotSpare(failedNode model.NodeID, tables []*model.Table) (*takeover.Record, error) {
	spare, ok := d.Registry.PickHotSpare()
	if !ok {
		return nil, dcerr.New(dcerr.ResourceConflict, "no hot spare available for take-over")
	}
	return d.Takeover.Begin(spare, failedNode, tables)
}

// HandleNodeFailure applies a NODE_FAILREP across every protocol (spec
// §4.1, §2): it updates the registry (which escalates to cluster
// failure on group extinction), fixes up every tracked signal.Counter
// so no fan-out protocol hangs waiting on a dead node, and releases any
// take-over whose starting node is the failed node. A take-over whose
// copy node failed is not re-targeted here (see HandleCopyNodeFailure). It
// returns the counters that became Done as a result of the fix-up, so
// the caller can invoke each one's completion continuation exactly as
// if the real reply had arrived.
func (d *Driver) HandleNodeFailure(failedNodes []model.NodeID, sf *sysfile.Sysfile) ([]*signal.Counter, error) {
	if err := d.Registry.HandleNodeFailure(failedNodes); err != nil {
		return nil, err
	}
	var completed []*signal.Counter
	for _, n := range failedNodes {
		completed = append(completed, d.Counters.FixUpNodeFailure(n)...)
		if d.Takeover != nil {
			if rec, ok := d.Takeover.RecordFor(n); ok {
				d.Takeover.HandleStartingNodeFailure(n, sf)
				_ = rec
			}
		}
	}
	return completed, nil
}

// HandleCopyNodeFailure re-targets an in-flight take-over whose copy
// node just failed (spec §4.5 S4): picks a new alive copy node (any
// alive node other than the starting and failed node) and resumes from
// PrepareCreate for the same fragment.
func (d *Driver) HandleCopyNodeFailure(rec *takeover.Record) error {
	for _, n := range d.Registry.AliveNodes() {
		if n != rec.StartingNode && n != rec.FailedNode && n != rec.CopyNode {
			d.Takeover.HandleCopyNodeFailure(rec, n)
			return nil
		}
	}
	return dcerr.New(dcerr.ResourceConflict, "no alive node available to replace failed copy node")
}

// BeginNodeFailComplete starts the §7 NF_COMPLETEREP aggregation for
// one failed node: a SignalCounter over every surviving peer's own
// completion report, plus the four per-block flags.
func (d *Driver) BeginNodeFailComplete(failedNode model.NodeID, alivePeers []model.NodeID) *signal.Counter {
	c := signal.NewCounter(signal.ReasonNFComplete, alivePeers)
	d.Counters.Track(c)
	d.nfComplete[failedNode] = &nfProgress{counter: c, blocks: make(map[Block]bool, len(allBlocks))}
	return c
}

// OnPeerNFCompleteRep records one surviving peer's own NF_COMPLETEREP
// for the failed node.
func (d *Driver) OnPeerNFCompleteRep(failedNode, peer model.NodeID) {
	if p, ok := d.nfComplete[failedNode]; ok {
		p.counter.Clear(peer)
	}
}

// OnBlockNFCompleteRep records this node's own block (LQH, TC, DICT, or
// DIH) finishing its cleanup for the failed node.
func (d *Driver) OnBlockNFCompleteRep(failedNode model.NodeID, block Block) {
	if p, ok := d.nfComplete[failedNode]; ok {
		p.blocks[block] = true
	}
}

// NodeFailComplete reports whether every peer and every local block has
// finished, per spec §7: "when that counter empties and all four
// per-block flags are true, the DC reports node-fail-complete to
// QMGR." Once true it stops tracking the failed node.
func (d *Driver) NodeFailComplete(failedNode model.NodeID) bool {
	p, ok := d.nfComplete[failedNode]
	if !ok || !p.counter.Done() {
		return false
	}
	for _, b := range allBlocks {
		if !p.blocks[b] {
			return false
		}
	}
	d.Counters.Untrack(p.counter)
	delete(d.nfComplete, failedNode)
	return true
}
