package coordinator

import (
	"distcoord/configs"
	"distcoord/model"
	"distcoord/signal"
	"distcoord/takeover"
)

// takeoverInFlight tracks the one SignalCounter currently outstanding
// for a given starting node's take-over, mirroring the way BeginGcpCycle
// keeps its phase counters on the Coordinator rather than inside gcp.Driver
// (gcp/lcp are single-round-at-a-time; a take-over is per-node-group, so
// this is keyed by starting node instead of held in one field).
type takeoverInFlight struct {
	rec     *takeover.Record
	counter *signal.Counter
}

// BeginTakeOver starts the master side of spec §4.5's copy-fragment
// state machine for a joining/restarting node. Callers are
// lifecycle.Driver.AssignHotSpare (automatic hot-spare take-over, spec
// §4.4) and the START_TOREQ admin handshake (scenario S2); both resolve
// to the same (startingNode, failedNode) pair this drives to completion.
func (c *Coordinator) BeginTakeOver(startingNode, failedNode model.NodeID) error {
	rec, err := c.Takeover.Begin(startingNode, failedNode, c.allTables())
	if err != nil {
		return err
	}
	c.Takeover.PersistStart(rec, c.Sysfile)
	if err := c.SysfileStore.Write(c.Sysfile); err != nil {
		return err
	}
	nodes := c.Registry.AliveNodes()
	counter := c.Takeover.SendStartTo(rec, nodes, func(n model.NodeID) {
		c.Send(n, KindStartToReq, StartToReqMsg{StartingNode: startingNode, FailedNode: failedNode})
	})
	c.takeovers[startingNode] = &takeoverInFlight{rec: rec, counter: counter}
	return nil
}

// StartToReqMsg carries spec §6's START_TOREQ.
type StartToReqMsg struct{ StartingNode, FailedNode model.NodeID }

func (c *Coordinator) onStartToReq(s signal.Signal) {
	c.TakeoverSlave.OnStartTo()
	c.Send(c.Registry.Master(), KindStartToConf, StartToConfMsg{StartingNode: s.Payload.(StartToReqMsg).StartingNode})
}

// StartToConfMsg carries the participant's START_TOREQ acknowledgement.
type StartToConfMsg struct{ StartingNode model.NodeID }

func (c *Coordinator) onStartToConf(s signal.Signal) {
	msg := s.Payload.(StartToConfMsg)
	inFlight, ok := c.takeovers[msg.StartingNode]
	if !ok || inFlight.counter == nil {
		return
	}
	inFlight.counter.Clear(model.NodeID(s.From))
	if inFlight.counter.Done() {
		c.Takeover.CompleteStartTo(inFlight.rec, inFlight.counter)
		inFlight.counter = nil
		c.advanceTakeOver(inFlight)
	}
}

// advanceTakeOver drives spec §4.5's "SelectingNext" loop: move to the
// next fragment with a replica on the failed node, or, once the
// worklist is exhausted, close out the take-over.
func (c *Coordinator) advanceTakeOver(inFlight *takeoverInFlight) {
	rec := inFlight.rec
	if !c.Takeover.SelectNext(rec) {
		c.Takeover.UpdateToCopyCompleted(rec)
		nodes := c.Registry.AliveNodes()
		inFlight.counter = c.Takeover.SendEndTo(rec, nodes, func(n model.NodeID) {
			c.Send(n, KindEndToReq, EndToReqMsg{StartingNode: rec.StartingNode})
		})
		return
	}
	nodes := c.Registry.AliveNodes()
	initialGci := c.Sysfile.NewestRestorableGCI
	inFlight.counter = c.Takeover.PrepareCreate(rec, nodes, initialGci, func(n model.NodeID) {
		c.Send(n, KindCreateFragReq, CreateFragReqMsg{StartingNode: rec.StartingNode, TableID: rec.CurrentTable()})
	})
}

// CreateFragReqMsg carries spec §6's CREATE_FRAGREQ{STORED}.
type CreateFragReqMsg struct {
	StartingNode model.NodeID
	TableID      model.TableID
}

func (c *Coordinator) onCreateFragReq(s signal.Signal) {
	c.TakeoverSlave.OnCreatePrepare()
	msg := s.Payload.(CreateFragReqMsg)
	c.Send(c.Registry.Master(), KindCreateFragConf, CreateFragConfMsg{StartingNode: msg.StartingNode})
}

// CreateFragConfMsg carries the participant's CREATE_FRAGREQ reply.
type CreateFragConfMsg struct{ StartingNode model.NodeID }

func (c *Coordinator) onCreateFragConf(s signal.Signal) {
	msg := s.Payload.(CreateFragConfMsg)
	inFlight, ok := c.takeovers[msg.StartingNode]
	if !ok || inFlight.counter == nil {
		return
	}
	inFlight.counter.Clear(model.NodeID(s.From))
	if !inFlight.counter.Done() {
		return
	}
	copyNode, ok := c.pickCopyNode(inFlight.rec)
	if !ok {
		return
	}
	c.Takeover.CompletePrepareCreate(inFlight.rec, inFlight.counter, copyNode)
	inFlight.counter = nil
	c.Takeover.BeginCopyFrag(inFlight.rec, func(copyNode, startingNode model.NodeID) {
		c.Send(copyNode, KindCopyFragReq, CopyFragReqMsg{StartingNode: startingNode})
	})
}

// pickCopyNode chooses any alive node other than the starting and
// failed node to stream the fragment's current data (spec §4.5 "At
// CopyFrag, the master orders the copy node's LQH to stream data to the
// starting node").
func (c *Coordinator) pickCopyNode(rec *takeover.Record) (model.NodeID, bool) {
	for _, n := range c.Registry.AliveNodes() {
		if n != rec.StartingNode && n != rec.FailedNode {
			return n, true
		}
	}
	return 0, false
}

// CopyFragReqMsg orders the copy node to stream a fragment's data to the
// starting node (spec §4.5).
type CopyFragReqMsg struct{ StartingNode model.NodeID }

func (c *Coordinator) onCopyFragReq(s signal.Signal) {
	c.Send(c.Registry.Master(), KindCopyFragConf, CopyFragConfMsg{StartingNode: s.Payload.(CopyFragReqMsg).StartingNode})
}

// CopyFragConfMsg reports that the copy node finished streaming the
// fragment.
type CopyFragConfMsg struct{ StartingNode model.NodeID }

func (c *Coordinator) onCopyFragConf(s signal.Signal) {
	msg := s.Payload.(CopyFragConfMsg)
	inFlight, ok := c.takeovers[msg.StartingNode]
	if !ok {
		return
	}
	c.TakeoverSlave.OnCopyFragDone()
	c.Takeover.CompleteCopyFrag(inFlight.rec)
	c.Takeover.UpdateToCopyFragCompleted(inFlight.rec)
	if err := c.SysfileStore.Write(c.Sysfile); err != nil {
		configs.Warn(false, "sysfile write failed during copy-fragment completion: "+err.Error())
	}
	c.commitCreateWithMutex(inFlight)
}

// commitCreateWithMutex acquires switchPrimaryMutex before moving the
// new replica into the stored list (spec §4.5: "this is done under a
// cluster-wide switchPrimaryMutex so no transaction observes a
// half-switched primary"); the retry budget matches the 5-second
// resource-contention window spec §4.5/§5 name for take-over-group
// collisions.
func (c *Coordinator) commitCreateWithMutex(inFlight *takeoverInFlight) {
	if !c.Takeover.LockSwitchPrimary(inFlight.rec) {
		c.Queue.ContinueB(KindRetryCommitCreate, inFlight.rec.StartingNode)
		return
	}
	c.TakeoverSlave.OnCreateCommit()
	c.Takeover.CommitCreate(inFlight.rec)
	c.TakeoverSlave.OnCopyCompleted()
	c.advanceTakeOver(inFlight)
}

func (c *Coordinator) onRetryCommitCreate(s signal.Signal) {
	startingNode := s.Payload.(model.NodeID)
	if inFlight, ok := c.takeovers[startingNode]; ok {
		c.commitCreateWithMutex(inFlight)
	}
}

// EndToReqMsg carries spec §6's END_TOREQ.
type EndToReqMsg struct{ StartingNode model.NodeID }

func (c *Coordinator) onEndToReq(s signal.Signal) {
	c.TakeoverSlave.OnEndTo()
	c.Send(c.Registry.Master(), KindEndToConf, EndToConfMsg{StartingNode: s.Payload.(EndToReqMsg).StartingNode})
}

// EndToConfMsg carries the participant's END_TOREQ acknowledgement.
type EndToConfMsg struct{ StartingNode model.NodeID }

func (c *Coordinator) onEndToConf(s signal.Signal) {
	msg := s.Payload.(EndToConfMsg)
	inFlight, ok := c.takeovers[msg.StartingNode]
	if !ok || inFlight.counter == nil {
		return
	}
	inFlight.counter.Clear(model.NodeID(s.From))
	if inFlight.counter.Done() {
		c.Takeover.CompleteEndTo(inFlight.rec, inFlight.counter, c.Sysfile)
		delete(c.takeovers, msg.StartingNode)
		if c.EventLog != nil {
			c.EventLog.RecordTakeoverEnd(inFlight.rec.StartingNode, inFlight.rec.FailedNode)
		}
		c.recordRoundAudit("takeover_end", map[string]interface{}{
			"startingNode": inFlight.rec.StartingNode,
			"failedNode":   inFlight.rec.FailedNode,
		})
	}
}

// HandleStartingNodeFailure releases any in-flight take-over whose
// starting node just died (spec §4.5 S4) and drops its local bookkeeping.
func (c *Coordinator) HandleStartingNodeFailure(startingNode model.NodeID) {
	c.Takeover.HandleStartingNodeFailure(startingNode, c.Sysfile)
	delete(c.takeovers, startingNode)
}

// HandleCopyNodeFailure re-targets an in-flight take-over whose copy
// node just died (spec §4.5 S4).
func (c *Coordinator) HandleCopyNodeFailure(startingNode model.NodeID) error {
	inFlight, ok := c.takeovers[startingNode]
	if !ok {
		return nil
	}
	if err := c.Lifecycle.HandleCopyNodeFailure(inFlight.rec); err != nil {
		return err
	}
	c.Takeover.BeginCopyFrag(inFlight.rec, func(copyNode, startingNode model.NodeID) {
		c.Send(copyNode, KindCopyFragReq, CopyFragReqMsg{StartingNode: startingNode})
	})
	return nil
}
