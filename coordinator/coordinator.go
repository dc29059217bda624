// Package coordinator wires the node registry, the two-copy stores, the
// cluster mutexes, and the four protocol drivers (GCP, LCP, take-over,
// node-lifecycle) into the single mutable struct spec §9 calls for:
// "the process-wide singletons become one coordinator struct passed into
// every handler; no true globals." It owns the signal.Queue and is the
// only package that knows the full inbound/outbound catalogue (spec §6).
package coordinator

import (
	"time"

	"distcoord/audit"
	"distcoord/clustermutex"
	"distcoord/configs"
	"distcoord/eventlog"
	"distcoord/gcp"
	"distcoord/lcp"
	"distcoord/lifecycle"
	"distcoord/model"
	"distcoord/registry"
	"distcoord/replicastore"
	"distcoord/signal"
	"distcoord/sysfile"
	"distcoord/tablestore"
	"distcoord/takeover"
	"distcoord/verifygate"
)

// SendFunc delivers one outbound signal to a peer node. It is injected
// rather than called against a real transport, keeping every package
// under this one transport-free (spec §1 Non-goals: "network
// transport"); cmd/dcnode wires it to a real connection, cmd/dcbench and
// newTestCoordinator to a Send that discards every signal, and the
// take-over handshake test to a loopback that posts onto the target
// Coordinator's own Queue.
type SendFunc func(to model.NodeID, kind Kind, payload interface{})

// Coordinator is the top-level struct described in spec §9's design
// notes. Every field is mutated only from within a signal handler
// running on Queue, so no further synchronization is needed despite the
// struct being shared across every handler (spec §5 Shared resources).
type Coordinator struct {
	Self model.NodeID

	Registry     *registry.Registry
	SysfileStore *sysfile.Store
	TableStore   *tablestore.Store
	ReplicaStore *replicastore.Store
	Mutexes      *clustermutex.Manager
	Counters     *signal.Registry
	Queue        *signal.Queue

	GCP       *gcp.Driver
	LCP       *lcp.Driver
	Takeover  *takeover.Manager
	Lifecycle *lifecycle.Driver
	Gate      *verifygate.Gate

	Sysfile *sysfile.Sysfile
	Tables  map[model.TableID]*model.Table

	// OpSize reports the TCs' accumulated operation size (spec §4.4
	// Round start); cmd/dcnode wires this to the real TC block, tests
	// and dcbench to a constant or counter.
	OpSize func() uint64

	Send SendFunc

	// TakeoverSlave is this node's own view of an in-flight take-over
	// when it is the starting node (spec §4.5 "Slave state machine").
	TakeoverSlave *takeover.Slave

	// EventLog and the audit sinks are optional observability hooks
	// (SPEC_FULL.md DOMAIN STACK): nil in tests and in configurations
	// that don't wire tidwall/wal/pgx/mongo-driver.
	EventLog      *eventlog.Log
	AuditSnapshot audit.SnapshotSink
	AuditRounds   audit.RoundSink

	gcpPrepare *signal.Counter
	gcpCommit  *signal.Counter
	gcpSave    *signal.Counter

	startPerm *signal.Counter
	inclNode  *signal.Counter
	takeovers map[model.NodeID]*takeoverInFlight

	stopTick chan struct{}
}

// New builds a Coordinator over an already-loaded cluster config and
// sysfile. It does not itself decide initial-start vs. restart — the
// caller supplies the sysfile (cmd/dcnode passes a fresh sysfile.New())
// and calls RegisterFromConfig/FormNodeGroups or LoadNodeGroups before
// handing the result here, mirroring spec §6's READ_NODESCONF input
// being driven externally by QMGR.
func New(self model.NodeID, reg *registry.Registry, sf *sysfile.Sysfile, sfStore *sysfile.Store, tStore *tablestore.Store, rs *replicastore.Store, send SendFunc) *Coordinator {
	mutexes := clustermutex.NewManager()
	counters := signal.NewRegistry()
	gate := verifygate.New()

	to := takeover.NewManager(mutexes, counters, reg, rs)
	lcDriver := lifecycle.NewDriver(reg, counters, to)

	c := &Coordinator{
		Self:         self,
		Registry:     reg,
		SysfileStore: sfStore,
		TableStore:   tStore,
		ReplicaStore: rs,
		Mutexes:      mutexes,
		Counters:     counters,
		Queue:        signal.NewQueue(),
		GCP:          gcp.NewDriver(counters, gate),
		LCP:          lcp.NewDriver(mutexes, counters, reg, sfStore, tStore),
		Takeover:     to,
		Lifecycle:    lcDriver,
		Gate:         gate,
		Sysfile:       sf,
		Tables:        make(map[model.TableID]*model.Table),
		OpSize:        func() uint64 { return 0 },
		Send:          send,
		TakeoverSlave: takeover.NewSlave(),
		takeovers:     make(map[model.NodeID]*takeoverInFlight),
		stopTick:      make(chan struct{}),
	}
	c.registerHandlers()
	return c
}

// AddTable registers a table descriptor so the GCP/LCP/DIGETNODESREQ
// handlers can see it; table creation itself (DIADDTABREQ et al, spec
// §6) is a catalogue operation with no protocol state of its own beyond
// what tablestore.Write/Read already persists.
func (c *Coordinator) AddTable(t *model.Table) {
	c.Tables[t.ID] = t
}

func (c *Coordinator) allTables() []*model.Table {
	out := make([]*model.Table, 0, len(c.Tables))
	for _, t := range c.Tables {
		out = append(out, t)
	}
	return out
}

func (c *Coordinator) registerHandlers() {
	q := c.Queue

	q.Register(KindReadNodesConf, c.onReadNodesConf)
	q.Register(KindNodeFailRep, c.onNodeFailRep)

	q.Register(KindDigetNodesReq, c.onDigetNodesReq)

	q.Register(KindGcpPrepare, c.onGcpPrepare)
	q.Register(KindGcpPrepareConf, c.onGcpPrepareConf)
	q.Register(KindGcpCommit, c.onGcpCommit)
	q.Register(KindGcpCommitConf, c.onGcpCommitConf)
	q.Register(KindGcpSave, c.onGcpSave)
	q.Register(KindGcpSaveConf, c.onGcpSaveConf)
	q.Register(KindGcpMonitorTick, c.onGcpMonitorTick)

	q.Register(KindLcpTick, c.onLcpTick)
	q.Register(KindLcpFragRep, c.onLcpFragRep)
	q.Register(KindLcpCompleteRep, c.onLcpCompleteRep)

	q.Register(KindBlockCommitOrd, c.onBlockCommitOrd)
	q.Register(KindUnblockCommitOrd, c.onUnblockCommitOrd)
	q.Register(KindVerifyGateTick, c.onVerifyGateTick)

	q.Register(KindStartPermReq, c.onStartPermReq)
	q.Register(KindStartInfoConf, c.onStartInfoConf)
	q.Register(KindInclNodeReq, c.onInclNodeReq)
	q.Register(KindInclNodeConf, c.onInclNodeConf)

	q.Register(KindStartToReq, c.onStartToReq)
	q.Register(KindStartToConf, c.onStartToConf)
	q.Register(KindCreateFragReq, c.onCreateFragReq)
	q.Register(KindCreateFragConf, c.onCreateFragConf)
	q.Register(KindCopyFragReq, c.onCopyFragReq)
	q.Register(KindCopyFragConf, c.onCopyFragConf)
	q.Register(KindEndToReq, c.onEndToReq)
	q.Register(KindEndToConf, c.onEndToConf)
	q.Register(KindRetryCommitCreate, c.onRetryCommitCreate)
}

// recordRoundAudit mirrors a protocol-round milestone to the append-only
// audit sink (mongosink in cmd/dcnode) when one is wired, and takes a
// point-in-time snapshot through the periodic sink (pgsink). Both are
// best-effort: a sink failure is logged, never escalated, since neither
// is part of the protocol's own correctness (spec §1 Non-goals:
// observability is ambient, not load-bearing).
func (c *Coordinator) recordRoundAudit(kind string, detail map[string]interface{}) {
	if c.AuditRounds != nil {
		if err := c.AuditRounds.WriteRound(audit.RoundEvent{Kind: kind, Detail: detail}); err != nil {
			configs.Warn(false, "audit round sink failed: "+err.Error())
		}
	}
	if c.AuditSnapshot != nil {
		if err := c.AuditSnapshot.WriteSnapshot(c.snapshot()); err != nil {
			configs.Warn(false, "audit snapshot sink failed: "+err.Error())
		}
	}
}

func (c *Coordinator) snapshot() audit.Snapshot {
	snap := audit.Snapshot{
		GCI:                 c.Sysfile.LastCompletedGCI[c.Self],
		NewestRestorableGCI: c.Sysfile.NewestRestorableGCI,
		OldestRestorableGCI: c.Sysfile.OldestRestorableGCI,
		KeepGCI:             c.Sysfile.KeepGCI,
		LatestLcpID:         c.Sysfile.LatestLcpID,
	}
	for _, id := range c.Registry.AliveNodes() {
		n, ok := c.Registry.Node(id)
		if !ok {
			continue
		}
		snap.Nodes = append(snap.Nodes, audit.NodeSnapshot{ID: uint32(n.ID), Status: n.Status.String(), Group: n.Group})
	}
	for _, t := range c.allTables() {
		snap.Tables = append(snap.Tables, audit.TableSnapshot{ID: uint32(t.ID), FragmentCount: len(t.Fragments)})
	}
	return snap
}

// StartPermReqMsg carries spec §6's START_PERMREQ (scenario S2: a node
// asking permission to join/restart).
type StartPermReqMsg struct{ StartingNode model.NodeID }

func (c *Coordinator) onStartPermReq(s signal.Signal) {
	msg := s.Payload.(StartPermReqMsg)
	peers := c.Registry.AliveNodes()
	c.startPerm = c.Lifecycle.HandleStartPermReq(peers, func(n model.NodeID) {
		c.Send(n, KindStartInfoReq, msg)
	})
}

func (c *Coordinator) onStartInfoConf(s signal.Signal) {
	if c.startPerm == nil {
		return
	}
	c.startPerm.Clear(model.NodeID(s.From))
	if c.startPerm.Done() {
		startingNode := model.NodeID(s.From)
		c.Lifecycle.CompleteStartPerm(c.startPerm, startingNode)
		c.startPerm = nil
	}
}

// InclNodeReqMsg carries spec §6's INCL_NODEREQ fan-out.
type InclNodeReqMsg struct{ Node model.NodeID }

func (c *Coordinator) onInclNodeReq(s signal.Signal) {
	c.Send(c.Registry.Master(), KindInclNodeConf, s.Payload)
}

func (c *Coordinator) onInclNodeConf(s signal.Signal) {
	if c.inclNode == nil {
		return
	}
	c.inclNode.Clear(model.NodeID(s.From))
	if c.inclNode.Done() {
		node := s.Payload.(InclNodeReqMsg).Node
		c.Lifecycle.CompleteIncludeNode(c.inclNode, node)
		c.inclNode = nil
	}
}

// IncludeNode fans INCL_NODEREQ out to every alive peer so every block
// adds the joining node before it is marked alive cluster-wide (spec
// §4.1, §6).
func (c *Coordinator) IncludeNode(node model.NodeID) {
	peers := c.Registry.AliveNodes()
	c.inclNode = c.Lifecycle.IncludeNode(peers, func(n model.NodeID) {
		c.Send(n, KindInclNodeReq, InclNodeReqMsg{Node: node})
	})
}

// ReadNodesConfMsg carries spec §6's READ_NODESCONF payload.
type ReadNodesConfMsg struct {
	Nodes        []model.NodeID
	AddrOf       func(model.NodeID) string
	MasterNodeID model.NodeID
	InitialStart bool
}

func (c *Coordinator) onReadNodesConf(s signal.Signal) {
	msg := s.Payload.(ReadNodesConfMsg)
	c.Registry.RegisterFromConfig(msg.Nodes, msg.AddrOf, msg.MasterNodeID)
	if msg.InitialStart {
		c.Registry.FormNodeGroups()
	}
	for _, n := range msg.Nodes {
		c.Registry.MarkAlive(n)
	}
}

// NodeFailRepMsg carries spec §6's NODE_FAILREP payload.
type NodeFailRepMsg struct {
	FailedNodes []model.NodeID
}

// onNodeFailRep reconfigures every protocol driver per spec §2/§4.1/§7:
// fix up outstanding signal counters, release any take-over the failed
// node was part of, and drive the NF_COMPLETEREP aggregation.
func (c *Coordinator) onNodeFailRep(s signal.Signal) {
	msg := s.Payload.(NodeFailRepMsg)
	completed, err := c.Lifecycle.HandleNodeFailure(msg.FailedNodes, c.Sysfile)
	configs.CheckError(err)
	for _, done := range completed {
		c.onCounterSynthesized(done)
	}
	for _, n := range msg.FailedNodes {
		alive := c.Registry.AliveNodes()
		c.Lifecycle.BeginNodeFailComplete(n, alive)
	}
}

// onCounterSynthesized re-drives whichever phase a fixed-up counter
// belongs to, exactly as if the real last reply had arrived (spec §5:
// "a synthetic reply is synthesised so the master proceeds").
func (c *Coordinator) onCounterSynthesized(done *signal.Counter) {
	switch done.Reason() {
	case signal.ReasonGcpPrepare:
		if done == c.gcpPrepare {
			c.completeGcpPrepare()
		}
	case signal.ReasonGcpCommit:
		if done == c.gcpCommit {
			c.completeGcpCommit()
		}
	case signal.ReasonGcpSave:
		if done == c.gcpSave {
			c.completeGcpSave()
		}
	}
}

// DigetNodesReq is spec §6's explicitly named hot path: "the hot path
// for a transaction locating a fragment's node set." Reply is answered
// synchronously within the handler since no I/O is involved — the
// fragment/node-set lookup is a pure in-memory arena read.
type DigetNodesReq struct {
	TableID model.TableID
	FragID  model.FragID
	Reply   chan DigetNodesReply
}

type DigetNodesReply struct {
	Primary         model.NodeID
	Backups         []model.NodeID
	DistributionKey uint8
	Found           bool
}

func (c *Coordinator) onDigetNodesReq(s signal.Signal) {
	req := s.Payload.(DigetNodesReq)
	t, ok := c.Tables[req.TableID]
	if !ok || int(req.FragID) >= len(t.Fragments) {
		req.Reply <- DigetNodesReply{}
		return
	}
	f := t.Fragment(req.FragID)
	if f == nil {
		req.Reply <- DigetNodesReply{}
		return
	}
	var backups []model.NodeID
	if len(f.ActiveNodes) > 1 {
		backups = append(backups, f.ActiveNodes[1:]...)
	}
	req.Reply <- DigetNodesReply{
		Primary:         f.Primary(),
		Backups:         backups,
		DistributionKey: f.DistributionKey,
		Found:           true,
	}
}

// BeginGcpCycle starts a fresh prepare/commit/save cycle across every
// alive node (spec §4.3). Only the master node drives this; cmd/dcnode
// only calls it when Registry.IsMaster(Self).
func (c *Coordinator) BeginGcpCycle() {
	nodes := c.Registry.AliveNodes()
	c.gcpPrepare = c.GCP.BeginPrepare(nodes, func(n model.NodeID, gci uint64) {
		c.Send(n, KindGcpPrepare, GciMsg{GCI: gci})
	})
}

type GciMsg struct{ GCI uint64 }
type CommitMsg struct{ OldGCI, NewGCI uint64 }

func (c *Coordinator) onGcpPrepareConf(s signal.Signal) {
	if c.gcpPrepare == nil {
		return
	}
	c.gcpPrepare.Clear(model.NodeID(s.From))
	if c.gcpPrepare.Done() {
		c.completeGcpPrepare()
	}
}

func (c *Coordinator) completeGcpPrepare() {
	c.GCP.CompletePrepare(c.gcpPrepare)
	c.gcpPrepare = nil
	nodes := c.Registry.AliveNodes()
	c.gcpCommit = c.GCP.BeginCommit(nodes, func(n model.NodeID, oldGCI, newGCI uint64) {
		c.Send(n, KindGcpCommit, CommitMsg{OldGCI: oldGCI, NewGCI: newGCI})
	})
}

func (c *Coordinator) onGcpCommitConf(s signal.Signal) {
	if c.gcpCommit == nil {
		return
	}
	c.gcpCommit.Clear(model.NodeID(s.From))
	if c.gcpCommit.Done() {
		c.completeGcpCommit()
	}
}

func (c *Coordinator) completeGcpCommit() {
	c.GCP.CompleteCommit(c.gcpCommit)
	c.gcpCommit = nil
	nodes := c.Registry.AliveNodes()
	c.gcpSave = c.GCP.BeginSave(nodes, func(n model.NodeID, oldGCI uint64) {
		c.Send(n, KindGcpSave, GciMsg{GCI: oldGCI})
	})
}

func (c *Coordinator) onGcpSaveConf(s signal.Signal) {
	if c.gcpSave == nil {
		return
	}
	c.gcpSave.Clear(model.NodeID(s.From))
	if c.gcpSave.Done() {
		c.completeGcpSave()
	}
}

func (c *Coordinator) completeGcpSave() {
	oldGCI := c.Sysfile.LastCompletedGCI[c.Self]
	err := c.GCP.CompleteSave(c.gcpSave, c.SysfileStore, c.Sysfile, c.Self)
	c.gcpSave = nil
	configs.CheckError(err)
	c.LCP.OnGcpCompleted()
	if c.EventLog != nil {
		c.EventLog.RecordGcpSave(oldGCI, c.Sysfile.NewestRestorableGCI)
	}
	c.recordRoundAudit("gcp_save", map[string]interface{}{
		"oldGCI":              oldGCI,
		"newestRestorableGCI": c.Sysfile.NewestRestorableGCI,
	})
}

// onGcpPrepare/onGcpCommit/onGcpSave are the participant side of the
// cycle the master drives in BeginGcpCycle/completeGcpPrepare/
// completeGcpCommit: actually applying the phase against the local
// LQH/TC is outside this package's boundary (spec §1 Non-goals: the
// DC coordinates the protocol, TC/LQH execute it), so a participant has
// nothing further of its own to do before acknowledging.
func (c *Coordinator) onGcpPrepare(signal.Signal) {
	c.Send(c.Registry.Master(), KindGcpPrepareConf, nil)
}

func (c *Coordinator) onGcpCommit(signal.Signal) {
	c.Send(c.Registry.Master(), KindGcpCommitConf, nil)
}

func (c *Coordinator) onGcpSave(signal.Signal) {
	c.Send(c.Registry.Master(), KindGcpSaveConf, nil)
}

func (c *Coordinator) onGcpMonitorTick(signal.Signal) {
	configs.CheckError(c.GCP.SampleMonitor())
}

// onLcpTick drives the local checkpoint timer, round setup, and the
// resumable fragment walk (spec §4.4). It is posted periodically by a
// real timer goroutine (see Run) rather than self-rescheduled, since no
// other signal reliably arrives often enough to drive wall-clock time.
func (c *Coordinator) onLcpTick(signal.Signal) {
	c.LCP.Tick()
	if !c.LCP.Ongoing && c.LCP.Due(c.Gate.Blocked()) {
		lqh := c.Registry.AliveNodes()
		dih := c.Registry.AliveNodes()
		started, err := c.LCP.BeginRound(c.allTables(), c.ReplicaStore.Replicas, c.OpSize, configs.TcOpSizeThreshold, c.Sysfile, lqh, dih)
		configs.CheckError(err)
		if started {
			c.driveLcpWalk()
		}
		return
	}
	if c.LCP.Ongoing {
		c.driveLcpWalk()
	}
}

func (c *Coordinator) driveLcpWalk() {
	if c.LCP.Walk == nil {
		return
	}
	c.LCP.Walk.Run(c.issueLcpFragOrd)
}

// issueLcpFragOrd is the lcp.IssueFn the coordinator hands to Walk.Run
// and Walk.OnFragRep: the destination node isn't part of the callback's
// own arguments (it's whichever node's started/queued slot Walk just
// placed ord into), so it's recovered by scanning live nodes' slots for
// the same *model.LcpFragOrd pointer Walk just stored.
func (c *Coordinator) issueLcpFragOrd(ord *model.LcpFragOrd, replica model.Handle) {
	node, ok := c.nodeForLcpFragOrd(ord)
	if !ok {
		return
	}
	c.Send(node, KindLcpFragOrd, LcpFragOrdMsg{Ord: ord, Replica: replica})
}

func (c *Coordinator) nodeForLcpFragOrd(ord *model.LcpFragOrd) (model.NodeID, bool) {
	for _, id := range c.Registry.AliveNodes() {
		n, ok := c.Registry.Node(id)
		if !ok {
			continue
		}
		for _, s := range n.StartedChkpt {
			if s == ord {
				return id, true
			}
		}
		for _, s := range n.QueuedChkpt {
			if s == ord {
				return id, true
			}
		}
	}
	return 0, false
}

type LcpFragOrdMsg struct {
	Ord     *model.LcpFragOrd
	Replica model.Handle
}

// LcpFragRepMsg carries one LCP_FRAG_REP (spec §6).
type LcpFragRepMsg struct {
	TableID         model.TableID
	FragID          model.FragID
	Replica         model.Handle
	LcpNo           uint8
	MaxGciStarted   uint64
	MaxGciCompleted uint64
}

func (c *Coordinator) onLcpFragRep(s signal.Signal) {
	msg := s.Payload.(LcpFragRepMsg)
	t, ok := c.Tables[msg.TableID]
	if !ok {
		return
	}
	err := c.LCP.HandleFragRep(t, msg.FragID, model.NodeID(s.From), msg.Replica, c.ReplicaStore.Replicas, msg.LcpNo, msg.MaxGciStarted, msg.MaxGciCompleted, c.issueLcpFragOrd)
	configs.CheckError(err)
}

// LcpCompleteRepMsg carries spec §6's LCP_COMPLETE_REP, blockNo 0
// meaning "from master" (summary rather than a specific block).
type LcpCompleteRepMsg struct {
	BlockNo int
}

const (
	BlockLQH = 1
	BlockDIH = 2
)

func (c *Coordinator) onLcpCompleteRep(s signal.Signal) {
	msg := s.Payload.(LcpCompleteRepMsg)
	switch msg.BlockNo {
	case BlockLQH:
		c.LCP.OnLcpCompleteRepLQH(model.NodeID(s.From))
	case BlockDIH:
		c.LCP.OnLcpCompleteRepDIH(model.NodeID(s.From))
	}
	if c.LCP.RoundDone() {
		c.LCP.EndRound()
		if c.EventLog != nil {
			c.EventLog.RecordLcpRoundEnd(c.Sysfile.LatestLcpID)
		}
		c.recordRoundAudit("lcp_round_end", map[string]interface{}{
			"lcpID": c.Sysfile.LatestLcpID,
		})
	}
}

func (c *Coordinator) onBlockCommitOrd(signal.Signal)   { c.Gate.SetBlocked(true) }
func (c *Coordinator) onUnblockCommitOrd(signal.Signal) { c.Gate.SetBlocked(false) }

func (c *Coordinator) onVerifyGateTick(signal.Signal) {
	if c.Gate.DrainOne() {
		c.Queue.ContinueB(KindVerifyGateTick, nil)
	}
}

// RequestCommitGCI is the DIVERIFYREQ-shaped entry point a TC calls
// before committing (spec §4.2). It is safe to call concurrently with
// Run's dispatch loop: the gate has its own mutex, independent of the
// rest of the coordinator's single-threaded state.
func (c *Coordinator) RequestCommitGCI() (gci uint64, immediate bool, wait <-chan uint64) {
	return c.Gate.RequestCommitGCI()
}

// Run starts the dispatch loop plus the three wall-clock tickers (GCP
// stuck-monitor, LCP soft-timer, verify-gate drain) that are the only
// sources of time-driven signals in an otherwise purely reactive design
// (spec §5 Scheduling). It blocks until Stop is called.
func (c *Coordinator) Run() {
	go c.tick(configs.GCPMonitorTick, KindGcpMonitorTick)
	go c.tick(configs.LCPTimerTick, KindLcpTick)
	go c.tick(configs.LCPTimerTick, KindVerifyGateTick)
	c.Queue.Run()
}

func (c *Coordinator) tick(d time.Duration, kind Kind) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.Queue.Post(signal.Signal{Kind: kind})
		case <-c.stopTick:
			return
		}
	}
}

// Stop closes the dispatch queue and the tick goroutines.
func (c *Coordinator) Stop() {
	close(c.stopTick)
	c.Queue.Close()
}
