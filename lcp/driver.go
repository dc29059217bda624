package lcp

import (
	"distcoord/clustermutex"
	"distcoord/configs"
	"distcoord/model"
	"distcoord/registry"
	"distcoord/signal"
	"distcoord/sysfile"
	"distcoord/tablestore"

	mapset "github.com/deckarep/golang-set"
)

// Driver owns one Local Checkpoint round at a time: trigger, setup
// under the startLcp mutex, the fragment walk, per-fragment completion,
// round-end active-status rotation, and the building blocks for a
// master-takeover resume (spec §4.4, component C2).
type Driver struct {
	Mutexes      *clustermutex.Manager
	Counters     *signal.Registry
	Registry     *registry.Registry
	SysfileStore *sysfile.Store
	TableStore   *tablestore.Store
	TableHeader  tablestore.Header

	LatestLcpID     uint32
	CTimer          uint64
	ClcpDelayExp    uint
	Immediate       bool
	GcpSinceLastLcp bool
	Ongoing         bool

	Walk             *Walk
	ParticipatingLQH []model.NodeID
	ParticipatingDIH []model.NodeID

	LqhComplete *signal.Counter
	DihComplete *signal.Counter
}

func NewDriver(mutexes *clustermutex.Manager, counters *signal.Registry, reg *registry.Registry, sfStore *sysfile.Store, tStore *tablestore.Store) *Driver {
	return &Driver{
		Mutexes:      mutexes,
		Counters:     counters,
		Registry:     reg,
		SysfileStore: sfStore,
		TableStore:   tStore,
		ClcpDelayExp: configs.DefaultClcpDelay,
	}
}

func (d *Driver) Tick() { d.CTimer++ }

func (d *Driver) OnGcpCompleted() { d.GcpSinceLastLcp = true }

// Due reports whether the soft-timer trigger or the immediate flag
// calls for a new round (spec §4.4 Trigger). gcpBlocking is true while
// a GCP cycle is in progress and blocking LCP start.
func (d *Driver) Due(gcpBlocking bool) bool {
	if d.Ongoing || gcpBlocking {
		return false
	}
	if d.Immediate {
		return true
	}
	return d.GcpSinceLastLcp && d.CTimer >= uint64(1)<<d.ClcpDelayExp
}

// BeginRound performs round setup under the startLcp cluster mutex
// (spec §4.4 Round start). opSize reports the TCs' accumulated
// operation size; below threshold and not immediate just reschedules
// (started=false, err=nil). On success it bumps latestLcpID, computes
// keepGci, persists the sysfile, and prepares the fragment walk.
func (d *Driver) BeginRound(tables []*model.Table, pool *model.Pool[model.Replica], opSize func() uint64, threshold uint64, sf *sysfile.Sysfile, lqh, dih []model.NodeID) (started bool, err error) {
	if !d.Mutexes.StartLcp.TryAcquire(configs.ResourceRetryDelayMax) {
		return false, nil
	}
	defer d.Mutexes.StartLcp.Release()

	if opSize() < threshold && !d.Immediate {
		return false, nil
	}

	keepGci := computeKeepGci(tables, pool)
	d.LatestLcpID++
	sf.LatestLcpID = d.LatestLcpID
	sf.KeepGCI = keepGci
	if err := d.SysfileStore.Write(sf); err != nil {
		return false, err
	}

	d.Ongoing = true
	d.Immediate = false
	d.GcpSinceLastLcp = false
	d.CTimer = 0
	d.ParticipatingLQH = append([]model.NodeID(nil), lqh...)
	d.ParticipatingDIH = append([]model.NodeID(nil), dih...)

	eligible := mapset.NewSet()
	for _, n := range lqh {
		eligible.Add(n)
	}
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, f := range t.Fragments {
			if f != nil {
				f.NoLcpReplicas = f.CountStored(pool)
			}
		}
	}
	d.Walk = NewWalk(tables, pool, d.Registry, eligible, d.LatestLcpID, keepGci)
	d.LqhComplete = signal.NewCounter(signal.ReasonStartLcp, lqh)
	d.DihComplete = signal.NewCounter(signal.ReasonStartLcp, dih)
	d.Counters.Track(d.LqhComplete)
	d.Counters.Track(d.DihComplete)
	return true, nil
}

// HandleFragRep processes one LCP_FRAG_REP (spec §4.4 Completion):
// records the checkpoint into the replica's cyclic slot array,
// decrements the fragment's outstanding count, persists the table's
// descriptor once its last fragment finishes, and frees/promotes the
// reporting node's throttle slot.
func (d *Driver) HandleFragRep(table *model.Table, fragID model.FragID, node model.NodeID, replicaH model.Handle, pool *model.Pool[model.Replica], lcpNo uint8, maxGciStarted, maxGciCompleted uint64, send IssueFn) error {
	r := pool.Get(replicaH)
	r.RecordLcp(lcpNo, d.LatestLcpID, maxGciStarted, maxGciCompleted)

	frag := table.Fragment(fragID)
	if frag.NoLcpReplicas > 0 {
		frag.NoLcpReplicas--
	}
	if d.Walk != nil {
		d.Walk.OnFragRep(node, uint32(table.ID), uint16(fragID), send)
	}
	if frag.NoLcpReplicas == 0 {
		table.LcpStatus = configs.TabLcpWritingToFile
		if err := d.TableStore.Write(table, pool, d.TableHeader); err != nil {
			return err
		}
		table.LcpStatus = configs.TabLcpCompleted
	}
	return nil
}

func (d *Driver) OnLcpCompleteRepLQH(node model.NodeID) { d.LqhComplete.Clear(node) }
func (d *Driver) OnLcpCompleteRepDIH(node model.NodeID) { d.DihComplete.Clear(node) }

// RoundDone reports whether every participating LQH and DIH has sent
// its LCP_COMPLETE_REP (spec §4.4 Completion).
func (d *Driver) RoundDone() bool {
	return d.LqhComplete != nil && d.DihComplete != nil && d.LqhComplete.Done() && d.DihComplete.Done()
}

// EndRound broadcasts the round-end marker (left to the caller) and
// rotates every participating/non-participating node's active status
// one step (spec §4.4 "Per-node active-status rotation").
func (d *Driver) EndRound() {
	d.Counters.Untrack(d.LqhComplete)
	d.Counters.Untrack(d.DihComplete)
	d.rotateActiveStatus()
	d.Ongoing = false
	d.Walk = nil
	d.LqhComplete = nil
	d.DihComplete = nil
}

func (d *Driver) rotateActiveStatus() {
	participated := mapset.NewSet()
	for _, n := range d.ParticipatingLQH {
		participated.Add(n)
	}
	for _, g := range d.Registry.AllGroups() {
		for _, id := range g.Nodes {
			node, ok := d.Registry.Node(id)
			if !ok {
				continue
			}
			if participated.Contains(id) {
				node.Active = configs.ActiveS
			} else {
				node.Active = demote(node.Active)
			}
		}
	}
}

func demote(s configs.ActiveStatus) configs.ActiveStatus {
	switch s {
	case configs.ActiveS:
		return configs.ActiveMissed1
	case configs.ActiveMissed1:
		return configs.ActiveMissed2
	case configs.ActiveMissed2:
		return configs.NotActiveNotTakenOver
	default:
		return s
	}
}

// ResumeAfterTakeover repositions the fragment walk at the minimum
// outstanding (tableId, fragId) pair a master-takeover drain resolved
// (spec §4.4 stage 2: "resume from the minimum (tableId, fragmentId)
// and re-run the walk").
func (d *Driver) ResumeAfterTakeover(minTable model.TableID, minFrag model.FragID, hasMin bool) {
	if hasMin && d.Walk != nil {
		d.Walk.JumpTo(minTable, minFrag)
	}
}

// computeKeepGci implements spec §4.4 Round start: "keepGCI := min over
// all stored replicas of the oldest-still-useful-LCP's maxGciCompleted".
// A replica's oldest currently-valid LCP is the one its cyclic nextLcp
// cursor is about to overwrite.
func computeKeepGci(tables []*model.Table, pool *model.Pool[model.Replica]) uint64 {
	var min uint64
	found := false
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, f := range t.Fragments {
			if f == nil {
				continue
			}
			f.WalkStored(pool, func(_ model.Handle, r *model.Replica) bool {
				if g, ok := oldestValidMaxGciCompleted(r); ok && (!found || g < min) {
					min = g
					found = true
				}
				return true
			})
		}
	}
	if !found {
		return 0
	}
	return min
}

func oldestValidMaxGciCompleted(r *model.Replica) (uint64, bool) {
	slot := r.NextLcp
	if r.LcpStatus[slot] == configs.LcpValid {
		return r.MaxGciCompleted[slot], true
	}
	var min uint64
	found := false
	for i, st := range r.LcpStatus {
		if st != configs.LcpValid {
			continue
		}
		if !found || r.MaxGciCompleted[i] < min {
			min = r.MaxGciCompleted[i]
			found = true
		}
	}
	return min, found
}
