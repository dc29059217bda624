package gcp

import (
	"distcoord/configs"
	"distcoord/dcerr"
	"distcoord/model"
	"distcoord/signal"
	"distcoord/sysfile"
	"distcoord/verifygate"
)

// Phase is the live cycle's current step, distinct from the abstract
// merge State used only during master-takeover reconciliation.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePreparing
	PhaseCommitting
	PhaseSaving
)

// Driver runs one GCP cycle at a time (spec §4.3): prepare, commit,
// save, each fanned out to every alive node and tracked with a
// signal.Counter so node failure during any phase still lets the cycle
// complete (spec §5's synthetic-reply rule).
type Driver struct {
	Counters *signal.Registry
	Gate     *verifygate.Gate

	Phase      Phase
	CurrentGCI uint64
	NewGCI     uint64
	OldGCI     uint64

	sampledPhase Phase
	sampledGCI   uint64
	stuckSamples int
}

func NewDriver(counters *signal.Registry, gate *verifygate.Gate) *Driver {
	return &Driver{Counters: counters, Gate: gate}
}

// BeginPrepare increments newGCI and fans prepare out to every alive
// node (spec §4.3 step 1). send is injected so this package stays free
// of a transport dependency; the coordinator wires it to the real
// signal dispatch.
func (d *Driver) BeginPrepare(nodes []model.NodeID, send func(model.NodeID, uint64)) *signal.Counter {
	d.Phase = PhasePreparing
	d.NewGCI++
	d.Gate.SetBlocked(true)
	c := signal.NewCounter(signal.ReasonGcpPrepare, nodes)
	d.Counters.Track(c)
	for _, n := range nodes {
		send(n, d.NewGCI)
	}
	return c
}

// CompletePrepare is called once the prepare counter is Done (all
// replies received or synthesized).
func (d *Driver) CompletePrepare(c *signal.Counter) {
	d.Counters.Untrack(c)
	d.Phase = PhaseCommitting
}

// BeginCommit rotates GCIs and fans commit out (spec §4.3 step 2:
// "oldGCI := currentGCI; currentGCI := newGCI"). Clearing blockCommit
// here lets each participant's own verify gate drain, mirroring the
// per-participant behavior the spec describes; the master's local gate
// (if it is also a participant) is cleared the same way.
func (d *Driver) BeginCommit(nodes []model.NodeID, send func(node model.NodeID, oldGCI, newGCI uint64)) *signal.Counter {
	d.OldGCI = d.CurrentGCI
	d.CurrentGCI = d.NewGCI
	d.Gate.SetCurrentGCI(d.CurrentGCI)
	d.Gate.SetBlocked(false)

	c := signal.NewCounter(signal.ReasonGcpCommit, nodes)
	d.Counters.Track(c)
	for _, n := range nodes {
		send(n, d.OldGCI, d.CurrentGCI)
	}
	return c
}

func (d *Driver) CompleteCommit(c *signal.Counter) {
	d.Counters.Untrack(c)
	d.Phase = PhaseSaving
}

// BeginSave fans save out to every LQH (spec §4.3 step 3).
func (d *Driver) BeginSave(nodes []model.NodeID, send func(node model.NodeID, oldGCI uint64)) *signal.Counter {
	c := signal.NewCounter(signal.ReasonGcpSave, nodes)
	d.Counters.Track(c)
	for _, n := range nodes {
		send(n, d.OldGCI)
	}
	return c
}

// CompleteSave persists the sysfile (newestRestorableGCI := oldGCI,
// lastCompletedGCI[self] := oldGCI) to both copies before the cycle is
// considered durable, then returns to idle (spec §4.3 step 3).
func (d *Driver) CompleteSave(c *signal.Counter, store *sysfile.Store, sf *sysfile.Sysfile, self model.NodeID) error {
	d.Counters.Untrack(c)
	sf.NewestRestorableGCI = d.OldGCI
	sf.LastCompletedGCI[self] = d.OldGCI
	if err := store.Write(sf); err != nil {
		return err
	}
	d.Phase = PhaseIdle
	return nil
}

// SampleMonitor is called every configs.GCPMonitorTick by the
// coordinator's watchdog. It returns an error once the cycle has been
// stuck in the same phase at the same GCI for GCPStuckSampleLimit
// consecutive samples (~2 minutes), per spec §4.3's monitor paragraph
// and §7 taxonomy 3.
func (d *Driver) SampleMonitor() error {
	if d.Phase == PhaseIdle {
		d.stuckSamples = 0
		d.sampledPhase = PhaseIdle
		d.sampledGCI = d.NewGCI
		return nil
	}
	if d.Phase == d.sampledPhase && d.NewGCI == d.sampledGCI {
		d.stuckSamples++
	} else {
		d.stuckSamples = 0
		d.sampledPhase = d.Phase
		d.sampledGCI = d.NewGCI
	}
	if d.stuckSamples >= configs.GCPStuckSampleLimit {
		return dcerr.Fatal(dcerr.ExitGcpStuck, "GCP cycle stuck for 2 minutes")
	}
	return nil
}
