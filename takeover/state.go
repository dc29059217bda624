// Package takeover implements the fragment take-over / copy-fragment
// state machine (spec §4.5, component C3): bringing a starting node's
// replica of a fragment up to date from a live copy node, including the
// primary-role switch under the cluster-wide switchPrimaryMutex.
package takeover

import "distcoord/model"

// MasterState is the take-over coordinator's own position in the
// abbreviated transition list of spec §4.5.
type MasterState string

const (
	MasterIdle               MasterState = "Idle"
	MasterWaitStartTakeOver  MasterState = "WaitStartTakeOver"
	MasterStartCopy          MasterState = "StartCopy"
	MasterSendStartTo        MasterState = "SendStartTo"
	MasterStarting           MasterState = "Starting"
	MasterSelectingNext      MasterState = "SelectingNext"
	MasterPrepareCreate      MasterState = "PrepareCreate"
	MasterCopyFrag           MasterState = "CopyFrag"
	MasterUpdateToCopyFrag   MasterState = "UpdateToCopyFragCompleted"
	MasterCopyActive         MasterState = "CopyActive"
	MasterLockMutex          MasterState = "LockMutex"
	MasterCommitCreate       MasterState = "CommitCreate"
	MasterUpdateToCopyDone   MasterState = "UpdateToCopyCompleted"
	MasterSendEndTo          MasterState = "SendEndTo"
	MasterEnding             MasterState = "Ending"
)

// SlaveState is the starting node's own view of the same take-over
// (spec §4.5 "Slave state machine").
type SlaveState string

const (
	SlaveIdle              SlaveState = "Idle"
	SlaveStarted           SlaveState = "Started"
	SlaveCreatePrepare     SlaveState = "CreatePrepare"
	SlaveCopyFragCompleted SlaveState = "CopyFragCompleted"
	SlaveCreateCommit      SlaveState = "CreateCommit"
	SlaveCopyCompleted     SlaveState = "CopyCompleted"
)

// fragWork is one fragment the record still has to bring the starting
// node up to date on: any fragment with a replica living on failedNode.
type fragWork struct {
	Table model.TableID
	Frag  *model.Fragment
}

// Record tracks one in-flight take-over (spec §4.5): "(startingNode,
// failedNode, copyNode, currentTable, currentFragment, currentReplica,
// masterStatus, slaveStatus)".
type Record struct {
	StartingNode model.NodeID
	FailedNode   model.NodeID
	CopyNode     model.NodeID
	Group        int32

	MasterStatus MasterState
	SlaveStatus  SlaveState

	worklist     []fragWork
	idx          int
	CurrentFrag  *model.Fragment
	CurrentFragH model.Handle // the starting node's new (oldStored) replica handle for the current fragment
}

// CurrentTable / CurrentFragID expose the record's position for
// sysfile/diagnostic use without leaking the worklist slice itself.
func (r *Record) CurrentTable() model.TableID {
	if r.CurrentFrag == nil {
		return 0
	}
	return r.CurrentFrag.TableID
}

func (r *Record) CurrentFragID() model.FragID {
	if r.CurrentFrag == nil {
		return 0
	}
	return r.CurrentFrag.FragID
}
