package model

import "distcoord/configs"

// Table is a table descriptor (spec §3): schema version, status, LCP
// status, and its fragments. The source chunk-allocates fragment
// storage; here fragments are a plain slice since table fragment counts
// are bounded and known at create time.
type Table struct {
	ID             TableID
	SchemaVersion  uint32
	Status         configs.TableStatus
	LcpStatus      configs.TableLcpStatus
	TotalFragments int
	Fragments      []*Fragment

	// CopyStatus / update-state drive the page-pack/unpack and
	// sysfile-write state machine for this table's two file copies.
	CopyStatus  TableCopyStatus
	UpdateState TableUpdateState
}

type TableCopyStatus uint8

const (
	CopyIdle TableCopyStatus = iota
	CopyInProgress
	CopyDone
)

type TableUpdateState uint8

const (
	UpdateIdle TableUpdateState = iota
	UpdatePacking
	UpdateWriting
	UpdateDone
)

func NewTable(id TableID, fragCount int) *Table {
	return &Table{
		ID:             id,
		Status:         configs.TableCreating,
		LcpStatus:      configs.TabLcpCompleted,
		TotalFragments: fragCount,
		Fragments:      make([]*Fragment, fragCount),
	}
}

func (t *Table) Fragment(id FragID) *Fragment {
	return t.Fragments[id]
}

// AllFragmentsDone reports whether every fragment in the table has
// finished its current LCP round (noLcpReplicas == 0 for all). The LCP
// driver does not call it: it marks a table WritingToFile as soon as one
// fragment's count reaches zero.
func (t *Table) AllFragmentsDone() bool {
	for _, f := range t.Fragments {
		if f != nil && f.NoLcpReplicas != 0 {
			return false
		}
	}
	return true
}
