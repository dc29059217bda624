// Package sysfile implements the two-copy cluster restart record (spec
// §4.7, component L3): a fixed-size record of at most 128 32-bit words,
// written to two files in distinct directories before any update is
// considered durable.
package sysfile

import (
	"distcoord/configs"
	"distcoord/model"
)

// NodeStatusBits / NodeGroupBits match the on-disk packed widths (spec
// §6): "nodeStatus[N] (3 bits per node, packed), nodeGroups[N] (4 bits
// per node)".
const (
	NodeStatusBits = 3
	NodeGroupBits  = 4
	MaxNodes       = 36 // fits within SysfileMaxWords alongside the other fields
)

// SystemRestartBits named flags (spec §6).
type SystemRestartBits uint8

const (
	InitialStartOngoing SystemRestartBits = 1 << iota
	LcpOngoing
	RestartOngoing
)

// Sysfile is the in-memory staging buffer for the restart record. A
// separate to-file byte buffer is produced by Encode so a partial write
// never corrupts the live view the coordinator reads from (spec §4.7:
// "The in-memory staging buffer and the to-file buffer are distinct").
type Sysfile struct {
	LatestLcpID          uint32
	KeepGCI              uint64
	OldestRestorableGCI  uint64
	NewestRestorableGCI  uint64
	LastCompletedGCI     [MaxNodes + 1]uint64 // 1-indexed by node id; [0] unused
	NodeStatus           [MaxNodes + 1]configs.NodeStatus
	NodeGroups           [MaxNodes + 1]int32
	LcpActive            [MaxNodes + 1]bool
	SystemRestart        SystemRestartBits
	TakeOver             [MaxNodes + 1]model.NodeID // takeOver[failedNode] = copying node, 0 == none
}

func New() *Sysfile {
	s := &Sysfile{}
	for i := range s.NodeGroups {
		s.NodeGroups[i] = -1
	}
	return s
}

// Clone returns a deep copy, used to build the next staged version
// without mutating the buffer a concurrent reader (none exists today,
// per spec §5, but the copy keeps the invariant explicit) might see.
func (s *Sysfile) Clone() *Sysfile {
	cp := *s
	return &cp
}
