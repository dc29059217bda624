package model

import "distcoord/configs"

// NodeID identifies a data node, 1..N (0 is never a valid node id).
type NodeID uint32

// Node is the per-node membership record (spec §3).
type Node struct {
	ID       NodeID
	Address  string
	Status   configs.NodeStatus
	Active   configs.ActiveStatus
	Group    int32 // -1 == no group assigned (hot spare pool)
	IsGroup  bool

	UseInTransactions bool
	AllowNodeStart    bool
	CopyCompleted     bool
	IncludeInDihLcp   bool

	// Bounded per-node LCP throttle queues (spec §3, §4.4): at most two
	// started and two queued fragment checkpoints at a time.
	StartedChkpt [configs.MaxStartedChkpt]*LcpFragOrd
	QueuedChkpt  [configs.MaxQueuedChkpt]*LcpFragOrd

	// Per-node failure-handling step bitmask (spec §3): tracks which of
	// the several outstanding signal-counter waits (NF_COMPLETEREP,
	// COPY_GCI, ...) are still open for this failed node.
	FailureHandlingSteps uint32
}

// LcpFragOrd is the record parked in a node's started/queued checkpoint
// slot (spec §4.4): a fragment checkpoint order awaiting a
// LCP_FRAG_REP reply.
type LcpFragOrd struct {
	TableID   uint32
	FragID    uint16
	LcpNo     uint8
	LcpID     uint32
	KeepGCI   uint64
}

func NewNode(id NodeID, addr string) *Node {
	return &Node{
		ID:      id,
		Address: addr,
		Status:  configs.NotInCluster,
		Active:  configs.NotDefined,
		Group:   -1,
	}
}

// StartedCount / QueuedCount report how many of the two throttle slots
// are occupied, enforcing the "at most 2 started + 2 queued" invariant
// (spec §8 property 4) at the point of insertion rather than after.
func (n *Node) StartedCount() int {
	c := 0
	for _, s := range n.StartedChkpt {
		if s != nil {
			c++
		}
	}
	return c
}

func (n *Node) QueuedCount() int {
	c := 0
	for _, s := range n.QueuedChkpt {
		if s != nil {
			c++
		}
	}
	return c
}

// TryStart places a fragment checkpoint in a free started slot. Returns
// false if both started slots are occupied (caller should try TryQueue).
func (n *Node) TryStart(ord *LcpFragOrd) bool {
	for i := range n.StartedChkpt {
		if n.StartedChkpt[i] == nil {
			n.StartedChkpt[i] = ord
			return true
		}
	}
	return false
}

func (n *Node) TryQueue(ord *LcpFragOrd) bool {
	for i := range n.QueuedChkpt {
		if n.QueuedChkpt[i] == nil {
			n.QueuedChkpt[i] = ord
			return true
		}
	}
	return false
}

// CompleteStarted removes a matching started entry (on LCP_FRAG_REP) and
// promotes one queued entry into the freed slot, returning it so the
// caller can issue the promoted LCP_FRAG_ORD.
func (n *Node) CompleteStarted(tableID uint32, fragID uint16) *LcpFragOrd {
	for i, s := range n.StartedChkpt {
		if s != nil && s.TableID == tableID && s.FragID == fragID {
			n.StartedChkpt[i] = nil
			for j, q := range n.QueuedChkpt {
				if q != nil {
					n.StartedChkpt[i] = q
					n.QueuedChkpt[j] = nil
					return q
				}
			}
			return nil
		}
	}
	return nil
}
