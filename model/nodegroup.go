package model

// NodeGroup is a fixed-size set of nodes (size == replica count) that
// together hold every replica assigned to the group (spec §3).
type NodeGroup struct {
	ID             int32
	Nodes          []NodeID
	primaryCursor  int // round-robin primary-choice cursor
	ActiveTakeOver bool
}

func NewNodeGroup(id int32, nodes []NodeID) *NodeGroup {
	cp := make([]NodeID, len(nodes))
	copy(cp, nodes)
	return &NodeGroup{ID: id, Nodes: cp}
}

// NextPrimary advances the round-robin cursor and returns the node it
// now points at; used when a fragment needs a fresh preferred primary
// (e.g. after the previous primary is dropped from the group).
func (g *NodeGroup) NextPrimary() NodeID {
	n := g.Nodes[g.primaryCursor%len(g.Nodes)]
	g.primaryCursor++
	return n
}

func (g *NodeGroup) Contains(id NodeID) bool {
	for _, n := range g.Nodes {
		if n == id {
			return true
		}
	}
	return false
}
