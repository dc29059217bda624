// Package registry implements the node registry and node-group / hot-spare
// bookkeeping (spec §4.1, component M1).
package registry

import (
	"sort"
	"sync"

	"distcoord/configs"
	"distcoord/dcerr"
	"distcoord/model"

	mapset "github.com/deckarep/golang-set"
)

// Registry owns every Node record and the alive/dead/starting lists.
// Node groups are formed once at initial cluster start (by packing
// nodes into groups of size == replica count, remainder becoming hot
// spares) and thereafter loaded from the persisted sysfile at restart.
type Registry struct {
	mu sync.RWMutex

	nodes map[model.NodeID]*model.Node
	// alive/dead/starting are kept as golang-set sets rather than plain
	// maps so set-algebra (membership, group-extinction checks) reads
	// the way the spec's prose does: "if the number of surviving groups
	// drops any group to zero live nodes, escalate".
	alive    mapset.Set
	dead     mapset.Set
	starting mapset.Set

	groups      map[int32]*model.NodeGroup
	hotSpares   mapset.Set
	replicaCount int

	masterNodeID model.NodeID
	ownNodeID    model.NodeID
}

func New(ownNodeID model.NodeID, replicaCount int) *Registry {
	return &Registry{
		nodes:        make(map[model.NodeID]*model.Node),
		alive:        mapset.NewSet(),
		dead:         mapset.NewSet(),
		starting:     mapset.NewSet(),
		groups:       make(map[int32]*model.NodeGroup),
		hotSpares:    mapset.NewSet(),
		replicaCount: replicaCount,
		ownNodeID:    ownNodeID,
	}
}

// RegisterFromConfig populates the registry from READ_NODESCONF (spec
// §6): the configured topology at cluster formation.
func (r *Registry) RegisterFromConfig(nodeIDs []model.NodeID, addrOf func(model.NodeID) string, masterNodeID model.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.masterNodeID = masterNodeID
	for _, id := range nodeIDs {
		n := model.NewNode(id, addrOf(id))
		r.nodes[id] = n
	}
}

// FormNodeGroups packs nodes into groups of size == replicaCount in
// ascending node-id order; the remainder become hot spares (spec §4.1:
// "Node groups are formed once, at initial cluster start, by packing
// nodes into groups of size = replica count; the remainder become hot
// spares.").
func (r *Registry) FormNodeGroups() {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]model.NodeID, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	groupID := int32(0)
	for i := 0; i+r.replicaCount <= len(ids); i += r.replicaCount {
		members := ids[i : i+r.replicaCount]
		g := model.NewNodeGroup(groupID, members)
		r.groups[groupID] = g
		for _, m := range members {
			n := r.nodes[m]
			n.Group = groupID
			n.IsGroup = true
			n.Active = configs.ActiveS
		}
		groupID++
	}
	// remainder becomes hot spares.
	for i := (len(ids) / r.replicaCount) * r.replicaCount; i < len(ids); i++ {
		r.designateHotSpareLocked(ids[i])
	}
}

// LoadNodeGroups restores group assignments persisted in the sysfile at
// a subsequent restart, rather than re-forming them (spec §4.1: "At
// every subsequent restart, groups are loaded from the persisted
// sysfile.").
func (r *Registry) LoadNodeGroups(nodeGroupOf map[model.NodeID]int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byGroup := make(map[int32][]model.NodeID)
	for id, g := range nodeGroupOf {
		if g < 0 {
			r.designateHotSpareLocked(id)
			continue
		}
		byGroup[g] = append(byGroup[g], id)
		if n, ok := r.nodes[id]; ok {
			n.Group = g
			n.IsGroup = true
		}
	}
	for g, members := range byGroup {
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		r.groups[g] = model.NewNodeGroup(g, members)
	}
}

func (r *Registry) designateHotSpareLocked(id model.NodeID) {
	if n, ok := r.nodes[id]; ok {
		n.Active = configs.HotSpare
		n.Group = -1
	}
	r.hotSpares.Add(id)
}

// DesignateHotSpare marks an alive node beyond the group assignment as a
// hot spare for its intended group (spec §4.1).
func (r *Registry) DesignateHotSpare(id model.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.designateHotSpareLocked(id)
}

func (r *Registry) PickHotSpare() (model.NodeID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.hotSpares.ToSlice() {
		id := v.(model.NodeID)
		if r.alive.Contains(id) {
			return id, true
		}
	}
	return 0, false
}

func (r *Registry) Node(id model.NodeID) (*model.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

func (r *Registry) Group(id int32) (*model.NodeGroup, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	return g, ok
}

func (r *Registry) GroupOf(node model.NodeID) (*model.NodeGroup, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[node]
	if !ok || !n.IsGroup {
		return nil, false
	}
	g, ok := r.groups[n.Group]
	return g, ok
}

func (r *Registry) MarkStarting(id model.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starting.Add(id)
	if n, ok := r.nodes[id]; ok {
		n.Status = configs.Starting
	}
}

func (r *Registry) MarkAlive(id model.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starting.Remove(id)
	r.dead.Remove(id)
	r.alive.Add(id)
	if n, ok := r.nodes[id]; ok {
		n.Status = configs.Alive
		n.UseInTransactions = true
		n.AllowNodeStart = true
	}
}

func (r *Registry) IsAlive(id model.NodeID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.alive.Contains(id)
}

func (r *Registry) AliveNodes() []model.NodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.NodeID, 0, r.alive.Cardinality())
	for _, v := range r.alive.ToSlice() {
		out = append(out, v.(model.NodeID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Master returns the lowest-id alive node, the spec's implicit master
// election rule (spec §4.1 GLOSSARY: "the lowest-id alive node").
func (r *Registry) Master() model.NodeID {
	alive := r.AliveNodes()
	configs.Assert(len(alive) > 0, "Master() called with no alive nodes")
	return alive[0]
}

func (r *Registry) IsMaster(id model.NodeID) bool {
	return r.Master() == id
}

// HandleNodeFailure applies a NODE_FAILREP (spec §4.1, §6): decrements
// useInTransactions, clears includeInDihLcp, moves the node from alive
// to dead, and escalates to cluster failure if any group drops to zero
// live members.
func (r *Registry) HandleNodeFailure(failedNodes []model.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range failedNodes {
		r.alive.Remove(id)
		r.starting.Remove(id)
		r.dead.Add(id)
		if n, ok := r.nodes[id]; ok {
			n.Status = configs.Dead
			n.UseInTransactions = false
			n.IncludeInDihLcp = false
		}
	}
	for gid, g := range r.groups {
		liveCount := 0
		for _, m := range g.Nodes {
			if r.alive.Contains(m) {
				liveCount++
			}
		}
		if liveCount == 0 {
			return dcerr.Fatal(dcerr.ExitLostNodeGroup, "node group has no surviving members")
		}
		_ = gid
	}
	return nil
}

func (r *Registry) OwnNodeID() model.NodeID { return r.ownNodeID }

func (r *Registry) ReplicaCount() int { return r.replicaCount }

func (r *Registry) AllGroups() []*model.NodeGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.NodeGroup, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
