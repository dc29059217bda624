// Package clustermutex implements the two cluster-wide two-phase
// request/reply mutexes (spec §5): startLcpMutex (held during LCP round
// setup) and switchPrimaryMutex (held during take-over commit), plus
// the per-node-group take-over throttle (spec §4.5: "At most one active
// take-over per node group").
package clustermutex

import (
	"context"
	"time"

	"distcoord/configs"

	"github.com/viney-shih/go-lock"
)

// Mutex wraps a CAS-backed lock.Mutex (the same dependency and idiom
// the teacher uses for its per-row latches in storage/cc_2pl_nw.go and
// storage/cc_vll.go) with a context-bounded acquire, since DC's
// "two-phase request/reply to a mutex-manager block" has a retry budget
// rather than blocking forever (spec §5 Cancellation/timeout).
type Mutex struct {
	l lock.Mutex
}

func New() *Mutex {
	return &Mutex{l: lock.NewCASMutex()}
}

// TryAcquire attempts the request/reply round-trip within timeout,
// mirroring the resource-contention retry budget (spec §5: "typical
// 20-50ms, max 5s for take-over-group collisions").
func (m *Mutex) TryAcquire(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return m.l.TryLockWithContext(ctx)
}

func (m *Mutex) Release() {
	m.l.Unlock()
}

// Manager owns the cluster's two named mutexes plus one take-over
// throttle per node group.
type Manager struct {
	StartLcp       *Mutex
	SwitchPrimary  *Mutex

	groupTakeOver map[int32]*Mutex
}

func NewManager() *Manager {
	return &Manager{
		StartLcp:      New(),
		SwitchPrimary: New(),
		groupTakeOver: make(map[int32]*Mutex),
	}
}

// TakeOverMutex returns (creating if needed) the take-over throttle for
// a node group.
func (m *Manager) TakeOverMutex(group int32) *Mutex {
	mu, ok := m.groupTakeOver[group]
	if !ok {
		mu = New()
		m.groupTakeOver[group] = mu
	}
	return mu
}

// TryStartTakeOver attempts to claim a group's take-over throttle with
// the spec's 5-second retry budget (spec §4.5: "further requests wait
// with a 5-second retry").
func (m *Manager) TryStartTakeOver(group int32) bool {
	return m.TakeOverMutex(group).TryAcquire(configs.TakeOverRetryDelay)
}

func (m *Manager) EndTakeOver(group int32) {
	m.TakeOverMutex(group).Release()
}
