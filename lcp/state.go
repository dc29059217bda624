// Package lcp implements the Local Checkpoint protocol: round setup,
// the fragment-by-fragment walk with per-node throttling, completion
// tracking, active-status rotation, and the two-stage master-takeover
// join-state merge (spec §4.4, component C2).
package lcp

import "fmt"

// MergeState is the new master's view of the round while reconciling a
// mid-LCP takeover.
type MergeState string

const (
	Initial       MergeState = "Initial"
	AllIdle       MergeState = "AllIdle"
	AllActive     MergeState = "AllActive"
	CopyOngoing   MergeState = "CopyOngoing"
	LcpConcluding MergeState = "LcpConcluding"
)

// ParticipantStatus is what a surviving node reports in its
// MASTER_LCPREQ reply.
type ParticipantStatus string

const (
	Idle         ParticipantStatus = "Idle"
	Active       ParticipantStatus = "Active"
	TabCompleted ParticipantStatus = "TabCompleted"
	TabSaved     ParticipantStatus = "TabSaved"
)

type cell struct {
	target        MergeState
	contradiction bool
}

func to(s MergeState) cell { return cell{target: s} }
func contradiction() cell  { return cell{contradiction: true} }

// mergeTable is spec §4.4's table verbatim.
var mergeTable = map[MergeState]map[ParticipantStatus]cell{
	Initial: {
		Idle:         to(AllIdle),
		Active:       to(AllActive),
		TabCompleted: to(LcpConcluding),
		TabSaved:     to(LcpConcluding),
	},
	AllIdle: {
		Idle:         to(AllIdle),
		Active:       to(CopyOngoing),
		TabCompleted: to(LcpConcluding),
		TabSaved:     to(LcpConcluding),
	},
	AllActive: {
		Idle:         to(CopyOngoing),
		Active:       to(AllActive),
		TabCompleted: to(LcpConcluding),
		TabSaved:     to(LcpConcluding),
	},
	CopyOngoing: {
		Idle:         to(CopyOngoing),
		Active:       to(CopyOngoing),
		TabCompleted: contradiction(),
		TabSaved:     contradiction(),
	},
	LcpConcluding: {
		Idle:         to(LcpConcluding),
		Active:       to(LcpConcluding),
		TabCompleted: to(LcpConcluding),
		TabSaved:     to(LcpConcluding),
	},
}

// Merge folds one participant's MASTER_LCPREQ reply into the current
// merge state (spec §4.4 stage 2).
func Merge(current MergeState, incoming ParticipantStatus) (MergeState, error) {
	row, ok := mergeTable[current]
	if !ok {
		return "", fmt.Errorf("lcp: no merge row for state %q", current)
	}
	c, ok := row[incoming]
	if !ok {
		return "", fmt.Errorf("lcp: no merge column for participant status %q", incoming)
	}
	if c.contradiction {
		return "", fmt.Errorf("lcp: contradictory join state: merge=%q participant=%q", current, incoming)
	}
	return c.target, nil
}

// MergeAll folds every surviving participant's reported status in
// node-id order starting from Initial.
func MergeAll(order []uint32, statuses map[uint32]ParticipantStatus) (MergeState, error) {
	merged := Initial
	for _, node := range order {
		st, ok := statuses[node]
		if !ok {
			continue
		}
		next, err := Merge(merged, st)
		if err != nil {
			return "", err
		}
		merged = next
	}
	return merged, nil
}
