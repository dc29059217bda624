// Package gcp implements the Global Checkpoint protocol driver: the
// three-phase prepare/commit/save cycle, its stuck monitor, and the
// master-takeover join-state merge (spec §4.3, component C1).
package gcp

import "fmt"

// State is the GCP cycle's current phase as seen by the (possibly newly
// taken-over) master.
type State string

const (
	Initial        State = "Initial"
	AllReady       State = "AllReady"
	PrepStarted    State = "PrepStarted"
	AllPrepared    State = "AllPrepared"
	CommitStarted  State = "CommitStarted"
	CommitComplete State = "CommitComplete"
	SaveStarted    State = "SaveStarted"
)

// ParticipantState is what a surviving node reports in its MASTER_GCPREQ
// reply (spec §4.3: "{Ready, PrepareReceived, CommitReceived,
// TcFinished}").
type ParticipantState string

const (
	Ready           ParticipantState = "Ready"
	PrepareReceived ParticipantState = "PrepareReceived"
	CommitReceived  ParticipantState = "CommitReceived"
	TcFinished      ParticipantState = "TcFinished"
)

// cell encodes one entry of the merge table: either a target State, or
// one of the two special markers below.
type cell struct {
	target        State
	contradiction bool
	unchanged     bool
}

func to(s State) cell     { return cell{target: s} }
func contradiction() cell { return cell{contradiction: true} }
func unchanged() cell     { return cell{unchanged: true} }

// mergeTable is spec §4.3's table verbatim (rows = current merge state,
// columns = incoming participant state).
var mergeTable = map[State]map[ParticipantState]cell{
	Initial: {
		Ready:           to(AllReady),
		PrepareReceived: to(AllPrepared),
		CommitReceived:  to(CommitStarted),
		TcFinished:      to(CommitComplete),
	},
	AllReady: {
		Ready:           to(AllReady),
		PrepareReceived: to(PrepStarted),
		CommitReceived:  contradiction(),
		TcFinished:      to(SaveStarted),
	},
	AllPrepared: {
		Ready:           to(PrepStarted),
		PrepareReceived: to(AllPrepared),
		CommitReceived:  to(CommitStarted),
		TcFinished:      to(CommitStarted),
	},
	CommitStarted: {
		Ready:           contradiction(),
		PrepareReceived: unchanged(),
		CommitReceived:  unchanged(),
		TcFinished:      unchanged(),
	},
	CommitComplete: {
		Ready:           to(SaveStarted),
		PrepareReceived: to(CommitStarted),
		CommitReceived:  to(CommitStarted),
		TcFinished:      unchanged(),
	},
}

// Merge folds one participant's reported state into the current join
// state, per spec §4.3's table. A contradiction ("—") is a protocol
// bug, not a recoverable condition — the master-takeover driver must
// fail fast, per the spec's own wording.
func Merge(current State, incoming ParticipantState) (State, error) {
	row, ok := mergeTable[current]
	if !ok {
		return "", fmt.Errorf("gcp: no merge row for state %q", current)
	}
	c, ok := row[incoming]
	if !ok {
		return "", fmt.Errorf("gcp: no merge column for participant state %q", incoming)
	}
	if c.contradiction {
		return "", fmt.Errorf("gcp: contradictory join state: merge=%q participant=%q", current, incoming)
	}
	if c.unchanged {
		return current, nil
	}
	return c.target, nil
}

// MergeAll folds every surviving participant's reported state in node-
// id order (for determinism) starting from Initial, per spec §4.3's
// master-takeover paragraph.
func MergeAll(order []uint32, states map[uint32]ParticipantState) (State, error) {
	merged := Initial
	for _, node := range order {
		st, ok := states[node]
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
