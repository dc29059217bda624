// Package audit defines the observability mirrors SPEC_FULL.md's DOMAIN
// STACK names for the teacher's two storage-layer dependencies that
// have no other home in this repo: github.com/jackc/pgx/v4 (a
// periodic, "ndbinfo"-style snapshot of cluster state) and
// go.mongodb.org/mongo-driver (an append-only trail of protocol round
// completions). Neither sink is load-bearing: a write failure is
// logged by the caller and never escalated, since audit visibility is
// an ambient concern, not part of protocol correctness (spec §1).
package audit

// Snapshot is a point-in-time view of cluster state, mirrored into
// Postgres by audit/pgsink on every GCP save / LCP round end / take-over
// end (the same events that move newestRestorableGCI/latestLcpID).
type Snapshot struct {
	GCI                 uint64
	NewestRestorableGCI uint64
	OldestRestorableGCI uint64
	KeepGCI             uint64
	LatestLcpID         uint32
	Nodes               []NodeSnapshot
	Tables              []TableSnapshot
}

type NodeSnapshot struct {
	ID     uint32
	Status string
	Group  int32
}

type TableSnapshot struct {
	ID            uint32
	FragmentCount int
}

// RoundEvent is one protocol-round completion appended to the Mongo
// audit trail by audit/mongosink.
type RoundEvent struct {
	Kind   string
	Detail map[string]interface{}
}

// SnapshotSink periodically mirrors cluster state (audit/pgsink).
type SnapshotSink interface {
	WriteSnapshot(s Snapshot) error
}

// RoundSink appends one protocol-round completion (audit/mongosink).
type RoundSink interface {
	WriteRound(e RoundEvent) error
}
