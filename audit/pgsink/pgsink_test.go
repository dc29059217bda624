package pgsink

import (
	"testing"

	"github.com/stretchr/testify/require"

	"distcoord/audit"
	"distcoord/configs"
)

// TestWriteSnapshot mirrors the teacher's storage_test.go TestSQLConn: a
// live connection to the dev Postgres instance, no mocking.
func TestWriteSnapshot(t *testing.T) {
	s, err := Open(configs.DefaultPostgresAuditDSN)
	require.NoError(t, err)
	defer s.Close()

	err = s.WriteSnapshot(audit.Snapshot{
		GCI:                 42,
		NewestRestorableGCI: 40,
		OldestRestorableGCI: 10,
		KeepGCI:             10,
		LatestLcpID:         3,
		Nodes:               []audit.NodeSnapshot{{ID: 1, Status: "Active", Group: 0}},
		Tables:              []audit.TableSnapshot{{ID: 1, FragmentCount: 8}},
	})
	require.NoError(t, err)
}
