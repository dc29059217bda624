package sysfile

import (
	"path/filepath"
	"testing"

	"distcoord/configs"
	"distcoord/dcerr"
	"distcoord/model"

	"github.com/stretchr/testify/require"
)

func sample() *Sysfile {
	s := New()
	s.LatestLcpID = 7
	s.KeepGCI = 100
	s.OldestRestorableGCI = 90
	s.NewestRestorableGCI = 105
	s.SystemRestart = LcpOngoing
	s.LastCompletedGCI[1] = 105
	s.LastCompletedGCI[2] = 104
	s.NodeStatus[1] = configs.Alive
	s.NodeStatus[2] = configs.Dead
	s.NodeGroups[1] = 0
	s.NodeGroups[2] = 0
	s.NodeGroups[3] = -1
	s.LcpActive[1] = true
	s.TakeOver[2] = model.NodeID(3)
	return s
}

func TestSysfileRoundTrip(t *testing.T) {
	s := sample()
	words, err := s.Encode()
	require.NoError(t, err)
	require.LessOrEqual(t, len(words), configs.SysfileMaxWords)

	got, err := Decode(words)
	require.NoError(t, err)
	require.Equal(t, s.LatestLcpID, got.LatestLcpID)
	require.Equal(t, s.KeepGCI, got.KeepGCI)
	require.Equal(t, s.OldestRestorableGCI, got.OldestRestorableGCI)
	require.Equal(t, s.NewestRestorableGCI, got.NewestRestorableGCI)
	require.Equal(t, s.SystemRestart, got.SystemRestart)
	require.Equal(t, s.LastCompletedGCI[1], got.LastCompletedGCI[1])
	require.Equal(t, s.LastCompletedGCI[2], got.LastCompletedGCI[2])
	require.Equal(t, s.NodeStatus[1], got.NodeStatus[1])
	require.Equal(t, s.NodeStatus[2], got.NodeStatus[2])
	require.Equal(t, s.NodeGroups[1], got.NodeGroups[1])
	require.Equal(t, s.NodeGroups[3], got.NodeGroups[3])
	require.Equal(t, s.LcpActive[1], got.LcpActive[1])
	require.Equal(t, s.TakeOver[2], got.TakeOver[2])
}

func TestStoreWriteThenReadBothCopies(t *testing.T) {
	dir1 := filepath.Join(t.TempDir(), "d1")
	dir2 := filepath.Join(t.TempDir(), "d2")
	st := NewStore(dir1, dir2)

	s := sample()
	require.NoError(t, st.Write(s))

	got, err := st.Read()
	require.NoError(t, err)
	require.Equal(t, s.NewestRestorableGCI, got.NewestRestorableGCI)
}

func TestStoreFallsBackToSecondCopyOnCorruption(t *testing.T) {
	dir1 := filepath.Join(t.TempDir(), "d1")
	dir2 := filepath.Join(t.TempDir(), "d2")
	st := NewStore(dir1, dir2)
	require.NoError(t, st.Write(sample()))

	corruptFile(t, st.paths[0])

	got, err := st.Read()
	require.NoError(t, err)
	require.Equal(t, uint32(7), got.LatestLcpID)
}

func TestStoreBothCopiesUnreadableIsFatal(t *testing.T) {
	dir1 := filepath.Join(t.TempDir(), "d1")
	dir2 := filepath.Join(t.TempDir(), "d2")
	st := NewStore(dir1, dir2)

	_, err := st.Read()
	require.Error(t, err)
	var fatal *dcerr.FatalError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, dcerr.ExitSRFailure, fatal.ExitCode)
}

func corruptFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, writeFileSync(path, []byte{0x01, 0x02}))
}
