package tablestore

import (
	"path/filepath"
	"testing"

	"distcoord/model"

	"github.com/stretchr/testify/require"
)

func buildSampleTable() (*model.Table, *model.Pool[model.Replica]) {
	pool := model.NewPool[model.Replica](16)
	table := model.NewTable(1, 2)

	f0 := model.NewFragment(1, 0, 1)
	h0 := pool.Alloc()
	*pool.Get(h0) = *model.NewReplica(1, 0)
	pool.Get(h0).RecordLcp(0, 55, 10, 12)
	f0.PushStored(pool, h0)
	table.Fragments[0] = f0

	f1 := model.NewFragment(1, 1, 2)
	h1 := pool.Alloc()
	*pool.Get(h1) = *model.NewReplica(2, 3)
	f1.PushStored(pool, h1)
	h2 := pool.Alloc()
	*pool.Get(h2) = *model.NewReplica(3, 3)
	f1.PushOldStored(pool, h2)
	table.Fragments[1] = f1

	return table, pool
}

func TestPackUnpackRoundTrip(t *testing.T) {
	table, pool := buildSampleTable()
	pages, err := Pack(table, pool, Header{NoOfBackups: 1, Kvalue: 6})
	require.NoError(t, err)
	require.Equal(t, PageWords, len(pages[0]))

	outPool := model.NewPool[model.Replica](16)
	got, h, err := Unpack(pages, outPool, table.ID, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(6), h.Kvalue)
	require.Equal(t, 2, got.TotalFragments)

	require.Equal(t, 1, got.Fragments[0].CountStored(outPool))
	require.Equal(t, 1, got.Fragments[1].CountStored(outPool))
	require.Equal(t, 1, got.Fragments[1].CountOldStored(outPool))

	var gotNode model.NodeID
	got.Fragments[0].WalkStored(outPool, func(_ model.Handle, r *model.Replica) bool {
		gotNode = r.Node
		require.Equal(t, uint32(55), r.LcpID[0])
		return true
	})
	require.Equal(t, model.NodeID(1), gotNode)
}

func TestStoreWriteReadRoundTrip(t *testing.T) {
	table, pool := buildSampleTable()
	dir1 := filepath.Join(t.TempDir(), "d1")
	dir2 := filepath.Join(t.TempDir(), "d2")
	st := NewStore(dir1, dir2)
	require.NoError(t, st.Write(table, pool, Header{Kvalue: 6}))

	outPool := model.NewPool[model.Replica](16)
	got, _, err := st.Read(table.ID, outPool, 1)
	require.NoError(t, err)
	require.Equal(t, table.TotalFragments, got.TotalFragments)
}

func TestPackSplitsAcrossPagesWhenManyFragments(t *testing.T) {
	pool := model.NewPool[model.Replica](256)
	const n = 64
	table := model.NewTable(2, n)
	for i := 0; i < n; i++ {
		f := model.NewFragment(2, model.FragID(i), model.NodeID(i%4+1))
		h := pool.Alloc()
		*pool.Get(h) = *model.NewReplica(model.NodeID(i%4+1), 0)
		f.PushStored(pool, h)
		table.Fragments[i] = f
	}
	pages, err := Pack(table, pool, Header{})
	require.NoError(t, err)
	require.Greater(t, len(pages), 1)

	outPool := model.NewPool[model.Replica](256)
	got, _, err := Unpack(pages, outPool, table.ID, 1)
	require.NoError(t, err)
	require.Equal(t, n, got.TotalFragments)
	for i := 0; i < n; i++ {
		require.NotNil(t, got.Fragments[i])
	}
}
