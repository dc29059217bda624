package tablestore

import (
	"fmt"

	"distcoord/configs"
	"distcoord/model"
)

// Unpack reverses Pack, reconstructing a Table and allocating its
// replicas from pool. The fragment count is read from page 0's header;
// schemaVersion comes from the table catalogue (it is not carried in the
// FRAGLIST pages themselves).
func Unpack(pages [][]uint32, pool *model.Pool[model.Replica], tableID model.TableID, schemaVersion uint32) (*model.Table, Header, error) {
	if len(pages) == 0 {
		return nil, Header{}, fmt.Errorf("tablestore: no pages to unpack")
	}
	h := readHeader(pages[0])
	t := model.NewTable(tableID, int(h.TotalFragments))
	t.SchemaVersion = schemaVersion

	parsed := 0
	for pageIdx, page := range pages {
		n := int(page[fragCountWord])
		off := dataStartFor(pageIdx)
		for i := 0; i < n; i++ {
			if off+fragHeaderWords > len(page) {
				return nil, Header{}, fmt.Errorf("tablestore: page %d truncated fragment header", pageIdx)
			}
			fragID := model.FragID(page[off])
			preferredPrimary := model.NodeID(page[off+1])
			nStored := int(page[off+2])
			nOld := int(page[off+3])
			distKey := uint8(page[off+4])
			off += fragHeaderWords

			f := model.NewFragment(t.ID, fragID, preferredPrimary)
			f.DistributionKey = distKey
			f.ActiveNodes = nil

			for j := 0; j < nStored; j++ {
				r, next, err := unpackReplica(page, off)
				if err != nil {
					return nil, Header{}, err
				}
				off = next
				rh := pool.Alloc()
				*pool.Get(rh) = *r
				f.PushStored(pool, rh)
				f.ActiveNodes = append(f.ActiveNodes, r.Node)
			}
			for j := 0; j < nOld; j++ {
				r, next, err := unpackReplica(page, off)
				if err != nil {
					return nil, Header{}, err
				}
				off = next
				rh := pool.Alloc()
				*pool.Get(rh) = *r
				f.PushOldStored(pool, rh)
			}

			if int(fragID) >= len(t.Fragments) {
				return nil, Header{}, fmt.Errorf("tablestore: fragId %d out of range", fragID)
			}
			t.Fragments[fragID] = f
			parsed++
		}
	}
	if parsed != int(h.TotalFragments) {
		return nil, Header{}, fmt.Errorf("tablestore: expected %d fragments, parsed %d", h.TotalFragments, parsed)
	}
	return t, h, nil
}

func dataStartFor(pageIdx int) int {
	if pageIdx == 0 {
		return page0DataStart
	}
	return headerWords
}

func readHeader(page []uint32) Header {
	return Header{
		TotalFragments: page[0],
		NoOfBackups:    page[1],
		HashPointer:    page[2],
		Kvalue:         page[3],
		Mask:           page[4],
		Method:         page[5],
		StoredFlag:     page[6],
	}
}

func unpackReplica(page []uint32, off int) (*model.Replica, int, error) {
	if off+replicaRecordWords > len(page) {
		return nil, 0, fmt.Errorf("tablestore: truncated replica record at offset %d", off)
	}
	r := &model.Replica{}
	r.Node = model.NodeID(page[off])
	r.InitialGci = uint64(page[off+1]) | uint64(page[off+2])<<32
	r.NoCrashedReplicas = uint8(page[off+3])
	r.NextLcp = uint8(page[off+4])
	off += 5

	for i := 0; i < configs.MaxLcpStored; i++ {
		r.MaxGciCompleted[i] = uint64(page[off]) | uint64(page[off+1])<<32
		r.MaxGciStarted[i] = uint64(page[off+2]) | uint64(page[off+3])<<32
		r.LcpID[i] = page[off+4]
		r.LcpStatus[i] = configs.ReplicaLcpStatus(page[off+5])
		off += 6
	}
	for i := 0; i < configs.MaxCrashedReplicas; i++ {
		r.CreateGci[i] = uint64(page[off]) | uint64(page[off+1])<<32
		r.ReplicaLastGci[i] = uint64(page[off+2]) | uint64(page[off+3])<<32
		off += 4
	}
	return r, off, nil
}
