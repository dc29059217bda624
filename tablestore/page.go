// Package tablestore implements table/fragment descriptor persistence
// (spec §3, §6, component L2): packing a table's fragment and replica
// records into fixed-size pages and writing them to the table's two
// FRAGLIST file copies.
package tablestore

import (
	"fmt"

	"distcoord/configs"
	"distcoord/model"
)

// PageWords is the fixed page size (spec §6: "Layout per page (2048 words)").
const PageWords = configs.FraglistPageWords

// MethodHash is the only fragmentation method this cluster implements
// (spec §6: "method=HASH").
const MethodHash = 1

// Header mirrors the per-page header fields named in spec §6:
// totalFragments, noOfBackups, hashPointer, kvalue, mask, method,
// storedFlag.
type Header struct {
	TotalFragments uint32
	NoOfBackups    uint32
	HashPointer    uint32
	Kvalue         uint32
	Mask           uint32
	Method         uint32
	StoredFlag     uint32
}

// namedHeaderWords is the 7 fields spec §6 names explicitly. Word 7, just
// past them, is reserved for this page's own fragment count so Unpack
// can tell a real fragment record from trailing zero padding without
// guessing; every page carries it, not just page 0.
const namedHeaderWords = 7
const fragCountWord = namedHeaderWords
const headerWords = fragCountWord + 1

// page0DataStart reserves room for the page-0-only totalPageCount /
// totalWordCount fields at words 33 and 34 (spec §6: "Page 0 words 33
// and 34 hold the total page count and total word count").
const page0DataStart = 35

// replicaRecordWords is the fixed word count of one packed replica
// record: procNode, initialGci(2), noCrashedReplicas, nextLcp, then
// MaxLcpStored×(maxGciCompleted(2)+maxGciStarted(2)+lcpId+lcpStatus),
// then MaxCrashedReplicas×(createGci(2)+replicaLastGci(2)).
var replicaRecordWords = 1 + 2 + 1 + 1 +
	configs.MaxLcpStored*(2+2+1+1) +
	configs.MaxCrashedReplicas*(2+2)

// fragHeaderWords: fragId, preferredPrimary, noStoredReplicas, noOldStoredReplicas, distributionKey.
const fragHeaderWords = 5

// Pack serializes a table's fragments into a sequence of fixed-size
// pages (spec §6). A fragment's header-plus-replica-records block is
// never split across a page boundary; a block wider than a page is a
// configuration error (far beyond any realistic replica count).
func Pack(t *model.Table, pool *model.Pool[model.Replica], h Header) ([][]uint32, error) {
	h.TotalFragments = uint32(t.TotalFragments)
	h.Method = MethodHash

	var pages [][]uint32
	var fragsInCur uint32
	var cur []uint32

	writeHeader := func(dataStart int) []uint32 {
		p := make([]uint32, headerWords, PageWords)
		p[0] = h.TotalFragments
		p[1] = h.NoOfBackups
		p[2] = h.HashPointer
		p[3] = h.Kvalue
		p[4] = h.Mask
		p[5] = h.Method
		p[6] = h.StoredFlag
		for len(p) < dataStart {
			p = append(p, 0)
		}
		return p
	}
	dataStartFor := func(pageIdx int) int {
		if pageIdx == 0 {
			return page0DataStart
		}
		return headerWords
	}

	cur = writeHeader(dataStartFor(0))
	fragsInCur = 0

	finishPage := func() {
		cur[fragCountWord] = fragsInCur
		pages = append(pages, cur)
	}

	for _, f := range t.Fragments {
		if f == nil {
			continue
		}
		block, err := packFragment(pool, f)
		if err != nil {
			return nil, err
		}
		if len(block) > PageWords {
			return nil, fmt.Errorf("tablestore: fragment %d record (%d words) exceeds page size %d", f.FragID, len(block), PageWords)
		}
		if len(cur)+len(block) > PageWords {
			finishPage()
			cur = writeHeader(dataStartFor(len(pages)))
			fragsInCur = 0
		}
		cur = append(cur, block...)
		fragsInCur++
	}
	finishPage()

	totalWords := 0
	for _, p := range pages {
		totalWords += len(p)
	}
	pages[0][33] = uint32(len(pages))
	pages[0][34] = uint32(totalWords)

	for i := range pages {
		for len(pages[i]) < PageWords {
			pages[i] = append(pages[i], 0)
		}
	}
	return pages, nil
}

func packFragment(pool *model.Pool[model.Replica], f *model.Fragment) ([]uint32, error) {
	nStored := f.CountStored(pool)
	nOld := f.CountOldStored(pool)
	block := make([]uint32, 0, fragHeaderWords+(nStored+nOld)*replicaRecordWords)
	block = append(block,
		uint32(f.FragID), uint32(f.PreferredPrimary),
		uint32(nStored), uint32(nOld), uint32(f.DistributionKey),
	)
	f.WalkStored(pool, func(_ model.Handle, r *model.Replica) bool {
		block = append(block, packReplica(r)...)
		return true
	})
	f.WalkOldStored(pool, func(_ model.Handle, r *model.Replica) bool {
		block = append(block, packReplica(r)...)
		return true
	})
	return block, nil
}

func packReplica(r *model.Replica) []uint32 {
	out := make([]uint32, 0, replicaRecordWords)
	out = append(out, uint32(r.Node), uint32(r.InitialGci), uint32(r.InitialGci>>32))
	out = append(out, uint32(r.NoCrashedReplicas), uint32(r.NextLcp))
	for i := 0; i < configs.MaxLcpStored; i++ {
		out = append(out,
			uint32(r.MaxGciCompleted[i]), uint32(r.MaxGciCompleted[i]>>32),
			uint32(r.MaxGciStarted[i]), uint32(r.MaxGciStarted[i]>>32),
			r.LcpID[i], uint32(r.LcpStatus[i]),
		)
	}
	for i := 0; i < configs.MaxCrashedReplicas; i++ {
		out = append(out,
			uint32(r.CreateGci[i]), uint32(r.CreateGci[i]>>32),
			uint32(r.ReplicaLastGci[i]), uint32(r.ReplicaLastGci[i]>>32),
		)
	}
	return out
}
