package sysfile

import (
	"encoding/binary"
	"fmt"

	"distcoord/configs"
	"distcoord/model"
)

// headerWords is the number of header scalar words encoded before the
// per-node arrays; kept well under configs.SysfileMaxWords.
const headerWords = 8

// Encode packs the staged record into fixed-width 32-bit words (spec
// §4.7/§6). Node arrays are packed at NodeStatusBits/NodeGroupBits per
// node into as few words as fit, matching the source's bit-packed
// layout rather than one word per node.
func (s *Sysfile) Encode() ([]uint32, error) {
	words := make([]uint32, 0, configs.SysfileMaxWords)
	words = append(words,
		s.LatestLcpID,
		uint32(s.KeepGCI), uint32(s.KeepGCI>>32),
		uint32(s.OldestRestorableGCI), uint32(s.OldestRestorableGCI>>32),
		uint32(s.NewestRestorableGCI), uint32(s.NewestRestorableGCI>>32),
		uint32(s.SystemRestart),
	)

	for n := 1; n <= MaxNodes; n++ {
		words = append(words, uint32(s.LastCompletedGCI[n]), uint32(s.LastCompletedGCI[n]>>32))
	}

	words = append(words, packNodeStatus(s.NodeStatus[1:])...)
	words = append(words, packNodeGroups(s.NodeGroups[1:])...)
	words = append(words, packBits(s.LcpActive[1:])...)

	for n := 1; n <= MaxNodes; n++ {
		words = append(words, uint32(s.TakeOver[n]))
	}

	if len(words) > configs.SysfileMaxWords {
		return nil, fmt.Errorf("sysfile: encoded record is %d words, exceeds max %d", len(words), configs.SysfileMaxWords)
	}
	return words, nil
}

func packNodeStatus(st []configs.NodeStatus) []uint32 {
	return packBitsN(len(st), NodeStatusBits, func(i int) uint32 { return uint32(st[i]) })
}

func packNodeGroups(g []int32) []uint32 {
	return packBitsN(len(g), NodeGroupBits, func(i int) uint32 {
		if g[i] < 0 {
			return (1 << NodeGroupBits) - 1 // all-ones sentinel == no group
		}
		return uint32(g[i])
	})
}

func packBits(flags []bool) []uint32 {
	return packBitsN(len(flags), 1, func(i int) uint32 {
		if flags[i] {
			return 1
		}
		return 0
	})
}

func packBitsN(n, width int, valueAt func(int) uint32) []uint32 {
	out := make([]uint32, 0, (n*width)/32+1)
	var cur uint32
	var bitsUsed uint
	for i := 0; i < n; i++ {
		v := valueAt(i) & ((1 << uint(width)) - 1)
		cur |= v << bitsUsed
		bitsUsed += uint(width)
		if bitsUsed >= 32 {
			out = append(out, cur)
			bitsUsed -= 32
			cur = 0
			if bitsUsed > 0 {
				cur = v >> (uint(width) - bitsUsed)
			}
		}
	}
	if bitsUsed > 0 {
		out = append(out, cur)
	}
	return out
}

// Decode reverses Encode, reconstructing the staging buffer from a
// word slice read off disk.
func Decode(words []uint32) (*Sysfile, error) {
	if len(words) < headerWords {
		return nil, fmt.Errorf("sysfile: record too short: %d words", len(words))
	}
	s := New()
	s.LatestLcpID = words[0]
	s.KeepGCI = uint64(words[1]) | uint64(words[2])<<32
	s.OldestRestorableGCI = uint64(words[3]) | uint64(words[4])<<32
	s.NewestRestorableGCI = uint64(words[5]) | uint64(words[6])<<32
	s.SystemRestart = SystemRestartBits(words[7])

	off := headerWords
	for n := 1; n <= MaxNodes; n++ {
		if off+1 >= len(words) {
			return nil, fmt.Errorf("sysfile: truncated lastCompletedGCI section")
		}
		s.LastCompletedGCI[n] = uint64(words[off]) | uint64(words[off+1])<<32
		off += 2
	}

	nsWords := wordsNeeded(MaxNodes, NodeStatusBits)
	if off+nsWords > len(words) {
		return nil, fmt.Errorf("sysfile: truncated nodeStatus section")
	}
	unpackBitsN(words[off:off+nsWords], MaxNodes, NodeStatusBits, func(i int, v uint32) {
		s.NodeStatus[i+1] = configs.NodeStatus(v)
	})
	off += nsWords

	ngWords := wordsNeeded(MaxNodes, NodeGroupBits)
	if off+ngWords > len(words) {
		return nil, fmt.Errorf("sysfile: truncated nodeGroups section")
	}
	unpackBitsN(words[off:off+ngWords], MaxNodes, NodeGroupBits, func(i int, v uint32) {
		if v == (1<<NodeGroupBits)-1 {
			s.NodeGroups[i+1] = -1
		} else {
			s.NodeGroups[i+1] = int32(v)
		}
	})
	off += ngWords

	lcpWords := wordsNeeded(MaxNodes, 1)
	if off+lcpWords > len(words) {
		return nil, fmt.Errorf("sysfile: truncated lcpActive section")
	}
	unpackBitsN(words[off:off+lcpWords], MaxNodes, 1, func(i int, v uint32) {
		s.LcpActive[i+1] = v != 0
	})
	off += lcpWords

	for n := 1; n <= MaxNodes; n++ {
		if off >= len(words) {
			return nil, fmt.Errorf("sysfile: truncated takeOver section")
		}
		s.TakeOver[n] = model.NodeID(words[off])
		off++
	}
	return s, nil
}

func wordsNeeded(n, width int) int {
	bits := n * width
	return (bits + 31) / 32
}

func unpackBitsN(words []uint32, n, width int, set func(int, uint32)) {
	mask := uint32((1 << uint(width)) - 1)
	bitPos := 0
	for i := 0; i < n; i++ {
		wordIdx := bitPos / 32
		bitOff := uint(bitPos % 32)
		v := (words[wordIdx] >> bitOff) & mask
		if bitOff+uint(width) > 32 {
			// value spans two words (only possible for width>1 near a boundary)
			spill := (bitOff + uint(width)) - 32
			v |= (words[wordIdx+1] & ((1 << spill) - 1)) << (uint(width) - spill)
		}
		set(i, v)
		bitPos += width
	}
}

// ToBytes/FromBytes give the raw on-disk byte encoding (big-endian
// words), used by the two-copy persistor.
func ToBytes(words []uint32) []byte {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.BigEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

func FromBytes(buf []byte) []uint32 {
	words := make([]uint32, len(buf)/4)
	for i := range words {
		words[i] = binary.BigEndian.Uint32(buf[i*4:])
	}
	return words
}
