package engine

import (
	"iter"

	"github.com/blockpipe/gateway/pkg/types"
)

// Chunks partitions r into consecutive sub-ranges of at most size blocks.
// The last chunk may be shorter. Chunks are produced lazily, so ranges
// reaching math.MaxInt64 neither allocate a list nor overflow.
func Chunks(r types.BlockRange, size int64) iter.Seq[types.BlockRange] {
	return func(yield func(types.BlockRange) bool) {
		if size <= 0 || r.From > r.To {
			return
		}
		for from := r.From; ; {
			to := r.To
			if r.To-from >= size {
				to = from + size - 1
			}
			if !yield(types.BlockRange{From: from, To: to}) {
				return
			}
			if to >= r.To {
				return
			}
			from = to + 1
		}
	}
}

// ChunkCount returns how many chunks Chunks yields for r.
func ChunkCount(r types.BlockRange, size int64) int64 {
	if size <= 0 || r.From > r.To {
		return 0
	}
	span := uint64(r.To - r.From)
	return int64(span/uint64(size)) + 1
}
