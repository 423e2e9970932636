package engine

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockpipe/gateway/pkg/types"
)

func TestChunks(t *testing.T) {
	tests := []struct {
		name  string
		rng   types.BlockRange
		size  int64
		want  []types.BlockRange
		count int64
	}{
		{
			name:  "single block",
			rng:   types.BlockRange{From: 100, To: 100},
			size:  2000,
			want:  []types.BlockRange{{From: 100, To: 100}},
			count: 1,
		},
		{
			name:  "exact multiple",
			rng:   types.BlockRange{From: 0, To: 3999},
			size:  2000,
			want:  []types.BlockRange{{From: 0, To: 1999}, {From: 2000, To: 3999}},
			count: 2,
		},
		{
			name: "short last chunk",
			rng:  types.BlockRange{From: 10, To: 4500},
			size: 2000,
			want: []types.BlockRange{
				{From: 10, To: 2009},
				{From: 2010, To: 4009},
				{From: 4010, To: 4500},
			},
			count: 3,
		},
		{
			name:  "size one",
			rng:   types.BlockRange{From: 5, To: 7},
			size:  1,
			want:  []types.BlockRange{{From: 5, To: 5}, {From: 6, To: 6}, {From: 7, To: 7}},
			count: 3,
		},
		{
			name: "range ending at max int64",
			rng:  types.BlockRange{From: math.MaxInt64 - 2500, To: math.MaxInt64},
			size: 2000,
			want: []types.BlockRange{
				{From: math.MaxInt64 - 2500, To: math.MaxInt64 - 501},
				{From: math.MaxInt64 - 500, To: math.MaxInt64},
			},
			count: 2,
		},
		{
			name:  "inverted range",
			rng:   types.BlockRange{From: 10, To: 9},
			size:  2000,
			want:  nil,
			count: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := slices.Collect(Chunks(tt.rng, tt.size))
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.count, ChunkCount(tt.rng, tt.size))
		})
	}
}

func TestChunks_FullRangeIsLazy(t *testing.T) {
	rng := types.BlockRange{From: 0, To: math.MaxInt64}

	var seen []types.BlockRange
	for c := range Chunks(rng, 2000) {
		seen = append(seen, c)
		if len(seen) == 3 {
			break
		}
	}

	require.Equal(t, []types.BlockRange{
		{From: 0, To: 1999},
		{From: 2000, To: 3999},
		{From: 4000, To: 5999},
	}, seen)
	require.Equal(t, int64(math.MaxInt64/2000)+1, ChunkCount(rng, 2000))
}

func TestChunks_CoverRangeContiguously(t *testing.T) {
	rng := types.BlockRange{From: 17, To: 20_017}
	next := rng.From
	for c := range Chunks(rng, 333) {
		require.Equal(t, next, c.From)
		require.LessOrEqual(t, c.Len(), uint64(333))
		next = c.To + 1
	}
	require.Equal(t, rng.To+1, next)
}
