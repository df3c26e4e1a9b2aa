package treetank

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataBucketOffset(t *testing.T) {
	require.Equal(t, 0, dataBucketOffset(0))
	require.Equal(t, 127, dataBucketOffset(127))
	require.Equal(t, 0, dataBucketOffset(128))
	require.Equal(t, 127, dataBucketOffset(16383))

	for i := 0; i < 1000; i++ {
		x := uint64(rand.Int63n(MAX_ITEM_KEY - FANOUT))
		require.Equal(t, dataBucketOffset(x), dataBucketOffset(x+FANOUT))
	}
}

func TestLevelOffsets(t *testing.T) {
	tests := []struct {
		itemKey uint64
		offsets [LEVELS]int
		slot    int
	}{
		{0, [LEVELS]int{0, 0, 0, 0, 0}, 0},
		{127, [LEVELS]int{0, 0, 0, 0, 0}, 127},
		{128, [LEVELS]int{0, 0, 0, 0, 1}, 0},
		{16383, [LEVELS]int{0, 0, 0, 0, 127}, 127},
		{16384, [LEVELS]int{0, 0, 0, 1, 0}, 0},
		{1 << 28, [LEVELS]int{0, 1, 0, 0, 0}, 0},
		{1 << 35, [LEVELS]int{1, 0, 0, 0, 0}, 0},
		{MAX_ITEM_KEY, [LEVELS]int{127, 127, 127, 127, 127}, 127},
	}
	for _, test := range tests {
		require.Equal(t, test.offsets, levelOffsets(leafSequence(test.itemKey)), "item key %d", test.itemKey)
		require.Equal(t, test.slot, dataBucketOffset(test.itemKey), "item key %d", test.itemKey)
	}
}

func TestAddressingIsUnique(t *testing.T) {
	type position struct {
		offsets [LEVELS]int
		slot    int
	}
	seen := map[position]uint64{}
	check := func(k uint64) {
		p := position{levelOffsets(leafSequence(k)), dataBucketOffset(k)}
		if other, ok := seen[p]; ok {
			require.Equal(t, other, k, "keys %d and %d share a slot", other, k)
		}
		seen[p] = k
	}
	for k := uint64(0); k < 1<<16; k++ {
		check(k)
	}
	for i := 0; i < 10000; i++ {
		check(uint64(rand.Int63n(MAX_ITEM_KEY + 1)))
	}
}

func TestLevelKeyParents(t *testing.T) {
	seq := uint64(0x2345678) // some sequence with non zero offsets on most levels
	offsets := levelOffsets(seq)
	require.Equal(t, uint64(0), levelKey(seq, 0))
	require.Equal(t, seq, levelKey(seq, LEVELS))
	for level := 1; level <= LEVELS; level++ {
		child := levelKey(seq, level)
		require.Equal(t, levelKey(seq, level-1), child>>FANOUT_BITS)
		require.Equal(t, offsets[level-1], int(child&(FANOUT-1)))
	}
}

func TestKeyBounds(t *testing.T) {
	require.NoError(t, checkItemKey(MAX_ITEM_KEY))
	require.ErrorIs(t, checkItemKey(MAX_ITEM_KEY+1), ErrInvalidArgument)
	require.NoError(t, checkSequence(MAX_SEQUENCE))
	require.ErrorIs(t, checkSequence(MAX_SEQUENCE+1), ErrInvalidArgument)
	require.Equal(t, uint64(MAX_SEQUENCE), leafSequence(MAX_ITEM_KEY))
}
