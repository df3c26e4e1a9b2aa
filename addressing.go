package treetank

import "golang.org/x/xerrors"

// level exponents, root to leaf. each level consumes the next 7 bits of a bucket sequence, msb first
var levelExponents = [LEVELS]uint{28, 21, 14, 7, 0}

// dataBucketOffset is the slot of an item inside its leaf bucket
func dataBucketOffset(itemKey uint64) int {
	return int(itemKey & (FANOUT - 1))
}

// leafSequence is the position of the leaf bucket holding itemKey among all leaves
func leafSequence(itemKey uint64) uint64 {
	return itemKey >> FANOUT_BITS
}

// levelOffsets returns, for every indirect level, the reference to follow towards sequence seq.
// offsets[LEVELS-1] selects the leaf (or the revision root in the revision tree).
func levelOffsets(seq uint64) (offsets [LEVELS]int) {
	for i, exponent := range levelExponents {
		offsets[i] = int((seq >> exponent) & (FANOUT - 1))
	}
	return
}

// levelKey identifies the bucket at level (0 root indirect .. LEVELS leaf) on the path to seq.
// the parent of levelKey(l) is levelKey(l)>>FANOUT_BITS at level l-1, reached through offset levelKey(l)&(FANOUT-1).
func levelKey(seq uint64, level int) uint64 {
	return seq >> (FANOUT_BITS * uint(LEVELS-level))
}

func checkItemKey(itemKey uint64) error {
	if itemKey > MAX_ITEM_KEY {
		return xerrors.Errorf("%w: item key %d exceeds %d", ErrInvalidArgument, itemKey, uint64(MAX_ITEM_KEY))
	}
	return nil
}

func checkSequence(seq uint64) error {
	if seq > MAX_SEQUENCE {
		return xerrors.Errorf("%w: sequence %d exceeds %d", ErrInvalidArgument, seq, uint64(MAX_SEQUENCE))
	}
	return nil
}
