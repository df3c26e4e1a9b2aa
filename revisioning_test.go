package treetank

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func leafWith(key, last uint64, slots map[int]Item) *LeafBucket {
	l := newLeafBucket(key, last)
	for i, it := range slots {
		l.items[i] = it
	}
	return l
}

func fetchFrom(leaves ...*LeafBucket) func(uint64) (*LeafBucket, error) {
	m := map[uint64]*LeafBucket{}
	for _, l := range leaves {
		m[l.bucket_key] = l
	}
	return func(key uint64) (*LeafBucket, error) {
		if l, ok := m[key]; ok {
			return l, nil
		}
		return nil, fmt.Errorf("leaf %d missing", key)
	}
}

// chainLengths returns the number of leaf versions merged to read key at revisions 1..n
func chainLengths(t *testing.T, res *Resource, key uint64) (lengths []int) {
	for revision := uint64(1); revision <= res.LatestRevision(); revision++ {
		chain, err := readAt(t, res, revision).SnapshotBuckets(key)
		require.NoError(t, err)
		lengths = append(lengths, len(chain))
	}
	return
}

func TestCombineTombstoneShadowsOlderItem(t *testing.T) {
	oldest := leafWith(10, NULL_BUCKET, map[int]Item{0: blob(0, "a"), 1: blob(1, "b")})
	middle := leafWith(20, 10, map[int]Item{0: newTombstone(0)})
	newest := leafWith(30, 20, map[int]Item{1: blob(1, "b2")})

	chain, err := walkChain(fetchFrom(oldest, middle, newest), 30, 0)
	require.NoError(t, err)
	require.Len(t, chain, 3)

	l := merged(chain)
	require.Equal(t, uint64(30), l.BucketKey())
	require.Equal(t, uint64(20), l.LastBucketKey())
	require.True(t, isTombstone(l.Slot(0)))
	require.Equal(t, "b2", string(l.Slot(1).(*BlobItem).Value))
	require.Nil(t, l.Slot(2))

	_, found, err := liveItem(l.Slot(0))
	require.NoError(t, err)
	require.False(t, found)

	c := combine(40, chain)
	require.Equal(t, uint64(30), c.LastBucketKey(), "a new version links to the newest bucket")
}

func TestWalkChain(t *testing.T) {
	a := leafWith(1, NULL_BUCKET, map[int]Item{0: blob(0, "a")})
	b := leafWith(2, 1, map[int]Item{1: blob(1, "b")})
	c := leafWith(3, 2, map[int]Item{2: blob(2, "c")})
	fetch := fetchFrom(a, b, c)

	chain, err := walkChain(fetch, 3, 0)
	require.NoError(t, err)
	require.Len(t, chain, 3)

	chain, err = walkChain(fetch, 3, 2)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, uint64(2), chain[1].BucketKey())

	chain, err = walkChain(fetch, NULL_BUCKET, 0)
	require.NoError(t, err)
	require.Empty(t, chain)

	// a fully resolved bucket ends the walk
	full := snapshot(0, leafWith(4, 3, map[int]Item{0: blob(0, "x")}), true)
	require.Equal(t, FANOUT, full.Populated())
	chain, err = walkChain(fetchFrom(a, b, c, full), 4, 0)
	require.NoError(t, err)
	require.Len(t, chain, 1)

	// links always point to older buckets
	loop := leafWith(5, 5, nil)
	_, err = walkChain(fetchFrom(loop), 5, 0)
	require.ErrorIs(t, err, ErrCorruption)
}

func TestSnapshotWithoutHistory(t *testing.T) {
	complete := leafWith(7, NULL_BUCKET, map[int]Item{3: blob(3, "x")})
	full := snapshot(0, complete, false)
	require.Equal(t, 1, full.Populated())

	full = snapshot(2, complete, true)
	require.Equal(t, FANOUT, full.Populated())
	require.Equal(t, uint64(2<<FANOUT_BITS|5), full.Slot(5).ItemKey())
	require.Equal(t, "x", string(full.Slot(3).(*BlobItem).Value))
}

func TestFullDumpNeverChains(t *testing.T) {
	res := newTestResource(t, Options{Revisioning: FullDump{}})
	for i := uint64(0); i < 4; i++ {
		commitValues(t, res, map[uint64]string{i: "v"})
	}
	require.Equal(t, []int{1, 1, 1, 1}, chainLengths(t, res, 0))

	r := readAt(t, res, 4)
	for i := uint64(0); i < 4; i++ {
		requireValue(t, r, i, "v")
	}
	requireAbsent(t, r, 4)
}

func TestIncrementalForcesSnapshot(t *testing.T) {
	res := newTestResource(t, Options{Revisioning: Incremental{MaxChain: 3}})
	for revision := 1; revision <= 5; revision++ {
		commitValues(t, res, map[uint64]string{0: fmt.Sprint(revision)})
	}
	require.Equal(t, []int{1, 2, 3, 1, 2}, chainLengths(t, res, 0))

	for revision := uint64(1); revision <= 5; revision++ {
		requireValue(t, readAt(t, res, revision), 0, fmt.Sprint(revision))
	}

	// the forced snapshot links to the previous version but is read alone
	chain, err := readAt(t, res, 4).SnapshotBuckets(0)
	require.NoError(t, err)
	require.Equal(t, FANOUT, chain[0].Populated())
	require.NotEqual(t, NULL_BUCKET, chain[0].LastBucketKey())
}

func TestIncrementalTombstoneAcrossChain(t *testing.T) {
	res := newTestResource(t, Options{Revisioning: Incremental{MaxChain: 8}})
	commitValues(t, res, map[uint64]string{0: "a", 1: "b"})

	w, err := res.BeginWrite()
	require.NoError(t, err)
	defer w.Close()
	_, err = w.RemoveItem(0)
	require.NoError(t, err)
	_, err = w.Commit()
	require.NoError(t, err)
	require.NoError(t, w.SetItem(blob(1, "b2")))
	_, err = w.Commit()
	require.NoError(t, err)

	r := readAt(t, res, 3)
	chain, err := r.SnapshotBuckets(0)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	require.Equal(t, 1, chain[0].Populated()) // only the changed slot is written
	requireAbsent(t, r, 0)
	requireValue(t, r, 1, "b2")
	requireValue(t, readAt(t, res, 1), 0, "a")
}

func TestSlidingSnapshotWindow(t *testing.T) {
	const window = 2
	res := newTestResource(t, Options{Revisioning: SlidingSnapshot{Window: window}})

	for k := uint64(0); k < 6; k++ {
		commitValues(t, res, map[uint64]string{k: fmt.Sprint(k)})
	}

	for revision := uint64(1); revision <= 6; revision++ {
		r := readAt(t, res, revision)
		for k := uint64(0); k < 6; k++ {
			if k < revision {
				requireValue(t, r, k, fmt.Sprint(k))
			} else {
				requireAbsent(t, r, k)
			}
		}
		chain, err := r.SnapshotBuckets(0)
		require.NoError(t, err)
		require.LessOrEqual(t, len(chain), window)
	}

	// a removal within the window stays hidden once the carried value moves on
	w, err := res.BeginWrite()
	require.NoError(t, err)
	defer w.Close()
	found, err := w.RemoveItem(0)
	require.NoError(t, err)
	require.True(t, found)
	for i := 0; i < 3; i++ {
		_, err = w.Commit()
		require.NoError(t, err)
		require.NoError(t, w.SetItem(blob(100+uint64(i), "pad")))
	}
	_, err = w.Commit()
	require.NoError(t, err)

	r := readAt(t, res, res.LatestRevision())
	requireAbsent(t, r, 0)
	for k := uint64(1); k < 6; k++ {
		requireValue(t, r, k, fmt.Sprint(k))
	}
	requireValue(t, readAt(t, res, 6), 0, "0")
}

func TestRevisioningNames(t *testing.T) {
	require.Equal(t, "fulldump", FullDump{}.String())
	require.Equal(t, "incremental(4)", Incremental{MaxChain: 4}.String())
	require.Equal(t, "slidingsnapshot(3)", SlidingSnapshot{Window: 3}.String())
	require.ErrorIs(t, checkRevisioning(nil), ErrInvalidArgument)
}
