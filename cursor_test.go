package treetank

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, c *Cursor, it Item, err error) (keys []uint64) {
	t.Helper()
	for ; err == nil; it, err = c.Next() {
		keys = append(keys, it.ItemKey())
	}
	require.ErrorIs(t, err, ErrNoMoreKeys)
	return
}

// this test various cursor related code
func TestCursor(t *testing.T) {
	res := newTestResource(t, Options{})

	cursor := readAt(t, res, 0).Cursor()
	_, err := cursor.First()
	require.ErrorIs(t, err, ErrNoMoreKeys) // since the revision is empty we must receive err
	_, err = cursor.Next()
	require.ErrorIs(t, err, ErrNoMoreKeys)

	commitValues(t, res, map[uint64]string{3: "a", 5: "b", 200: "c", 1 << 20: "d", 1 << 30: "e", MAX_ITEM_KEY: "f"})

	w, err := res.BeginWrite()
	require.NoError(t, err)
	_, err = w.RemoveItem(5)
	require.NoError(t, err)
	_, err = w.Commit()
	require.NoError(t, err)
	w.Close()

	c := readAt(t, res, 1).Cursor()
	it, err := c.First()
	require.Equal(t, []uint64{3, 5, 200, 1 << 20, 1 << 30, MAX_ITEM_KEY}, collect(t, c, it, err))

	c = readAt(t, res, 2).Cursor()
	it, err = c.First()
	require.Equal(t, []uint64{3, 200, 1 << 20, 1 << 30, MAX_ITEM_KEY}, collect(t, c, it, err))

	it, err = c.Seek(4)
	require.NoError(t, err)
	require.Equal(t, uint64(200), it.ItemKey())

	it, err = c.Seek(201)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<20), it.ItemKey())
	require.Equal(t, "d", string(it.(*BlobItem).Value))

	it, err = c.Next()
	require.NoError(t, err)
	require.Equal(t, uint64(1<<30), it.ItemKey())

	_, err = c.Seek(MAX_ITEM_KEY + 1)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCursorRandomKeys(t *testing.T) {
	res := newTestResource(t, Options{Revisioning: Incremental{MaxChain: 2}})

	reference := map[uint64]bool{}
	w, err := res.BeginWrite()
	require.NoError(t, err)
	defer w.Close()
	for round := 0; round < 5; round++ {
		for i := 0; i < 200; i++ {
			k := uint64(rand.Int63n(1 << 24))
			if rand.Intn(4) == 0 && len(reference) > 0 {
				for existing := range reference {
					k = existing
					break
				}
				found, err := w.RemoveItem(k)
				require.NoError(t, err)
				require.True(t, found)
				delete(reference, k)
				continue
			}
			require.NoError(t, w.SetItem(blob(k, "v")))
			reference[k] = true
		}
		_, err = w.Commit()
		require.NoError(t, err)
	}

	var expected []uint64
	for k := range reference {
		expected = append(expected, k)
	}
	sort.Slice(expected, func(i, j int) bool { return expected[i] < expected[j] })

	c := readAt(t, res, res.LatestRevision()).Cursor()
	it, err := c.First()
	require.Equal(t, expected, collect(t, c, it, err))
}
