package treetank

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "treetank.bolt")

	store, err := NewBoltStore(path, BoltOptions{NoSync: true})
	require.NoError(t, err)
	uber, err := store.Uber()
	require.NoError(t, err)
	require.Nil(t, uber)

	res, err := Open(store, testOptions(Options{Revisioning: SlidingSnapshot{Window: 3}, Compression: ZstdCompression}))
	require.NoError(t, err)
	for i := uint64(1); i <= 10; i++ {
		commitValues(t, res, map[uint64]string{i: fmt.Sprint(i), 0: fmt.Sprint(i)})
	}
	require.NoError(t, res.Close())

	_, err = store.Get(1)
	require.ErrorIs(t, err, ErrClosed)

	store, err = NewBoltStore(path, BoltOptions{})
	require.NoError(t, err)
	res, err = Open(store, testOptions(Options{Revisioning: SlidingSnapshot{Window: 3}, VerifyHashes: true}))
	require.NoError(t, err)
	defer res.Close()

	require.Equal(t, uint64(10), res.LatestRevision())
	for i := uint64(1); i <= 10; i++ {
		r := readAt(t, res, i)
		requireValue(t, r, 0, fmt.Sprint(i))
		for k := uint64(1); k <= 10; k++ {
			if k <= i {
				requireValue(t, r, k, fmt.Sprint(k))
			} else {
				requireAbsent(t, r, k)
			}
		}
	}

	_, err = store.Get(1 << 40)
	require.ErrorIs(t, err, ErrCorruption)
	require.ErrorIs(t, store.Commit([]BucketData{{Key: NULL_BUCKET}}, []byte("u")), ErrInvalidArgument)
}
