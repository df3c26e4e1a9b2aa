package treetank

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func testOptions(opt Options) Options {
	if opt.ItemFactory == nil {
		opt.ItemFactory = BlobFactory{}
	}
	if opt.MetaFactory == nil {
		opt.MetaFactory = StringEntryFactory{}
	}
	if opt.Logger == nil {
		opt.Logger = quiet
	}
	return opt
}

// newTestResource opens a resource on a fresh memory store, it is closed with the test
func newTestResource(t *testing.T, opt Options) *Resource {
	t.Helper()
	store, err := NewMemStore()
	require.NoError(t, err)
	res, err := Open(store, testOptions(opt))
	require.NoError(t, err)
	t.Cleanup(func() { res.Close() })
	return res
}

func blob(key uint64, value string) *BlobItem {
	return &BlobItem{Key: key, Value: []byte(value)}
}

type itemReader interface {
	Item(itemKey uint64) (Item, bool, error)
}

func requireValue(t *testing.T, trx itemReader, key uint64, value string) {
	t.Helper()
	it, found, err := trx.Item(key)
	require.NoError(t, err)
	require.True(t, found, "item %d should exist", key)
	require.Equal(t, value, string(it.(*BlobItem).Value))
}

func requireAbsent(t *testing.T, trx itemReader, key uint64) {
	t.Helper()
	it, found, err := trx.Item(key)
	require.NoError(t, err)
	require.False(t, found, "item %d should not exist", key)
	require.Nil(t, it)
}

// commitValues writes all values as one revision and returns it
func commitValues(t *testing.T, res *Resource, values map[uint64]string) uint64 {
	t.Helper()
	w, err := res.BeginWrite()
	require.NoError(t, err)
	defer w.Close()
	for k, v := range values {
		require.NoError(t, w.SetItem(blob(k, v)))
	}
	revision, err := w.Commit()
	require.NoError(t, err)
	return revision
}

func readAt(t *testing.T, res *Resource, revision uint64) *ReadTrx {
	t.Helper()
	r, err := res.BeginRead(revision)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

// failingBackend refuses commits while fail is set
type failingBackend struct {
	Backend
	fail bool
}

var errInjected = errors.New("injected commit failure")

func (f *failingBackend) Commit(buckets []BucketData, uber []byte) error {
	if f.fail {
		return errInjected
	}
	return f.Backend.Commit(buckets, uber)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestOpenBootstrapsRevisionZero(t *testing.T) {
	res := newTestResource(t, Options{})

	require.Equal(t, uint64(0), res.LatestRevision())
	uber := res.Uber()
	require.Equal(t, uint64(0), uber.RevisionCount())
	require.Equal(t, uint64(8), uber.BucketCounter()) // revision root, revision tree path, uber

	r := readAt(t, res, 0)
	revision, err := r.Revision()
	require.NoError(t, err)
	require.Equal(t, uint64(0), revision)
	next, err := r.NextItemKey()
	require.NoError(t, err)
	require.Equal(t, uint64(0), next)
	requireAbsent(t, r, 0)
	requireAbsent(t, r, 1<<30)

	size, err := r.MetaSize()
	require.NoError(t, err)
	require.Equal(t, 0, size)
}

func TestOpenArguments(t *testing.T) {
	store, err := NewMemStore()
	require.NoError(t, err)
	defer store.Close()

	_, err = Open(store, Options{Logger: quiet})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Open(store, testOptions(Options{Revisioning: Incremental{}}))
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Open(store, testOptions(Options{Revisioning: SlidingSnapshot{Window: -1}}))
	require.ErrorIs(t, err, ErrInvalidArgument)

	res, err := Open(store, testOptions(Options{}))
	require.NoError(t, err)
	require.Equal(t, Incremental{MaxChain: DEFAULT_MAX_CHAIN}, res.Options().Revisioning)
	require.Equal(t, DEFAULT_CACHE_SIZE, res.Options().CacheSize)
}

func TestResourceReopenOnSameBackend(t *testing.T) {
	store, err := NewMemStore()
	require.NoError(t, err)
	defer store.Close()

	first, err := Open(store, testOptions(Options{}))
	require.NoError(t, err)
	commitValues(t, first, map[uint64]string{1: "one", 500: "five hundred"})
	commitValues(t, first, map[uint64]string{1: "uno"})

	second, err := Open(store, testOptions(Options{}))
	require.NoError(t, err)
	require.Equal(t, uint64(2), second.LatestRevision())
	require.Equal(t, first.Uber(), second.Uber())

	requireValue(t, readAt(t, second, 1), 1, "one")
	requireValue(t, readAt(t, second, 2), 1, "uno")
	requireValue(t, readAt(t, second, 2), 500, "five hundred")
}

func TestResourceClose(t *testing.T) {
	res := newTestResource(t, Options{})
	commitValues(t, res, map[uint64]string{7: "seven"})

	r, err := res.BeginRead(1)
	require.NoError(t, err)
	w, err := res.BeginWrite()
	require.NoError(t, err)

	require.NoError(t, res.Close())
	require.True(t, r.IsClosed())
	require.True(t, w.IsClosed())

	_, err = res.BeginRead(1)
	require.ErrorIs(t, err, ErrClosed)
	_, err = res.BeginWrite()
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, res.Close())
}

func TestMetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	res := newTestResource(t, Options{Registerer: reg})
	commitValues(t, res, map[uint64]string{1: "one"})
	requireValue(t, readAt(t, res, 1), 1, "one")

	require.Equal(t, float64(2), counterValue(t, reg, "treetank_commits_total")) // bootstrap and revision 1
	require.Greater(t, counterValue(t, reg, "treetank_buckets_written_total"), float64(0))
	require.Greater(t, counterValue(t, reg, "treetank_buckets_read_total"), float64(0))
	require.Equal(t, float64(0), counterValue(t, reg, "treetank_corruptions_total"))

	// the same collectors cannot be registered twice
	store, err := NewMemStore()
	require.NoError(t, err)
	_, err = Open(store, testOptions(Options{Registerer: reg}))
	require.Error(t, err)
}

func TestRevisioningIsStored(t *testing.T) {
	store, err := NewMemStore()
	require.NoError(t, err)
	defer store.Close()

	first, err := Open(store, testOptions(Options{Revisioning: Incremental{MaxChain: 8}}))
	require.NoError(t, err)
	uber := first.Uber()
	require.Equal(t, Incremental{MaxChain: 8}, uber.Revisioning())
	for i := uint64(0); i < 3; i++ {
		commitValues(t, first, map[uint64]string{i: "value"})
	}

	// the chains were built for incremental, a read window would cut them short
	_, err = Open(store, testOptions(Options{Revisioning: SlidingSnapshot{Window: 1}}))
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = Open(store, testOptions(Options{Revisioning: Incremental{MaxChain: 2}}))
	require.ErrorIs(t, err, ErrInvalidArgument)

	second, err := Open(store, testOptions(Options{}))
	require.NoError(t, err)
	require.Equal(t, Incremental{MaxChain: 8}, second.Options().Revisioning)
	requireValue(t, readAt(t, second, 3), 0, "value")

	same, err := Open(store, testOptions(Options{Revisioning: Incremental{MaxChain: 8}}))
	require.NoError(t, err)
	requireValue(t, readAt(t, same, 3), 0, "value")
}

func TestStoredRevisioningIsAdopted(t *testing.T) {
	dir := t.TempDir()
	_, res := openDisk(t, dir, Options{Revisioning: SlidingSnapshot{Window: 2}})
	for i := uint64(0); i < 4; i++ {
		commitValues(t, res, map[uint64]string{i: "value"})
	}
	require.NoError(t, res.Close())

	_, res = openDisk(t, dir, Options{})
	defer res.Close()
	require.Equal(t, SlidingSnapshot{Window: 2}, res.Options().Revisioning)
	r := readAt(t, res, 4)
	for i := uint64(0); i < 4; i++ {
		requireValue(t, r, i, "value")
	}
}
