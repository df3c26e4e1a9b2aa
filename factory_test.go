package treetank

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func testFactory() *BucketFactory {
	return NewBucketFactory(BlobFactory{}, StringEntryFactory{})
}

func roundTrip(t *testing.T, f *BucketFactory, b Bucket) Bucket {
	t.Helper()
	data, err := f.Serialize(b)
	require.NoError(t, err)
	out, err := f.Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, b.Kind(), out.Kind())
	require.Equal(t, b.BucketKey(), out.BucketKey())
	return out
}

func TestLeafBucketEncoding(t *testing.T) {
	f := testFactory()
	l := leafWith(42, 17, map[int]Item{0: blob(0, "zero"), 5: newTombstone(5), 127: blob(127, "")})

	out := roundTrip(t, f, l).(*LeafBucket)
	require.Equal(t, uint64(17), out.LastBucketKey())
	require.Equal(t, 3, out.Populated())
	require.True(t, isTombstone(out.Slot(5)))
	require.Equal(t, uint64(5), out.Slot(5).ItemKey())
	require.Equal(t, "zero", string(out.Slot(0).(*BlobItem).Value))
	require.Nil(t, out.Slot(1))
	require.Equal(t, l.hash(), out.hash())
}

func TestIndirectBucketEncoding(t *testing.T) {
	f := testFactory()
	in := newIndirectBucket(9)
	hash := sum([]byte("child"))
	in.setReference(0, 3, hash[:])
	in.setReference(127, 8, nil)

	out := roundTrip(t, f, in).(*IndirectBucket)
	require.Equal(t, uint64(3), out.Reference(0))
	require.Equal(t, hash[:], out.ReferenceHash(0))
	require.Equal(t, uint64(8), out.Reference(127))
	require.Nil(t, out.ReferenceHash(127))
	require.Equal(t, in.hash(), out.hash())
	require.False(t, out.isEmpty())
	require.True(t, newIndirectBucket(1).isEmpty())
}

func TestRootBucketsEncoding(t *testing.T) {
	f := testFactory()

	root := newRevisionRootBucket(11, 3, 900)
	root.keys = [2]uint64{4, 5}
	out := roundTrip(t, f, root).(*RevisionRootBucket)
	require.Equal(t, *root, *out)
	require.Equal(t, root.hash(), out.hash())

	uber := &UberBucket{bucket_key: 12, revision_count: 3, bucket_counter: 12, revision_tree: 6, revisioning: SlidingSnapshot{Window: 4}}
	require.Equal(t, *uber, *roundTrip(t, f, uber).(*UberBucket))
	data, err := f.Serialize(uber)
	require.NoError(t, err)
	require.LessOrEqual(t, len(data), internal_UBER_SLOT_SIZE-record_header_size)

	_, err = f.Serialize(&UberBucket{bucket_key: 1})
	require.ErrorIs(t, err, ErrInvalidArgument)

	data[len(data)-8] = 0x7f // unknown revisioning
	_, err = f.Deserialize(data)
	require.ErrorIs(t, err, ErrCorruption)

	m := newMetaBucket(13)
	require.NoError(t, m.put(StringEntry("key"), StringEntry("value")))
	require.NoError(t, m.put(StringEntry("other"), StringEntry("")))
	outm := roundTrip(t, f, m).(*MetaBucket)
	require.Equal(t, 2, outm.Size())
	v, found, err := outm.get(StringEntry("key"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, StringEntry("value"), v)

	revisions := NewBucketFactory(revisionEntryFactory{}, StringEntryFactory{})
	entry := &revisionEntry{revision: 2, root: 77, hash: root.hash()}
	l := leafWith(14, NULL_BUCKET, map[int]Item{2: entry})
	outl := roundTrip(t, revisions, l).(*LeafBucket)
	require.Equal(t, entry, outl.Slot(2))
}

func TestDeserializeCorruption(t *testing.T) {
	f := testFactory()

	data, err := f.Serialize(leafWith(1, NULL_BUCKET, map[int]Item{3: blob(3, "three")}))
	require.NoError(t, err)

	_, err = f.Deserialize(nil)
	require.ErrorIs(t, err, ErrCorruption)

	_, err = f.Deserialize(data[:len(data)-1])
	require.ErrorIs(t, err, ErrCorruption)

	_, err = f.Deserialize(append(append([]byte{}, data...), 0))
	require.ErrorIs(t, err, ErrCorruption)

	unknown := append([]byte{}, data...)
	unknown[3] = 99
	_, err = f.Deserialize(unknown)
	require.ErrorIs(t, err, ErrCorruption)

	marker := append([]byte{}, data...)
	marker[4+16+3] = 7 // first slot marker
	_, err = f.Deserialize(marker)
	require.ErrorIs(t, err, ErrCorruption)

	garbage := make([]byte, 300)
	rand.Read(garbage)
	garbage[0], garbage[1], garbage[2], garbage[3] = 0, 0, 0, byte(kindMeta)
	garbage[12] = 0x80 // negative entry count
	_, err = f.Deserialize(garbage)
	require.ErrorIs(t, err, ErrCorruption)

	// two entries under the same key
	var buf bytes.Buffer
	e := encoder{buf: &buf}
	e.int32(kindMeta)
	e.uint64(13)
	e.int32(2)
	for _, value := range []StringEntry{"x", "y"} {
		require.NoError(t, StringEntry("key").Serialize(&buf))
		require.NoError(t, value.Serialize(&buf))
	}
	_, err = f.Deserialize(buf.Bytes())
	require.ErrorIs(t, err, ErrCorruption)
}

type unknownBucket struct{}

func (unknownBucket) BucketKey() uint64 { return 1 }
func (unknownBucket) Kind() int32       { return 42 }

func TestSerializeUnknownBucket(t *testing.T) {
	_, err := testFactory().Serialize(unknownBucket{})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCompression(t *testing.T) {
	src := bytes.Repeat([]byte("treetank bucket "), 64)
	for _, c := range []Compression{NoCompression, SnappyCompression, ZstdCompression} {
		data := c.compress(src)
		require.Equal(t, byte(c), data[0])
		out, err := decompress(data)
		require.NoError(t, err, c.String())
		require.Equal(t, src, out)

		parsed, err := ParseCompression(c.String())
		require.NoError(t, err)
		require.Equal(t, c, parsed)
	}
	require.Less(t, len(SnappyCompression.compress(src)), len(src))
	require.Less(t, len(ZstdCompression.compress(src)), len(src))

	_, err := decompress(nil)
	require.ErrorIs(t, err, ErrCorruption)
	_, err = decompress([]byte{9, 1, 2})
	require.ErrorIs(t, err, ErrCorruption)
	_, err = decompress([]byte{byte(SnappyCompression), 0xff, 0xff, 0xff})
	require.ErrorIs(t, err, ErrCorruption)
	_, err = ParseCompression("lz4")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCompressionIsPerBucket(t *testing.T) {
	store, err := NewMemStore()
	require.NoError(t, err)
	defer store.Close()

	snappy, err := Open(store, testOptions(Options{Compression: SnappyCompression}))
	require.NoError(t, err)
	commitValues(t, snappy, map[uint64]string{1: "written with snappy"})

	// a resource with another setting still reads what was written before
	zstd, err := Open(store, testOptions(Options{Compression: ZstdCompression, VerifyHashes: true}))
	require.NoError(t, err)
	requireValue(t, readAt(t, zstd, 1), 1, "written with snappy")
	commitValues(t, zstd, map[uint64]string{2: "written with zstd"})

	r := readAt(t, zstd, 2)
	requireValue(t, r, 1, "written with snappy")
	requireValue(t, r, 2, "written with zstd")
}
