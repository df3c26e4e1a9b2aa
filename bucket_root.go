package treetank

import "io"
import "fmt"
import "encoding/binary"

// RevisionRootBucket is written once per committed revision.
// reference 0 is the root of the item tree, reference 1 the meta bucket of the revision.
type RevisionRootBucket struct {
	bucket_key    uint64
	revision      uint64
	next_item_key uint64 // item key counter, the next key AllocateItemKey hands out
	keys          [2]uint64
}

func newRevisionRootBucket(key, revision, nextItemKey uint64) *RevisionRootBucket {
	return &RevisionRootBucket{bucket_key: key, revision: revision, next_item_key: nextItemKey}
}

func (r *RevisionRootBucket) BucketKey() uint64 {
	return r.bucket_key
}

func (r *RevisionRootBucket) Kind() int32 {
	return kindRevisionRoot
}

func (r *RevisionRootBucket) Revision() uint64 {
	return r.revision
}

func (r *RevisionRootBucket) NextItemKey() uint64 {
	return r.next_item_key
}

func (r *RevisionRootBucket) Reference(offset int) uint64 {
	return r.keys[offset]
}

func (r *RevisionRootBucket) setReference(offset int, key uint64, _ []byte) {
	r.keys[offset] = key
}

func (r *RevisionRootBucket) hash() []byte {
	h := hasher()
	hashUint64(h, uint64(kindRevisionRoot))
	hashUint64(h, r.bucket_key)
	hashUint64(h, r.revision)
	hashUint64(h, r.next_item_key)
	hashUint64(h, r.keys[0])
	hashUint64(h, r.keys[1])
	return h.Sum(nil)
}

func (r *RevisionRootBucket) String() string {
	return fmt.Sprintf("revisionroot{key %d revision %d items %d tree %d meta %d}", r.bucket_key, r.revision, r.next_item_key, r.keys[0], r.keys[1])
}

// UberBucket is the single mutable root of a resource. It is replaced, never modified, on every commit.
type UberBucket struct {
	bucket_key     uint64
	revision_count uint64      // newest committed revision, the bootstrap revision is 0
	bucket_counter uint64      // last allocated bucket key
	revision_tree  uint64      // root of the indirect tree addressed by revision number
	revisioning    Revisioning // fixed at bootstrap, the item tree chains were built with it
}

func (u *UberBucket) BucketKey() uint64 {
	return u.bucket_key
}

func (u *UberBucket) Kind() int32 {
	return kindUber
}

func (u *UberBucket) RevisionCount() uint64 {
	return u.revision_count
}

func (u *UberBucket) BucketCounter() uint64 {
	return u.bucket_counter
}

func (u *UberBucket) Revisioning() Revisioning {
	return u.revisioning
}

func (u *UberBucket) Reference(int) uint64 {
	return u.revision_tree
}

func (u *UberBucket) setReference(_ int, key uint64, _ []byte) {
	u.revision_tree = key
}

// allocate returns the next bucket key, keys are never reused
func (u *UberBucket) allocate() uint64 {
	u.bucket_counter++
	return u.bucket_counter
}

func (u *UberBucket) String() string {
	return fmt.Sprintf("uber{key %d revisions %d counter %d revisiontree %d revisioning %v}", u.bucket_key, u.revision_count, u.bucket_counter, u.revision_tree, u.revisioning)
}

// revisionEntry is the item stored in the leaves of the revision tree, its item key is the revision
type revisionEntry struct {
	revision uint64
	root     uint64 // bucket key of the revision root
	hash     []byte // hash of the revision root, set at commit
}

func (e *revisionEntry) ItemKey() uint64 {
	return e.revision
}

func (e *revisionEntry) Serialize(w io.Writer) error {
	var buf [16 + HASHSIZE]byte
	binary.BigEndian.PutUint64(buf[0:], e.revision)
	binary.BigEndian.PutUint64(buf[8:], e.root)
	copy(buf[16:], e.hash)
	_, err := w.Write(buf[:])
	return err
}

func (e *revisionEntry) Fingerprint() []byte {
	h := hasher()
	e.Serialize(h)
	return h.Sum(nil)
}

type revisionEntryFactory struct{}

func (revisionEntryFactory) DeserializeItem(r Reader) (Item, error) {
	var buf [16 + HASHSIZE]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	return &revisionEntry{
		revision: binary.BigEndian.Uint64(buf[0:]),
		root:     binary.BigEndian.Uint64(buf[8:]),
		hash:     append([]byte(nil), buf[16:]...),
	}, nil
}
