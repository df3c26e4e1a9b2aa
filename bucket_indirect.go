package treetank

import "fmt"

// IndirectBucket is an inner bucket of an indirect tree, FANOUT references to the next level down.
type IndirectBucket struct {
	bucket_key uint64
	keys       [FANOUT]uint64
	hashes     [FANOUT][]byte // nil until the child is written at commit
}

func newIndirectBucket(key uint64) *IndirectBucket {
	return &IndirectBucket{bucket_key: key}
}

func (in *IndirectBucket) BucketKey() uint64 {
	return in.bucket_key
}

func (in *IndirectBucket) Kind() int32 {
	return kindIndirect
}

func (in *IndirectBucket) Reference(offset int) uint64 {
	return in.keys[offset]
}

func (in *IndirectBucket) ReferenceHash(offset int) []byte {
	return in.hashes[offset]
}

func (in *IndirectBucket) setReference(offset int, key uint64, hash []byte) {
	in.keys[offset] = key
	in.hashes[offset] = hash
}

// references of the copy are values, they keep pointing at the old shared buckets
func (in *IndirectBucket) clone(key uint64) *IndirectBucket {
	n := newIndirectBucket(key)
	n.keys = in.keys
	n.hashes = in.hashes
	return n
}

func (in *IndirectBucket) isEmpty() bool {
	for _, k := range in.keys {
		if k != NULL_BUCKET {
			return false
		}
	}
	return true
}

// hash covers every reference key and the child hashes, so it commits to the whole subtree
func (in *IndirectBucket) hash() []byte {
	h := hasher()
	hashUint64(h, uint64(kindIndirect))
	hashUint64(h, in.bucket_key)
	for i := range in.keys {
		hashUint64(h, in.keys[i])
		h.Write(in.hashes[i])
	}
	return h.Sum(nil)
}

func (in *IndirectBucket) String() string {
	used := 0
	for _, k := range in.keys {
		if k != NULL_BUCKET {
			used++
		}
	}
	return fmt.Sprintf("indirect{key %d references %d}", in.bucket_key, used)
}
