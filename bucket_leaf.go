package treetank

import "fmt"

// LeafBucket holds up to FANOUT item slots of one logical leaf. It may be a full version of the
// leaf or a delta, older versions are reached through LastBucketKey.
type LeafBucket struct {
	bucket_key      uint64
	last_bucket_key uint64

	items [FANOUT]Item // nil is an empty slot, *Tombstone a deleted one
}

func newLeafBucket(key, last uint64) *LeafBucket {
	return &LeafBucket{bucket_key: key, last_bucket_key: last}
}

func (l *LeafBucket) BucketKey() uint64 {
	return l.bucket_key
}

func (l *LeafBucket) Kind() int32 {
	return kindLeaf
}

// LastBucketKey is the prior physical version of the same logical leaf, NULL_BUCKET if none
func (l *LeafBucket) LastBucketKey() uint64 {
	return l.last_bucket_key
}

// Slot returns the raw slot content, which may be nil or a *Tombstone
func (l *LeafBucket) Slot(offset int) Item {
	return l.items[offset]
}

func (l *LeafBucket) setSlot(offset int, it Item) {
	l.items[offset] = it
}

// Populated counts non empty slots, tombstones included
func (l *LeafBucket) Populated() (count int) {
	for _, it := range l.items {
		if it != nil {
			count++
		}
	}
	return
}

// clone is shallow, items are immutable once handed to the engine
func (l *LeafBucket) clone(key, last uint64) *LeafBucket {
	n := newLeafBucket(key, last)
	n.items = l.items
	return n
}

// hash of the leaf as stored in the parent indirect reference, built from item fingerprints
func (l *LeafBucket) hash() []byte {
	h := hasher()
	hashUint64(h, uint64(kindLeaf))
	hashUint64(h, l.bucket_key)
	hashUint64(h, l.last_bucket_key)
	for i, it := range l.items {
		if it == nil {
			continue
		}
		hashUint64(h, uint64(i))
		h.Write(it.Fingerprint())
	}
	return h.Sum(nil)
}

func (l *LeafBucket) String() string {
	return fmt.Sprintf("leaf{key %d last %d populated %d}", l.bucket_key, l.last_bucket_key, l.Populated())
}
