package treetank

import "fmt"

// Bucket is a persisted, immutable-once-written unit of the store.
type Bucket interface {
	BucketKey() uint64
	Kind() int32
}

// referenceBucket is implemented by all buckets which point to other buckets by key
type referenceBucket interface {
	Bucket
	Reference(offset int) uint64
	setReference(offset int, key uint64, hash []byte)
}

// hashedBucket is implemented by the buckets which are referenced together with their hash
type hashedBucket interface {
	hash() []byte
}

func kindName(kind int32) string {
	switch kind {
	case kindLeaf:
		return "leaf"
	case kindIndirect:
		return "indirect"
	case kindMeta:
		return "meta"
	case kindRevisionRoot:
		return "revisionroot"
	case kindUber:
		return "uber"
	default:
		return fmt.Sprintf("unknown(%d)", kind)
	}
}
