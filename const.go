package treetank

import "errors"

const (
	HASHSIZE_BYTES = 32 // blake2s-256
	HASHSIZE       = HASHSIZE_BYTES

	FANOUT_BITS = 7                // bits consumed per tree level
	FANOUT      = 1 << FANOUT_BITS // slots per leaf bucket, references per indirect bucket
	LEVELS      = 5                // indirect levels between a root reference and a leaf

	// item keys are limited to F^(L+1), bucket sequences (and revisions) to F^L
	MAX_ITEM_KEY = 1<<(FANOUT_BITS*(LEVELS+1)) - 1
	MAX_SEQUENCE = 1<<(FANOUT_BITS*LEVELS) - 1

	MAX_FILE_SIZE = 2 * 1024 * 1024 * 1024 // 2GB since we use split files to store buckets
)

// NULL_BUCKET is never allocated. It marks missing references and the end of a leaf chain.
const NULL_BUCKET uint64 = 0

// bucket kind tags, the first int32 of every serialized bucket
const (
	kindLeaf         int32 = 1
	kindIndirect     int32 = 2
	kindMeta         int32 = 3
	kindRevisionRoot int32 = 4
	kindUber         int32 = 5
)

// leaf slot markers
const (
	slotNull      int32 = 0
	slotTombstone int32 = 1
	slotItem      int32 = 2
)

// revision root reference slots
const (
	itemTreeReference = 0
	metaReference     = 1
)

const internal_UBER_SLOTS = 20     // this many recent uber buckets are kept in the uber file
const internal_UBER_SLOT_SIZE = 64 // revision, length, checksum, payload

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidRevision = errors.New("no such revision")
	ErrClosed          = errors.New("transaction closed")
	ErrCorruption      = errors.New("Data Corruption")
	ErrWriterActive    = errors.New("write transaction already active")
	ErrNoMoreKeys      = errors.New("No more keys exist")
)
