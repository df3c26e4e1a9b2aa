package treetank

import "fmt"

import "golang.org/x/xerrors"

// Revisioning decides how a new version of a leaf is laid out on disk and how many physical
// versions a read has to merge to rebuild the logical leaf.
//
// A chain is always ordered newest first and is what walkChain returned for the current
// version of the leaf, it is empty when the leaf does not exist yet.
type Revisioning interface {
	// ReadDepth bounds the number of buckets merged by a read, 0 means until resolved or chain end
	ReadDepth() int

	// Prepare returns the logical content of the leaf as seen by the writer (complete) and the
	// physical bucket which will be persisted for this revision (modified). Both carry newKey and
	// link to the newest bucket of the chain. Changes of the writer are applied to both.
	Prepare(seq, newKey uint64, chain []*LeafBucket) (complete, modified *LeafBucket)

	String() string
}

// FullDump writes every slot of a leaf on every revision, reads never merge.
type FullDump struct{}

// Incremental writes only the changed slots. Once the chain of a leaf reaches MaxChain
// buckets the next version is written in full, so a read merges at most MaxChain buckets.
type Incremental struct {
	MaxChain int
}

// SlidingSnapshot writes the changed slots plus the slots which would otherwise drop out of
// the last Window versions. Reads never look further back than Window buckets.
type SlidingSnapshot struct {
	Window int
}

const DEFAULT_MAX_CHAIN = 8

func (FullDump) ReadDepth() int {
	return 0
}

func (FullDump) Prepare(seq, newKey uint64, chain []*LeafBucket) (*LeafBucket, *LeafBucket) {
	complete := combine(newKey, chain)
	return complete, snapshot(seq, complete, len(chain) > 0)
}

func (FullDump) String() string {
	return "fulldump"
}

func (Incremental) ReadDepth() int {
	return 0
}

func (inc Incremental) Prepare(seq, newKey uint64, chain []*LeafBucket) (*LeafBucket, *LeafBucket) {
	complete := combine(newKey, chain)
	if len(chain) >= inc.MaxChain {
		return complete, snapshot(seq, complete, true)
	}
	return complete, newLeafBucket(newKey, complete.last_bucket_key)
}

func (inc Incremental) String() string {
	return fmt.Sprintf("incremental(%d)", inc.MaxChain)
}

func (s SlidingSnapshot) ReadDepth() int {
	return s.Window
}

func (s SlidingSnapshot) Prepare(seq, newKey uint64, chain []*LeafBucket) (*LeafBucket, *LeafBucket) {
	complete := combine(newKey, chain)
	modified := newLeafBucket(newKey, complete.last_bucket_key)
	if len(chain) < s.Window {
		return complete, modified
	}

	// the oldest bucket leaves the window with this version, carry what only it resolves
	oldest := chain[len(chain)-1]
	for i := range oldest.items {
		it := oldest.items[i]
		if it == nil || isTombstone(it) || resolvedBefore(chain[:len(chain)-1], i) {
			continue
		}
		modified.items[i] = it
	}
	return complete, modified
}

func (s SlidingSnapshot) String() string {
	return fmt.Sprintf("slidingsnapshot(%d)", s.Window)
}

func checkRevisioning(r Revisioning) error {
	switch v := r.(type) {
	case FullDump:
		return nil
	case Incremental:
		if v.MaxChain < 1 {
			return xerrors.Errorf("%w: incremental chain length %d must be at least 1", ErrInvalidArgument, v.MaxChain)
		}
	case SlidingSnapshot:
		if v.Window < 1 {
			return xerrors.Errorf("%w: sliding snapshot window %d must be at least 1", ErrInvalidArgument, v.Window)
		}
	case nil:
		return xerrors.Errorf("%w: no revisioning strategy", ErrInvalidArgument)
	default:
		return xerrors.Errorf("%w: unsupported revisioning %T", ErrInvalidArgument, r)
	}
	return nil
}

func resolvedBefore(chain []*LeafBucket, offset int) bool {
	for _, l := range chain {
		if l.items[offset] != nil {
			return true
		}
	}
	return false
}

// snapshot materialises every slot of complete. Slots empty in the logical leaf become
// tombstones when older versions exist, so a read of the snapshot never continues past it.
func snapshot(seq uint64, complete *LeafBucket, shadow bool) *LeafBucket {
	full := complete.clone(complete.bucket_key, complete.last_bucket_key)
	if shadow {
		for i := range full.items {
			if full.items[i] == nil {
				full.items[i] = newTombstone(seq<<FANOUT_BITS | uint64(i))
			}
		}
	}
	return full
}

// combine merges a newest first chain, the first bucket holding a slot wins it.
// A tombstone wins like any item, it is what hides older values of the slot.
func combine(key uint64, chain []*LeafBucket) *LeafBucket {
	var last uint64
	if len(chain) > 0 {
		last = chain[0].bucket_key
	}
	l := newLeafBucket(key, last)
	for _, b := range chain {
		for i, it := range b.items {
			if l.items[i] == nil && it != nil {
				l.items[i] = it
			}
		}
	}
	return l
}

// walkChain fetches the physical versions of a leaf starting at key, newest first. It stops
// when every slot is resolved, at the end of the chain or after depth buckets (0 is unbounded).
func walkChain(fetch func(uint64) (*LeafBucket, error), key uint64, depth int) (chain []*LeafBucket, err error) {
	var resolved [FANOUT]bool
	count := 0
	for key != NULL_BUCKET {
		var l *LeafBucket
		if l, err = fetch(key); err != nil {
			return nil, err
		}
		chain = append(chain, l)
		for i, it := range l.items {
			if it != nil && !resolved[i] {
				resolved[i] = true
				count++
			}
		}
		if count == FANOUT || (depth > 0 && len(chain) >= depth) {
			break
		}
		if l.last_bucket_key >= key {
			return nil, xerrors.Errorf("%w: leaf %d links to newer bucket %d", ErrCorruption, key, l.last_bucket_key)
		}
		key = l.last_bucket_key
	}
	return chain, nil
}

// merged returns the logical view of a chain as it is read, keyed by the newest bucket
func merged(chain []*LeafBucket) *LeafBucket {
	if len(chain) == 0 {
		return nil
	}
	l := combine(chain[0].bucket_key, chain)
	l.last_bucket_key = chain[0].last_bucket_key
	return l
}

// wholeLeaves is used for the revision tree: leaves are rewritten in full and never chain
type wholeLeaves struct{}

func (wholeLeaves) ReadDepth() int {
	return 1
}

func (wholeLeaves) Prepare(seq, newKey uint64, chain []*LeafBucket) (*LeafBucket, *LeafBucket) {
	l := combine(newKey, chain)
	l.last_bucket_key = NULL_BUCKET
	return l, l
}

func (wholeLeaves) String() string {
	return "whole"
}

// revisioning codes as stored in the uber bucket
const (
	revisioningFullDump int32 = iota
	revisioningIncremental
	revisioningSlidingSnapshot
)

func encodeRevisioning(r Revisioning) (code, param int32, err error) {
	switch v := r.(type) {
	case FullDump:
		return revisioningFullDump, 0, nil
	case Incremental:
		return revisioningIncremental, int32(v.MaxChain), nil
	case SlidingSnapshot:
		return revisioningSlidingSnapshot, int32(v.Window), nil
	}
	return 0, 0, xerrors.Errorf("%w: revisioning %T cannot be stored", ErrInvalidArgument, r)
}

func decodeRevisioning(code, param int32) (r Revisioning, err error) {
	switch code {
	case revisioningFullDump:
		r = FullDump{}
	case revisioningIncremental:
		r = Incremental{MaxChain: int(param)}
	case revisioningSlidingSnapshot:
		r = SlidingSnapshot{Window: int(param)}
	default:
		return nil, xerrors.Errorf("unknown revisioning %d", code)
	}
	return r, checkRevisioning(r)
}
