package treetank

import "sync/atomic"

import "golang.org/x/xerrors"

// ReadTrx is a read only view of one committed revision. Everything it reads is immutable, so any
// number of read transactions run next to each other and next to the writer without locking.
// A single ReadTrx must not be used from several goroutines at once.
type ReadTrx struct {
	res    *Resource
	root   *RevisionRootBucket
	meta   *MetaBucket // loaded on first use
	cache  *leafCache
	closed atomic.Bool
}

func (t *ReadTrx) check() error {
	if t.closed.Load() {
		return xerrors.Errorf("%w: read transaction on revision %d", ErrClosed, t.root.revision)
	}
	return nil
}

// Revision is the revision the transaction is bound to
func (t *ReadTrx) Revision() (uint64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	return t.root.revision, nil
}

// NextItemKey is the item key counter as it was committed with the revision
func (t *ReadTrx) NextItemKey() (uint64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	return t.root.next_item_key, nil
}

// leaf returns the merged leaf for sequence seq, nil if the revision has no such leaf
func (t *ReadTrx) leaf(seq uint64) (*LeafBucket, error) {
	key, hash, err := t.res.findLeaf(itemTree, t.root.keys[itemTreeReference], seq)
	if err != nil || key == NULL_BUCKET {
		return nil, err
	}
	return t.leafAt(key, hash)
}

func (t *ReadTrx) leafAt(key uint64, hash []byte) (*LeafBucket, error) {
	if l, ok := t.cache.get(key); ok {
		return l, nil
	}
	chain, err := t.res.readChain(itemTree, key, hash)
	if err != nil {
		return nil, err
	}
	l := merged(chain)
	t.cache.put(key, l)
	return l, nil
}

// Item resolves itemKey in the revision. found is false, without error, when the item does not exist.
func (t *ReadTrx) Item(itemKey uint64) (Item, bool, error) {
	if err := t.check(); err != nil {
		return nil, false, err
	}
	if err := checkItemKey(itemKey); err != nil {
		return nil, false, err
	}
	l, err := t.leaf(leafSequence(itemKey))
	if err != nil || l == nil {
		return nil, false, err
	}
	return liveItem(l.items[dataBucketOffset(itemKey)])
}

func liveItem(it Item) (Item, bool, error) {
	if it == nil || isTombstone(it) {
		return nil, false, nil
	}
	return it, true, nil
}

// SnapshotBuckets returns the physical versions of the leaf holding itemKey which a read merges,
// newest first. It is empty when the leaf does not exist in the revision.
func (t *ReadTrx) SnapshotBuckets(itemKey uint64) ([]*LeafBucket, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if err := checkItemKey(itemKey); err != nil {
		return nil, err
	}
	key, hash, err := t.res.findLeaf(itemTree, t.root.keys[itemTreeReference], leafSequence(itemKey))
	if err != nil || key == NULL_BUCKET {
		return nil, err
	}
	return t.res.readChain(itemTree, key, hash)
}

func (t *ReadTrx) metaBucket() (*MetaBucket, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if t.meta == nil {
		m, err := t.res.loadMeta(t.root.keys[metaReference])
		if err != nil {
			return nil, err
		}
		t.meta = m
	}
	return t.meta, nil
}

// MetaEntry resolves a key of the meta bucket of the revision
func (t *ReadTrx) MetaEntry(key MetaEntry) (MetaEntry, bool, error) {
	m, err := t.metaBucket()
	if err != nil {
		return nil, false, err
	}
	return m.get(key)
}

func (t *ReadTrx) MetaSize() (int, error) {
	m, err := t.metaBucket()
	if err != nil {
		return 0, err
	}
	return m.Size(), nil
}

// MetaEntries visits the meta entries ordered by serialized key until fn returns false
func (t *ReadTrx) MetaEntries(fn func(key, value MetaEntry) bool) error {
	m, err := t.metaBucket()
	if err != nil {
		return err
	}
	m.each(fn)
	return nil
}

// Close releases cached buckets. Closing twice is harmless.
func (t *ReadTrx) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.cache.reset()
	t.meta = nil
	t.res.releaseReader(t)
	return nil
}

func (t *ReadTrx) IsClosed() bool {
	return t.closed.Load()
}
