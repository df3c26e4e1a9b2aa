package treetank

import "sync/atomic"

import "golang.org/x/xerrors"

// buckets modified by the write transaction are logged by position, not by bucket key
type logKey struct {
	tree  tree
	level int    // 0 is the root indirect, LEVELS the leaf
	key   uint64 // levelKey of the bucket, the leaf sequence for leaves
}

type logEntry struct {
	bucket   Bucket      // what is persisted, *IndirectBucket or the modified *LeafBucket
	complete *LeafBucket // logical content of a leaf as the writer sees it
}

// WriteTrx builds the next revision. Every bucket it touches is copied under a freshly allocated
// bucket key first, published buckets are never changed. Nothing is visible to readers before Commit.
// After a successful Commit the transaction continues on the following revision.
type WriteTrx struct {
	res  *Resource
	uber *UberBucket         // becomes the published uber on commit
	root *RevisionRootBucket // revision being built, its bucket key is assigned at commit

	log map[logKey]*logEntry

	meta       *MetaBucket // nil until loaded
	meta_dirty bool        // meta is a private copy

	closed atomic.Bool
}

func newWriteTrx(res *Resource, uber *UberBucket, root *RevisionRootBucket) *WriteTrx {
	return &WriteTrx{res: res, uber: uber, root: root, log: map[logKey]*logEntry{}}
}

func (w *WriteTrx) check() error {
	if w.closed.Load() {
		return xerrors.Errorf("%w: write transaction on revision %d", ErrClosed, w.root.revision)
	}
	return nil
}

// Revision is the number the next Commit will publish
func (w *WriteTrx) Revision() (uint64, error) {
	if err := w.check(); err != nil {
		return 0, err
	}
	return w.root.revision, nil
}

// AllocateItemKey hands out the next unused item key. The counter is persisted with the revision.
func (w *WriteTrx) AllocateItemKey() (uint64, error) {
	if err := w.check(); err != nil {
		return 0, err
	}
	key := w.root.next_item_key
	if err := checkItemKey(key); err != nil {
		return 0, err
	}
	w.root.next_item_key++
	return key, nil
}

// holder is the bucket which references the root indirect of a tree
func (w *WriteTrx) holder(t tree) referenceBucket {
	if t == revisionTree {
		return w.uber
	}
	return w.root
}

func rootOffset(t tree) int {
	if t == revisionTree {
		return 0
	}
	return itemTreeReference
}

// prepareLeaf copies the path to leaf seq of tree t, unless already done in this revision.
// Every indirect on the path and the leaf receive new bucket keys, siblings stay shared.
func (w *WriteTrx) prepareLeaf(t tree, seq uint64) (*logEntry, error) {
	if err := checkSequence(seq); err != nil {
		return nil, err
	}
	lk := logKey{tree: t, level: LEVELS, key: seq}
	if e, ok := w.log[lk]; ok {
		return e, nil
	}

	parent, offset := w.holder(t), rootOffset(t)
	var hash []byte // hash of the reference being followed, nil for the root
	for level, next := range levelOffsets(seq) {
		in, err := w.prepareIndirect(t, logKey{tree: t, level: level, key: levelKey(seq, level)}, parent, offset, hash)
		if err != nil {
			return nil, err
		}
		parent, offset, hash = in, next, in.hashes[next]
	}

	old := parent.Reference(offset)
	chain, err := walkChain(func(k uint64) (*LeafBucket, error) {
		return w.res.loadLeaf(t, k)
	}, old, w.res.strategy(t).ReadDepth())
	if err != nil {
		return nil, err
	}
	if len(chain) > 0 {
		if err = w.res.verify(old, hash, chain[0]); err != nil {
			return nil, err
		}
	}

	key := w.uber.allocate()
	complete, modified := w.res.strategy(t).Prepare(seq, key, chain)
	parent.setReference(offset, key, nil)

	e := &logEntry{bucket: modified, complete: complete}
	w.log[lk] = e
	return e, nil
}

func (w *WriteTrx) prepareIndirect(t tree, lk logKey, parent referenceBucket, offset int, hash []byte) (*IndirectBucket, error) {
	if e, ok := w.log[lk]; ok {
		return e.bucket.(*IndirectBucket), nil
	}

	var in *IndirectBucket
	if old := parent.Reference(offset); old == NULL_BUCKET {
		in = newIndirectBucket(w.uber.allocate())
	} else {
		published, err := w.res.loadIndirect(t, old, hash)
		if err != nil {
			return nil, err
		}
		in = published.clone(w.uber.allocate())
	}
	parent.setReference(offset, in.bucket_key, nil)
	w.log[lk] = &logEntry{bucket: in}
	return in, nil
}

// leaf returns the logical leaf seq of tree t as the writer currently sees it, nil if absent
func (w *WriteTrx) leaf(t tree, seq uint64) (*LeafBucket, error) {
	if e, ok := w.log[logKey{tree: t, level: LEVELS, key: seq}]; ok {
		return e.complete, nil
	}

	key := w.holder(t).Reference(rootOffset(t))
	var hash []byte
	for level, offset := range levelOffsets(seq) {
		var in *IndirectBucket
		if e, ok := w.log[logKey{tree: t, level: level, key: levelKey(seq, level)}]; ok {
			in = e.bucket.(*IndirectBucket)
		} else if key == NULL_BUCKET {
			return nil, nil
		} else {
			var err error
			if in, err = w.res.loadIndirect(t, key, hash); err != nil {
				return nil, err
			}
		}
		key, hash = in.keys[offset], in.hashes[offset]
	}
	if key == NULL_BUCKET {
		return nil, nil
	}

	chain, err := w.res.readChain(t, key, hash)
	if err != nil {
		return nil, err
	}
	return merged(chain), nil
}

// Item resolves itemKey including the uncommitted changes of this transaction
func (w *WriteTrx) Item(itemKey uint64) (Item, bool, error) {
	if err := w.check(); err != nil {
		return nil, false, err
	}
	if err := checkItemKey(itemKey); err != nil {
		return nil, false, err
	}
	l, err := w.leaf(itemTree, leafSequence(itemKey))
	if err != nil || l == nil {
		return nil, false, err
	}
	return liveItem(l.items[dataBucketOffset(itemKey)])
}

// SetItem stores item under its own item key, replacing any previous item of that key
func (w *WriteTrx) SetItem(item Item) error {
	if err := w.check(); err != nil {
		return err
	}
	if item == nil || isTombstone(item) {
		return xerrors.Errorf("%w: cannot store %T", ErrInvalidArgument, item)
	}
	itemKey := item.ItemKey()
	if err := checkItemKey(itemKey); err != nil {
		return err
	}

	e, err := w.prepareLeaf(itemTree, leafSequence(itemKey))
	if err != nil {
		return err
	}
	offset := dataBucketOffset(itemKey)
	e.complete.setSlot(offset, item)
	e.bucket.(*LeafBucket).setSlot(offset, item)

	if itemKey >= w.root.next_item_key { // keep AllocateItemKey from handing out a used key
		w.root.next_item_key = itemKey + 1
	}
	return nil
}

// RemoveItem deletes the item stored under itemKey. The slot is tombstoned so that older versions
// of the leaf cannot resurface it. Removing an absent item changes nothing and reports found false.
func (w *WriteTrx) RemoveItem(itemKey uint64) (bool, error) {
	_, found, err := w.Item(itemKey)
	if err != nil || !found {
		return false, err
	}

	e, err := w.prepareLeaf(itemTree, leafSequence(itemKey))
	if err != nil {
		return false, err
	}
	offset := dataBucketOffset(itemKey)
	tombstone := newTombstone(itemKey)
	e.complete.setSlot(offset, tombstone)
	e.bucket.(*LeafBucket).setSlot(offset, tombstone)
	return true, nil
}

func (w *WriteTrx) metaBucket() (*MetaBucket, error) {
	if err := w.check(); err != nil {
		return nil, err
	}
	if w.meta == nil {
		m, err := w.res.loadMeta(w.root.keys[metaReference])
		if err != nil {
			return nil, err
		}
		w.meta = m
	}
	return w.meta, nil
}

// mutableMeta copies the meta bucket under a new key on the first change in a revision
func (w *WriteTrx) mutableMeta() (*MetaBucket, error) {
	m, err := w.metaBucket()
	if err != nil || w.meta_dirty {
		return m, err
	}
	w.meta = m.clone(w.uber.allocate())
	w.root.setReference(metaReference, w.meta.bucket_key, nil)
	w.meta_dirty = true
	return w.meta, nil
}

func (w *WriteTrx) PutMeta(key, value MetaEntry) error {
	m, err := w.mutableMeta()
	if err != nil {
		return err
	}
	return m.put(key, value)
}

func (w *WriteTrx) GetMeta(key MetaEntry) (MetaEntry, bool, error) {
	m, err := w.metaBucket()
	if err != nil {
		return nil, false, err
	}
	return m.get(key)
}

// RemoveMeta returns the removed value, an absent key is not an error
func (w *WriteTrx) RemoveMeta(key MetaEntry) (MetaEntry, bool, error) {
	if _, found, err := w.GetMeta(key); err != nil || !found {
		return nil, false, err
	}
	m, err := w.mutableMeta()
	if err != nil {
		return nil, false, err
	}
	return m.remove(key)
}

func (w *WriteTrx) MetaSize() (int, error) {
	m, err := w.metaBucket()
	if err != nil {
		return 0, err
	}
	return m.Size(), nil
}

func (w *WriteTrx) MetaEntries(fn func(key, value MetaEntry) bool) error {
	m, err := w.metaBucket()
	if err != nil {
		return err
	}
	m.each(fn)
	return nil
}

// Modified reports the number of buckets copied in this revision so far
func (w *WriteTrx) Modified() int {
	n := len(w.log)
	if w.meta_dirty {
		n++
	}
	return n
}

// Close discards all uncommitted changes and frees the resource for another writer
func (w *WriteTrx) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	w.log = nil
	w.meta = nil
	w.res.releaseWriter(w)
	return nil
}

func (w *WriteTrx) IsClosed() bool {
	return w.closed.Load()
}
