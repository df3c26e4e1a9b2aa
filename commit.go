package treetank

import "sort"
import "bytes"

import "golang.org/x/xerrors"

// Commit publishes the revision. All modified buckets, the revision tree path, the revision root,
// the meta bucket if it changed and finally the new uber are handed to the backend in one atomic
// commit. If anything fails the previous revision stays published and the transaction is closed.
func (w *WriteTrx) Commit() (revision uint64, err error) {
	if err = w.check(); err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			w.res.logger.Error("commit failed", "revision", revision, "err", err)
			w.Close()
		}
	}()

	revision = w.root.revision
	if err = checkItemKey(revision); err != nil {
		return
	}

	w.root.bucket_key = w.uber.allocate()
	e, err := w.prepareLeaf(revisionTree, leafSequence(revision))
	if err != nil {
		return
	}
	entry := &revisionEntry{revision: revision, root: w.root.bucket_key}
	e.complete.setSlot(dataBucketOffset(revision), entry) // whole leaves, complete is what is written

	w.uber.revision_count = revision
	w.uber.bucket_key = w.uber.allocate() // last allocation, the stored counter covers everything

	var buckets []BucketData
	var stored int
	var buf bytes.Buffer
	write := func(t tree, b Bucket) error {
		buf.Reset()
		if err := w.res.factories[t].SerializeTo(&buf, b); err != nil {
			return err
		}
		data := w.res.opt.Compression.compress(buf.Bytes())
		buckets = append(buckets, BucketData{Key: b.BucketKey(), Data: data})
		stored += len(data)
		return nil
	}

	if err = w.flush(itemTree, write); err != nil {
		return
	}
	if w.meta_dirty {
		if err = write(itemTree, w.meta); err != nil {
			return
		}
	}
	entry.hash = w.root.hash()
	if err = write(itemTree, w.root); err != nil {
		return
	}
	if err = w.flush(revisionTree, write); err != nil {
		return
	}

	var uber []byte
	if uber, err = w.res.factories[revisionTree].Serialize(w.uber); err != nil {
		return
	}
	if err = w.res.backend.Commit(buckets, uber); err != nil {
		err = xerrors.Errorf("committing revision %d: %w", revision, err)
		return
	}

	committed := w.uber
	w.res.publish(committed)
	w.res.metrics.Commits.Inc()
	w.res.metrics.BucketsWritten.Add(float64(len(buckets)))
	w.res.metrics.BytesWritten.Add(float64(stored))
	w.res.logger.Debug("committed revision", "revision", revision, "buckets", len(buckets), "bytes", stored, "counter", committed.bucket_counter)

	// continue on the next revision, everything just written is shared from now on
	next := *committed
	root := newRevisionRootBucket(NULL_BUCKET, revision+1, w.root.next_item_key)
	root.keys = w.root.keys
	w.uber, w.root = &next, root
	w.log = map[logKey]*logEntry{}
	w.meta_dirty = false
	return revision, nil
}

// flush serializes the logged buckets of tree t bottom up. Each bucket's hash is stored in its
// parent's reference before the parent itself is serialized.
func (w *WriteTrx) flush(t tree, write func(tree, Bucket) error) error {
	keys := make([]logKey, 0, len(w.log))
	for lk := range w.log {
		if lk.tree == t {
			keys = append(keys, lk)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].level != keys[j].level {
			return keys[i].level > keys[j].level
		}
		return keys[i].key < keys[j].key
	})

	for _, lk := range keys {
		b := w.log[lk].bucket
		if err := write(t, b); err != nil {
			return err
		}
		hash := b.(hashedBucket).hash()

		if lk.level == 0 {
			w.holder(t).setReference(rootOffset(t), b.BucketKey(), hash)
			continue
		}
		parent, ok := w.log[logKey{tree: t, level: lk.level - 1, key: lk.key >> FANOUT_BITS}]
		if !ok {
			return xerrors.Errorf("%w: %s bucket %d at level %d has no copied parent", ErrCorruption, t, b.BucketKey(), lk.level)
		}
		parent.bucket.(*IndirectBucket).setReference(int(lk.key&(FANOUT-1)), b.BucketKey(), hash)
	}
	return nil
}
