package treetank

// Cursor iterates over the live items of a read transaction in ascending item key order.
// Tombstoned slots are skipped. A cursor is valid as long as its transaction is open.
type Cursor struct {
	trx *ReadTrx

	current uint64
	valid   bool // current holds the key of the last returned item
}

// get Cursor which is used as an iterator over all items of the revision
func (t *ReadTrx) Cursor() *Cursor {
	return &Cursor{trx: t}
}

// First moves the cursor to the item with the lowest key. ErrNoMoreKeys is returned for an empty revision.
func (c *Cursor) First() (Item, error) {
	return c.Seek(0)
}

// Seek moves the cursor to the first item with a key of at least from
func (c *Cursor) Seek(from uint64) (Item, error) {
	if err := c.trx.check(); err != nil {
		return nil, err
	}
	if err := checkItemKey(from); err != nil {
		return nil, err
	}
	it, err := c.scan(c.trx.root.keys[itemTreeReference], nil, 0, 0, from)
	if err != nil {
		return nil, err
	}
	if it == nil {
		c.valid = false
		return nil, ErrNoMoreKeys
	}
	c.current, c.valid = it.ItemKey(), true
	return it, nil
}

// Next moves the cursor to the following item. ErrNoMoreKeys is returned at the end.
func (c *Cursor) Next() (Item, error) {
	if !c.valid || c.current == MAX_ITEM_KEY {
		c.valid = false
		return nil, ErrNoMoreKeys
	}
	return c.Seek(c.current + 1)
}

// sequences of leaves below one reference at level
func span(level int) uint64 {
	return 1 << (FANOUT_BITS * uint(LEVELS-level))
}

// scan returns the first live item with a key of at least from below the reference key, which
// sits at level and covers the leaf sequences starting at base. nil means there is none.
func (c *Cursor) scan(key uint64, hash []byte, level int, base uint64, from uint64) (Item, error) {
	if key == NULL_BUCKET {
		return nil, nil
	}
	fromSeq := leafSequence(from)

	if level == LEVELS {
		l, err := c.trx.leafAt(key, hash)
		if err != nil {
			return nil, err
		}
		start := 0
		if base == fromSeq {
			start = dataBucketOffset(from)
		}
		for i := start; i < FANOUT; i++ {
			if it, ok, _ := liveItem(l.items[i]); ok {
				return it, nil
			}
		}
		return nil, nil
	}

	in, err := c.trx.res.loadIndirect(itemTree, key, hash)
	if err != nil {
		return nil, err
	}
	child := span(level + 1)
	for i := 0; i < FANOUT; i++ {
		childBase := base + uint64(i)*child
		if childBase+child <= fromSeq || in.keys[i] == NULL_BUCKET {
			continue
		}
		it, err := c.scan(in.keys[i], in.hashes[i], level+1, childBase, from)
		if err != nil || it != nil {
			return it, err
		}
	}
	return nil, nil
}
