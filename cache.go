package treetank

import "github.com/cockroachdb/swiss"

// leafCache keeps merged leaves of one read transaction, keyed by the newest bucket of the chain.
// Buckets are immutable so entries never go stale, the oldest entry is evicted once full.
// It is owned by a single transaction and is not safe for concurrent use.
type leafCache struct {
	capacity int
	entries  swiss.Map[uint64, *LeafBucket]
	order    []uint64 // insertion order, used as fifo for eviction
}

func newLeafCache(capacity int) *leafCache {
	c := &leafCache{capacity: capacity}
	c.entries.Init(16)
	return c
}

func (c *leafCache) get(key uint64) (*LeafBucket, bool) {
	if c == nil || c.capacity <= 0 {
		return nil, false
	}
	return c.entries.Get(key)
}

func (c *leafCache) put(key uint64, l *LeafBucket) {
	if c == nil || c.capacity <= 0 {
		return
	}
	if _, ok := c.entries.Get(key); ok {
		return
	}
	for c.entries.Len() >= c.capacity && len(c.order) > 0 {
		c.entries.Delete(c.order[0])
		c.order = c.order[1:]
	}
	c.entries.Put(key, l)
	c.order = append(c.order, key)
}

func (c *leafCache) len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

// reset drops all entries, the cache stays usable
func (c *leafCache) reset() {
	if c == nil {
		return
	}
	c.entries.Init(16)
	c.order = nil
}
