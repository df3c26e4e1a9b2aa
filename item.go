package treetank

import "io"
import "encoding/binary"

// Reader is what factories deserialize from. It is always positioned at the first byte of the
// record and must be left positioned right after it.
type Reader interface {
	io.Reader
	io.ByteScanner
}

// Item is the smallest addressable unit stored inside a leaf bucket.
type Item interface {
	ItemKey() uint64
	Serialize(w io.Writer) error
	// Fingerprint is a content hash, it feeds the integrity hashes stored in indirect buckets
	Fingerprint() []byte
}

// ItemFactory rebuilds items from their own serialization. The engine never looks into item payloads.
type ItemFactory interface {
	DeserializeItem(r Reader) (Item, error)
}

// MetaEntry is a key or a value of the per revision meta bucket.
// Two entries are the same key when their serializations are equal.
type MetaEntry interface {
	Serialize(w io.Writer) error
}

type MetaEntryFactory interface {
	DeserializeEntry(r Reader) (MetaEntry, error)
}

// Tombstone shadows an item of the same key stored in an older bucket of a leaf chain.
type Tombstone struct {
	key uint64
}

func newTombstone(key uint64) *Tombstone {
	return &Tombstone{key: key}
}

func (t *Tombstone) ItemKey() uint64 {
	return t.key
}

func (t *Tombstone) Serialize(w io.Writer) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], t.key)
	_, err := w.Write(buf[:])
	return err
}

func (t *Tombstone) Fingerprint() []byte {
	var buf [9]byte
	buf[0] = byte(slotTombstone)
	binary.BigEndian.PutUint64(buf[1:], t.key)
	h := sum(buf[:])
	return h[:]
}

func isTombstone(it Item) bool {
	_, ok := it.(*Tombstone)
	return ok
}
