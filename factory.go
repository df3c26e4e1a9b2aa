package treetank

import "io"
import "bytes"
import "encoding/binary"

import "golang.org/x/xerrors"

// BucketFactory translates buckets to and from their binary framing.
// Item and meta entry payloads are delegated to the factories supplied by the consumer.
type BucketFactory struct {
	items ItemFactory
	metas MetaEntryFactory
}

func NewBucketFactory(items ItemFactory, metas MetaEntryFactory) *BucketFactory {
	return &BucketFactory{items: items, metas: metas}
}

type encoder struct {
	buf *bytes.Buffer
	tmp [8]byte
}

func (e *encoder) int32(v int32) {
	binary.BigEndian.PutUint32(e.tmp[:4], uint32(v))
	e.buf.Write(e.tmp[:4])
}

func (e *encoder) uint64(v uint64) {
	binary.BigEndian.PutUint64(e.tmp[:], v)
	e.buf.Write(e.tmp[:])
}

// Serialize frames a bucket as [kind:int32][kind specific fields], all integers big endian
func (f *BucketFactory) Serialize(b Bucket) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.SerializeTo(&buf, b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *BucketFactory) SerializeTo(buf *bytes.Buffer, b Bucket) (err error) {
	e := encoder{buf: buf}
	e.int32(b.Kind())

	switch v := b.(type) {
	case *LeafBucket:
		e.uint64(v.bucket_key)
		e.uint64(v.last_bucket_key)
		for _, it := range v.items {
			switch {
			case it == nil:
				e.int32(slotNull)
			case isTombstone(it):
				e.int32(slotTombstone)
				e.uint64(it.ItemKey())
			default:
				e.int32(slotItem)
				if err = it.Serialize(buf); err != nil {
					return xerrors.Errorf("serializing item %d: %w", it.ItemKey(), err)
				}
			}
		}

	case *IndirectBucket:
		e.uint64(v.bucket_key)
		for _, k := range v.keys {
			e.uint64(k)
		}
		for _, h := range v.hashes {
			e.int32(int32(len(h)))
			buf.Write(h)
		}

	case *RevisionRootBucket:
		e.uint64(v.bucket_key)
		e.uint64(v.revision)
		e.uint64(v.next_item_key)
		e.uint64(v.keys[0])
		e.uint64(v.keys[1])

	case *UberBucket:
		e.uint64(v.bucket_key)
		e.uint64(v.revision_count)
		e.uint64(v.bucket_counter)
		e.uint64(v.revision_tree)
		code, param, err := encodeRevisioning(v.revisioning)
		if err != nil {
			return err
		}
		e.int32(code)
		e.int32(param)

	case *MetaBucket:
		e.uint64(v.bucket_key)
		e.int32(int32(len(v.entries)))
		v.each(func(key, value MetaEntry) bool {
			if err = key.Serialize(buf); err == nil {
				err = value.Serialize(buf)
			}
			return err == nil
		})
		if err != nil {
			return xerrors.Errorf("serializing meta entry: %w", err)
		}

	default:
		return xerrors.Errorf("%w: cannot serialize bucket of type %T", ErrInvalidArgument, b)
	}
	return nil
}

type decoder struct {
	r   *bytes.Reader
	err error
	tmp [8]byte
}

func (d *decoder) int32() int32 {
	if d.err != nil {
		return 0
	}
	if _, d.err = io.ReadFull(d.r, d.tmp[:4]); d.err != nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(d.tmp[:4]))
}

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	if _, d.err = io.ReadFull(d.r, d.tmp[:]); d.err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(d.tmp[:])
}

func (d *decoder) bytes(n int32) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || int(n) > d.r.Len() {
		d.err = xerrors.Errorf("invalid length %d, %d bytes left", n, d.r.Len())
		return nil
	}
	if n == 0 {
		return nil
	}
	b := make([]byte, n)
	_, d.err = io.ReadFull(d.r, b)
	return b
}

// Deserialize dispatches on the leading kind tag. Unknown tags and malformed records are corruption.
func (f *BucketFactory) Deserialize(data []byte) (Bucket, error) {
	d := decoder{r: bytes.NewReader(data)}
	kind := d.int32()
	if d.err != nil {
		return nil, xerrors.Errorf("%w: bucket too short (%d bytes)", ErrCorruption, len(data))
	}

	var b Bucket
	switch kind {
	case kindLeaf:
		l := newLeafBucket(d.uint64(), d.uint64())
		for i := 0; i < FANOUT && d.err == nil; i++ {
			switch marker := d.int32(); marker {
			case slotNull:
			case slotTombstone:
				l.items[i] = newTombstone(d.uint64())
			case slotItem:
				if d.err == nil {
					l.items[i], d.err = f.items.DeserializeItem(d.r)
				}
			default:
				if d.err == nil {
					d.err = xerrors.Errorf("unknown slot marker %d at offset %d", marker, i)
				}
			}
		}
		b = l

	case kindIndirect:
		in := newIndirectBucket(d.uint64())
		for i := range in.keys {
			in.keys[i] = d.uint64()
		}
		for i := range in.hashes {
			in.hashes[i] = d.bytes(d.int32())
		}
		b = in

	case kindRevisionRoot:
		r := newRevisionRootBucket(d.uint64(), d.uint64(), d.uint64())
		r.keys[0] = d.uint64()
		r.keys[1] = d.uint64()
		b = r

	case kindUber:
		u := &UberBucket{bucket_key: d.uint64(), revision_count: d.uint64(), bucket_counter: d.uint64(), revision_tree: d.uint64()}
		code, param := d.int32(), d.int32()
		if d.err == nil {
			u.revisioning, d.err = decodeRevisioning(code, param)
		}
		b = u

	case kindMeta:
		m := newMetaBucket(d.uint64())
		count := d.int32()
		if count < 0 {
			d.err = xerrors.Errorf("negative meta entry count %d", count)
		}
		for i := int32(0); i < count && d.err == nil; i++ {
			var key, value MetaEntry
			if key, d.err = f.metas.DeserializeEntry(d.r); d.err != nil {
				break
			}
			if value, d.err = f.metas.DeserializeEntry(d.r); d.err != nil {
				break
			}
			d.err = m.put(key, value)
		}
		if d.err == nil && m.Size() != int(count) {
			d.err = xerrors.Errorf("%d meta entries stored, %d distinct keys", count, m.Size())
		}
		b = m

	default:
		return nil, xerrors.Errorf("%w: unknown bucket kind %d", ErrCorruption, kind)
	}

	if d.err == nil && d.r.Len() != 0 {
		d.err = xerrors.Errorf("%d trailing bytes", d.r.Len())
	}
	if d.err != nil {
		return nil, xerrors.Errorf("%w: malformed %s bucket: %v", ErrCorruption, kindName(kind), d.err)
	}
	return b, nil
}
