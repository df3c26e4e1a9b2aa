package treetank

import "io"
import "bytes"
import "encoding/binary"

import "github.com/vmihailenco/msgpack/v5"
import "golang.org/x/xerrors"

// ready made items and meta entries for consumers which do not bring their own

const MAX_BLOB_SIZE = 1 << 26 // 64 MB, sanity limit while decoding

// BlobItem is an opaque value stored under an item key
type BlobItem struct {
	Key   uint64
	Value []byte
}

func (b *BlobItem) ItemKey() uint64 {
	return b.Key
}

// Serialize writes [key:8][length:4][value]
func (b *BlobItem) Serialize(w io.Writer) error {
	var header [12]byte
	binary.BigEndian.PutUint64(header[0:], b.Key)
	binary.BigEndian.PutUint32(header[8:], uint32(len(b.Value)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(b.Value)
	return err
}

func (b *BlobItem) Fingerprint() []byte {
	h := hasher()
	b.Serialize(h)
	return h.Sum(nil)
}

type BlobFactory struct{}

func (BlobFactory) DeserializeItem(r Reader) (Item, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[8:])
	if size > MAX_BLOB_SIZE {
		return nil, xerrors.Errorf("blob of %d bytes exceeds %d", size, MAX_BLOB_SIZE)
	}
	b := &BlobItem{Key: binary.BigEndian.Uint64(header[0:]), Value: make([]byte, size)}
	if _, err := io.ReadFull(r, b.Value); err != nil {
		return nil, err
	}
	return b, nil
}

// StringEntry is a meta key or value encoded as a msgpack string
type StringEntry string

func (s StringEntry) Serialize(w io.Writer) error {
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.Reset(w)
	return enc.EncodeString(string(s))
}

type StringEntryFactory struct{}

func (StringEntryFactory) DeserializeEntry(r Reader) (MetaEntry, error) {
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.Reset(r)
	s, err := dec.DecodeString()
	if err != nil {
		return nil, err
	}
	return StringEntry(s), nil
}

// Record stores any msgpack encodable value under an item key
type Record[T any] struct {
	Key   uint64
	Value T
}

func (r *Record[T]) ItemKey() uint64 {
	return r.Key
}

func (r *Record[T]) Serialize(w io.Writer) error {
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.Reset(w)
	enc.SetSortMapKeys(true) // stable fingerprints
	if err := enc.EncodeUint(r.Key); err != nil {
		return err
	}
	return enc.Encode(r.Value)
}

// Fingerprint hashes the encoded record. A value msgpack cannot encode hashes to a fixed marker
// under its key, the commit writing it fails anyway.
func (r *Record[T]) Fingerprint() []byte {
	var buf bytes.Buffer
	if err := r.Serialize(&buf); err != nil {
		buf.Reset()
		buf.WriteString("unencodable record ")
		binary.Write(&buf, binary.BigEndian, r.Key)
	}
	h := sum(buf.Bytes())
	return h[:]
}

// RecordFactory decodes the items written by Record[T]
type RecordFactory[T any] struct{}

func (RecordFactory[T]) DeserializeItem(r Reader) (Item, error) {
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.Reset(r)

	key, err := dec.DecodeUint64()
	if err != nil {
		return nil, err
	}
	rec := &Record[T]{Key: key}
	if err = dec.Decode(&rec.Value); err != nil {
		return nil, err
	}
	return rec, nil
}
