package treetank

import "sync"

import "github.com/golang/snappy"
import "github.com/klauspost/compress/zstd"
import "golang.org/x/xerrors"

// Compression selects how serialized buckets are stored by the backend.
// Every stored bucket starts with one byte naming its compression so it can always be read back,
// whatever the current setting is. The uber bucket is never compressed.
type Compression uint8

const (
	NoCompression Compression = iota
	SnappyCompression
	ZstdCompression
)

var zstdEncoder, zstdDecoder = sync.OnceValue(func() *zstd.Encoder {
	encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	return encoder
}), sync.OnceValue(func() *zstd.Decoder {
	decoder, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	return decoder
})

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case SnappyCompression:
		return "snappy"
	case ZstdCompression:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression is the inverse of String
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return NoCompression, nil
	case "snappy":
		return SnappyCompression, nil
	case "zstd":
		return ZstdCompression, nil
	}
	return NoCompression, xerrors.Errorf("%w: unknown compression %q", ErrInvalidArgument, name)
}

func (c Compression) compress(src []byte) []byte {
	switch c {
	case SnappyCompression:
		dst := make([]byte, 1, 1+snappy.MaxEncodedLen(len(src)))
		dst[0] = byte(c)
		return append(dst, snappy.Encode(nil, src)...)
	case ZstdCompression:
		dst := make([]byte, 1, 1+len(src)/2)
		dst[0] = byte(c)
		return zstdEncoder().EncodeAll(src, dst)
	default:
		dst := make([]byte, 1+len(src))
		dst[0] = byte(NoCompression)
		copy(dst[1:], src)
		return dst
	}
}

func decompress(data []byte) ([]byte, error) {
	if len(data) < 1 {
		return nil, xerrors.Errorf("%w: empty bucket record", ErrCorruption)
	}
	switch c := Compression(data[0]); c {
	case NoCompression:
		return data[1:], nil
	case SnappyCompression:
		decoded, err := snappy.Decode(nil, data[1:])
		if err != nil {
			return nil, xerrors.Errorf("%w: snappy: %s", ErrCorruption, err)
		}
		return decoded, nil
	case ZstdCompression:
		decoded, err := zstdDecoder().DecodeAll(data[1:], nil)
		if err != nil {
			return nil, xerrors.Errorf("%w: zstd: %s", ErrCorruption, err)
		}
		return decoded, nil
	default:
		return nil, xerrors.Errorf("%w: unknown compression %d", ErrCorruption, data[0])
	}
}
