package treetank

import "hash"
import "encoding/binary"

import "golang.org/x/crypto/blake2s"

func hasher() hash.Hash {
	h, _ := blake2s.New256(nil)
	return h
}

func sum(data []byte) (h [HASHSIZE]byte) {
	return blake2s.Sum256(data)
}

// Sum returns the blake2s-256 hash used for all reference hashes and the built-in item fingerprints.
func Sum(data []byte) [HASHSIZE]byte {
	return sum(data)
}

func hashUint64(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}
