package eris

import (
	"encoding/binary"

	"github.com/dchest/siphash"
)

// Fixed SipHash-2-4 key; the digest guards against accidental corruption,
// not tampering.
var digestKey0 = uint64(magicHeaderBytes) ^ 0x9e3779b97f4a7c15
var digestKey1 = func() uint64 {
	m := uint64(magicHeaderBytes)
	return m * 0x100000001b3
}()

const digestSize = 8

// bodyDigest computes the digest over an uncompressed body.
func bodyDigest(b []byte) [digestSize]byte {
	var d [digestSize]byte
	binary.LittleEndian.PutUint64(d[:], siphash.Hash(digestKey0, digestKey1, b))
	return d
}
