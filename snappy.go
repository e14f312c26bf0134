package eris

import (
	"math"

	"github.com/golang/snappy"
)

// SnappyCompressor compresses a stream body using the Snappy format.
type SnappyCompressor struct{}

func (c SnappyCompressor) docType() documentType { return docSnappy }

func (c SnappyCompressor) compress(b []byte) ([]byte, error) {
	if len(b) >= math.MaxUint32 {
		return nil, ErrTooLarge
	}
	return snappy.Encode(nil, b), nil
}

func (c SnappyCompressor) decompress(b []byte) ([]byte, error) {
	return snappy.Decode(nil, b)
}
