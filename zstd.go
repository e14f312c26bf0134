package eris

import (
	"math"
)

// ZstdCompressor compresses a stream body using the zstd format.
type ZstdCompressor struct {
	Level int // compression level, ZstdDefaultCompression when zero
}

// Zstd constants
const (
	ZstdBestSpeed          = 1
	ZstdBestCompression    = 20
	ZstdDefaultCompression = 3
)

func (c ZstdCompressor) docType() documentType { return docZstd }

func (c ZstdCompressor) compress(buf []byte) ([]byte, error) {
	// <Varint><Zstd Blob>
	// The varint indicates the length of the compressed body.
	level := c.Level
	if level == 0 {
		level = ZstdDefaultCompression
	}

	tail, err := zstdEncode(buf, level)
	if err != nil {
		return nil, err
	}

	var head []byte
	head = varint(head, uint(len(tail)))
	return append(head, tail...), nil
}

func (c ZstdCompressor) decompress(buf []byte) ([]byte, error) {
	ln, sz, err := varintdecode(buf)
	if err != nil {
		return nil, err
	}
	if ln < 0 || ln > math.MaxInt32 || sz+ln > len(buf) {
		return nil, ErrCorrupt{errBadOffset}
	}
	return zstdDecode(buf[sz : sz+ln])
}
