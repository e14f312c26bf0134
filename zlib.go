package eris

import (
	"bytes"
	"compress/zlib"
	"math"
)

// ZlibCompressor compresses a stream body using the zlib format.
type ZlibCompressor struct {
	Level int // compression level
}

const (
	ZlibNoCompression      = zlib.NoCompression
	ZlibBestSpeed          = zlib.BestSpeed
	ZlibBestCompression    = zlib.BestCompression
	ZlibDefaultCompression = zlib.DefaultCompression
)

func (c ZlibCompressor) docType() documentType { return docZlib }

func (c ZlibCompressor) compress(buf []byte) ([]byte, error) {
	level := c.Level
	if level == 0 {
		level = ZlibDefaultCompression
	}

	var comp bytes.Buffer
	zw, err := zlib.NewWriterLevel(&comp, level)
	if err != nil {
		return nil, err
	}
	if _, err = zw.Write(buf); err != nil {
		return nil, err
	}
	if err = zw.Close(); err != nil {
		return nil, err
	}

	// <Varint><Varint><Zlib Blob>
	// 1st varint indicates the length of the uncompressed body,
	// 2nd varint indicates the length of the compressed body.
	var head []byte
	tail := comp.Bytes()
	head = varint(head, uint(len(buf)))
	head = varint(head, uint(len(tail)))

	return append(head, tail...), nil
}

func (c ZlibCompressor) decompress(buf []byte) ([]byte, error) {
	uln, usz, err := varintdecode(buf)
	if err != nil {
		return nil, err
	}
	buf = buf[usz:]

	cln, csz, err := varintdecode(buf)
	if err != nil {
		return nil, err
	}
	if cln < 0 || cln > math.MaxInt32 || csz+cln > len(buf) {
		return nil, ErrCorrupt{errBadOffset}
	}
	buf = buf[csz : csz+cln]

	return zlibDecode(uln, buf)
}
