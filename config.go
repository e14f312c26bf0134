package eris

// Compressor compresses a stream body behind a document-type marker. The
// header stays uncompressed so readers can pick the matching decompressor.
type Compressor interface {
	compress(b []byte) ([]byte, error)
	decompress(b []byte) ([]byte, error)
	docType() documentType
}

// compressorFor picks the decompressor matching a document type read from a
// stream header.
func compressorFor(dt documentType) (Compressor, error) {
	switch dt {
	case docRaw:
		return nil, nil
	case docSnappy:
		return SnappyCompressor{}, nil
	case docZlib:
		return ZlibCompressor{Level: ZlibDefaultCompression}, nil
	case docZstd:
		return ZstdCompressor{}, nil
	}
	return nil, ErrCorrupt{errBadDocType}
}

var errBadDocType = "unknown document type"
