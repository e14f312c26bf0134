//go:build !clibs
// +build !clibs

package eris

import "github.com/klauspost/compress/zstd"

func zstdEncode(buf []byte, level int) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()

	return encoder.EncodeAll(buf, nil), nil
}

func zstdDecode(buf []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	return decoder.DecodeAll(buf, nil)
}
