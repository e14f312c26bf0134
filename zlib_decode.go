package eris

import (
	"bytes"
	"compress/zlib"
)

func zlibDecode(uln int, buf []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	dec := bytes.NewBuffer(make([]byte, 0, uln))
	if _, err = dec.ReadFrom(zr); err != nil {
		return nil, err
	}

	return dec.Bytes(), nil
}
