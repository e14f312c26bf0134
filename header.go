package eris

import (
	"encoding/binary"
	"io"
	"math"
)

// writeHeader emits the stream container prologue: magic, version, document
// type, local value widths and the canary number.
func writeHeader(w *wire, dt documentType) {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[:4], magicHeaderBytes)
	hdr[4] = formatVersion
	hdr[5] = byte(dt)
	hdr[6] = widthInt
	hdr[7] = widthSize
	hdr[8] = widthNumber
	binary.LittleEndian.PutUint64(hdr[9:], math.Float64bits(canaryNumber))
	w.raw(hdr[:])
}

// readHeader parses and validates the prologue, returning the document type.
func readHeader(r io.Reader) (documentType, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, ErrBadHeader
	}
	if binary.LittleEndian.Uint32(hdr[:4]) != magicHeaderBytes {
		return 0, ErrBadHeader
	}
	if hdr[4] != formatVersion {
		return 0, ErrBadVersion
	}
	if hdr[6] != widthInt || hdr[7] != widthSize || hdr[8] != widthNumber {
		return 0, ErrIncompatible
	}
	if math.Float64frombits(binary.LittleEndian.Uint64(hdr[9:])) != canaryNumber {
		return 0, ErrBadCanary
	}
	return documentType(hdr[5]), nil
}
