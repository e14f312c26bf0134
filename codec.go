package eris

import (
	"encoding/binary"
	"io"
	"math"
)

// wire writes fixed-width little-endian words to a sink. All methods abort
// via throw on a refused write.
type wire struct {
	w       io.Writer
	scratch [8]byte
}

func (w *wire) raw(b []byte) {
	if _, err := w.w.Write(b); err != nil {
		throwf(ErrWriteFail, "%v", err)
	}
}

func (w *wire) u8(v byte) {
	w.scratch[0] = v
	w.raw(w.scratch[:1])
}

func (w *wire) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *wire) u16(v uint16) {
	binary.LittleEndian.PutUint16(w.scratch[:2], v)
	w.raw(w.scratch[:2])
}

func (w *wire) i16(v int16) { w.u16(uint16(v)) }

// i32 is the framing word and general integer width.
func (w *wire) i32(v int32) {
	binary.LittleEndian.PutUint32(w.scratch[:4], uint32(v))
	w.raw(w.scratch[:4])
}

// size is the pointer-sized unsigned word.
func (w *wire) size(v uint64) {
	binary.LittleEndian.PutUint64(w.scratch[:8], v)
	w.raw(w.scratch[:8])
}

// i64 is the pointer-sized signed offset.
func (w *wire) i64(v int64) { w.size(uint64(v)) }

func (w *wire) f64(v float64) { w.size(math.Float64bits(v)) }

// str writes a size-prefixed byte string.
func (w *wire) str(s string) {
	w.size(uint64(len(s)))
	w.raw([]byte(s))
}

// unwire reads fixed-width little-endian words from a source. Short reads
// abort via throw.
type unwire struct {
	r       io.Reader
	scratch [8]byte
}

func (r *unwire) raw(b []byte) {
	if _, err := io.ReadFull(r.r, b); err != nil {
		throwf(ErrTruncated, "%v", err)
	}
}

func (r *unwire) u8() byte {
	r.raw(r.scratch[:1])
	return r.scratch[0]
}

func (r *unwire) bool() bool { return r.u8() != 0 }

func (r *unwire) u16() uint16 {
	r.raw(r.scratch[:2])
	return binary.LittleEndian.Uint16(r.scratch[:2])
}

func (r *unwire) i16() int16 { return int16(r.u16()) }

func (r *unwire) i32() int32 {
	r.raw(r.scratch[:4])
	return int32(binary.LittleEndian.Uint32(r.scratch[:4]))
}

func (r *unwire) size() uint64 {
	r.raw(r.scratch[:8])
	return binary.LittleEndian.Uint64(r.scratch[:8])
}

func (r *unwire) i64() int64 { return int64(r.size()) }

func (r *unwire) f64() float64 { return math.Float64frombits(r.size()) }

// sizeInt reads a size word and checks it fits an int and the given cap,
// guarding allocations against corrupt streams.
func (r *unwire) sizeInt(limit uint64) int {
	v := r.size()
	if v > limit {
		throw(ErrCorrupt{errBadSize})
	}
	return int(v)
}

// str reads a size-prefixed byte string.
func (r *unwire) str() string {
	n := r.sizeInt(maxStringLen)
	b := make([]byte, n)
	r.raw(b)
	return string(b)
}

// Allocation guards for corrupt size words.
const (
	maxStringLen = 1 << 30
	maxCount     = 1 << 26
)

var errBadSize = "bad size word"

// varint appends n in base-128 form; used to frame compressed bodies.
func varint(by []byte, n uint) []byte {
	for n >= 0x80 {
		by = append(by, byte(n)|0x80)
		n >>= 7
	}
	return append(by, byte(n))
}

// varintdecode reads a base-128 length, returning the value and the number
// of bytes consumed.
func varintdecode(by []byte) (n int, sz int, err error) {
	s := uint(0)
	for i, b := range by {
		if i > 9 {
			return 0, 0, ErrCorrupt{errBadVarint}
		}
		if b < 0x80 {
			return n | int(b)<<s, i + 1, nil
		}
		n |= int(b&0x7f) << s
		s += 7
	}
	return 0, 0, ErrCorrupt{errBadVarint}
}

var errBadVarint = "bad varint"
