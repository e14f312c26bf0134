package eris

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrBadHeader    = errors.New("bad header: not a valid eris stream")
	ErrBadVersion   = errors.New("bad header: unsupported format version")
	ErrIncompatible = errors.New("bad header: stream written with incompatible value widths")
	ErrBadCanary    = errors.New("bad header: number representation mismatch")
	ErrBadDigest    = errors.New("body digest mismatch")

	ErrTruncated = errors.New("eris: could not read data")
	ErrWriteFail = errors.New("eris: could not write data")

	ErrForbidden   = errors.New("eris: forbidden")
	ErrUnsupported = errors.New("eris: unsupported")
	ErrBadSpecial  = errors.New("eris: invalid special persistence callback")
	ErrBadPerm     = errors.New("eris: bad permanent value")

	ErrTooDeep  = errors.New("object graph too deep")
	ErrTooLarge = errors.New("eris: body too large to be compressed")
)

// ErrCorrupt is returned when the stream structure itself is inconsistent.
type ErrCorrupt struct{ Err string }

// internal detail strings used with ErrCorrupt
var (
	errUnknownTag       = "unknown type id"
	errDanglingRef      = "dangling reference id"
	errBadMetatable     = "bad metatable, not nil or table"
	errNilTableValue    = "bad table value, got a nil value"
	errBadRecord        = "bad upvalue record"
	errUpvalCountDrift  = "prototype upvalue count does not match closure"
	errBadFrameFunction = "call frame function is not an interpreted closure"
	errBadContinuation  = "bad continuation function"
	errBadProtoRef      = "reference does not name a prototype"
	errBadNativeFn      = "permanent did not resolve to a native function"
	errBadOffset        = "bad offset"
	errBadDebugString   = "bad debug info string"
	errInternalRef      = "reference does not name a value"
)

func (c ErrCorrupt) Error() string { return "eris: corrupt stream: " + c.Err }

// pathError wraps an error with the object-graph path at which it occurred,
// when path generation is enabled.
type pathError struct {
	err  error
	path string
}

func (p pathError) Error() string { return p.err.Error() + " (" + p.path + ")" }
func (p pathError) Unwrap() error { return p.err }

// raised is the panic payload used to unwind an in-progress persist or
// unpersist; the entry points recover it and hand the error to the caller.
type raised struct{ err error }

// throw aborts the current operation with err.
func throw(err error) {
	panic(raised{err})
}

// throwf aborts with a formatted message wrapping sentinel err.
func throwf(err error, format string, args ...interface{}) {
	panic(raised{fmt.Errorf("%w: "+format, append([]interface{}{err}, args...)...)})
}
