package eris

// Stream header: magic, format version, document type, the widths of the
// framing int, size word and number, and a canary number that must
// round-trip bit-exactly so incompatible number representations are caught
// up front.
const magicHeaderBytes = uint32(0x53495245) // "ERIS", little-endian

const formatVersion = 1

// headerSize is magic + version + doctype + three width bytes + canary.
const headerSize = 4 + 1 + 1 + 3 + 8

// Local widths recorded in the header.
const (
	widthInt    = 4
	widthSize   = 8
	widthNumber = 8
)

// canaryNumber is written to and checked against every stream.
const canaryNumber = 370.5

// Document type byte; the low nibble selects the body compression, the
// digest bit is set when a SipHash digest trails the body.
type documentType byte

const (
	docRaw documentType = iota
	docSnappy
	docZlib
	docZstd

	docDigestFlag documentType = 0x10
	docTypeMask   documentType = 0x0f
)

// Value kind tags. One framing word per value holds either a tag or a
// reference: values >= refOffset are reference ids (offset by refOffset),
// tagPermanent marks a permanents-table substitution, everything below is a
// plain kind.
const (
	tagNil = iota
	tagBoolean
	tagLightUserData
	tagNumber
	tagString
	tagTable
	tagFunction
	tagUserData
	tagThread
	tagProto
	tagUpval

	tagPermanent

	refOffset
)

// Closure sub-kind markers.
const (
	closureInterpreted = 0
	closureGo          = 1
)

// Body shape markers for tables and userdata.
const (
	bodyLiteral = 0
	bodySpecial = 1
)

// openUpvalSentinel terminates a thread's open-upvalue list.
const openUpvalSentinel = ^uint64(0)

// DefaultPersistKey is the metatable key consulted for special persistence
// when the encoder does not override it.
const DefaultPersistKey = "__persist"
