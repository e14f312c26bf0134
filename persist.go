package eris

import (
	"bytes"
	"io"

	"github.com/fnuecke/eris/vm"
)

// An Encoder persists VM object graphs. The zero value matches the library
// defaults: debug info included, no path generation, no I/O pass-through,
// the standard persist key, unbounded recursion, raw uncompressed bodies.
type Encoder struct {
	// StripDebug omits prototype debug info (source, line info, local and
	// upvalue names) from the stream.
	StripDebug bool

	// GeneratePath accumulates a human readable object path that is attached
	// to error messages. Costs time and memory, off by default.
	GeneratePath bool

	// PassIO hands special persistence callbacks an opaque handle to the
	// output as an extra argument.
	PassIO bool

	// PersistKey overrides the metatable key consulted for special
	// persistence. Empty means DefaultPersistKey.
	PersistKey string

	// MaxRec bounds the recursion depth over the object graph; zero means
	// unbounded.
	MaxRec int

	// Compressor compresses the body after encoding. Nil writes raw bodies.
	Compressor Compressor

	// Checksum appends a SipHash digest of the uncompressed body which the
	// decoder verifies before reconstructing anything.
	Checksum bool
}

// Persist serializes v into a self-contained byte string. perms maps live
// objects to replacement keys for non-portable values; nil means no
// substitutions.
func (e *Encoder) Persist(perms *vm.Table, v vm.Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Dump(perms, v, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Dump writes the stream header and the persisted form of v to w.
func (e *Encoder) Dump(perms *vm.Table, v vm.Value, w io.Writer) (err error) {
	p := &persister{
		enc:   e,
		refs:  make(map[interface{}]int),
		perms: permsIndex(perms),
	}
	p.path.enabled = e.GeneratePath

	defer func() {
		if r := recover(); r != nil {
			re, ok := r.(raised)
			if !ok {
				panic(r)
			}
			err = p.path.attach(re.err)
		}
	}()

	buffered := e.Compressor != nil || e.Checksum

	out := &wire{w: w}
	dt := docRaw
	if e.Compressor != nil {
		dt = e.Compressor.docType()
	}
	if e.Checksum {
		dt |= docDigestFlag
	}
	writeHeader(out, dt)

	var body bytes.Buffer
	if buffered {
		p.w = &wire{w: &body}
	} else {
		p.w = out
	}

	p.path.push("root")
	p.persist(v)

	if buffered {
		payload := body.Bytes()
		if e.Checksum {
			d := bodyDigest(payload)
			payload = append(payload, d[:]...)
		}
		if e.Compressor != nil {
			payload, err = e.Compressor.compress(payload)
			if err != nil {
				return err
			}
		}
		out.raw(payload)
	}
	return nil
}

// Persist is shorthand for persisting with a zero-value Encoder.
func Persist(perms *vm.Table, v vm.Value) ([]byte, error) {
	var e Encoder
	return e.Persist(perms, v)
}

// Dump is shorthand for dumping with a zero-value Encoder.
func Dump(perms *vm.Table, v vm.Value, w io.Writer) error {
	var e Encoder
	return e.Dump(perms, v, w)
}

// persister is the writer-side state of one persist operation. It lives for
// a single call; there is no process-wide state.
type persister struct {
	enc      *Encoder
	w        *wire
	refs     map[interface{}]int
	refcount int
	perms    map[interface{}]vm.Value
	path     trace
	depth    int
	io       *vm.UserData
}

// identityKey maps a value to the key under which it is tracked in the
// reference table: content for strings, the underlying function for bare
// native functions (they compare by code pointer in the host runtime),
// pointer identity for everything else.
func identityKey(v vm.Value) interface{} {
	switch x := v.(type) {
	case vm.String:
		return x
	case *vm.Closure:
		if x.IsGo() && x.NumUpvals() == 0 {
			return x.FnID()
		}
		return x
	default:
		return v
	}
}

// permsIndex flattens the caller's permanents table into an identity-keyed
// lookup for the writer.
func permsIndex(perms *vm.Table) map[interface{}]vm.Value {
	idx := make(map[interface{}]vm.Value)
	if perms == nil {
		return idx
	}
	perms.ForEach(func(obj, key vm.Value) error {
		idx[identityKey(obj)] = key
		return nil
	})
	return idx
}

func (p *persister) persistKey() string {
	if p.enc.PersistKey != "" {
		return p.enc.PersistKey
	}
	return DefaultPersistKey
}

// ioHandle returns the opaque writer handle passed to special persistence
// callbacks when PassIO is enabled.
func (p *persister) ioHandle() *vm.UserData {
	if p.io == nil {
		p.io = &vm.UserData{Opaque: p.w.w}
	}
	return p.io
}

func (p *persister) enter() {
	p.depth++
	if p.enc.MaxRec > 0 && p.depth > p.enc.MaxRec {
		throw(ErrTooDeep)
	}
}

func (p *persister) leave() { p.depth-- }

// persist is the top-level dispatcher. Trivially small values are always
// written inline because a reference would cost as much; everything else
// goes through the reference table.
func (p *persister) persist(v vm.Value) {
	p.enter()
	defer p.leave()

	switch x := v.(type) {
	case nil:
		p.w.i32(tagNil)
	case vm.Bool:
		p.w.i32(tagBoolean)
		p.w.bool(bool(x))
	case vm.LightUserData:
		p.w.i32(tagLightUserData)
		p.w.size(uint64(x))
	case vm.Number:
		p.w.i32(tagNumber)
		p.w.f64(float64(x))
	default:
		p.keyed(identityKey(v), int32(vm.KindOf(v)), func() { p.body(v) })
	}
}

// keyed implements the reference protocol for any value, under an explicit
// identity key. The id is bound before the permanents check and before the
// body so that cycles and repeated permanents resolve to one object.
func (p *persister) keyed(key interface{}, tag int32, body func()) {
	if id, ok := p.refs[key]; ok {
		p.w.i32(int32(id + refOffset))
		return
	}
	p.refcount++
	p.refs[key] = p.refcount

	if sub, ok := p.perms[key]; ok {
		p.w.i32(tagPermanent)
		p.w.i32(tag)
		p.persist(sub)
		return
	}

	p.w.i32(tag)
	body()
}

func (p *persister) body(v vm.Value) {
	switch x := v.(type) {
	case vm.String:
		p.w.str(string(x))
	case *vm.Table:
		p.special(x, x.Metatable(), true, func() { p.literalTable(x) })
	case *vm.UserData:
		p.special(x, x.Metatable(), false, func() { p.literalUserdata(x) })
	case *vm.Closure:
		p.closure(x)
	case *vm.Thread:
		p.thread(x)
	default:
		throwf(ErrUnsupported, "trying to persist unknown type")
	}
}

// special implements the metatable-driven persistence override for tables
// and userdata. A one-byte prefix tells the reader which body shape follows.
func (p *persister) special(v vm.Value, mt *vm.Table, isTable bool, literal func()) {
	allow := isTable
	if mt != nil {
		switch f := mt.RawGet(vm.String(p.persistKey())).(type) {
		case nil:
			// No entry, act according to default.
		case vm.Bool:
			allow = bool(f)
		case *vm.Closure:
			args := []vm.Value{v}
			if p.enc.PassIO {
				args = append(args, p.ioHandle())
			}
			res, err := f.Call(nil, args...)
			if err != nil {
				throwf(ErrBadSpecial, "%s failed: %v", p.persistKey(), err)
			}
			var reconstruct vm.Value
			if len(res) > 0 {
				reconstruct = res[0]
			}
			if _, ok := reconstruct.(*vm.Closure); !ok {
				throwf(ErrBadSpecial, "%s did not return a function", p.persistKey())
			}
			p.w.u8(bodySpecial)
			p.persist(reconstruct)
			return
		default:
			throwf(ErrBadSpecial, "%s is not nil, boolean, or function", p.persistKey())
		}
	}

	if allow {
		p.w.u8(bodyLiteral)
		literal()
	} else if isTable {
		throwf(ErrForbidden, "attempt to persist forbidden table")
	} else {
		throwf(ErrForbidden, "literally persisting userdata is disabled by default")
	}
}

// literalTable writes key/value pairs terminated by a nil key, then the
// metatable slot.
func (p *persister) literalTable(t *vm.Table) {
	t.ForEach(func(k, v vm.Value) error {
		p.path.pushKey(k)
		p.persist(k)
		p.persist(v)
		p.path.pop()
		return nil
	})
	p.persist(nil)
	p.metatable(t.Metatable())
}

func (p *persister) literalUserdata(u *vm.UserData) {
	p.w.size(uint64(len(u.Data)))
	p.w.raw(u.Data)
	p.metatable(u.Metatable())
}

func (p *persister) metatable(mt *vm.Table) {
	p.path.push("@metatable")
	if mt == nil {
		p.persist(nil)
	} else {
		p.persist(mt)
	}
	p.path.pop()
}

// closure writes either of the two function sub-kinds. Native functions can
// only cross the stream through the permanents table; interpreted closures
// carry their prototype by identity and their upvalues through the keyed
// path so sharing survives.
func (p *persister) closure(c *vm.Closure) {
	if c.IsGo() {
		if c.NumUpvals() == 0 {
			// Reached only when the function was not in perms.
			throwf(ErrUnsupported, "attempt to persist a native function")
		}
		p.w.u8(closureGo)
		p.w.u8(byte(c.NumUpvals()))

		// The underlying native function has to resolve through perms; if it
		// does not, the recursive persist below reports it.
		p.persist(&vm.Closure{Fn: c.Fn})

		// Native closure upvalues are always closed, write the plain values.
		p.path.push(".upvalues")
		for i, uv := range c.GoUpvals {
			p.path.push("[%d]", i+1)
			p.persist(uv)
			p.path.pop()
		}
		p.path.pop()
		return
	}

	if c.Proto == nil {
		throwf(ErrUnsupported, "attempt to persist closure without prototype")
	}
	p.w.u8(closureInterpreted)
	p.w.u8(byte(len(c.Upvals)))

	p.path.push(".proto")
	p.persistProto(c.Proto)
	p.path.pop()

	p.path.push(".upvalues")
	for i, uv := range c.Upvals {
		if i < len(c.Proto.Upvalues) && c.Proto.Upvalues[i].Name != "" {
			p.path.push("[%s]", c.Proto.Upvalues[i].Name)
		} else {
			p.path.push("[%d]", i+1)
		}
		p.persistUpval(uv)
		p.path.pop()
	}
	p.path.pop()
}

// persistProto routes a prototype through the keyed path under its identity
// so that a prototype shared by many closures is emitted once.
func (p *persister) persistProto(proto *vm.Proto) {
	p.keyed(proto, tagProto, func() { p.proto(proto) })
}

func (p *persister) proto(proto *vm.Proto) {
	p.w.i32(int32(proto.LineDefined))
	p.w.i32(int32(proto.LastLineDefined))
	p.w.u8(proto.NumParams)
	p.w.bool(proto.IsVararg)
	p.w.u8(proto.MaxStackSize)

	p.w.i32(int32(len(proto.Code)))
	for _, ins := range proto.Code {
		p.w.i32(int32(ins))
	}

	p.w.i32(int32(len(proto.Constants)))
	p.path.push(".constants")
	for i, k := range proto.Constants {
		p.path.push("[%d]", i)
		p.persist(k)
		p.path.pop()
	}
	p.path.pop()

	p.w.i32(int32(len(proto.Protos)))
	p.path.push(".protos")
	for i, child := range proto.Protos {
		p.path.push("[%d]", i)
		p.persistProto(child)
		p.path.pop()
	}
	p.path.pop()

	p.w.i32(int32(len(proto.Upvalues)))
	for _, uv := range proto.Upvalues {
		p.w.bool(uv.InStack)
		p.w.u8(uv.Index)
	}

	debug := !p.enc.StripDebug
	p.w.bool(debug)
	if !debug {
		return
	}

	p.persistMaybeString(proto.Source)

	p.w.i32(int32(len(proto.LineInfo)))
	for _, line := range proto.LineInfo {
		p.w.i32(line)
	}

	p.w.i32(int32(len(proto.LocVars)))
	p.path.push(".locvars")
	for i, lv := range proto.LocVars {
		p.path.push("[%d]", i)
		p.w.i32(int32(lv.StartPC))
		p.w.i32(int32(lv.EndPC))
		p.persistMaybeString(lv.Name)
		p.path.pop()
	}
	p.path.pop()

	p.path.push(".upvalnames")
	for i, uv := range proto.Upvalues {
		p.path.push("[%d]", i)
		p.persistMaybeString(uv.Name)
		p.path.pop()
	}
	p.path.pop()
}

// persistMaybeString writes a string, or nil when it is absent, matching the
// optional string slots of debug info.
func (p *persister) persistMaybeString(s string) {
	if s == "" {
		p.persist(nil)
	} else {
		p.persist(vm.String(s))
	}
}

// persistUpval routes an upvalue through the keyed path under the runtime
// identity of the upvalue itself: two closures sharing it emit one body and
// one reference. The body is simply the current value.
func (p *persister) persistUpval(uv *vm.Upvalue) {
	p.keyed(uv, tagUpval, func() { p.persist(uv.Get()) })
}

// thread writes a suspended coroutine: general state, stack contents, call
// frames head to tail, and the open upvalue list.
func (p *persister) thread(t *vm.Thread) {
	if t.Running {
		throwf(ErrUnsupported, "cannot persist currently running thread")
	}
	if t.ErrJmp || t.ErrFunc != 0 {
		throwf(ErrUnsupported, "cannot persist thread in a protected call")
	}
	// Hooks are not persisted; the thread revives without one.

	p.w.u8(byte(t.Status))
	p.w.u16(t.NCalls)
	p.w.bool(t.AllowHook)

	p.w.i32(int32(t.StackSize()))
	p.w.size(uint64(t.Top))

	p.path.push(".stack")
	for i := 0; i < t.Top; i++ {
		p.path.push("[%d]", i)
		p.persist(t.Stack[i])
		p.path.pop()
	}
	p.path.pop()

	p.path.push(".callinfo")
	for i := range t.Frames {
		f := &t.Frames[i]
		p.path.push("[%d]", i)

		if f.Status&vm.FrameHookYield != 0 {
			throwf(ErrUnsupported, "cannot persist yielded hooks")
		}

		p.w.size(uint64(f.FuncPos))
		p.w.size(uint64(f.Top))
		p.w.i16(int16(f.NResults))
		p.w.u8(byte(f.Status))
		p.w.i64(f.Extra)

		if f.IsLua() {
			p.w.size(uint64(f.Base))
			p.w.size(uint64(f.SavedPC))
		} else {
			p.w.u8(f.GoStatus)
			if f.Status&(vm.FrameYPCall|vm.FrameYielded) != 0 {
				if f.Cont == nil {
					throwf(ErrUnsupported, "yielded frame without continuation")
				}
				p.w.i32(f.Ctx)
				p.persist(f.Cont)
			}
		}

		p.w.bool(i == len(t.Frames)-1)
		p.path.pop()
	}
	p.path.pop()

	p.path.push(".openupval")
	for i, uv := range t.OpenUpvals {
		p.path.push("[%d]", i)
		p.w.size(uint64(uv.Index()))
		p.persistUpval(uv)
		p.path.pop()
	}
	p.w.size(openUpvalSentinel)
	p.path.pop()
}
