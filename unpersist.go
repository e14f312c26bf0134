package eris

import (
	"bytes"
	"crypto/subtle"
	"io"

	"github.com/fnuecke/eris/vm"
)

// A Decoder reconstructs VM object graphs from persisted streams. The zero
// value matches the library defaults.
type Decoder struct {
	// GeneratePath accumulates a human readable object path attached to
	// error messages.
	GeneratePath bool

	// PassIO hands reconstruction callbacks an opaque handle to the input as
	// their argument.
	PassIO bool

	// MaxRec bounds the recursion depth; zero means unbounded.
	MaxRec int
}

// Unpersist reconstructs the value persisted in b. perms maps replacement
// keys back to live objects; it must mirror the table used while persisting.
func (d *Decoder) Unpersist(perms *vm.Table, b []byte) (vm.Value, error) {
	return d.Undump(perms, bytes.NewReader(b))
}

// Undump reads a stream header and reconstructs the single value that
// follows it.
func (d *Decoder) Undump(perms *vm.Table, r io.Reader) (v vm.Value, err error) {
	u := &unpersister{dec: d, perms: perms}
	u.path.enabled = d.GeneratePath

	defer func() {
		if rec := recover(); rec != nil {
			re, ok := rec.(raised)
			if !ok {
				panic(rec)
			}
			v = nil
			err = u.path.attach(re.err)
		}
	}()

	dt, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	comp, err := compressorFor(dt & docTypeMask)
	if err != nil {
		return nil, err
	}
	hasDigest := dt&docDigestFlag != 0

	src := r
	if comp != nil || hasDigest {
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		if comp != nil {
			body, err = comp.decompress(body)
			if err != nil {
				return nil, err
			}
		}
		if hasDigest {
			if len(body) < digestSize {
				return nil, ErrTruncated
			}
			payload, want := body[:len(body)-digestSize], body[len(body)-digestSize:]
			got := bodyDigest(payload)
			if subtle.ConstantTimeCompare(got[:], want) != 1 {
				return nil, ErrBadDigest
			}
			body = payload
		}
		src = bytes.NewReader(body)
	}

	u.r = &unwire{r: src}
	u.path.push("root")
	return u.value(), nil
}

// Unpersist is shorthand for unpersisting with a zero-value Decoder.
func Unpersist(perms *vm.Table, b []byte) (vm.Value, error) {
	var d Decoder
	return d.Unpersist(perms, b)
}

// Undump is shorthand for undumping with a zero-value Decoder.
func Undump(perms *vm.Table, r io.Reader) (vm.Value, error) {
	var d Decoder
	return d.Undump(perms, r)
}

// upvalRecord is the intermediate form an upvalue takes while a stream is
// read: the persisted value, the reconstructed upvalue once some consumer
// created it, and the addresses of every closure slot bound to it so the
// thread reader can repoint them when it reopens the upvalue over a stack.
type upvalRecord struct {
	value vm.Value
	uv    *vm.Upvalue
	backp []**vm.Upvalue
}

// unpersister is the reader-side state of one unpersist operation.
type unpersister struct {
	dec   *Decoder
	r     *unwire
	refs  []interface{}
	perms *vm.Table
	path  trace
	depth int
	io    *vm.UserData
}

// register assigns the next reference id to obj. Ids are dense and 1-based;
// every composite object is registered before its descendants are read so
// cycles back to it resolve.
func (u *unpersister) register(obj interface{}) int {
	u.refs = append(u.refs, obj)
	return len(u.refs)
}

// rewrite replaces the object a reserved id resolves to, for the
// placeholder-then-fill pattern of special persistence and permanents.
func (u *unpersister) rewrite(id int, obj interface{}) {
	u.refs[id-1] = obj
}

func (u *unpersister) lookup(id int) interface{} {
	if id < 1 || id > len(u.refs) || u.refs[id-1] == nil {
		throw(ErrCorrupt{errDanglingRef})
	}
	return u.refs[id-1]
}

func (u *unpersister) ioHandle() *vm.UserData {
	if u.io == nil {
		u.io = &vm.UserData{Opaque: u.r.r}
	}
	return u.io
}

func (u *unpersister) enter() {
	u.depth++
	if u.dec.MaxRec > 0 && u.depth > u.dec.MaxRec {
		throw(ErrTooDeep)
	}
}

func (u *unpersister) leave() { u.depth-- }

// value is the top-level dispatcher: resolve references by magnitude,
// otherwise dispatch on the kind tag.
func (u *unpersister) value() vm.Value {
	u.enter()
	defer u.leave()

	word := u.r.i32()
	if word >= refOffset {
		obj := u.lookup(int(word - refOffset))
		v, ok := obj.(vm.Value)
		if !ok {
			throw(ErrCorrupt{errInternalRef})
		}
		return v
	}

	switch word {
	case tagNil:
		return nil
	case tagBoolean:
		return vm.Bool(u.r.bool())
	case tagLightUserData:
		return vm.LightUserData(uintptr(u.r.size()))
	case tagNumber:
		return vm.Number(u.r.f64())
	case tagString:
		s := vm.String(u.r.str())
		u.register(s)
		return s
	case tagTable:
		return u.table()
	case tagFunction:
		return u.closure()
	case tagUserData:
		return u.userdata()
	case tagThread:
		return u.thread()
	case tagPermanent:
		return u.permanent()
	case tagProto, tagUpval:
		throw(ErrCorrupt{errInternalRef})
	default:
		throw(ErrCorrupt{errUnknownTag})
	}
	panic("unreachable")
}

// permanent resolves a permanents substitution: reserve the id, read the
// key, look it up, check the kind recorded at write time, fill the id.
func (u *unpersister) permanent() vm.Value {
	kind := u.r.i32()
	id := u.register(placeholder{})
	u.path.push("@permanent")
	key := u.value()
	u.path.pop()
	if key == nil || u.perms == nil {
		throwf(ErrBadPerm, "no value")
	}
	obj := u.perms.RawGet(key)
	if obj == nil {
		throwf(ErrBadPerm, "no value")
	}
	if int32(vm.KindOf(obj)) != kind {
		throwf(ErrBadPerm, "%s expected, got %s",
			vm.TypeName(vm.Kind(kind)), vm.TypeName(vm.KindOf(obj)))
	}
	u.rewrite(id, obj)
	return obj
}

// placeholder fills reserved reference slots until they are rewritten;
// resolving one through a reference means the stream is inconsistent.
type placeholder struct{}

// special handles the one-byte body shape prefix shared by tables and
// userdata. The special path reserves the id first, reads and invokes the
// reconstruction function, checks its result kind and rewrites the id.
func (u *unpersister) special(kind int32, literal func() vm.Value) vm.Value {
	if u.r.u8() != bodySpecial {
		return literal()
	}

	id := u.register(placeholder{})
	fv := u.value()
	cl, ok := fv.(*vm.Closure)
	if !ok {
		throwf(ErrBadSpecial, "invalid restore function")
	}

	var args []vm.Value
	if u.dec.PassIO {
		args = append(args, u.ioHandle())
	}
	res, err := cl.Call(nil, args...)
	if err != nil {
		throwf(ErrBadSpecial, "restore function failed: %v", err)
	}
	var obj vm.Value
	if len(res) > 0 {
		obj = res[0]
	}
	if int32(vm.KindOf(obj)) != kind {
		throwf(ErrBadSpecial, "bad restore function (%s expected, returned %s)",
			vm.TypeName(vm.Kind(kind)), vm.TypeName(vm.KindOf(obj)))
	}

	u.rewrite(id, obj)
	return obj
}

func (u *unpersister) table() vm.Value {
	return u.special(tagTable, func() vm.Value {
		t := vm.NewTable()
		// Register before reading pairs so cycles through keys, values or
		// the metatable resolve.
		u.register(t)

		for {
			u.path.push("@key")
			k := u.value()
			u.path.pop()
			if k == nil {
				break
			}
			u.path.pushKey(k)
			v := u.value()
			if v == nil {
				throw(ErrCorrupt{errNilTableValue})
			}
			t.RawSet(k, v)
			u.path.pop()
		}

		u.metatable(func(mt *vm.Table) { t.SetMetatable(mt) })
		return t
	})
}

func (u *unpersister) userdata() vm.Value {
	return u.special(tagUserData, func() vm.Value {
		n := u.r.sizeInt(maxStringLen)
		ud := vm.NewUserData(make([]byte, n))
		u.r.raw(ud.Data)
		u.register(ud)
		u.metatable(func(mt *vm.Table) { ud.SetMetatable(mt) })
		return ud
	})
}

func (u *unpersister) metatable(set func(*vm.Table)) {
	u.path.push("@metatable")
	defer u.path.pop()
	switch mt := u.value().(type) {
	case nil:
	case *vm.Table:
		set(mt)
	default:
		throw(ErrCorrupt{errBadMetatable})
	}
}

// closure reads either function sub-kind. The closure object is created
// with all-nil upvalues and registered before anything else is read, so
// cycles through upvalues or the prototype's constants resolve to it.
func (u *unpersister) closure() vm.Value {
	isGo := u.r.bool()
	nups := int(u.r.u8())

	if isGo {
		cl := vm.NewGoClosure(nil, nups)
		u.register(cl)

		fv := u.value()
		base, ok := fv.(*vm.Closure)
		if !ok || !base.IsGo() {
			throw(ErrCorrupt{errBadNativeFn})
		}
		cl.Fn = base.Fn

		u.path.push(".upvalues")
		for i := 0; i < nups; i++ {
			u.path.push("[%d]", i+1)
			cl.GoUpvals[i] = u.value()
			u.path.pop()
		}
		u.path.pop()
		return cl
	}

	cl := vm.NewClosure(nups)
	u.register(cl)

	u.path.push(".proto")
	cl.Proto = u.proto(vm.NewProto())
	u.path.pop()
	if len(cl.Proto.Upvalues) != nups {
		throw(ErrCorrupt{errUpvalCountDrift})
	}

	u.path.push(".upvalues")
	for i := 0; i < nups; i++ {
		if name := cl.Proto.Upvalues[i].Name; name != "" {
			u.path.push("[%s]", name)
		} else {
			u.path.push("[%d]", i+1)
		}

		rec := u.upvalRecord()
		if rec.uv == nil {
			// First consumer allocates the closed upvalue; later closures
			// and the thread reader find it through the record.
			rec.uv = vm.NewUpvalue(nil)
		}
		cl.Upvals[i] = rec.uv

		// Always reconcile the value: if a cycle ran through the upvalue the
		// earlier visit may have installed a temporary nil. Open upvalues
		// already read their truth through the owning stack.
		if !rec.uv.IsOpen() {
			rec.uv.Set(rec.value)
		}

		rec.backp = append(rec.backp, &cl.Upvals[i])
		u.path.pop()
	}
	u.path.pop()
	return cl
}

// upvalRecord reads one upvalue under the keyed protocol, yielding the
// shared intermediate record.
func (u *unpersister) upvalRecord() *upvalRecord {
	u.enter()
	defer u.leave()

	word := u.r.i32()
	if word >= refOffset {
		rec, ok := u.lookup(int(word - refOffset)).(*upvalRecord)
		if !ok {
			throw(ErrCorrupt{errBadRecord})
		}
		return rec
	}
	if word == tagPermanent {
		u.permanent() // always fails the kind check for upvalues
	}
	if word != tagUpval {
		throw(ErrCorrupt{errBadRecord})
	}

	rec := &upvalRecord{}
	u.register(rec)
	rec.value = u.value()
	return rec
}

// proto reads a prototype under the keyed protocol into the caller-provided
// shell. When the stream holds a reference to an already-read prototype the
// original is returned and the shell is abandoned.
func (u *unpersister) proto(shell *vm.Proto) *vm.Proto {
	u.enter()
	defer u.leave()

	word := u.r.i32()
	if word >= refOffset {
		p, ok := u.lookup(int(word - refOffset)).(*vm.Proto)
		if !ok {
			throw(ErrCorrupt{errBadProtoRef})
		}
		return p
	}
	if word == tagPermanent {
		u.permanent() // always fails the kind check for prototypes
	}
	if word != tagProto {
		throw(ErrCorrupt{errBadProtoRef})
	}

	// Preregister for cycle handling, e.g. through the constants.
	u.register(shell)
	u.protoBody(shell)
	return shell
}

func (u *unpersister) protoBody(p *vm.Proto) {
	p.LineDefined = int(u.r.i32())
	p.LastLineDefined = int(u.r.i32())
	p.NumParams = u.r.u8()
	p.IsVararg = u.r.bool()
	p.MaxStackSize = u.r.u8()

	p.Code = make([]vm.Instruction, u.count())
	for i := range p.Code {
		p.Code[i] = vm.Instruction(u.r.i32())
	}

	p.Constants = make([]vm.Value, u.count())
	u.path.push(".constants")
	for i := range p.Constants {
		u.path.push("[%d]", i)
		p.Constants[i] = u.value()
		u.path.pop()
	}
	u.path.pop()

	p.Protos = make([]*vm.Proto, u.count())
	u.path.push(".protos")
	for i := range p.Protos {
		u.path.push("[%d]", i)
		p.Protos[i] = u.proto(vm.NewProto())
		u.path.pop()
	}
	u.path.pop()

	p.Upvalues = make([]vm.UpvalDesc, u.count())
	for i := range p.Upvalues {
		p.Upvalues[i].InStack = u.r.bool()
		p.Upvalues[i].Index = u.r.u8()
	}

	if !u.r.bool() {
		// Debug info was stripped; leave the fields zeroed.
		return
	}

	p.Source = u.maybeString()

	p.LineInfo = make([]int32, u.count())
	for i := range p.LineInfo {
		p.LineInfo[i] = u.r.i32()
	}

	p.LocVars = make([]vm.LocVar, u.count())
	u.path.push(".locvars")
	for i := range p.LocVars {
		u.path.push("[%d]", i)
		p.LocVars[i].StartPC = int(u.r.i32())
		p.LocVars[i].EndPC = int(u.r.i32())
		p.LocVars[i].Name = u.maybeString()
		u.path.pop()
	}
	u.path.pop()

	u.path.push(".upvalnames")
	for i := range p.Upvalues {
		u.path.push("[%d]", i)
		p.Upvalues[i].Name = u.maybeString()
		u.path.pop()
	}
	u.path.pop()
}

// count reads a vector length and guards it against corrupt size words.
func (u *unpersister) count() int {
	n := u.r.i32()
	if n < 0 || n > maxCount {
		throw(ErrCorrupt{errBadSize})
	}
	return int(n)
}

func (u *unpersister) maybeString() string {
	switch s := u.value().(type) {
	case nil:
		return ""
	case vm.String:
		return string(s)
	default:
		throw(ErrCorrupt{errBadDebugString})
	}
	panic("unreachable")
}

// thread reconstructs a suspended coroutine: general state, stack, the call
// frame chain, then the open upvalue list which may repoint closures bound
// earlier to the same (now reopened) upvalues.
func (u *unpersister) thread() vm.Value {
	t := vm.NewThread()
	u.register(t)

	t.Status = vm.Status(u.r.u8())
	t.NCalls = u.r.u16()
	t.AllowHook = u.r.bool()

	size := u.count()
	if size < 1 {
		throw(ErrCorrupt{errBadSize})
	}
	t.ResizeStack(size)
	t.Top = u.r.sizeInt(uint64(size))

	u.path.push(".stack")
	for i := 0; i < t.Top; i++ {
		u.path.push("[%d]", i)
		t.Stack[i] = u.value()
		u.path.pop()
	}
	u.path.pop()

	u.path.push(".callinfo")
	for level := 0; ; level++ {
		u.path.push("[%d]", level)

		var f *vm.CallFrame
		if level == 0 {
			f = &t.Frames[0]
		} else {
			f = t.PushFrame()
		}

		f.FuncPos = u.r.sizeInt(uint64(size - 1))
		f.Top = u.r.sizeInt(uint64(size))
		f.NResults = int(u.r.i16())
		f.Status = vm.CallStatus(u.r.u8())
		f.Extra = u.r.i64()

		if f.IsLua() {
			f.Base = u.r.sizeInt(uint64(size))
			f.SavedPC = u.r.sizeInt(maxCount)
			fn, ok := t.Stack[f.FuncPos].(*vm.Closure)
			if !ok || fn.IsGo() || fn.Proto == nil {
				throw(ErrCorrupt{errBadFrameFunction})
			}
			if f.SavedPC > len(fn.Proto.Code) {
				throw(ErrCorrupt{errBadFrameFunction})
			}
		} else {
			f.GoStatus = u.r.u8()
			if f.Status&(vm.FrameYPCall|vm.FrameYielded) != 0 {
				f.Ctx = u.r.i32()
				cont, ok := u.value().(*vm.Closure)
				if !ok || !cont.IsGo() {
					throw(ErrCorrupt{errBadContinuation})
				}
				f.Cont = cont
			}
		}

		u.path.pop()
		if u.r.bool() {
			break
		}
	}
	u.path.pop()

	u.path.push(".openupval")
	for level := 0; ; level++ {
		offset := u.r.size()
		if offset == openUpvalSentinel {
			break
		}
		if offset >= uint64(len(t.Stack)) {
			throw(ErrCorrupt{errBadSize})
		}
		u.path.push("[%d]", level)

		nuv := t.FindUpval(int(offset))
		rec := u.upvalRecord()
		if rec.uv != nil {
			// Closures read before this thread bound the upvalue closed;
			// walk the back-pointers and rebind every one of them to the
			// reopened upvalue. The closed one becomes garbage.
			for _, slot := range rec.backp {
				*slot = nuv
			}
		}
		rec.uv = nuv

		u.path.pop()
	}
	u.path.pop()

	return t
}
