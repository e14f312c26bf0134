package eris

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnuecke/eris/vm"
)

var roundtrips = []vm.Value{
	nil,
	vm.Bool(true),
	vm.Bool(false),
	vm.Number(0),
	vm.Number(1),
	vm.Number(-15),
	vm.Number(370.5),
	vm.Number(9891234567890.098),
	vm.String(""),
	vm.String("hello"),
	vm.String("twas brillig and the slithy toves did gyre and gimble in the wabe"),
	vm.LightUserData(0xdeadbeef),
}

func TestRoundtripSimple(t *testing.T) {
	for _, v := range roundtrips {
		b, err := Persist(nil, v)
		if err != nil {
			t.Errorf("failed persisting %#v: %s", v, err)
			continue
		}
		got, err := Unpersist(nil, b)
		if err != nil {
			t.Errorf("error during unpersist: %s", err)
			continue
		}
		if got != v {
			t.Errorf("failed roundtripping %s, got %s",
				spew.Sdump(v), spew.Sdump(got))
		}
	}
}

func TestRoundtripString(t *testing.T) {
	b, err := Persist(nil, vm.String("hello"))
	require.NoError(t, err)

	v, err := Unpersist(nil, b)
	require.NoError(t, err)
	assert.Equal(t, vm.String("hello"), v)
}

func TestRoundtripTable(t *testing.T) {
	tbl := vm.NewTable()
	tbl.RawSet(vm.Number(1), vm.String("a"))
	tbl.RawSet(vm.Number(2), vm.String("b"))
	tbl.RawSet(vm.String("nested"), func() vm.Value {
		inner := vm.NewTable()
		inner.RawSet(vm.String("x"), vm.Number(42))
		return inner
	}())

	got := roundtrip(t, tbl).(*vm.Table)
	assert.Equal(t, vm.String("a"), got.RawGet(vm.Number(1)))
	assert.Equal(t, vm.String("b"), got.RawGet(vm.Number(2)))
	inner, ok := got.RawGet(vm.String("nested")).(*vm.Table)
	require.True(t, ok)
	assert.Equal(t, vm.Number(42), inner.RawGet(vm.String("x")))
}

func TestTableCycle(t *testing.T) {
	tbl := vm.NewTable()
	tbl.RawSet(vm.Number(1), vm.Number(1))
	tbl.RawSet(vm.Number(2), vm.Number(2))
	tbl.RawSet(vm.Number(3), vm.Number(3))
	tbl.RawSet(vm.String("me"), tbl)

	got := roundtrip(t, tbl).(*vm.Table)
	for i := 1; i <= 3; i++ {
		assert.Equal(t, vm.Number(i), got.RawGet(vm.Number(float64(i))))
	}
	if got.RawGet(vm.String("me")) != vm.Value(got) {
		t.Error("self reference was not preserved")
	}
}

func TestMetatableRoundtrip(t *testing.T) {
	mt := vm.NewTable()
	mt.RawSet(vm.String("__index"), vm.String("marker"))
	tbl := vm.NewTable()
	tbl.SetMetatable(mt)

	got := roundtrip(t, tbl).(*vm.Table)
	require.NotNil(t, got.Metatable())
	assert.Equal(t, vm.String("marker"), got.Metatable().RawGet(vm.String("__index")))
}

func TestIdentityFolding(t *testing.T) {
	shared := vm.NewTable()
	shared.RawSet(vm.String("tag"), vm.Number(7))
	root := vm.NewTable()
	root.RawSet(vm.Number(1), shared)
	root.RawSet(vm.Number(2), shared)

	got := roundtrip(t, root).(*vm.Table)
	a := got.RawGet(vm.Number(1)).(*vm.Table)
	b := got.RawGet(vm.Number(2)).(*vm.Table)
	if a != b {
		t.Error("identical tables in the input graph were reconstructed as distinct objects")
	}
}

func TestDeterminism(t *testing.T) {
	tbl := vm.NewTable()
	tbl.RawSet(vm.String("a"), vm.Number(1))
	tbl.RawSet(vm.String("b"), vm.Number(2))
	tbl.RawSet(vm.String("c"), tbl)

	b1, err := Persist(nil, tbl)
	require.NoError(t, err)
	b2, err := Persist(nil, tbl)
	require.NoError(t, err)

	if diff := cmp.Diff(b1, b2); diff != "" {
		t.Errorf("persist is not deterministic (-first +second):\n%s", diff)
	}
}

func TestForbiddenTable(t *testing.T) {
	mt := vm.NewTable()
	mt.RawSet(vm.String(DefaultPersistKey), vm.Bool(false))
	bad := vm.NewTable()
	bad.SetMetatable(mt)

	root := vm.NewTable()
	root.RawSet(vm.String("bad"), bad)

	e := Encoder{GeneratePath: true}
	_, err := e.Persist(nil, root)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Contains(t, err.Error(), "(root.bad)")
}

func TestUserdataLiteralNeedsConsent(t *testing.T) {
	ud := vm.NewUserData([]byte{1, 2, 3})
	_, err := Persist(nil, ud)
	assert.ErrorIs(t, err, ErrForbidden)

	mt := vm.NewTable()
	mt.RawSet(vm.String(DefaultPersistKey), vm.Bool(true))
	ud.SetMetatable(mt)

	got := roundtrip(t, ud).(*vm.UserData)
	assert.Equal(t, []byte{1, 2, 3}, got.Data)
	require.NotNil(t, got.Metatable())
}

func TestPermanents(t *testing.T) {
	fn := vm.NewGoClosure(nativeProbe, 0)

	perms := vm.NewTable()
	perms.RawSet(fn, vm.String("K"))

	b, err := Persist(perms, fn)
	require.NoError(t, err)

	// Unpersisting resolves "K" to a different live function.
	fn2 := vm.NewGoClosure(nativeProbe2, 0)
	uperms := vm.NewTable()
	uperms.RawSet(vm.String("K"), fn2)

	v, err := Unpersist(uperms, b)
	require.NoError(t, err)
	if v != vm.Value(fn2) {
		t.Error("permanent was not substituted with the reader-side object")
	}

	// A key resolving to the wrong kind must fail.
	badperms := vm.NewTable()
	badperms.RawSet(vm.String("K"), vm.Number(3))
	_, err = Unpersist(badperms, b)
	assert.ErrorIs(t, err, ErrBadPerm)

	// A missing key must fail too.
	_, err = Unpersist(vm.NewTable(), b)
	assert.ErrorIs(t, err, ErrBadPerm)
}

func TestSharedPermanentKey(t *testing.T) {
	fn := vm.NewGoClosure(nativeProbe, 0)
	perms := vm.NewTable()
	perms.RawSet(fn, vm.String("K"))

	root := vm.NewTable()
	root.RawSet(vm.Number(1), fn)
	root.RawSet(vm.Number(2), fn)

	b, err := Persist(perms, root)
	require.NoError(t, err)

	uperms := vm.NewTable()
	uperms.RawSet(vm.String("K"), vm.NewGoClosure(nativeProbe2, 0))

	v, err := Unpersist(uperms, b)
	require.NoError(t, err)
	got := v.(*vm.Table)
	if got.RawGet(vm.Number(1)) != got.RawGet(vm.Number(2)) {
		t.Error("repeated permanent key resolved to distinct objects")
	}
}

func TestBareNativeFunctionFails(t *testing.T) {
	fn := vm.NewGoClosure(nativeProbe, 0)
	_, err := Persist(nil, fn)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSpecialPersistence(t *testing.T) {
	reconstruct := func(th *vm.Thread, up []vm.Value, args []vm.Value) ([]vm.Value, error) {
		return []vm.Value{up[0]}, nil
	}

	persistCB := func(th *vm.Thread, up []vm.Value, args []vm.Value) ([]vm.Value, error) {
		o := args[0].(*vm.Table)
		snap := vm.NewTable()
		for _, k := range []string{"x", "y", "z"} {
			snap.RawSet(vm.String(k), o.RawGet(vm.String(k)))
		}
		cl := vm.NewGoClosure(reconstruct, 1)
		cl.GoUpvals[0] = snap
		return []vm.Value{cl}, nil
	}

	mt := vm.NewTable()
	mt.RawSet(vm.String(DefaultPersistKey), vm.NewGoClosure(persistCB, 0))

	obj := vm.NewTable()
	obj.RawSet(vm.String("x"), vm.Number(2))
	obj.RawSet(vm.String("y"), vm.Number(1))
	obj.RawSet(vm.String("z"), vm.Number(4))
	obj.SetMetatable(mt)

	reconstructFn := vm.NewGoClosure(reconstruct, 0)
	perms := vm.NewTable()
	perms.RawSet(reconstructFn, vm.String("reconstruct"))

	b, err := Persist(perms, obj)
	require.NoError(t, err)

	uperms := vm.NewTable()
	uperms.RawSet(vm.String("reconstruct"), reconstructFn)

	v, err := Unpersist(uperms, b)
	require.NoError(t, err)

	got := v.(*vm.Table)
	assert.Equal(t, vm.Number(2), got.RawGet(vm.String("x")))
	assert.Equal(t, vm.Number(1), got.RawGet(vm.String("y")))
	assert.Equal(t, vm.Number(4), got.RawGet(vm.String("z")))
	assert.Nil(t, got.Metatable(), "reconstructed table must not inherit the metatable")
}

func TestSpecialPersistenceBadCallback(t *testing.T) {
	cb := func(th *vm.Thread, up []vm.Value, args []vm.Value) ([]vm.Value, error) {
		return []vm.Value{vm.Number(5)}, nil
	}
	mt := vm.NewTable()
	mt.RawSet(vm.String(DefaultPersistKey), vm.NewGoClosure(cb, 0))
	obj := vm.NewTable()
	obj.SetMetatable(mt)

	_, err := Persist(nil, obj)
	assert.ErrorIs(t, err, ErrBadSpecial)
}

func TestSpecialPersistenceBadMetafield(t *testing.T) {
	mt := vm.NewTable()
	mt.RawSet(vm.String(DefaultPersistKey), vm.Number(12))
	obj := vm.NewTable()
	obj.SetMetatable(mt)

	_, err := Persist(nil, obj)
	assert.ErrorIs(t, err, ErrBadSpecial)
}

func TestCustomPersistKey(t *testing.T) {
	mt := vm.NewTable()
	mt.RawSet(vm.String("__freeze"), vm.Bool(false))
	obj := vm.NewTable()
	obj.SetMetatable(mt)

	// Default key ignores the foreign entry and persists literally.
	_, err := Persist(nil, obj)
	require.NoError(t, err)

	e := Encoder{PersistKey: "__freeze"}
	_, err = e.Persist(nil, obj)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestPassIO(t *testing.T) {
	var sawWriter, sawReader bool

	reconstruct := func(th *vm.Thread, up []vm.Value, args []vm.Value) ([]vm.Value, error) {
		if len(args) == 1 {
			if ud, ok := args[0].(*vm.UserData); ok && ud.Opaque != nil {
				sawReader = true
			}
		}
		return []vm.Value{vm.NewTable()}, nil
	}
	reconstructFn := vm.NewGoClosure(reconstruct, 0)

	persistCB := func(th *vm.Thread, up []vm.Value, args []vm.Value) ([]vm.Value, error) {
		if len(args) == 2 {
			if ud, ok := args[1].(*vm.UserData); ok && ud.Opaque != nil {
				sawWriter = true
			}
		}
		return []vm.Value{reconstructFn}, nil
	}

	mt := vm.NewTable()
	mt.RawSet(vm.String(DefaultPersistKey), vm.NewGoClosure(persistCB, 0))
	obj := vm.NewTable()
	obj.SetMetatable(mt)

	perms := vm.NewTable()
	perms.RawSet(reconstructFn, vm.String("R"))

	e := Encoder{PassIO: true}
	b, err := e.Persist(perms, obj)
	require.NoError(t, err)
	assert.True(t, sawWriter, "persist callback did not receive the writer handle")

	uperms := vm.NewTable()
	uperms.RawSet(vm.String("R"), reconstructFn)

	d := Decoder{PassIO: true}
	_, err = d.Unpersist(uperms, b)
	require.NoError(t, err)
	assert.True(t, sawReader, "restore callback did not receive the reader handle")
}

func TestMaxRec(t *testing.T) {
	tbl := vm.NewTable()
	cur := tbl
	for i := 0; i < 64; i++ {
		next := vm.NewTable()
		cur.RawSet(vm.String("next"), next)
		cur = next
	}

	e := Encoder{MaxRec: 16}
	_, err := e.Persist(nil, tbl)
	assert.ErrorIs(t, err, ErrTooDeep)

	b, err := Persist(nil, tbl)
	require.NoError(t, err)

	d := Decoder{MaxRec: 16}
	_, err = d.Unpersist(nil, b)
	assert.ErrorIs(t, err, ErrTooDeep)
}

// roundtrip persists v with a zero-value encoder and unpersists it again.
func roundtrip(t *testing.T, v vm.Value) vm.Value {
	t.Helper()
	b, err := Persist(nil, v)
	require.NoError(t, err)
	got, err := Unpersist(nil, b)
	require.NoError(t, err)
	return got
}

// Distinct native functions used as perms targets in tests.
func nativeProbe(th *vm.Thread, up []vm.Value, args []vm.Value) ([]vm.Value, error) {
	return nil, nil
}

func nativeProbe2(th *vm.Thread, up []vm.Value, args []vm.Value) ([]vm.Value, error) {
	return []vm.Value{vm.Bool(true)}, nil
}
