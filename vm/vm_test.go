package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableInsertionOrder(t *testing.T) {
	tbl := NewTable()
	tbl.RawSet(String("c"), Number(3))
	tbl.RawSet(String("a"), Number(1))
	tbl.RawSet(String("b"), Number(2))

	var keys []Value
	err := tbl.ForEach(func(k, v Value) error {
		keys = append(keys, k)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []Value{String("c"), String("a"), String("b")}, keys)
}

func TestTableDelete(t *testing.T) {
	tbl := NewTable()
	tbl.RawSet(String("a"), Number(1))
	tbl.RawSet(String("b"), Number(2))
	tbl.RawSet(String("a"), nil)

	assert.Nil(t, tbl.RawGet(String("a")))
	assert.Equal(t, 1, tbl.Size())

	var keys []Value
	tbl.ForEach(func(k, v Value) error {
		keys = append(keys, k)
		return nil
	})
	assert.Equal(t, []Value{String("b")}, keys)
}

func TestTableNilKeyPanics(t *testing.T) {
	tbl := NewTable()
	assert.Panics(t, func() { tbl.RawSet(nil, Number(1)) })
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNil, KindOf(nil))
	assert.Equal(t, KindBoolean, KindOf(Bool(true)))
	assert.Equal(t, KindNumber, KindOf(Number(1)))
	assert.Equal(t, KindString, KindOf(String("")))
	assert.Equal(t, KindTable, KindOf(NewTable()))
	assert.Equal(t, KindFunction, KindOf(NewClosure(0)))
	assert.Equal(t, KindUserData, KindOf(NewUserData(nil)))
	assert.Equal(t, KindThread, KindOf(NewThread()))
	assert.Equal(t, "thread", TypeName(KindThread))
}

func TestClosedUpvalue(t *testing.T) {
	uv := NewUpvalue(Number(1))
	assert.False(t, uv.IsOpen())
	assert.Equal(t, Number(1), uv.Get())

	uv.Set(Number(2))
	assert.Equal(t, Number(2), uv.Get())
}

func TestOpenUpvalue(t *testing.T) {
	th := NewThread()
	th.Stack[3] = Number(7)
	th.Top = 4

	uv := th.FindUpval(3)
	require.True(t, uv.IsOpen())
	assert.Equal(t, Number(7), uv.Get())

	// Writes go through to the stack while open.
	uv.Set(Number(8))
	assert.Equal(t, Number(8), th.Stack[3])

	uv.Close()
	assert.False(t, uv.IsOpen())
	assert.Equal(t, Number(8), uv.Get())

	// After closing, the stack and the upvalue are independent.
	th.Stack[3] = Number(9)
	assert.Equal(t, Number(8), uv.Get())
}

func TestFindUpvalIdentity(t *testing.T) {
	th := NewThread()
	a := th.FindUpval(2)
	b := th.FindUpval(2)
	c := th.FindUpval(5)

	if a != b {
		t.Error("FindUpval created a second upvalue for the same slot")
	}
	if a == c {
		t.Error("FindUpval merged distinct slots")
	}

	// List is ordered by descending stack level.
	require.Len(t, th.OpenUpvals, 2)
	assert.Equal(t, 5, th.OpenUpvals[0].Index())
	assert.Equal(t, 2, th.OpenUpvals[1].Index())
}

func TestCloseUpvals(t *testing.T) {
	th := NewThread()
	th.Stack[1] = Number(1)
	th.Stack[4] = Number(4)
	low := th.FindUpval(1)
	high := th.FindUpval(4)

	th.CloseUpvals(3)
	assert.False(t, high.IsOpen())
	assert.True(t, low.IsOpen())
	assert.Equal(t, Number(4), high.Get())
	require.Len(t, th.OpenUpvals, 1)
}

func TestThreadFrames(t *testing.T) {
	th := NewThread()
	require.Len(t, th.Frames, 1)

	f := th.PushFrame()
	f.FuncPos = 1
	assert.Equal(t, 1, th.CurrentFrame().FuncPos)
}

func TestResizeStackKeepsContents(t *testing.T) {
	th := NewThread()
	th.Stack[0] = String("keep")
	th.ResizeStack(100)
	assert.Equal(t, 100, th.StackSize())
	assert.Equal(t, String("keep"), th.Stack[0])
}

func TestGoClosureCall(t *testing.T) {
	add := func(th *Thread, up []Value, args []Value) ([]Value, error) {
		base := up[0].(Number)
		return []Value{base + args[0].(Number)}, nil
	}
	cl := NewGoClosure(add, 1)
	cl.GoUpvals[0] = Number(10)

	res, err := cl.Call(nil, Number(5))
	require.NoError(t, err)
	assert.Equal(t, []Value{Number(15)}, res)

	_, err = NewClosure(0).Call(nil)
	assert.ErrorIs(t, err, ErrNotCallable)
}

func TestFnID(t *testing.T) {
	fn := func(th *Thread, up []Value, args []Value) ([]Value, error) { return nil, nil }
	a := NewGoClosure(fn, 0)
	b := NewGoClosure(fn, 2)
	assert.Equal(t, a.FnID(), b.FnID())
	assert.NotZero(t, a.FnID())
	assert.Zero(t, NewClosure(0).FnID())
}
