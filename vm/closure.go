package vm

import "errors"

// GoFunc is a native function. Upvalues of the enclosing Go closure are
// passed in up; they are always closed values.
type GoFunc func(th *Thread, up []Value, args []Value) ([]Value, error)

// ErrNotCallable is returned when attempting to call an interpreted closure;
// this model carries bytecode as data and has no interpreter.
var ErrNotCallable = errors.New("vm: interpreted closures are not callable")

// Closure is a function value. It is either a Go closure (Fn set, upvalues
// stored by value in GoUpvals) or an interpreted closure (Proto set,
// upvalues held as shared Upvalue slots).
type Closure struct {
	Fn       GoFunc
	GoUpvals []Value

	Proto  *Proto
	Upvals []*Upvalue
}

// NewGoClosure builds a Go closure with n upvalue slots.
func NewGoClosure(fn GoFunc, n int) *Closure {
	return &Closure{Fn: fn, GoUpvals: make([]Value, n)}
}

// NewClosure builds an interpreted closure shell with n unbound upvalue
// slots; the prototype is attached by the loader.
func NewClosure(n int) *Closure {
	return &Closure{Upvals: make([]*Upvalue, n)}
}

func (*Closure) Kind() Kind { return KindFunction }

// IsGo reports whether the closure wraps a native function.
func (c *Closure) IsGo() bool { return c.Fn != nil }

// FnID returns the identity of the underlying native function. Closures over
// the same Go function report the same id; zero for interpreted closures.
func (c *Closure) FnID() uintptr { return funcID(c.Fn) }

// NumUpvals returns the number of upvalue slots.
func (c *Closure) NumUpvals() int {
	if c.IsGo() {
		return len(c.GoUpvals)
	}
	return len(c.Upvals)
}

// Call invokes a Go closure. Interpreted closures yield ErrNotCallable.
func (c *Closure) Call(th *Thread, args ...Value) ([]Value, error) {
	if !c.IsGo() {
		return nil, ErrNotCallable
	}
	return c.Fn(th, c.GoUpvals, args)
}
