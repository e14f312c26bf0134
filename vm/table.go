package vm

// Table is the VM's associative container. Keys iterate in insertion order,
// which keeps traversal stable across runs; the host runtime guarantees no
// particular order, only a fixed one per table instance.
type Table struct {
	keys []Value
	hash map[Value]Value
	meta *Table
}

// NewTable allocates an empty table.
func NewTable() *Table {
	return &Table{hash: make(map[Value]Value)}
}

func (*Table) Kind() Kind { return KindTable }

// RawGet fetches the value stored under k without consulting metamethods.
// Returns nil if the key is absent.
func (t *Table) RawGet(k Value) Value {
	if k == nil {
		return nil
	}
	return t.hash[k]
}

// RawSet stores v under k without consulting metamethods. Setting nil
// removes the key. A nil key panics, as in the host runtime.
func (t *Table) RawSet(k, v Value) {
	if k == nil {
		panic("table index is nil")
	}
	_, exists := t.hash[k]
	if v == nil {
		if exists {
			delete(t.hash, k)
			for i, key := range t.keys {
				if key == k {
					t.keys = append(t.keys[:i], t.keys[i+1:]...)
					break
				}
			}
		}
		return
	}
	if !exists {
		t.keys = append(t.keys, k)
	}
	t.hash[k] = v
}

// Size returns the number of stored pairs.
func (t *Table) Size() int { return len(t.hash) }

// ForEach visits all pairs in iteration order. Returning an error from f
// stops the walk and propagates the error.
func (t *Table) ForEach(f func(k, v Value) error) error {
	// Snapshot the key list so mutation from f cannot derail the walk.
	keys := make([]Value, len(t.keys))
	copy(keys, t.keys)
	for _, k := range keys {
		v, ok := t.hash[k]
		if !ok {
			continue
		}
		if err := f(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Metatable returns the table's metatable, or nil.
func (t *Table) Metatable() *Table { return t.meta }

// SetMetatable replaces the table's metatable.
func (t *Table) SetMetatable(mt *Table) { t.meta = mt }
