package eris

import (
	"testing"

	"github.com/fnuecke/eris/vm"
)

func FuzzUnpersist(f *testing.F) {
	seeds := []vm.Value{
		nil,
		vm.Number(370.5),
		vm.String("hello"),
		sampleTable(),
	}
	for _, v := range seeds {
		b, err := Persist(nil, v)
		if err != nil {
			f.Fatal(err)
		}
		f.Add(b)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		v, err := Unpersist(nil, data)
		if err != nil {
			return
		}
		// Whatever decoded cleanly has to survive re-encoding without
		// panicking; errors are fine (e.g. userdata without consent).
		if b, err := Persist(nil, v); err == nil {
			if _, err := Unpersist(nil, b); err != nil {
				t.Errorf("unpersisting re-persisted data: %s", err)
			}
		}
	})
}
