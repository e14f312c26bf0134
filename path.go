package eris

import (
	"fmt"
	"strings"

	"github.com/fnuecke/eris/vm"
)

// trace accumulates a human readable position in the object graph for error
// messages. All methods are no-ops unless enabled.
type trace struct {
	enabled  bool
	segments []string
}

func (t *trace) push(format string, args ...interface{}) {
	if !t.enabled {
		return
	}
	t.segments = append(t.segments, fmt.Sprintf(format, args...))
}

// pushKey formats a table key segment: dotted for string keys, bracketed
// otherwise.
func (t *trace) pushKey(k vm.Value) {
	if !t.enabled {
		return
	}
	if s, ok := k.(vm.String); ok {
		t.push(".%s", string(s))
	} else {
		t.push("[%v]", k)
	}
}

func (t *trace) pop() {
	if !t.enabled {
		return
	}
	t.segments = t.segments[:len(t.segments)-1]
}

func (t *trace) String() string {
	return strings.Join(t.segments, "")
}

// attach wraps err with the current path when tracing is enabled.
func (t *trace) attach(err error) error {
	if !t.enabled || err == nil {
		return err
	}
	return pathError{err: err, path: t.String()}
}
