package object

import (
	"fmt"
	"sync"

	"github.com/loomlang/loom/value"
)

// Str is the immutable UTF-8 heap string (spec §3 "String"). Length is
// precomputed at construction, matching barn/types's StrValue caching
// its rune-count alongside the raw bytes.
type Str struct {
	value.Header
	bytes []byte
	runes int
}

func NewStr(h *value.Heap, s string) *Str {
	obj := &Str{bytes: []byte(s), runes: len([]rune(s))}
	h.Allocate(obj)
	return obj
}

func (s *Str) Go() string         { return string(s.bytes) }
func (s *Str) ByteLen() int       { return len(s.bytes) }
func (s *Str) RuneLen() int       { return s.runes }
func (s *Str) Size() int64        { return int64(len(s.bytes)) + 24 }
func (s *Str) TypeName() string   { return "String" }
func (s *Str) Trace(out []value.Value) []value.Value { return out }

// Cmp does a per-byte comparison, per spec §4.3 "Strings ... per-byte
// comparison".
func (s *Str) Cmp(o *Str) int {
	a, b := s.bytes, o.bytes
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Array is a growable ordered sequence of Value carrying its element
// class for static-checker purposes only; the runtime itself never
// checks element kind on store (spec §4.2).
type Array struct {
	value.Header
	mu       sync.RWMutex
	elems    []value.Value
	ElemClass int32
}

func NewArray(h *value.Heap, elemClass int32, initial []value.Value) *Array {
	obj := &Array{ElemClass: elemClass, elems: append([]value.Value(nil), initial...)}
	h.Allocate(obj)
	return obj
}

func (a *Array) TypeName() string { return "Array" }
func (a *Array) Size() int64      { a.mu.RLock(); defer a.mu.RUnlock(); return int64(len(a.elems))*16 + 24 }

func (a *Array) Trace(out []value.Value) []value.Value {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append(out, a.elems...)
}

func (a *Array) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.elems)
}

func (a *Array) Get(i int) (value.Value, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i < 0 || i >= len(a.elems) {
		return value.Value{}, fmt.Errorf("array index %d out of range (len %d)", i, len(a.elems))
	}
	return a.elems[i], nil
}

func (a *Array) Set(i int, v value.Value) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= len(a.elems) {
		return fmt.Errorf("array index %d out of range (len %d)", i, len(a.elems))
	}
	a.elems[i] = v
	return nil
}

func (a *Array) Push(v value.Value) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.elems = append(a.elems, v)
}

func (a *Array) Pop() (value.Value, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.elems)
	if n == 0 {
		return value.Value{}, false
	}
	v := a.elems[n-1]
	a.elems = a.elems[:n-1]
	return v, true
}

func (a *Array) Shift() (value.Value, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.elems) == 0 {
		return value.Value{}, false
	}
	v := a.elems[0]
	a.elems = append(a.elems[:0:0], a.elems[1:]...)
	return v, true
}

func (a *Array) Unshift(v value.Value) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.elems = append([]value.Value{v}, a.elems...)
}

func (a *Array) Reverse() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, j := 0, len(a.elems)-1; i < j; i, j = i+1, j-1 {
		a.elems[i], a.elems[j] = a.elems[j], a.elems[i]
	}
}

// Slice returns a new, independent element slice covering [lo, hi).
func (a *Array) Slice(lo, hi int) ([]value.Value, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if lo < 0 || hi > len(a.elems) || lo > hi {
		return nil, fmt.Errorf("array slice [%d:%d] out of range (len %d)", lo, hi, len(a.elems))
	}
	out := make([]value.Value, hi-lo)
	copy(out, a.elems[lo:hi])
	return out, nil
}

func (a *Array) Concat(o *Array) []value.Value {
	a.mu.RLock()
	o.mu.RLock()
	defer a.mu.RUnlock()
	defer o.mu.RUnlock()
	out := make([]value.Value, 0, len(a.elems)+len(o.elems))
	out = append(out, a.elems...)
	out = append(out, o.elems...)
	return out
}

func (a *Array) Snapshot() []value.Value {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]value.Value, len(a.elems))
	copy(out, a.elems)
	return out
}

// RefCell is the single mutable slot used to model a closure-captured
// local that more than one closure can write through (spec §4.2,
// §9 "Closure captures as shared mutable cells").
type RefCell struct {
	value.Header
	mu  sync.Mutex
	val value.Value
}

func NewRefCell(h *value.Heap, initial value.Value) *RefCell {
	obj := &RefCell{val: initial}
	h.Allocate(obj)
	return obj
}

func (c *RefCell) Get() value.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val
}

func (c *RefCell) Set(v value.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.val = v
}

func (c *RefCell) TypeName() string { return "RefCell" }
func (c *RefCell) Size() int64      { return 24 }
func (c *RefCell) Trace(out []value.Value) []value.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(out, c.val)
}

// TaskHandle is the heap wrapper spawn/await/wait-all opcodes push and
// pop (spec §12 "Handle[T]"): a task id has no dedicated Value kind, so
// it rides the stack the same way any other reference type does.
type TaskHandle struct {
	value.Header
	ID value.TaskID
}

func NewTaskHandle(h *value.Heap, id value.TaskID) *TaskHandle {
	obj := &TaskHandle{ID: id}
	h.Allocate(obj)
	return obj
}

func (h *TaskHandle) TypeName() string                      { return "Task" }
func (h *TaskHandle) Size() int64                            { return 16 }
func (h *TaskHandle) Trace(out []value.Value) []value.Value { return out }
