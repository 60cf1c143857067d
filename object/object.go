package object

import (
	"fmt"
	"sync"

	"github.com/loomlang/loom/value"
)

// Instance is a class instance: a fixed-size vector of Value fields
// whose layout is determined by ClassID (spec §3 "Object"). Field
// offsets are stable for a class; a subclass's own fields sit after
// its parent's, computed once by ClassRegistry.Load.
type Instance struct {
	value.Header
	mu      sync.RWMutex
	ClassID int32
	fields  []value.Value
}

func NewInstance(h *value.Heap, classID int32, fieldCount int) *Instance {
	obj := &Instance{ClassID: classID, fields: make([]value.Value, fieldCount)}
	for i := range obj.fields {
		obj.fields[i] = value.Null
	}
	h.Allocate(obj)
	return obj
}

func (o *Instance) TypeName() string { return "Object" }
func (o *Instance) Size() int64      { return int64(len(o.fields))*16 + 16 }

func (o *Instance) Trace(out []value.Value) []value.Value {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append(out, o.fields...)
}

func (o *Instance) Field(offset int) (value.Value, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if offset < 0 || offset >= len(o.fields) {
		return value.Value{}, fmt.Errorf("object: field offset %d out of range (have %d)", offset, len(o.fields))
	}
	return o.fields[offset], nil
}

func (o *Instance) SetField(offset int, v value.Value) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if offset < 0 || offset >= len(o.fields) {
		return fmt.Errorf("object: field offset %d out of range (have %d)", offset, len(o.fields))
	}
	o.fields[offset] = v
	return nil
}

// Closure pairs a function id with its captured values (spec §3
// "Closure"). Captures are ordinary Values; a mutably-shared capture
// is modeled by the captured Value being a pointer to a RefCell.
type Closure struct {
	value.Header
	FunctionIndex uint32
	captures      []value.Value
}

func NewClosure(h *value.Heap, functionIndex uint32, captures []value.Value) *Closure {
	obj := &Closure{FunctionIndex: functionIndex, captures: append([]value.Value(nil), captures...)}
	h.Allocate(obj)
	return obj
}

func (c *Closure) TypeName() string { return "Closure" }
func (c *Closure) Size() int64      { return int64(len(c.captures))*16 + 16 }
func (c *Closure) Trace(out []value.Value) []value.Value { return append(out, c.captures...) }

func (c *Closure) Capture(idx int) (value.Value, error) {
	if idx < 0 || idx >= len(c.captures) {
		return value.Value{}, fmt.Errorf("closure: capture index %d out of range (have %d)", idx, len(c.captures))
	}
	return c.captures[idx], nil
}

// StoreCapture overwrites capture idx directly. Only meaningful when
// the capture itself isn't behind a RefCell (the common case is that
// mutation goes through RefCell.Set instead); provided for completeness
// of the opcode contract in spec §4.3 "store capture by index".
func (c *Closure) StoreCapture(idx int, v value.Value) error {
	if idx < 0 || idx >= len(c.captures) {
		return fmt.Errorf("closure: capture index %d out of range (have %d)", idx, len(c.captures))
	}
	c.captures[idx] = v
	return nil
}
