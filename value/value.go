// Package value implements the runtime's tagged value representation and
// the heap that backs every reference type a program can allocate.
//
// Grounded on barn/types/base.go (the Value contract: type predicates,
// truthiness, structural vs reference equality) and the one-word/O(1)
// contract of spec.md §4.1. Go has no portable NaN-boxing story that
// survives a moving GC, so Value is a small fixed-size struct instead of
// a single machine word — see DESIGN.md "One-word Value contract".
package value

import (
	"fmt"
	"math"
)

// Kind identifies which of the six Value cases a Value holds.
type Kind byte

const (
	KindNull Kind = iota
	KindBool
	KindI32
	KindI64
	KindF64
	KindPointer
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF64:
		return "f64"
	case KindPointer:
		return "pointer"
	default:
		return "unknown"
	}
}

// HeapObject is implemented by every reference type allocated on the
// Heap (String, Array, Object, Closure, RefCell, Channel, and the
// specialized containers in package object). The allocator only needs
// enough of each object to trace it for GC; everything else is opaque
// here — that's the object package's job.
type HeapObject interface {
	// HeapHeader returns the allocation header written by Heap.Allocate;
	// embedding Header provides it.
	HeapHeader() *Header
	// Trace appends every Value directly reachable from this object
	// (array elements, object fields, closure captures, ...) to out
	// and returns the extended slice. Used by the mark phase.
	Trace(out []Value) []Value
	// TypeName names the concrete kind, for debugging/traces.
	TypeName() string
}

// Value is exactly one of: null, bool, i32, i64, f64, or a heap pointer.
// Construction, predicates and equality are all O(1) and branch only on
// Kind, matching the contract even though the struct is wider than one
// machine word.
type Value struct {
	kind Kind
	bits uint64
	ptr  HeapObject
}

// Null is the singleton null value.
var Null = Value{kind: KindNull}

func Bool(b bool) Value {
	var bits uint64
	if b {
		bits = 1
	}
	return Value{kind: KindBool, bits: bits}
}

func I32(v int32) Value { return Value{kind: KindI32, bits: uint64(uint32(v))} }
func I64(v int64) Value { return Value{kind: KindI64, bits: uint64(v)} }
func F64(v float64) Value { return Value{kind: KindF64, bits: math.Float64bits(v)} }

// Pointer wraps a heap object reference. obj must not be nil.
func Pointer(obj HeapObject) Value {
	if obj == nil {
		panic("value: Pointer called with nil HeapObject")
	}
	return Value{kind: KindPointer, ptr: obj}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) IsBool() bool { return v.kind == KindBool }
func (v Value) IsI32() bool { return v.kind == KindI32 }
func (v Value) IsI64() bool { return v.kind == KindI64 }
func (v Value) IsF64() bool { return v.kind == KindF64 }
func (v Value) IsPointer() bool { return v.kind == KindPointer }

// AsBool extracts a bool, ok=false if this value isn't one.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.bits != 0, true
}

func (v Value) AsI32() (int32, bool) {
	if v.kind != KindI32 {
		return 0, false
	}
	return int32(uint32(v.bits)), true
}

func (v Value) AsI64() (int64, bool) {
	if v.kind != KindI64 {
		return 0, false
	}
	return int64(v.bits), true
}

func (v Value) AsF64() (float64, bool) {
	if v.kind != KindF64 {
		return 0, false
	}
	return math.Float64frombits(v.bits), true
}

// AsPointerOf attempts to narrow a KindPointer value to a concrete
// HeapObject implementation T, mirroring the spec's as_pointer_of<T>.
func AsPointerOf[T HeapObject](v Value) (T, bool) {
	var zero T
	if v.kind != KindPointer {
		return zero, false
	}
	t, ok := v.ptr.(T)
	return t, ok
}

// AsPointer returns the raw heap object, or nil if v is not a pointer.
func (v Value) AsPointer() HeapObject {
	if v.kind != KindPointer {
		return nil
	}
	return v.ptr
}

// Truthy implements the spec's observed truthiness rule: null and false
// are falsy, every other value (including 0, 0.0, and pointers to empty
// containers) is truthy. See DESIGN.md open question #1.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.bits != 0
	default:
		return true
	}
}

// Equal implements structural equality for primitives and reference
// equality for pointers, per spec §4.1.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		// Cross-kind numeric equality is deliberately NOT implicit here;
		// the bytecode's comparison opcodes partition by kind (spec §4.3
		// "Equality comparisons follow value-kind partitioning").
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool, KindI32, KindI64:
		return v.bits == o.bits
	case KindF64:
		a, _ := v.AsF64()
		b, _ := o.AsF64()
		return a == b
	case KindPointer:
		return v.ptr == o.ptr
	default:
		return false
	}
}

// String renders a debug form; package interp (tostring.go) provides the full
// generic to-string conversion rule used by the interpreter's STRINGS
// opcode family (integer-valued floats, etc.) since that rule needs
// access to concrete container types this package doesn't know about.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		b, _ := v.AsBool()
		return fmt.Sprintf("%t", b)
	case KindI32:
		i, _ := v.AsI32()
		return fmt.Sprintf("%d", i)
	case KindI64:
		i, _ := v.AsI64()
		return fmt.Sprintf("%d", i)
	case KindF64:
		f, _ := v.AsF64()
		return fmt.Sprintf("%g", f)
	case KindPointer:
		return v.ptr.TypeName() + "(...)"
	default:
		return "<invalid>"
	}
}
