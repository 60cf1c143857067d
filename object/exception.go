package object

import "github.com/loomlang/loom/value"

// Exception is the heap form of a raised error (spec §7): a code, a
// message, an optional user payload (for `raise`/`throw` of arbitrary
// values), and the stack trace captured at throw time. Modeled on the
// teacher's 4-element {code, message, value, traceback} exception list
// built in vm.HandleError, given a proper heap-object shape here
// instead of an ad hoc list so field access is O(1) and typed.
type Exception struct {
	value.Header
	Code    value.ErrorCode
	Message value.Value // *Str, or Null if not set
	Payload value.Value // the raw thrown value, Null for core-synthesized errors
	Stack   value.Value // *Str, or Null if not yet captured
}

func NewException(h *value.Heap, code value.ErrorCode, message value.Value, payload value.Value) *Exception {
	obj := &Exception{Code: code, Message: message, Payload: payload, Stack: value.Null}
	h.Allocate(obj)
	return obj
}

func (e *Exception) TypeName() string { return "Exception" }
func (e *Exception) Size() int64      { return 48 }
func (e *Exception) Trace(out []value.Value) []value.Value {
	return append(out, e.Message, e.Payload, e.Stack)
}
