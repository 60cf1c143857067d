package interp

import (
	"fmt"

	"github.com/loomlang/loom/bytecode"
	"github.com/loomlang/loom/object"
	"github.com/loomlang/loom/task"
	"github.com/loomlang/loom/value"
)

// execCallsObjects handles calls, object/array allocation and field
// access, closures, native dispatch, and the instanceof/cast type ops
// (spec §4.3 "Calls"/"Objects-arrays"/"Closures"/"Reflection-native"/
// "Type ops"). Grounded on barn/vm.go's executeCallVerb (frame-push
// convention, saved-context-on-call idiom) generalized from MOO's
// single verb-dispatch shape to this spec's five call kinds.
func (in *Interpreter) execCallsObjects(t *task.Task, frame *task.Frame, r *bytecode.Reader, op bytecode.OpCode) (ret *value.Value, reason *Reason, err error, handled bool) {
	switch op {
	case bytecode.OpCall:
		funcIdx := r.ReadU32()
		argc := r.ReadU8()
		frame.IP = r.IP
		args, e := frame.PopN(int(argc))
		if e != nil {
			return nil, nil, e, true
		}
		e = in.pushFunctionFrame(t, funcIdx, args, value.Null, value.Null, false, value.Value{})
		return nil, nil, e, true

	case bytecode.OpCallClosure:
		argc := r.ReadU8()
		frame.IP = r.IP
		args, e := frame.PopN(int(argc))
		if e != nil {
			return nil, nil, e, true
		}
		closureVal, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		closure, ok := value.AsPointerOf[*object.Closure](closureVal)
		if !ok {
			return nil, nil, fmt.Errorf("interp: call.closure on non-closure value"), true
		}
		e = in.pushFunctionFrame(t, closure.FunctionIndex, args, closureVal, value.Null, false, value.Value{})
		return nil, nil, e, true

	case bytecode.OpCallNew:
		classIdx := r.ReadU32()
		argc := r.ReadU8()
		frame.IP = r.IP
		args, e := frame.PopN(int(argc))
		if e != nil {
			return nil, nil, e, true
		}
		entry, ok := in.Classes.Get(int32(classIdx))
		if !ok {
			return nil, nil, fmt.Errorf("interp: new.object on unresolved class %d", classIdx), true
		}
		inst := object.NewInstance(in.Heap, int32(classIdx), entry.FieldCount)
		this := value.Pointer(inst)
		if entry.ConstructorIdx < 0 {
			frame.Push(this)
			return nil, nil, nil, true
		}
		ctorArgs := append([]value.Value{this}, args...)
		e = in.pushFunctionFrame(t, uint32(entry.ConstructorIdx), ctorArgs, value.Null, this, true, this)
		return nil, nil, e, true

	case bytecode.OpCallSuper:
		funcIdx := r.ReadU32()
		argc := r.ReadU8()
		frame.IP = r.IP
		args, e := frame.PopN(int(argc))
		if e != nil {
			return nil, nil, e, true
		}
		callArgs := append([]value.Value{frame.This}, args...)
		e = in.pushFunctionFrame(t, funcIdx, callArgs, value.Null, frame.This, false, value.Value{})
		return nil, nil, e, true

	case bytecode.OpCallVirtual:
		methodIdx := r.ReadU16()
		argc := r.ReadU8()
		frame.IP = r.IP
		args, e := frame.PopN(int(argc))
		if e != nil {
			return nil, nil, e, true
		}
		recvVal, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		recv, ok := value.AsPointerOf[*object.Instance](recvVal)
		if !ok {
			return nil, nil, fmt.Errorf("interp: call.virtual on non-object receiver"), true
		}
		entry, ok := in.Classes.Get(recv.ClassID)
		if !ok || int(methodIdx) >= len(entry.Vtable) {
			return nil, nil, fmt.Errorf("interp: call.virtual method index %d unresolved for class %d", methodIdx, recv.ClassID), true
		}
		target := entry.Vtable[methodIdx]
		if target < 0 {
			return nil, nil, fmt.Errorf("interp: call.virtual method index %d has no implementation", methodIdx), true
		}
		callArgs := append([]value.Value{recvVal}, args...)
		e = in.pushFunctionFrame(t, uint32(target), callArgs, value.Null, recvVal, false, value.Value{})
		return nil, nil, e, true

	// --- Objects / arrays ---
	case bytecode.OpNewObject:
		classIdx := r.ReadU32()
		frame.IP = r.IP
		entry, ok := in.Classes.Get(int32(classIdx))
		if !ok {
			return nil, nil, fmt.Errorf("interp: new.object on unresolved class %d", classIdx), true
		}
		inst := object.NewInstance(in.Heap, int32(classIdx), entry.FieldCount)
		frame.Push(value.Pointer(inst))
		return nil, nil, nil, true

	case bytecode.OpLoadField, bytecode.OpLoadFieldOpt:
		off := r.ReadU16()
		frame.IP = r.IP
		recvVal, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		if recvVal.IsNull() && op == bytecode.OpLoadFieldOpt {
			frame.Push(value.Null)
			return nil, nil, nil, true
		}
		inst, ok := value.AsPointerOf[*object.Instance](recvVal)
		if !ok {
			return nil, nil, fmt.Errorf("interp: load.field on non-object value"), true
		}
		v, e := inst.Field(int(off))
		if e != nil {
			return nil, nil, e, true
		}
		frame.Push(v)
		return nil, nil, nil, true

	case bytecode.OpStoreField:
		off := r.ReadU16()
		frame.IP = r.IP
		v, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		recvVal, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		inst, ok := value.AsPointerOf[*object.Instance](recvVal)
		if !ok {
			return nil, nil, fmt.Errorf("interp: store.field on non-object value"), true
		}
		return nil, nil, inst.SetField(int(off), v), true

	case bytecode.OpNewArray:
		n := r.ReadU32()
		frame.IP = r.IP
		elems, e := frame.PopN(int(n))
		if e != nil {
			return nil, nil, e, true
		}
		arr := object.NewArray(in.Heap, -1, elems)
		frame.Push(value.Pointer(arr))
		return nil, nil, nil, true

	case bytecode.OpArrayLen:
		frame.IP = r.IP
		v, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		arr, ok := value.AsPointerOf[*object.Array](v)
		if !ok {
			return nil, nil, fmt.Errorf("interp: array.len on non-array value"), true
		}
		frame.Push(value.I32(int32(arr.Len())))
		return nil, nil, nil, true

	case bytecode.OpArrayLoad:
		frame.IP = r.IP
		idxVal, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		arrVal, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		arr, ok := value.AsPointerOf[*object.Array](arrVal)
		if !ok {
			return nil, nil, fmt.Errorf("interp: array.load on non-array value"), true
		}
		idx, ok := idxVal.AsI32()
		if !ok {
			return nil, nil, fmt.Errorf("interp: array.load index must be i32"), true
		}
		v, e := arr.Get(int(idx))
		if e != nil {
			return nil, nil, e, true
		}
		frame.Push(v)
		return nil, nil, nil, true

	case bytecode.OpArrayStore:
		frame.IP = r.IP
		v, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		idxVal, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		arrVal, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		arr, ok := value.AsPointerOf[*object.Array](arrVal)
		if !ok {
			return nil, nil, fmt.Errorf("interp: array.store on non-array value"), true
		}
		idx, ok := idxVal.AsI32()
		if !ok {
			return nil, nil, fmt.Errorf("interp: array.store index must be i32"), true
		}
		return nil, nil, arr.Set(int(idx), v), true

	// --- Closures ---
	case bytecode.OpMakeClosure:
		funcIdx := r.ReadU32()
		captureCount := r.ReadU8()
		frame.IP = r.IP
		captures, e := frame.PopN(int(captureCount))
		if e != nil {
			return nil, nil, e, true
		}
		cl := object.NewClosure(in.Heap, funcIdx, captures)
		frame.Push(value.Pointer(cl))
		return nil, nil, nil, true

	case bytecode.OpLoadCapture:
		idx := r.ReadU16()
		frame.IP = r.IP
		cl, ok := value.AsPointerOf[*object.Closure](frame.Closure)
		if !ok {
			return nil, nil, fmt.Errorf("interp: load.capture outside a closure call"), true
		}
		v, e := cl.Capture(int(idx))
		if e != nil {
			return nil, nil, e, true
		}
		frame.Push(v)
		return nil, nil, nil, true

	case bytecode.OpStoreCapture:
		idx := r.ReadU16()
		frame.IP = r.IP
		v, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		cl, ok := value.AsPointerOf[*object.Closure](frame.Closure)
		if !ok {
			return nil, nil, fmt.Errorf("interp: store.capture outside a closure call"), true
		}
		return nil, nil, cl.StoreCapture(int(idx), v), true

	// --- Reflection / native ---
	case bytecode.OpNativeCall:
		id := r.ReadU16()
		argc := r.ReadU8()
		frame.IP = r.IP
		args, e := frame.PopN(int(argc))
		if e != nil {
			return nil, nil, e, true
		}
		if in.Native == nil {
			return nil, nil, fmt.Errorf("interp: native call %d with no native registry wired", id), true
		}
		v, e := in.Native.Call(in, id, args)
		if e != nil {
			return nil, nil, e, true
		}
		frame.Push(v)
		return nil, nil, nil, true

	// --- Type ops ---
	case bytecode.OpInstanceOf:
		classIdx := r.ReadU32()
		frame.IP = r.IP
		v, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		frame.Push(value.Bool(in.isInstanceOf(v, int32(classIdx))))
		return nil, nil, nil, true

	case bytecode.OpCast:
		classIdx := r.ReadU32()
		frame.IP = r.IP
		v, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		if v.IsNull() {
			frame.Push(v)
			return nil, nil, nil, true
		}
		if !in.isInstanceOf(v, int32(classIdx)) {
			return nil, nil, fmt.Errorf("interp: cast failed: value is not an instance of class %d", classIdx), true
		}
		frame.Push(v)
		return nil, nil, nil, true
	}

	return nil, nil, nil, false
}

func (in *Interpreter) isInstanceOf(v value.Value, classID int32) bool {
	inst, ok := value.AsPointerOf[*object.Instance](v)
	if !ok {
		return false
	}
	return in.Classes.InstanceOf(inst.ClassID, classID)
}

// pushFunctionFrame resolves funcIdx against t.Module and pushes a new
// Frame with args copied into locals 0..len(args), the given closure/
// this context attached (spec §4.3 "Nested calls ... fresh per-call
// value stack").
func (in *Interpreter) pushFunctionFrame(t *task.Task, funcIdx uint32, args []value.Value, closure, this value.Value, hasOverride bool, override value.Value) error {
	fn, err := t.Module.Function(funcIdx)
	if err != nil {
		return err
	}
	nf := task.NewFrame(funcIdx, fn.Code, fn.LocalCount)
	for i, a := range args {
		if i >= len(nf.Locals) {
			break
		}
		nf.Locals[i] = a
	}
	nf.Closure = closure
	nf.This = this
	nf.HasReturnOverride = hasOverride
	nf.ReturnOverride = override
	t.PushFrame(nf)
	return nil
}
