package interp

import (
	"fmt"

	"github.com/loomlang/loom/bytecode"
	"github.com/loomlang/loom/object"
	"github.com/loomlang/loom/task"
	"github.com/loomlang/loom/value"
)

// execBasic dispatches every opcode that is neither a jump nor a
// concurrency opcode (those have their own exec* functions). Grounded
// on barn/vm/vm.go's Step + barn/vm/operations.go's per-opcode
// executeXxx methods, one switch arm per family instead of one
// function per opcode since this runtime has far fewer MOO-specific
// special cases to carve out.
func (in *Interpreter) execBasic(t *task.Task, frame *task.Frame, r *bytecode.Reader, op bytecode.OpCode) (*value.Value, *Reason, error) {
	in.Heap.SafepointPoll()

	switch op {
	// --- Stack ---
	case bytecode.OpPop:
		frame.IP = r.IP
		_, err := frame.Pop()
		return nil, nil, err
	case bytecode.OpDup:
		frame.IP = r.IP
		v, err := frame.Peek()
		if err != nil {
			return nil, nil, err
		}
		frame.Push(v)
		return nil, nil, nil
	case bytecode.OpSwap:
		frame.IP = r.IP
		vs, err := frame.PopN(2)
		if err != nil {
			return nil, nil, err
		}
		frame.Push(vs[1])
		frame.Push(vs[0])
		return nil, nil, nil

	// --- Constants ---
	case bytecode.OpPushNull:
		frame.IP = r.IP
		frame.Push(value.Null)
		return nil, nil, nil
	case bytecode.OpPushTrue:
		frame.IP = r.IP
		frame.Push(value.Bool(true))
		return nil, nil, nil
	case bytecode.OpPushFalse:
		frame.IP = r.IP
		frame.Push(value.Bool(false))
		return nil, nil, nil
	case bytecode.OpPushI32:
		n := r.ReadI32()
		frame.IP = r.IP
		frame.Push(value.I32(n))
		return nil, nil, nil
	case bytecode.OpPushF64:
		f := r.ReadF64()
		frame.IP = r.IP
		frame.Push(value.F64(f))
		return nil, nil, nil
	case bytecode.OpPushStr:
		idx := r.ReadU16()
		frame.IP = r.IP
		s, err := t.Module.Constants.String(idx)
		if err != nil {
			return nil, nil, err
		}
		frame.Push(value.Pointer(object.NewStr(in.Heap, s)))
		return nil, nil, nil

	// --- Locals ---
	case bytecode.OpLoadLocal:
		idx := r.ReadU16()
		frame.IP = r.IP
		v, err := loadLocal(frame, int(idx))
		if err != nil {
			return nil, nil, err
		}
		frame.Push(v)
		return nil, nil, nil
	case bytecode.OpStoreLocal:
		idx := r.ReadU16()
		frame.IP = r.IP
		v, err := frame.Pop()
		if err != nil {
			return nil, nil, err
		}
		return nil, nil, storeLocal(frame, int(idx), v)
	case bytecode.OpLoadLocal0, bytecode.OpLoadLocal1:
		idx := 0
		if op == bytecode.OpLoadLocal1 {
			idx = 1
		}
		frame.IP = r.IP
		v, err := loadLocal(frame, idx)
		if err != nil {
			return nil, nil, err
		}
		frame.Push(v)
		return nil, nil, nil
	case bytecode.OpStoreLocal0, bytecode.OpStoreLocal1:
		idx := 0
		if op == bytecode.OpStoreLocal1 {
			idx = 1
		}
		frame.IP = r.IP
		v, err := frame.Pop()
		if err != nil {
			return nil, nil, err
		}
		return nil, nil, storeLocal(frame, idx, v)

	// --- Globals ---
	case bytecode.OpLoadGlobal:
		idx := r.ReadU32()
		frame.IP = r.IP
		frame.Push(in.Globals.Load(idx))
		return nil, nil, nil
	case bytecode.OpStoreGlobal:
		idx := r.ReadU32()
		frame.IP = r.IP
		v, err := frame.Pop()
		if err != nil {
			return nil, nil, err
		}
		in.Globals.Store(idx, v)
		return nil, nil, nil

	// --- Control flow (non-jump) ---
	case bytecode.OpReturn:
		frame.IP = r.IP
		v, err := frame.Pop()
		if err != nil {
			return nil, nil, err
		}
		return &v, nil, nil
	case bytecode.OpReturnVoid:
		frame.IP = r.IP
		v := value.Null
		return &v, nil, nil
	}

	// Arithmetic / comparisons / strings / exceptions / calls /
	// objects / closures / native / type-ops each get their own
	// dispatcher to keep this switch from growing unreadable.
	if ret, reason, err, handled := in.execArithCmpStr(t, frame, r, op); handled {
		return ret, reason, err
	}
	if ret, reason, err, handled := in.execExceptions(t, frame, r, op); handled {
		return ret, reason, err
	}
	if ret, reason, err, handled := in.execCallsObjects(t, frame, r, op); handled {
		return ret, reason, err
	}
	if ret, reason, err, handled := in.execChanNonBlocking(t, frame, r, op); handled {
		return ret, reason, err
	}

	frame.IP = r.IP
	return nil, nil, fmt.Errorf("interp: unimplemented opcode %s", op)
}

func loadLocal(frame *task.Frame, idx int) (value.Value, error) {
	if idx < 0 || idx >= len(frame.Locals) {
		return value.Value{}, fmt.Errorf("interp: local index %d out of range (have %d)", idx, len(frame.Locals))
	}
	return frame.Locals[idx], nil
}

func storeLocal(frame *task.Frame, idx int, v value.Value) error {
	if idx < 0 || idx >= len(frame.Locals) {
		return fmt.Errorf("interp: local index %d out of range (have %d)", idx, len(frame.Locals))
	}
	frame.Locals[idx] = v
	return nil
}
