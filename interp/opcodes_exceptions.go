package interp

import (
	"github.com/loomlang/loom/bytecode"
	"github.com/loomlang/loom/task"
	"github.com/loomlang/loom/value"
)

// execExceptions handles try/end-try/throw/rethrow (spec §4.3
// "Exceptions"). Grounded on barn/vm.go's Handler push/pop around
// OP_TRY/OP_ENDTRY, generalized to record a stack-depth and
// held-mutex-count snapshot per spec's richer unwind contract (the
// teacher only snapshots SP, since MOO has no user-level mutexes).
func (in *Interpreter) execExceptions(t *task.Task, frame *task.Frame, r *bytecode.Reader, op bytecode.OpCode) (ret *value.Value, reason *Reason, err error, handled bool) {
	switch op {
	case bytecode.OpTry:
		catchOffset := r.ReadU16()
		finallyOffset := r.ReadU16()
		frame.IP = r.IP
		frame.PushHandler(task.HandlerRecord{
			CatchOffset:   catchOffset,
			FinallyOffset: finallyOffset,
			StackDepth:    len(frame.Operands),
			MutexCount:    t.HeldMutexCount(),
		})
		return nil, nil, nil, true

	case bytecode.OpEndTry:
		frame.IP = r.IP
		// A pending exception here means this end-try is the shared
		// exit of a finally block that unwind() jumped to directly —
		// unwind already popped the matching handler, so falling out
		// of the finally re-raises instead of popping again (spec
		// §4.3 "falling out of the finally re-raises").
		if pending, ok := t.Pending(); ok {
			return nil, nil, excError{val: pending}, true
		}
		frame.PopHandler()
		return nil, nil, nil, true

	case bytecode.OpThrow:
		frame.IP = r.IP
		v, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		return nil, nil, excError{val: v}, true

	case bytecode.OpRethrow:
		frame.IP = r.IP
		v := t.Caught()
		return nil, nil, excError{val: v}, true
	}

	return nil, nil, nil, false
}
