package interp

import (
	"github.com/loomlang/loom/object"
	"github.com/loomlang/loom/task"
	"github.com/loomlang/loom/value"
)

// synthesizeException builds the Exception heap object for a Go error
// surfaced by an opcode handler, choosing ErrorCode the way
// barn/vm.go's HandleError does (typed error first, generic fallback).
func (in *Interpreter) synthesizeException(t *task.Task, err error) value.Value {
	code := value.ErrRuntime
	switch err.(type) {
	case arithRuntimeError:
		code = value.ErrArithmetic
	case chanClosedError:
		code = value.ErrChannelClosed
	}
	msg := object.NewStr(in.Heap, err.Error())
	stack := object.NewStr(in.Heap, task.FormatTracebackString(t, in.functionName))
	exc := object.NewException(in.Heap, code, value.Pointer(msg), value.Null)
	exc.Stack = value.Pointer(stack)
	return value.Pointer(exc)
}

// unwind implements spec §4.3's exception-unwinding algorithm, mirroring
// barn/vm.go's HandleError frame-by-frame search: search the current
// frame's handler stack innermost-first; on a finally, arm the pending
// exception and jump there; on a matching catch, clear pending and
// install the caught value; otherwise pop the frame and keep searching
// the caller. Returns true if a handler was found and t's IP was
// repositioned; false means the task must Fail.
//
// Unlike the teacher (whose handlers are untyped — a MOO except clause
// matches any error), every handler here is unconditional: ordering
// handler-by-handler is still required because `try` blocks nest and an
// outer `try`'s handler must not fire before an inner one gets a
// chance, and because `finally` blocks must run on the way out even
// when no catch ultimately matches.
func (in *Interpreter) unwind(t *task.Task, excVal value.Value) bool {
	for {
		frame := t.CurrentFrame()
		if frame == nil {
			return false
		}

		if h, ok := frame.PopHandler(); ok {
			frame.TruncateOperands(h.StackDepth)
			for _, id := range t.ReleaseMutexesAbove(h.MutexCount) {
				in.releaseMutex(t, id)
			}

			if h.HasCatch() {
				frame.IP = int(h.CatchOffset)
				t.ClearPending()
				t.SetCaught(excVal)
				frame.Push(excVal)
				return true
			}
			if h.HasFinally() {
				frame.IP = int(h.FinallyOffset)
				t.SetPending(excVal)
				return true
			}
			// Handler record with neither (shouldn't normally occur for
			// a well-formed try, but keeps the search progressing).
			continue
		}

		// No handler left in this frame: pop it and keep searching the
		// caller, exactly like the teacher's cross-frame unwind.
		if t.Depth() <= 1 {
			return false
		}
		t.PopFrame()
	}
}

// releaseMutex unlocks m on t's behalf during unwind, waking the next
// FIFO waiter if there is one (spec §4.5 "unlock ... atomically
// transfers ownership to the next waiter").
func (in *Interpreter) releaseMutex(t *task.Task, id value.MutexID) {
	m, ok := in.Mutexes.Get(id)
	if !ok {
		return
	}
	next, hasNext, _ := m.Unlock(t.ID)
	if hasNext {
		in.pendingWakes = append(in.pendingWakes, WakeRequest{Task: next, MutexGrant: true, GrantedMutex: id})
	}
}
