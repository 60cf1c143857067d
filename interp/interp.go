// Package interp is the bytecode interpreter (spec §4.3): it runs one
// Task until it completes, fails, or suspends, and returns that
// outcome to whatever scheduled it.
//
// Grounded on barn/vm/vm.go's executeLoop/Step/HandleError shape: a
// frame-stack VM with a tick-based preemption budget, re-expressed
// around spec's explicit Task/Outcome contract instead of the
// teacher's types.Result. interp never imports task/scheduler registries
// directly for wakeups — see Spawner/NativeCaller in spawner.go — which
// is why it depends only on task.Task/task.Frame and the shared value/
// object/bytecode packages, never on package scheduler.
package interp

import (
	"fmt"
	"time"

	"github.com/loomlang/loom/bytecode"
	"github.com/loomlang/loom/object"
	"github.com/loomlang/loom/task"
	"github.com/loomlang/loom/value"
)

// Interpreter holds everything the dispatch loop needs that outlives
// any single task: the heap, class registry, mutex table, globals,
// and the two structurally-satisfied seams into scheduler/native.
type Interpreter struct {
	Heap    *value.Heap
	Classes *object.ClassRegistry
	Mutexes *object.MutexTable
	Globals *Globals
	Spawn   Spawner
	Native  NativeCaller

	// PreemptBudget bounds how many dispatch-loop iterations a single
	// Run call executes before voluntarily yielding with Sleep{now},
	// independent of the preempt flag — a belt-and-suspenders fairness
	// bound mirroring barn/vm.go's TickLimit, but one that suspends
	// cooperatively rather than raising E_MAXREC.
	PreemptBudget int64

	// pendingWakes accumulates WakeRequest values produced by
	// concurrency opcodes and exception-unwind mutex releases during
	// one Run call; drained into the returned Outcome.
	pendingWakes []WakeRequest
}

func New(h *value.Heap, classes *object.ClassRegistry, mutexes *object.MutexTable, globals *Globals, spawn Spawner, native NativeCaller) *Interpreter {
	return &Interpreter{
		Heap:          h,
		Classes:       classes,
		Mutexes:       mutexes,
		Globals:       globals,
		Spawn:         spawn,
		Native:        native,
		PreemptBudget: 100000,
	}
}

// functionName renders a function index for tracebacks as the numeric
// placeholder "fn#<idx>"; function names from the module are not
// looked up.
func (in *Interpreter) functionName(idx uint32) string {
	return fmt.Sprintf("fn#%d", idx)
}

// Run executes t until it completes, fails, or suspends (spec §4.3
// "Entry contract"/"Output"). t must already be past construction: a
// freshly Created task already has its entry frame and copied
// arguments (done by task.New), so Run's own job is only to apply a
// pending resume value or pending exception before entering the
// dispatch loop.
func (in *Interpreter) Run(t *task.Task) Outcome {
	in.pendingWakes = nil

	// legalEdges permits both Created->Running (first entry) and
	// Resumed->Running (after a wake); task.New already did the
	// Created-task setup (push frame, reserve locals, copy args), so
	// there is nothing else to special-case here.
	if err := t.SetState(task.Running); err != nil {
		return failed(in.synthesizeException(t, err), in.takeWakes())
	}

	if v, ok := t.TakeResumeValue(); ok {
		if frame := t.CurrentFrame(); frame != nil {
			frame.Push(v)
		}
	}

	if pending, ok := t.Pending(); ok {
		if !in.unwind(t, pending) {
			return failed(pending, in.takeWakes())
		}
	}

	return in.dispatchLoop(t)
}

func (in *Interpreter) takeWakes() []WakeRequest {
	w := in.pendingWakes
	in.pendingWakes = nil
	return w
}

// dispatchLoop is spec §4.3's "Dispatch loop": poll safepoint, check
// preempt, check cancel, bounds-check ip, decode, execute, repeat.
func (in *Interpreter) dispatchLoop(t *task.Task) Outcome {
	var iterations int64
	for {
		iterations++
		if iterations > in.PreemptBudget {
			return in.suspendSleep(t, time.Now())
		}

		if t.IsPreemptRequested() {
			t.ClearPreempt()
			return in.suspendSleep(t, time.Now())
		}
		// Gated on !hasPending: once cancellation has already armed a
		// pending exception (we jumped into a finally), the flag stays
		// set but must not re-trigger on every subsequent tick -- that
		// would re-synthesize a fresh cancel exception before the
		// finally body ever executes. Let dispatch proceed normally;
		// OpEndTry re-raises the pending exception once the finally
		// runs its course.
		if _, hasPending := t.Pending(); !hasPending && t.IsCancelRequested() {
			exc := in.synthesizeCancelException(t)
			if in.unwind(t, exc) {
				continue
			}
			if err := t.Fail(exc); err != nil {
				return failed(in.synthesizeException(t, err), in.takeWakes())
			}
			return in.finishFailed(t)
		}

		frame := t.CurrentFrame()
		if frame == nil {
			return in.finishCompleted(t, value.Null)
		}
		if frame.IP >= len(frame.Code) {
			v, _ := frame.Pop()
			if done, outcome := in.popFrameReturning(t, v); done {
				return outcome
			}
			continue
		}

		ret, reason, err := in.step(t, frame)
		if err != nil {
			exc := in.wrapError(t, err)
			if in.unwind(t, exc) {
				continue
			}
			if ferr := t.Fail(exc); ferr != nil {
				return failed(in.synthesizeException(t, ferr), in.takeWakes())
			}
			return in.finishFailed(t)
		}
		if reason != nil {
			if err := t.SetState(task.Suspended); err != nil {
				return failed(in.synthesizeException(t, err), in.takeWakes())
			}
			return suspended(*reason, in.takeWakes())
		}
		if ret != nil {
			if done, outcome := in.popFrameReturning(t, *ret); done {
				return outcome
			}
			continue
		}
	}
}

func (in *Interpreter) wrapError(t *task.Task, err error) value.Value {
	if exc, ok := err.(excError); ok {
		return exc.val
	}
	return in.synthesizeException(t, err)
}

// popFrameReturning implements "return" (explicit OpReturn/OpReturnVoid
// or implicit fall-off-the-end): pop the current frame; if that was the
// last frame the task completes with v, else v is pushed onto the new
// top frame's operand stack and execution continues there. Folded into
// the main loop (rather than recursing) so a task making many
// sequential calls doesn't grow the Go call stack with it.
func (in *Interpreter) popFrameReturning(t *task.Task, v value.Value) (done bool, outcome Outcome) {
	popped, _ := t.PopFrame()
	if popped != nil && popped.HasReturnOverride {
		v = popped.ReturnOverride
	}
	if t.CurrentFrame() == nil {
		return true, in.finishCompleted(t, v)
	}
	t.CurrentFrame().Push(v)
	return false, Outcome{}
}

// excError lets opcode handlers (throw, rethrow, cast failure) carry an
// already-built Value straight through Run's error path instead of
// round-tripping through a Go error string.
type excError struct{ val value.Value }

func (e excError) Error() string { return "exception" }

func (in *Interpreter) suspendSleep(t *task.Task, at time.Time) Outcome {
	if err := t.SetState(task.Suspended); err != nil {
		return failed(in.synthesizeException(t, err), in.takeWakes())
	}
	return suspended(Reason{Kind: ReasonSleep, WakeAtUnixNano: at.UnixNano()}, in.takeWakes())
}

func (in *Interpreter) synthesizeCancelException(t *task.Task) value.Value {
	msg := object.NewStr(in.Heap, value.ErrTaskCancelled.Message())
	exc := object.NewException(in.Heap, value.ErrTaskCancelled, value.Pointer(msg), value.Null)
	return value.Pointer(exc)
}

func (in *Interpreter) finishCompleted(t *task.Task, v value.Value) Outcome {
	if err := t.Complete(v); err != nil {
		return failed(in.synthesizeException(t, err), in.takeWakes())
	}
	wakes := in.takeWakes()
	for _, w := range t.TakeWaiters() {
		wakes = append(wakes, WakeRequest{Task: w, HasValue: true, Value: v})
	}
	return completed(v, wakes)
}

func (in *Interpreter) finishFailed(t *task.Task) Outcome {
	wakes := in.takeWakes()
	errVal := t.FailureValue()
	for _, w := range t.TakeWaiters() {
		wakes = append(wakes, WakeRequest{Task: w, HasValue: true, Value: errVal})
	}
	return failed(errVal, wakes)
}

// step decodes and executes exactly one opcode. It returns at most one
// of: (ret, nil, nil) when the opcode is OpReturn/OpReturnVoid (the
// caller then pops the frame), (nil, reason, nil) to suspend, or
// (nil, nil, err) on error. Ordinary opcodes return (nil, nil, nil) and
// mutate frame/t in place.
func (in *Interpreter) step(t *task.Task, frame *task.Frame) (*value.Value, *Reason, error) {
	r := bytecode.NewReader(frame.Code, frame.IP)
	op := r.ReadOp()
	if !op.Valid() {
		frame.IP = r.IP
		return nil, nil, fmt.Errorf("interp: invalid opcode %d", op)
	}

	if op.IsJump() {
		return in.execJump(t, frame, r, op)
	}
	if op.IsConcurrency() {
		return in.execConcurrency(t, frame, r, op)
	}
	return in.execBasic(t, frame, r, op)
}
