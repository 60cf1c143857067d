// Package task implements the per-task execution state spec §3
// describes: the owned stack/ip, exception-handler chain, call-frame
// stack for traces, held-mutex set, waiter list, and the cancellation/
// preemption flags the scheduler and interpreter coordinate through.
//
// Grounded field-for-field on barn/task/task.go's Task struct (the
// state machine, waiter-list, suspend/resume shape), cross-checked
// against original_source/crates/raya-core/src/scheduler/task.rs (the
// Rust distillation source: Task{id, state, stack, ip, result,
// waiters, parent, preempt_requested, start_time} maps almost directly
// onto this struct — see DESIGN.md §12).
package task

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loomlang/loom/bytecode"
	"github.com/loomlang/loom/value"
)

// State is one of the six legal task states (spec §3/§4.4).
type State int32

const (
	Created State = iota
	Running
	Suspended
	Resumed
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Running:
		return "Running"
	case Suspended:
		return "Suspended"
	case Resumed:
		return "Resumed"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// legalEdges enumerates spec §3's "only legal edges" table.
var legalEdges = map[State]map[State]bool{
	Created:   {Running: true},
	Running:   {Suspended: true, Completed: true, Failed: true},
	Suspended: {Resumed: true},
	Resumed:   {Running: true},
}

// HandlerRecord is one entry on a frame's exception-handler stack
// (spec §3 "Exception-handler stack"). Offsets use bytecode.NoFinally
// as the "absent" sentinel for both catch and finally.
type HandlerRecord struct {
	CatchOffset   uint16
	FinallyOffset uint16
	StackDepth    int // operand-stack depth snapshot at try
	MutexCount    int // held-mutex count snapshot at try
}

func (h HandlerRecord) HasCatch() bool   { return h.CatchOffset != bytecode.NoFinally }
func (h HandlerRecord) HasFinally() bool { return h.FinallyOffset != bytecode.NoFinally }

// Frame is one call-frame: the per-invocation operand stack, locals,
// and instruction pointer, plus this call's own exception-handler
// stack. Nested calls push a fresh Frame rather than sharing the
// caller's operand stack (spec §4.3 "Nested calls").
type Frame struct {
	FunctionIndex uint32
	Code          []byte
	IP            int
	Locals        []value.Value
	Operands      []value.Value
	ExceptStack   []HandlerRecord

	// Closure is the active closure value (Null if this frame was not
	// entered via a closure call); capture loads/stores walk it.
	Closure value.Value
	// This is the receiver for virtual/constructor/super calls; Null
	// for plain function calls.
	This value.Value

	// HasReturnOverride, when set, replaces whatever value this frame
	// returns (explicitly or by falling off the end) before it reaches
	// the caller's stack. Used by a constructor call: the constructor
	// body returns void, but the caller of `new` needs the constructed
	// instance, not void.
	HasReturnOverride bool
	ReturnOverride    value.Value
}

func NewFrame(functionIndex uint32, code []byte, localCount int) *Frame {
	locals := make([]value.Value, localCount)
	for i := range locals {
		locals[i] = value.Null
	}
	return &Frame{FunctionIndex: functionIndex, Code: code, Locals: locals, Closure: value.Null, This: value.Null}
}

func (f *Frame) Push(v value.Value) { f.Operands = append(f.Operands, v) }

func (f *Frame) Pop() (value.Value, error) {
	n := len(f.Operands)
	if n == 0 {
		return value.Value{}, fmt.Errorf("task: operand stack underflow")
	}
	v := f.Operands[n-1]
	f.Operands = f.Operands[:n-1]
	return v, nil
}

func (f *Frame) Peek() (value.Value, error) {
	n := len(f.Operands)
	if n == 0 {
		return value.Value{}, fmt.Errorf("task: operand stack underflow")
	}
	return f.Operands[n-1], nil
}

func (f *Frame) PopN(n int) ([]value.Value, error) {
	if len(f.Operands) < n {
		return nil, fmt.Errorf("task: operand stack underflow popping %d", n)
	}
	start := len(f.Operands) - n
	out := append([]value.Value(nil), f.Operands[start:]...)
	f.Operands = f.Operands[:start]
	return out, nil
}

func (f *Frame) PushHandler(h HandlerRecord) { f.ExceptStack = append(f.ExceptStack, h) }

func (f *Frame) PopHandler() (HandlerRecord, bool) {
	n := len(f.ExceptStack)
	if n == 0 {
		return HandlerRecord{}, false
	}
	h := f.ExceptStack[n-1]
	f.ExceptStack = f.ExceptStack[:n-1]
	return h, true
}

func (f *Frame) PeekHandler() (HandlerRecord, bool) {
	n := len(f.ExceptStack)
	if n == 0 {
		return HandlerRecord{}, false
	}
	return f.ExceptStack[n-1], true
}

func (f *Frame) TruncateOperands(depth int) {
	if depth < len(f.Operands) {
		f.Operands = f.Operands[:depth]
	}
}

// Task is the user-level unit of concurrency (a green thread).
type Task struct {
	ID     value.TaskID
	Module *bytecode.Module

	mu     sync.Mutex
	state  State
	frames []*Frame

	caughtException  value.Value
	pendingException value.Value
	hasPending       bool
	result           value.Value
	hasResult        bool
	failedError      value.Value

	waiters        []value.TaskID
	heldMutexStack []value.MutexID

	hasParent bool
	parentID  value.TaskID

	hasResumeValue bool
	resumeValue    value.Value

	cancelFlag  atomic.Bool
	preemptFlag atomic.Bool

	startedAt time.Time
}

// New constructs a freshly Created task. fn/module describe the entry
// point; args are copied into the entry frame's locals.
func New(id value.TaskID, module *bytecode.Module, fn *bytecode.Function, functionIndex uint32, args []value.Value, parent value.TaskID, hasParent bool) *Task {
	frame := NewFrame(functionIndex, fn.Code, fn.LocalCount)
	for i, a := range args {
		if i >= len(frame.Locals) {
			break
		}
		frame.Locals[i] = a
	}
	return &Task{
		ID:        id,
		Module:    module,
		state:     Created,
		frames:    []*Frame{frame},
		hasParent: hasParent,
		parentID:  parent,
		caughtException:  value.Null,
		pendingException: value.Null,
		result:           value.Null,
		failedError:      value.Null,
	}
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState validates the transition against spec §3's legal-edges
// table before applying it.
func (t *Task) SetState(next State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !legalEdges[t.state][next] {
		return fmt.Errorf("task %d: illegal state transition %s -> %s", t.ID, t.state, next)
	}
	t.state = next
	return nil
}

// CurrentFrame returns the top of the call-frame stack, or nil if the
// task has returned from its entry frame.
func (t *Task) CurrentFrame() *Frame {
	if len(t.frames) == 0 {
		return nil
	}
	return t.frames[len(t.frames)-1]
}

func (t *Task) PushFrame(f *Frame) { t.frames = append(t.frames, f) }

func (t *Task) PopFrame() (*Frame, bool) {
	n := len(t.frames)
	if n == 0 {
		return nil, false
	}
	f := t.frames[n-1]
	t.frames = t.frames[:n-1]
	return f, true
}

func (t *Task) Depth() int { return len(t.frames) }

// CallStack returns the function indices of every active frame,
// outermost first, for building a stack trace (spec §7).
func (t *Task) CallStack() []uint32 {
	out := make([]uint32, len(t.frames))
	for i, f := range t.frames {
		out[i] = f.FunctionIndex
	}
	return out
}

func (t *Task) SetCaught(v value.Value) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.caughtException = v
}

func (t *Task) Caught() value.Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.caughtException
}

func (t *Task) SetPending(v value.Value) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingException = v
	t.hasPending = true
}

func (t *Task) ClearPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hasPending = false
	t.pendingException = value.Null
}

func (t *Task) Pending() (value.Value, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingException, t.hasPending
}

// Complete publishes the task's result and transitions to Completed.
// Per spec §3 "A Completed task's waiters list is delivered exactly
// once", callers must take the waiter list (TakeWaiters) exactly once
// after this call.
//
// The state transition and the result store happen under one
// mu.Lock() rather than going through SetState separately: a scheduler
// deciding whether a late-arriving await/wait-all can still register a
// waiter (AddWaiterIfPending) or must read the terminal value directly
// (Snapshot) needs state-plus-result to change atomically, or it could
// observe "not yet terminal" and register a waiter that has already
// been (and will never again be) drained by TakeWaiters.
func (t *Task) Complete(result value.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !legalEdges[t.state][Completed] {
		return fmt.Errorf("task %d: illegal state transition %s -> %s", t.ID, t.state, Completed)
	}
	t.state = Completed
	t.result = result
	t.hasResult = true
	return nil
}

func (t *Task) Fail(err value.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !legalEdges[t.state][Failed] {
		return fmt.Errorf("task %d: illegal state transition %s -> %s", t.ID, t.state, Failed)
	}
	t.state = Failed
	t.failedError = err
	return nil
}

// Snapshot reports the task's terminal value, if it has reached one,
// atomically with respect to Complete/Fail (same lock as those two).
// terminal is false while the task is still Created/Running/Suspended/
// Resumed, in which case result/isErr are meaningless.
func (t *Task) Snapshot() (result value.Value, isErr bool, terminal bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case Completed:
		return t.result, false, true
	case Failed:
		return t.failedError, true, true
	default:
		return value.Value{}, false, false
	}
}

// AddWaiterIfPending registers id as a waiter unless t has already
// reached a terminal state, checking and appending under the same
// lock Complete/Fail use — closing the race where a caller observes
// the task still running, the task completes and drains its waiter
// list on another goroutine, and only then does the un-atomic
// registration append a waiter nothing will ever deliver to again. ok
// is false in that case; the caller should call Snapshot instead.
func (t *Task) AddWaiterIfPending(id value.TaskID) (ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Completed || t.state == Failed {
		return false
	}
	t.waiters = append(t.waiters, id)
	return true
}

func (t *Task) Result() (value.Value, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.hasResult
}

func (t *Task) FailureValue() value.Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failedError
}

func (t *Task) AddWaiter(id value.TaskID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waiters = append(t.waiters, id)
}

// TakeWaiters drains and returns the waiter list; subsequent calls
// return nil, giving the "delivered exactly once" guarantee.
func (t *Task) TakeWaiters() []value.TaskID {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.waiters
	t.waiters = nil
	return w
}

// AddHeldMutex records a newly acquired mutex. Order matters: unwind
// past a handler releases the most-recently-acquired mutexes first
// (ReleaseMutexesAbove), so this is a stack, not a set.
func (t *Task) AddHeldMutex(id value.MutexID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.heldMutexStack = append(t.heldMutexStack, id)
}

func (t *Task) RemoveHeldMutex(id value.MutexID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.heldMutexStack) - 1; i >= 0; i-- {
		if t.heldMutexStack[i] == id {
			t.heldMutexStack = append(t.heldMutexStack[:i], t.heldMutexStack[i+1:]...)
			return
		}
	}
}

func (t *Task) HeldMutexCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.heldMutexStack)
}

func (t *Task) HeldMutexes() []value.MutexID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]value.MutexID, len(t.heldMutexStack))
	copy(out, t.heldMutexStack)
	return out
}

// ReleaseMutexesAbove pops mutexes down to cardinality target (most
// recently acquired first) and returns the ids released, so the caller
// (the exception unwinder) can tell each one's MutexTable to unlock it
// on this task's behalf (spec §3 invariant: "Held mutexes are released
// only via explicit unlock or via unwind past a handler recorded with
// a smaller mutex_count").
func (t *Task) ReleaseMutexesAbove(target int) []value.MutexID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if target < 0 {
		target = 0
	}
	if target >= len(t.heldMutexStack) {
		return nil
	}
	released := append([]value.MutexID(nil), t.heldMutexStack[target:]...)
	t.heldMutexStack = t.heldMutexStack[:target]
	return released
}

func (t *Task) Parent() (value.TaskID, bool) {
	return t.parentID, t.hasParent
}

func (t *Task) SetResumeValue(v value.Value) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resumeValue = v
	t.hasResumeValue = true
}

// TakeResumeValue consumes the pending resume value, if any.
func (t *Task) TakeResumeValue() (value.Value, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasResumeValue {
		return value.Value{}, false
	}
	v := t.resumeValue
	t.hasResumeValue = false
	t.resumeValue = value.Null
	return v, true
}

// RequestPreempt/IsPreemptRequested/ClearPreempt mirror
// original_source's atomic flag exactly: set by the monitor, cleared
// only by the one place that observes it (the interpreter's safepoint
// check), never by the setter (see DESIGN.md §12).
func (t *Task) RequestPreempt()          { t.preemptFlag.Store(true) }
func (t *Task) IsPreemptRequested() bool { return t.preemptFlag.Load() }
func (t *Task) ClearPreempt()            { t.preemptFlag.Store(false) }

func (t *Task) RequestCancel()          { t.cancelFlag.Store(true) }
func (t *Task) IsCancelRequested() bool { return t.cancelFlag.Load() }

func (t *Task) SetStartTime(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedAt = at
}

func (t *Task) ClearStartTime() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedAt = time.Time{}
}

func (t *Task) StartTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}

// Roots implements value.Root: every frame's locals, operand stack,
// closure/this values, plus the caught/pending exception and result
// slots, are GC roots for as long as the task is alive (spec §4.1).
func (t *Task) Roots(out []value.Value) []value.Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.frames {
		out = append(out, f.Locals...)
		out = append(out, f.Operands...)
		out = append(out, f.Closure, f.This)
	}
	out = append(out, t.caughtException)
	if t.hasPending {
		out = append(out, t.pendingException)
	}
	if t.hasResult {
		out = append(out, t.result)
	}
	if t.hasResumeValue {
		out = append(out, t.resumeValue)
	}
	return out
}
