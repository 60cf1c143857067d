package task

import (
	"testing"

	"github.com/loomlang/loom/bytecode"
	"github.com/loomlang/loom/value"
)

func newTestTask(id value.TaskID) *Task {
	fn := &bytecode.Function{Name: "main", LocalCount: 2, Code: []byte{byte(bytecode.OpReturnVoid)}}
	mod := &bytecode.Module{Functions: []bytecode.Function{*fn}}
	return New(id, mod, fn, 0, []value.Value{value.I32(1), value.I32(2)}, 0, false)
}

func TestLegalStateTransitions(t *testing.T) {
	tk := newTestTask(1)
	if tk.State() != Created {
		t.Fatalf("expected Created, got %v", tk.State())
	}
	if err := tk.SetState(Running); err != nil {
		t.Fatalf("Created->Running should be legal: %v", err)
	}
	if err := tk.SetState(Suspended); err != nil {
		t.Fatalf("Running->Suspended should be legal: %v", err)
	}
	if err := tk.SetState(Running); err == nil {
		t.Fatal("Suspended->Running directly should be illegal")
	}
	if err := tk.SetState(Resumed); err != nil {
		t.Fatalf("Suspended->Resumed should be legal: %v", err)
	}
	if err := tk.SetState(Running); err != nil {
		t.Fatalf("Resumed->Running should be legal: %v", err)
	}
	if err := tk.SetState(Completed); err != nil {
		t.Fatalf("Running->Completed should be legal: %v", err)
	}
}

func TestCompleteDeliversWaitersOnce(t *testing.T) {
	tk := newTestTask(1)
	tk.SetState(Running)
	tk.AddWaiter(value.TaskID(2))
	tk.AddWaiter(value.TaskID(3))

	if err := tk.Complete(value.I32(42)); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	w := tk.TakeWaiters()
	if len(w) != 2 {
		t.Fatalf("expected 2 waiters, got %d", len(w))
	}
	if again := tk.TakeWaiters(); len(again) != 0 {
		t.Fatalf("waiters must be delivered exactly once, got %d on second take", len(again))
	}
}

func TestHeldMutexCardinalityAfterUnwind(t *testing.T) {
	tk := newTestTask(1)
	tk.AddHeldMutex(value.MutexID(1))
	tk.AddHeldMutex(value.MutexID(2))
	tk.AddHeldMutex(value.MutexID(3))
	if tk.HeldMutexCount() != 3 {
		t.Fatalf("expected 3 held mutexes, got %d", tk.HeldMutexCount())
	}
	// simulate unwinding past a handler recorded with mutex count 1:
	// everything acquired since must be released.
	held := tk.HeldMutexes()
	for _, id := range held {
		tk.RemoveHeldMutex(id)
	}
	tk.AddHeldMutex(value.MutexID(1))
	if tk.HeldMutexCount() != 1 {
		t.Fatalf("expected cardinality 1 after unwind, got %d", tk.HeldMutexCount())
	}
}

func TestReleaseMutexesAboveReleasesMostRecentFirst(t *testing.T) {
	tk := newTestTask(1)
	tk.AddHeldMutex(value.MutexID(1))
	tk.AddHeldMutex(value.MutexID(2))
	tk.AddHeldMutex(value.MutexID(3))

	released := tk.ReleaseMutexesAbove(1)
	if len(released) != 2 || released[0] != value.MutexID(2) || released[1] != value.MutexID(3) {
		t.Fatalf("expected [2 3] released in acquisition order, got %v", released)
	}
	if tk.HeldMutexCount() != 1 {
		t.Fatalf("expected cardinality 1 after release, got %d", tk.HeldMutexCount())
	}
	if remaining := tk.HeldMutexes(); len(remaining) != 1 || remaining[0] != value.MutexID(1) {
		t.Fatalf("expected mutex 1 to remain held, got %v", remaining)
	}
	if released := tk.ReleaseMutexesAbove(5); released != nil {
		t.Fatalf("expected no-op when target exceeds current count, got %v", released)
	}
}

func TestFrameOperandStack(t *testing.T) {
	f := NewFrame(0, nil, 0)
	f.Push(value.I32(1))
	f.Push(value.I32(2))
	v, err := f.Pop()
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := v.AsI32(); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
	if _, err := f.Pop(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Pop(); err == nil {
		t.Fatal("expected underflow error")
	}
}

func TestPreemptFlagRequestAndClear(t *testing.T) {
	tk := newTestTask(1)
	if tk.IsPreemptRequested() {
		t.Fatal("fresh task should not have preempt requested")
	}
	tk.RequestPreempt()
	if !tk.IsPreemptRequested() {
		t.Fatal("expected preempt requested after RequestPreempt")
	}
	tk.ClearPreempt()
	if tk.IsPreemptRequested() {
		t.Fatal("expected preempt cleared")
	}
}

func TestSnapshotReflectsTerminalState(t *testing.T) {
	tk := newTestTask(1)
	if _, _, terminal := tk.Snapshot(); terminal {
		t.Fatal("fresh task should not be terminal")
	}
	tk.SetState(Running)
	if err := tk.Complete(value.I32(7)); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	v, isErr, terminal := tk.Snapshot()
	if !terminal || isErr {
		t.Fatalf("expected terminal, non-error snapshot, got terminal=%v isErr=%v", terminal, isErr)
	}
	if n, _ := v.AsI32(); n != 7 {
		t.Fatalf("expected result 7, got %v", v)
	}
}

func TestAddWaiterIfPendingFailsAfterTerminal(t *testing.T) {
	tk := newTestTask(1)
	tk.SetState(Running)
	if err := tk.Fail(value.I32(99)); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if ok := tk.AddWaiterIfPending(value.TaskID(2)); ok {
		t.Fatal("expected AddWaiterIfPending to refuse once terminal")
	}
	if waiters := tk.TakeWaiters(); len(waiters) != 0 {
		t.Fatalf("no waiter should have been registered, got %v", waiters)
	}
}

func TestAddWaiterIfPendingSucceedsWhilePending(t *testing.T) {
	tk := newTestTask(1)
	tk.SetState(Running)
	if ok := tk.AddWaiterIfPending(value.TaskID(2)); !ok {
		t.Fatal("expected AddWaiterIfPending to succeed on a running task")
	}
	tk.Complete(value.I32(1))
	waiters := tk.TakeWaiters()
	if len(waiters) != 1 || waiters[0] != value.TaskID(2) {
		t.Fatalf("expected waiter 2 to be delivered, got %v", waiters)
	}
}

