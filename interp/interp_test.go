package interp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomlang/loom/bytecode"
	"github.com/loomlang/loom/object"
	"github.com/loomlang/loom/task"
	"github.com/loomlang/loom/value"
)

// newTestInterp builds an Interpreter with a fresh, empty heap/
// registry/mutex-table/globals and no Spawner/NativeCaller wired —
// enough for any test that never hits OpSpawn*/OpNativeCall.
func newTestInterp() *Interpreter {
	return New(value.NewHeap(1<<20), object.NewClassRegistry(), object.NewMutexTable(), NewGlobals(), nil, nil)
}

// runModule wraps a single entry function's code as function 0 of a
// fresh module and runs it to completion/failure/suspension in one Run
// call, returning the Outcome.
func runModule(t *testing.T, in *Interpreter, code []byte, localCount int, args ...value.Value) Outcome {
	t.Helper()
	fn := bytecode.Function{Name: "entry", LocalCount: localCount, Code: code}
	mod := &bytecode.Module{Functions: []bytecode.Function{fn}}
	tk := task.New(1, mod, &mod.Functions[0], 0, args, 0, false)
	return in.Run(tk)
}

func TestIntArithWrapsOnOverflow(t *testing.T) {
	code := bytecode.NewBuilder().
		PushI32(math.MaxInt32).
		PushI32(1).
		AddI().
		Return().
		Build()
	out := runModule(t, newTestInterp(), code, 0)
	require.Equal(t, OutcomeCompleted, out.Kind)
	got, ok := out.Result.AsI32()
	require.True(t, ok)
	assert.Equal(t, int32(math.MinInt32), got)
}

func TestUShrOnNegativeI32IsLogicalNotArithmetic(t *testing.T) {
	code := bytecode.NewBuilder().
		PushI32(-1).
		PushI32(1).
		UShrI().
		Return().
		Build()
	out := runModule(t, newTestInterp(), code, 0)
	require.Equal(t, OutcomeCompleted, out.Kind)
	got, ok := out.Result.AsI32()
	require.True(t, ok)
	assert.Equal(t, int32(math.MaxInt32), got, "-1 >>> 1 must be 0x7FFFFFFF, not -1")
}

func TestIntDivByZeroTrapsWithArithmeticCode(t *testing.T) {
	code := bytecode.NewBuilder().
		PushI32(10).
		PushI32(0).
		DivI().
		Return().
		Build()
	out := runModule(t, newTestInterp(), code, 0)
	require.Equal(t, OutcomeFailed, out.Kind)
	exc, ok := value.AsPointerOf[*object.Exception](out.Err)
	require.True(t, ok, "failure value should be an Exception")
	assert.Equal(t, value.ErrArithmetic, exc.Code)
}

func TestIntModByZeroTrapsWithArithmeticCode(t *testing.T) {
	code := bytecode.NewBuilder().
		PushI32(10).
		PushI32(0).
		ModI().
		Return().
		Build()
	out := runModule(t, newTestInterp(), code, 0)
	require.Equal(t, OutcomeFailed, out.Kind)
	exc, ok := value.AsPointerOf[*object.Exception](out.Err)
	require.True(t, ok)
	assert.Equal(t, value.ErrArithmetic, exc.Code)
}

func TestFloatDivByZeroYieldsNaNWithoutError(t *testing.T) {
	code := bytecode.NewBuilder().
		PushF64(0).
		PushF64(0).
		DivNum().
		Return().
		Build()
	out := runModule(t, newTestInterp(), code, 0)
	require.Equal(t, OutcomeCompleted, out.Kind)
	f, ok := out.Result.AsF64()
	require.True(t, ok)
	assert.True(t, math.IsNaN(f))
}

// TestTryCatchCarriesThrownValueUntouched throws a freshly allocated
// Str value (not a core-synthesized Exception) and checks the catch
// block's result is still that same kind of value, not rewrapped into
// an Exception (spec §4.3 "thrown values pass through untouched",
// contrasted with synthesizeException's always-wrap-a-Go-error path).
func TestTryCatchCarriesThrownValueUntouched(t *testing.T) {
	in := newTestInterp()

	b := bytecode.NewBuilder()
	b.Try("catch", "").
		PushStr(0).
		Throw().
		Label("catch").
		Return()

	fn := bytecode.Function{Name: "entry", LocalCount: 0, Code: b.Build()}
	mod := &bytecode.Module{
		Functions: []bytecode.Function{fn},
		Constants: bytecode.ConstPool{Strings: []string{"boom"}},
	}
	tk := task.New(1, mod, &mod.Functions[0], 0, nil, 0, false)
	out := in.Run(tk)

	require.Equal(t, OutcomeCompleted, out.Kind)
	got, ok := value.AsPointerOf[*object.Str](out.Result)
	require.True(t, ok, "catch should receive the original Str, not a rewrapped Exception")
	assert.Equal(t, "boom", got.Go())
}

func TestInstanceOfAndCastAgainstClassHierarchy(t *testing.T) {
	classes := object.NewClassRegistry()
	err := classes.Load([]bytecode.Class{
		{Name: "Animal", ParentIndex: -1, ConstructorIdx: -1},
		{Name: "Dog", ParentIndex: 0, ConstructorIdx: -1},
	})
	require.NoError(t, err)

	in := New(value.NewHeap(1<<20), classes, object.NewMutexTable(), NewGlobals(), nil, nil)

	isAnimal := bytecode.NewBuilder().NewObject(1).InstanceOf(0).Return().Build()
	out := runModule(t, in, isAnimal, 0)
	require.Equal(t, OutcomeCompleted, out.Kind)
	b, _ := out.Result.AsBool()
	assert.True(t, b, "a Dog instance should be instanceof its parent Animal")

	castUp := bytecode.NewBuilder().NewObject(1).Cast(0).Return().Build()
	out = runModule(t, in, castUp, 0)
	require.Equal(t, OutcomeCompleted, out.Kind)
	_, ok := value.AsPointerOf[*object.Instance](out.Result)
	assert.True(t, ok, "cast to a superclass should succeed")

	castDown := bytecode.NewBuilder().NewObject(0).Cast(1).Return().Build()
	out = runModule(t, in, castDown, 0)
	require.Equal(t, OutcomeFailed, out.Kind, "cast to a subclass an Animal isn't should fail")
}

// TestClosureCapturePersistsAcrossCalls checks a closure's own capture
// slot survives independently across two separate CallClosure
// invocations on the same closure instance (StoreCapture writes back
// into that closure's own captures array, not a per-call copy).
// Genuine cross-closure sharing instead goes through a RefCell — see
// DESIGN.md.
func TestClosureCapturePersistsAcrossCalls(t *testing.T) {
	// F(arg): if arg != 0, captures[0] = arg; always returns captures[0].
	f := bytecode.NewBuilder().
		LoadLocal0().
		PushI32(0).
		Eq().
		JumpIfTrue("skip").
		LoadLocal0().
		StoreCapture(0).
		Label("skip").
		LoadCapture(0).
		Return().
		Build()

	// main(): build a closure over captures[0]=7, call with 99 (stores
	// it), then call with 0 (must read back 99).
	main := bytecode.NewBuilder().
		PushI32(7).
		MakeClosure(0, 1).
		Dup().
		PushI32(99).
		CallClosure(1).
		Pop().
		PushI32(0).
		CallClosure(1).
		Return().
		Build()

	mod := &bytecode.Module{Functions: []bytecode.Function{
		{Name: "F", LocalCount: 1, Code: f},
		{Name: "main", LocalCount: 0, Code: main},
	}}
	in := newTestInterp()
	tk := task.New(1, mod, &mod.Functions[1], 1, nil, 0, false)
	out := in.Run(tk)

	require.Equal(t, OutcomeCompleted, out.Kind)
	got, ok := out.Result.AsI32()
	require.True(t, ok)
	assert.Equal(t, int32(99), got)
}

func TestConstructorReturnOverride(t *testing.T) {
	classes := object.NewClassRegistry()
	err := classes.Load([]bytecode.Class{
		{Name: "Point", ParentIndex: -1, ConstructorIdx: 0, FieldCount: 1},
	})
	require.NoError(t, err)

	// ctor(this, x): this.field0 = x; returns void — the caller of
	// `new` must still receive `this`, not void.
	ctor := bytecode.NewBuilder().
		LoadLocal0().
		LoadLocal(1).
		StoreField(0).
		ReturnVoid().
		Build()

	main := bytecode.NewBuilder().
		PushI32(42).
		CallNew(0, 1).
		Return().
		Build()

	mod := &bytecode.Module{Functions: []bytecode.Function{
		{Name: "ctor", LocalCount: 2, Code: ctor},
		{Name: "main", LocalCount: 0, Code: main},
	}}
	in := New(value.NewHeap(1<<20), classes, object.NewMutexTable(), NewGlobals(), nil, nil)
	tk := task.New(1, mod, &mod.Functions[1], 1, nil, 0, false)
	out := in.Run(tk)

	require.Equal(t, OutcomeCompleted, out.Kind)
	inst, ok := value.AsPointerOf[*object.Instance](out.Result)
	require.True(t, ok, "new's caller should receive the constructed instance, not void")
	fv, e := inst.Field(0)
	require.NoError(t, e)
	got, _ := fv.AsI32()
	assert.Equal(t, int32(42), got)
}

func TestPreemptBudgetSuspendsWithSleepReason(t *testing.T) {
	in := newTestInterp()
	in.PreemptBudget = 3

	code := bytecode.NewBuilder().
		Label("top").
		PushI32(1).
		Pop().
		Jump("top").
		Build()
	out := runModule(t, in, code, 0)
	require.Equal(t, OutcomeSuspended, out.Kind)
	assert.Equal(t, ReasonSleep, out.Reason.Kind)
}

// TestCancellationUnwindsThroughFinallyThenFails drives a task through
// two Run calls: the first suspends at a yield inside a try/finally;
// cancellation is requested between calls; the second Run must execute
// the finally body (releasing the held mutex) before ultimately failing
// with ErrTaskCancelled — not re-trigger the cancel check before the
// finally ever runs.
func TestCancellationUnwindsThroughFinallyThenFails(t *testing.T) {
	mutexes := object.NewMutexTable()
	in := New(value.NewHeap(1<<20), object.NewClassRegistry(), mutexes, NewGlobals(), nil, nil)

	code := bytecode.NewBuilder().
		MutexLock(0). // allocates mutex id 0, locks it, pushes the id
		Pop().
		Try("", "finally").
		Yield().
		PushNull().
		Jump("end").
		Label("finally").
		MutexUnlock(0).
		EndTry().
		Label("end").
		ReturnVoid().
		Build()

	fn := bytecode.Function{Name: "entry", LocalCount: 0, Code: code}
	mod := &bytecode.Module{Functions: []bytecode.Function{fn}}
	tk := task.New(1, mod, &mod.Functions[0], 0, nil, 0, false)

	out := in.Run(tk)
	require.Equal(t, OutcomeSuspended, out.Kind)
	assert.Equal(t, ReasonYield, out.Reason.Kind)

	m, ok := mutexes.Get(0)
	require.True(t, ok)
	assert.True(t, m.IsLocked(), "mutex should still be held across the yield")

	require.NoError(t, tk.SetState(task.Resumed))
	tk.RequestCancel()
	out = in.Run(tk)

	require.Equal(t, OutcomeFailed, out.Kind)
	exc, ok := value.AsPointerOf[*object.Exception](out.Err)
	require.True(t, ok)
	assert.Equal(t, value.ErrTaskCancelled, exc.Code)
	assert.False(t, m.IsLocked(), "finally must have released the mutex before the cancel propagated")
}

func TestImplicitReturnAtEndOfCode(t *testing.T) {
	// No explicit OpReturn/OpReturnVoid: falling off the end of the
	// code must complete with whatever is left on the operand stack
	// (here, nothing was left, so it completes with Null).
	code := bytecode.NewBuilder().PushI32(1).Pop().Build()
	out := runModule(t, newTestInterp(), code, 0)
	require.Equal(t, OutcomeCompleted, out.Kind)
	assert.True(t, out.Result.IsNull())
}

// TestMutexFIFOHandoffAcrossTwoTasks exercises the FIFO hand-off path
// (object.Mutex.Unlock transfers ownership directly to the oldest
// waiter) rather than letting the waiter re-contend for the lock.
func TestMutexFIFOHandoffAcrossTwoTasks(t *testing.T) {
	mutexes := object.NewMutexTable()
	in := New(value.NewHeap(1<<20), object.NewClassRegistry(), mutexes, NewGlobals(), nil, nil)

	holderCode := bytecode.NewBuilder().
		MutexLock(0). // allocates mutex id 0
		Pop().
		Yield().
		MutexUnlock(0).
		ReturnVoid().
		Build()
	holderFn := bytecode.Function{Name: "holder", LocalCount: 0, Code: holderCode}
	holderMod := &bytecode.Module{Functions: []bytecode.Function{holderFn}}
	holder := task.New(1, holderMod, &holderMod.Functions[0], 0, nil, 0, false)

	outHolder := in.Run(holder)
	require.Equal(t, OutcomeSuspended, outHolder.Kind)
	assert.Equal(t, ReasonYield, outHolder.Reason.Kind)

	m, ok := mutexes.Get(0)
	require.True(t, ok)
	assert.True(t, m.IsLocked())

	// The waiter addresses the same id (0), already allocated by the
	// holder; it must park rather than acquire.
	waiterCode := bytecode.NewBuilder().MutexLock(0).Return().Build()
	waiterFn := bytecode.Function{Name: "waiter", LocalCount: 0, Code: waiterCode}
	waiterMod := &bytecode.Module{Functions: []bytecode.Function{waiterFn}}
	waiter := task.New(2, waiterMod, &waiterMod.Functions[0], 0, nil, 0, false)

	outWaiter := in.Run(waiter)
	require.Equal(t, OutcomeSuspended, outWaiter.Kind)
	assert.Equal(t, ReasonMutexLock, outWaiter.Reason.Kind)
	assert.Equal(t, value.MutexID(0), outWaiter.Reason.MutexID)

	// Resume the holder: it unlocks, handing the mutex directly to the
	// waiter via a MutexGrant wake rather than a fresh TryLock.
	require.NoError(t, holder.SetState(task.Resumed))
	outHolder = in.Run(holder)
	require.Equal(t, OutcomeCompleted, outHolder.Kind)
	require.Len(t, outHolder.Wakes, 1)
	wake := outHolder.Wakes[0]
	assert.True(t, wake.MutexGrant)
	assert.Equal(t, value.MutexID(0), wake.GrantedMutex)
	assert.Equal(t, waiter.ID, wake.Task)
	owner, held := m.Owner()
	require.True(t, held, "hand-off keeps the mutex held, never free-for-all")
	assert.Equal(t, waiter.ID, owner, "ownership transfers directly to the waiter, not back up for grabs")

	// Scheduler contract for a MutexGrant wake: add the held mutex
	// directly, then resume.
	waiter.AddHeldMutex(wake.GrantedMutex)
	require.NoError(t, waiter.SetState(task.Resumed))
	outWaiter = in.Run(waiter)
	assert.Equal(t, OutcomeCompleted, outWaiter.Kind)
}

func TestChannelSendRecvFIFOOrdering(t *testing.T) {
	in := newTestInterp()
	ch := object.NewChannel(in.Heap, 1)

	// Fill the one buffer slot, then a second send must park.
	sendCode1 := bytecode.NewBuilder().LoadLocal0().PushI32(0).ChanSend().ReturnVoid().Build()
	sendFn1 := bytecode.Function{Name: "send1", LocalCount: 1, Code: sendCode1}
	sendMod1 := &bytecode.Module{Functions: []bytecode.Function{sendFn1}}
	sender1 := task.New(1, sendMod1, &sendMod1.Functions[0], 0, []value.Value{value.Pointer(ch)}, 0, false)
	out1 := in.Run(sender1)
	require.Equal(t, OutcomeCompleted, out1.Kind, "first send fills the buffer")

	sendCode2 := bytecode.NewBuilder().LoadLocal0().PushI32(1).ChanSend().ReturnVoid().Build()
	sendFn2 := bytecode.Function{Name: "send2", LocalCount: 1, Code: sendCode2}
	sendMod2 := &bytecode.Module{Functions: []bytecode.Function{sendFn2}}
	sender2 := task.New(2, sendMod2, &sendMod2.Functions[0], 0, []value.Value{value.Pointer(ch)}, 0, false)
	out2 := in.Run(sender2)
	require.Equal(t, OutcomeSuspended, out2.Kind, "second send must park, buffer is full")
	assert.Equal(t, ReasonChannelSend, out2.Reason.Kind)

	// A receive drains the buffered 0 first (FIFO), waking the parked
	// sender of 1 into the buffer.
	recvCode := bytecode.NewBuilder().LoadLocal0().ChanRecv().Return().Build()
	recvFn := bytecode.Function{Name: "recv", LocalCount: 1, Code: recvCode}
	recvMod := &bytecode.Module{Functions: []bytecode.Function{recvFn}}
	receiver1 := task.New(3, recvMod, &recvMod.Functions[0], 0, []value.Value{value.Pointer(ch)}, 0, false)
	out3 := in.Run(receiver1)
	require.Equal(t, OutcomeCompleted, out3.Kind)
	v, _ := out3.Result.AsI32()
	assert.Equal(t, int32(0), v, "FIFO: the first-sent value arrives first")
	require.Len(t, out3.Wakes, 1)
	assert.Equal(t, sender2.ID, out3.Wakes[0].Task)

	// Resume the parked sender with its wake; it should now complete.
	require.NoError(t, sender2.SetState(task.Resumed))
	out2 = in.Run(sender2)
	assert.Equal(t, OutcomeCompleted, out2.Kind)

	// A second receive drains the value the parked sender handed off.
	receiver2 := task.New(4, recvMod, &recvMod.Functions[0], 0, []value.Value{value.Pointer(ch)}, 0, false)
	out4 := in.Run(receiver2)
	require.Equal(t, OutcomeCompleted, out4.Kind)
	v, _ = out4.Result.AsI32()
	assert.Equal(t, int32(1), v)
}

func TestChannelNonBlockingTrySendTryRecvAndClose(t *testing.T) {
	in := newTestInterp()
	ch := object.NewChannel(in.Heap, 0)

	// try_send on an unbuffered channel with no receiver fails (false),
	// never parking the caller.
	trySendCode := bytecode.NewBuilder().LoadLocal0().PushI32(5).ChanTrySend().Return().Build()
	trySendFn := bytecode.Function{Name: "trysend", LocalCount: 1, Code: trySendCode}
	trySendMod := &bytecode.Module{Functions: []bytecode.Function{trySendFn}}
	trySendTask := task.New(1, trySendMod, &trySendMod.Functions[0], 0, []value.Value{value.Pointer(ch)}, 0, false)
	out := in.Run(trySendTask)
	require.Equal(t, OutcomeCompleted, out.Kind)
	ok, _ := out.Result.AsBool()
	assert.False(t, ok)

	// try_recv on an empty, open channel returns false, never parking.
	tryRecvCode := bytecode.NewBuilder().LoadLocal0().ChanTryRecv().Return().Build()
	tryRecvFn := bytecode.Function{Name: "tryrecv", LocalCount: 1, Code: tryRecvCode}
	tryRecvMod := &bytecode.Module{Functions: []bytecode.Function{tryRecvFn}}
	tryRecvTask := task.New(2, tryRecvMod, &tryRecvMod.Functions[0], 0, []value.Value{value.Pointer(ch)}, 0, false)
	outRecv := in.Run(tryRecvTask)
	require.Equal(t, OutcomeCompleted, outRecv.Kind)
	ok, _ = outRecv.Result.AsBool()
	assert.False(t, ok)

	// close, then a blocking recv must fail with ErrChannelClosed.
	closeCode := bytecode.NewBuilder().LoadLocal0().ChanClose().ReturnVoid().Build()
	closeFn := bytecode.Function{Name: "close", LocalCount: 1, Code: closeCode}
	closeMod := &bytecode.Module{Functions: []bytecode.Function{closeFn}}
	closeTask := task.New(3, closeMod, &closeMod.Functions[0], 0, []value.Value{value.Pointer(ch)}, 0, false)
	outClose := in.Run(closeTask)
	require.Equal(t, OutcomeCompleted, outClose.Kind)

	recvCode := bytecode.NewBuilder().LoadLocal0().ChanRecv().Return().Build()
	recvFn := bytecode.Function{Name: "recv", LocalCount: 1, Code: recvCode}
	recvMod := &bytecode.Module{Functions: []bytecode.Function{recvFn}}
	recvTask := task.New(4, recvMod, &recvMod.Functions[0], 0, []value.Value{value.Pointer(ch)}, 0, false)
	outRecv2 := in.Run(recvTask)
	require.Equal(t, OutcomeFailed, outRecv2.Kind)
	exc, ok2 := value.AsPointerOf[*object.Exception](outRecv2.Err)
	require.True(t, ok2)
	assert.Equal(t, value.ErrChannelClosed, exc.Code)
}
