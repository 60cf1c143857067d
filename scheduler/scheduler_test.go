package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomlang/loom/bytecode"
	"github.com/loomlang/loom/interp"
	"github.com/loomlang/loom/object"
	"github.com/loomlang/loom/value"
)

// awaitModule spawns a child that returns a constant, awaits it, and
// returns whatever the child produced — exercising spawn-locality
// (workerSpawner), the await suspension/registerAwait path, and
// finish's waiter delivery end to end.
func awaitModule() *bytecode.Module {
	main := bytecode.NewBuilder().Spawn(1, 0).Await().Return().Build()
	child := bytecode.NewBuilder().PushI32(42).Return().Build()
	return &bytecode.Module{
		Functions: []bytecode.Function{
			{Name: "main", Code: main},
			{Name: "child", Code: child},
		},
	}
}

func newTestScheduler(t *testing.T, module *bytecode.Module) *Scheduler {
	t.Helper()
	cfg := Config{Workers: 2, PollInterval: time.Millisecond, MonitorInterval: time.Millisecond}
	return New(cfg, value.NewHeap(1<<20), object.NewClassRegistry(), object.NewMutexTable(), interp.NewGlobals(), module, nil, nil)
}

func TestSpawnAwaitResolvesAcrossWorkers(t *testing.T) {
	s := newTestScheduler(t, awaitModule())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	id := s.SpawnTopLevel(0, nil)

	require.Eventually(t, func() bool {
		_, _, terminal, found := s.TaskSnapshot(id)
		return found && terminal
	}, time.Second, time.Millisecond, "main task should reach a terminal state")

	result, isErr, terminal, found := s.TaskSnapshot(id)
	require.True(t, found)
	require.True(t, terminal)
	require.False(t, isErr)
	n, ok := result.AsI32()
	require.True(t, ok)
	require.Equal(t, int32(42), n)
}

// TestAwaitRaceAgainstAlreadyFinishedTask spawns a child, sleeps just
// long enough (by yielding control to other goroutines) that it is
// likely already Completed by the time main's await suspension reaches
// registerAwait, exercising the Snapshot-sees-terminal branch rather
// than the AddWaiterIfPending branch.
func TestAwaitRaceAgainstAlreadyFinishedTask(t *testing.T) {
	main := bytecode.NewBuilder().Spawn(1, 0).Yield().Await().Return().Build()
	child := bytecode.NewBuilder().PushI32(7).Return().Build()
	module := &bytecode.Module{Functions: []bytecode.Function{
		{Name: "main", Code: main},
		{Name: "child", Code: child},
	}}

	s := newTestScheduler(t, module)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	id := s.SpawnTopLevel(0, nil)

	require.Eventually(t, func() bool {
		_, _, terminal, found := s.TaskSnapshot(id)
		return found && terminal
	}, time.Second, time.Millisecond)

	result, isErr, _, _ := s.TaskSnapshot(id)
	require.False(t, isErr)
	n, ok := result.AsI32()
	require.True(t, ok)
	require.Equal(t, int32(7), n)
}

// waitAllModule spawns 5 children (function 1, computing arg*arg) and
// wait-alls on every handle, exercising spec §8 S3 end to end.
func waitAllModule() *bytecode.Module {
	b := bytecode.NewBuilder()
	for i := int32(1); i <= 5; i++ {
		b.PushI32(i).Spawn(1, 1)
	}
	b.WaitAll(5).Return()
	square := bytecode.NewBuilder().LoadLocal0().LoadLocal0().MulI().Return().Build()
	return &bytecode.Module{Functions: []bytecode.Function{
		{Name: "main", Code: b.Build()},
		{Name: "square", LocalCount: 1, Code: square},
	}}
}

func TestWaitAllFanOutDeliversResultsInSpawnOrder(t *testing.T) {
	s := newTestScheduler(t, waitAllModule())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	id := s.SpawnTopLevel(0, nil)
	require.Eventually(t, func() bool {
		_, _, terminal, found := s.TaskSnapshot(id)
		return found && terminal
	}, time.Second, time.Millisecond)

	result, isErr, _, _ := s.TaskSnapshot(id)
	require.False(t, isErr)
	arr, ok := value.AsPointerOf[*object.Array](result)
	require.True(t, ok)
	require.Equal(t, 5, arr.Len())
	want := []int32{1, 4, 9, 16, 25}
	for i, w := range want {
		v, err := arr.Get(i)
		require.NoError(t, err)
		n, ok := v.AsI32()
		require.True(t, ok)
		require.Equal(t, w, n)
	}
}

// TestPreemptionLetsYieldingTaskProgressAlongsideTightLoop is spec §8
// S6: a task in a non-yielding tight loop must not starve a second
// task that only yields once before finishing, even across the whole
// worker pool.
func TestPreemptionLetsYieldingTaskProgressAlongsideTightLoop(t *testing.T) {
	loop := bytecode.NewBuilder()
	loop.PushI32(0).StoreLocal0()
	loop.Label("top").
		LoadLocal0().
		PushI32(1).
		AddI().
		StoreLocal0().
		Jump("top")
	tightLoop := loop.Build()

	yielder := bytecode.NewBuilder().Yield().PushI32(1).Return().Build()

	module := &bytecode.Module{Functions: []bytecode.Function{
		{Name: "tight_loop", LocalCount: 1, Code: tightLoop},
		{Name: "yielder", Code: yielder},
	}}

	cfg := Config{Workers: 2, PreemptQuantum: 5 * time.Millisecond, PollInterval: time.Millisecond, MonitorInterval: time.Millisecond}
	s := New(cfg, value.NewHeap(1<<20), object.NewClassRegistry(), object.NewMutexTable(), interp.NewGlobals(), module, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	s.SpawnTopLevel(0, nil)
	yielderID := s.SpawnTopLevel(1, nil)

	require.Eventually(t, func() bool {
		_, _, terminal, found := s.TaskSnapshot(yielderID)
		return found && terminal
	}, 2*time.Second, time.Millisecond, "yielder must complete despite the tight loop never yielding voluntarily")
}

func TestSpawnTopLevelUnresolvedFunctionLogsAndReturnsZero(t *testing.T) {
	s := newTestScheduler(t, awaitModule())
	id := s.SpawnTopLevel(99, nil)
	require.Equal(t, value.TaskID(0), id)
}
