// Package scheduler implements the M:N worker pool spec §4.4
// describes: W OS-level workers running N user-level Tasks, a
// per-worker double-ended run queue fed by a shared injector and
// work-stealing from peers' tail ends, plus the suspension/wake
// bookkeeping (await, wait-all, sleep, channel, mutex) the interpreter
// itself never touches.
//
// Grounded on barn/server/scheduler.go's worker-pool shape (ticker-
// driven idle poll, per-connection goroutine-per-task before this
// rewrite) generalized to work-stealing, and on noisefs's
// WorkerPoolOptimizer for the ctx/cancel/errgroup/atomic-counters
// idiom used to supervise the worker goroutines.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/loomlang/loom/bytecode"
	"github.com/loomlang/loom/interp"
	"github.com/loomlang/loom/object"
	"github.com/loomlang/loom/task"
	"github.com/loomlang/loom/telemetry"
	"github.com/loomlang/loom/value"
)

// Config tunes the scheduler. Zero values are replaced by sane
// defaults in withDefaults.
type Config struct {
	// Workers is the number of OS-level worker goroutines (the "W" in
	// spec §4.4's M:N model). Defaults to GOMAXPROCS.
	Workers int

	// PreemptQuantum bounds how long a single Running task may hold a
	// worker before the monitor requests preemption (spec §4.4/§12).
	PreemptQuantum time.Duration

	// PollInterval is how often an idle worker wakes up to recheck the
	// injector/timers even absent a signal, guarding against a missed
	// wakeup (grounded on the teacher's ticker-driven idle poll).
	PollInterval time.Duration

	// MonitorInterval is how often the preemption monitor scans
	// running tasks and the timer wheel fires due sleepers.
	MonitorInterval time.Duration

	// MaxConcurrentHostCalls caps in-flight native.Dispatcher host
	// calls; 0 leaves it to native.NewDispatcher's own default.
	MaxConcurrentHostCalls int64
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.PreemptQuantum <= 0 {
		c.PreemptQuantum = 20 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Millisecond
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 2 * time.Millisecond
	}
	return c
}

// Scheduler owns every shared resource spec §4.4's "Shared resources"
// section names (task registry, globals, class registry, GC) and runs
// the M:N worker pool over a single loaded Module. It implements
// interp.Spawner structurally: nothing in package interp imports this
// package.
type Scheduler struct {
	cfg Config

	heap    *value.Heap
	classes *object.ClassRegistry
	mutexes *object.MutexTable
	globals *interp.Globals
	module  *bytecode.Module
	native  interp.NativeCaller

	metrics *Metrics
	log     *zap.Logger

	registry *taskRegistry
	waitAll  *waitAllTracker
	timers   *timerWheel

	nextTaskID taskIDCounter

	deques []*localDeque

	injectorMu sync.Mutex
	injector   []*task.Task
	wake       chan struct{}

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New builds a Scheduler over an already-constructed heap, class
// registry, mutex table, globals table, and loaded module. native may
// be nil only if the module never executes OpNativeCall: with no
// NativeCaller every native call fails, core ids included. metricsReg
// may be nil to disable metrics entirely (pass prometheus.NewRegistry()
// otherwise, not the global DefaultRegisterer — see NewMetrics).
func New(cfg Config, h *value.Heap, classes *object.ClassRegistry, mutexes *object.MutexTable, globals *interp.Globals, module *bytecode.Module, native interp.NativeCaller, metricsReg prometheus.Registerer) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg:      cfg,
		heap:     h,
		classes:  classes,
		mutexes:  mutexes,
		globals:  globals,
		module:   module,
		native:   native,
		registry: newTaskRegistry(),
		waitAll:  newWaitAllTracker(h),
		timers:   newTimerWheel(),
		deques:   make([]*localDeque, cfg.Workers),
		wake:     make(chan struct{}, 1),
		log:      telemetry.L(),
	}
	if metricsReg != nil {
		s.metrics = NewMetrics(metricsReg)
		s.metrics.Workers.Set(float64(cfg.Workers))
	}
	for i := range s.deques {
		s.deques[i] = newLocalDeque()
	}

	// Root registration happens once, here, rather than per task
	// (spec §4.1's root list): the class registry's statics, the
	// global-variable table, and every live task's stacks (via
	// taskRegistry.Roots, which fans out to each contained task).
	h.AddRoot(classes)
	h.AddRoot(globals)
	h.AddRoot(s.registry)

	return s
}

// workerSpawner is what each worker actually hands to interp.New: the
// same Scheduler, tagged with the spawning worker's deque index so a
// freshly spawned child lands on that worker's own local deque rather
// than the shared injector (spec §4.4 "per-worker queue" locality —
// the spawning worker is the most likely next runner of what it just
// created, e.g. a producer immediately awaiting its own child).
type workerSpawner struct {
	*Scheduler
	idx int
}

func (w workerSpawner) SpawnFunction(functionIndex uint32, args []value.Value, parent value.TaskID) value.TaskID {
	return w.Scheduler.spawnFunction(w.idx, functionIndex, args, parent)
}

func (w workerSpawner) SpawnClosure(closureVal value.Value, args []value.Value, parent value.TaskID) value.TaskID {
	return w.Scheduler.spawnClosure(w.idx, closureVal, args, parent)
}

func (s *Scheduler) spawnFunction(workerIdx int, functionIndex uint32, args []value.Value, parent value.TaskID) value.TaskID {
	fn, err := s.module.Function(functionIndex)
	if err != nil {
		s.log.Error("spawn: unresolved function", zap.Error(err))
		return 0
	}
	id := s.nextTaskID.next()
	t := task.New(id, s.module, fn, functionIndex, args, parent, true)
	s.admit(workerIdx, t)
	return id
}

// spawnClosure implements the closure-spawn half of interp.Spawner.
// task.New has no closure parameter, so the closure's captured
// environment is attached to the freshly built entry frame afterward,
// mirroring pushFunctionFrame's "nf.Closure = closure" line exactly
// (interp/opcodes_calls.go).
func (s *Scheduler) spawnClosure(workerIdx int, closureVal value.Value, args []value.Value, parent value.TaskID) value.TaskID {
	closure, ok := value.AsPointerOf[*object.Closure](closureVal)
	if !ok {
		s.log.Error("spawn_closure: value is not a closure")
		return 0
	}
	fn, err := s.module.Function(closure.FunctionIndex)
	if err != nil {
		s.log.Error("spawn_closure: unresolved function", zap.Error(err))
		return 0
	}
	id := s.nextTaskID.next()
	t := task.New(id, s.module, fn, closure.FunctionIndex, args, parent, true)
	t.CurrentFrame().Closure = closureVal
	s.admit(workerIdx, t)
	return id
}

// TaskSnapshot reports a spawned task's terminal value, if any, for a
// host embedding this scheduler to poll after SpawnTopLevel (e.g. in
// tests, or a synchronous "run one task to completion" CLI path).
// found is false if id was never registered with this scheduler.
func (s *Scheduler) TaskSnapshot(id value.TaskID) (result value.Value, isErr bool, terminal bool, found bool) {
	t, ok := s.registry.get(id)
	if !ok {
		return value.Value{}, false, false, false
	}
	result, isErr, terminal = t.Snapshot()
	return result, isErr, terminal, true
}

// SpawnTopLevel starts a new task with no parent, for a host embedding
// this scheduler to kick off a module's entry point — the one spawn
// path interp.Spawner never needs, since every in-language spawn
// (OpSpawn/OpSpawnClosure) always has a running task behind it.
func (s *Scheduler) SpawnTopLevel(functionIndex uint32, args []value.Value) value.TaskID {
	fn, err := s.module.Function(functionIndex)
	if err != nil {
		s.log.Error("spawn_top_level: unresolved function", zap.Error(err))
		return 0
	}
	id := s.nextTaskID.next()
	t := task.New(id, s.module, fn, functionIndex, args, 0, false)
	s.admit(-1, t)
	return id
}

func (s *Scheduler) admit(workerIdx int, t *task.Task) {
	s.registry.add(t)
	if s.metrics != nil {
		s.metrics.TasksSpawned.Inc()
	}
	s.enqueueLocal(workerIdx, t)
}

// Start launches the worker pool plus one monitor goroutine (preemption,
// due timers, GC polling), all supervised by one errgroup.Group: the first fatal
// error from any of them cancels the shared context and is returned by
// Wait.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	s.group = g

	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		g.Go(func() error { return s.workerLoop(gctx, idx) })
	}
	g.Go(func() error { return s.monitorLoop(gctx) })
}

// Wait blocks until every supervised goroutine has returned, as
// errgroup.Group.Wait does, and reports the first non-nil error (if
// any is anything other than context.Canceled from a clean Stop).
func (s *Scheduler) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// Stop requests every worker and the monitor to exit at their next
// safepoint and blocks until they have.
func (s *Scheduler) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (s *Scheduler) enqueueInjector(t *task.Task) {
	s.injectorMu.Lock()
	s.injector = append(s.injector, t)
	s.injectorMu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	if s.metrics != nil {
		s.metrics.Runnable.Inc()
	}
}

func (s *Scheduler) popInjector() *task.Task {
	s.injectorMu.Lock()
	defer s.injectorMu.Unlock()
	if len(s.injector) == 0 {
		return nil
	}
	t := s.injector[0]
	s.injector = s.injector[1:]
	return t
}

// stealFrom looks for runnable work on every other worker's deque tail
// before the caller gives up and idles (spec §4.4 "work-stealing from
// peers' tail ends").
func (s *Scheduler) stealFrom(self int) *task.Task {
	n := len(s.deques)
	for i := 1; i < n; i++ {
		idx := (self + i) % n
		if t := s.deques[idx].stealTail(); t != nil {
			return t
		}
	}
	return nil
}

// enqueue is the default, worker-agnostic path used for wakes that
// don't have a natural "preferred" worker (await/wait-all resolution,
// mutex/channel hand-off, timer firing): those always go through the
// shared injector.
func (s *Scheduler) enqueue(t *task.Task) {
	s.enqueueInjector(t)
}

// enqueueLocal puts t on workerIdx's own deque when that index is
// valid, falling back to the injector otherwise (e.g. a spawn that
// somehow arrives with no real worker context attached).
func (s *Scheduler) enqueueLocal(workerIdx int, t *task.Task) {
	if workerIdx < 0 || workerIdx >= len(s.deques) {
		s.enqueueInjector(t)
		return
	}
	s.deques[workerIdx].pushHead(t)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	if s.metrics != nil {
		s.metrics.Runnable.Inc()
	}
}

func (s *Scheduler) workerLoop(ctx context.Context, idx int) error {
	deque := s.deques[idx]
	log := telemetry.ForWorker(idx)
	in := interp.New(s.heap, s.classes, s.mutexes, s.globals, workerSpawner{s, idx}, s.native)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		t := deque.popHead()
		if t == nil {
			t = s.popInjector()
		}
		if t == nil {
			t = s.stealFrom(idx)
		}
		if t == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
			case <-ticker.C:
			}
			continue
		}

		if s.metrics != nil {
			s.metrics.Runnable.Dec()
		}
		s.runOne(idx, in, t, log)
	}
}

func (s *Scheduler) runOne(workerIdx int, in *interp.Interpreter, t *task.Task, log *zap.Logger) {
	if err := t.SetState(task.Running); err != nil {
		log.Error("illegal resume", zap.Error(err), zap.Int64("task_id", int64(t.ID)))
		return
	}
	t.SetStartTime(time.Now())
	outcome := in.Run(t)
	t.ClearStartTime()
	s.processOutcome(workerIdx, t, outcome)
}

func (s *Scheduler) processOutcome(workerIdx int, t *task.Task, o interp.Outcome) {
	s.deliverWakes(o.Wakes)

	switch o.Kind {
	case interp.OutcomeCompleted:
		if err := t.Complete(o.Result); err != nil {
			s.log.Error("complete: illegal transition", zap.Error(err), zap.Int64("task_id", int64(t.ID)))
			return
		}
		s.finish(t, o.Result, false)

	case interp.OutcomeFailed:
		if err := t.Fail(o.Err); err != nil {
			s.log.Error("fail: illegal transition", zap.Error(err), zap.Int64("task_id", int64(t.ID)))
			return
		}
		s.finish(t, o.Err, true)

	case interp.OutcomeSuspended:
		if err := t.SetState(task.Suspended); err != nil {
			s.log.Error("suspend: illegal transition", zap.Error(err), zap.Int64("task_id", int64(t.ID)))
			return
		}
		s.handleSuspend(workerIdx, t, o.Reason)
	}

	if s.metrics != nil {
		s.metrics.Workers.Set(float64(s.cfg.Workers))
	}
}

// finish runs every bit of bookkeeping a terminal task triggers:
// simple-await waiters (already registered via task.AddWaiterIfPending,
// drained here through TakeWaiters and resolved the same way a
// suspension-time wake is) and wait-all groups watching it. Completed/
// failed tasks stay in the registry for the scheduler's lifetime
// rather than being pruned here: a wait-all or await suspension that
// reaches the scheduler after this point still needs task.Snapshot to
// be answerable via registry.get, and nothing elsewhere tracks "is
// this id still awaitable" precisely enough to prune safely. A
// production build would reap entries once the heap's own reachability
// shows no live Value can reference the id anymore; that reaper is not
// implemented here (see DESIGN.md).
func (s *Scheduler) finish(t *task.Task, v value.Value, isErr bool) {
	if s.metrics != nil {
		s.metrics.TasksFinished.Inc()
	}

	for _, waiterID := range t.TakeWaiters() {
		waiter, ok := s.registry.get(waiterID)
		if !ok {
			continue
		}
		if isErr {
			waiter.SetPending(v)
		} else {
			waiter.SetResumeValue(v)
		}
		s.resume(waiter)
	}

	for waiterID, res := range s.waitAll.complete(t.ID, v, isErr) {
		waiter, ok := s.registry.get(waiterID)
		if !ok {
			continue
		}
		if res.isErr {
			waiter.SetPending(res.value)
		} else {
			waiter.SetResumeValue(res.value)
		}
		s.resume(waiter)
	}
}

// resume transitions a Suspended task to Resumed and re-enqueues it;
// used for every wake path (await/wait-all resolution, mutex grant,
// channel hand-off, sleep, yield).
func (s *Scheduler) resume(t *task.Task) {
	if err := t.SetState(task.Resumed); err != nil {
		s.log.Error("resume: illegal transition", zap.Error(err), zap.Int64("task_id", int64(t.ID)))
		return
	}
	s.enqueue(t)
}

// deliverWakes applies every WakeRequest an Outcome carried — mutex
// hand-off, channel send/receive hand-off, channel-close exceptions —
// before this task's own Completed/Failed/Suspended handling, since a
// wake can target any other live task regardless of what just happened
// to the one that produced it.
func (s *Scheduler) deliverWakes(wakes []interp.WakeRequest) {
	for _, w := range wakes {
		target, ok := s.registry.get(w.Task)
		if !ok {
			continue
		}
		if w.MutexGrant {
			target.AddHeldMutex(w.GrantedMutex)
			if s.metrics != nil {
				s.metrics.BlockedMutex.Dec()
			}
		}
		if w.HasException {
			target.SetPending(w.Exception)
		} else if w.HasValue {
			target.SetResumeValue(w.Value)
		}
		s.resume(target)
	}
}

// handleSuspend routes a freshly Suspended task to whatever structure
// owns its wake condition. ChannelSend/ChannelReceive/MutexLock need no
// action here: object.Channel/object.Mutex already parked the task as
// a waiter inside themselves (Send/Receive/Enqueue, called from
// interp's opcode handlers) before returning the suspending status, so
// the task is already correctly parked; a future counterpart operation
// produces the WakeRequest that resumes it.
func (s *Scheduler) handleSuspend(workerIdx int, t *task.Task, r interp.Reason) {
	switch r.Kind {
	case interp.ReasonAwaitTask:
		s.registerAwait(t, r.AwaitTask)

	case interp.ReasonWaitAll:
		s.registerWaitAll(t, r.WaitAll)

	case interp.ReasonSleep:
		s.timers.schedule(t.ID, time.Unix(0, r.WakeAtUnixNano))

	case interp.ReasonYield:
		// Stays on the same worker's own deque: a cooperative yield
		// means "let others run first", not "lost all locality".
		if err := t.SetState(task.Resumed); err != nil {
			s.log.Error("resume: illegal transition", zap.Error(err), zap.Int64("task_id", int64(t.ID)))
			return
		}
		s.enqueueLocal(workerIdx, t)

	case interp.ReasonChannelSend, interp.ReasonChannelReceive, interp.ReasonMutexLock:
		if s.metrics != nil && r.Kind == interp.ReasonMutexLock {
			s.metrics.BlockedMutex.Inc()
		}
		// already parked inside the Channel/Mutex object; nothing to do.

	default:
		s.log.Error("unknown suspension reason", zap.Int("reason_kind", int(r.Kind)), zap.Int64("task_id", int64(t.ID)))
	}
}

func (s *Scheduler) registerAwait(t *task.Task, awaited value.TaskID) {
	watched, ok := s.registry.get(awaited)
	if !ok {
		exc := s.unknownTaskException(awaited)
		t.SetPending(exc)
		s.resume(t)
		return
	}
	if v, isErr, terminal := watched.Snapshot(); terminal {
		if isErr {
			t.SetPending(v)
		} else {
			t.SetResumeValue(v)
		}
		s.resume(t)
		return
	}
	if watched.AddWaiterIfPending(t.ID) {
		return
	}
	// watched became terminal between Snapshot and AddWaiterIfPending.
	v, isErr, _ := watched.Snapshot()
	if isErr {
		t.SetPending(v)
	} else {
		t.SetResumeValue(v)
	}
	s.resume(t)
}

func (s *Scheduler) registerWaitAll(t *task.Task, ids []value.TaskID) {
	already := func(id value.TaskID) (value.Value, bool, bool) {
		watched, ok := s.registry.get(id)
		if !ok {
			return s.unknownTaskException(id), true, true
		}
		v, isErr, terminal := watched.Snapshot()
		return v, isErr, terminal
	}
	if res := s.waitAll.register(t.ID, ids, already); res != nil {
		if res.isErr {
			t.SetPending(res.value)
		} else {
			t.SetResumeValue(res.value)
		}
		s.resume(t)
	}
}

func (s *Scheduler) unknownTaskException(id value.TaskID) value.Value {
	msg := object.NewStr(s.heap, fmt.Sprintf("await/wait_all: unknown task %d", id))
	exc := object.NewException(s.heap, value.ErrRuntime, value.Pointer(msg), value.Null)
	return value.Pointer(exc)
}

// monitorLoop is the single goroutine spec §4.4/§12 describes as
// observing "each Running task's elapsed time against a bound" and
// firing due sleepers: it owns RequestPreempt (the interpreter's own
// dispatch loop is the only thing that ever clears it, at the
// safepoint it voluntarily yields from) and drains the timer wheel.
func (s *Scheduler) monitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.checkPreemption()
			s.wakeDueTimers()
			s.pollGC()
		}
	}
}

func (s *Scheduler) checkPreemption() {
	now := time.Now()
	for _, t := range s.registry.snapshot() {
		if t.State() != task.Running {
			continue
		}
		start := t.StartTime()
		if start.IsZero() {
			continue
		}
		if now.Sub(start) >= s.cfg.PreemptQuantum {
			t.RequestPreempt()
		}
	}
}

func (s *Scheduler) wakeDueTimers() {
	for _, id := range s.timers.due(time.Now()) {
		t, ok := s.registry.get(id)
		if !ok {
			continue
		}
		s.resume(t)
	}
}

// pollGC triggers a collection when the heap's own allocation counter
// crosses Threshold (spec §4.1 GC). The monitor only decides *when* to
// call Collect; the actual worker/GC coordination is Heap's own
// gcBarrier, entered by every dispatch-loop iteration's SafepointPoll
// (see value.Heap.Collect's doc comment for the approximation this
// accepts).
func (s *Scheduler) pollGC() {
	if !s.heap.GCRequested() {
		return
	}
	start := time.Now()
	s.heap.Collect()
	if s.metrics != nil {
		s.metrics.GCPause.Observe(time.Since(start).Seconds())
	}
}

// taskIDCounter hands out monotonically increasing, 1-based task ids.
type taskIDCounter struct {
	mu     sync.Mutex
	lastID int64
}

func (c *taskIDCounter) next() value.TaskID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastID++
	return value.TaskID(c.lastID)
}
