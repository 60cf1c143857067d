package runtime

import (
	"context"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/loomlang/loom/bytecode"
	"github.com/loomlang/loom/interp"
	"github.com/loomlang/loom/native"
	"github.com/loomlang/loom/object"
	"github.com/loomlang/loom/scheduler"
	"github.com/loomlang/loom/telemetry"
	"github.com/loomlang/loom/value"
)

// Runtime owns the one Heap/ClassRegistry/MutexTable/Globals/Scheduler
// set a loaded module runs under. Callers construct one per
// module instance; running two modules side by side means two
// Runtimes, each with their own heap (spec §4.1 gives no cross-module
// sharing).
type Runtime struct {
	Heap      *value.Heap
	Classes   *object.ClassRegistry
	Mutexes   *object.MutexTable
	Globals   *interp.Globals
	Module    *bytecode.Module
	Native    *native.Dispatcher
	Scheduler *scheduler.Scheduler
	Metrics   *prometheus.Registry
}

// New stamps module.BuildID with a fresh UUID if it doesn't already
// carry one (SPEC_FULL.md §11: "github.com/google/uuid — bytecode
// module build-id"), then wires a Scheduler around it per cfg. host
// is forwarded every native-call id the core dispatcher doesn't
// recognize itself (nil is legal: every core id still resolves).
func New(cfg Config, module *bytecode.Module, host interp.NativeCaller) *Runtime {
	if module.BuildID == "" {
		module.BuildID = uuid.NewString()
	}

	h := value.NewHeap(cfg.GCThresholdBytes)
	classes := object.NewClassRegistry()
	if err := classes.Load(module.Classes); err != nil {
		telemetry.L().Error("runtime: loading class table", zap.Error(err))
	}
	mutexes := object.NewMutexTable()
	globals := interp.NewGlobals()

	nativeDispatcher := native.NewDispatcher(classes, host, cfg.MaxConcurrentHostCalls)

	var reg *prometheus.Registry
	var metricsReg prometheus.Registerer
	if cfg.MetricsEnabled {
		reg = prometheus.NewRegistry()
		metricsReg = reg
	}

	schedCfg := scheduler.Config{
		Workers:                cfg.Workers,
		PreemptQuantum:         cfg.PreemptQuantum,
		PollInterval:           cfg.PollInterval,
		MonitorInterval:        cfg.MonitorInterval,
		MaxConcurrentHostCalls: cfg.MaxConcurrentHostCalls,
	}
	sched := scheduler.New(schedCfg, h, classes, mutexes, globals, module, nativeDispatcher, metricsReg)

	return &Runtime{
		Heap:      h,
		Classes:   classes,
		Mutexes:   mutexes,
		Globals:   globals,
		Module:    module,
		Native:    nativeDispatcher,
		Scheduler: sched,
		Metrics:   reg,
	}
}

// Start launches the scheduler's worker pool; it returns immediately,
// mirroring scheduler.Scheduler.Start itself.
func (r *Runtime) Start(ctx context.Context) {
	telemetry.L().Info("runtime starting", zap.String("build_id", r.Module.BuildID))
	r.Scheduler.Start(ctx)
}

// Wait blocks until every worker has stopped (context cancellation or
// a fatal worker error, whichever the errgroup surfaces first).
func (r *Runtime) Wait() error {
	return r.Scheduler.Wait()
}

// Stop requests a clean shutdown and waits for it.
func (r *Runtime) Stop() error {
	return r.Scheduler.Stop()
}

// Spawn starts a new top-level task running module function
// functionIndex with args, returning its id. This is the host's entry
// point into a freshly loaded module — no Spawner wraps it since the
// caller here isn't running inside any worker.
func (r *Runtime) Spawn(functionIndex uint32, args []value.Value) value.TaskID {
	return r.Scheduler.SpawnTopLevel(functionIndex, args)
}
