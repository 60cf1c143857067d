// Package telemetry is the process-wide structured logger (SPEC_FULL.md
// §10.1): a thin wrapper over go.uber.org/zap replacing the teacher's
// hand-rolled trace.Tracer (fmt.Fprintf to an io.Writer, a global
// enabled flag, glob filters on verb name) while keeping the same
// event vocabulary the teacher traced — call, return, exception, task
// suspend/resume/fork, GC cycle, worker start/stop, preemption — now
// as leveled, greppable-by-field log lines instead of fixed-format
// text.
package telemetry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	logger *zap.Logger
)

// Init builds the process logger. development selects zap's console
// encoder preset (human-readable, colorized level, caller) the way the
// teacher's -trace flag selects stderr text output; production selects
// the JSON preset for log aggregation. Each call builds a fresh logger
// and replaces the previous one; cmd/loomrun calls it once at startup.
func Init(development bool, level zapcore.Level) error {
	mu.Lock()
	defer mu.Unlock()

	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	built, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("telemetry: building logger: %w", err)
	}
	logger = built
	return nil
}

// L returns the process logger. Before Init is called it returns
// zap.NewNop(), so packages that log during early startup or in tests
// that never call Init don't need a nil check.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// Sync flushes any buffered log entries; cmd/loomrun defers this at
// startup. Errors from Sync on stderr/stdout (ENOTTY on a plain
// terminal) are expected and intentionally discarded, matching zap's
// own documented guidance.
func Sync() {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l != nil {
		_ = l.Sync()
	}
}

// ForTask derives a per-task logger (§10.1 "greppable per task"),
// mirroring the teacher's VerbCall/VerbReturn/Exception trio but keyed
// on task id instead of object:verb name.
func ForTask(taskID int64) *zap.Logger {
	return L().With(zap.Int64("task_id", taskID))
}

// ForWorker derives a per-worker logger.
func ForWorker(n int) *zap.Logger {
	return L().With(zap.Int("worker", n))
}
