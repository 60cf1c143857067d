package interp

import (
	"github.com/loomlang/loom/bytecode"
	"github.com/loomlang/loom/value"
)

// Spawner is implemented by package scheduler. interp depends on it
// only through this interface so scheduler can depend on interp
// without interp ever importing scheduler back (spec §4.4 keeps the
// scheduler and interpreter as separate concerns; this is the Go-level
// seam that enforces the one-directional package graph).
type Spawner interface {
	// SpawnFunction creates a new task entering fn directly and enqueues
	// it for execution, returning its id.
	SpawnFunction(functionIndex uint32, args []value.Value, parent value.TaskID) value.TaskID
	// SpawnClosure creates a new task entering the given closure.
	SpawnClosure(closure value.Value, args []value.Value, parent value.TaskID) value.TaskID
}

// NativeCaller is implemented by package native. Structural typing
// again avoids interp importing native (spec §6 "native-call id ->
// handler dispatch").
type NativeCaller interface {
	// Call invokes native handler id with argc values popped off the
	// caller's stack (args[0] is the deepest/first-pushed argument).
	// It may allocate on the interpreter's heap and may itself re-enter bytecode (spec §4.3
	// "Nested calls") through the supplied Interpreter, which is why it
	// receives one rather than just the raw heap/registry.
	Call(interp *Interpreter, id uint16, args []value.Value) (value.Value, error)
}

// moduleFunc is the minimal view interp needs of a loaded function,
// satisfied directly by *bytecode.Function.
type moduleFunc = bytecode.Function
