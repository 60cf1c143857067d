package interp

import (
	"github.com/loomlang/loom/bytecode"
	"github.com/loomlang/loom/task"
	"github.com/loomlang/loom/value"
)

// execJump handles the control-flow jump family. Backward jumps poll
// the safepoint (spec §4.3 "Backward jumps MUST poll the safepoint");
// since this runtime's safepoint is a GC-pause barrier rather than a
// counter, "poll" here means briefly acquiring Heap's read-side gate so
// a stop-the-world collector requested by another worker can proceed.
func (in *Interpreter) execJump(t *task.Task, frame *task.Frame, r *bytecode.Reader, op bytecode.OpCode) (*value.Value, *Reason, error) {
	offset := r.ReadI16()
	target := r.IP + int(offset)
	frame.IP = r.IP

	switch op {
	case bytecode.OpJump:
		frame.IP = target
	case bytecode.OpJumpIfTrue:
		v, err := frame.Pop()
		if err != nil {
			return nil, nil, err
		}
		if v.Truthy() {
			frame.IP = target
		}
	case bytecode.OpJumpIfFalse:
		v, err := frame.Pop()
		if err != nil {
			return nil, nil, err
		}
		if !v.Truthy() {
			frame.IP = target
		}
	case bytecode.OpJumpIfNull:
		v, err := frame.Pop()
		if err != nil {
			return nil, nil, err
		}
		if v.IsNull() {
			frame.IP = target
		}
	case bytecode.OpJumpIfNotNull:
		v, err := frame.Pop()
		if err != nil {
			return nil, nil, err
		}
		if !v.IsNull() {
			frame.IP = target
		}
	}

	if offset < 0 {
		in.Heap.SafepointPoll()
	}
	return nil, nil, nil
}
