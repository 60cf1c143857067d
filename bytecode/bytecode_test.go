package bytecode

import "testing"

func TestOpCodeString(t *testing.T) {
	if OpAddI.String() != "add.i" {
		t.Fatalf("got %q", OpAddI.String())
	}
	if OpCode(255).String() != "unknown" {
		t.Fatalf("expected unknown for out-of-range opcode")
	}
}

func TestIsConcurrency(t *testing.T) {
	if !OpAwait.IsConcurrency() {
		t.Error("await must be a concurrency opcode")
	}
	if OpAddI.IsConcurrency() {
		t.Error("add.i must not be a concurrency opcode")
	}
}

func TestBuilderSimpleFunction(t *testing.T) {
	// returns 1 + 2
	code := NewBuilder().PushI32(1).PushI32(2).AddI().Return().Build()
	r := NewReader(code, 0)
	if op := r.ReadOp(); op != OpPushI32 {
		t.Fatalf("expected push.i32, got %v", op)
	}
	if v := r.ReadI32(); v != 1 {
		t.Fatalf("expected 1, got %d", v)
	}
	if op := r.ReadOp(); op != OpPushI32 {
		t.Fatalf("expected push.i32, got %v", op)
	}
	if v := r.ReadI32(); v != 2 {
		t.Fatalf("expected 2, got %d", v)
	}
	if op := r.ReadOp(); op != OpAddI {
		t.Fatalf("expected add.i, got %v", op)
	}
	if op := r.ReadOp(); op != OpReturn {
		t.Fatalf("expected return, got %v", op)
	}
	if !r.AtEnd() {
		t.Fatal("expected end of code")
	}
}

func TestBuilderLoopJump(t *testing.T) {
	b := NewBuilder()
	b.Label("top").
		LoadLocal0().
		PushI32(10).
		Lt().
		JumpIfFalse("done").
		LoadLocal0().
		PushI32(1).
		AddI().
		StoreLocal0().
		Jump("top").
		Label("done").
		ReturnVoid()
	code := b.Build()

	r := NewReader(code, 0)
	r.ReadOp() // load.local0
	r.ReadOp() // push.i32
	r.ReadI32()
	r.ReadOp() // lt
	if op := r.ReadOp(); op != OpJumpIfFalse {
		t.Fatalf("expected jump.if_false, got %v", op)
	}
	off := r.ReadI16()
	if off <= 0 {
		t.Fatalf("forward jump offset should be positive, got %d", off)
	}
}

func TestBuilderTryHandler(t *testing.T) {
	b := NewBuilder()
	b.Try("catch", "").
		PushI32(1).
		Throw().
		EndTry().
		Jump("end").
		Label("catch").
		Pop().
		Label("end").
		ReturnVoid()
	code := b.Build()
	r := NewReader(code, 0)
	if op := r.ReadOp(); op != OpTry {
		t.Fatalf("expected try, got %v", op)
	}
	catchOff := r.ReadU16()
	finallyOff := r.ReadU16()
	if finallyOff != NoFinally {
		t.Fatalf("expected NoFinally sentinel, got %d", finallyOff)
	}
	if int(catchOff) <= r.IP {
		t.Fatalf("catch offset %d should point forward past IP %d", catchOff, r.IP)
	}
}

func TestModuleAccessors(t *testing.T) {
	m := &Module{
		Constants: ConstPool{Strings: []string{"hello"}},
		Functions: []Function{{Name: "main", Code: []byte{byte(OpReturnVoid)}}},
		Classes:   []Class{{Name: "Object", ParentIndex: -1}},
	}
	f, err := m.Function(0)
	if err != nil || f.Name != "main" {
		t.Fatalf("Function(0) failed: %v %v", f, err)
	}
	if _, err := m.Function(5); err == nil {
		t.Fatal("expected out-of-range error")
	}
	c, err := m.Class(0)
	if err != nil || c.Name != "Object" {
		t.Fatalf("Class(0) failed: %v %v", c, err)
	}
	s, err := m.Constants.String(0)
	if err != nil || s != "hello" {
		t.Fatalf("String(0) failed: %v %v", s, err)
	}
}
