package interp

import (
	"github.com/loomlang/loom/bytecode"
	"github.com/loomlang/loom/object"
	"github.com/loomlang/loom/task"
	"github.com/loomlang/loom/value"
)

// execArithCmpStr handles the integer/float/polymorphic arithmetic
// families, comparisons, and the string opcode family. `handled`
// reports whether op belonged to one of these families at all, so the
// caller can fall through to the next dispatcher otherwise.
func (in *Interpreter) execArithCmpStr(t *task.Task, frame *task.Frame, r *bytecode.Reader, op bytecode.OpCode) (ret *value.Value, reason *Reason, err error, handled bool) {
	switch op {
	case bytecode.OpAddI, bytecode.OpSubI, bytecode.OpMulI, bytecode.OpDivI, bytecode.OpModI,
		bytecode.OpAndI, bytecode.OpOrI, bytecode.OpXorI, bytecode.OpShlI, bytecode.OpShrI, bytecode.OpUShrI:
		frame.IP = r.IP
		b, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		a, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		ai, aok := toInt64(a)
		bi, bok := toInt64(b)
		if !aok || !bok {
			return nil, nil, typeError("int-arith", a, b), true
		}
		width64 := a.IsI64() || b.IsI64()
		res, e := intBinOp(intWrapOpFor(op), ai, bi, width64)
		if e != nil {
			return nil, nil, e, true
		}
		if width64 {
			frame.Push(value.I64(res))
		} else {
			frame.Push(value.I32(int32(res)))
		}
		return nil, nil, nil, true

	case bytecode.OpAddF, bytecode.OpSubF, bytecode.OpMulF, bytecode.OpDivF:
		frame.IP = r.IP
		b, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		a, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		af, aok := a.AsF64()
		bf, bok := b.AsF64()
		if !aok || !bok {
			return nil, nil, typeError("float-arith", a, b), true
		}
		res, e := floatBinOp(floatWrapOpFor(op), af, bf)
		if e != nil {
			return nil, nil, e, true
		}
		frame.Push(value.F64(res))
		return nil, nil, nil, true

	case bytecode.OpAddNum, bytecode.OpSubNum, bytecode.OpMulNum, bytecode.OpDivNum:
		frame.IP = r.IP
		b, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		a, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		if op == bytecode.OpAddNum {
			if sv, ok := stringConcatOperands(in.Heap, a, b); ok {
				frame.Push(sv)
				return nil, nil, nil, true
			}
		}
		res, e := numericOp(numWrapOpFor(op), a, b)
		if e != nil {
			return nil, nil, e, true
		}
		frame.Push(res)
		return nil, nil, nil, true

	case bytecode.OpEq, bytecode.OpNeq, bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		frame.IP = r.IP
		b, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		a, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		res, e := evalComparison(op, a, b)
		if e != nil {
			return nil, nil, e, true
		}
		frame.Push(value.Bool(res))
		return nil, nil, nil, true

	case bytecode.OpStrConcat:
		frame.IP = r.IP
		b, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		a, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		as, aok := value.AsPointerOf[*object.Str](a)
		bs, bok := value.AsPointerOf[*object.Str](b)
		if !aok || !bok {
			return nil, nil, typeError("str.concat", a, b), true
		}
		frame.Push(value.Pointer(object.NewStr(in.Heap, as.Go()+bs.Go())))
		return nil, nil, nil, true

	case bytecode.OpStrLen:
		frame.IP = r.IP
		v, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		s, ok := value.AsPointerOf[*object.Str](v)
		if !ok {
			return nil, nil, typeError("str.len", v, value.Null), true
		}
		frame.Push(value.I32(int32(s.RuneLen())))
		return nil, nil, nil, true

	case bytecode.OpStrCmp:
		frame.IP = r.IP
		b, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		a, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		as, aok := value.AsPointerOf[*object.Str](a)
		bs, bok := value.AsPointerOf[*object.Str](b)
		if !aok || !bok {
			return nil, nil, typeError("str.cmp", a, b), true
		}
		frame.Push(value.I32(int32(as.Cmp(bs))))
		return nil, nil, nil, true

	case bytecode.OpToString:
		frame.IP = r.IP
		v, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		frame.Push(value.Pointer(object.NewStr(in.Heap, genericToString(v))))
		return nil, nil, nil, true
	}

	return nil, nil, nil, false
}

// stringConcatOperands implements OpAddNum's string-takes-precedence
// rule: if either operand is a String, the result is string
// concatenation via the generic to-string rule (spec §4.3 "String
// concatenation coerces via the generic to-string rule"), matching
// barn/vm/operations.go's executeAdd string-first check.
func stringConcatOperands(h *value.Heap, a, b value.Value) (value.Value, bool) {
	_, aIsStr := value.AsPointerOf[*object.Str](a)
	_, bIsStr := value.AsPointerOf[*object.Str](b)
	if !aIsStr && !bIsStr {
		return value.Value{}, false
	}
	return value.Pointer(object.NewStr(h, genericToString(a)+genericToString(b))), true
}

func evalComparison(op bytecode.OpCode, a, b value.Value) (bool, error) {
	if op == bytecode.OpEq {
		return a.Equal(b), nil
	}
	if op == bytecode.OpNeq {
		return !a.Equal(b), nil
	}
	c, err := compare(a, b)
	if err != nil {
		return false, err
	}
	switch op {
	case bytecode.OpLt:
		return c < 0, nil
	case bytecode.OpLe:
		return c <= 0, nil
	case bytecode.OpGt:
		return c > 0, nil
	case bytecode.OpGe:
		return c >= 0, nil
	}
	return false, nil
}

func intWrapOpFor(op bytecode.OpCode) wrapOp {
	switch op {
	case bytecode.OpAddI:
		return opAdd
	case bytecode.OpSubI:
		return opSub
	case bytecode.OpMulI:
		return opMul
	case bytecode.OpDivI:
		return opDiv
	case bytecode.OpModI:
		return opMod
	case bytecode.OpAndI:
		return opAnd
	case bytecode.OpOrI:
		return opOr
	case bytecode.OpXorI:
		return opXor
	case bytecode.OpShlI:
		return opShl
	case bytecode.OpShrI:
		return opShr
	case bytecode.OpUShrI:
		return opUShr
	}
	return opAdd
}

func floatWrapOpFor(op bytecode.OpCode) wrapOp {
	switch op {
	case bytecode.OpAddF:
		return opAdd
	case bytecode.OpSubF:
		return opSub
	case bytecode.OpMulF:
		return opMul
	case bytecode.OpDivF:
		return opDiv
	}
	return opAdd
}

func numWrapOpFor(op bytecode.OpCode) wrapOp {
	switch op {
	case bytecode.OpAddNum:
		return opAdd
	case bytecode.OpSubNum:
		return opSub
	case bytecode.OpMulNum:
		return opMul
	case bytecode.OpDivNum:
		return opDiv
	}
	return opAdd
}
