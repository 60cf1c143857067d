package interp

import (
	"fmt"

	"github.com/loomlang/loom/value"
)

// intBinOp is one of the wrapping integer operators (spec §4.3
// "integer (wrapping add/sub/mul, trapping div/mod on zero, bit ops,
// shifts including logical right)"). Grounded on
// barn/vm/operations.go's executeAdd/executeSub/... family, widened
// from MOO's single int kind to i32/i64 and to always-wraps semantics
// (the teacher traps on MININT/-1 for a different, 1-word int type;
// this runtime has two explicit widths instead and relies on Go's
// defined twos-complement wraparound directly).
// width64 tells opUShr whether a/b originated as i64 (shift the full
// 64 bits) or i32 (shift only the low 32 bits so a sign-extended
// negative i32 doesn't drag 1-bits in from above the 32nd position —
// spec §8 property #9, "x >>> n is logical shift").
func intBinOp(op wrapOp, a, b int64, width64 bool) (int64, error) {
	switch op {
	case opAdd:
		return a + b, nil
	case opSub:
		return a - b, nil
	case opMul:
		return a * b, nil
	case opDiv:
		if b == 0 {
			return 0, arithError("division by zero")
		}
		return a / b, nil
	case opMod:
		if b == 0 {
			return 0, arithError("modulo by zero")
		}
		return a % b, nil
	case opAnd:
		return a & b, nil
	case opOr:
		return a | b, nil
	case opXor:
		return a ^ b, nil
	case opShl:
		return a << uint(b&63), nil
	case opShr:
		return a >> uint(b&63), nil
	case opUShr:
		if width64 {
			return int64(uint64(a) >> uint(b&63)), nil
		}
		return int64(uint32(a) >> uint(b&31)), nil
	}
	return 0, fmt.Errorf("interp: unknown integer op %d", op)
}

type wrapOp int

const (
	opAdd wrapOp = iota
	opSub
	opMul
	opDiv
	opMod
	opAnd
	opOr
	opXor
	opShl
	opShr
	opUShr
)

// arithRuntimeError is a typed error so the unwinder can tag the
// resulting exception with ErrArithmetic instead of the generic
// ErrRuntime (spec §7 "ArithmeticError: integer division or modulo by
// zero").
type arithRuntimeError string

func (e arithRuntimeError) Error() string { return string(e) }

func arithError(msg string) error { return arithRuntimeError(msg) }

func floatBinOp(op wrapOp, a, b float64) (float64, error) {
	switch op {
	case opAdd:
		return a + b, nil
	case opSub:
		return a - b, nil
	case opMul:
		return a * b, nil
	case opDiv:
		// spec §4.3: "Division by zero: integer raises; float produces
		// NaN" — no error here, IEEE semantics apply directly.
		return a / b, nil
	}
	return 0, fmt.Errorf("interp: unknown float op %d", op)
}

// numericOp implements the polymorphic numeric family (spec §4.3
// "picks float vs int by operand kind; division always yields float").
// Promotion: i32 op i32 stays i32 (narrowed back down after a 64-bit
// compute so wraparound is the 32-bit kind's, not 64-bit's); any i64
// operand promotes to i64; any float operand promotes to float.
func numericOp(op wrapOp, a, b value.Value) (value.Value, error) {
	if op == opDiv {
		af, aok := toFloat(a)
		bf, bok := toFloat(b)
		if !aok || !bok {
			return value.Value{}, typeError("div", a, b)
		}
		if isIntKind(a) && isIntKind(b) {
			bi, _ := toInt64(b)
			if bi == 0 {
				return value.Value{}, arithError("division by zero")
			}
		}
		r, _ := floatBinOp(opDiv, af, bf)
		return value.F64(r), nil
	}

	if a.IsF64() || b.IsF64() {
		af, aok := toFloat(a)
		bf, bok := toFloat(b)
		if !aok || !bok {
			return value.Value{}, typeError("arith", a, b)
		}
		r, err := floatBinOp(op, af, bf)
		if err != nil {
			return value.Value{}, err
		}
		return value.F64(r), nil
	}

	ai, aok := toInt64(a)
	bi, bok := toInt64(b)
	if !aok || !bok {
		return value.Value{}, typeError("arith", a, b)
	}
	width64 := a.IsI64() || b.IsI64()
	r, err := intBinOp(op, ai, bi, width64)
	if err != nil {
		return value.Value{}, err
	}
	if width64 {
		return value.I64(r), nil
	}
	return value.I32(int32(r)), nil
}

func isIntKind(v value.Value) bool { return v.IsI32() || v.IsI64() }

func toInt64(v value.Value) (int64, bool) {
	if n, ok := v.AsI32(); ok {
		return int64(n), true
	}
	if n, ok := v.AsI64(); ok {
		return n, true
	}
	return 0, false
}

func toFloat(v value.Value) (float64, bool) {
	if f, ok := v.AsF64(); ok {
		return f, true
	}
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}

func typeError(op string, a, b value.Value) error {
	return fmt.Errorf("type error: invalid operands for %s (%s, %s)", op, a.Kind(), b.Kind())
}

// compare implements the ordering comparisons (spec §4.3 "Comparisons:
// per type"), numeric-only: int/int, float/float, and mixed int/float
// via the same promotion the arithmetic family uses.
func compare(a, b value.Value) (int, error) {
	if a.IsF64() || b.IsF64() {
		af, aok := toFloat(a)
		bf, bok := toFloat(b)
		if !aok || !bok {
			return 0, typeError("cmp", a, b)
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	ai, aok := toInt64(a)
	bi, bok := toInt64(b)
	if !aok || !bok {
		return 0, typeError("cmp", a, b)
	}
	switch {
	case ai < bi:
		return -1, nil
	case ai > bi:
		return 1, nil
	default:
		return 0, nil
	}
}
