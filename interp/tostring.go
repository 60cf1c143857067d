package interp

import (
	"math"
	"strconv"

	"github.com/loomlang/loom/object"
	"github.com/loomlang/loom/value"
)

// genericToString implements the to-string conversion spec §4.3's
// STRINGS opcode family uses (JS-like rules: integer-valued floats
// render without a fractional part below ~1e15 magnitude, otherwise
// standard decimal). Grounded on barn/types/float.go's String() for
// the NaN/Inf special-casing idiom, diverging from its MOO "always
// show .0" rule per spec.
func genericToString(v value.Value) string {
	switch v.Kind() {
	case value.KindNull:
		return "null"
	case value.KindBool:
		b, _ := v.AsBool()
		if b {
			return "true"
		}
		return "false"
	case value.KindI32:
		n, _ := v.AsI32()
		return strconv.FormatInt(int64(n), 10)
	case value.KindI64:
		n, _ := v.AsI64()
		return strconv.FormatInt(n, 10)
	case value.KindF64:
		f, _ := v.AsF64()
		return floatToString(f)
	case value.KindPointer:
		if s, ok := value.AsPointerOf[*object.Str](v); ok {
			return s.Go()
		}
		return v.String()
	default:
		return v.String()
	}
}

func floatToString(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
