package value

import "testing"

func TestTruthy(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want bool
	}{
		{"null", Null, false},
		{"false", Bool(false), false},
		{"true", Bool(true), true},
		{"zero i32", I32(0), true},
		{"zero i64", I64(0), true},
		{"zero f64", F64(0), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.v.Truthy(); got != c.want {
				t.Errorf("Truthy() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestEqualCrossKind(t *testing.T) {
	if I32(1).Equal(I64(1)) {
		t.Error("i32(1) should not equal i64(1): kinds partition equality")
	}
	if !I32(5).Equal(I32(5)) {
		t.Error("i32(5) should equal i32(5)")
	}
	if F64(1.5).Equal(F64(1.5)) == false {
		t.Error("f64(1.5) should equal f64(1.5)")
	}
}

type fakeObj struct {
	Header
	name string
}

func (f *fakeObj) Trace(out []Value) []Value { return out }
func (f *fakeObj) TypeName() string          { return "fake" }

func TestPointerIdentity(t *testing.T) {
	a := &fakeObj{name: "a"}
	b := &fakeObj{name: "a"}
	va, vb := Pointer(a), Pointer(b)
	if va.Equal(vb) {
		t.Error("distinct objects with equal contents must not be Value-equal: pointers compare by identity")
	}
	if !va.Equal(Pointer(a)) {
		t.Error("same object must be Value-equal to itself")
	}
}

func TestAsPointerOf(t *testing.T) {
	a := &fakeObj{name: "x"}
	v := Pointer(a)
	got, ok := AsPointerOf[*fakeObj](v)
	if !ok || got != a {
		t.Fatalf("AsPointerOf failed to narrow: ok=%v got=%v", ok, got)
	}
	if _, ok := AsPointerOf[*fakeObj](I32(1)); ok {
		t.Error("AsPointerOf on a non-pointer value must fail")
	}
}

func TestNumericRoundTrip(t *testing.T) {
	if v, ok := I32(-7).AsI32(); !ok || v != -7 {
		t.Fatalf("I32 round trip failed: %v %v", v, ok)
	}
	if v, ok := I64(1 << 40).AsI64(); !ok || v != 1<<40 {
		t.Fatalf("I64 round trip failed: %v %v", v, ok)
	}
	if v, ok := F64(3.25).AsF64(); !ok || v != 3.25 {
		t.Fatalf("F64 round trip failed: %v %v", v, ok)
	}
}
