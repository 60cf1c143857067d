package native

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomlang/loom/bytecode"
	"github.com/loomlang/loom/interp"
	"github.com/loomlang/loom/object"
	"github.com/loomlang/loom/value"
)

func newTestInterp(t *testing.T) (*interp.Interpreter, *value.Heap) {
	t.Helper()
	h := value.NewHeap(1 << 20)
	return &interp.Interpreter{Heap: h, Classes: object.NewClassRegistry(), Globals: interp.NewGlobals()}, h
}

func strVal(h *value.Heap, s string) value.Value {
	return value.Pointer(object.NewStr(h, s))
}

func TestCryptHashAndVerifyBcrypt(t *testing.T) {
	d := NewDispatcher(object.NewClassRegistry(), nil, 0)
	in, h := newTestInterp(t)

	hashed, err := d.Call(in, IDCryptHash, []value.Value{strVal(h, "hunter2"), strVal(h, "$2a$")})
	require.NoError(t, err)
	stored, ok := stringArg(hashed)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$"))

	ok2, err := d.Call(in, IDCryptVerify, []value.Value{strVal(h, "hunter2"), strVal(h, stored)})
	require.NoError(t, err)
	b, _ := ok2.AsBool()
	require.True(t, b)

	bad, err := d.Call(in, IDCryptVerify, []value.Value{strVal(h, "wrong"), strVal(h, stored)})
	require.NoError(t, err)
	b2, _ := bad.AsBool()
	require.False(t, b2)
}

func TestCryptHashDefaultSchemeRoundTrips(t *testing.T) {
	d := NewDispatcher(object.NewClassRegistry(), nil, 0)
	in, h := newTestInterp(t)

	hashed, err := d.Call(in, IDCryptHash, []value.Value{strVal(h, "hunter2")})
	require.NoError(t, err)
	stored, ok := stringArg(hashed)
	require.True(t, ok)
	require.NotEmpty(t, stored)

	verified, err := d.Call(in, IDCryptVerify, []value.Value{strVal(h, "hunter2"), strVal(h, stored)})
	require.NoError(t, err)
	b, _ := verified.AsBool()
	require.True(t, b)
}

func TestStringHashKnownVectors(t *testing.T) {
	d := NewDispatcher(object.NewClassRegistry(), nil, 0)
	in, h := newTestInterp(t)

	cases := []struct {
		algo string
		want string
	}{
		{"md5", "5D41402ABC4B2A76B9719D911017C592"},
		{"sha1", "AAF4C61DDCC5E8A2DABEDE0F3B482CD9AEA9434D"},
	}
	for _, c := range cases {
		out, err := d.Call(in, IDStringHash, []value.Value{strVal(h, "hello"), strVal(h, c.algo)})
		require.NoError(t, err)
		digest, ok := stringArg(out)
		require.True(t, ok)
		require.Equal(t, c.want, digest)
	}
}

func TestStringHashUnknownAlgoErrors(t *testing.T) {
	d := NewDispatcher(object.NewClassRegistry(), nil, 0)
	in, h := newTestInterp(t)
	_, err := d.Call(in, IDStringHash, []value.Value{strVal(h, "hello"), strVal(h, "not-an-algo")})
	require.Error(t, err)
}

func TestDateArithmetic(t *testing.T) {
	d := NewDispatcher(object.NewClassRegistry(), nil, 0)
	in, _ := newTestInterp(t)

	sum, err := d.Call(in, IDDateAddMillis, []value.Value{value.I64(1000), value.I64(500)})
	require.NoError(t, err)
	n, _ := sum.AsI64()
	require.Equal(t, int64(1500), n)

	diff, err := d.Call(in, IDDateDiffMillis, []value.Value{value.I64(1500), value.I64(500)})
	require.NoError(t, err)
	n2, _ := diff.AsI64()
	require.Equal(t, int64(1000), n2)

	now, err := d.Call(in, IDDateNowMillis, nil)
	require.NoError(t, err)
	n3, ok := now.AsI64()
	require.True(t, ok)
	require.Greater(t, n3, int64(0))
}

func TestJSONStringifyAndParseRoundTripArray(t *testing.T) {
	d := NewDispatcher(object.NewClassRegistry(), nil, 0)
	in, h := newTestInterp(t)

	arr := value.Pointer(object.NewArray(h, -1, []value.Value{value.I32(1), value.I32(2), value.I32(3)}))
	out, err := d.Call(in, IDJSONStringify, []value.Value{arr})
	require.NoError(t, err)
	encoded, ok := stringArg(out)
	require.True(t, ok)
	require.Equal(t, "[1,2,3]", encoded)

	parsed, err := d.Call(in, IDJSONParse, []value.Value{strVal(h, encoded)})
	require.NoError(t, err)
	parsedArr, ok := value.AsPointerOf[*object.Array](parsed)
	require.True(t, ok)
	require.Equal(t, 3, parsedArr.Len())
}

func TestJSONParseRejectsBareObject(t *testing.T) {
	d := NewDispatcher(object.NewClassRegistry(), nil, 0)
	in, h := newTestInterp(t)
	_, err := d.Call(in, IDJSONParse, []value.Value{strVal(h, `{"a":1}`)})
	require.Error(t, err, "bare object decoding requires typed_decode")
}

func TestRegexMatchAndReplace(t *testing.T) {
	d := NewDispatcher(object.NewClassRegistry(), nil, 0)
	in, h := newTestInterp(t)

	matched, err := d.Call(in, IDRegexMatch, []value.Value{strVal(h, "hello123"), strVal(h, `\d+`)})
	require.NoError(t, err)
	b, _ := matched.AsBool()
	require.True(t, b)

	replaced, err := d.Call(in, IDRegexReplace, []value.Value{strVal(h, "hello123"), strVal(h, `\d+`), strVal(h, "X")})
	require.NoError(t, err)
	s, ok := stringArg(replaced)
	require.True(t, ok)
	require.Equal(t, "helloX", s)
}

func TestTypedDecodeAssignsMatchingFields(t *testing.T) {
	classes := object.NewClassRegistry()
	err := classes.Load([]bytecode.Class{
		{Name: "Point", ParentIndex: -1, FieldCount: 2, ConstructorIdx: -1, FieldNames: []string{"x", "y"}},
	})
	require.NoError(t, err)

	d := NewDispatcher(classes, nil, 0)
	in, h := newTestInterp(t)
	in.Classes = classes

	decoded, err := d.Call(in, IDTypedDecode, []value.Value{strVal(h, `{"x":1,"y":2,"z":99}`), value.I32(0)})
	require.NoError(t, err)
	inst, ok := value.AsPointerOf[*object.Instance](decoded)
	require.True(t, ok)
	require.Equal(t, int32(0), inst.ClassID)
}

func TestTypedDecodeUnknownClassErrors(t *testing.T) {
	classes := object.NewClassRegistry()
	d := NewDispatcher(classes, nil, 0)
	in, h := newTestInterp(t)
	_, err := d.Call(in, IDTypedDecode, []value.Value{strVal(h, `{}`), value.I32(42)})
	require.Error(t, err)
}

func TestDispatcherForwardsHostRangeIDs(t *testing.T) {
	called := make(chan uint16, 1)
	host := hostFunc(func(in *interp.Interpreter, id uint16, args []value.Value) (value.Value, error) {
		called <- id
		return value.I32(7), nil
	})
	d := NewDispatcher(object.NewClassRegistry(), host, 4)
	in, _ := newTestInterp(t)

	out, err := d.Call(in, CoreIDCeiling, nil)
	require.NoError(t, err)
	n, _ := out.AsI32()
	require.Equal(t, int32(7), n)
	require.Equal(t, CoreIDCeiling, <-called)
}

func TestDispatcherWithoutHostRejectsHostRangeIDs(t *testing.T) {
	d := NewDispatcher(object.NewClassRegistry(), nil, 0)
	in, _ := newTestInterp(t)
	_, err := d.Call(in, CoreIDCeiling, nil)
	require.Error(t, err)
}

type hostFunc func(in *interp.Interpreter, id uint16, args []value.Value) (value.Value, error)

func (f hostFunc) Call(in *interp.Interpreter, id uint16, args []value.Value) (value.Value, error) {
	return f(in, id, args)
}
