package codec

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// arrayMaker returns a helper that unwraps array constructors inside a test.
func arrayMaker(t *testing.T) func(NumericArray, error) NumericArray {
	return func(a NumericArray, err error) NumericArray {
		t.Helper()
		require.NoError(t, err)
		return a
	}
}

// TestRoundTrip checks decode(encode(v)) == v across the value universe.
func TestRoundTrip(t *testing.T) {
	mustArray := arrayMaker(t)
	f64 := mustArray(Float64Array([]int{2, 3}, []float64{1.5, -2, 0, math.MaxFloat64, math.SmallestNonzeroFloat64, 42}))
	i32 := mustArray(Int32Array(nil, []int32{-1, 0, 1, math.MaxInt32}))
	i64 := mustArray(Int64Array([]int{1, 1, 2}, []int64{math.MinInt64, math.MaxInt64}))
	u8 := mustArray(NewArray(Uint8, []int{4}, []byte{0, 1, 254, 255}))
	empty := mustArray(NewArray(Float64, []int{0, 3}, nil))
	scalar := mustArray(NewArray(Float32, []int{}, []byte{0, 0, 0x80, 0x3f}))
	bigEndian := mustArray(NewArray(DType(">i2"), []int{2}, []byte{0x01, 0x00, 0xff, 0xff}))

	tests := []struct {
		name  string
		value Value
	}{
		{name: "nil", value: Nil()},
		{name: "true", value: Bool(true)},
		{name: "false", value: Bool(false)},
		{name: "zero", value: Int(0)},
		{name: "positive fixint", value: Int(3)},
		{name: "negative fixint", value: Int(-7)},
		{name: "int16", value: Int(-30000)},
		{name: "uint32 range", value: Int(4000000000)},
		{name: "max int64", value: Int(math.MaxInt64)},
		{name: "min int64", value: Int(math.MinInt64)},
		{name: "float", value: Float(3.25)},
		{name: "negative float", value: Float(-1e-300)},
		{name: "infinity", value: Float(math.Inf(1))},
		{name: "empty string", value: String("")},
		{name: "unicode string", value: String("KL204 → EHAM")},
		{name: "empty bytes", value: Bytes(nil)},
		{name: "binary bytes", value: Bytes([]byte{0x00, 0xff, 0xc1, 'a'})},
		{name: "utf8 looking bytes stay bytes", value: Bytes([]byte("REGISTER"))},
		{name: "empty list", value: List()},
		{name: "mixed list", value: List(Int(1), String("a"), Bytes([]byte{2}), Nil(), Float(0.5))},
		{name: "empty map", value: Map(nil)},
		{name: "nested map", value: Map(map[string]Value{
			"pan":  List(Float(52.0), Float(4.0)),
			"zoom": Float(1),
			"cmds": Map(map[string]Value{"OP": String("start"), "HOLD": String("pause")}),
		})},
		{name: "map with partial array keys", value: Map(map[string]Value{"type": String("x"), "data": Int(1)})},
		{name: "float64 matrix", value: Array(f64)},
		{name: "int32 vector", value: Array(i32)},
		{name: "int64 3d", value: Array(i64)},
		{name: "uint8", value: Array(u8)},
		{name: "empty array", value: Array(empty)},
		{name: "0-d array", value: Array(scalar)},
		{name: "big endian array", value: Array(bigEndian)},
		{name: "arrays inside containers", value: Map(map[string]Value{
			"lat": Array(f64),
			"ids": List(Array(i32), Array(u8)),
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.value)
			require.NoError(t, err)

			got, err := Decode(b)
			require.NoError(t, err)
			assert.True(t, tt.value.Equal(got), "want %s, got %s", tt.value, got)
			assert.Equal(t, tt.value.Kind(), got.Kind())
		})
	}
}

// TestEncodeDeterministic checks map key order does not leak into the bytes.
func TestEncodeDeterministic(t *testing.T) {
	m := map[string]Value{}
	for _, k := range []string{"z", "a", "m", "b", "y", "c"} {
		m[k] = String(k)
	}
	first := MustEncode(Map(m))
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, MustEncode(Map(m)))
	}
}

// TestBytesVersusText verifies the wire type used for byte and text strings.
func TestBytesVersusText(t *testing.T) {
	b := MustEncode(Bytes([]byte("abc")))
	assert.Equal(t, byte(0xc4), b[0], "bytes must be msgpack bin8")

	s := MustEncode(String("abc"))
	assert.Equal(t, byte(0xa3), s[0], "text must be msgpack fixstr")

	assert.Equal(t, []byte{0xc0}, MustEncode(Nil()))
}

// TestDecodeForeignPayloads decodes bytes produced by a general msgpack
// encoder, as a peer in another runtime would send them.
func TestDecodeForeignPayloads(t *testing.T) {
	t.Run("array record with bin keys", func(t *testing.T) {
		raw, err := msgpack.Marshal(map[string]any{
			"numpy": true,
			"type":  "<f8",
			"shape": []int{2},
			"data":  []byte{0, 0, 0, 0, 0, 0, 0xf0, 0x3f, 0, 0, 0, 0, 0, 0, 0, 0x40},
		})
		require.NoError(t, err)

		v, err := Decode(raw)
		require.NoError(t, err)
		a, ok := v.AsArray()
		require.True(t, ok, "expected array, got %s", v)
		vals, err := a.Float64s()
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2}, vals)
	})

	t.Run("record without marker", func(t *testing.T) {
		raw, err := msgpack.Marshal(map[string]any{
			"type":  "|u1",
			"shape": []int{3},
			"data":  []byte{1, 2, 3},
		})
		require.NoError(t, err)

		v, err := Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, KindArray, v.Kind())
	})

	t.Run("marker false keeps map", func(t *testing.T) {
		raw, err := msgpack.Marshal(map[string]any{
			"numpy": false,
			"type":  "|u1",
			"shape": []int{3},
			"data":  []byte{1, 2, 3},
		})
		require.NoError(t, err)

		v, err := Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, KindMap, v.Kind())
	})

	t.Run("float32 widens", func(t *testing.T) {
		raw, err := msgpack.Marshal(float32(0.5))
		require.NoError(t, err)
		v, err := Decode(raw)
		require.NoError(t, err)
		f, ok := v.AsFloat()
		require.True(t, ok)
		assert.Equal(t, 0.5, f)
	})

	t.Run("tuple of scenario data", func(t *testing.T) {
		raw, err := msgpack.Marshal([]any{[]float64{0, 1.5}, []string{"CRE KL204", "OP"}})
		require.NoError(t, err)
		v, err := Decode(raw)
		require.NoError(t, err)
		list, ok := v.AsList()
		require.True(t, ok)
		require.Len(t, list, 2)
		cmds, _ := list[1].AsList()
		assert.True(t, cmds[0].Equal(String("CRE KL204")))
	})
}

func TestEncodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		value Value
	}{
		{name: "reserved map keys", value: Map(map[string]Value{
			"type": String("<f8"), "shape": List(), "data": Bytes(nil),
		})},
		{name: "reserved map keys with marker", value: Map(map[string]Value{
			"numpy": Bool(false), "type": Int(1), "shape": Int(2), "data": Int(3),
		})},
		{name: "array with short buffer", value: Array(NumericArray{DType: Float64, Shape: []int{2}, Data: make([]byte, 8)})},
		{name: "array with bad dtype", value: Array(NumericArray{DType: "xyz", Shape: []int{1}, Data: []byte{1}})},
		{name: "nested invalid array", value: List(Int(1), Array(NumericArray{DType: Int32, Shape: []int{-1}}))},
		{name: "unknown kind", value: Value{kind: Kind(99)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.value)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSerialization))
			var se *SerializationError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "encode", se.Op)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	valid := MustEncode(Map(map[string]Value{"a": List(Int(1), String("xyz"))}))
	ext := []byte{0xd4, 0x01, 0x02} // fixext1

	deep := make([]byte, 0, maxDepth+2)
	for i := 0; i < maxDepth+2; i++ {
		deep = append(deep, 0x91) // fixarray of one element
	}
	deep = append(deep, 0xc0)

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty input", input: nil},
		{name: "truncated container", input: valid[:len(valid)-2]},
		{name: "truncated string", input: []byte{0xa5, 'a', 'b'}},
		{name: "truncated bin32 header", input: []byte{0xc6, 0xff, 0xff}},
		{name: "huge declared bin", input: []byte{0xc6, 0xff, 0xff, 0xff, 0xff, 0x00}},
		{name: "trailing bytes", input: append(append([]byte{}, valid...), 0x01)},
		{name: "reserved code", input: []byte{0xc1}},
		{name: "extension type", input: ext},
		{name: "uint64 overflow", input: []byte{0xcf, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{name: "integer map key", input: []byte{0x81, 0x01, 0x02}},
		{name: "duplicate map key", input: []byte{0x82, 0xa1, 'k', 0x01, 0xa1, 'k', 0x02}},
		{name: "nesting too deep", input: deep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSerialization), "got %v", err)
		})
	}

	t.Run("inconsistent array record", func(t *testing.T) {
		raw, err := msgpack.Marshal(map[string]any{
			"type":  "<f8",
			"shape": []int{4},
			"data":  []byte{1, 2, 3},
		})
		require.NoError(t, err)
		_, err = Decode(raw)
		assert.ErrorIs(t, err, ErrSerialization)
	})

	t.Run("array shape product overflows", func(t *testing.T) {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		huge := NumericArray{DType: Uint8, Shape: []int{1 << 30, 1 << 30, 16}, Data: []byte{}}
		require.NoError(t, writeArray(enc, huge))
		_, err := Decode(buf.Bytes())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSerialization)
		assert.Contains(t, err.Error(), "overflows")
	})
}

func TestFromAny(t *testing.T) {
	mustArray := arrayMaker(t)
	arr := mustArray(Int32Array(nil, []int32{1, 2}))

	tests := []struct {
		name string
		in   any
		want Value
	}{
		{name: "nil", in: nil, want: Nil()},
		{name: "int", in: 3, want: Int(3)},
		{name: "uint16", in: uint16(7), want: Int(7)},
		{name: "float32", in: float32(0.25), want: Float(0.25)},
		{name: "string", in: "AREAS", want: String("AREAS")},
		{name: "bytes", in: []byte{1}, want: Bytes([]byte{1})},
		{name: "array", in: arr, want: Array(arr)},
		{name: "strings", in: []string{"a", "b"}, want: List(String("a"), String("b"))},
		{name: "nested", in: map[string]any{"n": []any{1, "x", nil}}, want: Map(map[string]Value{
			"n": List(Int(1), String("x"), Nil()),
		})},
		{name: "value passthrough", in: Bool(true), want: Bool(true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}

	for _, bad := range []any{struct{}{}, uint64(math.MaxUint64), map[int]int{1: 1}, []any{make(chan int)}} {
		_, err := FromAny(bad)
		assert.ErrorIs(t, err, ErrSerialization, "input %T", bad)
	}

	assert.Panics(t, func() { MustFromAny(struct{}{}) })
}

func TestAny(t *testing.T) {
	v := Map(map[string]Value{
		"simt":  Float(12.5),
		"state": Int(2),
		"tags":  List(String("a"), Bytes([]byte{1})),
	})
	got := v.Any().(map[string]any)
	assert.Equal(t, 12.5, got["simt"])
	assert.Equal(t, int64(2), got["state"])
	assert.Equal(t, []any{"a", []byte{1}}, got["tags"])
	assert.Nil(t, Nil().Any())
}

func TestValueAccessors(t *testing.T) {
	n, ok := Int(3).AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 3.0, n)

	_, ok = String("3").AsNumber()
	assert.False(t, ok)

	m := Map(map[string]Value{"k": Int(1)})
	got, ok := m.Get("k")
	assert.True(t, ok)
	assert.True(t, got.Equal(Int(1)))
	_, ok = Int(1).Get("k")
	assert.False(t, ok)

	assert.False(t, Int(1).Equal(Float(1)))
	assert.False(t, List(Int(1)).Equal(List(Int(1), Int(2))))
	assert.Equal(t, `{k:1}`, m.String())
	assert.Equal(t, "map", KindMap.String())
}
