// Package codec converts payload Values to and from MessagePack bytes.
//
// Byte strings are written as msgpack bin and text as str, so raw bytes are
// never mistaken for text on the far side. NumericArray values travel as the
// map {numpy: true, type: dtype, shape: [...], data: bin} used by numpy aware
// msgpack peers and are expanded back into arrays on decode.
//
// Encode and Decode share no state and may be called concurrently.
package codec

import (
	"bytes"
	"math"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// maxDepth bounds container nesting accepted by Decode.
const maxDepth = 512

// Keys of the encoded NumericArray record.
const (
	keyNumpy = "numpy"
	keyType  = "type"
	keyShape = "shape"
	keyData  = "data"
)

// Encode serializes v. A Map whose key set would be read back as a
// NumericArray record is rejected, as is an array that fails Validate.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeValue(enc, v, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustEncode is like Encode but panics on error. Intended for constants and
// tests.
func MustEncode(v Value) []byte {
	b, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return b
}

func encodeValue(enc *msgpack.Encoder, v Value, depth int) error {
	if depth > maxDepth {
		return encodeErr("nesting deeper than %d", maxDepth)
	}
	var err error
	switch v.kind {
	case KindNil:
		err = enc.EncodeNil()
	case KindBool:
		err = enc.EncodeBool(v.b)
	case KindInt:
		err = enc.EncodeInt(v.i)
	case KindFloat:
		err = enc.EncodeFloat64(v.f)
	case KindString:
		err = enc.EncodeString(v.s)
	case KindBytes:
		err = enc.EncodeBytes(v.raw)
	case KindList:
		if err = enc.EncodeArrayLen(len(v.list)); err != nil {
			break
		}
		for _, e := range v.list {
			if err = encodeValue(enc, e, depth+1); err != nil {
				return err
			}
		}
	case KindMap:
		if looksLikeArrayRecord(v.m) {
			return encodeErr("map keys %v are reserved for numeric arrays", sortedKeys(v.m))
		}
		if err = enc.EncodeMapLen(len(v.m)); err != nil {
			break
		}
		for _, k := range sortedKeys(v.m) {
			if err = enc.EncodeString(k); err != nil {
				break
			}
			if err = encodeValue(enc, v.m[k], depth+1); err != nil {
				return err
			}
		}
	case KindArray:
		a, ok := v.AsArray()
		if !ok {
			return encodeErr("array value without payload")
		}
		return encodeArray(enc, a)
	default:
		return encodeErr("unsupported value kind %s", v.kind)
	}
	if err != nil {
		return &SerializationError{Op: "encode", Err: err}
	}
	return nil
}

func encodeArray(enc *msgpack.Encoder, a NumericArray) error {
	if err := a.Validate(); err != nil {
		return &SerializationError{Op: "encode", Err: err}
	}
	if err := writeArray(enc, a); err != nil {
		return &SerializationError{Op: "encode", Err: err}
	}
	return nil
}

// writeArray emits the array record. Keys go out as bin, which is what numpy
// aware peers look up.
func writeArray(enc *msgpack.Encoder, a NumericArray) error {
	if err := enc.EncodeMapLen(4); err != nil {
		return err
	}
	if err := enc.EncodeBytes([]byte(keyNumpy)); err != nil {
		return err
	}
	if err := enc.EncodeBool(true); err != nil {
		return err
	}
	if err := enc.EncodeBytes([]byte(keyType)); err != nil {
		return err
	}
	if err := enc.EncodeString(string(a.DType)); err != nil {
		return err
	}
	if err := enc.EncodeBytes([]byte(keyShape)); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(a.Shape)); err != nil {
		return err
	}
	for _, d := range a.Shape {
		if err := enc.EncodeInt(int64(d)); err != nil {
			return err
		}
	}
	if err := enc.EncodeBytes([]byte(keyData)); err != nil {
		return err
	}
	data := a.Data
	if data == nil {
		// EncodeBytes writes nil for a nil slice
		data = []byte{}
	}
	return enc.EncodeBytes(data)
}

// looksLikeArrayRecord reports whether a map's key set is one Decode would
// expand into a NumericArray.
func looksLikeArrayRecord(m map[string]Value) bool {
	if len(m) != 3 && len(m) != 4 {
		return false
	}
	for _, k := range []string{keyType, keyShape, keyData} {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	if len(m) == 4 {
		_, ok := m[keyNumpy]
		return ok
	}
	return true
}

// Decode parses exactly one value from b. Truncated input, trailing bytes,
// msgpack extension types and unsigned integers beyond the int64 range fail
// with a SerializationError.
func Decode(b []byte) (Value, error) {
	r := bytes.NewReader(b)
	dec := msgpack.NewDecoder(r)
	v, err := decodeValue(dec, 0)
	if err != nil {
		return Value{}, err
	}
	if r.Len() != 0 {
		return Value{}, decodeErr("%d trailing bytes", r.Len())
	}
	return v, nil
}

func decodeValue(dec *msgpack.Decoder, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, decodeErr("nesting deeper than %d", maxDepth)
	}
	c, err := dec.PeekCode()
	if err != nil {
		return Value{}, wrapDecode(err)
	}

	switch {
	case c == msgpcode.Nil:
		if err := dec.DecodeNil(); err != nil {
			return Value{}, wrapDecode(err)
		}
		return Nil(), nil
	case c == msgpcode.False || c == msgpcode.True:
		b, err := dec.DecodeBool()
		if err != nil {
			return Value{}, wrapDecode(err)
		}
		return Bool(b), nil
	case c == msgpcode.Uint64:
		u, err := dec.DecodeUint64()
		if err != nil {
			return Value{}, wrapDecode(err)
		}
		if u > math.MaxInt64 {
			return Value{}, decodeErr("integer %d overflows int64", u)
		}
		return Int(int64(u)), nil
	case msgpcode.IsFixedNum(c),
		c == msgpcode.Uint8, c == msgpcode.Uint16, c == msgpcode.Uint32,
		c == msgpcode.Int8, c == msgpcode.Int16, c == msgpcode.Int32, c == msgpcode.Int64:
		i, err := dec.DecodeInt64()
		if err != nil {
			return Value{}, wrapDecode(err)
		}
		return Int(i), nil
	case c == msgpcode.Float || c == msgpcode.Double:
		f, err := dec.DecodeFloat64()
		if err != nil {
			return Value{}, wrapDecode(err)
		}
		return Float(f), nil
	case msgpcode.IsString(c):
		s, err := dec.DecodeString()
		if err != nil {
			return Value{}, wrapDecode(err)
		}
		return String(s), nil
	case msgpcode.IsBin(c):
		b, err := dec.DecodeBytes()
		if err != nil {
			return Value{}, wrapDecode(err)
		}
		return Bytes(b), nil
	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		return decodeList(dec, depth)
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		return decodeMap(dec, depth)
	}
	return Value{}, decodeErr("unsupported msgpack code 0x%02x", c)
}

func decodeList(dec *msgpack.Decoder, depth int) (Value, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Value{}, wrapDecode(err)
	}
	list := make([]Value, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		e, err := decodeValue(dec, depth+1)
		if err != nil {
			return Value{}, err
		}
		list = append(list, e)
	}
	return List(list...), nil
}

func decodeMap(dec *msgpack.Decoder, depth int) (Value, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return Value{}, wrapDecode(err)
	}
	m := make(map[string]Value, min(n, 1024))
	for i := 0; i < n; i++ {
		c, err := dec.PeekCode()
		if err != nil {
			return Value{}, wrapDecode(err)
		}
		if !msgpcode.IsString(c) && !msgpcode.IsBin(c) {
			return Value{}, decodeErr("map key with msgpack code 0x%02x is not a string", c)
		}
		// DecodeString accepts both str and bin
		k, err := dec.DecodeString()
		if err != nil {
			return Value{}, wrapDecode(err)
		}
		if _, dup := m[k]; dup {
			return Value{}, decodeErr("duplicate map key %q", k)
		}
		e, err := decodeValue(dec, depth+1)
		if err != nil {
			return Value{}, err
		}
		m[k] = e
	}
	if looksLikeArrayRecord(m) {
		if flag, ok := m[keyNumpy]; !ok || !flag.Equal(Bool(false)) {
			return decodeArray(m)
		}
	}
	return Map(m), nil
}

func decodeArray(m map[string]Value) (Value, error) {
	dtype, ok := m[keyType].AsString()
	if !ok {
		// numpy peers may send the dtype as bytes
		raw, isBytes := m[keyType].AsBytes()
		if !isBytes {
			return Value{}, decodeErr("array dtype is %s, want string", m[keyType].Kind())
		}
		dtype = string(raw)
	}
	dims, ok := m[keyShape].AsList()
	if !ok {
		return Value{}, decodeErr("array shape is %s, want list", m[keyShape].Kind())
	}
	shape := make([]int, len(dims))
	for i, d := range dims {
		n, ok := d.AsInt()
		if !ok || n < 0 || n > math.MaxInt32 {
			return Value{}, decodeErr("array shape %v: bad dimension %s", dims, d)
		}
		shape[i] = int(n)
	}
	data, ok := m[keyData].AsBytes()
	if !ok {
		return Value{}, decodeErr("array data is %s, want bytes", m[keyData].Kind())
	}
	a, err := NewArray(DType(dtype), shape, data)
	if err != nil {
		return Value{}, &SerializationError{Op: "decode", Err: err}
	}
	return Array(a), nil
}

func wrapDecode(err error) error {
	return &SerializationError{Op: "decode", Err: err}
}
