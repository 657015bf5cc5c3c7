package codec

import (
	"fmt"
	"math"
)

// FromAny converts a Go native value into a Value. Supported inputs are nil,
// bool, every integer width, float32/float64, string, []byte, []any, []Value,
// map[string]any, map[string]Value, NumericArray, *NumericArray and Value
// itself. Anything else fails with a SerializationError.
func FromAny(x any) (Value, error) {
	return fromAny(x, 0)
}

func fromAny(x any, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, encodeErr("nesting deeper than %d", maxDepth)
	}
	switch v := x.(type) {
	case nil:
		return Nil(), nil
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint:
		return fromUint(uint64(v))
	case uint8:
		return Int(int64(v)), nil
	case uint16:
		return Int(int64(v)), nil
	case uint32:
		return Int(int64(v)), nil
	case uint64:
		return fromUint(v)
	case float32:
		return Float(float64(v)), nil
	case float64:
		return Float(v), nil
	case string:
		return String(v), nil
	case []byte:
		return Bytes(v), nil
	case NumericArray:
		if err := v.Validate(); err != nil {
			return Value{}, &SerializationError{Op: "encode", Err: err}
		}
		return Array(v), nil
	case *NumericArray:
		if v == nil {
			return Nil(), nil
		}
		return fromAny(*v, depth)
	case []Value:
		return List(v...), nil
	case []any:
		list := make([]Value, len(v))
		for i, e := range v {
			ev, err := fromAny(e, depth+1)
			if err != nil {
				return Value{}, err
			}
			list[i] = ev
		}
		return List(list...), nil
	case []string:
		list := make([]Value, len(v))
		for i, e := range v {
			list[i] = String(e)
		}
		return List(list...), nil
	case map[string]Value:
		return Map(v), nil
	case map[string]any:
		m := make(map[string]Value, len(v))
		for k, e := range v {
			ev, err := fromAny(e, depth+1)
			if err != nil {
				return Value{}, err
			}
			m[k] = ev
		}
		return Map(m), nil
	}
	return Value{}, encodeErr("unsupported type %T", x)
}

func fromUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, encodeErr("integer %d overflows int64", u)
	}
	return Int(int64(u)), nil
}

// MustFromAny is like FromAny but panics on error.
func MustFromAny(x any) Value {
	v, err := FromAny(x)
	if err != nil {
		panic(fmt.Sprintf("codec.MustFromAny: %v", err))
	}
	return v
}

// Any converts v back into Go natives: nil, bool, int64, float64, string,
// []byte, []any, map[string]any or NumericArray.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return v.raw
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Any()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Any()
		}
		return out
	case KindArray:
		a, _ := v.AsArray()
		return a
	}
	return nil
}
