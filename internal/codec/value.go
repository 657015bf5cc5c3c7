package codec

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	// KindNil is the absent value. The zero Value is Nil.
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindBytes
	KindString
	KindList
	KindMap
	KindArray
)

var kindNames = [...]string{
	KindNil:    "nil",
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindBytes:  "bytes",
	KindString: "string",
	KindList:   "list",
	KindMap:    "map",
	KindArray:  "array",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is the closed set of payload shapes carried by events and streams:
// nil, bool, int64, float64, byte string, text string, list, string-keyed map
// and NumericArray. Values are immutable by convention; constructors copy
// nothing, so callers must not mutate slices or maps after wrapping them.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	raw  []byte
	list []Value
	m    map[string]Value
	arr  *NumericArray
}

// Nil returns the absent value.
func Nil() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps a signed integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a double precision float.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a text string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bytes wraps a raw byte string. A nil slice is kept distinct from Nil().
func Bytes(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{kind: KindBytes, raw: b}
}

// List wraps an ordered sequence.
func List(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{kind: KindList, list: vs}
}

// Map wraps a string keyed mapping.
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

// Array wraps a numeric array.
func Array(a NumericArray) Value { return Value{kind: KindArray, arr: &a} }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is the absent value.
func (v Value) IsNil() bool { return v.kind == KindNil }

// The As accessors return the held value and whether v holds that kind.
func (v Value) AsBool() (bool, bool)            { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)            { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)        { return v.f, v.kind == KindFloat }
func (v Value) AsString() (string, bool)        { return v.s, v.kind == KindString }
func (v Value) AsBytes() ([]byte, bool)         { return v.raw, v.kind == KindBytes }
func (v Value) AsList() ([]Value, bool)         { return v.list, v.kind == KindList }
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// AsArray returns the numeric array held by v.
func (v Value) AsArray() (NumericArray, bool) {
	if v.kind != KindArray || v.arr == nil {
		return NumericArray{}, false
	}
	return *v.arr, true
}

// AsNumber returns v as a float64 when it holds an Int or a Float.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// Get returns the value stored under key when v is a Map.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	e, ok := v.m[key]
	return e, ok
}

// Equal reports structural equality. Floats compare by value, so NaN is never
// equal to itself.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, e := range v.m {
			oe, ok := o.m[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	case KindArray:
		a, _ := v.AsArray()
		b, _ := o.AsArray()
		return a.Equal(b)
	}
	return false
}

// String renders v for logs.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return fmt.Sprint(v.b)
	case KindInt:
		return fmt.Sprint(v.i)
	case KindFloat:
		return fmt.Sprint(v.f)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindBytes:
		return fmt.Sprintf("b%q", v.raw)
	case KindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, " ") + "]"
	case KindMap:
		keys := sortedKeys(v.m)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ":" + v.m[k].String()
		}
		return "{" + strings.Join(parts, " ") + "}"
	case KindArray:
		a, _ := v.AsArray()
		return a.String()
	}
	return v.kind.String()
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
