package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/exp/slices"
)

// DType names the element type of a NumericArray using numpy's dtype.str
// notation: a byte order character ('<', '>', '|' or '='), a kind character
// and the element size in bytes.
type DType string

const (
	Float64 DType = "<f8"
	Float32 DType = "<f4"
	Int64   DType = "<i8"
	Int32   DType = "<i4"
	Int16   DType = "<i2"
	Int8    DType = "|i1"
	Uint8   DType = "|u1"
	Boolean DType = "|b1"
)

// ItemSize returns the element width in bytes, or an error for a dtype this
// package cannot describe.
func (d DType) ItemSize() (int, error) {
	s := string(d)
	if len(s) < 3 {
		return 0, fmt.Errorf("dtype %q: too short", s)
	}
	switch s[0] {
	case '<', '>', '|', '=':
	default:
		return 0, fmt.Errorf("dtype %q: unknown byte order %q", s, s[0])
	}
	switch s[1] {
	case 'b', 'i', 'u', 'f', 'c':
	default:
		return 0, fmt.Errorf("dtype %q: unsupported kind %q", s, s[1])
	}
	n, err := strconv.Atoi(s[2:])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("dtype %q: bad item size", s)
	}
	return n, nil
}

// NumericArray is a typed, shaped, flat buffer of numeric elements in
// row-major order. Its invariant, enforced by NewArray and by the codec, is
// len(Data) == product(Shape) * DType.ItemSize().
type NumericArray struct {
	DType DType
	Shape []int
	Data  []byte
}

// NewArray validates and builds a NumericArray. The slices are retained.
func NewArray(dtype DType, shape []int, data []byte) (NumericArray, error) {
	a := NumericArray{DType: dtype, Shape: shape, Data: data}
	if err := a.Validate(); err != nil {
		return NumericArray{}, err
	}
	return a, nil
}

// Validate checks the buffer length against shape and dtype.
func (a NumericArray) Validate() error {
	size, err := a.DType.ItemSize()
	if err != nil {
		return err
	}
	n, err := a.elements()
	if err != nil {
		return err
	}
	if n > math.MaxInt/size {
		return fmt.Errorf("array shape %v of %s: byte size overflows", a.Shape, a.DType)
	}
	if len(a.Data) != n*size {
		return fmt.Errorf("array shape %v of %s needs %d bytes, have %d", a.Shape, a.DType, n*size, len(a.Data))
	}
	return nil
}

// Len returns the number of elements, or -1 when the shape has a negative
// dimension or its product overflows int.
func (a NumericArray) Len() int {
	n, err := a.elements()
	if err != nil {
		return -1
	}
	return n
}

func (a NumericArray) elements() (int, error) {
	n := 1
	for _, d := range a.Shape {
		if d < 0 {
			return 0, fmt.Errorf("array shape %v: negative dimension", a.Shape)
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("array shape %v: element count overflows", a.Shape)
		}
		n *= d
	}
	return n, nil
}

// Equal reports whether both arrays have the same dtype, shape and bytes.
func (a NumericArray) Equal(b NumericArray) bool {
	return a.DType == b.DType && slices.Equal(a.Shape, b.Shape) && bytes.Equal(a.Data, b.Data)
}

func (a NumericArray) String() string {
	return fmt.Sprintf("array(%s, shape=%v)", a.DType, a.Shape)
}

// Float64Array packs values as a little-endian float64 array of the given
// shape. A nil shape means a flat array of len(values).
func Float64Array(shape []int, values []float64) (NumericArray, error) {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return NewArray(Float64, shapeOr(shape, len(values)), buf)
}

// Int64Array packs values as a little-endian int64 array.
func Int64Array(shape []int, values []int64) (NumericArray, error) {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(v))
	}
	return NewArray(Int64, shapeOr(shape, len(values)), buf)
}

// Int32Array packs values as a little-endian int32 array.
func Int32Array(shape []int, values []int32) (NumericArray, error) {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	return NewArray(Int32, shapeOr(shape, len(values)), buf)
}

// Float64s unpacks a float64 array in either byte order.
func (a NumericArray) Float64s() ([]float64, error) {
	order, err := a.order('f', 8)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(a.Data)/8)
	for i := range out {
		out[i] = math.Float64frombits(order.Uint64(a.Data[8*i:]))
	}
	return out, nil
}

// Int64s unpacks an int64 array in either byte order.
func (a NumericArray) Int64s() ([]int64, error) {
	order, err := a.order('i', 8)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(a.Data)/8)
	for i := range out {
		out[i] = int64(order.Uint64(a.Data[8*i:]))
	}
	return out, nil
}

// Int32s unpacks an int32 array in either byte order.
func (a NumericArray) Int32s() ([]int32, error) {
	order, err := a.order('i', 4)
	if err != nil {
		return nil, err
	}
	out := make([]int32, len(a.Data)/4)
	for i := range out {
		out[i] = int32(order.Uint32(a.Data[4*i:]))
	}
	return out, nil
}

func (a NumericArray) order(kind byte, size int) (binary.ByteOrder, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	s := string(a.DType)
	if n, _ := a.DType.ItemSize(); s[1] != kind || n != size {
		return nil, fmt.Errorf("array of %s cannot be read as %c%d", a.DType, kind, size)
	}
	if s[0] == '>' {
		return binary.BigEndian, nil
	}
	return binary.LittleEndian, nil
}

func shapeOr(shape []int, n int) []int {
	if shape == nil {
		return []int{n}
	}
	return shape
}
