package tensor

import (
	"errors"
	"fmt"
	"math"

	"github.com/itohio/EasyInfer/pkg/core/dim"
)

var (
	ErrDtypeMismatch = errors.New("tensor: datum type mismatch")
	ErrShapeMismatch = errors.New("tensor: shape mismatch")
	ErrUncastable    = errors.New("tensor: uncastable")
)

// Tensor is an n-dimensional array of values of a single datum type. Data is
// stored in a contiguous row-major slice. Tensors published on graph edges
// are treated as immutable.
type Tensor struct {
	dtype DatumType
	shape Shape
	data  any
}

// New creates a zero-initialized tensor with the provided datum type and shape.
func New(dtype DatumType, shape Shape) Tensor {
	buf := MakeTensorData(dtype, shape.Size())
	if buf == nil {
		panic(fmt.Sprintf("tensor: unsupported dtype %v", dtype))
	}
	return Tensor{dtype: dtype, shape: shape.Clone(), data: buf}
}

// FromArray constructs a tensor over an existing backing slice (no copy).
func FromArray[T DataElementType](shape Shape, data []T) Tensor {
	size := shape.Size()
	if len(data) != size {
		panic(fmt.Sprintf("tensor: data length %d does not match shape size %d", len(data), size))
	}
	return Tensor{dtype: TypeFromData(data), shape: shape.Clone(), data: data}
}

// Scalar constructs a rank-0 tensor holding a single value.
func Scalar[T DataElementType](v T) Tensor {
	return FromArray(nil, []T{v})
}

func (t Tensor) DatumType() DatumType { return t.dtype }
func (t Tensor) Shape() Shape         { return t.shape }
func (t Tensor) Rank() int            { return t.shape.Rank() }
func (t Tensor) Size() int            { return t.shape.Size() }
func (t Tensor) Data() any            { return t.data }

// Empty reports whether the tensor holds no buffer at all.
func (t Tensor) Empty() bool {
	return t.data == nil
}

// Buffer returns the typed backing slice, failing on a datum type mismatch.
func Buffer[T DataElementType](t Tensor) ([]T, error) {
	buf, ok := t.data.([]T)
	if !ok {
		return nil, fmt.Errorf("%w: want %v, have %v", ErrDtypeMismatch, TypeFromData([]T(nil)), t.dtype)
	}
	return buf, nil
}

// Clone creates a deep copy of the tensor.
func (t Tensor) Clone() Tensor {
	if t.data == nil {
		return t
	}
	out := New(t.dtype, t.shape)
	copyData(out.data, t.data)
	return out
}

// Reshape returns a tensor sharing the buffer with a new shape of equal size.
func (t Tensor) Reshape(shape Shape) (Tensor, error) {
	if shape.Size() != t.Size() {
		return Tensor{}, fmt.Errorf("%w: cannot reshape %v into %v", ErrShapeMismatch, t.shape, shape)
	}
	return Tensor{dtype: t.dtype, shape: shape.Clone(), data: t.data}, nil
}

// CastTo produces a new tensor of the target datum type when the coercion is
// defined. Casting to the same type returns the receiver.
func (t Tensor) CastTo(dst DatumType) (Tensor, error) {
	if dst == t.dtype {
		return t, nil
	}
	if !CanCoerce(t.dtype, dst) && !CanCoerce(dst, t.dtype) {
		return Tensor{}, fmt.Errorf("%w: %v to %v", ErrUncastable, t.dtype, dst)
	}
	out := New(dst, t.shape)
	if err := castData(out.data, t.data); err != nil {
		return Tensor{}, fmt.Errorf("%w: %v to %v", ErrUncastable, t.dtype, dst)
	}
	return out, nil
}

func copyData(dst, src any) {
	switch d := dst.(type) {
	case []float32:
		copy(d, src.([]float32))
	case []float64:
		copy(d, src.([]float64))
	case []int32:
		copy(d, src.([]int32))
	case []int64:
		copy(d, src.([]int64))
	case []uint8:
		copy(d, src.([]uint8))
	case []int8:
		copy(d, src.([]int8))
	case []bool:
		copy(d, src.([]bool))
	case []string:
		copy(d, src.([]string))
	case []dim.Dim:
		copy(d, src.([]dim.Dim))
	}
}

func castData(dst, src any) error {
	switch d := dst.(type) {
	case []float32:
		return castNumeric(d, src)
	case []float64:
		return castNumeric(d, src)
	case []int32:
		return castNumeric(d, src)
	case []int64:
		return castNumeric(d, src)
	case []uint8:
		return castNumeric(d, src)
	case []int8:
		return castNumeric(d, src)
	case []dim.Dim:
		return castToDim(d, src)
	default:
		return ErrUncastable
	}
}

func castNumeric[T NumericElementType](dst []T, src any) error {
	switch s := src.(type) {
	case []float32:
		for i, v := range s {
			dst[i] = T(v)
		}
	case []float64:
		for i, v := range s {
			dst[i] = T(v)
		}
	case []int32:
		for i, v := range s {
			dst[i] = T(v)
		}
	case []int64:
		for i, v := range s {
			dst[i] = T(v)
		}
	case []uint8:
		for i, v := range s {
			dst[i] = T(v)
		}
	case []int8:
		for i, v := range s {
			dst[i] = T(v)
		}
	case []dim.Dim:
		for i, v := range s {
			c, ok := v.Value()
			if !ok {
				return ErrUncastable
			}
			dst[i] = T(c)
		}
	default:
		return ErrUncastable
	}
	return nil
}

func castToDim(dst []dim.Dim, src any) error {
	switch s := src.(type) {
	case []int32:
		for i, v := range s {
			dst[i] = dim.Int(int(v))
		}
	case []int64:
		for i, v := range s {
			dst[i] = dim.Int(int(v))
		}
	case []uint8:
		for i, v := range s {
			dst[i] = dim.Int(int(v))
		}
	case []int8:
		for i, v := range s {
			dst[i] = dim.Int(int(v))
		}
	default:
		return ErrUncastable
	}
	return nil
}

// CloseEnough compares two tensors. With approx set, floating point buffers
// are compared with an absolute plus relative tolerance and NaNs compare
// equal to each other; otherwise the comparison is exact.
func (t Tensor) CloseEnough(other Tensor, approx bool) bool {
	if !t.shape.Equal(other.shape) {
		return false
	}
	if t.dtype != other.dtype {
		return false
	}
	if !approx {
		return t.equalData(other)
	}
	switch t.dtype {
	case DTFP32, DTFP64:
		a, b := t.floats(), other.floats()
		for i := range a {
			if math.IsNaN(a[i]) && math.IsNaN(b[i]) {
				continue
			}
			if math.Abs(a[i]-b[i]) > 1e-4+1e-3*math.Abs(b[i]) {
				return false
			}
		}
		return true
	default:
		return t.equalData(other)
	}
}

func (t Tensor) floats() []float64 {
	out := make([]float64, t.Size())
	switch s := t.data.(type) {
	case []float32:
		for i, v := range s {
			out[i] = float64(v)
		}
	case []float64:
		copy(out, s)
	}
	return out
}

func (t Tensor) equalData(other Tensor) bool {
	switch a := t.data.(type) {
	case []float32:
		return sliceEqual(a, other.data.([]float32))
	case []float64:
		return sliceEqual(a, other.data.([]float64))
	case []int32:
		return sliceEqual(a, other.data.([]int32))
	case []int64:
		return sliceEqual(a, other.data.([]int64))
	case []uint8:
		return sliceEqual(a, other.data.([]uint8))
	case []int8:
		return sliceEqual(a, other.data.([]int8))
	case []bool:
		return sliceEqual(a, other.data.([]bool))
	case []string:
		return sliceEqual(a, other.data.([]string))
	case []dim.Dim:
		b := other.data.([]dim.Dim)
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func sliceEqual[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t Tensor) String() string {
	return fmt.Sprintf("%v%v", t.dtype, t.shape)
}
