package tensor

import (
	"github.com/itohio/EasyInfer/pkg/core/dim"
)

// DatumType represents the underlying element type stored by a tensor.
type DatumType uint8

const (
	DT_UNKNOWN DatumType = iota
	DTFP32               // 32-bit floating point tensors (default)
	DTFP64               // 64-bit floating point tensors
	DTINT32              // 32-bit integer tensors
	DTINT64              // 64-bit integer tensors
	DTUINT8              // 8-bit unsigned integer tensors
	DTINT8               // 8-bit integer tensors
	DTBOOL               // boolean tensors
	DTSTRING             // string tensors
	DTDIM                // symbolic integer dimension tensors, used during analysis
)

func (dt DatumType) String() string {
	switch dt {
	case DTFP32:
		return "FP32"
	case DTFP64:
		return "FP64"
	case DTINT32:
		return "INT32"
	case DTINT64:
		return "INT64"
	case DTUINT8:
		return "UINT8"
	case DTINT8:
		return "INT8"
	case DTBOOL:
		return "BOOL"
	case DTSTRING:
		return "STRING"
	case DTDIM:
		return "DIM"
	default:
		return "UNKNOWN"
	}
}

// DataElementType is the type constraint for the data elements in the tensor.
type DataElementType interface {
	~float64 | ~float32 | ~int32 | ~int64 | ~uint8 | ~int8 | ~bool | ~string | dim.Dim
}

// NumericElementType constrains element types that support arithmetic.
type NumericElementType interface {
	~float64 | ~float32 | ~int32 | ~int64 | ~uint8 | ~int8
}

// widens encodes the lossless-coercion lattice: for each type, the wider
// types it coerces into. Bool and String do not coerce at all; DIM absorbs
// integers.
var widens = map[DatumType][]DatumType{
	DTUINT8: {DTINT32, DTINT64, DTDIM, DTFP32, DTFP64},
	DTINT8:  {DTINT32, DTINT64, DTDIM, DTFP32, DTFP64},
	DTINT32: {DTINT64, DTDIM, DTFP32, DTFP64},
	DTINT64: {DTDIM, DTFP64},
	DTFP32:  {DTFP64},
}

// CanCoerce reports whether values of type src embed losslessly into dst.
func CanCoerce(src, dst DatumType) bool {
	if src == dst {
		return true
	}
	for _, t := range widens[src] {
		if t == dst {
			return true
		}
	}
	return false
}

// SuperType returns the smallest type both arguments coerce into.
func SuperType(a, b DatumType) (DatumType, bool) {
	if CanCoerce(a, b) {
		return b, true
	}
	if CanCoerce(b, a) {
		return a, true
	}
	for _, t := range widens[a] {
		if CanCoerce(b, t) {
			return t, true
		}
	}
	return DT_UNKNOWN, false
}

// SuperTypeFor folds SuperType over a set of types.
func SuperTypeFor(dts ...DatumType) (DatumType, bool) {
	if len(dts) == 0 {
		return DT_UNKNOWN, false
	}
	acc := dts[0]
	for _, dt := range dts[1:] {
		var ok bool
		if acc, ok = SuperType(acc, dt); !ok {
			return DT_UNKNOWN, false
		}
	}
	return acc, true
}

// MakeTensorData allocates a zeroed buffer for the given datum type.
func MakeTensorData(dt DatumType, size int) any {
	switch dt {
	case DTFP32:
		return make([]float32, size)
	case DTFP64:
		return make([]float64, size)
	case DTINT32:
		return make([]int32, size)
	case DTINT64:
		return make([]int64, size)
	case DTUINT8:
		return make([]uint8, size)
	case DTINT8:
		return make([]int8, size)
	case DTBOOL:
		return make([]bool, size)
	case DTSTRING:
		return make([]string, size)
	case DTDIM:
		return make([]dim.Dim, size)
	default:
		return nil
	}
}

// TypeFromData recovers the datum type of a buffer.
func TypeFromData(v any) DatumType {
	switch v.(type) {
	case []float32, float32:
		return DTFP32
	case []float64, float64:
		return DTFP64
	case []int32, int32:
		return DTINT32
	case []int64, int64:
		return DTINT64
	case []uint8, uint8:
		return DTUINT8
	case []int8, int8:
		return DTINT8
	case []bool, bool:
		return DTBOOL
	case []string, string:
		return DTSTRING
	case []dim.Dim, dim.Dim:
		return DTDIM
	default:
		return DT_UNKNOWN
	}
}
