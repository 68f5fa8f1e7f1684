package tensor

import (
	"fmt"

	"github.com/itohio/EasyInfer/pkg/core/dim"
)

// Concat concatenates tensors along an existing axis. All operands must
// share datum type and every other dimension.
func Concat(axis int, ts ...Tensor) (Tensor, error) {
	if len(ts) == 0 {
		return Tensor{}, fmt.Errorf("%w: concat of nothing", ErrShapeMismatch)
	}
	if len(ts) == 1 {
		return ts[0], nil
	}
	first := ts[0]
	if axis < 0 || axis >= first.Rank() {
		return Tensor{}, fmt.Errorf("%w: concat axis %d of rank %d", ErrShapeMismatch, axis, first.Rank())
	}
	total := 0
	for _, t := range ts {
		if t.DatumType() != first.DatumType() {
			return Tensor{}, fmt.Errorf("%w: concat %v with %v", ErrDtypeMismatch, first.DatumType(), t.DatumType())
		}
		if t.Rank() != first.Rank() {
			return Tensor{}, fmt.Errorf("%w: concat %v with %v", ErrShapeMismatch, first.Shape(), t.Shape())
		}
		for d := 0; d < first.Rank(); d++ {
			if d != axis && t.Shape()[d] != first.Shape()[d] {
				return Tensor{}, fmt.Errorf("%w: concat %v with %v", ErrShapeMismatch, first.Shape(), t.Shape())
			}
		}
		total += t.Shape()[axis]
	}
	outShape := first.Shape().Clone()
	outShape[axis] = total

	switch first.DatumType() {
	case DTFP32:
		return concatT[float32](axis, outShape, ts)
	case DTFP64:
		return concatT[float64](axis, outShape, ts)
	case DTINT32:
		return concatT[int32](axis, outShape, ts)
	case DTINT64:
		return concatT[int64](axis, outShape, ts)
	case DTUINT8:
		return concatT[uint8](axis, outShape, ts)
	case DTINT8:
		return concatT[int8](axis, outShape, ts)
	case DTBOOL:
		return concatT[bool](axis, outShape, ts)
	case DTSTRING:
		return concatT[string](axis, outShape, ts)
	case DTDIM:
		return concatT[dim.Dim](axis, outShape, ts)
	default:
		return Tensor{}, fmt.Errorf("%w: concat over %v", ErrDtypeMismatch, first.DatumType())
	}
}

func concatT[T DataElementType](axis int, outShape Shape, ts []Tensor) (Tensor, error) {
	buf := make([]T, outShape.Size())
	outer := 1
	for _, d := range outShape[:axis] {
		outer *= d
	}
	inner := 1
	for _, d := range outShape[axis+1:] {
		inner *= d
	}
	outRow := outShape[axis] * inner
	offset := 0
	for _, t := range ts {
		src, err := Buffer[T](t)
		if err != nil {
			return Tensor{}, err
		}
		row := t.Shape()[axis] * inner
		for o := 0; o < outer; o++ {
			copy(buf[o*outRow+offset:o*outRow+offset+row], src[o*row:(o+1)*row])
		}
		offset += row
	}
	return FromArray(outShape, buf), nil
}
