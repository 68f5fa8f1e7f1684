// Package array implements tensor shuffling operators.
package array

import (
	"fmt"

	"github.com/itohio/EasyInfer/pkg/core/analyser/rules"
	"github.com/itohio/EasyInfer/pkg/core/dim"
	"github.com/itohio/EasyInfer/pkg/core/ops"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

// Pack stacks n tensors of identical shape along a new axis inserted at
// position axis. The output datum type is the super-type of the inputs.
type Pack struct {
	n    int
	axis int
}

func NewPack(n, axis int) *Pack {
	return &Pack{n: n, axis: axis}
}

func (o *Pack) Name() string { return "Pack" }

func (o *Pack) Eval(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if len(inputs) != o.n {
		return nil, fmt.Errorf("%w: pack wants %d, got %d", ops.ErrArity, o.n, len(inputs))
	}
	dts := make([]tensor.DatumType, len(inputs))
	for i, t := range inputs {
		dts[i] = t.DatumType()
	}
	dt, ok := tensor.SuperTypeFor(dts...)
	if !ok {
		return nil, fmt.Errorf("%w: no super type of %v", tensor.ErrDtypeMismatch, dts)
	}
	cast := make([]tensor.Tensor, len(inputs))
	for i, t := range inputs {
		c, err := t.CastTo(dt)
		if err != nil {
			return nil, err
		}
		cast[i] = c
	}
	var out tensor.Tensor
	var err error
	switch dt {
	case tensor.DTFP32:
		out, err = packT[float32](o.axis, cast)
	case tensor.DTFP64:
		out, err = packT[float64](o.axis, cast)
	case tensor.DTINT32:
		out, err = packT[int32](o.axis, cast)
	case tensor.DTINT64:
		out, err = packT[int64](o.axis, cast)
	case tensor.DTUINT8:
		out, err = packT[uint8](o.axis, cast)
	case tensor.DTINT8:
		out, err = packT[int8](o.axis, cast)
	case tensor.DTDIM:
		out, err = packT[dim.Dim](o.axis, cast)
	default:
		return nil, fmt.Errorf("%w: pack over %v", tensor.ErrDtypeMismatch, dt)
	}
	if err != nil {
		return nil, err
	}
	return []tensor.Tensor{out}, nil
}

func (o *Pack) Rules(s *rules.Solver, inputs, outputs *rules.TensorsProxy) {
	n, axis := o.n, o.axis
	s.EqualsLen(inputs, n).
		EqualsLen(outputs, 1).
		EqualsInt(outputs.T(0).Rank(), inputs.T(0).Rank().Plus(1)).
		EqualsDim(outputs.T(0).Dim(axis), n)
	ranks := make([]rules.IntRef, n)
	dts := make([]rules.TypeRef, n)
	for i := 0; i < n; i++ {
		ranks[i] = inputs.T(i).Rank()
		dts[i] = inputs.T(i).DatumType()
	}
	s.EqualsAllInts(ranks...).
		GivenAllTypes(dts, func(s *rules.Solver, have []tensor.DatumType) {
			if dt, ok := tensor.SuperTypeFor(have...); ok {
				s.EqualsType(outputs.T(0).DatumType(), dt)
			} else {
				s.Failf("no super type of %v", have)
			}
		}).
		GivenInt(inputs.T(0).Rank(), func(s *rules.Solver, r int) {
			for d := 0; d < r; d++ {
				axes := make([]rules.DimRef, n)
				for i := 0; i < n; i++ {
					axes[i] = inputs.T(i).Dim(d)
				}
				s.EqualsAllDims(axes...)
			}
			for d := 0; d < axis && d < r; d++ {
				s.EqualsDim(outputs.T(0).Dim(d), inputs.T(0).Dim(d))
			}
			for d := axis; d < r; d++ {
				s.EqualsDim(outputs.T(0).Dim(d+1), inputs.T(0).Dim(d))
			}
		})
}

func packT[T tensor.DataElementType](axis int, inputs []tensor.Tensor) (tensor.Tensor, error) {
	shape := inputs[0].Shape()
	if axis < 0 || axis > shape.Rank() {
		return tensor.Tensor{}, fmt.Errorf("%w: pack axis %d of rank %d", tensor.ErrShapeMismatch, axis, shape.Rank())
	}
	for _, t := range inputs[1:] {
		if !t.Shape().Equal(shape) {
			return tensor.Tensor{}, fmt.Errorf("%w: pack over %v and %v", tensor.ErrShapeMismatch, shape, t.Shape())
		}
	}
	outShape := shape.Insert(axis, len(inputs))
	buf := make([]T, outShape.Size())
	inner := 1
	for _, d := range shape[axis:] {
		inner *= d
	}
	outer := 1
	for _, d := range shape[:axis] {
		outer *= d
	}
	for i, t := range inputs {
		src, err := tensor.Buffer[T](t)
		if err != nil {
			return tensor.Tensor{}, err
		}
		for o := 0; o < outer; o++ {
			copy(buf[(o*len(inputs)+i)*inner:(o*len(inputs)+i+1)*inner], src[o*inner:(o+1)*inner])
		}
	}
	return tensor.FromArray(outShape, buf), nil
}

// Unpack splits a tensor into num slices along axis, dropping that axis.
type Unpack struct {
	num  int
	axis int
}

func NewUnpack(num, axis int) *Unpack {
	return &Unpack{num: num, axis: axis}
}

func (o *Unpack) Name() string { return "Unpack" }

func (o *Unpack) OutputCount() int { return o.num }

func (o *Unpack) Eval(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: unpack wants 1, got %d", ops.ErrArity, len(inputs))
	}
	in := inputs[0]
	shape := in.Shape()
	if o.axis >= shape.Rank() || shape[o.axis] != o.num {
		return nil, fmt.Errorf("%w: unpack %d along axis %d of %v", tensor.ErrShapeMismatch, o.num, o.axis, shape)
	}
	switch in.DatumType() {
	case tensor.DTFP32:
		return unpackT[float32](o.axis, o.num, in)
	case tensor.DTFP64:
		return unpackT[float64](o.axis, o.num, in)
	case tensor.DTINT32:
		return unpackT[int32](o.axis, o.num, in)
	case tensor.DTINT64:
		return unpackT[int64](o.axis, o.num, in)
	case tensor.DTUINT8:
		return unpackT[uint8](o.axis, o.num, in)
	case tensor.DTINT8:
		return unpackT[int8](o.axis, o.num, in)
	default:
		return nil, fmt.Errorf("%w: unpack over %v", tensor.ErrDtypeMismatch, in.DatumType())
	}
}

func (o *Unpack) Rules(s *rules.Solver, inputs, outputs *rules.TensorsProxy) {
	num, axis := o.num, o.axis
	s.EqualsLen(inputs, 1).
		EqualsLen(outputs, num).
		EqualsDim(inputs.T(0).Dim(axis), num)
	for i := 0; i < num; i++ {
		s.EqualsType(outputs.T(i).DatumType(), inputs.T(0).DatumType()).
			EqualsInt(outputs.T(i).Rank(), inputs.T(0).Rank().Plus(-1))
	}
	s.GivenInt(inputs.T(0).Rank(), func(s *rules.Solver, r int) {
		for i := 0; i < num; i++ {
			for d := 0; d < axis; d++ {
				s.EqualsDim(outputs.T(i).Dim(d), inputs.T(0).Dim(d))
			}
			for d := axis + 1; d < r; d++ {
				s.EqualsDim(outputs.T(i).Dim(d-1), inputs.T(0).Dim(d))
			}
		}
	})
}

func unpackT[T tensor.DataElementType](axis, num int, in tensor.Tensor) ([]tensor.Tensor, error) {
	src, err := tensor.Buffer[T](in)
	if err != nil {
		return nil, err
	}
	shape := in.Shape()
	outShape := make(tensor.Shape, 0, shape.Rank()-1)
	outShape = append(outShape, shape[:axis]...)
	outShape = append(outShape, shape[axis+1:]...)
	inner := 1
	for _, d := range shape[axis+1:] {
		inner *= d
	}
	outer := 1
	for _, d := range shape[:axis] {
		outer *= d
	}
	outs := make([]tensor.Tensor, num)
	for i := 0; i < num; i++ {
		buf := make([]T, outShape.Size())
		for o := 0; o < outer; o++ {
			copy(buf[o*inner:(o+1)*inner], src[(o*num+i)*inner:(o*num+i+1)*inner])
		}
		outs[i] = tensor.FromArray(outShape, buf)
	}
	return outs, nil
}

func init() {
	ops.MustRegister("Pack", func(def ops.NodeDef) (ops.Op, error) {
		axis, err := def.GetAttrInt("axis")
		if err != nil {
			return nil, err
		}
		return NewPack(len(def.InputRefs()), axis), nil
	})
	ops.MustRegister("Unpack", func(def ops.NodeDef) (ops.Op, error) {
		num, err := def.GetAttrInt("num")
		if err != nil {
			return nil, err
		}
		axis, err := def.GetAttrInt("axis")
		if err != nil {
			return nil, err
		}
		return NewUnpack(num, axis), nil
	})
}
