package nn

import (
	"fmt"

	gt "gorgonia.org/tensor"

	"github.com/itohio/EasyInfer/pkg/core/analyser/rules"
	"github.com/itohio/EasyInfer/pkg/core/dim"
	"github.com/itohio/EasyInfer/pkg/core/ops"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

// Conv is an n-dimensional convolution. The zero value is the
// channels-first, oihw-kernel variant with no dilation, unit strides and
// valid padding.
type Conv struct {
	DataIsNHWC   bool // default is nchw
	KernelIsHWIO bool // default is oihw
	Dilations    []int
	KernelShape  []int
	Padding      PaddingSpec
	Strides      []int
}

func (o *Conv) Name() string { return "Conv" }

func (o *Conv) spatialKernelDim() int {
	if o.KernelIsHWIO {
		return 0
	}
	return 2
}

func (o *Conv) geometry(ishape, kshape []int) (kspatial []int, ci, co int) {
	spatialRank := len(ishape) - 2
	kspatial = kshape[o.spatialKernelDim() : o.spatialKernelDim()+spatialRank]
	if o.KernelIsHWIO {
		ci, co = kshape[spatialRank], kshape[spatialRank+1]
	} else {
		co, ci = kshape[0], kshape[1]
	}
	return kspatial, ci, co
}

func (o *Conv) patch(ishape, kshape []int) (*Patch, error) {
	spatialRank := len(ishape) - 2
	kspatial, _, _ := o.geometry(ishape, kshape)
	dilations := o.Dilations
	if dilations == nil {
		dilations = onesVec(spatialRank)
	}
	strides := o.Strides
	if strides == nil {
		strides = onesVec(spatialRank)
	}
	return NewPatch(o.DataIsNHWC, dilations, kspatial, o.Padding, strides, ishape)
}

func (o *Conv) Eval(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if len(inputs) != 2 && len(inputs) != 3 {
		return nil, fmt.Errorf("%w: conv wants 2 or 3, got %d", ops.ErrArity, len(inputs))
	}
	input, kernel := inputs[0], inputs[1]
	data, err := tensor.Buffer[float32](input)
	if err != nil {
		return nil, err
	}
	kbuf, err := tensor.Buffer[float32](kernel)
	if err != nil {
		return nil, err
	}
	var bias []float32
	ishape := []int(input.Shape())
	kshape := []int(kernel.Shape())
	kspatial, ci, co := o.geometry(ishape, kshape)
	if len(inputs) == 3 {
		if bias, err = tensor.Buffer[float32](inputs[2]); err != nil {
			return nil, err
		}
		if len(bias) != co {
			return nil, fmt.Errorf("%w: bias length %d, want %d channels", tensor.ErrShapeMismatch, len(bias), co)
		}
	}
	patch, err := o.patch(ishape, kshape)
	if err != nil {
		return nil, err
	}
	if patch.Channels != ci {
		return nil, fmt.Errorf("%w: input has %d channels, kernel wants %d", tensor.ErrShapeMismatch, patch.Channels, ci)
	}

	n := patch.Batch
	m := patch.OutputCells()
	k := patch.KernelCells() * ci
	spatialSize := 1
	for _, d := range patch.Spatial {
		spatialSize *= d
	}

	// Gather input windows into an (n*m, k) matrix, column-major over
	// (kernel cell, input channel) to line up with the kernel matrix.
	patches := make([]float32, n*m*k)
	patch.Visit(func(out, kcoord, in []int, padded bool) {
		pos := spatialIndex(out, patch.OutSpatial)
		kpos := spatialIndex(kcoord, kspatial)
		for b := 0; b < n; b++ {
			row := (b*m + pos) * k
			if padded {
				continue
			}
			spatIdx := spatialIndex(in, patch.Spatial)
			for c := 0; c < ci; c++ {
				var v float32
				if o.DataIsNHWC {
					v = data[(b*spatialSize+spatIdx)*ci+c]
				} else {
					v = data[(b*ci+c)*spatialSize+spatIdx]
				}
				patches[row+kpos*ci+c] = v
			}
		}
	})

	kmat := kbuf
	if !o.KernelIsHWIO {
		kcells := patch.KernelCells()
		kmat = make([]float32, k*co)
		for oc := 0; oc < co; oc++ {
			for c := 0; c < ci; c++ {
				for kpos := 0; kpos < kcells; kpos++ {
					kmat[(kpos*ci+c)*co+oc] = kbuf[(oc*ci+c)*kcells+kpos]
				}
			}
		}
	}

	lhs := gt.New(gt.WithShape(n*m, k), gt.WithBacking(patches))
	rhs := gt.New(gt.WithShape(k, co), gt.WithBacking(kmat))
	prod, err := gt.MatMul(lhs, rhs)
	if err != nil {
		return nil, fmt.Errorf("conv gemm: %w", err)
	}
	res := prod.Data().([]float32)

	outShape := patch.OutputFullShape(co)
	out := tensor.New(tensor.DTFP32, outShape)
	obuf, _ := tensor.Buffer[float32](out)
	for b := 0; b < n; b++ {
		for pos := 0; pos < m; pos++ {
			for oc := 0; oc < co; oc++ {
				v := res[(b*m+pos)*co+oc]
				if bias != nil {
					v += bias[oc]
				}
				if o.DataIsNHWC {
					obuf[(b*m+pos)*co+oc] = v
				} else {
					obuf[(b*co+oc)*m+pos] = v
				}
			}
		}
	}
	return []tensor.Tensor{out}, nil
}

// outputShapeDims resolves the full output shape from possibly symbolic
// input dims and concrete kernel dims.
func (o *Conv) outputShapeDims(ishape, kshape []dim.Dim) ([]dim.Dim, error) {
	spatialRank := len(ishape) - 2
	kints := make([]int, len(kshape))
	for i, d := range kshape {
		v, ok := d.Value()
		if !ok {
			return nil, fmt.Errorf("%w: symbolic kernel dim %s", ops.ErrNumeric, d)
		}
		kints[i] = v
	}
	co := kints[0]
	if o.KernelIsHWIO {
		co = kints[spatialRank+1]
	}
	dilations := o.Dilations
	if dilations == nil {
		dilations = onesVec(spatialRank)
	}
	strides := o.Strides
	if strides == nil {
		strides = onesVec(spatialRank)
	}
	var spatialIn []dim.Dim
	if o.DataIsNHWC {
		spatialIn = ishape[1 : spatialRank+1]
	} else {
		spatialIn = ishape[2:]
	}
	kssrc := kints[o.spatialKernelDim() : o.spatialKernelDim()+spatialRank]
	outSpatial := make([]dim.Dim, spatialRank)
	for i := range outSpatial {
		d, _, _, err := o.Padding.ComputeDim(i, spatialIn[i], kssrc[i], dilations[i], strides[i])
		if err != nil {
			return nil, err
		}
		outSpatial[i] = d
	}
	out := make([]dim.Dim, 0, len(ishape))
	out = append(out, ishape[0])
	if o.DataIsNHWC {
		out = append(out, outSpatial...)
		out = append(out, dim.Int(co))
	} else {
		out = append(out, dim.Int(co))
		out = append(out, outSpatial...)
	}
	return out, nil
}

func (o *Conv) Rules(s *rules.Solver, inputs, outputs *rules.TensorsProxy) {
	if o.KernelShape != nil {
		s.EqualsInt(inputs.T(1).Rank(), len(o.KernelShape)+2)
		for i, d := range o.KernelShape {
			s.EqualsDim(inputs.T(1).Dim(i+o.spatialKernelDim()), d)
		}
	}
	s.EqualsLen(outputs, 1).
		EqualsAllTypes(
			outputs.T(0).DatumType(),
			inputs.T(0).DatumType(),
			inputs.T(1).DatumType(),
		)
	s.GivenLen(inputs, func(s *rules.Solver, n int) {
		if n != 3 {
			return
		}
		s.EqualsInt(inputs.T(2).Rank(), 1).
			EqualsType(outputs.T(0).DatumType(), inputs.T(2).DatumType()).
			GivenInt(inputs.T(1).Rank(), func(s *rules.Solver, krank int) {
				filterO := inputs.T(1).Dim(0) // oihw
				if o.KernelIsHWIO {
					filterO = inputs.T(1).Dim(krank - 1)
				}
				s.EqualsDim(inputs.T(2).Dim(0), filterO)
			})
	})
	s.GivenInt2(inputs.T(0).Rank(), inputs.T(1).Rank(), func(s *rules.Solver, irank, krank int) {
		inputC := inputs.T(0).Dim(1)
		if o.DataIsNHWC {
			inputC = inputs.T(0).Dim(irank - 1)
		}
		filterI := inputs.T(1).Dim(1)
		if o.KernelIsHWIO {
			filterI = inputs.T(1).Dim(krank - 2)
		}
		s.EqualsDim(inputC, filterI)
	})
	s.GivenShape2(inputs.T(0).Shape(), inputs.T(1).Shape(), func(s *rules.Solver, ishape, kshape []dim.Dim) {
		out, err := o.outputShapeDims(ishape, kshape)
		if err != nil {
			s.Failf("conv output shape: %v", err)
			return
		}
		s.EqualsShape(outputs.T(0).Shape(), out)
	})
}

func onesVec(n int) []int {
	v := make([]int, n)
	for i := range v {
		v[i] = 1
	}
	return v
}
