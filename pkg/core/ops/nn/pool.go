package nn

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/itohio/EasyInfer/pkg/core/analyser/rules"
	"github.com/itohio/EasyInfer/pkg/core/dim"
	"github.com/itohio/EasyInfer/pkg/core/ops"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

// Pool reduces sliding windows over the spatial axes. Max pooling treats
// padded cells as -Inf; average pooling divides by the count of non-padded
// cells only.
type Pool struct {
	average     bool
	dataIsNHWC  bool
	kernelShape []int
	padding     PaddingSpec
	strides     []int
}

func NewMaxPool(dataIsNHWC bool, kernelShape []int, padding PaddingSpec, strides []int) *Pool {
	return &Pool{dataIsNHWC: dataIsNHWC, kernelShape: kernelShape, padding: padding, strides: strides}
}

func NewAvgPool(dataIsNHWC bool, kernelShape []int, padding PaddingSpec, strides []int) *Pool {
	return &Pool{average: true, dataIsNHWC: dataIsNHWC, kernelShape: kernelShape, padding: padding, strides: strides}
}

func (o *Pool) Name() string {
	if o.average {
		return "AvgPool"
	}
	return "MaxPool"
}

func (o *Pool) patch(inputFull []int) (*Patch, error) {
	rank := len(inputFull) - 2
	strides := o.strides
	if strides == nil {
		strides = onesVec(rank)
	}
	return NewPatch(o.dataIsNHWC, onesVec(rank), o.kernelShape, o.padding, strides, inputFull)
}

func (o *Pool) Eval(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: %s wants 1, got %d", ops.ErrArity, o.Name(), len(inputs))
	}
	input := inputs[0]
	data, err := tensor.Buffer[float32](input)
	if err != nil {
		return nil, err
	}
	patch, err := o.patch(input.Shape())
	if err != nil {
		return nil, err
	}
	n, c := patch.Batch, patch.Channels
	m := patch.OutputCells()
	spatialSize := 1
	for _, d := range patch.Spatial {
		spatialSize *= d
	}

	acc := make([]float32, n*m*c)
	count := make([]int32, n*m*c)
	if !o.average {
		for i := range acc {
			acc[i] = math32.Inf(-1)
		}
	}
	patch.Visit(func(out, kcoord, in []int, padded bool) {
		if padded {
			return
		}
		pos := spatialIndex(out, patch.OutSpatial)
		spatIdx := spatialIndex(in, patch.Spatial)
		for b := 0; b < n; b++ {
			for ch := 0; ch < c; ch++ {
				var v float32
				if o.dataIsNHWC {
					v = data[(b*spatialSize+spatIdx)*c+ch]
				} else {
					v = data[(b*c+ch)*spatialSize+spatIdx]
				}
				cell := (b*m+pos)*c + ch
				if o.average {
					acc[cell] += v
					count[cell]++
				} else if v > acc[cell] {
					acc[cell] = v
				}
			}
		}
	})

	out := tensor.New(tensor.DTFP32, patch.OutputFullShape(c))
	obuf, _ := tensor.Buffer[float32](out)
	for b := 0; b < n; b++ {
		for pos := 0; pos < m; pos++ {
			for ch := 0; ch < c; ch++ {
				cell := (b*m+pos)*c + ch
				v := acc[cell]
				if o.average && count[cell] > 0 {
					v /= float32(count[cell])
				}
				if o.dataIsNHWC {
					obuf[(b*m+pos)*c+ch] = v
				} else {
					obuf[(b*c+ch)*m+pos] = v
				}
			}
		}
	}
	return []tensor.Tensor{out}, nil
}

func (o *Pool) Rules(s *rules.Solver, inputs, outputs *rules.TensorsProxy) {
	s.EqualsLen(inputs, 1).
		EqualsLen(outputs, 1).
		EqualsType(outputs.T(0).DatumType(), inputs.T(0).DatumType()).
		EqualsInt(outputs.T(0).Rank(), inputs.T(0).Rank()).
		GivenShape(inputs.T(0).Shape(), func(s *rules.Solver, ishape []dim.Dim) {
			rank := len(ishape) - 2
			if rank != len(o.kernelShape) {
				s.Failf("%s kernel %v against input rank %d", o.Name(), o.kernelShape, len(ishape))
				return
			}
			strides := o.strides
			if strides == nil {
				strides = onesVec(rank)
			}
			spatialAxis, channelAxis := 2, 1
			if o.dataIsNHWC {
				spatialAxis, channelAxis = 1, len(ishape)-1
			}
			for i := 0; i < rank; i++ {
				d, _, _, err := o.padding.ComputeDim(i, ishape[spatialAxis+i], o.kernelShape[i], 1, strides[i])
				if err != nil {
					s.Failf("%s output shape: %v", o.Name(), err)
					return
				}
				s.EqualsDim(outputs.T(0).Dim(spatialAxis+i), d)
			}
			s.EqualsDim(outputs.T(0).Dim(0), ishape[0]).
				EqualsDim(outputs.T(0).Dim(channelAxis), ishape[channelAxis])
		})
}
