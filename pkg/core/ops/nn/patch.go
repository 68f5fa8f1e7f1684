// Package nn implements the sliding-window operator family: convolution and
// pooling, sharing one Patch abstraction for padding and window geometry.
package nn

import (
	"fmt"

	"github.com/itohio/EasyInfer/pkg/core/dim"
	"github.com/itohio/EasyInfer/pkg/core/ops"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

// PaddingKind selects how a sliding window treats the input borders.
type PaddingKind uint8

const (
	// Valid uses no padding; windows must fit entirely inside the input.
	Valid PaddingKind = iota
	// SameUpper pads so the output covers ceil(in/stride) positions, the
	// odd padding cell appended after the data.
	SameUpper
	// SameLower is SameUpper with the odd cell prepended instead.
	SameLower
	// Explicit uses caller-provided per-axis padding.
	Explicit
)

// PaddingSpec is a padding policy plus the per-axis amounts for Explicit.
type PaddingSpec struct {
	Kind   PaddingKind
	Before []int
	After  []int
}

// ComputeDim resolves one spatial axis: the output dimension and the padding
// cells before and after the data. The input dimension may be symbolic, in
// which case only stride 1 is supported.
func (p PaddingSpec) ComputeDim(axis int, in dim.Dim, kernel, dilation, stride int) (out dim.Dim, before, after int, err error) {
	effk := (kernel-1)*dilation + 1
	if v, ok := in.Value(); ok {
		return p.computeConcrete(axis, v, effk, stride)
	}
	if stride != 1 {
		return dim.Dim{}, 0, 0, fmt.Errorf("%w: stride %d over symbolic dim %s", ops.ErrNumeric, stride, in)
	}
	switch p.Kind {
	case Valid:
		return in.Sub(dim.Int(effk - 1)), 0, 0, nil
	case SameUpper:
		total := effk - 1
		return in, total / 2, total - total/2, nil
	case SameLower:
		total := effk - 1
		return in, total - total/2, total / 2, nil
	case Explicit:
		before, after = p.Before[axis], p.After[axis]
		return in.Add(dim.Int(before + after - effk + 1)), before, after, nil
	}
	return dim.Dim{}, 0, 0, fmt.Errorf("%w: unknown padding kind %d", ops.ErrNumeric, p.Kind)
}

func (p PaddingSpec) computeConcrete(axis, in, effk, stride int) (dim.Dim, int, int, error) {
	switch p.Kind {
	case Valid:
		if in < effk {
			return dim.Dim{}, 0, 0, fmt.Errorf("%w: input %d smaller than window %d", tensor.ErrShapeMismatch, in, effk)
		}
		return dim.Int((in-effk)/stride + 1), 0, 0, nil
	case SameUpper, SameLower:
		out := (in + stride - 1) / stride
		total := (out-1)*stride + effk - in
		if total < 0 {
			total = 0
		}
		lo, hi := total/2, total-total/2
		if p.Kind == SameLower {
			lo, hi = hi, lo
		}
		return dim.Int(out), lo, hi, nil
	case Explicit:
		before, after := p.Before[axis], p.After[axis]
		padded := in + before + after
		if padded < effk {
			return dim.Dim{}, 0, 0, fmt.Errorf("%w: padded input %d smaller than window %d", tensor.ErrShapeMismatch, padded, effk)
		}
		return dim.Int((padded-effk)/stride + 1), before, after, nil
	}
	return dim.Dim{}, 0, 0, fmt.Errorf("%w: unknown padding kind %d", ops.ErrNumeric, p.Kind)
}

// Patch precomputes the window geometry of one sliding-window configuration:
// output spatial extents, per-axis padding offsets and the source coordinate
// of every (output cell, kernel cell) pair.
type Patch struct {
	DataIsNHWC bool
	Dilations  []int
	Kernel     []int
	Strides    []int
	Before     []int
	After      []int

	InputFull  []int
	Batch      int
	Channels   int
	Spatial    []int
	OutSpatial []int
}

// NewPatch validates the configuration against a concrete input shape.
func NewPatch(dataIsNHWC bool, dilations, kernel []int, padding PaddingSpec, strides, inputFull []int) (*Patch, error) {
	rank := len(inputFull) - 2
	if rank < 1 {
		return nil, fmt.Errorf("%w: input rank %d has no spatial axes", tensor.ErrShapeMismatch, len(inputFull))
	}
	if len(kernel) != rank || len(dilations) != rank || len(strides) != rank {
		return nil, fmt.Errorf("%w: want %d spatial axes, kernel %v dilations %v strides %v",
			tensor.ErrShapeMismatch, rank, kernel, dilations, strides)
	}
	p := &Patch{
		DataIsNHWC: dataIsNHWC,
		Dilations:  dilations,
		Kernel:     kernel,
		Strides:    strides,
		InputFull:  inputFull,
		Batch:      inputFull[0],
	}
	if dataIsNHWC {
		p.Spatial = inputFull[1 : rank+1]
		p.Channels = inputFull[rank+1]
	} else {
		p.Channels = inputFull[1]
		p.Spatial = inputFull[2:]
	}
	p.Before = make([]int, rank)
	p.After = make([]int, rank)
	p.OutSpatial = make([]int, rank)
	for i := 0; i < rank; i++ {
		out, before, after, err := padding.ComputeDim(i, dim.Int(p.Spatial[i]), kernel[i], dilations[i], strides[i])
		if err != nil {
			return nil, err
		}
		v, _ := out.Value()
		p.OutSpatial[i] = v
		p.Before[i] = before
		p.After[i] = after
	}
	return p, nil
}

// OutputFullShape returns the full output shape for the given channel count,
// laid out like the input.
func (p *Patch) OutputFullShape(channels int) []int {
	out := make([]int, 0, len(p.OutSpatial)+2)
	out = append(out, p.Batch)
	if p.DataIsNHWC {
		out = append(out, p.OutSpatial...)
		out = append(out, channels)
	} else {
		out = append(out, channels)
		out = append(out, p.OutSpatial...)
	}
	return out
}

// KernelCells returns the number of cells in one kernel window.
func (p *Patch) KernelCells() int {
	n := 1
	for _, k := range p.Kernel {
		n *= k
	}
	return n
}

// OutputCells returns the number of spatial positions in the output.
func (p *Patch) OutputCells() int {
	n := 1
	for _, o := range p.OutSpatial {
		n *= o
	}
	return n
}

// SourceCoord maps an (output cell, kernel cell) pair to input spatial
// coordinates. It reports padded=true when the window cell falls outside the
// input.
func (p *Patch) SourceCoord(out, kernel []int, in []int) (padded bool) {
	for i := range out {
		v := out[i]*p.Strides[i] + kernel[i]*p.Dilations[i] - p.Before[i]
		if v < 0 || v >= p.Spatial[i] {
			padded = true
		}
		in[i] = v
	}
	return padded
}

// Visit walks every (output cell, kernel cell) pair in row-major order,
// calling f with the output position, the kernel position, the source
// coordinates and the padding flag. Slices passed to f are reused.
func (p *Patch) Visit(f func(out, kernel, in []int, padded bool)) {
	rank := len(p.OutSpatial)
	out := make([]int, rank)
	kernel := make([]int, rank)
	in := make([]int, rank)
	var walkKernel func(axis int)
	var walkOut func(axis int)
	walkKernel = func(axis int) {
		if axis == rank {
			padded := p.SourceCoord(out, kernel, in)
			f(out, kernel, in, padded)
			return
		}
		for k := 0; k < p.Kernel[axis]; k++ {
			kernel[axis] = k
			walkKernel(axis + 1)
		}
	}
	walkOut = func(axis int) {
		if axis == rank {
			walkKernel(0)
			return
		}
		for o := 0; o < p.OutSpatial[axis]; o++ {
			out[axis] = o
			walkOut(axis + 1)
		}
	}
	walkOut(0)
}

// spatialIndex flattens spatial coordinates row-major.
func spatialIndex(coords, extents []int) int {
	idx := 0
	for i, c := range coords {
		idx = idx*extents[i] + c
	}
	return idx
}
