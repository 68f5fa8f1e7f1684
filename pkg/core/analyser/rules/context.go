package rules

import (
	"errors"
	"fmt"

	"github.com/itohio/EasyInfer/pkg/core/analyser/facts"
	"github.com/itohio/EasyInfer/pkg/core/dim"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

var (
	ErrBadIndex = errors.New("rules: tensor index out of range")
	ErrBadAxis  = errors.New("rules: axis out of range")
)

// Side selects the input or the output tensor list of a rule context.
type Side uint8

const (
	In Side = iota
	Out
)

func (s Side) String() string {
	if s == In {
		return "inputs"
	}
	return "outputs"
}

// Context gives a solver access to the facts a rule block constrains. The
// fact pointers are shared with the caller, which observes sharpening.
type Context struct {
	Inputs  []*facts.TensorFact
	Outputs []*facts.TensorFact
}

func (ctx *Context) list(side Side) []*facts.TensorFact {
	if side == In {
		return ctx.Inputs
	}
	return ctx.Outputs
}

func (ctx *Context) fact(side Side, index int) (*facts.TensorFact, error) {
	l := ctx.list(side)
	if index < 0 || index >= len(l) {
		return nil, fmt.Errorf("%w: %s[%d] of %d", ErrBadIndex, side, index, len(l))
	}
	return l[index], nil
}

// getRank resolves a rank when the shape fact is closed.
func (ctx *Context) getRank(side Side, index int) (int, bool, error) {
	f, err := ctx.fact(side, index)
	if err != nil {
		return 0, false, err
	}
	r, ok := f.Shape.Rank()
	return r, ok, nil
}

// setRank closes the shape fact at the given rank.
func (ctx *Context) setRank(side Side, index, rank int) (bool, error) {
	f, err := ctx.fact(side, index)
	if err != nil {
		return false, err
	}
	if rank < 0 {
		return false, fmt.Errorf("%w: negative rank %d", facts.ErrUnification, rank)
	}
	merged, err := f.Shape.Unify(facts.ClosedShape(rank))
	if err != nil {
		return false, err
	}
	changed := merged.Open != f.Shape.Open || len(merged.Dims) != len(f.Shape.Dims)
	f.Shape = merged
	return changed, nil
}

func (ctx *Context) getDim(side Side, index, axis int) (dim.Dim, bool, error) {
	f, err := ctx.fact(side, index)
	if err != nil {
		return dim.Dim{}, false, err
	}
	if axis < 0 {
		return dim.Dim{}, false, fmt.Errorf("%w: %d", ErrBadAxis, axis)
	}
	if axis >= len(f.Shape.Dims) {
		if !f.Shape.Open {
			return dim.Dim{}, false, fmt.Errorf("%w: axis %d of rank %d", ErrBadAxis, axis, len(f.Shape.Dims))
		}
		return dim.Dim{}, false, nil
	}
	d := f.Shape.Dims[axis]
	return d.Dim, d.Known, nil
}

func (ctx *Context) setDim(side Side, index, axis int, d dim.Dim) (bool, error) {
	f, err := ctx.fact(side, index)
	if err != nil {
		return false, err
	}
	if axis < 0 {
		return false, fmt.Errorf("%w: %d", ErrBadAxis, axis)
	}
	if axis >= len(f.Shape.Dims) {
		if !f.Shape.Open {
			return false, fmt.Errorf("%w: axis %d of rank %d", ErrBadAxis, axis, len(f.Shape.Dims))
		}
		dims := make([]facts.DimFact, axis+1)
		copy(dims, f.Shape.Dims)
		f.Shape.Dims = dims
	}
	merged, err := f.Shape.Dims[axis].Unify(facts.KnownDim(d))
	if err != nil {
		return false, fmt.Errorf("axis %d: %w", axis, err)
	}
	changed := merged.Known != f.Shape.Dims[axis].Known
	f.Shape.Dims[axis] = merged
	return changed, nil
}

func (ctx *Context) getType(side Side, index int) (tensor.DatumType, bool, error) {
	f, err := ctx.fact(side, index)
	if err != nil {
		return tensor.DT_UNKNOWN, false, err
	}
	return f.Type, f.Type != tensor.DT_UNKNOWN, nil
}

func (ctx *Context) setType(side Side, index int, dt tensor.DatumType) (bool, error) {
	f, err := ctx.fact(side, index)
	if err != nil {
		return false, err
	}
	if f.Type == tensor.DT_UNKNOWN {
		f.Type = dt
		return true, nil
	}
	if f.Type != dt {
		return false, fmt.Errorf("%w: datum type %v vs %v", facts.ErrUnification, f.Type, dt)
	}
	return false, nil
}

func (ctx *Context) getShape(side Side, index int) ([]dim.Dim, bool, error) {
	f, err := ctx.fact(side, index)
	if err != nil {
		return nil, false, err
	}
	dims, ok := f.Shape.DimValues()
	return dims, ok, nil
}

func (ctx *Context) mergeShape(side Side, index int, shape facts.ShapeFact) (bool, error) {
	f, err := ctx.fact(side, index)
	if err != nil {
		return false, err
	}
	merged, err := f.Shape.Unify(shape)
	if err != nil {
		return false, err
	}
	changed := !shapeEqual(f.Shape, merged)
	f.Shape = merged
	return changed, nil
}

func (ctx *Context) getValue(side Side, index int) (*tensor.Tensor, error) {
	f, err := ctx.fact(side, index)
	if err != nil {
		return nil, err
	}
	return f.Value, nil
}

func (ctx *Context) mergeFact(side Side, index int, other facts.TensorFact) (bool, error) {
	f, err := ctx.fact(side, index)
	if err != nil {
		return false, err
	}
	merged, err := f.Unify(other)
	if err != nil {
		return false, err
	}
	changed := !f.Equal(merged)
	*f = merged
	return changed, nil
}

func shapeEqual(a, b facts.ShapeFact) bool {
	if a.Open != b.Open || len(a.Dims) != len(b.Dims) {
		return false
	}
	for i := range a.Dims {
		if a.Dims[i].Known != b.Dims[i].Known {
			return false
		}
		if a.Dims[i].Known && !a.Dims[i].Dim.Equal(b.Dims[i].Dim) {
			return false
		}
	}
	return true
}
