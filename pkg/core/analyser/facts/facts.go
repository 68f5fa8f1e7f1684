// Package facts defines partial tensor descriptions used during shape and
// type analysis. Facts form a meet-semilattice: unification either sharpens
// a fact or fails on contradiction.
package facts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/itohio/EasyInfer/pkg/core/dim"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

var ErrUnification = errors.New("facts: unification failed")

// DimFact is a single axis dimension: unknown, or a (possibly symbolic) Dim.
type DimFact struct {
	Known bool
	Dim   dim.Dim
}

// KnownDim wraps a dimension value into a fact.
func KnownDim(d dim.Dim) DimFact {
	return DimFact{Known: true, Dim: d}
}

// IntDim is a concrete integer dimension fact.
func IntDim(v int) DimFact {
	return KnownDim(dim.Int(v))
}

// Unify merges two dimension facts.
func (f DimFact) Unify(other DimFact) (DimFact, error) {
	switch {
	case !f.Known:
		return other, nil
	case !other.Known:
		return f, nil
	case f.Dim.Equal(other.Dim):
		return f, nil
	default:
		return DimFact{}, fmt.Errorf("%w: dim %s vs %s", ErrUnification, f.Dim, other.Dim)
	}
}

func (f DimFact) String() string {
	if !f.Known {
		return "?"
	}
	return f.Dim.String()
}

// ShapeFact is a partially known shape. When open, the rank is not yet known
// and dims describes a prefix only.
type ShapeFact struct {
	Open bool
	Dims []DimFact
}

// OpenShape returns the fully unknown shape fact.
func OpenShape() ShapeFact {
	return ShapeFact{Open: true}
}

// ClosedShape returns a shape fact of known rank with all axes unknown.
func ClosedShape(rank int) ShapeFact {
	return ShapeFact{Dims: make([]DimFact, rank)}
}

// ShapeOf converts a concrete shape into a closed fact.
func ShapeOf(s tensor.Shape) ShapeFact {
	dims := make([]DimFact, s.Rank())
	for i, d := range s {
		dims[i] = IntDim(d)
	}
	return ShapeFact{Dims: dims}
}

// FromDims builds a closed fact from dimension values.
func FromDims(dims []dim.Dim) ShapeFact {
	out := make([]DimFact, len(dims))
	for i, d := range dims {
		out[i] = KnownDim(d)
	}
	return ShapeFact{Dims: out}
}

// Rank returns the rank when known.
func (f ShapeFact) Rank() (int, bool) {
	if f.Open {
		return 0, false
	}
	return len(f.Dims), true
}

// Concrete returns the fully resolved integer shape, if every axis is a
// known concrete dimension.
func (f ShapeFact) Concrete() (tensor.Shape, bool) {
	if f.Open {
		return nil, false
	}
	out := make(tensor.Shape, len(f.Dims))
	for i, d := range f.Dims {
		if !d.Known {
			return nil, false
		}
		v, ok := d.Dim.Value()
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// DimValues returns every axis as a dimension value when the whole shape is
// known (axes may still be symbolic).
func (f ShapeFact) DimValues() ([]dim.Dim, bool) {
	if f.Open {
		return nil, false
	}
	out := make([]dim.Dim, len(f.Dims))
	for i, d := range f.Dims {
		if !d.Known {
			return nil, false
		}
		out[i] = d.Dim
	}
	return out, true
}

// Clone returns a deep copy of the shape fact.
func (f ShapeFact) Clone() ShapeFact {
	dims := make([]DimFact, len(f.Dims))
	copy(dims, f.Dims)
	return ShapeFact{Open: f.Open, Dims: dims}
}

// Unify merges two shape facts.
func (f ShapeFact) Unify(other ShapeFact) (ShapeFact, error) {
	if !f.Open && !other.Open && len(f.Dims) != len(other.Dims) {
		return ShapeFact{}, fmt.Errorf("%w: rank %d vs %d", ErrUnification, len(f.Dims), len(other.Dims))
	}
	if f.Open && !other.Open && len(f.Dims) > len(other.Dims) {
		return ShapeFact{}, fmt.Errorf("%w: rank %d vs prefix %d", ErrUnification, len(other.Dims), len(f.Dims))
	}
	if other.Open && !f.Open && len(other.Dims) > len(f.Dims) {
		return ShapeFact{}, fmt.Errorf("%w: rank %d vs prefix %d", ErrUnification, len(f.Dims), len(other.Dims))
	}
	n := len(f.Dims)
	if len(other.Dims) > n {
		n = len(other.Dims)
	}
	dims := make([]DimFact, n)
	for i := range dims {
		var a, b DimFact
		if i < len(f.Dims) {
			a = f.Dims[i]
		}
		if i < len(other.Dims) {
			b = other.Dims[i]
		}
		merged, err := a.Unify(b)
		if err != nil {
			return ShapeFact{}, fmt.Errorf("axis %d: %w", i, err)
		}
		dims[i] = merged
	}
	return ShapeFact{Open: f.Open && other.Open, Dims: dims}, nil
}

func (f ShapeFact) String() string {
	parts := make([]string, 0, len(f.Dims)+1)
	for _, d := range f.Dims {
		parts = append(parts, d.String())
	}
	if f.Open {
		parts = append(parts, "..")
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// TensorFact is the partial description of one graph edge: datum type,
// shape (which encodes the rank when closed) and, optionally, the value.
type TensorFact struct {
	Type  tensor.DatumType // DT_UNKNOWN when not known yet
	Shape ShapeFact
	Value *tensor.Tensor
}

// Default returns the fact carrying no information.
func Default() TensorFact {
	return TensorFact{Shape: OpenShape()}
}

// DtShape is a convenience constructor for the common "type and shape known"
// fact.
func DtShape(dt tensor.DatumType, shape tensor.Shape) TensorFact {
	return TensorFact{Type: dt, Shape: ShapeOf(shape)}
}

// FromTensor derives the exact fact describing a concrete tensor.
func FromTensor(t tensor.Tensor) TensorFact {
	return TensorFact{Type: t.DatumType(), Shape: ShapeOf(t.Shape()), Value: &t}
}

// Unify merges two tensor facts into the most precise fact consistent with
// both.
func (f TensorFact) Unify(other TensorFact) (TensorFact, error) {
	out := TensorFact{}
	switch {
	case f.Type == tensor.DT_UNKNOWN:
		out.Type = other.Type
	case other.Type == tensor.DT_UNKNOWN, f.Type == other.Type:
		out.Type = f.Type
	default:
		return TensorFact{}, fmt.Errorf("%w: datum type %v vs %v", ErrUnification, f.Type, other.Type)
	}
	shape, err := f.Shape.Unify(other.Shape)
	if err != nil {
		return TensorFact{}, err
	}
	out.Shape = shape
	switch {
	case f.Value == nil:
		out.Value = other.Value
	case other.Value == nil:
		out.Value = f.Value
	case f.Value.CloseEnough(*other.Value, false):
		out.Value = f.Value
	default:
		return TensorFact{}, fmt.Errorf("%w: conflicting values", ErrUnification)
	}
	return out, nil
}

// Equal reports whether two facts carry identical information.
func (f TensorFact) Equal(other TensorFact) bool {
	if f.Type != other.Type || f.Shape.Open != other.Shape.Open || len(f.Shape.Dims) != len(other.Shape.Dims) {
		return false
	}
	for i := range f.Shape.Dims {
		a, b := f.Shape.Dims[i], other.Shape.Dims[i]
		if a.Known != b.Known || (a.Known && !a.Dim.Equal(b.Dim)) {
			return false
		}
	}
	if (f.Value == nil) != (other.Value == nil) {
		return false
	}
	if f.Value != nil && !f.Value.CloseEnough(*other.Value, false) {
		return false
	}
	return true
}

func (f TensorFact) String() string {
	v := ""
	if f.Value != nil {
		v = " value"
	}
	return fmt.Sprintf("%v%s%s", f.Type, f.Shape, v)
}
