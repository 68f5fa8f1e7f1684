// Package rules implements the constraint solver operators use to declare
// how their output facts relate to their input facts. Constraints are
// symmetric: applying them sharpens whichever side is less precise, so the
// same rule block propagates both forward and backward.
package rules

import (
	"fmt"

	"github.com/itohio/EasyInfer/pkg/core/analyser/facts"
	"github.com/itohio/EasyInfer/pkg/core/dim"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

type constraint struct {
	apply func(ctx *Context) (progress, done bool, err error)
	done  bool
}

// Solver accumulates the constraints of one rule block and applies them to a
// context until a fixed point. Rule blocks registered through Given* fire
// lazily, once their trigger variable becomes known, and may add nested
// constraints.
type Solver struct {
	cs []*constraint
}

func NewSolver() *Solver {
	return &Solver{}
}

func (s *Solver) add(fn func(ctx *Context) (bool, bool, error)) *Solver {
	s.cs = append(s.cs, &constraint{apply: fn})
	return s
}

// Solve applies every constraint repeatedly until a full pass makes no
// progress. It reports whether any fact was sharpened.
func (s *Solver) Solve(ctx *Context) (bool, error) {
	total := false
	for {
		progress := false
		for i := 0; i < len(s.cs); i++ {
			c := s.cs[i]
			if c.done {
				continue
			}
			prog, done, err := c.apply(ctx)
			if err != nil {
				return total, err
			}
			if prog {
				progress = true
				total = true
			}
			if done {
				c.done = true
			}
		}
		if !progress {
			return total, nil
		}
	}
}

// Failf registers an unconditional analysis failure.
func (s *Solver) Failf(format string, args ...any) *Solver {
	return s.add(func(ctx *Context) (bool, bool, error) {
		return false, false, fmt.Errorf("%w: "+format, append([]any{facts.ErrUnification}, args...)...)
	})
}

// EqualsLen asserts the number of tensors on a side.
func (s *Solver) EqualsLen(p *TensorsProxy, n int) *Solver {
	side := p.side
	return s.add(func(ctx *Context) (bool, bool, error) {
		if got := len(ctx.list(side)); got != n {
			return false, false, fmt.Errorf("%w: %s count %d, want %d", facts.ErrUnification, side, got, n)
		}
		return false, true, nil
	})
}

// EqualsType relates a datum type variable to a constant or another variable.
func (s *Solver) EqualsType(a TypeRef, b any) *Solver {
	switch b := b.(type) {
	case tensor.DatumType:
		return s.add(func(ctx *Context) (bool, bool, error) {
			changed, err := ctx.setType(a.side, a.index, b)
			return changed, err == nil, err
		})
	case TypeRef:
		return s.add(func(ctx *Context) (bool, bool, error) {
			va, oka, err := ctx.getType(a.side, a.index)
			if err != nil {
				return false, false, err
			}
			vb, okb, err := ctx.getType(b.side, b.index)
			if err != nil {
				return false, false, err
			}
			switch {
			case oka && okb:
				if va != vb {
					return false, false, fmt.Errorf("%w: datum type %v vs %v", facts.ErrUnification, va, vb)
				}
				return false, true, nil
			case oka:
				changed, err := ctx.setType(b.side, b.index, va)
				return changed, err == nil, err
			case okb:
				changed, err := ctx.setType(a.side, a.index, vb)
				return changed, err == nil, err
			default:
				return false, false, nil
			}
		})
	default:
		panic(fmt.Sprintf("rules: EqualsType does not accept %T", b))
	}
}

// EqualsInt relates a rank variable to a constant, a variable, or an affine
// expression over a variable.
func (s *Solver) EqualsInt(a IntRef, b any) *Solver {
	switch b := b.(type) {
	case int:
		return s.add(func(ctx *Context) (bool, bool, error) {
			changed, err := ctx.setRank(a.side, a.index, b)
			return changed, err == nil, err
		})
	case IntRef:
		return s.EqualsInt(a, b.Plus(0))
	case IntExpr:
		return s.add(func(ctx *Context) (bool, bool, error) {
			va, oka, err := ctx.getRank(a.side, a.index)
			if err != nil {
				return false, false, err
			}
			vb, okb, err := ctx.getRank(b.ref.side, b.ref.index)
			if err != nil {
				return false, false, err
			}
			switch {
			case oka && okb:
				if va != vb+b.offset {
					return false, false, fmt.Errorf("%w: rank %d vs %d", facts.ErrUnification, va, vb+b.offset)
				}
				return false, true, nil
			case oka:
				changed, err := ctx.setRank(b.ref.side, b.ref.index, va-b.offset)
				return changed, err == nil, err
			case okb:
				changed, err := ctx.setRank(a.side, a.index, vb+b.offset)
				return changed, err == nil, err
			default:
				return false, false, nil
			}
		})
	default:
		panic(fmt.Sprintf("rules: EqualsInt does not accept %T", b))
	}
}

// EqualsDim relates one axis variable to a constant or another axis.
func (s *Solver) EqualsDim(a DimRef, b any) *Solver {
	switch b := b.(type) {
	case int:
		return s.EqualsDim(a, dim.Int(b))
	case dim.Dim:
		return s.add(func(ctx *Context) (bool, bool, error) {
			changed, err := ctx.setDim(a.side, a.index, a.axis, b)
			if err != nil {
				return false, false, err
			}
			return changed, true, nil
		})
	case DimRef:
		return s.add(func(ctx *Context) (bool, bool, error) {
			va, oka, err := ctx.getDim(a.side, a.index, a.axis)
			if err != nil {
				return false, false, err
			}
			vb, okb, err := ctx.getDim(b.side, b.index, b.axis)
			if err != nil {
				return false, false, err
			}
			switch {
			case oka && okb:
				if !va.Equal(vb) {
					return false, false, fmt.Errorf("%w: dim %s vs %s", facts.ErrUnification, va, vb)
				}
				return false, true, nil
			case oka:
				changed, err := ctx.setDim(b.side, b.index, b.axis, va)
				return changed, err == nil, err
			case okb:
				changed, err := ctx.setDim(a.side, a.index, a.axis, vb)
				return changed, err == nil, err
			default:
				return false, false, nil
			}
		})
	default:
		panic(fmt.Sprintf("rules: EqualsDim does not accept %T", b))
	}
}

// EqualsShape relates a whole-shape variable to a dimension vector or
// another shape variable.
func (s *Solver) EqualsShape(a ShapeRef, b any) *Solver {
	switch b := b.(type) {
	case []dim.Dim:
		want := facts.FromDims(b)
		return s.add(func(ctx *Context) (bool, bool, error) {
			changed, err := ctx.mergeShape(a.side, a.index, want)
			return changed, err == nil, err
		})
	case tensor.Shape:
		return s.add(func(ctx *Context) (bool, bool, error) {
			changed, err := ctx.mergeShape(a.side, a.index, facts.ShapeOf(b))
			return changed, err == nil, err
		})
	case ShapeRef:
		return s.add(func(ctx *Context) (bool, bool, error) {
			fa, err := ctx.fact(a.side, a.index)
			if err != nil {
				return false, false, err
			}
			fb, err := ctx.fact(b.side, b.index)
			if err != nil {
				return false, false, err
			}
			merged, err := fa.Shape.Unify(fb.Shape)
			if err != nil {
				return false, false, err
			}
			changed := !shapeEqual(fa.Shape, merged) || !shapeEqual(fb.Shape, merged)
			fa.Shape = merged
			fb.Shape = merged.Clone()
			return changed, false, nil
		})
	default:
		panic(fmt.Sprintf("rules: EqualsShape does not accept %T", b))
	}
}

// EqualsValue pins a value variable to a concrete tensor.
func (s *Solver) EqualsValue(a ValueRef, t tensor.Tensor) *Solver {
	want := facts.FromTensor(t)
	return s.add(func(ctx *Context) (bool, bool, error) {
		changed, err := ctx.mergeFact(a.side, a.index, want)
		return changed, err == nil, err
	})
}

// EqualsAllTypes asserts pairwise equality of datum type variables.
func (s *Solver) EqualsAllTypes(refs ...TypeRef) *Solver {
	for _, r := range refs[1:] {
		s.EqualsType(refs[0], r)
	}
	return s
}

// EqualsAllInts asserts pairwise equality of rank variables.
func (s *Solver) EqualsAllInts(refs ...IntRef) *Solver {
	for _, r := range refs[1:] {
		s.EqualsInt(refs[0], r)
	}
	return s
}

// EqualsAllDims asserts pairwise equality of axis variables.
func (s *Solver) EqualsAllDims(refs ...DimRef) *Solver {
	for _, r := range refs[1:] {
		s.EqualsDim(refs[0], r)
	}
	return s
}

// GivenLen runs a nested rule block with the tensor count of a side. The
// count is structurally known, so the block fires on the first pass.
func (s *Solver) GivenLen(p *TensorsProxy, cb func(s *Solver, n int)) *Solver {
	side := p.side
	return s.add(func(ctx *Context) (bool, bool, error) {
		cb(s, len(ctx.list(side)))
		return false, true, nil
	})
}

// GivenInt runs a nested rule block once a rank variable becomes known.
func (s *Solver) GivenInt(r IntRef, cb func(s *Solver, v int)) *Solver {
	return s.add(func(ctx *Context) (bool, bool, error) {
		v, ok, err := ctx.getRank(r.side, r.index)
		if err != nil || !ok {
			return false, false, err
		}
		cb(s, v)
		return false, true, nil
	})
}

// GivenInt2 fires once both rank variables are known.
func (s *Solver) GivenInt2(a, b IntRef, cb func(s *Solver, va, vb int)) *Solver {
	return s.add(func(ctx *Context) (bool, bool, error) {
		va, oka, err := ctx.getRank(a.side, a.index)
		if err != nil {
			return false, false, err
		}
		vb, okb, err := ctx.getRank(b.side, b.index)
		if err != nil || !oka || !okb {
			return false, false, err
		}
		cb(s, va, vb)
		return false, true, nil
	})
}

// GivenType fires once a datum type variable becomes known.
func (s *Solver) GivenType(r TypeRef, cb func(s *Solver, dt tensor.DatumType)) *Solver {
	return s.add(func(ctx *Context) (bool, bool, error) {
		dt, ok, err := ctx.getType(r.side, r.index)
		if err != nil || !ok {
			return false, false, err
		}
		cb(s, dt)
		return false, true, nil
	})
}

// GivenAllTypes fires once every listed datum type variable is known.
func (s *Solver) GivenAllTypes(refs []TypeRef, cb func(s *Solver, dts []tensor.DatumType)) *Solver {
	return s.add(func(ctx *Context) (bool, bool, error) {
		dts := make([]tensor.DatumType, len(refs))
		for i, r := range refs {
			dt, ok, err := ctx.getType(r.side, r.index)
			if err != nil || !ok {
				return false, false, err
			}
			dts[i] = dt
		}
		cb(s, dts)
		return false, true, nil
	})
}

// GivenShape fires once every axis of a shape variable is known. Axes may
// still be symbolic.
func (s *Solver) GivenShape(r ShapeRef, cb func(s *Solver, shape []dim.Dim)) *Solver {
	return s.add(func(ctx *Context) (bool, bool, error) {
		dims, ok, err := ctx.getShape(r.side, r.index)
		if err != nil || !ok {
			return false, false, err
		}
		cb(s, dims)
		return false, true, nil
	})
}

// GivenShape2 fires once both shape variables are fully known.
func (s *Solver) GivenShape2(a, b ShapeRef, cb func(s *Solver, sa, sb []dim.Dim)) *Solver {
	return s.add(func(ctx *Context) (bool, bool, error) {
		da, oka, err := ctx.getShape(a.side, a.index)
		if err != nil {
			return false, false, err
		}
		db, okb, err := ctx.getShape(b.side, b.index)
		if err != nil || !oka || !okb {
			return false, false, err
		}
		cb(s, da, db)
		return false, true, nil
	})
}

// GivenValue fires once a value variable is known.
func (s *Solver) GivenValue(r ValueRef, cb func(s *Solver, t tensor.Tensor)) *Solver {
	return s.add(func(ctx *Context) (bool, bool, error) {
		v, err := ctx.getValue(r.side, r.index)
		if err != nil || v == nil {
			return false, false, err
		}
		cb(s, *v)
		return false, true, nil
	})
}
