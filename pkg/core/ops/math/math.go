// Package math implements the elementwise operator family: unary maps over
// a closed set of supported datum types, and binary zips with super-type
// coercion.
package math

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/itohio/EasyInfer/pkg/core/analyser/rules"
	"github.com/itohio/EasyInfer/pkg/core/ops"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

// Map is an elementwise unary operator. Only kernels for supported datum
// types are populated; applying the operator to anything else fails.
type Map struct {
	name string
	f32  func(float32) float32
	f64  func(float64) float64
	i32  func(int32) int32
}

func (o *Map) Name() string { return o.name }

func (o *Map) Eval(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: %s wants 1, got %d", ops.ErrArity, o.name, len(inputs))
	}
	in := inputs[0]
	out := tensor.New(in.DatumType(), in.Shape())
	switch in.DatumType() {
	case tensor.DTFP32:
		if o.f32 == nil {
			return nil, fmt.Errorf("%w: %s over %v", tensor.ErrDtypeMismatch, o.name, in.DatumType())
		}
		src, _ := tensor.Buffer[float32](in)
		dst, _ := tensor.Buffer[float32](out)
		for i, v := range src {
			dst[i] = o.f32(v)
		}
	case tensor.DTFP64:
		if o.f64 == nil {
			return nil, fmt.Errorf("%w: %s over %v", tensor.ErrDtypeMismatch, o.name, in.DatumType())
		}
		src, _ := tensor.Buffer[float64](in)
		dst, _ := tensor.Buffer[float64](out)
		for i, v := range src {
			dst[i] = o.f64(v)
		}
	case tensor.DTINT32:
		if o.i32 == nil {
			return nil, fmt.Errorf("%w: %s over %v", tensor.ErrDtypeMismatch, o.name, in.DatumType())
		}
		src, _ := tensor.Buffer[int32](in)
		dst, _ := tensor.Buffer[int32](out)
		for i, v := range src {
			dst[i] = o.i32(v)
		}
	default:
		return nil, fmt.Errorf("%w: %s over %v", tensor.ErrDtypeMismatch, o.name, in.DatumType())
	}
	return []tensor.Tensor{out}, nil
}

func (o *Map) NewBuffer() ops.Buffer { return nil }

// Step maps each chunk independently; elementwise operators have no state.
func (o *Map) Step(inputs []ops.StepValue, buf ops.Buffer) ([]tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: %s wants 1, got %d", ops.ErrArity, o.name, len(inputs))
	}
	if inputs[0].Value.Empty() {
		return nil, nil
	}
	return o.Eval([]tensor.Tensor{inputs[0].Value})
}

func (o *Map) Rules(s *rules.Solver, inputs, outputs *rules.TensorsProxy) {
	s.EqualsLen(inputs, 1).
		EqualsLen(outputs, 1).
		EqualsType(outputs.T(0).DatumType(), inputs.T(0).DatumType()).
		EqualsShape(outputs.T(0).Shape(), inputs.T(0).Shape())
}

// Binary is an elementwise binary operator. Operands are coerced to their
// super-type first; shapes must match, except for a scalar or a trailing-axis
// vector second operand, which broadcasts (the BiasAdd case). The first
// operand never broadcasts.
type Binary struct {
	name string
	f32  func(a, b float32) (float32, error)
	f64  func(a, b float64) (float64, error)
	i32  func(a, b int32) (int32, error)
	i64  func(a, b int64) (int64, error)
}

func (o *Binary) Name() string { return o.name }

func (o *Binary) Eval(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("%w: %s wants 2, got %d", ops.ErrArity, o.name, len(inputs))
	}
	a, b := inputs[0], inputs[1]
	dt, ok := tensor.SuperType(a.DatumType(), b.DatumType())
	if !ok {
		return nil, fmt.Errorf("%w: no super type of %v and %v", tensor.ErrDtypeMismatch, a.DatumType(), b.DatumType())
	}
	a, err := a.CastTo(dt)
	if err != nil {
		return nil, err
	}
	b, err = b.CastTo(dt)
	if err != nil {
		return nil, err
	}
	if !broadcastable(a.Shape(), b.Shape()) {
		return nil, fmt.Errorf("%w: %s over %v and %v", tensor.ErrShapeMismatch, o.name, a.Shape(), b.Shape())
	}
	out := tensor.New(dt, a.Shape())
	switch dt {
	case tensor.DTFP32:
		err = zip(o.f32, out, a, b)
	case tensor.DTFP64:
		err = zip(o.f64, out, a, b)
	case tensor.DTINT32:
		err = zip(o.i32, out, a, b)
	case tensor.DTINT64:
		err = zip(o.i64, out, a, b)
	default:
		return nil, fmt.Errorf("%w: %s over %v", tensor.ErrDtypeMismatch, o.name, dt)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", o.name, err)
	}
	return []tensor.Tensor{out}, nil
}

func (o *Binary) Rules(s *rules.Solver, inputs, outputs *rules.TensorsProxy) {
	s.EqualsLen(inputs, 2).
		EqualsLen(outputs, 1).
		EqualsShape(outputs.T(0).Shape(), inputs.T(0).Shape()).
		GivenAllTypes(
			[]rules.TypeRef{inputs.T(0).DatumType(), inputs.T(1).DatumType()},
			func(s *rules.Solver, dts []tensor.DatumType) {
				if dt, ok := tensor.SuperTypeFor(dts...); ok {
					s.EqualsType(outputs.T(0).DatumType(), dt)
				} else {
					s.Failf("no super type of %v and %v", dts[0], dts[1])
				}
			})
}

// broadcastable admits equal shapes, a scalar right operand, or a vector
// matching the trailing axis.
func broadcastable(a, b tensor.Shape) bool {
	if a.Equal(b) {
		return true
	}
	if b.Rank() == 0 {
		return true
	}
	return b.Rank() == 1 && a.Rank() >= 1 && a[a.Rank()-1] == b[0]
}

func zip[T tensor.NumericElementType](f func(a, b T) (T, error), out, a, b tensor.Tensor) error {
	if f == nil {
		return fmt.Errorf("%w: unsupported datum type", tensor.ErrDtypeMismatch)
	}
	av, err := tensor.Buffer[T](a)
	if err != nil {
		return err
	}
	bv, err := tensor.Buffer[T](b)
	if err != nil {
		return err
	}
	dst, err := tensor.Buffer[T](out)
	if err != nil {
		return err
	}
	for i := range dst {
		bi := i % maxInt(len(bv), 1)
		if len(bv) == len(av) {
			bi = i
		}
		v, err := f(av[i], bv[bi])
		if err != nil {
			return err
		}
		dst[i] = v
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func exact[T tensor.NumericElementType](f func(a, b T) T) func(a, b T) (T, error) {
	return func(a, b T) (T, error) { return f(a, b), nil }
}

func intDiv[T int32 | int64](a, b T) (T, error) {
	if b == 0 {
		return 0, fmt.Errorf("%w: integer division by zero", ops.ErrNumeric)
	}
	return a / b, nil
}

// Builders return a fresh operator instance per node: a node owns its
// operator exclusively.
func register(proto ops.Op, kinds ...string) {
	for _, kind := range kinds {
		ops.MustRegister(kind, func(def ops.NodeDef) (ops.Op, error) {
			switch p := proto.(type) {
			case *Map:
				op := *p
				return &op, nil
			case *Binary:
				op := *p
				return &op, nil
			default:
				return proto, nil
			}
		})
	}
}

func init() {
	register(&Map{name: "Abs",
		f32: math32.Abs,
		f64: func(x float64) float64 {
			if x < 0 {
				return -x
			}
			return x
		},
		i32: func(x int32) int32 {
			if x < 0 {
				return -x
			}
			return x
		},
	}, "Abs")
	register(&Map{name: "Neg",
		f32: func(x float32) float32 { return -x },
		f64: func(x float64) float64 { return -x },
		i32: func(x int32) int32 { return -x },
	}, "Neg")
	register(&Map{name: "Relu",
		f32: func(x float32) float32 { return math32.Max(x, 0) },
		i32: func(x int32) int32 {
			if x < 0 {
				return 0
			}
			return x
		},
	}, "Relu")
	register(&Map{name: "Sigmoid",
		f32: func(x float32) float32 { return 1 / (math32.Exp(-x) + 1) },
	}, "Sigmoid")
	register(&Map{name: "Tanh",
		f32: math32.Tanh,
	}, "Tanh")
	register(&Map{name: "Rsqrt",
		f32: func(x float32) float32 { return 1 / math32.Sqrt(x) },
	}, "Rsqrt")

	register(&Binary{name: "Add",
		f32: exact(func(a, b float32) float32 { return a + b }),
		f64: exact(func(a, b float64) float64 { return a + b }),
		i32: exact(func(a, b int32) int32 { return a + b }),
		i64: exact(func(a, b int64) int64 { return a + b }),
	}, "Add", "BiasAdd")
	register(&Binary{name: "Sub",
		f32: exact(func(a, b float32) float32 { return a - b }),
		f64: exact(func(a, b float64) float64 { return a - b }),
		i32: exact(func(a, b int32) int32 { return a - b }),
		i64: exact(func(a, b int64) int64 { return a - b }),
	}, "Sub")
	register(&Binary{name: "Mul",
		f32: exact(func(a, b float32) float32 { return a * b }),
		f64: exact(func(a, b float64) float64 { return a * b }),
		i32: exact(func(a, b int32) int32 { return a * b }),
		i64: exact(func(a, b int64) int64 { return a * b }),
	}, "Mul")
	register(&Binary{name: "Div",
		f32: exact(func(a, b float32) float32 { return a / b }),
		f64: exact(func(a, b float64) float64 { return a / b }),
		i32: intDiv[int32],
		i64: intDiv[int64],
	}, "Div")
}
