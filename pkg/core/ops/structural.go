package ops

import (
	"fmt"

	"github.com/itohio/EasyInfer/pkg/core/analyser/facts"
	"github.com/itohio/EasyInfer/pkg/core/analyser/rules"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

// Source marks a graph input. Its value is installed by the executor; it is
// never evaluated. An optional seed fact constrains the expected input.
type Source struct {
	Fact facts.TensorFact
}

func NewSource(fact facts.TensorFact) *Source {
	return &Source{Fact: fact}
}

func (o *Source) Name() string { return "Source" }

func (o *Source) Eval(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	return nil, fmt.Errorf("source evaluated without a value: %w", ErrUnimplemented)
}

func (o *Source) Rules(s *rules.Solver, inputs, outputs *rules.TensorsProxy) {
	s.EqualsLen(inputs, 0)
	if o.Fact.Type != tensor.DT_UNKNOWN {
		s.EqualsType(outputs.T(0).DatumType(), o.Fact.Type)
	}
	if dims, ok := o.Fact.Shape.DimValues(); ok {
		s.EqualsShape(outputs.T(0).Shape(), dims)
	} else if r, ok := o.Fact.Shape.Rank(); ok {
		s.EqualsInt(outputs.T(0).Rank(), r)
	}
	if o.Fact.Value != nil {
		s.EqualsValue(outputs.T(0).Value(), *o.Fact.Value)
	}
}

// Sink terminates an otherwise unconsumed outlet, making graph outputs
// explicit.
type Sink struct{}

func NewSink() *Sink { return &Sink{} }

func (o *Sink) Name() string { return "Sink" }

func (o *Sink) Eval(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	return nil, nil
}

func (o *Sink) Rules(s *rules.Solver, inputs, outputs *rules.TensorsProxy) {
	s.EqualsLen(inputs, 1)
}

// Const carries an embedded tensor.
type Const struct {
	Value tensor.Tensor
}

func NewConst(v tensor.Tensor) *Const { return &Const{Value: v} }

func (o *Const) Name() string { return "Const" }

func (o *Const) Eval(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	return []tensor.Tensor{o.Value}, nil
}

func (o *Const) Rules(s *rules.Solver, inputs, outputs *rules.TensorsProxy) {
	s.EqualsLen(inputs, 0).
		EqualsLen(outputs, 1).
		EqualsValue(outputs.T(0).Value(), o.Value)
}

// Identity passes its single input through unchanged.
type Identity struct{}

func NewIdentity() *Identity { return &Identity{} }

func (o *Identity) Name() string { return "Identity" }

func (o *Identity) Eval(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: identity wants 1, got %d", ErrArity, len(inputs))
	}
	return inputs, nil
}

func (o *Identity) NewBuffer() Buffer { return nil }

// Step forwards chunks as they arrive.
func (o *Identity) Step(inputs []StepValue, buf Buffer) ([]tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: identity wants 1, got %d", ErrArity, len(inputs))
	}
	if inputs[0].Value.Empty() {
		return nil, nil
	}
	return []tensor.Tensor{inputs[0].Value}, nil
}

func (o *Identity) Rules(s *rules.Solver, inputs, outputs *rules.TensorsProxy) {
	s.EqualsLen(inputs, 1).
		EqualsLen(outputs, 1).
		EqualsType(outputs.T(0).DatumType(), inputs.T(0).DatumType()).
		EqualsShape(outputs.T(0).Shape(), inputs.T(0).Shape())
}

// Unimplemented stands in for operator kinds the registry does not know.
// The node still participates in graph construction and enumeration, but
// evaluating it fails.
type Unimplemented struct {
	Kind string
}

func (o *Unimplemented) Name() string { return "Unimplemented(" + o.Kind + ")" }

func (o *Unimplemented) Eval(inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	return nil, fmt.Errorf("%w: %q", ErrUnimplemented, o.Kind)
}

func (o *Unimplemented) Rules(s *rules.Solver, inputs, outputs *rules.TensorsProxy) {
}

func init() {
	MustRegister("Identity", func(def NodeDef) (Op, error) { return NewIdentity(), nil })
	MustRegister("Placeholder", func(def NodeDef) (Op, error) {
		fact := facts.Default()
		if dt, err := def.GetAttrType("dtype"); err == nil {
			fact.Type = dt
		}
		return NewSource(fact), nil
	})
	MustRegister("Source", func(def NodeDef) (Op, error) { return NewSource(facts.Default()), nil })
	MustRegister("Sink", func(def NodeDef) (Op, error) { return NewSink(), nil })
	MustRegister("Const", func(def NodeDef) (Op, error) {
		v, err := def.GetAttrTensor("value")
		if err != nil {
			return nil, err
		}
		return NewConst(v), nil
	})
}
