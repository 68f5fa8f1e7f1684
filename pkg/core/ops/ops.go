// Package ops defines the operator contract every node of a computation
// graph implements, the registry that builds operators from parsed node
// descriptors, and the small set of structural operators (Source, Sink,
// Const, Identity) every graph relies on.
package ops

import (
	"errors"

	"github.com/itohio/EasyInfer/pkg/core/analyser/rules"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

var (
	ErrArity         = errors.New("ops: wrong input count")
	ErrUnimplemented = errors.New("ops: unimplemented operator")
	ErrNoStreaming   = errors.New("ops: operator cannot stream")
	ErrNumeric       = errors.New("ops: numeric error")
)

// Op is the capability set every operator implements. Eval is a pure tensor
// function; Rules declares the operator's fact constraints for the analyser.
type Op interface {
	// Name returns the stable operator tag used in diagnostics.
	Name() string

	// Eval evaluates the operation given the input tensors.
	Eval(inputs []tensor.Tensor) ([]tensor.Tensor, error)

	// Rules declares constraints relating input facts to output facts.
	Rules(s *rules.Solver, inputs, outputs *rules.TensorsProxy)
}

// Buffer holds per-node mutable state during pulsed execution. Each
// streaming executor instance owns one buffer per node.
type Buffer any

// StepValue is one input of a streaming step: either a fully available
// tensor or a chunk on the streaming axis.
type StepValue struct {
	Value tensor.Tensor
	Whole bool
	Axis  int
}

// Chunk wraps a tensor arriving chunk-by-chunk on the given axis.
func Chunk(t tensor.Tensor, axis int) StepValue {
	return StepValue{Value: t, Axis: axis}
}

// Full wraps a tensor that is entirely available.
func Full(t tensor.Tensor) StepValue {
	return StepValue{Value: t, Whole: true}
}

// StreamingOp is implemented by operators that can consume inputs
// chunk-by-chunk. Step returns a nil tensor slice (and nil error) when not
// enough data has arrived to produce an output.
type StreamingOp interface {
	Op
	NewBuffer() Buffer
	Step(inputs []StepValue, buf Buffer) ([]tensor.Tensor, error)
}

// MultiOutputOp is implemented by operators producing more than one output
// slot. All others have exactly one.
type MultiOutputOp interface {
	Op
	OutputCount() int
}

// OutputCount returns the number of output slots an operator declares.
func OutputCount(op Op) int {
	if m, ok := op.(MultiOutputOp); ok {
		return m.OutputCount()
	}
	return 1
}

// StepFallback implements the default streaming behavior: evaluate eagerly
// when every input is fully available, defer otherwise.
func StepFallback(op Op, inputs []StepValue) ([]tensor.Tensor, error) {
	full := make([]tensor.Tensor, len(inputs))
	for i, sv := range inputs {
		if !sv.Whole {
			return nil, nil
		}
		full[i] = sv.Value
	}
	return op.Eval(full)
}
