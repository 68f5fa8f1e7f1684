// Package exec evaluates a model: batch runs over complete input tensors,
// and pulsed runs that consume inputs chunk-by-chunk along a streaming axis.
package exec

import (
	"errors"
	"fmt"

	"github.com/itohio/EasyInfer/pkg/core/model"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
	"github.com/itohio/EasyInfer/pkg/logger"
)

var (
	ErrMissingInput = errors.New("exec: missing input value")
	ErrNoValue      = errors.New("exec: value not available")
)

// Plan fixes the evaluation order and per-outlet consumer counts for a set
// of requested outputs. A plan is immutable and shareable; each run owns its
// own state.
type Plan struct {
	m       model.Model
	order   []int
	outputs []model.OutletId
	refs    map[model.OutletId]int
}

// NewPlan prepares the subgraph evaluation reaching the named outputs.
func NewPlan(m model.Model, outputs []string) (*Plan, error) {
	targets := make([]int, len(outputs))
	outlets := make([]model.OutletId, len(outputs))
	for i, name := range outputs {
		n, err := m.NodeByName(name)
		if err != nil {
			return nil, err
		}
		targets[i] = n.Id
		outlets[i] = model.NewOutletId(n.Id, 0)
	}
	order, err := model.EvalOrderForNodes(m.RawModel, targets)
	if err != nil {
		return nil, err
	}
	refs := make(map[model.OutletId]int)
	for _, id := range order {
		for _, in := range m.Nodes()[id].Inputs {
			refs[in]++
		}
	}
	// Requested outputs survive the whole run.
	for _, out := range outlets {
		refs[out]++
	}
	return &Plan{m: m, order: order, outputs: outlets, refs: refs}, nil
}

// Model returns the plan's model.
func (p *Plan) Model() model.Model {
	return p.m
}

// Order returns the planned node order.
func (p *Plan) Order() []int {
	return p.order
}

// Run evaluates the plan in one go over complete input tensors.
func (p *Plan) Run(inputs map[string]tensor.Tensor) ([]tensor.Tensor, error) {
	state := p.State()
	for name, t := range inputs {
		if err := state.SetValue(name, t); err != nil {
			return nil, err
		}
	}
	return state.Exec()
}

// Run is the one-shot embedding convenience: plan, evaluate, return the
// tensors at the requested outputs.
func Run(m model.Model, inputs map[string]tensor.Tensor, outputs []string) ([]tensor.Tensor, error) {
	plan, err := NewPlan(m, outputs)
	if err != nil {
		return nil, err
	}
	return plan.Run(inputs)
}

// RunState is the mutable side of one batch run: the per-outlet value slots
// and their remaining consumer counts.
type RunState struct {
	plan   *Plan
	values map[model.OutletId]tensor.Tensor
	refs   map[model.OutletId]int
}

// State allocates a fresh run state.
func (p *Plan) State() *RunState {
	refs := make(map[model.OutletId]int, len(p.refs))
	for k, v := range p.refs {
		refs[k] = v
	}
	return &RunState{
		plan:   p,
		values: make(map[model.OutletId]tensor.Tensor),
		refs:   refs,
	}
}

// SetValue installs an input tensor on the first outlet of a named node.
func (s *RunState) SetValue(name string, t tensor.Tensor) error {
	n, err := s.plan.m.NodeByName(name)
	if err != nil {
		return err
	}
	s.values[model.NewOutletId(n.Id, 0)] = t
	return nil
}

// Exec walks the plan order, evaluating each node and freeing edge tensors
// as soon as their last consumer has read them.
func (s *RunState) Exec() ([]tensor.Tensor, error) {
	for _, id := range s.plan.order {
		n := s.plan.m.Nodes()[id]
		if n.OpKind == model.SinkOpKind {
			continue
		}
		if _, done := s.values[model.NewOutletId(id, 0)]; done {
			continue
		}
		if n.OpKind == model.SourceOpKind {
			return nil, model.WrapNodeErr(n, ErrMissingInput)
		}
		inputs := make([]tensor.Tensor, len(n.Inputs))
		for i, in := range n.Inputs {
			v, ok := s.values[in]
			if !ok {
				return nil, model.WrapNodeErr(n, fmt.Errorf("%w: outlet %v", ErrNoValue, in))
			}
			inputs[i] = v
		}
		outputs, err := n.Op.Eval(inputs)
		if err != nil {
			return nil, model.WrapNodeErr(n, err)
		}
		if len(outputs) < n.Outputs {
			return nil, model.WrapNodeErr(n, fmt.Errorf("%w: %d outputs, want %d", ErrNoValue, len(outputs), n.Outputs))
		}
		for slot, out := range outputs {
			s.values[model.NewOutletId(id, slot)] = out
		}
		logger.Log.Debug().Str("node", n.Name).Str("op", n.OpKind).Msg("evaluated")
		for _, in := range n.Inputs {
			s.refs[in]--
			if s.refs[in] <= 0 {
				delete(s.values, in)
			}
		}
	}
	outs := make([]tensor.Tensor, len(s.plan.outputs))
	for i, outlet := range s.plan.outputs {
		v, ok := s.values[outlet]
		if !ok {
			return nil, fmt.Errorf("%w: output outlet %v", ErrNoValue, outlet)
		}
		outs[i] = v
	}
	return outs, nil
}
