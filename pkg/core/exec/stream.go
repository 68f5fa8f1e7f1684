package exec

import (
	"fmt"

	"github.com/itohio/EasyInfer/pkg/core/model"
	"github.com/itohio/EasyInfer/pkg/core/ops"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

// StreamState drives pulsed execution: sources receive one chunk along the
// streaming axis per pulse, streaming operators step with fresh per-node
// buffers, and operators that cannot stream accumulate their input chunks
// and evaluate once, at flush time.
type StreamState struct {
	plan    *Plan
	axis    int
	wholes  map[model.OutletId]tensor.Tensor
	buffers map[int]ops.Buffer
	pending map[model.InletId][]tensor.Tensor
	closed  bool
}

// StreamingState prepares pulsed execution along the given axis. Nodes with
// no Source ancestor are evaluated eagerly once; their outputs are fully
// available to every step.
func (p *Plan) StreamingState(axis int) (*StreamState, error) {
	s := &StreamState{
		plan:    p,
		axis:    axis,
		wholes:  make(map[model.OutletId]tensor.Tensor),
		buffers: make(map[int]ops.Buffer),
		pending: make(map[model.InletId][]tensor.Tensor),
	}
	streamed := make(map[int]bool)
	for _, id := range p.order {
		n := p.m.Nodes()[id]
		switch {
		case n.OpKind == model.SourceOpKind:
			streamed[id] = true
		case n.OpKind == model.SinkOpKind:
			continue
		default:
			for _, in := range n.Inputs {
				if streamed[in.Node] {
					streamed[id] = true
					break
				}
			}
			if !streamed[id] {
				inputs := make([]tensor.Tensor, len(n.Inputs))
				for i, in := range n.Inputs {
					inputs[i] = s.wholes[in]
				}
				outs, err := n.Op.Eval(inputs)
				if err != nil {
					return nil, model.WrapNodeErr(n, err)
				}
				for slot, out := range outs {
					s.wholes[model.NewOutletId(id, slot)] = out
				}
				continue
			}
			if sop, ok := n.Op.(ops.StreamingOp); ok {
				s.buffers[id] = sop.NewBuffer()
			}
		}
	}
	return s, nil
}

// Pulse feeds one chunk per source and propagates through the graph. The
// returned map holds whatever the requested outputs produced this pulse; a
// deferring node simply yields nothing yet.
func (s *StreamState) Pulse(chunks map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
	if s.closed {
		return nil, fmt.Errorf("%w: stream already flushed", ErrNoValue)
	}
	produced := make(map[model.OutletId]tensor.Tensor)
	for name, chunk := range chunks {
		n, err := s.plan.m.NodeByName(name)
		if err != nil {
			return nil, err
		}
		produced[model.NewOutletId(n.Id, 0)] = chunk
	}
	if err := s.propagate(produced); err != nil {
		return nil, err
	}
	return s.collect(produced), nil
}

// Close flushes operators that accumulated chunks: walking the plan order
// guarantees upstream nodes flush before their consumers see the result.
func (s *StreamState) Close() (map[string]tensor.Tensor, error) {
	if s.closed {
		return nil, nil
	}
	s.closed = true
	produced := make(map[model.OutletId]tensor.Tensor)
	for _, id := range s.plan.order {
		n := s.plan.m.Nodes()[id]
		if n.OpKind == model.SourceOpKind || n.OpKind == model.SinkOpKind {
			continue
		}
		if _, streaming := s.buffers[id]; streaming {
			if err := s.stepNode(n, produced); err != nil {
				return nil, err
			}
			continue
		}
		flush := false
		inputs := make([]tensor.Tensor, len(n.Inputs))
		for i, in := range n.Inputs {
			if whole, ok := s.wholes[in]; ok {
				inputs[i] = whole
				continue
			}
			parts := s.pending[model.NewInletId(id, i)]
			if chunk, ok := produced[in]; ok {
				parts = append(parts, chunk)
			}
			if len(parts) == 0 {
				continue
			}
			full, err := tensor.Concat(s.axis, parts...)
			if err != nil {
				return nil, model.WrapNodeErr(n, err)
			}
			inputs[i] = full
			flush = true
		}
		if !flush {
			continue
		}
		outs, err := n.Op.Eval(inputs)
		if err != nil {
			return nil, model.WrapNodeErr(n, err)
		}
		for slot, out := range outs {
			produced[model.NewOutletId(id, slot)] = out
		}
	}
	return s.collect(produced), nil
}

func (s *StreamState) propagate(produced map[model.OutletId]tensor.Tensor) error {
	for _, id := range s.plan.order {
		n := s.plan.m.Nodes()[id]
		if n.OpKind == model.SourceOpKind || n.OpKind == model.SinkOpKind {
			continue
		}
		if _, constant := s.wholes[model.NewOutletId(id, 0)]; constant {
			continue
		}
		fresh := false
		for _, in := range n.Inputs {
			if _, ok := produced[in]; ok {
				fresh = true
				break
			}
		}
		if !fresh {
			continue
		}
		if _, streaming := s.buffers[id]; streaming {
			if err := s.stepNode(n, produced); err != nil {
				return err
			}
			continue
		}
		// The operator cannot stream: park the chunks until Close.
		for i, in := range n.Inputs {
			if chunk, ok := produced[in]; ok {
				inlet := model.NewInletId(id, i)
				s.pending[inlet] = append(s.pending[inlet], chunk)
			}
		}
	}
	return nil
}

func (s *StreamState) stepNode(n *model.Node, produced map[model.OutletId]tensor.Tensor) error {
	sop := n.Op.(ops.StreamingOp)
	stepIn := make([]ops.StepValue, len(n.Inputs))
	for i, in := range n.Inputs {
		if whole, ok := s.wholes[in]; ok {
			stepIn[i] = ops.Full(whole)
			continue
		}
		chunk := produced[in] // zero tensor when nothing arrived
		stepIn[i] = ops.Chunk(chunk, s.axis)
	}
	outs, err := sop.Step(stepIn, s.buffers[n.Id])
	if err != nil {
		return model.WrapNodeErr(n, err)
	}
	if outs == nil {
		return nil
	}
	for slot, out := range outs {
		produced[model.NewOutletId(n.Id, slot)] = out
	}
	return nil
}

func (s *StreamState) collect(produced map[model.OutletId]tensor.Tensor) map[string]tensor.Tensor {
	outs := make(map[string]tensor.Tensor)
	for _, outlet := range s.plan.outputs {
		if t, ok := produced[outlet]; ok {
			outs[s.plan.m.Nodes()[outlet.Node].Name] = t
		}
	}
	return outs
}

// RunStreaming is the batteries-included driver: it pulses the per-source
// chunk sequences, flushes, and concatenates everything each output
// produced along the streaming axis.
func (p *Plan) RunStreaming(axis int, chunks map[string][]tensor.Tensor) ([]tensor.Tensor, error) {
	state, err := p.StreamingState(axis)
	if err != nil {
		return nil, err
	}
	pulses := 0
	for _, seq := range chunks {
		if len(seq) > pulses {
			pulses = len(seq)
		}
	}
	parts := make(map[string][]tensor.Tensor)
	for i := 0; i < pulses; i++ {
		feed := make(map[string]tensor.Tensor)
		for name, seq := range chunks {
			if i < len(seq) {
				feed[name] = seq[i]
			}
		}
		got, err := state.Pulse(feed)
		if err != nil {
			return nil, err
		}
		for name, t := range got {
			parts[name] = append(parts[name], t)
		}
	}
	got, err := state.Close()
	if err != nil {
		return nil, err
	}
	for name, t := range got {
		parts[name] = append(parts[name], t)
	}
	outs := make([]tensor.Tensor, len(p.outputs))
	for i, outlet := range p.outputs {
		name := p.m.Nodes()[outlet.Node].Name
		seq := parts[name]
		if len(seq) == 0 {
			return nil, fmt.Errorf("%w: output %q produced nothing", ErrNoValue, name)
		}
		full, err := tensor.Concat(axis, seq...)
		if err != nil {
			return nil, err
		}
		outs[i] = full
	}
	return outs, nil
}
