// Package model holds the computation graph: operator nodes connected by
// outlet→inlet edges, plus the topological ordering the executors rely on.
package model

import (
	"errors"
	"fmt"

	"github.com/itohio/EasyInfer/pkg/core/ops"
)

var (
	ErrUnknownNode   = errors.New("model: unknown node")
	ErrDuplicateName = errors.New("model: duplicate node name")
	ErrDanglingInput = errors.New("model: dangling input")
	ErrSelfLoop      = errors.New("model: self loop")
	ErrCycle         = errors.New("model: graph cycle")
)

// SourceOpKind and SinkOpKind tag the pseudo-operators marking graph inputs
// and outputs.
const (
	SourceOpKind = "Source"
	SinkOpKind   = "Sink"
)

// OutletId identifies a producer-side endpoint: an output slot of a node.
type OutletId struct {
	Node int
	Slot int
}

func NewOutletId(node, slot int) OutletId {
	return OutletId{Node: node, Slot: slot}
}

// InletId identifies a consumer-side endpoint: an input port of a node.
type InletId struct {
	Node  int
	Inlet int
}

func NewInletId(node, inlet int) InletId {
	return InletId{Node: node, Inlet: inlet}
}

// Node is one operator instance in the graph. Its id equals its position in
// the node vector; Outputs is the number of output slots the operator
// declared at build time.
type Node struct {
	Id      int
	Name    string
	OpKind  string
	Inputs  []OutletId
	Outputs int
	Op      ops.Op
}

// Error attaches the diagnostic path of a node to an underlying error.
type Error struct {
	Node   string
	OpKind string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("model: node %q (%s): %v", e.Node, e.OpKind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WrapNodeErr attaches node context to an error, once.
func WrapNodeErr(n *Node, err error) error {
	if err == nil {
		return nil
	}
	var ne *Error
	if errors.As(err, &ne) {
		return err
	}
	return &Error{Node: n.Name, OpKind: n.OpKind, Err: err}
}

// RawModel is the immutable graph: nodes in dense id order plus the
// name index.
type RawModel struct {
	nodes  []*Node
	byName map[string]int
}

// NewRawModel finalizes a node vector into a graph. Every outlet not
// consumed by any inlet gets a terminal Sink node appended, so graph outputs
// are always explicit.
func NewRawModel(nodes []*Node, byName map[string]int) (*RawModel, error) {
	if byName == nil {
		byName = make(map[string]int, len(nodes))
		for _, n := range nodes {
			if _, ok := byName[n.Name]; ok {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateName, n.Name)
			}
			byName[n.Name] = n.Id
		}
	}
	used := make(map[OutletId]bool)
	for _, n := range nodes {
		if n.Outputs == 0 {
			n.Outputs = ops.OutputCount(n.Op)
		}
		for _, in := range n.Inputs {
			if in.Node == n.Id {
				return nil, WrapNodeErr(n, ErrSelfLoop)
			}
			if in.Node < 0 || in.Node >= len(nodes) || in.Slot < 0 || in.Slot >= maxOutputs(nodes, in.Node) {
				return nil, WrapNodeErr(n, fmt.Errorf("%w: %v", ErrDanglingInput, in))
			}
			used[in] = true
		}
	}
	for id := 0; id < len(nodes); id++ {
		n := nodes[id]
		if n.Id != id {
			return nil, fmt.Errorf("model: node %q has id %d at position %d", n.Name, n.Id, id)
		}
		if n.OpKind == SinkOpKind {
			continue
		}
		for slot := 0; slot < n.Outputs; slot++ {
			outlet := NewOutletId(id, slot)
			if used[outlet] {
				continue
			}
			sinkId := len(nodes)
			sink := &Node{
				Id:      sinkId,
				Name:    fmt.Sprintf("Sink-%d", sinkId),
				OpKind:  SinkOpKind,
				Inputs:  []OutletId{outlet},
				Outputs: 1,
				Op:      ops.NewSink(),
			}
			nodes = append(nodes, sink)
			byName[sink.Name] = sinkId
		}
	}
	return &RawModel{nodes: nodes, byName: byName}, nil
}

func maxOutputs(nodes []*Node, id int) int {
	if nodes[id].Outputs > 0 {
		return nodes[id].Outputs
	}
	return ops.OutputCount(nodes[id].Op)
}

// NodeByName looks a node up by its unique name.
func (m *RawModel) NodeByName(name string) (*Node, error) {
	id, ok := m.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, name)
	}
	return m.nodes[id], nil
}

// Nodes returns the node vector in id order.
func (m *RawModel) Nodes() []*Node {
	return m.nodes
}

// NodeNames lists every node name in id order.
func (m *RawModel) NodeNames() []string {
	names := make([]string, len(m.nodes))
	for i, n := range m.nodes {
		names[i] = n.Name
	}
	return names
}

// GuessInputs returns the Source nodes.
func (m *RawModel) GuessInputs() []*Node {
	var out []*Node
	for _, n := range m.nodes {
		if n.OpKind == SourceOpKind {
			out = append(out, n)
		}
	}
	return out
}

// GuessOutputs returns the nodes feeding Sink nodes.
func (m *RawModel) GuessOutputs() []*Node {
	var out []*Node
	for _, n := range m.nodes {
		if n.OpKind != SinkOpKind {
			continue
		}
		for _, in := range n.Inputs {
			out = append(out, m.nodes[in.Node])
		}
	}
	return out
}

// Model shares an immutable RawModel. It is safe for concurrent use; all
// per-run state lives in executor states.
type Model struct {
	*RawModel
}

func NewModel(raw *RawModel) Model {
	return Model{RawModel: raw}
}
