package model

import (
	"fmt"
)

// EvalOrderForNodes computes an evaluation order covering the targets: a
// permutation of the reachable subgraph in which every producer appears
// before its consumers. A back-edge fails with ErrCycle.
func EvalOrderForNodes(m *RawModel, targets []int) ([]int, error) {
	const (
		white = iota
		gray
		black
	)
	color := make([]uint8, len(m.nodes))
	var order []int
	var visit func(id int) error
	visit = func(id int) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			return WrapNodeErr(m.nodes[id], ErrCycle)
		}
		color[id] = gray
		for _, in := range m.nodes[id].Inputs {
			if err := visit(in.Node); err != nil {
				return err
			}
		}
		color[id] = black
		order = append(order, id)
		return nil
	}
	for _, t := range targets {
		if t < 0 || t >= len(m.nodes) {
			return nil, fmt.Errorf("%w: node id %d", ErrUnknownNode, t)
		}
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return order, nil
}
