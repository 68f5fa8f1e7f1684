// Package analyser runs operator inference rules over a whole graph until a
// fixed point, computing the most precise tensor fact for every edge.
package analyser

import (
	"errors"
	"fmt"
	"sort"

	"github.com/itohio/EasyInfer/pkg/core/analyser/facts"
	"github.com/itohio/EasyInfer/pkg/core/analyser/rules"
	"github.com/itohio/EasyInfer/pkg/core/model"
	"github.com/itohio/EasyInfer/pkg/logger"
)

var ErrDiverged = errors.New("analyser: propagation did not converge")

// passLimit bounds the number of whole-graph passes. Facts sharpen
// monotonically, so hitting the limit means a rule oscillates.
const passLimit = 1000

// Analyser owns the per-edge facts of the subgraph feeding one output and
// drives constraint propagation over it.
type Analyser struct {
	m      model.Model
	output *model.Node
	plan   []int
	facts  map[model.OutletId]*facts.TensorFact
}

// New builds an analyser for the subgraph that computes the named output.
func New(m model.Model, output string) (*Analyser, error) {
	node, err := m.NodeByName(output)
	if err != nil {
		return nil, err
	}
	plan, err := model.EvalOrderForNodes(m.RawModel, []int{node.Id})
	if err != nil {
		return nil, err
	}
	a := &Analyser{
		m:      m,
		output: node,
		plan:   plan,
		facts:  make(map[model.OutletId]*facts.TensorFact),
	}
	for _, id := range plan {
		n := m.Nodes()[id]
		for slot := 0; slot < n.Outputs; slot++ {
			f := facts.Default()
			a.facts[model.NewOutletId(id, slot)] = &f
		}
	}
	return a, nil
}

// SetInputFact seeds the fact on the first outlet of a named node, usually a
// Source placeholder.
func (a *Analyser) SetInputFact(name string, f facts.TensorFact) error {
	node, err := a.m.NodeByName(name)
	if err != nil {
		return err
	}
	cur, ok := a.facts[model.NewOutletId(node.Id, 0)]
	if !ok {
		return fmt.Errorf("%w: %q is not part of the analysed subgraph", model.ErrUnknownNode, name)
	}
	merged, err := cur.Unify(f)
	if err != nil {
		return model.WrapNodeErr(node, err)
	}
	*cur = merged
	return nil
}

// Fact returns the current fact on an outlet.
func (a *Analyser) Fact(outlet model.OutletId) (facts.TensorFact, error) {
	f, ok := a.facts[outlet]
	if !ok {
		return facts.TensorFact{}, fmt.Errorf("%w: outlet %v", model.ErrUnknownNode, outlet)
	}
	return *f, nil
}

// OutputFact returns the fact on the analysed output's first outlet.
func (a *Analyser) OutputFact() facts.TensorFact {
	f, _ := a.Fact(model.NewOutletId(a.output.Id, 0))
	return f
}

// FactByName returns the fact on the first outlet of a named node.
func (a *Analyser) FactByName(name string) (facts.TensorFact, error) {
	node, err := a.m.NodeByName(name)
	if err != nil {
		return facts.TensorFact{}, err
	}
	return a.Fact(model.NewOutletId(node.Id, 0))
}

// Analyse runs every node's rule block repeatedly, in ascending node id
// order, until a whole pass sharpens nothing. Constraints are symmetric, so
// the repetition propagates information both forward and backward along the
// graph.
func (a *Analyser) Analyse() error {
	ids := append([]int(nil), a.plan...)
	sort.Ints(ids)
	for pass := 0; pass < passLimit; pass++ {
		progress := false
		for _, id := range ids {
			n := a.m.Nodes()[id]
			prog, err := a.solveNode(n)
			if err != nil {
				return model.WrapNodeErr(n, err)
			}
			progress = progress || prog
		}
		if !progress {
			logger.Log.Debug().Int("passes", pass+1).Msg("analysis converged")
			return nil
		}
	}
	return ErrDiverged
}

func (a *Analyser) solveNode(n *model.Node) (bool, error) {
	ctx := &rules.Context{
		Inputs:  make([]*facts.TensorFact, len(n.Inputs)),
		Outputs: make([]*facts.TensorFact, n.Outputs),
	}
	for i, in := range n.Inputs {
		f, ok := a.facts[in]
		if !ok {
			return false, fmt.Errorf("%w: %v", model.ErrDanglingInput, in)
		}
		ctx.Inputs[i] = f
	}
	for slot := 0; slot < n.Outputs; slot++ {
		ctx.Outputs[slot] = a.facts[model.NewOutletId(n.Id, slot)]
	}
	solver := rules.NewSolver()
	ins, outs := rules.NewProxies()
	n.Op.Rules(solver, ins, outs)
	return solver.Solve(ctx)
}

// Plan exposes the analysed evaluation order.
func (a *Analyser) Plan() []int {
	return a.plan
}
