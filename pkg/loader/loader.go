// Package loader assembles an immutable model from parsed node descriptors,
// and holds the run configuration embeddings and the CLI share.
package loader

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/itohio/EasyInfer/pkg/core/model"
	"github.com/itohio/EasyInfer/pkg/core/ops"
	"github.com/itohio/EasyInfer/pkg/core/tensor"

	// Operator families register themselves with the ops registry.
	_ "github.com/itohio/EasyInfer/pkg/core/ops/array"
	_ "github.com/itohio/EasyInfer/pkg/core/ops/math"
	_ "github.com/itohio/EasyInfer/pkg/core/ops/nn"
)

var ErrBadInputRef = errors.New("loader: malformed input reference")

// Load builds the graph from descriptors. Unknown operator kinds degrade to
// Unimplemented placeholders; the node still appears in the model.
func Load(defs []ops.NodeDef) (model.Model, error) {
	byName := make(map[string]int, len(defs))
	for i, def := range defs {
		if _, ok := byName[def.NodeName()]; ok {
			return model.Model{}, fmt.Errorf("%w: %q", model.ErrDuplicateName, def.NodeName())
		}
		byName[def.NodeName()] = i
	}
	nodes := make([]*model.Node, len(defs))
	for i, def := range defs {
		op, err := ops.Build(def)
		if err != nil {
			return model.Model{}, err
		}
		inputs := make([]model.OutletId, len(def.InputRefs()))
		for j, ref := range def.InputRefs() {
			outlet, err := parseInputRef(byName, ref)
			if err != nil {
				return model.Model{}, fmt.Errorf("node %q: %w", def.NodeName(), err)
			}
			inputs[j] = outlet
		}
		nodes[i] = &model.Node{
			Id:      i,
			Name:    def.NodeName(),
			OpKind:  opKind(op, def),
			Inputs:  inputs,
			Outputs: ops.OutputCount(op),
			Op:      op,
		}
	}
	raw, err := model.NewRawModel(nodes, byName)
	if err != nil {
		return model.Model{}, err
	}
	return model.NewModel(raw), nil
}

// opKind normalizes the structural pseudo-operators so Source and Sink nodes
// are recognizable regardless of the source format's naming.
func opKind(op ops.Op, def ops.NodeDef) string {
	switch op.(type) {
	case *ops.Source:
		return model.SourceOpKind
	case *ops.Sink:
		return model.SinkOpKind
	default:
		return def.OpKind()
	}
}

// parseInputRef resolves "name" or "name:slot" into an outlet.
func parseInputRef(byName map[string]int, ref string) (model.OutletId, error) {
	name, slot := ref, 0
	if idx := strings.LastIndexByte(ref, ':'); idx >= 0 {
		var err error
		slot, err = strconv.Atoi(ref[idx+1:])
		if err != nil {
			return model.OutletId{}, fmt.Errorf("%w: %q", ErrBadInputRef, ref)
		}
		name = ref[:idx]
	}
	id, ok := byName[name]
	if !ok {
		return model.OutletId{}, fmt.Errorf("%w: %q", model.ErrDanglingInput, ref)
	}
	return model.NewOutletId(id, slot), nil
}

// MapNode is the plain in-memory node descriptor, handy for embedding and
// tests. Attrs values are ints, int slices, strings, datum types or tensors.
type MapNode struct {
	Name   string
	Op     string
	Inputs []string
	Attrs  map[string]any
}

func (n *MapNode) NodeName() string    { return n.Name }
func (n *MapNode) OpKind() string      { return n.Op }
func (n *MapNode) InputRefs() []string { return n.Inputs }

func (n *MapNode) GetAttrType(key string) (tensor.DatumType, error) {
	if v, ok := n.Attrs[key].(tensor.DatumType); ok {
		return v, nil
	}
	return tensor.DT_UNKNOWN, fmt.Errorf("%w: %q", ops.ErrNoAttr, key)
}

func (n *MapNode) GetAttrInt(key string) (int, error) {
	switch v := n.Attrs[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	}
	return 0, fmt.Errorf("%w: %q", ops.ErrNoAttr, key)
}

func (n *MapNode) GetAttrIntList(key string) ([]int, error) {
	if v, ok := n.Attrs[key].([]int); ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %q", ops.ErrNoAttr, key)
}

func (n *MapNode) GetAttrStr(key string) (string, error) {
	if v, ok := n.Attrs[key].(string); ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ops.ErrNoAttr, key)
}

func (n *MapNode) GetAttrTensor(key string) (tensor.Tensor, error) {
	if v, ok := n.Attrs[key].(tensor.Tensor); ok {
		return v, nil
	}
	return tensor.Tensor{}, fmt.Errorf("%w: %q", ops.ErrNoAttr, key)
}
