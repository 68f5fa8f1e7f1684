package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/EasyInfer/pkg/core/model"
	"github.com/itohio/EasyInfer/pkg/core/ops"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

func defsOf(nodes ...*MapNode) []ops.NodeDef {
	out := make([]ops.NodeDef, len(nodes))
	for i, n := range nodes {
		out[i] = n
	}
	return out
}

func TestLoadNormalizesSourceKind(t *testing.T) {
	m, err := Load(defsOf(
		&MapNode{Name: "in", Op: "Placeholder"},
		&MapNode{Name: "id", Op: "Identity", Inputs: []string{"in"}},
	))
	require.NoError(t, err)

	n, err := m.NodeByName("in")
	require.NoError(t, err)
	assert.Equal(t, model.SourceOpKind, n.OpKind)

	inputs := m.GuessInputs()
	require.Len(t, inputs, 1)
	assert.Equal(t, "in", inputs[0].Name)

	// The identity outlet is unconsumed: one sink per graph output.
	outputs := m.GuessOutputs()
	require.Len(t, outputs, 1)
	assert.Equal(t, "id", outputs[0].Name)
}

func TestLoadSlotReference(t *testing.T) {
	m, err := Load(defsOf(
		&MapNode{Name: "pair", Op: "Unpack", Attrs: map[string]any{"num": 2, "axis": 0},
			Inputs: []string{"in"}},
		&MapNode{Name: "in", Op: "Placeholder"},
		&MapNode{Name: "second", Op: "Identity", Inputs: []string{"pair:1"}},
	))
	require.NoError(t, err)

	n, err := m.NodeByName("second")
	require.NoError(t, err)
	require.Len(t, n.Inputs, 1)
	pair, err := m.NodeByName("pair")
	require.NoError(t, err)
	assert.Equal(t, model.NewOutletId(pair.Id, 1), n.Inputs[0])
	assert.Equal(t, 2, pair.Outputs)
}

func TestLoadDuplicateName(t *testing.T) {
	_, err := Load(defsOf(
		&MapNode{Name: "x", Op: "Placeholder"},
		&MapNode{Name: "x", Op: "Placeholder"},
	))
	assert.ErrorIs(t, err, model.ErrDuplicateName)
}

func TestLoadDanglingInput(t *testing.T) {
	_, err := Load(defsOf(
		&MapNode{Name: "id", Op: "Identity", Inputs: []string{"ghost"}},
	))
	assert.ErrorIs(t, err, model.ErrDanglingInput)
}

func TestLoadUnknownOpDegrades(t *testing.T) {
	m, err := Load(defsOf(
		&MapNode{Name: "in", Op: "Placeholder"},
		&MapNode{Name: "fancy", Op: "SomeFutureOp", Inputs: []string{"in"}},
	))
	require.NoError(t, err)
	n, err := m.NodeByName("fancy")
	require.NoError(t, err)
	_, ok := n.Op.(*ops.Unimplemented)
	assert.True(t, ok)
	assert.Equal(t, "SomeFutureOp", n.OpKind)
}

func TestRunSpec(t *testing.T) {
	spec, err := ParseRunSpec([]byte(`
inputs:
  input:
    dtype: FP32
    shape: ["1", "S", "?", "3"]
outputs:
  - logits
streaming_axis: 1
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"logits"}, spec.Outputs)
	require.NotNil(t, spec.StreamingAxis)
	assert.Equal(t, 1, *spec.StreamingAxis)

	seeds, err := spec.InputFacts()
	require.NoError(t, err)
	fact, ok := seeds["input"]
	require.True(t, ok)
	assert.Equal(t, tensor.DTFP32, fact.Type)
	require.Len(t, fact.Shape.Dims, 4)
	assert.True(t, fact.Shape.Dims[0].Known)
	assert.True(t, fact.Shape.Dims[1].Known)
	assert.False(t, fact.Shape.Dims[1].Dim.IsConcrete())
	assert.False(t, fact.Shape.Dims[2].Known)
}

func TestRunSpecBadDtype(t *testing.T) {
	spec, err := ParseRunSpec([]byte("inputs:\n  x:\n    dtype: FP13\n"))
	require.NoError(t, err)
	_, err = spec.InputFacts()
	assert.ErrorIs(t, err, ErrBadConfig)
}
