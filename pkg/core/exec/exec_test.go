package exec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/EasyInfer/pkg/core/analyser"
	"github.com/itohio/EasyInfer/pkg/core/analyser/facts"
	"github.com/itohio/EasyInfer/pkg/core/exec"
	"github.com/itohio/EasyInfer/pkg/core/model"
	"github.com/itohio/EasyInfer/pkg/core/ops"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
	"github.com/itohio/EasyInfer/pkg/loader"
)

func loadGraph(t *testing.T, defs ...*loader.MapNode) model.Model {
	t.Helper()
	nodeDefs := make([]ops.NodeDef, len(defs))
	for i, d := range defs {
		nodeDefs[i] = d
	}
	m, err := loader.Load(nodeDefs)
	require.NoError(t, err)
	return m
}

func TestRunSimpleChain(t *testing.T) {
	m := loadGraph(t,
		&loader.MapNode{Name: "input", Op: "Placeholder"},
		&loader.MapNode{Name: "relu", Op: "Relu", Inputs: []string{"input"}},
	)
	in := tensor.FromArray(tensor.NewShape(2, 2), []float32{-1, 2, -3, 4})
	outs, err := exec.Run(m, map[string]tensor.Tensor{"input": in}, []string{"relu"})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, []float32{0, 2, 0, 4}, outs[0].Data())
}

func TestRunMissingInput(t *testing.T) {
	m := loadGraph(t,
		&loader.MapNode{Name: "input", Op: "Placeholder"},
		&loader.MapNode{Name: "relu", Op: "Relu", Inputs: []string{"input"}},
	)
	_, err := exec.Run(m, nil, []string{"relu"})
	assert.ErrorIs(t, err, exec.ErrMissingInput)

	var nodeErr *model.Error
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "input", nodeErr.Node)
}

func TestRunConstFolding(t *testing.T) {
	k := tensor.FromArray(tensor.NewShape(2), []float32{10, 20})
	m := loadGraph(t,
		&loader.MapNode{Name: "input", Op: "Placeholder"},
		&loader.MapNode{Name: "k", Op: "Const", Attrs: map[string]any{"value": k}},
		&loader.MapNode{Name: "sum", Op: "Add", Inputs: []string{"input", "k"}},
	)
	in := tensor.FromArray(tensor.NewShape(2), []float32{1, 2})
	outs, err := exec.Run(m, map[string]tensor.Tensor{"input": in}, []string{"sum"})
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 22}, outs[0].Data())
}

func TestRunUnimplemented(t *testing.T) {
	m := loadGraph(t,
		&loader.MapNode{Name: "input", Op: "Placeholder"},
		&loader.MapNode{Name: "weird", Op: "NoSuchOp", Inputs: []string{"input"}},
	)
	in := tensor.FromArray(tensor.NewShape(1), []float32{1})
	_, err := exec.Run(m, map[string]tensor.Tensor{"input": in}, []string{"weird"})
	assert.ErrorIs(t, err, ops.ErrUnimplemented)

	var nodeErr *model.Error
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "weird", nodeErr.Node)
	assert.Equal(t, "NoSuchOp", nodeErr.OpKind)
}

// Conv2D graph used by the analyse/run agreement tests. A nil backing makes
// a zero kernel.
func convGraph(t *testing.T, kbacking []float32) model.Model {
	kernel := tensor.New(tensor.DTFP32, tensor.NewShape(2, 2, 2, 1))
	if kbacking != nil {
		kernel = tensor.FromArray(tensor.NewShape(2, 2, 2, 1), kbacking)
	}
	return loadGraph(t,
		&loader.MapNode{Name: "input", Op: "Placeholder", Attrs: map[string]any{"dtype": tensor.DTFP32}},
		&loader.MapNode{Name: "kernel", Op: "Const", Attrs: map[string]any{"value": kernel}},
		&loader.MapNode{Name: "conv", Op: "Conv2D",
			Inputs: []string{"input", "kernel"},
			Attrs: map[string]any{
				"strides": []int{1, 1, 1, 1},
				"padding": "SAME",
			},
		},
	)
}

func TestAnalyseThenRunShapesAgree(t *testing.T) {
	m := convGraph(t, nil)

	a, err := analyser.New(m, "conv")
	require.NoError(t, err)
	require.NoError(t, a.SetInputFact("input", facts.DtShape(tensor.DTFP32, tensor.NewShape(1, 2, 2, 2))))
	require.NoError(t, a.Analyse())

	fact := a.OutputFact()
	wantShape, ok := fact.Shape.Concrete()
	require.True(t, ok)
	assert.Equal(t, tensor.NewShape(1, 2, 2, 1), wantShape)
	assert.Equal(t, tensor.DTFP32, fact.Type)

	in := tensor.New(tensor.DTFP32, tensor.NewShape(1, 2, 2, 2))
	outs, err := exec.Run(m, map[string]tensor.Tensor{"input": in}, []string{"conv"})
	require.NoError(t, err)
	assert.Equal(t, wantShape, outs[0].Shape())
	assert.Equal(t, fact.Type, outs[0].DatumType())
	// Zero kernel over zero input stays zero.
	assert.Equal(t, []float32{0, 0, 0, 0}, outs[0].Data())
}

func TestStreamingIdentityChain(t *testing.T) {
	m := loadGraph(t,
		&loader.MapNode{Name: "input", Op: "Placeholder"},
		&loader.MapNode{Name: "id", Op: "Identity", Inputs: []string{"input"}},
		&loader.MapNode{Name: "relu", Op: "Relu", Inputs: []string{"id"}},
	)
	plan, err := exec.NewPlan(m, []string{"relu"})
	require.NoError(t, err)

	chunks := []tensor.Tensor{
		tensor.FromArray(tensor.NewShape(1, 2), []float32{-1, 2}),
		tensor.FromArray(tensor.NewShape(1, 2), []float32{3, -4}),
		tensor.FromArray(tensor.NewShape(1, 2), []float32{-5, 6}),
	}
	outs, err := plan.RunStreaming(0, map[string][]tensor.Tensor{"input": chunks})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, tensor.NewShape(3, 2), outs[0].Shape())
	assert.Equal(t, []float32{0, 2, 3, 0, 0, 6}, outs[0].Data())
}

func TestStreamingPulseByPulse(t *testing.T) {
	m := loadGraph(t,
		&loader.MapNode{Name: "input", Op: "Placeholder"},
		&loader.MapNode{Name: "id", Op: "Identity", Inputs: []string{"input"}},
	)
	plan, err := exec.NewPlan(m, []string{"id"})
	require.NoError(t, err)
	state, err := plan.StreamingState(0)
	require.NoError(t, err)

	chunk := tensor.FromArray(tensor.NewShape(1), []float32{7})
	got, err := state.Pulse(map[string]tensor.Tensor{"input": chunk})
	require.NoError(t, err)
	require.Contains(t, got, "id")
	assert.Equal(t, []float32{7}, got["id"].Data())

	// A pulse with no fresh data produces nothing.
	got, err = state.Pulse(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStreamingMatchesBatch(t *testing.T) {
	// Convolution cannot step chunk-wise; the stream executor accumulates
	// its input and flushes at close, matching the batch result.
	m := convGraph(t, []float32{1, -2, 3, -4, 5, -6, 7, -8})
	plan, err := exec.NewPlan(m, []string{"conv"})
	require.NoError(t, err)

	full := tensor.FromArray(tensor.NewShape(1, 2, 2, 2),
		[]float32{1, 2, 3, 4, 5, 6, 7, 8})
	batch, err := plan.Run(map[string]tensor.Tensor{"input": full})
	require.NoError(t, err)

	chunks := []tensor.Tensor{
		tensor.FromArray(tensor.NewShape(1, 1, 2, 2), []float32{1, 2, 3, 4}),
		tensor.FromArray(tensor.NewShape(1, 1, 2, 2), []float32{5, 6, 7, 8}),
	}
	streamed, err := plan.RunStreaming(1, map[string][]tensor.Tensor{"input": chunks})
	require.NoError(t, err)
	assert.True(t, batch[0].CloseEnough(streamed[0], true),
		"batch %v stream %v", batch[0].Data(), streamed[0].Data())
}
