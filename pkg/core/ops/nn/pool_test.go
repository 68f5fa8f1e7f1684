package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/EasyInfer/pkg/core/analyser/facts"
	"github.com/itohio/EasyInfer/pkg/core/analyser/rules"
	"github.com/itohio/EasyInfer/pkg/core/dim"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

func TestMaxPoolSamePixel(t *testing.T) {
	pool := NewMaxPool(true, []int{2, 1}, PaddingSpec{Kind: SameUpper}, []int{1, 1})
	data := tensor.FromArray(tensor.NewShape(1, 1, 1, 1), []float32{-1})
	outs, err := pool.Eval([]tensor.Tensor{data})
	require.NoError(t, err)
	assert.Equal(t, tensor.NewShape(1, 1, 1, 1), outs[0].Shape())
	assert.Equal(t, []float32{-1}, outs[0].Data())
}

func TestMaxPoolStride3(t *testing.T) {
	pool := NewMaxPool(true, []int{3, 3}, PaddingSpec{Kind: SameUpper}, []int{3, 3})
	data := tensor.FromArray(tensor.NewShape(1, 2, 4, 1), []float32{1, 0, 0, 0, 0, 0, 0, 0})
	outs, err := pool.Eval([]tensor.Tensor{data})
	require.NoError(t, err)
	assert.Equal(t, tensor.NewShape(1, 1, 2, 1), outs[0].Shape())
	assert.Equal(t, []float32{1, 0}, outs[0].Data())
}

func TestMaxPoolValid(t *testing.T) {
	pool := NewMaxPool(true, []int{2, 2}, PaddingSpec{Kind: Valid}, []int{1, 1})
	data := tensor.FromArray(tensor.NewShape(1, 2, 3, 1), []float32{1, 2, 3, 4, 5, 6})
	outs, err := pool.Eval([]tensor.Tensor{data})
	require.NoError(t, err)
	assert.Equal(t, tensor.NewShape(1, 1, 2, 1), outs[0].Shape())
	assert.Equal(t, []float32{5, 6}, outs[0].Data())
}

func TestAvgPoolCountsRealCellsOnly(t *testing.T) {
	// A padded window divides by the number of cells inside the input,
	// not the full kernel size.
	pool := NewAvgPool(true, []int{2, 2}, PaddingSpec{Kind: SameUpper}, []int{1, 1})
	data := tensor.FromArray(tensor.NewShape(1, 2, 2, 1), []float32{1, 2, 3, 4})
	outs, err := pool.Eval([]tensor.Tensor{data})
	require.NoError(t, err)
	assert.Equal(t, tensor.NewShape(1, 2, 2, 1), outs[0].Shape())
	// Bottom-right window sees only the single cell 4.
	assert.Equal(t, []float32{2.5, 3, 3.5, 4}, outs[0].Data())
}

func TestAvgPoolValid(t *testing.T) {
	pool := NewAvgPool(true, []int{2, 1}, PaddingSpec{Kind: Valid}, []int{1, 1})
	data := tensor.FromArray(tensor.NewShape(1, 2, 1, 1), []float32{2, 4})
	outs, err := pool.Eval([]tensor.Tensor{data})
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, outs[0].Data())
}

func TestPoolInference(t *testing.T) {
	pool := NewMaxPool(true, []int{3, 3}, PaddingSpec{Kind: SameUpper}, []int{3, 3})
	in := facts.DtShape(tensor.DTFP32, tensor.NewShape(1, 2, 4, 5))
	out := facts.Default()
	ctx := &rules.Context{
		Inputs:  []*facts.TensorFact{&in},
		Outputs: []*facts.TensorFact{&out},
	}
	s := rules.NewSolver()
	ins, outs := rules.NewProxies()
	pool.Rules(s, ins, outs)
	_, err := s.Solve(ctx)
	require.NoError(t, err)

	shape, ok := out.Shape.Concrete()
	require.True(t, ok)
	assert.Equal(t, tensor.NewShape(1, 1, 2, 5), shape)
	assert.Equal(t, tensor.DTFP32, out.Type)
}

func TestPaddingComputeDim(t *testing.T) {
	// Valid, concrete.
	out, before, after, err := PaddingSpec{Kind: Valid}.ComputeDim(0, dim.Int(7), 3, 1, 2)
	require.NoError(t, err)
	v, _ := out.Value()
	assert.Equal(t, 3, v)
	assert.Zero(t, before)
	assert.Zero(t, after)

	// SameUpper appends the odd cell.
	out, before, after, err = PaddingSpec{Kind: SameUpper}.ComputeDim(0, dim.Int(5), 2, 1, 1)
	require.NoError(t, err)
	v, _ = out.Value()
	assert.Equal(t, 5, v)
	assert.Equal(t, 0, before)
	assert.Equal(t, 1, after)

	// SameLower prepends it.
	_, before, after, err = PaddingSpec{Kind: SameLower}.ComputeDim(0, dim.Int(5), 2, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, before)
	assert.Equal(t, 0, after)

	// Dilation stretches the effective kernel.
	out, _, _, err = PaddingSpec{Kind: Valid}.ComputeDim(0, dim.Int(7), 3, 2, 1)
	require.NoError(t, err)
	v, _ = out.Value()
	assert.Equal(t, 3, v)

	// Symbolic input keeps the streaming axis symbolic under Same.
	out, _, _, err = PaddingSpec{Kind: SameUpper}.ComputeDim(0, dim.Stream(), 3, 1, 1)
	require.NoError(t, err)
	assert.True(t, out.Equal(dim.Stream()))

	// Valid over a symbolic axis shrinks it.
	out, _, _, err = PaddingSpec{Kind: Valid}.ComputeDim(0, dim.Stream(), 3, 1, 1)
	require.NoError(t, err)
	assert.True(t, out.Equal(dim.Stream().Sub(dim.Int(2))))

	// Strided windows over symbolic axes are rejected.
	_, _, _, err = PaddingSpec{Kind: Valid}.ComputeDim(0, dim.Stream(), 3, 1, 2)
	assert.Error(t, err)

	// Explicit padding.
	out, before, after, err = PaddingSpec{Kind: Explicit, Before: []int{1}, After: []int{1}}.
		ComputeDim(0, dim.Int(4), 3, 1, 1)
	require.NoError(t, err)
	v, _ = out.Value()
	assert.Equal(t, 4, v)
	assert.Equal(t, 1, before)
	assert.Equal(t, 1, after)
}
