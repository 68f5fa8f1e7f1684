package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/EasyInfer/pkg/core/analyser/facts"
	"github.com/itohio/EasyInfer/pkg/core/analyser/rules"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

// rangeTensor fills 1..n the way the reference TensorFlow kernels tests do.
func rangeTensor(shape ...int) tensor.Tensor {
	buf := make([]float32, tensor.NewShape(shape...).Size())
	for i := range buf {
		buf[i] = float32(i + 1)
	}
	return tensor.FromArray(tensor.NewShape(shape...), buf)
}

func tfConv(stride int, kind PaddingKind) *Conv {
	return &Conv{
		DataIsNHWC:   true,
		KernelIsHWIO: true,
		Padding:      PaddingSpec{Kind: kind},
		Strides:      []int{stride, stride},
	}
}

func verifyConv(t *testing.T, input, filter []int, stride int, kind PaddingKind, expect []float32) {
	t.Helper()
	outs, err := tfConv(stride, kind).Eval([]tensor.Tensor{
		rangeTensor(input...),
		rangeTensor(filter...),
	})
	require.NoError(t, err)
	got, err := tensor.Buffer[float32](outs[0])
	require.NoError(t, err)
	require.Len(t, got, len(expect))
	for i := range expect {
		assert.InDelta(t, expect[i], got[i], 1e-3, "cell %d", i)
	}
}

func TestConv2D1x1Filter(t *testing.T) {
	verifyConv(t, []int{1, 2, 3, 3}, []int{1, 1, 3, 3}, 1, Valid, []float32{
		30, 36, 42, 66, 81, 96, 102, 126, 150, 138, 171,
		204, 174, 216, 258, 210, 261, 312,
	})
}

func TestConv2D1x2Filter(t *testing.T) {
	verifyConv(t, []int{1, 2, 3, 3}, []int{1, 2, 3, 3}, 1, Valid, []float32{
		231, 252, 273, 384, 423, 462, 690, 765, 840, 843, 936, 1029,
	})
}

func TestConv2D2x1Filter(t *testing.T) {
	verifyConv(t, []int{1, 2, 3, 3}, []int{2, 1, 3, 3}, 1, Valid, []float32{
		465, 504, 543, 618, 675, 732, 771, 846, 921,
	})
}

func TestConv2D2x2Filter(t *testing.T) {
	verifyConv(t, []int{1, 2, 3, 3}, []int{2, 2, 3, 3}, 1, Valid, []float32{
		2271, 2367, 2463, 2901, 3033, 3165,
	})
}

func TestConv2D2x2FilterStride2(t *testing.T) {
	verifyConv(t, []int{1, 2, 3, 3}, []int{2, 2, 3, 3}, 2, Valid, []float32{
		2271, 2367, 2463,
	})
}

func TestConv2D2x2FilterStride2Same(t *testing.T) {
	verifyConv(t, []int{1, 2, 3, 3}, []int{2, 2, 3, 3}, 2, SameUpper, []float32{
		2271, 2367, 2463, 1230, 1305, 1380,
	})
}

func TestConvSamePixel(t *testing.T) {
	op := &Conv{DataIsNHWC: true, KernelIsHWIO: true, Padding: PaddingSpec{Kind: SameUpper}}
	data := tensor.FromArray(tensor.NewShape(1, 1, 1, 1), []float32{1})
	filter := tensor.FromArray(tensor.NewShape(3, 1, 1, 1), []float32{0, 1, 0})
	outs, err := op.Eval([]tensor.Tensor{data, filter})
	require.NoError(t, err)
	assert.Equal(t, tensor.NewShape(1, 1, 1, 1), outs[0].Shape())
	assert.Equal(t, []float32{1}, outs[0].Data())
}

func TestConvShift(t *testing.T) {
	op := &Conv{DataIsNHWC: true, KernelIsHWIO: true, Padding: PaddingSpec{Kind: SameUpper}}
	i := tensor.FromArray(tensor.NewShape(1, 1, 2, 1), []float32{0, 1})
	k := tensor.FromArray(tensor.NewShape(1, 2, 1, 1), []float32{0, 1})
	outs, err := op.Eval([]tensor.Tensor{i, k})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, outs[0].Data())
}

func TestConvBias(t *testing.T) {
	op := &Conv{DataIsNHWC: true, KernelIsHWIO: true, Padding: PaddingSpec{Kind: Valid}}
	data := tensor.FromArray(tensor.NewShape(1, 1, 1, 1), []float32{2})
	filter := tensor.FromArray(tensor.NewShape(1, 1, 1, 2), []float32{3, 5})
	bias := tensor.FromArray(tensor.NewShape(2), []float32{10, 100})
	outs, err := op.Eval([]tensor.Tensor{data, filter, bias})
	require.NoError(t, err)
	assert.Equal(t, tensor.NewShape(1, 1, 1, 2), outs[0].Shape())
	assert.Equal(t, []float32{16, 110}, outs[0].Data())
}

func TestConvNCHWOIHW(t *testing.T) {
	// Channels-first evaluation with the identity 1x1 kernel.
	op := &Conv{Padding: PaddingSpec{Kind: Valid}}
	data := tensor.FromArray(tensor.NewShape(1, 1, 2, 2), []float32{1, 2, 3, 4})
	kernel := tensor.FromArray(tensor.NewShape(1, 1, 1, 1), []float32{1})
	outs, err := op.Eval([]tensor.Tensor{data, kernel})
	require.NoError(t, err)
	assert.Equal(t, tensor.NewShape(1, 1, 2, 2), outs[0].Shape())
	assert.Equal(t, []float32{1, 2, 3, 4}, outs[0].Data())
}

func inferConv(t *testing.T, op *Conv, inputs []facts.TensorFact) facts.TensorFact {
	t.Helper()
	out := facts.Default()
	ctx := &rules.Context{Outputs: []*facts.TensorFact{&out}}
	for i := range inputs {
		ctx.Inputs = append(ctx.Inputs, &inputs[i])
	}
	s := rules.NewSolver()
	ins, outs := rules.NewProxies()
	op.Rules(s, ins, outs)
	_, err := s.Solve(ctx)
	require.NoError(t, err)
	return out
}

func TestInferWithKnownKernelShape(t *testing.T) {
	op := &Conv{Strides: []int{2, 2}, KernelShape: []int{3, 3}}
	out := inferConv(t, op, []facts.TensorFact{
		facts.DtShape(tensor.DTFP32, tensor.NewShape(1, 1, 7, 5)),
		facts.DtShape(tensor.DTFP32, tensor.NewShape(1, 1, 3, 3)),
	})
	assert.Equal(t, tensor.DTFP32, out.Type)
	shape, ok := out.Shape.Concrete()
	require.True(t, ok)
	assert.Equal(t, tensor.NewShape(1, 1, 3, 2), shape)
}

func TestInferChannels(t *testing.T) {
	op := &Conv{}
	out := inferConv(t, op, []facts.TensorFact{
		facts.DtShape(tensor.DTFP32, tensor.NewShape(1, 2, 1, 1)),
		facts.DtShape(tensor.DTFP32, tensor.NewShape(3, 2, 1, 1)),
	})
	shape, ok := out.Shape.Concrete()
	require.True(t, ok)
	assert.Equal(t, tensor.NewShape(1, 3, 1, 1), shape)
}

func TestInferStridesNoPadding(t *testing.T) {
	op := &Conv{Strides: []int{2, 2}}
	out := inferConv(t, op, []facts.TensorFact{
		facts.DtShape(tensor.DTFP32, tensor.NewShape(1, 1, 7, 5)),
		facts.DtShape(tensor.DTFP32, tensor.NewShape(1, 1, 3, 3)),
	})
	shape, ok := out.Shape.Concrete()
	require.True(t, ok)
	assert.Equal(t, tensor.NewShape(1, 1, 3, 2), shape)
}

func TestInferNHWC(t *testing.T) {
	op := &Conv{DataIsNHWC: true, KernelIsHWIO: true, Padding: PaddingSpec{Kind: SameUpper}}
	out := inferConv(t, op, []facts.TensorFact{
		facts.DtShape(tensor.DTFP32, tensor.NewShape(1, 2, 2, 2)),
		facts.DtShape(tensor.DTFP32, tensor.NewShape(2, 2, 2, 1)),
	})
	shape, ok := out.Shape.Concrete()
	require.True(t, ok)
	assert.Equal(t, tensor.NewShape(1, 2, 2, 1), shape)
}

func TestEvalNHWCZeros(t *testing.T) {
	op := &Conv{DataIsNHWC: true, KernelIsHWIO: true, Padding: PaddingSpec{Kind: SameUpper}}
	outs, err := op.Eval([]tensor.Tensor{
		tensor.New(tensor.DTFP32, tensor.NewShape(1, 2, 2, 2)),
		tensor.New(tensor.DTFP32, tensor.NewShape(2, 2, 2, 1)),
	})
	require.NoError(t, err)
	assert.Equal(t, tensor.NewShape(1, 2, 2, 1), outs[0].Shape())
	assert.Equal(t, []float32{0, 0, 0, 0}, outs[0].Data())
}

func TestInferBackpropagatesChannels(t *testing.T) {
	// Partial kernel knowledge: rank and input-channel equality flow back.
	op := &Conv{}
	in0 := facts.DtShape(tensor.DTFP32, tensor.NewShape(1, 2, 5, 5))
	in1 := facts.TensorFact{Shape: facts.ClosedShape(4)}
	out := facts.Default()
	ctx := &rules.Context{
		Inputs:  []*facts.TensorFact{&in0, &in1},
		Outputs: []*facts.TensorFact{&out},
	}
	s := rules.NewSolver()
	ins, outs := rules.NewProxies()
	op.Rules(s, ins, outs)
	_, err := s.Solve(ctx)
	require.NoError(t, err)

	// Kernel input-channel axis (oihw axis 1) learned from the input.
	require.True(t, in1.Shape.Dims[1].Known)
	v, _ := in1.Shape.Dims[1].Dim.Value()
	assert.Equal(t, 2, v)
	assert.Equal(t, tensor.DTFP32, in1.Type)
}
