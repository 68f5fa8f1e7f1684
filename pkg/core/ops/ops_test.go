package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/EasyInfer/pkg/core/analyser/facts"
	"github.com/itohio/EasyInfer/pkg/core/analyser/rules"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

type stubDef struct {
	name string
	kind string
}

func (d *stubDef) NodeName() string    { return d.name }
func (d *stubDef) OpKind() string      { return d.kind }
func (d *stubDef) InputRefs() []string { return nil }
func (d *stubDef) GetAttrType(string) (tensor.DatumType, error) {
	return tensor.DT_UNKNOWN, ErrNoAttr
}
func (d *stubDef) GetAttrInt(string) (int, error)       { return 0, ErrNoAttr }
func (d *stubDef) GetAttrIntList(string) ([]int, error) { return nil, ErrNoAttr }
func (d *stubDef) GetAttrStr(string) (string, error)    { return "", ErrNoAttr }
func (d *stubDef) GetAttrTensor(string) (tensor.Tensor, error) {
	return tensor.Tensor{}, ErrNoAttr
}

func TestIdentityEval(t *testing.T) {
	in := tensor.FromArray(tensor.NewShape(2, 3), []float32{1, 2, 3, 4, 5, 6})
	outs, err := NewIdentity().Eval([]tensor.Tensor{in})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.True(t, in.CloseEnough(outs[0], false))
}

func TestIdentityRulesCopyFacts(t *testing.T) {
	in := facts.DtShape(tensor.DTINT8, tensor.NewShape(7))
	out := facts.Default()
	ctx := &rules.Context{
		Inputs:  []*facts.TensorFact{&in},
		Outputs: []*facts.TensorFact{&out},
	}
	s := rules.NewSolver()
	ins, outs := rules.NewProxies()
	NewIdentity().Rules(s, ins, outs)
	_, err := s.Solve(ctx)
	require.NoError(t, err)
	assert.Equal(t, tensor.DTINT8, out.Type)
	shape, ok := out.Shape.Concrete()
	require.True(t, ok)
	assert.Equal(t, tensor.NewShape(7), shape)
}

func TestConstEval(t *testing.T) {
	v := tensor.FromArray(tensor.NewShape(2), []int64{5, 6})
	outs, err := NewConst(v).Eval(nil)
	require.NoError(t, err)
	assert.True(t, v.CloseEnough(outs[0], false))
}

func TestUnknownKindBuildsUnimplemented(t *testing.T) {
	op, err := Build(&stubDef{name: "x", kind: "FancyNewOp"})
	require.NoError(t, err)
	u, ok := op.(*Unimplemented)
	require.True(t, ok)
	assert.Equal(t, "FancyNewOp", u.Kind)

	_, err = op.Eval(nil)
	assert.ErrorIs(t, err, ErrUnimplemented)
}

func TestRegisteredKinds(t *testing.T) {
	for _, kind := range []string{"Identity", "Placeholder", "Const", "Source", "Sink"} {
		assert.True(t, Registered(kind), kind)
	}
	assert.False(t, Registered("Nope"))
}

func TestStepFallback(t *testing.T) {
	in := tensor.FromArray(tensor.NewShape(1), []float32{1})

	outs, err := StepFallback(NewIdentity(), []StepValue{Full(in)})
	require.NoError(t, err)
	require.Len(t, outs, 1)

	outs, err = StepFallback(NewIdentity(), []StepValue{Chunk(in, 0)})
	require.NoError(t, err)
	assert.Nil(t, outs)
}

func TestOutputCount(t *testing.T) {
	assert.Equal(t, 1, OutputCount(NewIdentity()))
}
