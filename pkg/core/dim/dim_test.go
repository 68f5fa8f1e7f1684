package dim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArithmetic(t *testing.T) {
	s := Stream()

	sum := s.Add(Int(4)).Mul(2)
	v, err := sum.Eval(map[string]int{"S": 3})
	require.NoError(t, err)
	assert.Equal(t, 14, v)

	diff := sum.Sub(s.Mul(2))
	assert.True(t, diff.Equal(Int(8)), "2(S+4)-2S = 8, got %s", diff)
	assert.True(t, diff.IsConcrete())
}

func TestDiv(t *testing.T) {
	s := Stream()

	half, err := s.Mul(4).Add(Int(8)).Div(4)
	require.NoError(t, err)
	assert.True(t, half.Equal(s.Add(Int(2))))

	_, err = s.Mul(3).Div(2)
	assert.ErrorIs(t, err, ErrIndivisible)

	_, err = Int(4).Div(0)
	assert.ErrorIs(t, err, ErrDivByZero)

	ceil, err := Int(7).DivCeil(2)
	require.NoError(t, err)
	assert.True(t, ceil.Equal(Int(4)))
}

func TestEvalUnresolved(t *testing.T) {
	_, err := Sym("W").Eval(nil)
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestCompatible(t *testing.T) {
	assert.True(t, Int(3).Compatible(Int(3)))
	assert.False(t, Int(3).Compatible(Int(4)))
	assert.True(t, Stream().Compatible(Int(4)))
	assert.True(t, Stream().Compatible(Stream().Add(Int(1))))
}

func TestString(t *testing.T) {
	assert.Equal(t, "2S+1", Stream().Mul(2).Add(Int(1)).String())
	assert.Equal(t, "-S", Int(0).Sub(Stream()).String())
	assert.Equal(t, "5", Int(5).String())
}
