package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcatAxis0(t *testing.T) {
	a := FromArray(NewShape(1, 2), []float32{1, 2})
	b := FromArray(NewShape(2, 2), []float32{3, 4, 5, 6})
	out, err := Concat(0, a, b)
	require.NoError(t, err)
	assert.Equal(t, NewShape(3, 2), out.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, out.Data())
}

func TestConcatInnerAxis(t *testing.T) {
	a := FromArray(NewShape(2, 1), []int32{1, 3})
	b := FromArray(NewShape(2, 2), []int32{2, 20, 4, 40})
	out, err := Concat(1, a, b)
	require.NoError(t, err)
	assert.Equal(t, NewShape(2, 3), out.Shape())
	assert.Equal(t, []int32{1, 2, 20, 3, 4, 40}, out.Data())
}

func TestConcatMismatch(t *testing.T) {
	a := FromArray(NewShape(1, 2), []float32{1, 2})
	b := FromArray(NewShape(1, 3), []float32{3, 4, 5})
	_, err := Concat(0, a, b)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	c := FromArray(NewShape(1, 2), []int32{1, 2})
	_, err = Concat(0, a, c)
	assert.ErrorIs(t, err, ErrDtypeMismatch)
}

func TestConcatSingle(t *testing.T) {
	a := FromArray(NewShape(2), []float32{1, 2})
	out, err := Concat(0, a)
	require.NoError(t, err)
	assert.True(t, a.CloseEnough(out, false))
}
