package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerosAndRow(t *testing.T) {
	x, err := Zeros(Shape{2, 3})
	require.NoError(t, err)
	assert.Equal(t, 6, x.NumElements())

	x.Row(1)[2] = 5
	assert.Equal(t, float32(5), x.Data()[5])

	_, err = Zeros(Shape{2, 0})
	assert.Error(t, err)
}

func TestBytesRoundTripIsBitExact(t *testing.T) {
	data := []float32{1.5, -0, float32(math.Inf(1)), math.SmallestNonzeroFloat32, -3.25, float32(math.NaN())}
	x, err := FromData(Shape{2, 3}, data)
	require.NoError(t, err)

	y, err := FromBytes(Shape{2, 3}, x.Bytes())
	require.NoError(t, err)
	assert.True(t, x.Equal(y))

	_, err = FromBytes(Shape{2, 3}, x.Bytes()[:8])
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	x := MustZeros(Shape{4})
	y := x.Clone()
	y.Data()[0] = 1
	assert.Equal(t, float32(0), x.Data()[0])
}

func TestStateDictOps(t *testing.T) {
	a := StateDict{"w": MustZeros(Shape{2}), "b": MustZeros(Shape{1})}
	a["w"].Data()[0] = 1

	b := a.Clone()
	require.NoError(t, b.Add(a))
	assert.Equal(t, float32(2), b["w"].Data()[0])

	b.Scale(0.5)
	assert.Equal(t, float32(1), b["w"].Data()[0])
	assert.True(t, a.Equal(b))

	assert.Equal(t, []string{"b", "w"}, a.Names())
	assert.NoError(t, a.ZerosLike().CheckLike(a))

	bad := StateDict{"w": MustZeros(Shape{3}), "b": MustZeros(Shape{1})}
	assert.Error(t, bad.CheckLike(a))
	assert.Error(t, a.Add(StateDict{"x": MustZeros(Shape{1})}))
}
