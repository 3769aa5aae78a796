package beamform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mmwave.capture/internal/cube"
	"github.com/banshee-data/mmwave.capture/internal/units"
)

func mapOf(values ...complex64) *BeamformMap {
	tn := cube.NewTensorFrom(values, cube.Dimension{Name: cube.DimSample, Size: len(values)})
	return &BeamformMap{
		Tensor: tn,
		Axes:   []Axis{{Dim: cube.DimSample, Unit: units.Bin, Values: []float64{0, 1}}},
	}
}

func TestAccumulatorWindow(t *testing.T) {
	acc := NewAccumulator(2)

	pm, err := acc.Add(mapOf(complex(3, 4), 1))
	require.NoError(t, err)
	assert.Nil(t, pm, "window not full yet")

	pm, err = acc.Add(mapOf(complex(0, 2), 2))
	require.NoError(t, err)
	require.NotNil(t, pm)
	assert.Equal(t, 2, pm.Frames)
	// |3+4i|^2 + |2i|^2 and 1 + 4.
	assert.InDelta(t, 29, pm.Power[0], 1e-9)
	assert.InDelta(t, 5, pm.Power[1], 1e-9)
	assert.Equal(t, units.Bin, pm.Axes[0].Unit)

	// The window resets after emission.
	pm, err = acc.Add(mapOf(1, 0))
	require.NoError(t, err)
	assert.Nil(t, pm)
}

func TestAccumulatorShapeMismatch(t *testing.T) {
	acc := NewAccumulator(3)
	_, err := acc.Add(mapOf(1, 2))
	require.NoError(t, err)
	_, err = acc.Add(mapOf(1, 2, 3))
	assert.Error(t, err)
}

func TestAccumulatorFlush(t *testing.T) {
	acc := NewAccumulator(5)
	assert.Nil(t, acc.Flush(), "nothing buffered")

	_, err := acc.Add(mapOf(2, 0))
	require.NoError(t, err)
	pm := acc.Flush()
	require.NotNil(t, pm)
	assert.Equal(t, 1, pm.Frames)
	assert.InDelta(t, 4, pm.Power[0], 1e-9)
	assert.Nil(t, acc.Flush())
}

func TestNewAccumulatorPanicsOnBadCount(t *testing.T) {
	assert.Panics(t, func() { NewAccumulator(0) })
}
