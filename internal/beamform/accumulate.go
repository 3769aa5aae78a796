package beamform

import (
	"fmt"

	"github.com/banshee-data/mmwave.capture/internal/cube"
)

// PowerMap is a non-coherently integrated spectrum: summed magnitude
// squared over a fixed number of consecutive beamform maps.
type PowerMap struct {
	Dims   []cube.Dimension
	Axes   []Axis
	Power  []float64
	Frames int
}

// Accumulator integrates beamform maps non-coherently. Every N added maps
// it emits a PowerMap and resets. All added maps must share one shape; the
// first map added fixes it.
type Accumulator struct {
	n     int
	count int
	dims  []cube.Dimension
	axes  []Axis
	power []float64
}

// NewAccumulator returns an accumulator emitting every n maps. n must be
// positive.
func NewAccumulator(n int) *Accumulator {
	if n <= 0 {
		panic(fmt.Sprintf("beamform: non-positive accumulation count %d", n))
	}
	return &Accumulator{n: n}
}

// Add integrates one map. It returns a completed PowerMap when the window
// fills, otherwise nil.
func (a *Accumulator) Add(m *BeamformMap) (*PowerMap, error) {
	if a.power == nil {
		a.dims = m.Dims()
		a.axes = m.Axes
		a.power = make([]float64, m.Len())
	} else if m.Len() != len(a.power) {
		return nil, fmt.Errorf("beamform: accumulator shape mismatch: got %d elements, want %d", m.Len(), len(a.power))
	}
	for i, v := range m.Data() {
		re, im := float64(real(v)), float64(imag(v))
		a.power[i] += re*re + im*im
	}
	a.count++
	if a.count < a.n {
		return nil, nil
	}
	out := &PowerMap{
		Dims:   a.dims,
		Axes:   a.axes,
		Power:  a.power,
		Frames: a.count,
	}
	a.count = 0
	a.dims = nil
	a.axes = nil
	a.power = nil
	return out, nil
}

// Flush emits the partial integration in progress, if any.
func (a *Accumulator) Flush() *PowerMap {
	if a.count == 0 {
		return nil
	}
	out := &PowerMap{Dims: a.dims, Axes: a.axes, Power: a.power, Frames: a.count}
	a.count = 0
	a.dims = nil
	a.axes = nil
	a.power = nil
	return out
}
