package beamform

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mmwave.capture/internal/config"
	"github.com/banshee-data/mmwave.capture/internal/cube"
	"github.com/banshee-data/mmwave.capture/internal/units"
	"github.com/banshee-data/mmwave.capture/internal/virtualarray"
)

const (
	testAntennas = 8
	testLoops    = 8
	testSamples  = 16
)

func testConfig(stages ...config.Stage) *config.Config {
	return &config.Config{
		Params: config.Params{
			StartFreq:     77e9,
			FreqSlope:     60e12,
			SamplingRate:  10e6,
			IdleTime:      100e-6,
			RampEndTime:   60e-6,
			ADCSamples:    testSamples,
			LoopsPerFrame: testLoops,
		},
		Device: config.Device{Tx: 2, Rx: 4, Devices: 1},
		Layout: config.Layout{
			RxAzimuth:   []int{0, 1, 2, 3},
			RxElevation: []int{0, 0, 0, 0},
			TxAzimuth:   []int{0, 4},
			TxElevation: []int{0, 0},
		},
		Stages: stages,
	}
}

func testLayout(t *testing.T, cfg *config.Config) *virtualarray.Layout {
	t.Helper()
	l, err := virtualarray.FromConfig(cfg.Layout)
	require.NoError(t, err)
	return l
}

// toneArray builds a virtual array holding one complex tone with the given
// normalized frequency on each axis: rangeBin cycles per sample window,
// dopplerBin per chirp window and sinTheta across the antenna aperture.
func toneArray(rangeBin, dopplerBin, sinTheta float64) *virtualarray.VirtualArray {
	tn := cube.NewTensor(
		cube.Dimension{Name: cube.DimVirtualAntenna, Size: testAntennas},
		cube.Dimension{Name: cube.DimChirp, Size: testLoops},
		cube.Dimension{Name: cube.DimSample, Size: testSamples},
	)
	for v := 0; v < testAntennas; v++ {
		for loop := 0; loop < testLoops; loop++ {
			for s := 0; s < testSamples; s++ {
				phase := 2*math.Pi*rangeBin*float64(s)/testSamples +
					2*math.Pi*dopplerBin*float64(loop)/testLoops +
					math.Pi*sinTheta*float64(v)
				tn.Set(complex64(cmplx.Exp(complex(0, phase))), v, loop, s)
			}
		}
	}
	return &virtualarray.VirtualArray{
		Tensor:        tn,
		AzimuthSize:   testAntennas,
		ElevationSize: 1,
		Loops:         testLoops,
		Samples:       testSamples,
		Occupied:      make([]bool, testAntennas),
	}
}

func dimSizes(dims []cube.Dimension) []int {
	sizes := make([]int, len(dims))
	for i, d := range dims {
		sizes[i] = d.Size
	}
	return sizes
}

// argmaxLine returns the peak power index along the last dimension of the
// first line of m.
func argmaxLine(m *BeamformMap, size int) int {
	best, bestMag := 0, 0.0
	for i := 0; i < size; i++ {
		v := m.Data()[i]
		mag := float64(real(v))*float64(real(v)) + float64(imag(v))*float64(imag(v))
		if mag > bestMag {
			bestMag = mag
			best = i
		}
	}
	return best
}

func TestProcessorRangePeak(t *testing.T) {
	cfg := testConfig(config.Stage{Dim: cube.DimSample, Window: "hann"})
	p, err := NewProcessor(cfg, testLayout(t, cfg))
	require.NoError(t, err)

	m, err := p.Process(toneArray(5, 0, 0))
	require.NoError(t, err)
	require.Equal(t, []int{testAntennas, testLoops, testSamples}, dimSizes(m.Dims()))
	assert.Equal(t, 5, argmaxLine(m, testSamples))
}

func TestProcessorDopplerCentered(t *testing.T) {
	cfg := testConfig(config.Stage{Dim: cube.DimChirp, Center: true})
	p, err := NewProcessor(cfg, testLayout(t, cfg))
	require.NoError(t, err)

	m, err := p.Process(toneArray(0, 2, 0))
	require.NoError(t, err)
	// After the center shift, Doppler bin 2 of 8 lands at index 4+2.
	d, ok := m.DimIndex(cube.DimChirp)
	require.True(t, ok)
	line := m.Line(d, 0, make([]complex64, testLoops))
	best, bestMag := 0, float64(0)
	for i, v := range line {
		mag := float64(real(v)*real(v) + imag(v)*imag(v))
		if mag > bestMag {
			bestMag = mag
			best = i
		}
	}
	assert.Equal(t, 6, best)
}

func TestProcessorAnglePeak(t *testing.T) {
	cfg := testConfig(
		config.Stage{Dim: cube.DimSample, Window: "hann"},
		config.Stage{Dim: cube.DimChirp, Window: "hann", Center: true},
		config.Stage{Dim: cube.DimVirtualAntenna, Center: true},
	)
	p, err := NewProcessor(cfg, testLayout(t, cfg))
	require.NoError(t, err)

	// sin(theta) = 2*2/8 lands the spatial tone at antenna bin 2, index 6
	// after centering.
	m, err := p.Process(toneArray(5, 0, 0.5))
	require.NoError(t, err)

	d, ok := m.DimIndex(cube.DimVirtualAntenna)
	require.True(t, ok)
	best, bestMag := 0, float64(0)
	line := make([]complex64, testAntennas)
	// Peak antenna bin must agree on the line through the range/Doppler peak.
	for lineIdx := 0; lineIdx < m.NumLines(d); lineIdx++ {
		m.Line(d, lineIdx, line)
		for i, v := range line {
			mag := float64(real(v)*real(v) + imag(v)*imag(v))
			if mag > bestMag {
				bestMag = mag
				best = i
			}
		}
	}
	assert.Equal(t, 6, best)

	axis := m.Axes[0]
	require.Equal(t, cube.DimVirtualAntenna, axis.Dim)
	assert.InDelta(t, 30, axis.Values[6], 1e-9, "sin(theta)=0.5 is 30 degrees")
}

func TestProcessorZeroInputYieldsZeroOutput(t *testing.T) {
	cfg := testConfig(
		config.Stage{Dim: cube.DimSample, Window: "blackman"},
		config.Stage{Dim: cube.DimChirp, Window: "hamming", Center: true},
	)
	p, err := NewProcessor(cfg, testLayout(t, cfg))
	require.NoError(t, err)

	va := toneArray(0, 0, 0)
	for i := range va.Data() {
		va.Data()[i] = 0
	}
	m, err := p.Process(va)
	require.NoError(t, err)
	for _, v := range m.Data() {
		assert.Equal(t, complex64(0), v)
	}
}

func TestProcessorZeroPadding(t *testing.T) {
	cfg := testConfig(config.Stage{Dim: cube.DimSample, Length: 2 * testSamples})
	p, err := NewProcessor(cfg, testLayout(t, cfg))
	require.NoError(t, err)

	m, err := p.Process(toneArray(5, 0, 0))
	require.NoError(t, err)
	require.Equal(t, 2*testSamples, m.DimSize(cube.DimSample))
	// Doubling the FFT length moves the tone to bin 10 and halves the range
	// axis spacing.
	assert.Equal(t, 10, argmaxLine(m, 2*testSamples))

	axis := m.Axes[2]
	require.Equal(t, units.Meters, axis.Unit)
	wantSpacing := (config.C * cfg.Params.SamplingRate) / (2 * cfg.Params.FreqSlope * float64(2*testSamples))
	assert.InDelta(t, wantSpacing, axis.Values[1]-axis.Values[0], 1e-12)
}

func TestProcessorPeakCollapse(t *testing.T) {
	cfg := testConfig(config.Stage{Dim: cube.DimSample, Output: OutputPeak})
	p, err := NewProcessor(cfg, testLayout(t, cfg))
	require.NoError(t, err)

	m, err := p.Process(toneArray(3, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []int{testAntennas, testLoops}, dimSizes(m.Dims()))
	assert.Len(t, m.Axes, 2)
	// A unit tone at an integer bin concentrates all N samples into one
	// coefficient.
	assert.InDelta(t, testSamples, real(m.Data()[0]), 1e-4)
}

func TestProcessorSumPowerCollapse(t *testing.T) {
	cfg := testConfig(config.Stage{Dim: cube.DimSample, Output: OutputSumPower})
	p, err := NewProcessor(cfg, testLayout(t, cfg))
	require.NoError(t, err)

	m, err := p.Process(toneArray(3, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []int{testAntennas, testLoops}, dimSizes(m.Dims()))
	// Parseval: mean spectral power of a unit tone over N bins is N.
	assert.InDelta(t, testSamples, real(m.Data()[0]), 1e-4)
}

func TestProcessorRejectsNonFiniteInput(t *testing.T) {
	cfg := testConfig(config.Stage{Dim: cube.DimSample})
	p, err := NewProcessor(cfg, testLayout(t, cfg))
	require.NoError(t, err)

	va := toneArray(0, 0, 0)
	va.Data()[7] = complex(float32(math.NaN()), 0)
	_, err = p.Process(va)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, se.Stage)
}

func TestProcessorRejectsShapeMismatch(t *testing.T) {
	cfg := testConfig(config.Stage{Dim: cube.DimSample})
	p, err := NewProcessor(cfg, testLayout(t, cfg))
	require.NoError(t, err)

	small := &virtualarray.VirtualArray{Tensor: cube.NewTensor(
		cube.Dimension{Name: cube.DimVirtualAntenna, Size: testAntennas},
		cube.Dimension{Name: cube.DimChirp, Size: testLoops},
		cube.Dimension{Name: cube.DimSample, Size: testSamples / 2},
	)}
	_, err = p.Process(small)
	assert.Error(t, err)
}

func TestNewProcessorRejections(t *testing.T) {
	tests := []struct {
		name   string
		stages []config.Stage
	}{
		{"unknown dimension", []config.Stage{{Dim: "azimuth"}}},
		{"unknown window", []config.Stage{{Dim: cube.DimSample, Window: "kaiser"}}},
		{"unknown output", []config.Stage{{Dim: cube.DimSample, Output: "argmax"}}},
		{"negative length", []config.Stage{{Dim: cube.DimSample, Length: -4}}},
		{"dimension consumed by peak", []config.Stage{
			{Dim: cube.DimSample, Output: OutputPeak},
			{Dim: cube.DimSample},
		}},
		{"dimension consumed by sumpower", []config.Stage{
			{Dim: cube.DimChirp, Output: OutputSumPower},
			{Dim: cube.DimChirp, Center: true},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(tt.stages...)
			_, err := NewProcessor(cfg, testLayout(t, cfg))
			var ice *InvalidConfigError
			assert.ErrorAs(t, err, &ice)
		})
	}
}

func TestProcessorRepeatedStageOnSameDim(t *testing.T) {
	// A second spectrum pass over an already-transformed dimension is legal;
	// the last stage determines the axis centering.
	cfg := testConfig(
		config.Stage{Dim: cube.DimSample},
		config.Stage{Dim: cube.DimSample, Center: true},
	)
	p, err := NewProcessor(cfg, testLayout(t, cfg))
	require.NoError(t, err)

	m, err := p.Process(toneArray(5, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, testSamples, m.DimSize(cube.DimSample))
}

func TestAxesUnits(t *testing.T) {
	cfg := testConfig(
		config.Stage{Dim: cube.DimSample},
		config.Stage{Dim: cube.DimChirp, Center: true},
		config.Stage{Dim: cube.DimVirtualAntenna, Center: true},
	)
	p, err := NewProcessor(cfg, testLayout(t, cfg))
	require.NoError(t, err)

	m, err := p.Process(toneArray(1, 1, 0))
	require.NoError(t, err)
	require.Len(t, m.Axes, 3)

	angle := m.Axes[0]
	assert.Equal(t, units.Degrees, angle.Unit)
	assert.InDelta(t, -90, angle.Values[0], 1e-9)
	assert.InDelta(t, 0, angle.Values[testAntennas/2], 1e-9)

	vel := m.Axes[1]
	assert.Equal(t, units.MetersPerSecond, vel.Unit)
	spacing := cfg.DopplerResolution()
	assert.InDelta(t, -float64(testLoops/2)*spacing, vel.Values[0], 1e-9)
	assert.InDelta(t, spacing, vel.Values[1]-vel.Values[0], 1e-9)

	rng := m.Axes[2]
	assert.Equal(t, units.Meters, rng.Unit)
	assert.InDelta(t, 0, rng.Values[0], 1e-12)
	assert.InDelta(t, cfg.RangeResolution(), rng.Values[1]-rng.Values[0], 1e-12)
}
