// Package beamform executes the configurable multi-stage FFT pipeline over
// virtual array tensors: windowing, zero-padded or truncated transforms,
// and per-stage output selection, producing angle/range/Doppler spectra
// with physical axis metadata.
package beamform

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/banshee-data/mmwave.capture/internal/config"
	"github.com/banshee-data/mmwave.capture/internal/cube"
	"github.com/banshee-data/mmwave.capture/internal/virtualarray"
)

// Output selection names accepted in stage configuration.
const (
	OutputSpectrum = "spectrum"
	OutputPeak     = "peak"
	OutputSumPower = "sumpower"
)

// BeamformMap is the final spectrum tensor with the physical axes implied
// by each retained dimension.
type BeamformMap struct {
	*cube.Tensor
	Axes []Axis
}

type compiledStage struct {
	cfg    config.Stage
	inputN int // extent of the target dimension when this stage runs
	length int // FFT length after padding or truncation
	coeff  []float64
	fft    *fourier.CmplxFFT
	output string
}

// Processor executes a validated stage list. All dimension references and
// window names are checked at construction; Process never re-validates.
//
// A Processor is not safe for concurrent use: the FFT plans carry scratch
// state. Frame-parallel callers construct one Processor per worker.
type Processor struct {
	cfg    *config.Config
	stages []*compiledStage

	inDims      []cube.Dimension
	finalCenter map[string]bool // dim -> centered spectrum, from its last stage
}

// NewProcessor compiles the configured stage list against the tensor shape
// implied by the layout and capture parameters, failing fast with
// InvalidConfigError on any inconsistent stage.
func NewProcessor(cfg *config.Config, layout *virtualarray.Layout) (*Processor, error) {
	p := &Processor{
		cfg: cfg,
		inDims: []cube.Dimension{
			{Name: cube.DimVirtualAntenna, Size: layout.AzimuthSize() * layout.ElevationSize()},
			{Name: cube.DimChirp, Size: cfg.Params.LoopsPerFrame},
			{Name: cube.DimSample, Size: cfg.Params.ADCSamples},
		},
		finalCenter: map[string]bool{},
	}

	dims := append([]cube.Dimension(nil), p.inDims...)
	for i, sc := range cfg.Stages {
		d := -1
		for j, dim := range dims {
			if dim.Name == sc.Dim {
				d = j
				break
			}
		}
		if d < 0 {
			return nil, &InvalidConfigError{
				Reason: fmt.Sprintf("stage %d references dimension %q not present at that point (have %v)",
					i, sc.Dim, dimNames(dims)),
			}
		}
		if sc.Length < 0 {
			return nil, &InvalidConfigError{Reason: fmt.Sprintf("stage %d has negative FFT length %d", i, sc.Length)}
		}
		n := dims[d].Size
		length := sc.Length
		if length == 0 {
			length = n
		}
		if length < n {
			log.Printf("beamform: stage %d truncates %q from %d to %d samples", i, sc.Dim, n, length)
		}
		coeff, err := windowCoefficients(sc.Window, n)
		if err != nil {
			return nil, &InvalidConfigError{Reason: fmt.Sprintf("stage %d: %v", i, err)}
		}
		output := sc.Output
		if output == "" {
			output = OutputSpectrum
		}
		switch output {
		case OutputSpectrum:
			dims[d].Size = length
		case OutputPeak, OutputSumPower:
			dims = append(dims[:d], dims[d+1:]...)
		default:
			return nil, &InvalidConfigError{Reason: fmt.Sprintf("stage %d has unknown output %q", i, sc.Output)}
		}
		if output == OutputSpectrum {
			p.finalCenter[sc.Dim] = sc.Center
		}
		p.stages = append(p.stages, &compiledStage{
			cfg:    sc,
			inputN: n,
			length: length,
			coeff:  coeff,
			fft:    fourier.NewCmplxFFT(length),
			output: output,
		})
	}
	return p, nil
}

func dimNames(dims []cube.Dimension) []string {
	names := make([]string, len(dims))
	for i, d := range dims {
		names[i] = d.Name
	}
	return names
}

// Process runs all stages over the virtual array tensor and returns the
// final BeamformMap. Every stage writes a fresh tensor: a failing stage
// leaves prior outputs and the input untouched.
func (p *Processor) Process(va *virtualarray.VirtualArray) (*BeamformMap, error) {
	cur := va.Tensor
	for _, want := range p.inDims {
		if got := cur.DimSize(want.Name); got != want.Size {
			return nil, fmt.Errorf("beamform: input dimension %q is %d, processor expects %d", want.Name, got, want.Size)
		}
	}
	for i, st := range p.stages {
		next, err := p.runStage(i, st, cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return &BeamformMap{Tensor: cur, Axes: p.axes(cur.Dims())}, nil
}

func (p *Processor) runStage(idx int, st *compiledStage, in *cube.Tensor) (*cube.Tensor, error) {
	d, ok := in.DimIndex(st.cfg.Dim)
	if !ok {
		return nil, &StageError{Stage: idx, Dim: st.cfg.Dim, Reason: "dimension missing at execution"}
	}
	n := st.inputN
	L := st.length

	dims := in.Dims()
	var out *cube.Tensor
	switch st.output {
	case OutputSpectrum:
		dims[d].Size = L
		out = cube.NewTensor(dims...)
	default:
		out = cube.NewTensor(append(dims[:d:d], dims[d+1:]...)...)
	}

	lineBuf := make([]complex64, n)
	scratch := make([]complex128, L)
	shiftBuf := make([]complex128, L)
	specOut := make([]complex64, L)
	numLines := in.NumLines(d)

	for line := 0; line < numLines; line++ {
		in.Line(d, line, lineBuf)
		for i, v := range lineBuf {
			if !finite(v) {
				return nil, &StageError{
					Stage: idx, Dim: st.cfg.Dim,
					Reason: fmt.Sprintf("non-finite input at line %d element %d", line, i),
				}
			}
		}

		// Window the input extent, then zero-pad or truncate to L.
		for i := range scratch {
			scratch[i] = 0
		}
		m := n
		if L < m {
			m = L
		}
		for i := 0; i < m; i++ {
			v := complex128(lineBuf[i])
			if st.coeff != nil {
				v *= complex(st.coeff[i], 0)
			}
			scratch[i] = v
		}

		spec := st.fft.Coefficients(nil, scratch)
		if st.cfg.Center {
			fftShift(shiftBuf, spec)
			spec = shiftBuf
		}

		switch st.output {
		case OutputSpectrum:
			for i, v := range spec {
				specOut[i] = complex64(v)
			}
			out.SetLine(d, line, specOut)
		case OutputPeak:
			best := 0
			bestMag := 0.0
			for i, v := range spec {
				if mag := magSq(v); mag > bestMag {
					bestMag = mag
					best = i
				}
			}
			out.Data()[line] = complex64(spec[best])
		case OutputSumPower:
			sum := 0.0
			for _, v := range spec {
				sum += magSq(v)
			}
			out.Data()[line] = complex(float32(sum/float64(L)), 0)
		}
	}
	return out, nil
}

func finite(v complex64) bool {
	re, im := float64(real(v)), float64(imag(v))
	return !math.IsNaN(re) && !math.IsInf(re, 0) && !math.IsNaN(im) && !math.IsInf(im, 0)
}

func magSq(v complex128) float64 {
	return real(v)*real(v) + imag(v)*imag(v)
}

// fftShift rotates a spectrum so the zero-frequency bin is centered.
func fftShift(dst, src []complex128) {
	n := len(src)
	half := (n + 1) / 2
	copy(dst, src[half:])
	copy(dst[n-half:], src[:half])
}
