package beamform

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/mmwave.capture/internal/config"
	"github.com/banshee-data/mmwave.capture/internal/cube"
	"github.com/banshee-data/mmwave.capture/internal/units"
)

// Axis is the physical coordinate of one retained tensor dimension: one
// value per bin, in the named unit. Dimensions that never went through a
// spectrum stage keep raw bin indices.
type Axis struct {
	Dim    string
	Unit   string
	Values []float64
}

func (p *Processor) axes(dims []cube.Dimension) []Axis {
	axes := make([]Axis, 0, len(dims))
	for _, d := range dims {
		axes = append(axes, p.axis(d))
	}
	return axes
}

func (p *Processor) axis(d cube.Dimension) Axis {
	L := d.Size
	centered, transformed := p.finalCenter[d.Name]
	if !transformed {
		return binAxis(d.Name, L)
	}

	switch d.Name {
	case cube.DimSample:
		spacing := (config.C * p.cfg.Params.SamplingRate) /
			(2 * p.cfg.Params.FreqSlope * float64(L))
		return linearAxis(d.Name, units.Meters, L, spacing, centered)

	case cube.DimChirp:
		// Zero padding narrows the bin spacing but not the velocity span.
		spacing := p.cfg.DopplerResolution() * float64(p.cfg.Params.LoopsPerFrame) / float64(L)
		return linearAxis(d.Name, units.MetersPerSecond, L, spacing, centered)

	case cube.DimVirtualAntenna:
		if !centered {
			return binAxis(d.Name, L)
		}
		// Half-wavelength element spacing: bin k maps to sin(theta) =
		// 2(k - L/2)/L after the center shift.
		values := make([]float64, L)
		for k := range values {
			s := 2 * (float64(k) - float64(L)/2) / float64(L)
			if s < -1 {
				s = -1
			} else if s > 1 {
				s = 1
			}
			values[k] = math.Asin(s) * 180 / math.Pi
		}
		return Axis{Dim: d.Name, Unit: units.Degrees, Values: values}
	}
	return binAxis(d.Name, L)
}

func linearAxis(name, unit string, n int, spacing float64, centered bool) Axis {
	start := 0.0
	if centered {
		start = -float64(n/2) * spacing
	}
	values := floats.Span(make([]float64, n), start, start+spacing*float64(n-1))
	return Axis{Dim: name, Unit: unit, Values: values}
}

func binAxis(name string, n int) Axis {
	return Axis{
		Dim:    name,
		Unit:   units.Bin,
		Values: floats.Span(make([]float64, n), 0, float64(n-1)),
	}
}
