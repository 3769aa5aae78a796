package beamform

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/window"
)

// Window function names accepted in stage configuration. The empty string
// and "none" select the identity window.
const (
	WindowNone     = "none"
	WindowHann     = "hann"
	WindowHamming  = "hamming"
	WindowBlackman = "blackman"
)

// windowCoefficients returns the window of the given name and length, or
// nil for the identity window.
func windowCoefficients(name string, n int) ([]float64, error) {
	switch name {
	case "", WindowNone:
		return nil, nil
	case WindowHann, WindowHamming, WindowBlackman:
	default:
		return nil, fmt.Errorf("unknown window %q", name)
	}
	coeff := make([]float64, n)
	for i := range coeff {
		coeff[i] = 1
	}
	switch name {
	case WindowHann:
		window.Hann(coeff)
	case WindowHamming:
		window.Hamming(coeff)
	case WindowBlackman:
		window.Blackman(coeff)
	}
	return coeff, nil
}
