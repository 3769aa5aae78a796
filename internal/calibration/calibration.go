// Package calibration loads reference calibration measurements and applies
// per-channel complex corrections to raw frames. Calibration vectors are
// loaded once, validated against the live capture shape before any frame is
// processed, and shared read-only afterwards.
package calibration

import (
	"encoding/json"
	"fmt"
	"os"
)

// FormatError reports a malformed calibration file: missing arrays, shape
// mismatches, or inconsistent coefficient planes.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("calibration file %s: %s", e.Path, e.Reason)
}

// DimensionMismatchError reports a disagreement between a calibration
// vector and the frame shape it is applied to.
type DimensionMismatchError struct {
	What string
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("calibration %s mismatch: want %d, got %d", e.What, e.Want, e.Got)
}

// Vector is one named set of complex correction coefficients. RangeBins of
// one means a single coefficient per channel, broadcast across chirps and
// samples; a larger value means range-dependent correction, which requires
// the frame to be in the range domain when applied.
type Vector struct {
	Name      string
	Channels  int
	RangeBins int
	Coeff     []complex64 // [channel][rangebin], rangebin fastest
}

// At returns the coefficient for a channel and range bin.
func (v *Vector) At(channel, rangeBin int) complex64 {
	return v.Coeff[channel*v.RangeBins+rangeBin]
}

// Set is a calibration dataset: named complex matrices parsed from one
// reference measurement file.
type Set struct {
	Path    string
	Vectors map[string]*Vector
}

// Get returns the named vector, or a FormatError naming what is missing.
func (s *Set) Get(name string) (*Vector, error) {
	v, ok := s.Vectors[name]
	if !ok {
		return nil, &FormatError{Path: s.Path, Reason: fmt.Sprintf("missing array %q", name)}
	}
	return v, nil
}

// Pick resolves the vector to use for a session. An empty name selects the
// only vector in a single-array set; sets with several arrays require an
// explicit name.
func (s *Set) Pick(name string) (*Vector, error) {
	if name != "" {
		return s.Get(name)
	}
	if len(s.Vectors) == 1 {
		for _, v := range s.Vectors {
			return v, nil
		}
	}
	return nil, &FormatError{
		Path:   s.Path,
		Reason: fmt.Sprintf("set has %d arrays, an array name is required", len(s.Vectors)),
	}
}

// calibrationFile is the on-disk container: named arrays with explicit
// shape and separate real and imaginary planes.
type calibrationFile struct {
	Arrays map[string]struct {
		Channels  int       `json:"channels"`
		RangeBins int       `json:"range_bins"`
		Re        []float64 `json:"re"`
		Im        []float64 `json:"im"`
	} `json:"arrays"`
}

// Load parses a calibration file and validates every array's declared
// shape against its coefficient planes.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}
	var file calibrationFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, &FormatError{Path: path, Reason: fmt.Sprintf("not valid JSON: %v", err)}
	}
	if len(file.Arrays) == 0 {
		return nil, &FormatError{Path: path, Reason: "no calibration arrays"}
	}
	set := &Set{Path: path, Vectors: make(map[string]*Vector, len(file.Arrays))}
	for name, arr := range file.Arrays {
		if arr.Channels <= 0 {
			return nil, &FormatError{Path: path, Reason: fmt.Sprintf("array %q declares %d channels", name, arr.Channels)}
		}
		bins := arr.RangeBins
		if bins == 0 {
			bins = 1
		}
		want := arr.Channels * bins
		if len(arr.Re) != want || len(arr.Im) != want {
			return nil, &FormatError{
				Path: path,
				Reason: fmt.Sprintf("array %q declares %dx%d but has %d re / %d im values",
					name, arr.Channels, bins, len(arr.Re), len(arr.Im)),
			}
		}
		coeff := make([]complex64, want)
		for i := range coeff {
			coeff[i] = complex(float32(arr.Re[i]), float32(arr.Im[i]))
		}
		set.Vectors[name] = &Vector{
			Name:      name,
			Channels:  arr.Channels,
			RangeBins: bins,
			Coeff:     coeff,
		}
	}
	return set, nil
}

// Identity returns a unit calibration vector for the given channel count.
func Identity(channels int) *Vector {
	coeff := make([]complex64, channels)
	for i := range coeff {
		coeff[i] = 1
	}
	return &Vector{Name: "identity", Channels: channels, RangeBins: 1, Coeff: coeff}
}

// ValidateShape rejects a vector whose shape disagrees with the capture
// before any frame is processed.
func (v *Vector) ValidateShape(channels, samples int) error {
	if v.Channels != channels {
		return &DimensionMismatchError{What: "channel count", Want: v.Channels, Got: channels}
	}
	if v.RangeBins != 1 && v.RangeBins != samples {
		return &DimensionMismatchError{What: "range bin count", Want: v.RangeBins, Got: samples}
	}
	return nil
}
