package calibration

import "github.com/banshee-data/mmwave.capture/internal/cube"

// Apply multiplies every channel of frame by its calibration coefficient
// and returns a fresh CalibratedFrame. The source frame is never modified.
// Per-channel vectors broadcast one coefficient across all chirps and
// samples; range-dependent vectors (RangeBins == Samples) apply one
// coefficient per sample position, which only makes physical sense after
// the caller has moved the frame into the range domain.
//
// Apply is a pure function: identical inputs always yield identical
// outputs, and calibration is linear in the coefficient vector.
func Apply(frame *cube.Frame, vec *Vector) (*cube.CalibratedFrame, error) {
	if err := vec.ValidateShape(frame.Channels, frame.Samples); err != nil {
		return nil, err
	}
	out := cube.NewCalibratedFrame(frame.Chirps, frame.Channels, frame.Samples)
	out.Index = frame.Index
	out.Timestamp = frame.Timestamp
	out.Partial = frame.Partial

	for chirp := 0; chirp < frame.Chirps; chirp++ {
		for ch := 0; ch < frame.Channels; ch++ {
			src := frame.ChirpChannel(chirp, ch)
			dst := out.ChirpChannel(chirp, ch)
			if vec.RangeBins == 1 {
				c := vec.At(ch, 0)
				for i, v := range src {
					dst[i] = v * c
				}
			} else {
				for i, v := range src {
					dst[i] = v * vec.At(ch, i)
				}
			}
		}
	}
	return out, nil
}
