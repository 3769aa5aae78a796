package cube

import "fmt"

// Frame is one decoded radar frame: a dense complex tensor indexed by
// [chirp, receive channel, sample]. The chirp axis runs loop-major, so chirp
// index = loop*txSlots + slot for TDM captures. A Frame is immutable once
// decoded; pipeline stages produce fresh values rather than mutating it.
type Frame struct {
	Index     int    // frame index within its capture or stream
	Timestamp uint64 // device timestamp in nanoseconds, zero when unknown

	Chirps   int
	Channels int
	Samples  int

	// Data is laid out [chirp][channel][sample], sample fastest.
	Data []complex64

	// Partial marks a live frame assembled with packet loss. Missing sample
	// ranges are zero-filled; MissingBytes counts the zeroed payload bytes.
	Partial      bool
	MissingBytes int
}

// NewFrame allocates a zeroed frame with the given shape.
func NewFrame(chirps, channels, samples int) *Frame {
	return &Frame{
		Chirps:   chirps,
		Channels: channels,
		Samples:  samples,
		Data:     make([]complex64, chirps*channels*samples),
	}
}

// At returns the sample at [chirp, channel, sample].
func (f *Frame) At(chirp, channel, sample int) complex64 {
	return f.Data[(chirp*f.Channels+channel)*f.Samples+sample]
}

// Set stores v at [chirp, channel, sample].
func (f *Frame) Set(v complex64, chirp, channel, sample int) {
	f.Data[(chirp*f.Channels+channel)*f.Samples+sample] = v
}

// ChirpChannel returns the sample vector for one (chirp, channel) pair as a
// subslice of the backing array.
func (f *Frame) ChirpChannel(chirp, channel int) []complex64 {
	base := (chirp*f.Channels + channel) * f.Samples
	return f.Data[base : base+f.Samples]
}

// ShapeString renders the frame shape for log and error messages.
func (f *Frame) ShapeString() string {
	return fmt.Sprintf("[chirps=%d channels=%d samples=%d]", f.Chirps, f.Channels, f.Samples)
}

// CalibratedFrame is a Frame after per-channel calibration. It shares the
// Frame layout but is always a fresh allocation: calibration never writes
// through to its source.
type CalibratedFrame struct {
	Index     int
	Timestamp uint64

	Chirps   int
	Channels int
	Samples  int

	Data []complex64 // [chirp][channel][sample]

	Partial bool
}

// NewCalibratedFrame allocates a zeroed calibrated frame.
func NewCalibratedFrame(chirps, channels, samples int) *CalibratedFrame {
	return &CalibratedFrame{
		Chirps:   chirps,
		Channels: channels,
		Samples:  samples,
		Data:     make([]complex64, chirps*channels*samples),
	}
}

// At returns the sample at [chirp, channel, sample].
func (f *CalibratedFrame) At(chirp, channel, sample int) complex64 {
	return f.Data[(chirp*f.Channels+channel)*f.Samples+sample]
}

// Set stores v at [chirp, channel, sample].
func (f *CalibratedFrame) Set(v complex64, chirp, channel, sample int) {
	f.Data[(chirp*f.Channels+channel)*f.Samples+sample] = v
}

// ChirpChannel returns the sample vector for one (chirp, channel) pair.
func (f *CalibratedFrame) ChirpChannel(chirp, channel int) []complex64 {
	base := (chirp*f.Channels + channel) * f.Samples
	return f.Data[base : base+f.Samples]
}
