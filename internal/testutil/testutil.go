// Package testutil provides shared test fixtures: a known-good processing
// configuration, synthetic tone frames, and on-disk capture sessions.
package testutil

import (
	"math"
	"testing"

	"github.com/banshee-data/mmwave.capture/internal/capture"
	"github.com/banshee-data/mmwave.capture/internal/config"
	"github.com/banshee-data/mmwave.capture/internal/cube"
	"github.com/banshee-data/mmwave.capture/internal/recorder"
)

// Config returns a valid single-chip 2Tx/4Rx configuration with a
// range/Doppler/angle stage list. Tests mutate the copy freely.
func Config() *config.Config {
	return &config.Config{
		Params: config.Params{
			StartFreq:     77e9,
			FreqSlope:     60e12,
			SamplingRate:  10e6,
			IdleTime:      100e-6,
			RampEndTime:   60e-6,
			ADCSamples:    64,
			LoopsPerFrame: 16,
		},
		Device: config.Device{Tx: 2, Rx: 4, Devices: 1},
		Layout: config.Layout{
			RxAzimuth:   []int{0, 1, 2, 3},
			RxElevation: []int{0, 0, 0, 0},
			TxAzimuth:   []int{0, 4},
			TxElevation: []int{0, 0},
		},
		Stages: []config.Stage{
			{Dim: cube.DimSample, Window: "hann"},
			{Dim: cube.DimChirp, Window: "hann", Center: true},
			{Dim: cube.DimVirtualAntenna, Center: true},
		},
	}
}

// Decoder returns the frame decoder implied by cfg's device topology.
func Decoder(t *testing.T, cfg *config.Config) *capture.Decoder {
	t.Helper()
	format := capture.DefaultCascadeFormat(cfg.Device.Rx)
	if !cfg.Device.Cascade {
		format = capture.SingleDeviceFormat(cfg.Device.Rx)
	}
	dec, err := capture.NewDecoder(cfg.Params.ADCSamples, cfg.Params.LoopsPerFrame, cfg.TxSlots(), format)
	if err != nil {
		t.Fatalf("failed to build decoder: %v", err)
	}
	return dec
}

// ToneFrame builds a frame holding a single complex tone: rangeBin cycles
// across the sample window on every channel of every chirp. Samples are
// whole ADC counts within int16 range so frames survive the capture
// encoding exactly.
func ToneFrame(chirps, channels, samples int, rangeBin float64) *cube.Frame {
	frame := cube.NewFrame(chirps, channels, samples)
	for chirp := 0; chirp < chirps; chirp++ {
		for ch := 0; ch < channels; ch++ {
			for s := 0; s < samples; s++ {
				phase := 2 * math.Pi * rangeBin * float64(s) / float64(samples)
				i := float32(math.Round(500 * math.Cos(phase)))
				q := float32(math.Round(500 * math.Sin(phase)))
				frame.Set(complex(i, q), chirp, ch, s)
			}
		}
	}
	return frame
}

// WriteSession records the given frames into dir as a capture session.
func WriteSession(t *testing.T, dir string, dec *capture.Decoder, frames []*cube.Frame) {
	t.Helper()
	w, err := recorder.NewWriter(dir, dec, 0)
	if err != nil {
		t.Fatalf("failed to open session writer: %v", err)
	}
	for i, frame := range frames {
		if err := w.WriteFrame(frame); err != nil {
			t.Fatalf("failed to write frame %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to finalize session: %v", err)
	}
}
