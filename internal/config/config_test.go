package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Params: Params{
			StartFreq:     77e9,
			FreqSlope:     60e12,
			SamplingRate:  10e6,
			IdleTime:      100e-6,
			RampEndTime:   60e-6,
			ADCSamples:    64,
			LoopsPerFrame: 16,
		},
		Device: Device{Tx: 2, Rx: 4, Devices: 1},
		Layout: Layout{
			RxAzimuth:   []int{0, 1, 2, 3},
			RxElevation: []int{0, 0, 0, 0},
			TxAzimuth:   []int{0, 4},
			TxElevation: []int{0, 0},
		},
		Stages: []Stage{{Dim: "sample"}},
	}
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero adc samples", func(c *Config) { c.Params.ADCSamples = 0 }},
		{"zero loops", func(c *Config) { c.Params.LoopsPerFrame = 0 }},
		{"negative slope", func(c *Config) { c.Params.FreqSlope = -1 }},
		{"zero rx", func(c *Config) { c.Device.Rx = 0 }},
		{"no stages", func(c *Config) { c.Stages = nil }},
		{"rx layout too short", func(c *Config) { c.Layout.RxAzimuth = []int{0, 1}; c.Layout.RxElevation = []int{0, 1} }},
		{"rx az/el length mismatch", func(c *Config) { c.Layout.RxElevation = []int{0, 0, 0} }},
		{"tx layout too short", func(c *Config) { c.Layout.TxAzimuth = []int{0}; c.Layout.TxElevation = []int{0} }},
		{"negative azimuth index", func(c *Config) { c.Layout.TxAzimuth = []int{0, -4} }},
		{"tdm order wrong length", func(c *Config) { c.Layout.TDMOrder = []int{0} }},
		{"tdm order repeats", func(c *Config) { c.Layout.TDMOrder = []int{1, 1} }},
		{"tdm order out of range", func(c *Config) { c.Layout.TDMOrder = []int{0, 2} }},
		{"bad duplicate policy", func(c *Config) { c.Layout.DuplicatePolicy = "last" }},
		{"live without address", func(c *Config) { c.Live = &Live{} }},
		{"bad loss policy", func(c *Config) { c.Live = &Live{Address: ":4098", LossPolicy: "ignore"} }},
		{"negative accumulate", func(c *Config) { c.Accumulate = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDerivedQuantities(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, 4, cfg.RxChannels())
	assert.Equal(t, 2, cfg.TxSlots())
	assert.Equal(t, 32, cfg.ChirpsPerFrame())

	// rangeRes = c*fs / (2*slope*N)
	wantRange := (C * 10e6) / (2 * 60e12 * 64)
	assert.InDelta(t, wantRange, cfg.RangeResolution(), 1e-9)

	// dopplerRes = c / (2*f0*Tc*chirps)
	wantDoppler := C / (2 * 77e9 * 160e-6 * 32)
	assert.InDelta(t, wantDoppler, cfg.DopplerResolution(), 1e-9)

	assert.InDelta(t, C/77e9, cfg.Wavelength(), 1e-12)
	if math.Abs(cfg.Wavelength()-0.0038933) > 1e-4 {
		t.Errorf("77GHz wavelength = %f, want about 3.9mm", cfg.Wavelength())
	}

	// 2 IQ int16 words per sample, per loop, rx and slot.
	assert.Equal(t, 4*64*16*4*2, cfg.DeviceFrameBytes())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"params": {
			"start_freq": 77e9, "freq_slope": 60e12, "freq_sampling_rate": 10e6,
			"idle_time": 100e-6, "ramp_end_time": 60e-6,
			"adc_samples": 64, "loops_per_frame": 16
		},
		"device": {"tx": 2, "rx": 4, "devices": 1},
		"layout": {
			"rx_azimuth": [0,1,2,3], "rx_elevation": [0,0,0,0],
			"tx_azimuth": [0,4], "tx_elevation": [0,0]
		},
		"stages": [{"dim": "sample", "window": "hann"}]
	}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Params.ADCSamples)
	assert.Equal(t, "hann", cfg.Stages[0].Window)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("{}"), 0644))
	_, err = Load(bad)
	assert.Error(t, err, "non-json extension must be rejected")

	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"params":{}}`), 0644))
	_, err = Load(invalid)
	assert.Error(t, err)
}
