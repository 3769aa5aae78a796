// Package config loads and validates the declarative processing
// configuration: radar waveform parameters, device topology, antenna
// layout, and the FFT stage list. Configuration is read once at startup and
// treated as immutable shared state for the lifetime of a session.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// C is the speed of light in m/s, used for range and Doppler resolution.
const C = 299792458.0

// Params describes the chirp waveform used during capture.
type Params struct {
	StartFreq     float64 `json:"start_freq"`         // Hz
	FreqSlope     float64 `json:"freq_slope"`         // Hz/s
	SamplingRate  float64 `json:"freq_sampling_rate"` // samples/s
	IdleTime      float64 `json:"idle_time"`          // s
	RampEndTime   float64 `json:"ramp_end_time"`      // s
	ADCSamples    int     `json:"adc_samples"`
	LoopsPerFrame int     `json:"loops_per_frame"`
}

// Device describes the radar front end topology. Tx and Rx are the channel
// counts enabled on a single chip; Devices is the number of cascaded chips.
type Device struct {
	Tx      int  `json:"tx"`
	Rx      int  `json:"rx"`
	Devices int  `json:"devices"`
	Cascade bool `json:"cascade"`
}

// Layout describes physical antenna positions as half-wavelength grid
// indices, plus the TDM firing order and the duplicate-position policy for
// overlapping virtual antennas.
type Layout struct {
	RxAzimuth   []int  `json:"rx_azimuth"`
	RxElevation []int  `json:"rx_elevation"`
	TxAzimuth   []int  `json:"tx_azimuth"`
	TxElevation []int  `json:"tx_elevation"`
	TDMOrder    []int  `json:"tdm_order,omitempty"` // defaults to declared Tx order
	// DuplicatePolicy selects handling of colliding virtual positions:
	// "keep-first" (default) or "average". Collisions with neither policy
	// declared are a validation error, never silent.
	DuplicatePolicy string `json:"duplicate_policy,omitempty"`
}

// Stage is one declarative FFT stage. Dim names a tensor dimension
// ("sample", "chirp", "virtualantenna"). A zero Length means the input
// extent. Output is "spectrum" (default), "peak", or "sumpower".
type Stage struct {
	Dim    string `json:"dim"`
	Window string `json:"window,omitempty"` // "", "hann", "hamming", "blackman"
	Length int    `json:"length,omitempty"`
	Output string `json:"output,omitempty"`
	Center bool   `json:"center,omitempty"` // FFT-shift so zero frequency is centered
}

// Live holds live-transport connection parameters.
type Live struct {
	Address        string `json:"address"`
	ConnectRetries int    `json:"connect_retries,omitempty"` // bounded; default 3
	FrameTimeoutMS int    `json:"frame_timeout_ms,omitempty"`
	LossPolicy     string `json:"loss_policy,omitempty"` // "zero-fill" (default) or "drop"
}

// Config is the root processing configuration.
type Config struct {
	Params Params  `json:"params"`
	Device Device  `json:"device"`
	Layout Layout  `json:"layout"`
	Stages []Stage `json:"stages"`
	Live   *Live   `json:"live,omitempty"`

	// Accumulate enables non-coherent integration of this many consecutive
	// beamform maps. Zero disables accumulation.
	Accumulate int `json:"accumulate,omitempty"`
}

// Load reads and validates a JSON configuration file.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks structural consistency. It is called at load time so that
// every later stage can assume a well-formed configuration.
func (c *Config) Validate() error {
	p := c.Params
	if p.ADCSamples <= 0 {
		return fmt.Errorf("params.adc_samples must be positive, got %d", p.ADCSamples)
	}
	if p.LoopsPerFrame <= 0 {
		return fmt.Errorf("params.loops_per_frame must be positive, got %d", p.LoopsPerFrame)
	}
	if p.StartFreq <= 0 || p.FreqSlope <= 0 || p.SamplingRate <= 0 {
		return fmt.Errorf("params start_freq, freq_slope and freq_sampling_rate must be positive")
	}
	d := c.Device
	if d.Tx <= 0 || d.Rx <= 0 || d.Devices <= 0 {
		return fmt.Errorf("device tx, rx and devices must be positive, got tx=%d rx=%d devices=%d", d.Tx, d.Rx, d.Devices)
	}
	if err := c.Layout.Validate(c.RxChannels(), c.TxSlots()); err != nil {
		return err
	}
	if len(c.Stages) == 0 {
		return fmt.Errorf("at least one processing stage is required")
	}
	if c.Live != nil {
		if c.Live.Address == "" {
			return fmt.Errorf("live.address is required when live config is present")
		}
		switch c.Live.LossPolicy {
		case "", "zero-fill", "drop":
		default:
			return fmt.Errorf("live.loss_policy must be \"zero-fill\" or \"drop\", got %q", c.Live.LossPolicy)
		}
	}
	if c.Accumulate < 0 {
		return fmt.Errorf("accumulate must be non-negative, got %d", c.Accumulate)
	}
	return nil
}

// Validate checks the layout lists against the configured channel counts.
func (l *Layout) Validate(rxChannels, txSlots int) error {
	if len(l.RxAzimuth) == 0 || len(l.TxAzimuth) == 0 {
		return fmt.Errorf("layout rx_azimuth and tx_azimuth are required")
	}
	if len(l.RxAzimuth) != len(l.RxElevation) {
		return fmt.Errorf("layout rx_azimuth (%d) and rx_elevation (%d) lengths differ", len(l.RxAzimuth), len(l.RxElevation))
	}
	if len(l.TxAzimuth) != len(l.TxElevation) {
		return fmt.Errorf("layout tx_azimuth (%d) and tx_elevation (%d) lengths differ", len(l.TxAzimuth), len(l.TxElevation))
	}
	if len(l.RxAzimuth) != rxChannels {
		return fmt.Errorf("layout declares %d rx antennas but device has %d receive channels", len(l.RxAzimuth), rxChannels)
	}
	if len(l.TxAzimuth) != txSlots {
		return fmt.Errorf("layout declares %d tx antennas but device has %d TDM slots", len(l.TxAzimuth), txSlots)
	}
	for _, v := range append(append([]int{}, l.RxAzimuth...), l.TxAzimuth...) {
		if v < 0 {
			return fmt.Errorf("layout azimuth indices must be non-negative, got %d", v)
		}
	}
	for _, v := range append(append([]int{}, l.RxElevation...), l.TxElevation...) {
		if v < 0 {
			return fmt.Errorf("layout elevation indices must be non-negative, got %d", v)
		}
	}
	if len(l.TDMOrder) > 0 {
		if len(l.TDMOrder) != len(l.TxAzimuth) {
			return fmt.Errorf("layout tdm_order length %d does not match %d tx antennas", len(l.TDMOrder), len(l.TxAzimuth))
		}
		seen := make(map[int]bool, len(l.TDMOrder))
		for _, s := range l.TDMOrder {
			if s < 0 || s >= len(l.TxAzimuth) || seen[s] {
				return fmt.Errorf("layout tdm_order must be a permutation of 0..%d", len(l.TxAzimuth)-1)
			}
			seen[s] = true
		}
	}
	switch l.DuplicatePolicy {
	case "", "keep-first", "average":
	default:
		return fmt.Errorf("layout duplicate_policy must be \"keep-first\" or \"average\", got %q", l.DuplicatePolicy)
	}
	return nil
}

// RxChannels returns the total receive channel count across cascaded chips.
func (c *Config) RxChannels() int { return c.Device.Rx * c.Device.Devices }

// TxSlots returns the number of TDM transmit slots per loop: every enabled
// transmit antenna on every chip fires once per loop.
func (c *Config) TxSlots() int { return c.Device.Tx * c.Device.Devices }

// ChirpsPerFrame returns the chirp count of a decoded frame.
func (c *Config) ChirpsPerFrame() int { return c.Params.LoopsPerFrame * c.TxSlots() }

// RangeResolution returns the range bin spacing in meters for an FFT over
// the full ADC sample extent.
func (c *Config) RangeResolution() float64 {
	return (C * c.Params.SamplingRate) / (2 * c.Params.FreqSlope * float64(c.Params.ADCSamples))
}

// DopplerResolution returns the velocity bin spacing in m/s for an FFT over
// the chirp extent.
func (c *Config) DopplerResolution() float64 {
	chirpTime := c.Params.IdleTime + c.Params.RampEndTime
	return C / (2 * c.Params.StartFreq * chirpTime * float64(c.ChirpsPerFrame()))
}

// Wavelength returns the carrier wavelength in meters.
func (c *Config) Wavelength() float64 { return C / c.Params.StartFreq }

// DeviceFrameBytes returns the per-device byte size of one frame in a
// capture file: int16 I/Q pairs for every (sample, loop, rx, tx slot).
func (c *Config) DeviceFrameBytes() int {
	const int16Size = 2
	const iq = 2
	return iq * int16Size * c.Params.ADCSamples * c.Params.LoopsPerFrame * c.Device.Rx * c.TxSlots()
}
