package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Vendor capture tools emit a `.mmwave.json` file describing the RF
// configuration the radar was flashed with. LoadMMWave extracts the subset
// of that file this pipeline needs, so a recorded session can be processed
// without hand-writing waveform parameters.

type mmwaveFile struct {
	MMWaveDevices []struct {
		RFConfig struct {
			RLProfiles []struct {
				RLProfileCfg struct {
					StartFreqConstGHz     float64 `json:"startFreqConst_GHz"`
					FreqSlopeConstMHzUsec float64 `json:"freqSlopeConst_MHz_usec"`
					DigOutSampleRate      float64 `json:"digOutSampleRate"`
					IdleTimeConstUsec     float64 `json:"idleTimeConst_usec"`
					RampEndTimeUsec       float64 `json:"rampEndTime_usec"`
					NumADCSamples         float64 `json:"numAdcSamples"`
				} `json:"rlProfileCfg_t"`
			} `json:"rlProfiles"`
			RLFrameCfg struct {
				NumLoops float64 `json:"numLoops"`
			} `json:"rlFrameCfg_t"`
			RLChanCfg struct {
				TxChannelEn string  `json:"txChannelEn"`
				RxChannelEn string  `json:"rxChannelEn"`
				Cascading   float64 `json:"cascading"`
			} `json:"rlChanCfg_t"`
		} `json:"rfConfig"`
	} `json:"mmWaveDevices"`
}

// LoadMMWave parses a vendor `.mmwave.json` capture configuration into
// Params and Device values. Layout and stage configuration are not part of
// the vendor file and must still come from the processing config.
func LoadMMWave(path string) (Params, Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, Device{}, fmt.Errorf("failed to read mmwave config: %w", err)
	}
	var f mmwaveFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Params{}, Device{}, fmt.Errorf("failed to parse mmwave config: %w", err)
	}
	if len(f.MMWaveDevices) == 0 {
		return Params{}, Device{}, fmt.Errorf("mmwave config declares no devices")
	}
	rf := f.MMWaveDevices[0].RFConfig
	if len(rf.RLProfiles) == 0 {
		return Params{}, Device{}, fmt.Errorf("mmwave config declares no RF profiles")
	}
	prof := rf.RLProfiles[0].RLProfileCfg

	params := Params{
		StartFreq:     prof.StartFreqConstGHz * 1e9,
		FreqSlope:     prof.FreqSlopeConstMHzUsec * 1e12, // MHz/us -> Hz/s
		SamplingRate:  prof.DigOutSampleRate * 1e3,       // ksps -> sps
		IdleTime:      prof.IdleTimeConstUsec * 1e-6,
		RampEndTime:   prof.RampEndTimeUsec * 1e-6,
		ADCSamples:    int(prof.NumADCSamples),
		LoopsPerFrame: int(rf.RLFrameCfg.NumLoops),
	}

	tx, err := channelCount(rf.RLChanCfg.TxChannelEn)
	if err != nil {
		return Params{}, Device{}, fmt.Errorf("bad txChannelEn: %w", err)
	}
	rx, err := channelCount(rf.RLChanCfg.RxChannelEn)
	if err != nil {
		return Params{}, Device{}, fmt.Errorf("bad rxChannelEn: %w", err)
	}
	dev := Device{
		Tx:      tx,
		Rx:      rx,
		Devices: len(f.MMWaveDevices),
		Cascade: rf.RLChanCfg.Cascading != 0,
	}
	return params, dev, nil
}

// channelCount converts a channel-enable bitmask like "0xF" to an enabled
// channel count. Masks are expected to be contiguous from bit zero.
func channelCount(mask string) (int, error) {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(mask)), "0x")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("cannot parse channel mask %q: %w", mask, err)
	}
	if v == 0 {
		return 0, fmt.Errorf("channel mask %q enables no channels", mask)
	}
	n := math.Log2(float64(v + 1))
	if n != math.Trunc(n) {
		return 0, fmt.Errorf("channel mask %q is not contiguous", mask)
	}
	return int(n), nil
}
