package capture

import (
	"encoding/binary"
	"fmt"
)

// On-disk capture format, as written by TDA2-style capture cards. A capture
// session directory holds one file pair per cascaded device:
//
//	<device>_<NNNN>_data.bin   back-to-back fixed-size frame blocks of
//	                           int16 I/Q interleaved ADC samples
//	<device>_<NNNN>_idx.bin    24-byte header + one 48-byte record per frame
//
// All integer fields are little-endian.

const (
	// IdxHeaderSize is the byte size of the idx file header.
	IdxHeaderSize = 24
	// IdxRecordSize is the byte size of one per-frame idx record.
	IdxRecordSize = 48

	// Int16Size and IQWords describe the sample encoding: each ADC sample is
	// one int16 I word followed by one int16 Q word.
	Int16Size = 2
	IQWords   = 2
)

// IdxHeader is the fixed header at the start of an idx file.
type IdxHeader struct {
	Tag      uint32
	Version  uint32
	Flags    uint32
	NumIdx   uint32 // number of valid frames recorded
	DataSize uint64 // total bytes written to the paired data file
}

// IdxRecord describes one recorded frame.
type IdxRecord struct {
	Tag       uint16
	Version   uint16
	Flags     uint32
	Width     uint16
	Height    uint16
	MetaSize  [4]uint32
	Size      uint32 // frame payload bytes
	Timestamp uint64 // device timestamp, nanoseconds
	Offset    uint64 // byte offset of the frame in the data file
}

// ParseIdxHeader decodes an idx file header.
func ParseIdxHeader(b []byte) (IdxHeader, error) {
	if len(b) < IdxHeaderSize {
		return IdxHeader{}, fmt.Errorf("idx header truncated: %d bytes", len(b))
	}
	return IdxHeader{
		Tag:      binary.LittleEndian.Uint32(b[0:4]),
		Version:  binary.LittleEndian.Uint32(b[4:8]),
		Flags:    binary.LittleEndian.Uint32(b[8:12]),
		NumIdx:   binary.LittleEndian.Uint32(b[12:16]),
		DataSize: binary.LittleEndian.Uint64(b[16:24]),
	}, nil
}

// AppendIdxHeader encodes h into b.
func AppendIdxHeader(b []byte, h IdxHeader) []byte {
	b = binary.LittleEndian.AppendUint32(b, h.Tag)
	b = binary.LittleEndian.AppendUint32(b, h.Version)
	b = binary.LittleEndian.AppendUint32(b, h.Flags)
	b = binary.LittleEndian.AppendUint32(b, h.NumIdx)
	b = binary.LittleEndian.AppendUint64(b, h.DataSize)
	return b
}

// ParseIdxRecord decodes one per-frame record.
func ParseIdxRecord(b []byte) (IdxRecord, error) {
	if len(b) < IdxRecordSize {
		return IdxRecord{}, fmt.Errorf("idx record truncated: %d bytes", len(b))
	}
	var r IdxRecord
	r.Tag = binary.LittleEndian.Uint16(b[0:2])
	r.Version = binary.LittleEndian.Uint16(b[2:4])
	r.Flags = binary.LittleEndian.Uint32(b[4:8])
	r.Width = binary.LittleEndian.Uint16(b[8:10])
	r.Height = binary.LittleEndian.Uint16(b[10:12])
	for i := 0; i < 4; i++ {
		r.MetaSize[i] = binary.LittleEndian.Uint32(b[12+4*i : 16+4*i])
	}
	r.Size = binary.LittleEndian.Uint32(b[28:32])
	r.Timestamp = binary.LittleEndian.Uint64(b[32:40])
	r.Offset = binary.LittleEndian.Uint64(b[40:48])
	return r, nil
}

// AppendIdxRecord encodes r into b.
func AppendIdxRecord(b []byte, r IdxRecord) []byte {
	b = binary.LittleEndian.AppendUint16(b, r.Tag)
	b = binary.LittleEndian.AppendUint16(b, r.Version)
	b = binary.LittleEndian.AppendUint32(b, r.Flags)
	b = binary.LittleEndian.AppendUint16(b, r.Width)
	b = binary.LittleEndian.AppendUint16(b, r.Height)
	for i := 0; i < 4; i++ {
		b = binary.LittleEndian.AppendUint32(b, r.MetaSize[i])
	}
	b = binary.LittleEndian.AppendUint32(b, r.Size)
	b = binary.LittleEndian.AppendUint64(b, r.Timestamp)
	b = binary.LittleEndian.AppendUint64(b, r.Offset)
	return b
}

// Format describes how per-device capture files combine into one logical
// frame. Devices lists the file name prefixes; ChannelBase gives the first
// merged receive channel index contributed by each device.
//
// The default merge order follows the TI 4-chip cascade EVM receive channel
// mapping (TI_Cascade_RX_ID): slave3 provides channels 0-3, master 4-7,
// slave2 8-11 and slave1 12-15. The exact interleave is hardware specific;
// deployments with different wiring override Format rather than patching
// the decoder.
type Format struct {
	Devices     []string
	ChannelBase []int
	RxPerDevice int
}

// DefaultCascadeFormat returns the standard 4-chip cascade file layout.
func DefaultCascadeFormat(rxPerDevice int) Format {
	return Format{
		Devices:     []string{"master", "slave1", "slave2", "slave3"},
		ChannelBase: []int{1 * rxPerDevice, 3 * rxPerDevice, 2 * rxPerDevice, 0},
		RxPerDevice: rxPerDevice,
	}
}

// SingleDeviceFormat returns the layout for a non-cascaded single-chip
// capture.
func SingleDeviceFormat(rxPerDevice int) Format {
	return Format{
		Devices:     []string{"master"},
		ChannelBase: []int{0},
		RxPerDevice: rxPerDevice,
	}
}

// Validate checks internal consistency of the format.
func (f Format) Validate() error {
	if len(f.Devices) == 0 {
		return fmt.Errorf("capture format declares no devices")
	}
	if len(f.Devices) != len(f.ChannelBase) {
		return fmt.Errorf("capture format has %d devices but %d channel bases", len(f.Devices), len(f.ChannelBase))
	}
	if f.RxPerDevice <= 0 {
		return fmt.Errorf("capture format rx per device must be positive, got %d", f.RxPerDevice)
	}
	seen := make(map[int]bool)
	for _, base := range f.ChannelBase {
		if base < 0 || base%f.RxPerDevice != 0 || seen[base] {
			return fmt.Errorf("capture format channel bases must be distinct multiples of %d", f.RxPerDevice)
		}
		seen[base] = true
	}
	return nil
}

// Channels returns the merged receive channel count.
func (f Format) Channels() int { return len(f.Devices) * f.RxPerDevice }

// DataFileName returns the data file name for a device and capture index.
func DataFileName(device string, captureIdx int) string {
	return fmt.Sprintf("%s_%04d_data.bin", device, captureIdx)
}

// IdxFileName returns the idx file name for a device and capture index.
func IdxFileName(device string, captureIdx int) string {
	return fmt.Sprintf("%s_%04d_idx.bin", device, captureIdx)
}
