package capture

import (
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/mmwave.capture/internal/cube"
)

// Decoder converts raw int16 I/Q payloads into Frame tensors.
//
// Within one device payload the sample order is column-major over
// [rx, sample, txslot, loop] with rx fastest, matching the capture card's
// write order. The decoder transposes that into the pipeline's
// [chirp, channel, sample] layout, with chirp = loop*txSlots + slot, and
// merges device payloads into the cascade channel order given by Format.
type Decoder struct {
	Samples int
	Loops   int
	TxSlots int
	Format  Format
}

// NewDecoder builds a Decoder and validates its format.
func NewDecoder(samples, loops, txSlots int, format Format) (*Decoder, error) {
	if samples <= 0 || loops <= 0 || txSlots <= 0 {
		return nil, fmt.Errorf("decoder dimensions must be positive: samples=%d loops=%d txslots=%d", samples, loops, txSlots)
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{Samples: samples, Loops: loops, TxSlots: txSlots, Format: format}, nil
}

// DeviceBytes returns the expected byte length of one device's frame payload.
func (d *Decoder) DeviceBytes() int {
	return IQWords * Int16Size * d.Samples * d.Loops * d.Format.RxPerDevice * d.TxSlots
}

// FrameShape returns the chirp, channel and sample extents of decoded frames.
func (d *Decoder) FrameShape() (chirps, channels, samples int) {
	return d.Loops * d.TxSlots, d.Format.Channels(), d.Samples
}

// DecodeFrame merges one payload per device into a Frame. Payloads must be
// in Format.Devices order. The total byte count is validated before any
// reshape; a mismatch yields ErrCorruptFrame.
func (d *Decoder) DecodeFrame(payloads [][]byte) (*cube.Frame, error) {
	if len(payloads) != len(d.Format.Devices) {
		return nil, fmt.Errorf("%w: got %d device payloads, want %d", ErrCorruptFrame, len(payloads), len(d.Format.Devices))
	}
	want := d.DeviceBytes()
	for i, p := range payloads {
		if len(p) != want {
			return nil, fmt.Errorf("%w: device %s payload is %d bytes, want %d",
				ErrCorruptFrame, d.Format.Devices[i], len(p), want)
		}
	}
	chirps, channels, samples := d.FrameShape()
	frame := cube.NewFrame(chirps, channels, samples)
	for i, p := range payloads {
		d.placeDevice(frame, p, d.Format.ChannelBase[i])
	}
	return frame, nil
}

// placeDevice deinterleaves one device payload into frame channels
// [base, base+RxPerDevice).
func (d *Decoder) placeDevice(frame *cube.Frame, payload []byte, base int) {
	rx := d.Format.RxPerDevice
	pos := 0
	// Disk order: loop slowest, then tx slot, then sample, then rx fastest.
	for loop := 0; loop < d.Loops; loop++ {
		for slot := 0; slot < d.TxSlots; slot++ {
			chirp := loop*d.TxSlots + slot
			for sample := 0; sample < d.Samples; sample++ {
				for r := 0; r < rx; r++ {
					i := int16(binary.LittleEndian.Uint16(payload[pos:]))
					q := int16(binary.LittleEndian.Uint16(payload[pos+2:]))
					pos += 4
					frame.Set(complex(float32(i), float32(q)), chirp, base+r, sample)
				}
			}
		}
	}
}

// LiveHeaderSize is the per-frame header prefix on the live stream: the
// capture card emits a 32-byte header (timestamp plus reserved words)
// before the concatenated device payloads.
const LiveHeaderSize = 32

// LiveFrameBytes returns the expected total byte length of one live frame:
// header plus one payload per device.
func (d *Decoder) LiveFrameBytes() int {
	return LiveHeaderSize + d.DeviceBytes()*len(d.Format.Devices)
}

// DecodeLiveFrame splits a reassembled live frame payload into its device
// chunks and decodes them. The byte count is validated first.
func (d *Decoder) DecodeLiveFrame(payload []byte) (*cube.Frame, error) {
	if len(payload) != d.LiveFrameBytes() {
		return nil, fmt.Errorf("%w: live frame is %d bytes, want %d", ErrCorruptFrame, len(payload), d.LiveFrameBytes())
	}
	body := payload[LiveHeaderSize:]
	devBytes := d.DeviceBytes()
	payloads := make([][]byte, len(d.Format.Devices))
	for i := range payloads {
		payloads[i] = body[i*devBytes : (i+1)*devBytes]
	}
	frame, err := d.DecodeFrame(payloads)
	if err != nil {
		return nil, err
	}
	frame.Timestamp = binary.LittleEndian.Uint64(payload[:8])
	return frame, nil
}
