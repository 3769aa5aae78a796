package capture

import (
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/mmwave.capture/internal/cube"
)

// EncodeFrame serializes a frame back into per-device payloads in
// Format.Devices order, the exact inverse of DecodeFrame. Sample components
// are truncated to int16.
func (d *Decoder) EncodeFrame(frame *cube.Frame) ([][]byte, error) {
	chirps, channels, samples := d.FrameShape()
	if frame.Chirps != chirps || frame.Channels != channels || frame.Samples != samples {
		return nil, fmt.Errorf("%w: frame shape %s does not match decoder [chirps=%d channels=%d samples=%d]",
			ErrCorruptFrame, frame.ShapeString(), chirps, channels, samples)
	}
	payloads := make([][]byte, len(d.Format.Devices))
	for i := range payloads {
		payloads[i] = d.encodeDevice(frame, d.Format.ChannelBase[i])
	}
	return payloads, nil
}

// encodeDevice interleaves channels [base, base+RxPerDevice) into the
// capture card's disk order: loop slowest, then tx slot, then sample, then
// rx fastest.
func (d *Decoder) encodeDevice(frame *cube.Frame, base int) []byte {
	rx := d.Format.RxPerDevice
	buf := make([]byte, d.DeviceBytes())
	pos := 0
	for loop := 0; loop < d.Loops; loop++ {
		for slot := 0; slot < d.TxSlots; slot++ {
			chirp := loop*d.TxSlots + slot
			for sample := 0; sample < d.Samples; sample++ {
				for r := 0; r < rx; r++ {
					v := frame.At(chirp, base+r, sample)
					binary.LittleEndian.PutUint16(buf[pos:], uint16(int16(real(v))))
					binary.LittleEndian.PutUint16(buf[pos+2:], uint16(int16(imag(v))))
					pos += 4
				}
			}
		}
	}
	return buf
}

// EncodeLiveFrame wraps the encoded device payloads in the live stream
// framing: a 32-byte header carrying the timestamp, then the concatenated
// payloads.
func (d *Decoder) EncodeLiveFrame(frame *cube.Frame) ([]byte, error) {
	payloads, err := d.EncodeFrame(frame)
	if err != nil {
		return nil, err
	}
	out := make([]byte, LiveHeaderSize, d.LiveFrameBytes())
	binary.LittleEndian.PutUint64(out[:8], frame.Timestamp)
	for _, p := range payloads {
		out = append(out, p...)
	}
	return out, nil
}
