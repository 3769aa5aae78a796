// Package live implements the streaming CaptureSource: sequenced UDP
// datagrams are reassembled into fixed-size radar frames with explicit
// loss handling, a bounded per-frame timeout, and a cooperative stop
// signal.
package live

import (
	"encoding/binary"
	"fmt"
)

// Datagram layout: a 12-byte header followed by a payload chunk.
//
//	bytes 0-3   uint32 packet sequence number, monotonically increasing
//	bytes 4-11  uint64 byte offset of the chunk within the stream
//
// Frame boundaries are not marked per packet; they are derived from the
// configured per-frame byte size, so offset/frameBytes identifies the frame
// a chunk belongs to.
const (
	PacketHeaderSize = 12

	// DefaultChunkSize is the payload size the capture card uses for all
	// packets except the last chunk of a frame.
	DefaultChunkSize = 1456
)

// Packet is one parsed datagram.
type Packet struct {
	Sequence uint32
	Offset   uint64
	Payload  []byte
}

// ParsePacket decodes a datagram. The payload is referenced, not copied.
func ParsePacket(b []byte) (Packet, error) {
	if len(b) <= PacketHeaderSize {
		return Packet{}, fmt.Errorf("datagram too short: %d bytes", len(b))
	}
	return Packet{
		Sequence: binary.LittleEndian.Uint32(b[0:4]),
		Offset:   binary.LittleEndian.Uint64(b[4:12]),
		Payload:  b[PacketHeaderSize:],
	}, nil
}

// AppendPacket encodes a datagram, used by the synthetic streamer and tests.
func AppendPacket(b []byte, p Packet) []byte {
	b = binary.LittleEndian.AppendUint32(b, p.Sequence)
	b = binary.LittleEndian.AppendUint64(b, p.Offset)
	return append(b, p.Payload...)
}
