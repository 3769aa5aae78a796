package live

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/mmwave.capture/internal/capture"
	"github.com/banshee-data/mmwave.capture/internal/cube"
)

// ReplayPCAP reads recorded radar datagrams from a pcap file and runs them
// through the same reassembly and decode path as the live socket, calling
// emit for every frame. Only UDP packets addressed to the given port are
// considered. Replay stops at end of file, on ctx cancellation, or when
// emit returns an error.
func ReplayPCAP(ctx context.Context, path string, port int, decoder *capture.Decoder, policy LossPolicy, emit func(*cube.Frame) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open pcap file %s: %w", path, err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read pcap file %s: %w", path, err)
	}

	asm := NewAssembler(decoder.LiveFrameBytes(), policy)
	source := gopacket.NewPacketSource(reader, reader.LinkType())
	packetCount := 0
	frameCount := 0

	flush := func(ready []AssembledFrame) error {
		for _, af := range ready {
			frame, err := decoder.DecodeLiveFrame(af.Payload)
			if err != nil {
				log.Printf("pcap: dropping frame %d: %v", af.Index, err)
				continue
			}
			frame.Index = int(af.Index)
			frame.Partial = af.Partial
			frame.MissingBytes = af.MissingBytes
			frameCount++
			if err := emit(frame); err != nil {
				return err
			}
		}
		return nil
	}

	for packet := range source.Packets() {
		if err := ctx.Err(); err != nil {
			log.Printf("pcap: replay stopping after %d packets: %v", packetCount, err)
			return err
		}
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || int(udp.DstPort) != port || len(udp.Payload) == 0 {
			continue
		}
		packetCount++
		pkt, err := ParsePacket(udp.Payload)
		if err != nil {
			log.Printf("pcap: bad datagram in packet %d: %v", packetCount, err)
			continue
		}
		if err := flush(asm.Add(pkt)); err != nil {
			return err
		}
	}
	if err := flush(asm.Flush()); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	log.Printf("pcap: replay complete: %d packets, %d frames", packetCount, frameCount)
	return nil
}
