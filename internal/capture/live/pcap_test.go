package live

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mmwave.capture/internal/cube"
)

const testPort = 4098

// writePCAP records the given radar datagrams as UDP packets to dstPort.
func writePCAP(t *testing.T, path string, dstPort int, datagrams [][]byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{192, 168, 33, 180},
		DstIP:    net.IP{192, 168, 33, 30},
	}
	ts := time.Unix(0, 0)
	for i, dg := range datagrams {
		udp := layers.UDP{SrcPort: 4096, DstPort: layers.UDPPort(dstPort)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(&ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, &eth, &ip, &udp, gopacket.Payload(dg)))

		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
}

func recordedDatagrams(t *testing.T, timestamps []uint64) [][]byte {
	t.Helper()
	dec := testDecoder(t)
	var out [][]byte
	var seq uint32
	for i, ts := range timestamps {
		seq++
		out = append(out, AppendPacket(nil, Packet{
			Sequence: seq,
			Offset:   uint64(i) * uint64(dec.LiveFrameBytes()),
			Payload:  liveFrame(dec, ts),
		}))
	}
	return out
}

func TestReplayPCAP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radar.pcap")
	writePCAP(t, path, testPort, recordedDatagrams(t, []uint64{100, 200, 300}))

	var got []uint64
	err := ReplayPCAP(context.Background(), path, testPort, testDecoder(t), ZeroFill, func(f *cube.Frame) error {
		got = append(got, f.Timestamp)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{100, 200, 300}, got)
}

func TestReplayPCAPIgnoresOtherPorts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radar.pcap")
	writePCAP(t, path, testPort+1, recordedDatagrams(t, []uint64{100}))

	frames := 0
	err := ReplayPCAP(context.Background(), path, testPort, testDecoder(t), ZeroFill, func(*cube.Frame) error {
		frames++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, frames)
}

func TestReplayPCAPMissingFile(t *testing.T) {
	err := ReplayPCAP(context.Background(), filepath.Join(t.TempDir(), "absent.pcap"), testPort, testDecoder(t), ZeroFill, nil)
	assert.Error(t, err)
}

func TestPCAPSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radar.pcap")
	writePCAP(t, path, testPort, recordedDatagrams(t, []uint64{7, 8}))

	src := NewPCAPSource(context.Background(), path, testPort, testDecoder(t), ZeroFill)
	defer src.Close()

	ctx := context.Background()
	f, err := src.NextFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), f.Timestamp)
	f, err = src.NextFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), f.Timestamp)

	_, err = src.NextFrame(ctx)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, src.Close())
}
