package live

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mmwave.capture/internal/capture"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// fakeSocket feeds a fixed set of datagrams to the read loop, then times out.
type fakeSocket struct {
	mu     sync.Mutex
	queue  [][]byte
	closed bool
}

func (f *fakeSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	if len(f.queue) == 0 {
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return 0, nil, timeoutError{}
	}
	d := f.queue[0]
	f.queue = f.queue[1:]
	f.mu.Unlock()
	return copy(b, d), nil, nil
}

func (f *fakeSocket) SetReadDeadline(time.Time) error { return nil }
func (f *fakeSocket) SetReadBuffer(int) error         { return nil }

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func testDecoder(t *testing.T) *capture.Decoder {
	t.Helper()
	dec, err := capture.NewDecoder(2, 1, 1, capture.SingleDeviceFormat(1))
	require.NoError(t, err)
	return dec
}

// liveFrame builds one full live frame payload with the given timestamp.
func liveFrame(dec *capture.Decoder, timestamp uint64) []byte {
	buf := make([]byte, dec.LiveFrameBytes())
	binary.LittleEndian.PutUint64(buf, timestamp)
	for i := capture.LiveHeaderSize; i < len(buf); i++ {
		buf[i] = byte(i)
	}
	return buf
}

func newTestSource(t *testing.T, sock *fakeSocket, cfg SourceConfig) *Source {
	t.Helper()
	cfg.Address = "test:4098"
	cfg.Decoder = testDecoder(t)
	cfg.Listen = func(string) (UDPSocket, error) { return sock, nil }
	src, err := NewSource(cfg)
	require.NoError(t, err)
	return src
}

func TestSourceStreamsFrames(t *testing.T) {
	dec := testDecoder(t)
	sock := &fakeSocket{queue: [][]byte{
		AppendPacket(nil, Packet{Sequence: 1, Offset: 0, Payload: liveFrame(dec, 777)}),
	}}
	src := newTestSource(t, sock, SourceConfig{FrameTimeout: time.Second})
	defer src.Close()

	ctx := context.Background()
	require.NoError(t, src.Start(ctx))
	assert.Equal(t, StateStreaming, src.State())

	frame, err := src.NextFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(777), frame.Timestamp)
	assert.False(t, frame.Partial)
	assert.Equal(t, uint64(1), src.Stats().FramesEmitted)
}

func TestSourceStatsDuringStreaming(t *testing.T) {
	dec := testDecoder(t)
	var queue [][]byte
	var offset uint64
	for i := 0; i < 4; i++ {
		payload := liveFrame(dec, uint64(i+1))
		queue = append(queue, AppendPacket(nil, Packet{Sequence: uint32(i + 1), Offset: offset, Payload: payload}))
		offset += uint64(len(payload))
	}
	src := newTestSource(t, &fakeSocket{queue: queue}, SourceConfig{FrameTimeout: time.Second})
	defer src.Close()

	ctx := context.Background()
	require.NoError(t, src.Start(ctx))

	// Counters are read here while the read loop is still ingesting.
	for src.Stats().FramesEmitted < 4 {
		time.Sleep(time.Millisecond)
	}
	for i := 0; i < 4; i++ {
		frame, err := src.NextFrame(ctx)
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, uint64(i+1), frame.Timestamp)
		assert.False(t, frame.Partial)
	}
	assert.Equal(t, uint64(4), src.Stats().Packets)
	assert.Equal(t, uint64(0), src.Stats().FramesDropped)
}

func TestSourceTimeoutEndsStream(t *testing.T) {
	src := newTestSource(t, &fakeSocket{}, SourceConfig{FrameTimeout: 50 * time.Millisecond})
	defer src.Close()

	ctx := context.Background()
	require.NoError(t, src.Start(ctx))
	_, err := src.NextFrame(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSourceCloseDrainsPartial(t *testing.T) {
	dec := testDecoder(t)
	full := liveFrame(dec, 555)
	sock := &fakeSocket{queue: [][]byte{
		// Only the first half of the frame ever arrives.
		AppendPacket(nil, Packet{Sequence: 1, Offset: 0, Payload: full[:20]}),
	}}
	src := newTestSource(t, sock, SourceConfig{FrameTimeout: time.Second})

	ctx := context.Background()
	require.NoError(t, src.Start(ctx))
	for src.Stats().Packets == 0 {
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, src.Close())
	assert.Equal(t, StateClosed, src.State())

	frame, err := src.NextFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(555), frame.Timestamp)
	assert.True(t, frame.Partial)
	assert.Equal(t, dec.LiveFrameBytes()-20, frame.MissingBytes)

	_, err = src.NextFrame(ctx)
	assert.ErrorIs(t, err, ErrClosedSource)
}

func TestSourceNextFrameBeforeStart(t *testing.T) {
	src := newTestSource(t, &fakeSocket{}, SourceConfig{})
	_, err := src.NextFrame(context.Background())
	assert.Error(t, err)
}

func TestSourceConnectFailure(t *testing.T) {
	dec := testDecoder(t)
	src, err := NewSource(SourceConfig{
		Address:        "test:4098",
		Decoder:        dec,
		ConnectRetries: 1,
		Listen:         func(string) (UDPSocket, error) { return nil, timeoutError{} },
	})
	require.NoError(t, err)
	err = src.Start(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, StateClosed, src.State())
}

func TestSourceCloseIdempotent(t *testing.T) {
	src := newTestSource(t, &fakeSocket{}, SourceConfig{})
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.ErrorIs(t, src.Start(context.Background()), ErrClosedSource)
}
