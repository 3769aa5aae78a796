package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/banshee-data/mmwave.capture/internal/capture"
	"github.com/banshee-data/mmwave.capture/internal/cube"
)

var (
	// ErrConnection reports a transport-level failure after the bounded
	// retry count was exhausted.
	ErrConnection = errors.New("live: connection failed")

	// ErrClosedSource reports use of a source after Close.
	ErrClosedSource = errors.New("live: source closed")
)

// State is the live source lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// UDPSocket abstracts the receive socket so tests can inject fakes, the
// same seam the UDP listener uses elsewhere in this codebase.
type UDPSocket interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	SetReadDeadline(t time.Time) error
	SetReadBuffer(bytes int) error
	Close() error
}

// ListenFunc opens the receive socket. The default binds a real UDP socket.
type ListenFunc func(address string) (UDPSocket, error)

func listenUDP(address string) (UDPSocket, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	return net.ListenUDP("udp", addr)
}

// SourceConfig configures a live Source.
type SourceConfig struct {
	Address        string
	Decoder        *capture.Decoder
	LossPolicy     LossPolicy
	FrameTimeout   time.Duration // NextFrame timeout; default 2s
	ConnectRetries int           // bounded connect attempts; default 3
	RecvBuf        int           // socket receive buffer; default 4MB
	Listen         ListenFunc    // optional, for tests
	Debug          bool
}

// Source is the live streaming CaptureSource. Frames are consumed one-shot
// via NextFrame; the stream ends with io.EOF on timeout, cancellation or
// drain, and the source is single-owner: no two readers share its socket.
type Source struct {
	cfg     SourceConfig
	decoder *capture.Decoder

	mu    sync.Mutex
	state State
	conn  UDPSocket

	frames chan *cube.Frame
	stop   context.CancelFunc
	done   chan struct{}

	// asmMu serializes assembler access between the read loop and Stats.
	asmMu sync.Mutex
	asm   *Assembler
}

// NewSource creates an idle Source. Start must be called before NextFrame.
func NewSource(cfg SourceConfig) (*Source, error) {
	if cfg.Decoder == nil {
		return nil, fmt.Errorf("live: decoder is required")
	}
	if cfg.FrameTimeout == 0 {
		cfg.FrameTimeout = 2 * time.Second
	}
	if cfg.ConnectRetries == 0 {
		cfg.ConnectRetries = 3
	}
	if cfg.RecvBuf == 0 {
		cfg.RecvBuf = 4 << 20
	}
	if cfg.Listen == nil {
		cfg.Listen = listenUDP
	}
	asm := NewAssembler(cfg.Decoder.LiveFrameBytes(), cfg.LossPolicy)
	asm.SetDebug(cfg.Debug)
	return &Source{
		cfg:     cfg,
		decoder: cfg.Decoder,
		state:   StateIdle,
		frames:  make(chan *cube.Frame, 4),
		asm:     asm,
	}, nil
}

// State returns the current lifecycle state.
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Source) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Start connects the source and begins streaming. Connecting retries with
// exponential backoff up to the configured bound, then fails with
// ErrConnection.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		if state == StateClosed {
			return ErrClosedSource
		}
		return fmt.Errorf("live: cannot start from state %s", state)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	var conn UDPSocket
	connect := func() error {
		c, err := s.cfg.Listen(s.cfg.Address)
		if err != nil {
			log.Printf("live: connect to %s failed, retrying: %v", s.cfg.Address, err)
			return err
		}
		conn = c
		return nil
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.cfg.ConnectRetries))
	if err := backoff.Retry(connect, policy); err != nil {
		s.setState(StateClosed)
		return fmt.Errorf("%w: %s: %v", ErrConnection, s.cfg.Address, err)
	}
	if err := conn.SetReadBuffer(s.cfg.RecvBuf); err != nil {
		log.Printf("live: failed to set receive buffer to %d: %v", s.cfg.RecvBuf, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.conn = conn
	s.stop = cancel
	s.state = StateStreaming
	s.done = make(chan struct{})
	s.mu.Unlock()

	log.Printf("live: streaming from %s (frame size %d bytes)", s.cfg.Address, s.decoder.LiveFrameBytes())
	go s.readLoop(runCtx, conn)
	return nil
}

// readLoop receives datagrams until cancellation, then drains buffered
// frames and closes the frame channel.
func (s *Source) readLoop(ctx context.Context, conn UDPSocket) {
	defer close(s.done)
	buffer := make([]byte, PacketHeaderSize+DefaultChunkSize+512)
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		default:
			if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
				log.Printf("live: failed to set read deadline: %v", err)
			}
			n, _, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					s.drain()
					return
				}
				log.Printf("live: UDP read error: %v", err)
				continue
			}
			pkt, err := ParsePacket(buffer[:n])
			if err != nil {
				log.Printf("live: bad datagram: %v", err)
				continue
			}
			s.deliver(s.ingest(pkt))
		}
	}
}

func (s *Source) ingest(pkt Packet) []AssembledFrame {
	s.asmMu.Lock()
	defer s.asmMu.Unlock()
	return s.asm.Add(pkt)
}

// drain flushes the assembler per the Draining state and closes the frame
// channel so NextFrame observes end-of-stream.
func (s *Source) drain() {
	s.mu.Lock()
	if s.state == StateStreaming {
		s.state = StateDraining
	}
	s.mu.Unlock()
	s.asmMu.Lock()
	ready := s.asm.Flush()
	s.asmMu.Unlock()
	s.deliver(ready)
	close(s.frames)
	s.setState(StateClosed)
}

// deliver decodes assembled frames and queues them for NextFrame. A full
// queue drops the oldest pressure point: the new frame is discarded so the
// read loop never blocks behind a slow consumer.
func (s *Source) deliver(ready []AssembledFrame) {
	for _, af := range ready {
		frame, err := s.decoder.DecodeLiveFrame(af.Payload)
		if err != nil {
			log.Printf("live: dropping frame %d: %v", af.Index, err)
			continue
		}
		frame.Index = int(af.Index)
		frame.Partial = af.Partial
		frame.MissingBytes = af.MissingBytes
		select {
		case s.frames <- frame:
		default:
			log.Printf("live: frame queue full, dropping frame %d", af.Index)
		}
	}
}

// NextFrame blocks until a complete frame arrives, the configured timeout
// elapses, or ctx is cancelled. End of stream is reported as io.EOF; the
// caller distinguishes a timed-out live radar from a closed source by the
// source state.
func (s *Source) NextFrame(ctx context.Context) (*cube.Frame, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case StateIdle, StateConnecting:
		return nil, fmt.Errorf("live: source not streaming (state %s)", state)
	case StateClosed:
		// Buffered frames may still be pending after close; fall through to
		// drain them before reporting ErrClosedSource.
	}

	timer := time.NewTimer(s.cfg.FrameTimeout)
	defer timer.Stop()
	select {
	case frame, ok := <-s.frames:
		if !ok {
			if state == StateClosed {
				return nil, ErrClosedSource
			}
			return nil, io.EOF
		}
		return frame, nil
	case <-ctx.Done():
		return nil, io.EOF
	case <-timer.C:
		log.Printf("live: no frame within %v, treating as end of stream", s.cfg.FrameTimeout)
		return nil, io.EOF
	}
}

// Stats returns a snapshot of the assembler counters. Safe to call from any
// goroutine while the read loop is running.
func (s *Source) Stats() Stats {
	s.asmMu.Lock()
	defer s.asmMu.Unlock()
	return s.asm.Stats()
}

// Close stops streaming, drains buffered partial frames per the loss
// policy, and releases the socket. Further NextFrame calls fail with
// ErrClosedSource once the queue is empty. Close is idempotent.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.state == StateClosed && s.conn == nil {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateIdle {
		s.state = StateClosed
		s.mu.Unlock()
		return nil
	}
	stop := s.stop
	conn := s.conn
	s.conn = nil
	done := s.done
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
	return nil
}
