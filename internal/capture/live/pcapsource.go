package live

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/banshee-data/mmwave.capture/internal/capture"
	"github.com/banshee-data/mmwave.capture/internal/cube"
)

// PCAPSource adapts ReplayPCAP to the streaming frame source contract, so
// recorded traffic can drive the pipeline exactly like a live socket.
type PCAPSource struct {
	frames chan *cube.Frame
	done   chan struct{}
	err    error

	cancel context.CancelFunc
	once   sync.Once
}

// NewPCAPSource starts replaying the file in the background. Frames are
// delivered through NextFrame; replay pauses when the consumer falls
// behind.
func NewPCAPSource(ctx context.Context, path string, port int, decoder *capture.Decoder, policy LossPolicy) *PCAPSource {
	ctx, cancel := context.WithCancel(ctx)
	s := &PCAPSource{
		frames: make(chan *cube.Frame, 4),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(s.done)
		err := ReplayPCAP(ctx, path, port, decoder, policy, func(f *cube.Frame) error {
			select {
			case s.frames <- f:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.err = err
		}
		close(s.frames)
	}()
	return s
}

// NextFrame returns the next replayed frame, io.EOF at end of file, or the
// replay error that stopped the stream.
func (s *PCAPSource) NextFrame(ctx context.Context) (*cube.Frame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			if s.err != nil {
				return nil, s.err
			}
			return nil, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the replay and waits for the background goroutine.
func (s *PCAPSource) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}
