package capture

import (
	"context"
	"io"

	"github.com/banshee-data/mmwave.capture/internal/cube"
)

// Sequence iterates every frame of a session in capture order. It adapts
// the random-access Reader to the streaming contract the pipeline consumes:
// NextFrame returns io.EOF once the last capture is exhausted. Captures
// with missing idx files are skipped.
type Sequence struct {
	r        *Reader
	captures []int
	pos      int
	frame    int
	frames   int // frame count of the current capture, -1 before first read
}

// NewSequence enumerates the session's captures and positions the sequence
// at the first frame.
func NewSequence(r *Reader) (*Sequence, error) {
	count, missing, err := r.CountCaptures()
	if err != nil {
		return nil, err
	}
	skip := make(map[int]bool, len(missing))
	for _, m := range missing {
		skip[m] = true
	}
	captures := make([]int, 0, count)
	for idx := 0; len(captures) < count; idx++ {
		if skip[idx] {
			continue
		}
		captures = append(captures, idx)
	}
	return &Sequence{r: r, captures: captures, frames: -1}, nil
}

// NextFrame returns the next frame in the session.
func (s *Sequence) NextFrame(ctx context.Context) (*cube.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.pos >= len(s.captures) {
			return nil, io.EOF
		}
		capture := s.captures[s.pos]
		if s.frames < 0 {
			info, err := s.r.CaptureInfo(capture)
			if err != nil {
				return nil, err
			}
			s.frames = info.Frames
		}
		if s.frame >= s.frames {
			s.pos++
			s.frame = 0
			s.frames = -1
			continue
		}
		frame, err := s.r.ReadFrame(capture, s.frame)
		if err != nil {
			return nil, err
		}
		s.frame++
		return frame, nil
	}
}
