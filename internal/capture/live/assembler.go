package live

import (
	"fmt"
	"log"
	"sort"
)

// LossPolicy selects how incomplete frames are surfaced.
type LossPolicy int

const (
	// ZeroFill emits incomplete frames with missing ranges zeroed and the
	// partial flag set.
	ZeroFill LossPolicy = iota
	// Drop discards incomplete frames and continues with the next complete
	// one.
	Drop
)

// ParseLossPolicy maps the configuration string to a LossPolicy.
func ParseLossPolicy(s string) (LossPolicy, error) {
	switch s {
	case "", "zero-fill":
		return ZeroFill, nil
	case "drop":
		return Drop, nil
	}
	return ZeroFill, fmt.Errorf("unknown loss policy %q", s)
}

// AssembledFrame is one reassembled frame payload, ready for decoding.
type AssembledFrame struct {
	Index        int64
	Payload      []byte
	Partial      bool
	MissingBytes int
}

// Stats counts assembler activity since construction.
type Stats struct {
	Packets       uint64
	LatePackets   uint64 // packets for already-finalized frames
	SequenceGaps  uint64
	FramesEmitted uint64
	FramesDropped uint64
}

// span is a half-open received byte range within a frame.
type span struct{ start, end int }

type pendingFrame struct {
	buf   []byte
	spans []span
}

func (p *pendingFrame) received() int {
	n := 0
	for _, s := range p.spans {
		n += s.end - s.start
	}
	return n
}

// addSpan merges [start,end) into the received set.
func (p *pendingFrame) addSpan(start, end int) {
	p.spans = append(p.spans, span{start, end})
	sort.Slice(p.spans, func(i, j int) bool { return p.spans[i].start < p.spans[j].start })
	merged := p.spans[:1]
	for _, s := range p.spans[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			if s.end > last.end {
				last.end = s.end
			}
		} else {
			merged = append(merged, s)
		}
	}
	p.spans = merged
}

// Assembler reorders out-of-order packets into fixed-size frames. Packets
// may arrive in any order within a small window; a frame is finalized when
// all its bytes arrived, when a packet two or more frames ahead proves the
// stream has moved on, or when the pending window overflows.
//
// Assembler is not safe for concurrent use; the owning source serializes
// access.
type Assembler struct {
	frameBytes int
	policy     LossPolicy
	maxPending int

	pending   map[int64]*pendingFrame
	nextEmit  int64 // next frame index to hand out, frames before it are settled
	lastSeq   uint32
	seqValid  bool
	highFrame int64 // highest frame index seen

	ready []AssembledFrame // finalized frames awaiting pickup, ordered

	stats Stats
	debug bool
}

// NewAssembler creates an Assembler for the given per-frame byte size.
func NewAssembler(frameBytes int, policy LossPolicy) *Assembler {
	return &Assembler{
		frameBytes: frameBytes,
		policy:     policy,
		maxPending: 4,
		pending:    map[int64]*pendingFrame{},
	}
}

// SetDebug toggles per-frame completion logging.
func (a *Assembler) SetDebug(enabled bool) { a.debug = enabled }

// Stats returns a snapshot of assembler counters.
func (a *Assembler) Stats() Stats { return a.stats }

// Add ingests one packet and returns any frames that became ready, in frame
// order.
func (a *Assembler) Add(p Packet) []AssembledFrame {
	a.stats.Packets++
	a.trackSequence(p.Sequence)

	// A chunk may straddle a frame boundary; place each piece in its frame.
	offset := p.Offset
	payload := p.Payload
	for len(payload) > 0 {
		start := int(offset % uint64(a.frameBytes))
		n := len(payload)
		if start+n > a.frameBytes {
			n = a.frameBytes - start
		}
		a.place(int64(offset)/int64(a.frameBytes), start, payload[:n])
		offset += uint64(n)
		payload = payload[n:]
	}

	// The stream has moved two frames past the oldest pending frame, or the
	// window overflowed: the straggler window for that frame is over.
	for {
		oldest, ok := a.oldestPending()
		if !ok {
			break
		}
		if a.highFrame >= oldest+2 || len(a.pending) > a.maxPending {
			a.finalizeThrough(oldest)
			continue
		}
		break
	}

	return a.take()
}

// place copies one in-frame chunk and finalizes the frame when complete.
func (a *Assembler) place(frameIdx int64, start int, chunk []byte) {
	if frameIdx < a.nextEmit {
		a.stats.LatePackets++
		return
	}
	if frameIdx > a.highFrame {
		a.highFrame = frameIdx
	}
	pf := a.pending[frameIdx]
	if pf == nil {
		pf = &pendingFrame{buf: make([]byte, a.frameBytes)}
		a.pending[frameIdx] = pf
	}
	copy(pf.buf[start:], chunk)
	pf.addSpan(start, start+len(chunk))
	a.drainComplete()
}

// drainComplete emits consecutively complete frames starting at nextEmit.
// A complete frame behind an incomplete one stays buffered until the older
// frame's straggler window closes.
func (a *Assembler) drainComplete() {
	for {
		pf := a.pending[a.nextEmit]
		if pf == nil || pf.received() != a.frameBytes {
			return
		}
		delete(a.pending, a.nextEmit)
		a.finalizeOne(a.nextEmit, pf)
		a.nextEmit++
	}
}

// Flush finalizes all buffered frames, used when the source drains.
func (a *Assembler) Flush() []AssembledFrame {
	for {
		oldest, ok := a.oldestPending()
		if !ok {
			break
		}
		a.finalizeThrough(oldest)
	}
	return a.take()
}

func (a *Assembler) trackSequence(seq uint32) {
	if a.seqValid && seq > a.lastSeq+1 {
		a.stats.SequenceGaps += uint64(seq - a.lastSeq - 1)
	}
	if !a.seqValid || seq > a.lastSeq {
		a.lastSeq = seq
		a.seqValid = true
	}
}

func (a *Assembler) oldestPending() (int64, bool) {
	var oldest int64
	found := false
	for idx := range a.pending {
		if !found || idx < oldest {
			oldest = idx
			found = true
		}
	}
	return oldest, found
}

// finalizeThrough settles every frame index up to and including idx. Frames
// with no pending buffer were lost entirely and follow the loss policy with
// an all-missing payload.
func (a *Assembler) finalizeThrough(idx int64) {
	if idx < a.nextEmit {
		return
	}
	for i := a.nextEmit; i <= idx; i++ {
		pf := a.pending[i]
		delete(a.pending, i)
		a.finalizeOne(i, pf)
	}
	a.nextEmit = idx + 1
	a.drainComplete()
}

func (a *Assembler) finalizeOne(idx int64, pf *pendingFrame) {
	if pf == nil {
		pf = &pendingFrame{buf: make([]byte, a.frameBytes)}
	}
	missing := a.frameBytes - pf.received()
	if missing > 0 {
		if a.debug {
			log.Printf("live: frame %d incomplete: %d of %d bytes missing", idx, missing, a.frameBytes)
		}
		if a.policy == Drop {
			a.stats.FramesDropped++
			return
		}
	}
	a.stats.FramesEmitted++
	a.ready = append(a.ready, AssembledFrame{
		Index:        idx,
		Payload:      pf.buf,
		Partial:      missing > 0,
		MissingBytes: missing,
	})
}

func (a *Assembler) take() []AssembledFrame {
	out := a.ready
	a.ready = nil
	return out
}
