package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/mmwave.capture/internal/beamform"
	"github.com/banshee-data/mmwave.capture/internal/cube"
	"github.com/banshee-data/mmwave.capture/internal/monitoring"
)

// Stats counts frames over one Run.
type Stats struct {
	FramesProcessed uint64
	FramesFailed    uint64
	PartialFrames   uint64
	MapsEmitted     uint64
}

// RunConfig controls one Run.
type RunConfig struct {
	// Workers is the number of parallel processing goroutines. Values
	// below 2 select the sequential path.
	Workers int

	// Emit receives every result. It is always called from a single
	// goroutine. With Workers > 1 results arrive in completion order, not
	// frame order.
	Emit func(*Result) error
}

// progressInterval is how often Run logs throughput.
const progressInterval = 10 * time.Second

// Run drains the source until io.EOF or context cancellation, processing
// every frame and emitting results. Per-frame processing errors are logged
// and counted but do not stop the run; source errors other than io.EOF do.
func (rt *Runtime) Run(ctx context.Context, src FrameSource, rc RunConfig) (Stats, error) {
	if rc.Emit == nil {
		rc.Emit = func(*Result) error { return nil }
	}
	if rc.Workers > 1 {
		return rt.runParallel(ctx, src, rc)
	}
	return rt.runSequential(ctx, src, rc)
}

func (rt *Runtime) runSequential(ctx context.Context, src FrameSource, rc RunConfig) (Stats, error) {
	var stats Stats
	w, err := rt.NewWorker()
	if err != nil {
		return stats, err
	}
	em := rt.newEmitter(rc.Emit)
	lastLog := rt.Clock.Now()

	for {
		frame, err := src.NextFrame(ctx)
		if errors.Is(err, io.EOF) {
			return stats, em.finish(&stats)
		}
		if err != nil {
			em.finish(&stats)
			return stats, err
		}
		rt.processOne(w, frame, em, &stats)

		if rt.Clock.Since(lastLog) >= progressInterval {
			monitoring.Logf("pipeline: processed=%d failed=%d partial=%d",
				stats.FramesProcessed, stats.FramesFailed, stats.PartialFrames)
			lastLog = rt.Clock.Now()
		}
	}
}

func (rt *Runtime) runParallel(ctx context.Context, src FrameSource, rc RunConfig) (Stats, error) {
	var stats Stats

	workers := make([]*Worker, rc.Workers)
	for i := range workers {
		w, err := rt.NewWorker()
		if err != nil {
			return stats, err
		}
		workers[i] = w
	}

	type outcome struct {
		res     *Result
		partial bool
		err     error
	}
	frames := make(chan *cube.Frame, rc.Workers)
	results := make(chan outcome, rc.Workers)

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			for frame := range frames {
				res, err := w.Process(frame)
				results <- outcome{res: res, partial: frame.Partial, err: err}
			}
		}(w)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var srcErr error
	go func() {
		defer close(frames)
		for {
			frame, err := src.NextFrame(ctx)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					srcErr = err
				}
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	em := rt.newEmitter(rc.Emit)
	for out := range results {
		if out.err != nil {
			monitoring.Logf("pipeline: frame failed: %v", out.err)
			stats.FramesFailed++
			continue
		}
		if out.partial {
			stats.PartialFrames++
		}
		stats.FramesProcessed++
		if err := em.emit(out.res, &stats); err != nil {
			return stats, err
		}
	}
	if err := em.finish(&stats); err != nil {
		return stats, err
	}
	return stats, srcErr
}

func (rt *Runtime) processOne(w *Worker, frame *cube.Frame, em *emitter, stats *Stats) {
	res, err := w.Process(frame)
	if err != nil {
		monitoring.Logf("pipeline: frame %d failed: %v", frame.Index, err)
		stats.FramesFailed++
		return
	}
	if frame.Partial {
		stats.PartialFrames++
	}
	stats.FramesProcessed++
	if err := em.emit(res, stats); err != nil {
		monitoring.Logf("pipeline: emit failed: %v", err)
		stats.FramesFailed++
	}
}

// emitter applies the optional accumulation window before handing results
// to the caller. It runs on the single collector goroutine.
type emitter struct {
	emitFn func(*Result) error
	acc    *beamform.Accumulator
}

func (rt *Runtime) newEmitter(fn func(*Result) error) *emitter {
	em := &emitter{emitFn: fn}
	if n := rt.Config.Accumulate; n > 0 {
		em.acc = beamform.NewAccumulator(n)
	}
	return em
}

func (em *emitter) emit(res *Result, stats *Stats) error {
	if em.acc != nil {
		pm, err := em.acc.Add(res.Map)
		if err != nil {
			return err
		}
		res.Power = pm
	}
	stats.MapsEmitted++
	return em.emitFn(res)
}

// finish flushes a partial accumulation window at end of stream.
func (em *emitter) finish(stats *Stats) error {
	if em.acc == nil {
		return nil
	}
	pm := em.acc.Flush()
	if pm == nil {
		return nil
	}
	return em.emitFn(&Result{Power: pm})
}
