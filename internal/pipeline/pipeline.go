// Package pipeline is the composition root of the processing chain: it
// pulls raw frames from a source, applies calibration, synthesizes the
// TDM-MIMO virtual array and runs the beamform stages. It imports the
// stage packages; none of those packages import pipeline.
package pipeline

import (
	"context"

	"github.com/banshee-data/mmwave.capture/internal/beamform"
	"github.com/banshee-data/mmwave.capture/internal/calibration"
	"github.com/banshee-data/mmwave.capture/internal/config"
	"github.com/banshee-data/mmwave.capture/internal/cube"
	"github.com/banshee-data/mmwave.capture/internal/timeutil"
	"github.com/banshee-data/mmwave.capture/internal/virtualarray"
)

// FrameSource yields decoded raw frames. File readers and the live UDP
// source both satisfy it. NextFrame returns io.EOF when the source is
// exhausted.
type FrameSource interface {
	NextFrame(ctx context.Context) (*cube.Frame, error)
}

// Runtime bundles the per-session dependencies that every processing
// worker shares: validated configuration, antenna layout and the resolved
// calibration vector. Passing a Runtime through constructors makes wiring
// explicit and testing deterministic. All fields are read-only after
// construction.
type Runtime struct {
	Config *config.Config
	Layout *virtualarray.Layout
	Vector *calibration.Vector
	Clock  timeutil.Clock
}

// NewRuntime validates the session wiring up front: the layout geometry
// and the calibration shape are both checked before any frame flows. A nil
// vector selects identity calibration.
func NewRuntime(cfg *config.Config, vec *calibration.Vector) (*Runtime, error) {
	layout, err := virtualarray.FromConfig(cfg.Layout)
	if err != nil {
		return nil, err
	}
	if vec == nil {
		vec = calibration.Identity(cfg.RxChannels())
	}
	if err := vec.ValidateShape(cfg.RxChannels(), cfg.Params.ADCSamples); err != nil {
		return nil, err
	}
	return &Runtime{
		Config: cfg,
		Layout: layout,
		Vector: vec,
		Clock:  timeutil.RealClock{},
	}, nil
}

// Result is one processed frame.
type Result struct {
	FrameIndex int
	Timestamp  uint64
	Partial    bool

	Map *beamform.BeamformMap

	// Power is set when an accumulation window completes on this frame.
	Power *beamform.PowerMap
}

// Worker processes frames one at a time. Each worker owns its FFT plans;
// workers never share scratch state, so frame-parallel callers create one
// Worker per goroutine from the shared Runtime.
type Worker struct {
	rt   *Runtime
	proc *beamform.Processor
}

// NewWorker compiles the beamform stages for this runtime.
func (rt *Runtime) NewWorker() (*Worker, error) {
	proc, err := beamform.NewProcessor(rt.Config, rt.Layout)
	if err != nil {
		return nil, err
	}
	return &Worker{rt: rt, proc: proc}, nil
}

// Process runs one frame through calibration, virtual array synthesis and
// the beamform stages. The input frame is never modified.
func (w *Worker) Process(frame *cube.Frame) (*Result, error) {
	cal, err := calibration.Apply(frame, w.rt.Vector)
	if err != nil {
		return nil, err
	}
	va, err := virtualarray.Build(cal, w.rt.Layout)
	if err != nil {
		return nil, err
	}
	m, err := w.proc.Process(va)
	if err != nil {
		return nil, err
	}
	return &Result{
		FrameIndex: frame.Index,
		Timestamp:  frame.Timestamp,
		Partial:    frame.Partial,
		Map:        m,
	}, nil
}
