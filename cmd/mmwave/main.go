// Command mmwave decodes and processes mmWave radar captures: file-backed
// sessions, live UDP streams or recorded pcap traffic, through calibration,
// virtual array synthesis and the configured FFT stages.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/mmwave.capture/internal/calibration"
	"github.com/banshee-data/mmwave.capture/internal/capture"
	"github.com/banshee-data/mmwave.capture/internal/capture/live"
	"github.com/banshee-data/mmwave.capture/internal/config"
	"github.com/banshee-data/mmwave.capture/internal/cube"
	"github.com/banshee-data/mmwave.capture/internal/pipeline"
	"github.com/banshee-data/mmwave.capture/internal/recorder"
	"github.com/banshee-data/mmwave.capture/internal/units"
	"github.com/banshee-data/mmwave.capture/internal/version"
)

var (
	configPath = flag.String("config", "", "Processing config JSON file (required)")
	captureDir = flag.String("dir", "", "Capture session directory to process")
	liveMode   = flag.Bool("live", false, "Stream frames from the live UDP address in the config")
	pcapPath   = flag.String("pcap", "", "Replay radar datagrams from a pcap file")
	pcapPort   = flag.Int("pcap-port", 4098, "UDP destination port of radar datagrams in the pcap")

	calPath  = flag.String("cal", "", "Calibration file")
	calArray = flag.String("cal-array", "", "Calibration array name (defaults to the only array)")

	workers    = flag.Int("workers", 1, "Parallel processing workers")
	speedUnits = flag.String("units", units.MPS, "Speed units for peak readout (mps, mph, kmph)")

	recordDir  = flag.String("record", "", "Record incoming frames to this session directory")
	sessionsDB = flag.String("sessions-db", "sessions.db", "Sqlite session index used with -record")

	showInfo    = flag.Bool("info", false, "Print session metadata and exit (requires -dir)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mmwave %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *configPath == "" {
		log.Fatal("-config is required")
	}
	if !units.IsValidSpeed(*speedUnits) {
		log.Fatalf("invalid -units %q", *speedUnits)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	modes := 0
	for _, set := range []bool{*captureDir != "", *liveMode, *pcapPath != ""} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		log.Fatal("exactly one of -dir, -live or -pcap is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *showInfo {
		if *captureDir == "" {
			log.Fatal("-info requires -dir")
		}
		printInfo(*captureDir, cfg)
		return
	}

	var vec *calibration.Vector
	if *calPath != "" {
		set, err := calibration.Load(*calPath)
		if err != nil {
			log.Fatalf("failed to load calibration: %v", err)
		}
		vec, err = set.Pick(*calArray)
		if err != nil {
			log.Fatalf("failed to resolve calibration array: %v", err)
		}
	}

	rt, err := pipeline.NewRuntime(cfg, vec)
	if err != nil {
		log.Fatalf("failed to build runtime: %v", err)
	}
	log.Printf("session: %s, range res %.3fm, doppler res %.3fm/s",
		rt.Layout, cfg.RangeResolution(), cfg.DopplerResolution())

	src, cleanup, err := openSource(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open frame source: %v", err)
	}
	defer cleanup()

	var rec *recorder.Writer
	if *recordDir != "" {
		dec, err := newDecoder(cfg)
		if err != nil {
			log.Fatalf("failed to build decoder: %v", err)
		}
		rec, err = recorder.NewWriter(*recordDir, dec, 0)
		if err != nil {
			log.Fatalf("failed to open recorder: %v", err)
		}
		defer rec.Close()
		src = &recordingSource{src: src, rec: rec}
	}

	stats, err := rt.Run(ctx, src, pipeline.RunConfig{
		Workers: *workers,
		Emit:    func(res *pipeline.Result) error { reportResult(res, *speedUnits); return nil },
	})
	if err != nil && ctx.Err() == nil {
		log.Fatalf("processing failed after %d frames: %v", stats.FramesProcessed, err)
	}
	log.Printf("done: processed=%d failed=%d partial=%d maps=%d",
		stats.FramesProcessed, stats.FramesFailed, stats.PartialFrames, stats.MapsEmitted)

	if rec != nil {
		if err := rec.Close(); err != nil {
			log.Fatalf("failed to finalize recording: %v", err)
		}
		indexSession(cfg, rec, stats)
	}
}

// newDecoder builds the frame decoder implied by the device topology.
func newDecoder(cfg *config.Config) (*capture.Decoder, error) {
	format := capture.DefaultCascadeFormat(cfg.Device.Rx)
	if !cfg.Device.Cascade {
		format = capture.SingleDeviceFormat(cfg.Device.Rx)
	}
	return capture.NewDecoder(cfg.Params.ADCSamples, cfg.Params.LoopsPerFrame, cfg.TxSlots(), format)
}

// openSource builds the frame source selected on the command line.
func openSource(ctx context.Context, cfg *config.Config) (pipeline.FrameSource, func(), error) {
	switch {
	case *captureDir != "":
		reader, err := capture.Open(*captureDir, cfg)
		if err != nil {
			return nil, nil, err
		}
		seq, err := capture.NewSequence(reader)
		if err != nil {
			return nil, nil, err
		}
		return seq, func() {}, nil

	case *liveMode:
		if cfg.Live == nil {
			return nil, nil, fmt.Errorf("-live requires a live section in the config")
		}
		dec, err := newDecoder(cfg)
		if err != nil {
			return nil, nil, err
		}
		policy, err := live.ParseLossPolicy(cfg.Live.LossPolicy)
		if err != nil {
			return nil, nil, err
		}
		src, err := live.NewSource(live.SourceConfig{
			Address:        cfg.Live.Address,
			Decoder:        dec,
			LossPolicy:     policy,
			FrameTimeout:   time.Duration(cfg.Live.FrameTimeoutMS) * time.Millisecond,
			ConnectRetries: cfg.Live.ConnectRetries,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := src.Start(ctx); err != nil {
			return nil, nil, err
		}
		return src, func() { src.Close() }, nil

	default:
		dec, err := newDecoder(cfg)
		if err != nil {
			return nil, nil, err
		}
		policy := live.ZeroFill
		if cfg.Live != nil {
			if policy, err = live.ParseLossPolicy(cfg.Live.LossPolicy); err != nil {
				return nil, nil, err
			}
		}
		src := live.NewPCAPSource(ctx, *pcapPath, *pcapPort, dec, policy)
		return src, func() { src.Close() }, nil
	}
}

// recordingSource tees frames into the recorder as they flow to the
// pipeline.
type recordingSource struct {
	src pipeline.FrameSource
	rec *recorder.Writer
}

func (r *recordingSource) NextFrame(ctx context.Context) (*cube.Frame, error) {
	frame, err := r.src.NextFrame(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.rec.WriteFrame(frame); err != nil {
		log.Printf("failed to record frame %d: %v", frame.Index, err)
	}
	return frame, nil
}

// reportResult logs the strongest return of each map with physical axis
// coordinates, and the summed power when an accumulation window completes.
func reportResult(res *pipeline.Result, speedUnit string) {
	if res.Map != nil {
		data := res.Map.Data()
		if len(data) == 0 {
			return
		}
		best, bestMag := 0, 0.0
		for i, v := range data {
			mag := float64(real(v))*float64(real(v)) + float64(imag(v))*float64(imag(v))
			if mag > bestMag {
				bestMag = mag
				best = i
			}
		}
		coords := ""
		dims := res.Map.Dims()
		rem := best
		for d := len(dims) - 1; d >= 0; d-- {
			bin := rem % dims[d].Size
			rem /= dims[d].Size
			axis := res.Map.Axes[d]
			value, unit := axis.Values[bin], axis.Unit
			if unit == units.MetersPerSecond {
				value, unit = units.ConvertSpeed(value, speedUnit), speedUnit
			}
			coords = fmt.Sprintf(" %s=%.2f%s", axis.Dim, value, unit) + coords
		}
		log.Printf("frame %d peak%s partial=%v", res.FrameIndex, coords, res.Partial)
	}
	if res.Power != nil {
		total := 0.0
		for _, p := range res.Power.Power {
			total += p
		}
		log.Printf("accumulated %d frames, total power %.1f", res.Power.Frames, total)
	}
}

// printInfo dumps session metadata as JSON.
func printInfo(dir string, cfg *config.Config) {
	reader, err := capture.Open(dir, cfg)
	if err != nil {
		log.Fatalf("failed to open session: %v", err)
	}
	meta, err := reader.Metadata()
	if err != nil {
		log.Fatalf("failed to read session metadata: %v", err)
	}
	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		log.Fatalf("failed to render metadata: %v", err)
	}
	os.Stdout.Write(append(out, '\n'))
}

// indexSession inserts the finished recording into the session index.
func indexSession(cfg *config.Config, rec *recorder.Writer, stats pipeline.Stats) {
	store, err := recorder.OpenSessionStore(*sessionsDB)
	if err != nil {
		log.Printf("failed to open session index: %v", err)
		return
	}
	defer store.Close()

	cfgJSON, _ := json.Marshal(cfg)
	frames := int64(rec.FrameCount())
	captures := (frames + recorder.DefaultFramesPerCapture - 1) / recorder.DefaultFramesPerCapture
	id, err := store.RecordSession(recorder.Session{
		Dir:           rec.Dir(),
		Frames:        frames,
		Captures:      captures,
		PartialFrames: int64(stats.PartialFrames),
		ConfigJSON:    string(cfgJSON),
	})
	if err != nil {
		log.Printf("failed to index session: %v", err)
		return
	}
	log.Printf("recorded session %s: %d frames in %s", id, frames, rec.Dir())
}
