// Command gen-capture writes a synthetic capture session: a complex tone
// with configurable range, Doppler and angle bins, in the same on-disk
// format a capture card produces. Useful for exercising the decode and
// processing chain without hardware.
package main

import (
	"flag"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/banshee-data/mmwave.capture/internal/capture"
	"github.com/banshee-data/mmwave.capture/internal/config"
	"github.com/banshee-data/mmwave.capture/internal/cube"
	"github.com/banshee-data/mmwave.capture/internal/recorder"
)

var (
	configPath = flag.String("config", "", "Processing config JSON file (required)")
	outDir     = flag.String("out", "", "Output session directory (required)")
	frames     = flag.Int("frames", 10, "Number of frames to generate")

	rangeBin   = flag.Float64("range-bin", 12, "Tone frequency in range bins")
	dopplerBin = flag.Float64("doppler-bin", 0, "Tone frequency in Doppler bins")
	sinTheta   = flag.Float64("sin-theta", 0, "Target direction as sin(theta), -1..1")

	amplitude = flag.Float64("amplitude", 500, "Tone amplitude in ADC counts")
	noise     = flag.Float64("noise", 10, "Uniform noise amplitude in ADC counts")
	seed      = flag.Int64("seed", 1, "Noise seed")
)

func main() {
	flag.Parse()
	if *configPath == "" || *outDir == "" {
		log.Fatal("-config and -out are required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	format := capture.DefaultCascadeFormat(cfg.Device.Rx)
	if !cfg.Device.Cascade {
		format = capture.SingleDeviceFormat(cfg.Device.Rx)
	}
	dec, err := capture.NewDecoder(cfg.Params.ADCSamples, cfg.Params.LoopsPerFrame, cfg.TxSlots(), format)
	if err != nil {
		log.Fatalf("failed to build decoder: %v", err)
	}
	w, err := recorder.NewWriter(*outDir, dec, 0)
	if err != nil {
		log.Fatalf("failed to open session writer: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	start := time.Now().UnixNano()
	for n := 0; n < *frames; n++ {
		frame := synthesize(cfg, rng)
		frame.Timestamp = uint64(start + int64(n)*int64(time.Millisecond)*100)
		if err := w.WriteFrame(frame); err != nil {
			log.Fatalf("failed to write frame %d: %v", n, err)
		}
	}
	if err := w.Close(); err != nil {
		log.Fatalf("failed to finalize session: %v", err)
	}
	log.Printf("wrote %d frames to %s", *frames, *outDir)
}

// synthesize builds one frame of a single tone. The range tone advances
// with the sample index, the Doppler tone with the loop index, and the
// spatial phase with the receive channel index on a half-wavelength grid.
func synthesize(cfg *config.Config, rng *rand.Rand) *cube.Frame {
	chirps := cfg.ChirpsPerFrame()
	channels := cfg.RxChannels()
	samples := cfg.Params.ADCSamples
	slots := cfg.TxSlots()

	frame := cube.NewFrame(chirps, channels, samples)
	for chirp := 0; chirp < chirps; chirp++ {
		loop := chirp / slots
		dopplerPhase := 2 * math.Pi * *dopplerBin * float64(loop) / float64(cfg.Params.LoopsPerFrame)
		for ch := 0; ch < channels; ch++ {
			spatialPhase := math.Pi * *sinTheta * float64(ch)
			for s := 0; s < samples; s++ {
				phase := 2*math.Pi**rangeBin*float64(s)/float64(samples) + dopplerPhase + spatialPhase
				re := *amplitude*math.Cos(phase) + *noise*(2*rng.Float64()-1)
				im := *amplitude*math.Sin(phase) + *noise*(2*rng.Float64()-1)
				frame.Set(complex(float32(re), float32(im)), chirp, ch, s)
			}
		}
	}
	return frame
}
