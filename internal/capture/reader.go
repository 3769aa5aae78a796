package capture

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/mmwave.capture/internal/config"
	"github.com/banshee-data/mmwave.capture/internal/cube"
)

// SampleFormat describes the raw sample encoding of a capture.
type SampleFormat struct {
	BitWidth int  // bits per I or Q word
	Complex  bool // true when samples are I/Q pairs
}

// Metadata describes an opened capture session. It is derived once from the
// session's idx headers and immutable afterwards.
type Metadata struct {
	Captures     int
	FrameCounts  []int // frames per capture, indexed by capture
	Chirps       int
	Channels     int
	Samples      int
	Format       SampleFormat
	MissingIdx   []int // capture indices with missing idx files
}

// CaptureInfo describes a single capture within a session.
type CaptureInfo struct {
	Frames     int
	DataBytes  uint64   // per-device payload bytes recorded
	Timestamps []uint64 // device timestamps per frame, nanoseconds
}

// Reader is a file-backed CaptureSource: it enumerates captures in a
// session directory and provides random access to decoded frames. A Reader
// owns its file handles exclusively; it is safe for concurrent use.
type Reader struct {
	dir     string
	decoder *Decoder

	mu        sync.Mutex
	infoIdx   int // capture index of the cached info, -1 when empty
	infoCache *CaptureInfo
}

// Open binds a Reader to a session directory. It verifies that every device
// has matching data and idx files; a mismatched or empty session fails with
// ErrInvalidCapture.
func Open(dir string, cfg *config.Config) (*Reader, error) {
	format := DefaultCascadeFormat(cfg.Device.Rx)
	if !cfg.Device.Cascade {
		format = SingleDeviceFormat(cfg.Device.Rx)
	}
	decoder, err := NewDecoder(cfg.Params.ADCSamples, cfg.Params.LoopsPerFrame, cfg.TxSlots(), format)
	if err != nil {
		return nil, err
	}
	r := &Reader{dir: dir, decoder: decoder, infoIdx: -1}
	for _, dev := range format.Devices {
		data, err := filepath.Glob(filepath.Join(dir, dev+"_*_data.bin"))
		if err != nil {
			return nil, err
		}
		idx, err := filepath.Glob(filepath.Join(dir, dev+"_*_idx.bin"))
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: no data files for device %q in %s", ErrInvalidCapture, dev, dir)
		}
		if len(data) != len(idx) {
			return nil, fmt.Errorf("%w: device %q has %d data files but %d idx files",
				ErrInvalidCapture, dev, len(data), len(idx))
		}
	}
	return r, nil
}

// Decoder exposes the reader's frame decoder, shared with the live source.
func (r *Reader) Decoder() *Decoder { return r.decoder }

// CountCaptures returns the number of captures recorded in the session and
// the indices of any missing idx files within the observed range.
func (r *Reader) CountCaptures() (int, []int, error) {
	lead := r.decoder.Format.Devices[0]
	paths, err := filepath.Glob(filepath.Join(r.dir, lead+"_*_idx.bin"))
	if err != nil {
		return 0, nil, err
	}
	if len(paths) == 0 {
		return 0, nil, fmt.Errorf("%w: no idx files in %s", ErrInvalidCapture, r.dir)
	}
	indices := make([]int, 0, len(paths))
	for _, p := range paths {
		parts := strings.Split(filepath.Base(p), "_")
		if len(parts) < 3 {
			continue
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		indices = append(indices, n)
	}
	sort.Ints(indices)
	var missing []int
	last := indices[len(indices)-1]
	present := make(map[int]bool, len(indices))
	for _, n := range indices {
		present[n] = true
	}
	for i := 0; i <= last; i++ {
		if !present[i] {
			missing = append(missing, i)
		}
	}
	return len(indices), missing, nil
}

// CaptureInfo reads the lead device's idx file for a capture and returns
// its frame count, recorded byte size and per-frame timestamps. The result
// for the most recent capture index is cached. Malformed headers and
// headers whose frame count disagrees with the recorded byte size fail with
// ErrInvalidCapture.
func (r *Reader) CaptureInfo(captureIdx int) (*CaptureInfo, error) {
	if captureIdx < 0 {
		return nil, fmt.Errorf("%w: negative capture index %d", ErrInvalidCapture, captureIdx)
	}
	r.mu.Lock()
	if r.infoIdx == captureIdx && r.infoCache != nil {
		info := r.infoCache
		r.mu.Unlock()
		return info, nil
	}
	r.mu.Unlock()

	lead := r.decoder.Format.Devices[0]
	path := filepath.Join(r.dir, IdxFileName(lead, captureIdx))
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: capture %d: %v", ErrInvalidCapture, captureIdx, err)
		}
		return nil, err
	}
	header, err := ParseIdxHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: capture %d: %v", ErrInvalidCapture, captureIdx, err)
	}
	devBytes := uint64(r.decoder.DeviceBytes())
	if header.DataSize != uint64(header.NumIdx)*devBytes {
		return nil, fmt.Errorf("%w: capture %d header declares %d frames but %d data bytes (frame size %d)",
			ErrInvalidCapture, captureIdx, header.NumIdx, header.DataSize, devBytes)
	}
	if len(raw) < IdxHeaderSize+int(header.NumIdx)*IdxRecordSize {
		return nil, fmt.Errorf("%w: capture %d idx file truncated: %d bytes for %d records",
			ErrInvalidCapture, captureIdx, len(raw), header.NumIdx)
	}
	info := &CaptureInfo{
		Frames:     int(header.NumIdx),
		DataBytes:  header.DataSize,
		Timestamps: make([]uint64, header.NumIdx),
	}
	for i := 0; i < int(header.NumIdx); i++ {
		rec, err := ParseIdxRecord(raw[IdxHeaderSize+i*IdxRecordSize:])
		if err != nil {
			return nil, fmt.Errorf("%w: capture %d record %d: %v", ErrInvalidCapture, captureIdx, i, err)
		}
		info.Timestamps[i] = rec.Timestamp
	}

	r.mu.Lock()
	r.infoIdx = captureIdx
	r.infoCache = info
	r.mu.Unlock()
	return info, nil
}

// ReadFrame performs random access into a capture and returns the decoded
// frame. A short or oversized read fails with ErrCorruptFrame before any
// tensor reshape.
func (r *Reader) ReadFrame(captureIdx, frameIdx int) (*cube.Frame, error) {
	info, err := r.CaptureInfo(captureIdx)
	if err != nil {
		return nil, err
	}
	if frameIdx < 0 || frameIdx >= info.Frames {
		return nil, fmt.Errorf("%w: frame %d out of range 0-%d in capture %d",
			ErrInvalidCapture, frameIdx, info.Frames-1, captureIdx)
	}
	devBytes := r.decoder.DeviceBytes()
	offset := int64(frameIdx) * int64(devBytes)
	payloads := make([][]byte, len(r.decoder.Format.Devices))
	for i, dev := range r.decoder.Format.Devices {
		path := filepath.Join(r.dir, DataFileName(dev, captureIdx))
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: capture %d device %s: %v", ErrInvalidCapture, captureIdx, dev, err)
		}
		buf := make([]byte, devBytes)
		n, err := f.ReadAt(buf, offset)
		f.Close()
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("%w: capture %d frame %d device %s: %v",
				ErrCorruptFrame, captureIdx, frameIdx, dev, err)
		}
		if n != devBytes {
			return nil, fmt.Errorf("%w: capture %d frame %d device %s: read %d of %d bytes",
				ErrCorruptFrame, captureIdx, frameIdx, dev, n, devBytes)
		}
		payloads[i] = buf
	}
	frame, err := r.decoder.DecodeFrame(payloads)
	if err != nil {
		return nil, err
	}
	frame.Index = frameIdx
	frame.Timestamp = info.Timestamps[frameIdx]
	return frame, nil
}

// Metadata scans all captures and returns the immutable session metadata.
func (r *Reader) Metadata() (*Metadata, error) {
	count, missing, err := r.CountCaptures()
	if err != nil {
		return nil, err
	}
	chirps, channels, samples := r.decoder.FrameShape()
	meta := &Metadata{
		Captures:   count,
		Chirps:     chirps,
		Channels:   channels,
		Samples:    samples,
		Format:     SampleFormat{BitWidth: 16, Complex: true},
		MissingIdx: missing,
	}
	present := make(map[int]bool)
	for _, m := range missing {
		present[m] = true
	}
	idx := 0
	for recorded := 0; recorded < count; idx++ {
		if present[idx] {
			continue
		}
		info, err := r.CaptureInfo(idx)
		if err != nil {
			return nil, err
		}
		meta.FrameCounts = append(meta.FrameCounts, info.Frames)
		recorded++
	}
	return meta, nil
}
