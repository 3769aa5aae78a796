// Package recorder writes capture sessions in the same on-disk layout the
// capture reader consumes, and keeps a sqlite index of recorded sessions.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/banshee-data/mmwave.capture/internal/capture"
	"github.com/banshee-data/mmwave.capture/internal/cube"
	"github.com/banshee-data/mmwave.capture/internal/timeutil"
)

// DefaultFramesPerCapture is the number of frames per capture file pair
// before the writer rotates to the next index.
const DefaultFramesPerCapture = 1000

const (
	idxFileTag     = 1
	idxFileVersion = 1
)

// Writer records frames into per-device data/idx file pairs. Each capture
// holds at most framesPerCapture frames; idx files are written when a
// capture rotates and again on Close, so a crashed session loses at most
// the open capture's index.
type Writer struct {
	dir              string
	decoder          *capture.Decoder
	framesPerCapture int
	clock            timeutil.Clock

	mu          sync.Mutex
	captureIdx  int
	files       []*os.File // data files for the open capture, Format.Devices order
	records     []capture.IdxRecord
	dataBytes   uint64
	totalFrames uint64
	closed      bool
}

// NewWriter creates the session directory and an idle writer. The first
// capture's files are created on the first WriteFrame.
func NewWriter(dir string, decoder *capture.Decoder, framesPerCapture int) (*Writer, error) {
	if framesPerCapture <= 0 {
		framesPerCapture = DefaultFramesPerCapture
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &Writer{
		dir:              dir,
		decoder:          decoder,
		framesPerCapture: framesPerCapture,
		captureIdx:       -1,
		clock:            timeutil.RealClock{},
	}, nil
}

// Dir returns the session directory.
func (w *Writer) Dir() string { return w.dir }

// FrameCount returns the number of frames recorded so far.
func (w *Writer) FrameCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalFrames
}

// WriteFrame encodes and appends one frame. A zero frame timestamp is
// replaced with the wall clock.
func (w *Writer) WriteFrame(frame *cube.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("recorder is closed")
	}

	payloads, err := w.decoder.EncodeFrame(frame)
	if err != nil {
		return err
	}

	captureIdx := int(w.totalFrames) / w.framesPerCapture
	if captureIdx != w.captureIdx {
		if err := w.rotateCapture(captureIdx); err != nil {
			return err
		}
	}

	offset := w.dataBytes
	for i, f := range w.files {
		if _, err := f.Write(payloads[i]); err != nil {
			return fmt.Errorf("failed to write frame data: %w", err)
		}
	}

	ts := frame.Timestamp
	if ts == 0 {
		ts = uint64(w.clock.Now().UnixNano())
	}
	devBytes := uint64(w.decoder.DeviceBytes())
	w.records = append(w.records, capture.IdxRecord{
		Tag:       idxFileTag,
		Version:   idxFileVersion,
		Width:     uint16(w.decoder.Samples),
		Height:    uint16(w.decoder.Loops * w.decoder.TxSlots),
		Size:      uint32(devBytes),
		Timestamp: ts,
		Offset:    offset,
	})
	w.dataBytes += devBytes
	w.totalFrames++
	return nil
}

// rotateCapture finalizes the open capture and opens data files for the
// next one.
func (w *Writer) rotateCapture(captureIdx int) error {
	if err := w.finalizeCapture(); err != nil {
		return err
	}
	files := make([]*os.File, len(w.decoder.Format.Devices))
	for i, dev := range w.decoder.Format.Devices {
		path := filepath.Join(w.dir, capture.DataFileName(dev, captureIdx))
		f, err := os.Create(path)
		if err != nil {
			for _, open := range files[:i] {
				open.Close()
			}
			return fmt.Errorf("failed to create data file: %w", err)
		}
		files[i] = f
	}
	w.files = files
	w.captureIdx = captureIdx
	w.records = w.records[:0]
	w.dataBytes = 0
	return nil
}

// finalizeCapture closes the open data files and writes the matching idx
// files.
func (w *Writer) finalizeCapture() error {
	if w.files == nil {
		return nil
	}
	for _, f := range w.files {
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close data file: %w", err)
		}
	}
	buf := capture.AppendIdxHeader(nil, capture.IdxHeader{
		Tag:      idxFileTag,
		Version:  idxFileVersion,
		NumIdx:   uint32(len(w.records)),
		DataSize: w.dataBytes,
	})
	for _, rec := range w.records {
		buf = capture.AppendIdxRecord(buf, rec)
	}
	for _, dev := range w.decoder.Format.Devices {
		path := filepath.Join(w.dir, capture.IdxFileName(dev, w.captureIdx))
		if err := os.WriteFile(path, buf, 0644); err != nil {
			return fmt.Errorf("failed to write idx file: %w", err)
		}
	}
	w.files = nil
	return nil
}

// Close finalizes the open capture. Close is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.finalizeCapture()
}
